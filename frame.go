package mcp2517fd

import "encoding/binary"

// Message object layout in controller SRAM. Transmit objects are a
// 2-word header followed by the payload; receive and TEF objects carry
// an additional timestamp word.
const (
	objIdSIDMask  = 0x7FF
	objIdEIDShift = 11
	objIdEIDMask  = 0x3FFFF

	objFlagDLCMask     = 0xF
	objFlagIDE         = 1 << 4
	objFlagRTR         = 1 << 5
	objFlagBRS         = 1 << 6
	objFlagFDF         = 1 << 7
	objFlagESI         = 1 << 8
	objFlagSeqShift    = 9
	objFlagSeqMask     = 0x7F
	objFlagFilHitShift = 11
	objFlagFilHitMask  = 0x1F

	txObjHeader = 8
	rxObjHeader = 12
	tefObjSize  = 12
)

// dlc2len maps a data length code to the payload length in bytes.
var dlc2len = [16]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// len2dlc returns the smallest code whose length covers n.
func len2dlc(n int) int {
	if n <= 8 {
		return n
	}
	for c := 9; c < 15; c++ {
		if dlc2len[c] >= n {
			return c
		}
	}
	return 15
}

// encodeId packs a CAN identifier into the object's id word. An
// extended identifier is not stored linearly: its low 18 bits form the
// EID field and its upper 11 bits the SID field.
func encodeId(id uint32, extFrame bool) uint32 {
	if extFrame {
		return (id>>18)&objIdSIDMask | (id&objIdEIDMask)<<objIdEIDShift
	}
	return id & objIdSIDMask
}

func decodeId(w uint32, extFrame bool) uint32 {
	if extFrame {
		return (w&objIdSIDMask)<<18 | (w>>objIdEIDShift)&objIdEIDMask
	}
	return w & objIdSIDMask
}

// encodeTxObj writes m into buf as a transmit object tagged with the
// submitting FIFO index and returns the object size, padded to a
// 4-byte boundary as SRAM transfers must be word aligned. The payload
// is clamped to the slot capacity and zero padded up to the DLC length.
func encodeTxObj(buf []byte, m *Msg, fifo, payloadCap int) int {
	n := m.Len
	if n > payloadCap {
		n = payloadCap
	}
	dlc := len2dlc(n)
	if !m.FD() && dlc > 8 {
		dlc = 8
		n = 8
	}
	flags := uint32(dlc) | uint32(fifo&objFlagSeqMask)<<objFlagSeqShift
	if m.ExtFrame() {
		flags |= objFlagIDE
	}
	if m.Flags&RTRMsg != 0 {
		flags |= objFlagRTR
	}
	if m.FD() {
		flags |= objFlagFDF
		if m.Flags&BitRateSwitch != 0 {
			flags |= objFlagBRS
		}
		if m.Flags&ErrStateInd != 0 {
			flags |= objFlagESI
		}
	}
	binary.LittleEndian.PutUint32(buf[0:], encodeId(m.Id, m.ExtFrame()))
	binary.LittleEndian.PutUint32(buf[4:], flags)
	size := txObjHeader + (dlc2len[dlc]+3)&^3
	for i := txObjHeader + n; i < size; i++ {
		buf[i] = 0
	}
	copy(buf[txObjHeader:], m.Data[:n])
	return size
}

// decodeRxObj fills m from a receive object. payloadCap is the physical
// payload capacity of the FIFO slot; the DLC length is clamped to it
// so decoding never reads past the slot.
func decodeRxObj(buf []byte, payloadCap int, m *Msg) {
	idw := binary.LittleEndian.Uint32(buf[0:])
	flags := binary.LittleEndian.Uint32(buf[4:])
	m.Timestamp = binary.LittleEndian.Uint32(buf[8:])

	m.Flags = 0
	if flags&objFlagIDE != 0 {
		m.Flags |= ExtFrame
	}
	if flags&objFlagRTR != 0 {
		m.Flags |= RTRMsg
	}
	if flags&objFlagFDF != 0 {
		m.Flags |= FDFrame
		if flags&objFlagBRS != 0 {
			m.Flags |= BitRateSwitch
		}
		if flags&objFlagESI != 0 {
			m.Flags |= ErrStateInd
		}
	}
	m.Id = decodeId(idw, m.ExtFrame())

	n := dlc2len[flags&objFlagDLCMask]
	if !m.FD() && n > 8 {
		n = 8
	}
	if n > payloadCap {
		n = payloadCap
	}
	m.Len = n
	copy(m.Data[:n], buf[rxObjHeader:])
}

// decodeTefObj extracts the originating FIFO index (the SEQ tag, which
// round-trips unmodified from the transmit object) and the completion
// timestamp from a TEF entry.
func decodeTefObj(buf []byte) (seq int, timestamp uint32) {
	flags := binary.LittleEndian.Uint32(buf[4:])
	return int(flags>>objFlagSeqShift) & objFlagSeqMask,
		binary.LittleEndian.Uint32(buf[8:])
}
