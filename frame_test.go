package mcp2517fd

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// rxObjFromTx rebuilds a receive object from a transmit object, the
// way an internal loopback would: same id and flag layout, with a
// timestamp word spliced in between header and payload.
func rxObjFromTx(tx []byte) []byte {
	rx := make([]byte, len(tx)+4)
	copy(rx, tx[:8])
	binary.LittleEndian.PutUint32(rx[8:], 0x1234)
	copy(rx[12:], tx[8:])
	return rx
}

func TestClassicRoundtrip(t *testing.T) {
	var buf [txObjHeader + 64]byte
	for n := 0; n <= 8; n++ {
		m := Msg{Id: 0x123, Len: n}
		for i := 0; i < n; i++ {
			m.Data[i] = byte(0xA0 + i)
		}
		size := encodeTxObj(buf[:], &m, 3, 8)
		if size != txObjHeader+(n+3)&^3 {
			t.Fatalf("len %d: obj size = %d", n, size)
		}
		var got Msg
		decodeRxObj(rxObjFromTx(buf[:size]), 8, &got)
		if got.Id != m.Id || got.Len != n || got.Flags != 0 {
			t.Fatalf("len %d: got %+v want %+v", n, got, m)
		}
		if !bytes.Equal(got.Data[:n], m.Data[:n]) {
			t.Fatalf("len %d: payload mismatch", n)
		}
	}
}

func TestFDRoundtripDLCBoundaries(t *testing.T) {
	// lengths exactly representable round-trip unchanged; others snap
	// up to the next code with zero padding
	cases := []struct{ in, want int }{
		{0, 0}, {8, 8}, {9, 12}, {12, 12}, {13, 16}, {16, 16},
		{20, 20}, {24, 24}, {25, 32}, {32, 32}, {33, 48}, {48, 48},
		{49, 64}, {64, 64},
	}
	var buf [txObjHeader + 64]byte
	for _, tc := range cases {
		m := Msg{Id: 0x456, Flags: FDFrame | BitRateSwitch, Len: tc.in}
		for i := 0; i < tc.in; i++ {
			m.Data[i] = byte(i + 1)
		}
		size := encodeTxObj(buf[:], &m, 5, 64)
		var got Msg
		decodeRxObj(rxObjFromTx(buf[:size]), 64, &got)
		if got.Len != tc.want {
			t.Fatalf("len %d: decoded len = %d, want %d", tc.in, got.Len, tc.want)
		}
		if !bytes.Equal(got.Data[:tc.in], m.Data[:tc.in]) {
			t.Fatalf("len %d: payload mismatch", tc.in)
		}
		for i := tc.in; i < tc.want; i++ {
			if got.Data[i] != 0 {
				t.Fatalf("len %d: padding byte %d = %#x, want 0", tc.in, i, got.Data[i])
			}
		}
		if got.Flags != FDFrame|BitRateSwitch {
			t.Fatalf("len %d: flags = %#x", tc.in, got.Flags)
		}
	}
}

func TestExtendedIdSplit(t *testing.T) {
	var buf [txObjHeader + 64]byte
	m := Msg{Id: 0x1FFFFFFF, Flags: ExtFrame}
	encodeTxObj(buf[:], &m, 1, 8)

	idw := binary.LittleEndian.Uint32(buf[0:])
	if sid := idw & 0x7FF; sid != 0x7FF {
		t.Fatalf("SID = %#x, want 0x7FF", sid)
	}
	if eid := idw >> 11 & 0x3FFFF; eid != 0x3FFFF {
		t.Fatalf("EID = %#x, want 0x3FFFF", eid)
	}
	var got Msg
	decodeRxObj(rxObjFromTx(buf[:16]), 8, &got)
	if got.Id != 0x1FFFFFFF || !got.ExtFrame() {
		t.Fatalf("got id %#x flags %#x", got.Id, got.Flags)
	}

	// the split is not a plain concatenation
	m = Msg{Id: 0x12345678 & maxExtId, Flags: ExtFrame}
	encodeTxObj(buf[:], &m, 1, 8)
	idw = binary.LittleEndian.Uint32(buf[0:])
	if sid := idw & 0x7FF; sid != m.Id>>18 {
		t.Fatalf("SID = %#x, want %#x", sid, m.Id>>18)
	}
	if eid := idw >> 11 & 0x3FFFF; eid != m.Id&0x3FFFF {
		t.Fatalf("EID = %#x, want %#x", eid, m.Id&0x3FFFF)
	}
}

func TestStandardIdNeverExtended(t *testing.T) {
	var buf [txObjHeader + 64]byte
	for _, id := range []uint32{0x000, 0x001, 0x400, 0x7FF} {
		m := Msg{Id: id}
		encodeTxObj(buf[:], &m, 1, 8)
		flags := binary.LittleEndian.Uint32(buf[4:])
		if flags&objFlagIDE != 0 {
			t.Fatalf("id %#x: IDE set", id)
		}
		var got Msg
		decodeRxObj(rxObjFromTx(buf[:16]), 8, &got)
		if got.ExtFrame() || got.Id != id {
			t.Fatalf("id %#x: got %#x flags %#x", id, got.Id, got.Flags)
		}
	}
}

func TestClassicNeverFDF(t *testing.T) {
	var buf [txObjHeader + 64]byte
	m := Msg{Id: 1, Len: 8}
	encodeTxObj(buf[:], &m, 1, 8)
	if flags := binary.LittleEndian.Uint32(buf[4:]); flags&objFlagFDF != 0 {
		t.Fatal("classic frame encoded with FDF")
	}
}

func TestClassicDLCClamp(t *testing.T) {
	// a classic object carrying DLC 15 yields 8 data bytes, and the
	// decode must not read past the slot's physical capacity
	var obj [20]byte
	binary.LittleEndian.PutUint32(obj[0:], 0x100)
	binary.LittleEndian.PutUint32(obj[4:], 15) // DLC only, no FDF
	var m Msg
	decodeRxObj(obj[:], 8, &m)
	if m.Len != 8 {
		t.Fatalf("len = %d, want 8", m.Len)
	}
}

func TestSeqRoundtrip(t *testing.T) {
	var buf [txObjHeader + 64]byte
	for _, fifo := range []int{firstTxFIFO, 5, lastTxFIFO} {
		m := Msg{Id: 0x42, Len: 1}
		encodeTxObj(buf[:], &m, fifo, 8)

		// a TEF entry mirrors the tx object header plus timestamp
		var tef [tefObjSize]byte
		copy(tef[:], buf[:8])
		seq, _ := decodeTefObj(tef[:])
		if seq != fifo {
			t.Fatalf("seq = %d, want %d", seq, fifo)
		}
	}
}

func TestLen2Dlc(t *testing.T) {
	for dlc, l := range dlc2len {
		if got := len2dlc(l); got != dlc {
			t.Fatalf("len2dlc(%d) = %d, want %d", l, got, dlc)
		}
	}
}
