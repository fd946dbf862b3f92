// Package spiproto implements the SPI instruction protocol of the
// MCP2517FD CAN FD controller: 16-bit big-endian command words
// carrying a 4-bit instruction and a 12-bit address, followed by
// register or SRAM data in little-endian byte order.
package spiproto

import (
	"encoding/binary"
	"errors"
	"math/bits"
)

// Conn transfers bytes to and from the controller. With a full-duplex
// transport rx is filled while tx is shifted out; a half-duplex
// implementation may issue two transfers. rx is nil for write-only
// commands. tx and rx may alias the same buffer.
type Conn interface {
	TxRx(tx, rx []byte) error
}

type Proto struct {
	conn Conn
	buf  []byte
}

const (
	instrReset = 0x0 << 12
	instrWrite = 0x2 << 12
	instrRead  = 0x3 << 12

	addrMask = 0x0FFF
)

// maxTransfer is sized for the largest coalesced FIFO read (19 CAN FD
// receive objects of 76 bytes each).
const maxTransfer = 1444

func New(c Conn) *Proto {
	return &Proto{conn: c, buf: make([]byte, 2+maxTransfer)}
}

// Reset issues the 2-byte reset command. It is effective only while
// the controller is in configuration mode.
func (p *Proto) Reset() error {
	return p.runCmd(instrReset, 0, nil, 0)
}

// ReadReg reads a 32-bit register.
func (p *Proto) ReadReg(a Addr) (uint32, error) {
	err := p.runCmd(instrRead, a, nil, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p.buf[2:]), nil
}

// Read reads len(buf) bytes starting at a.
func (p *Proto) Read(a Addr, buf []byte) error {
	err := p.runCmd(instrRead, a, nil, len(buf))
	if err != nil {
		return err
	}
	copy(buf, p.buf[2:])
	return nil
}

// WriteReg writes a 32-bit register.
func (p *Proto) WriteReg(a Addr, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return p.runCmd(instrWrite, a, b[:], 0)
}

// Write writes buf starting at a.
func (p *Proto) Write(a Addr, buf []byte) error {
	return p.runCmd(instrWrite, a, buf, 0)
}

var ErrZeroMask = errors.New("spiproto: zero mask")

// WriteMasked writes the part of v selected by mask, transferring only
// the minimal contiguous byte span covering the mask. The controller
// has no bit-modify instruction, so bits sharing a byte with the mask
// are written from v as well; callers must supply the desired value
// for such bits.
func (p *Proto) WriteMasked(a Addr, v, mask uint32) error {
	if mask == 0 {
		return ErrZeroMask
	}
	first := bits.TrailingZeros32(mask) / 8
	last := (31 - bits.LeadingZeros32(mask)) / 8
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return p.runCmd(instrWrite, a+Addr(first), b[first:last+1], 0)
}

func (p *Proto) runCmd(instr uint16, a Addr, tx []byte, nrx int) error {
	b := p.buf
	cmd := instr | uint16(a)&addrMask
	b[0] = byte(cmd >> 8)
	b[1] = byte(cmd)
	n := 2
	ntx := len(tx)
	if n+ntx > len(b) {
		return errors.New("spiproto: tx data does not fit into msg buffer")
	}
	if ntx != 0 {
		copy(b[n:], tx)
	}
	n += ntx
	if nzero := nrx - ntx; nzero > 0 {
		if n+nzero > len(b) {
			return errors.New("spiproto: rx data does not fit into msg buffer")
		}
		for i := 0; i < nzero; i++ {
			b[n+i] = 0
		}
		n += nzero
	}
	b = b[:n]
	brx := b
	if nrx == 0 {
		brx = nil
	}
	return p.conn.TxRx(b, brx)
}
