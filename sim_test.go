package mcp2517fd

import (
	"encoding/binary"
	"sync"

	"github.com/knieriem/mcp2517fd/spiproto"
)

// chipSim emulates the controller's register model closely enough for
// the configuration, transmit and drain paths: instruction decoding,
// the CON mode handshake, hardware FIFO address assignment, UINC side
// effects, and interrupt flag maintenance. Bus events are injected by
// the tests through raiseRx, completeTx and raiseOverflow.
type chipSim struct {
	mu  sync.Mutex
	mem [0x1000]byte

	ramReads int // read commands targeting the SRAM window
	resets   int

	laidOut    bool
	tefBase    int // SRAM offset of the TEF ring
	tefSize    int
	tefWr      int // sim-side TEF write cursor, offset into the ring
	tefPending int
}

var plsizeLen = [8]int{8, 12, 16, 20, 24, 32, 48, 64}

func newChipSim() *chipSim {
	c := new(chipSim)
	c.reset()
	return c
}

func (c *chipSim) reg32(a spiproto.Addr) uint32 {
	return binary.LittleEndian.Uint32(c.mem[a:])
}

func (c *chipSim) setReg32(a spiproto.Addr, v uint32) {
	binary.LittleEndian.PutUint32(c.mem[a:], v)
}

func (c *chipSim) reset() {
	for i := range c.mem {
		c.mem[i] = 0
	}
	c.setReg32(spiproto.RegCON, uint32(spiproto.ConDefault))
	c.laidOut = false
	c.tefWr = 0
	c.tefPending = 0
	c.resets++
}

// peek32 reads a register from test code while the device worker may
// be running.
func (c *chipSim) peek32(a spiproto.Addr) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg32(a)
}

func (c *chipSim) TxRx(tx, rx []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := uint16(tx[0])<<8 | uint16(tx[1])
	instr := cmd >> 12
	addr := int(cmd & 0xFFF)
	switch instr {
	case 0x0:
		c.reset()
	case 0x3:
		if rx != nil {
			copy(rx[2:], c.mem[addr:])
		}
		if addr >= int(spiproto.RAMBase) {
			c.ramReads++
		}
	case 0x2:
		n := copy(c.mem[addr:], tx[2:])
		c.afterWrite(addr, n)
	}
	return nil
}

func (c *chipSim) touched(addr, n, b int) bool {
	return b >= addr && b < addr+n
}

func (c *chipSim) afterWrite(addr, n int) {
	// CON: requested mode takes effect immediately.
	if c.touched(addr, n, 3) {
		reqop := c.mem[3] & 7
		c.mem[2] = c.mem[2]&^0xE0 | reqop<<5
		if reqop != byte(spiproto.ModeConfig) && !c.laidOut {
			c.layoutAddresses()
		}
	}

	// FIFOCON byte 1 carries the self-clearing UINC/TXREQ bits.
	for i := 1; i <= 31; i++ {
		b1 := int(spiproto.RegFIFOCON(i)) + 1
		if !c.touched(addr, n, b1) {
			continue
		}
		v := c.mem[b1]
		if v&1 == 0 { // UINC
			continue
		}
		c.mem[b1] &^= 1
		txen := c.mem[b1-1]&0x80 != 0
		if txen {
			if v&2 != 0 { // TXREQ
				c.setReg32(spiproto.RegTXREQ, c.reg32(spiproto.RegTXREQ)|1<<i)
			}
		} else {
			// rx tail advance empties the single-slot FIFO
			rxif := c.reg32(spiproto.RegRXIF) &^ (1 << i)
			c.setReg32(spiproto.RegRXIF, rxif)
			if rxif == 0 {
				c.mem[0x1C] &^= byte(spiproto.RXIF)
			}
		}
	}

	// TEFCON UINC
	if c.touched(addr, n, int(spiproto.RegTEFCON)+1) && c.mem[int(spiproto.RegTEFCON)+1]&1 != 0 {
		c.mem[int(spiproto.RegTEFCON)+1] &^= 1
		if c.tefPending > 0 {
			c.tefPending--
		}
		if c.tefPending == 0 {
			c.mem[0x1C] &^= byte(spiproto.TEFIF)
		}
	}

	// FIFOSTA byte 0: overflow flag cleared by writing 0.
	for i := 1; i <= 31; i++ {
		b0 := int(spiproto.RegFIFOSTA(i))
		if !c.touched(addr, n, b0) {
			continue
		}
		if c.mem[b0]&byte(spiproto.FIFOStaRxOvIF) == 0 {
			ov := c.reg32(spiproto.RegRXOVIF) &^ (1 << i)
			c.setReg32(spiproto.RegRXOVIF, ov)
			if ov == 0 {
				c.mem[0x1D] &^= byte(spiproto.RXOVIF >> 8)
			}
		}
	}
}

// layoutAddresses assigns SRAM addresses the way hardware does when
// leaving configuration mode: TEF first, then FIFOs in index order.
func (c *chipSim) layoutAddresses() {
	off := 0
	entries := int(c.mem[int(spiproto.RegTEFCON)+3]&0x1F) + 1
	c.tefBase = off
	c.tefSize = entries * tefObjSize
	c.setReg32(spiproto.RegTEFUA, uint32(off))
	off += c.tefSize

	for i := 1; i <= 31; i++ {
		con := c.reg32(spiproto.RegFIFOCON(i))
		if con == 0 {
			continue
		}
		plsize := plsizeLen[con>>29&7]
		slots := int(con>>24&0x1F) + 1
		size := plsize + rxObjHeader
		if con&uint32(spiproto.FIFOTxEn) != 0 {
			size = plsize + txObjHeader
		}
		c.setReg32(spiproto.RegFIFOUA(i), uint32(off))
		off += slots * size
	}
	c.laidOut = true
}

// raiseRx places a receive object at the FIFO's SRAM address and
// raises the pending bits.
func (c *chipSim) raiseRx(addr spiproto.Addr, fifo int, obj []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copy(c.mem[addr:], obj)
	c.setReg32(spiproto.RegRXIF, c.reg32(spiproto.RegRXIF)|1<<fifo)
	c.mem[0x1C] |= byte(spiproto.RXIF)
}

// completeTx simulates a finished transmission: the TXREQ bit drops
// and a TEF entry tagged with the FIFO index is appended.
func (c *chipSim) completeTx(fifo int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setReg32(spiproto.RegTXREQ, c.reg32(spiproto.RegTXREQ)&^(1<<fifo))
	con := int(spiproto.RegFIFOCON(fifo))
	c.mem[con+1] &^= 2

	base := int(spiproto.RAMBase) + c.tefBase + c.tefWr
	binary.LittleEndian.PutUint32(c.mem[base:], 0)
	binary.LittleEndian.PutUint32(c.mem[base+4:], uint32(fifo)<<objFlagSeqShift)
	binary.LittleEndian.PutUint32(c.mem[base+8:], 0xBEEF)
	c.tefWr += tefObjSize
	if c.tefWr >= c.tefSize {
		c.tefWr = 0
	}
	c.tefPending++
	c.mem[0x1C] |= byte(spiproto.TEFIF)
}

// raiseOverflow marks a receive FIFO overflown.
func (c *chipSim) raiseOverflow(fifo int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem[int(spiproto.RegFIFOSTA(fifo))] |= byte(spiproto.FIFOStaRxOvIF)
	c.setReg32(spiproto.RegRXOVIF, c.reg32(spiproto.RegRXOVIF)|1<<fifo)
	c.mem[0x1D] |= byte(spiproto.RXOVIF >> 8)
}
