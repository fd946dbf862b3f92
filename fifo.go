package mcp2517fd

import (
	"fmt"

	"github.com/knieriem/mcp2517fd/spiproto"
)

// FIFO index space. Index 0 is the hardware TXQ and stays unused;
// indices 1..txFIFOCount are single-slot transmit FIFOs with the TEF
// recording their completions; the remaining indices hold single-slot
// receive FIFOs, as many as fit the message SRAM.
const (
	txFIFOCount = 7
	firstTxFIFO = 1
	lastTxFIFO  = txFIFOCount
	firstRxFIFO = txFIFOCount + 1
	maxFIFO     = 31

	tefEntries = txFIFOCount + 1
)

// fifoTable is the computed FIFO partition. Base addresses are
// assigned by hardware and read back during configuration.
type fifoTable struct {
	payloadCap int
	txObjSize  int
	rxObjSize  int
	rxCount    int

	txMask uint32
	rxMask uint32

	addr     [maxFIFO + 1]spiproto.Addr
	tefStart spiproto.Addr
	tefEnd   spiproto.Addr
}

// newFIFOTable partitions the FIFO index space for the negotiated MTU
// mode: 8-byte payloads in classic mode, 64-byte in FD mode. Receive
// FIFOs fill the SRAM remaining after the TEF ring and the transmit
// FIFOs.
func newFIFOTable(fd bool) *fifoTable {
	t := &fifoTable{payloadCap: 8}
	if fd {
		t.payloadCap = 64
	}
	t.txObjSize = txObjHeader + t.payloadCap
	t.rxObjSize = rxObjHeader + t.payloadCap

	avail := spiproto.RAMSize - tefEntries*tefObjSize - txFIFOCount*t.txObjSize
	n := avail / t.rxObjSize
	if n > maxFIFO-txFIFOCount {
		n = maxFIFO - txFIFOCount
	}
	t.rxCount = n

	for i := firstTxFIFO; i <= lastTxFIFO; i++ {
		t.txMask |= 1 << i
	}
	for i := firstRxFIFO; i < firstRxFIFO+n; i++ {
		t.rxMask |= 1 << i
	}
	return t
}

func (t *fifoTable) isRx(i int) bool { return t.rxMask&(1<<i) != 0 }

// lastRxFIFO returns the highest configured receive FIFO index.
func (t *fifoTable) lastRxFIFO() int { return firstRxFIFO + t.rxCount - 1 }

// program writes the TEF, FIFO and filter control registers. The
// controller must be in configuration mode. Filters exist only to
// route: one match-all filter per receive FIFO directs traffic into
// it.
func (t *fifoTable) program(p *spiproto.Proto) error {
	if err := p.WriteReg(spiproto.RegTEFCON, uint32(spiproto.TEFCon(tefEntries))); err != nil {
		return err
	}
	for i := firstTxFIFO; i <= lastTxFIFO; i++ {
		con := spiproto.TxFIFOCon(i, t.payloadCap)
		if err := p.WriteReg(spiproto.RegFIFOCON(i), uint32(con)); err != nil {
			return err
		}
	}
	for i := firstRxFIFO; i <= t.lastRxFIFO(); i++ {
		con := spiproto.RxFIFOCon(t.payloadCap)
		if err := p.WriteReg(spiproto.RegFIFOCON(i), uint32(con)); err != nil {
			return err
		}
		if err := p.WriteReg(spiproto.RegFLTOBJ(i), 0); err != nil {
			return err
		}
		if err := p.WriteReg(spiproto.RegFLTMASK(i), 0); err != nil {
			return err
		}
		if err := p.Write(spiproto.RegFLTCON(i), []byte{spiproto.FltEnable(i)}); err != nil {
			return err
		}
	}
	return nil
}

// readAddresses reads the hardware-assigned FIFO base addresses. The
// controller reports live addresses only outside configuration mode;
// the caller is responsible for the transient mode switch surrounding
// this call.
func (t *fifoTable) readAddresses(p *spiproto.Proto) error {
	ua, err := p.ReadReg(spiproto.RegTEFUA)
	if err != nil {
		return err
	}
	t.tefStart = spiproto.RAMBase + spiproto.Addr(ua)
	t.tefEnd = t.tefStart + tefEntries*tefObjSize

	for i := firstTxFIFO; i <= t.lastRxFIFO(); i++ {
		ua, err := p.ReadReg(spiproto.RegFIFOUA(i))
		if err != nil {
			return err
		}
		t.addr[i] = spiproto.RAMBase + spiproto.Addr(ua)
	}

	// Coalesced receive reads span whole runs of FIFO indices, which
	// is only sound if single-slot receive FIFOs sit back to back.
	for i := firstRxFIFO; i < t.lastRxFIFO(); i++ {
		if t.addr[i+1] != t.addr[i]+spiproto.Addr(t.rxObjSize) {
			return fmt.Errorf("mcp2517fd: rx fifo %d not contiguous (0x%03x, 0x%03x)",
				i+1, t.addr[i], t.addr[i+1])
		}
	}
	return nil
}
