package mcp2517fd

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/knieriem/mcp2517fd/spiproto"
)

// statusBlock is the consolidated interrupt status, fetched with a
// single contiguous read of INT through TREC.
type statusBlock struct {
	intf   spiproto.IntFlags
	rxif   uint32
	txif   uint32
	rxovif uint32
	txatif uint32
	txreq  uint32
	trec   spiproto.TRec
}

const statusBlockSize = 28

func (d *Dev) readStatus() (statusBlock, error) {
	var b [statusBlockSize]byte
	if err := d.p.Read(spiproto.RegINT, b[:]); err != nil {
		return statusBlock{}, err
	}
	le := binary.LittleEndian
	return statusBlock{
		intf:   spiproto.IntFlags(le.Uint32(b[0:])),
		rxif:   le.Uint32(b[4:]),
		txif:   le.Uint32(b[8:]),
		rxovif: le.Uint32(b[12:]),
		txatif: le.Uint32(b[16:]),
		txreq:  le.Uint32(b[20:]),
		trec:   spiproto.TRec(le.Uint32(b[24:])),
	}, nil
}

// poll services interrupt conditions until no enabled condition
// remains pending. ctx cancellation aborts between passes; undrained
// conditions are level sensitive and re-raise on the next enable.
func (d *Dev) poll(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		st, err := d.readStatus()
		if err != nil {
			return err
		}
		if st.intf.Pending() == 0 {
			return nil
		}
		if err := d.service(&st); err != nil {
			return err
		}
	}
}

// service runs one drain pass. Any register failure aborts the pass
// and propagates; the interrupt stays unacknowledged so the hardware
// re-asserts it.
func (d *Dev) service(st *statusBlock) error {
	d.statsMu.Lock()
	d.stats.RxErrorCount = st.trec.Rec()
	d.stats.TxErrorCount = st.trec.Tec()
	d.statsMu.Unlock()

	if pending := st.rxif & d.fifos.rxMask; pending != 0 {
		if err := d.drainRx(pending); err != nil {
			return err
		}
	}
	if st.intf&spiproto.TEFIF != 0 {
		if err := d.drainTEF(st); err != nil {
			return err
		}
	}
	if ov := st.rxovif & d.fifos.rxMask; ov != 0 {
		if err := d.clearOverflow(ov); err != nil {
			return err
		}
	}
	return nil
}

// drainRx reads pending receive FIFOs. Each maximal contiguous run of
// set bits is fetched with one combined SRAM read; frames are then
// acknowledged and delivered per FIFO in ascending order.
func (d *Dev) drainRx(pending uint32) error {
	size := d.fifos.rxObjSize
	for pending != 0 {
		first := bits.TrailingZeros32(pending)
		n := 0
		for pending&(1<<(first+n)) != 0 {
			n++
		}
		pending &^= ((1 << n) - 1) << first

		buf := d.rxRun[:n*size]
		if err := d.p.Read(d.fifos.addr[first], buf); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			fifo := first + i
			var m Msg
			decodeRxObj(buf[i*size:], d.fifos.payloadCap, &m)
			uinc := uint32(spiproto.FIFOUINC)
			if err := d.p.WriteMasked(spiproto.RegFIFOCON(fifo), uinc, uinc); err != nil {
				return err
			}
			d.statsMu.Lock()
			d.stats.RxPackets++
			d.stats.RxBytes += uint64(m.Len)
			d.statsMu.Unlock()
			d.deliver(&m)
		}
	}
	return nil
}

// drainTEF reclaims completed transmissions. The number of entries to
// drain is the number of FIFOs marked in flight that no longer
// request transmission; the hardware appends entries in completion
// order and the cursor must track its read pointer exactly.
func (d *Dev) drainTEF(st *statusBlock) error {
	n := bits.OnesCount32(d.state.txOccupancy) -
		bits.OnesCount32(st.txreq&d.fifos.txMask)
	for i := 0; i < n; i++ {
		var b [tefObjSize]byte
		if err := d.p.Read(d.state.tefCursor, b[:]); err != nil {
			return err
		}
		uinc := uint32(spiproto.TEFUINC)
		if err := d.p.WriteMasked(spiproto.RegTEFCON, uinc, uinc); err != nil {
			return err
		}
		d.state.tefCursor += tefObjSize
		if d.state.tefCursor >= d.fifos.tefEnd {
			d.state.tefCursor = d.fifos.tefStart
		}

		seq, _ := decodeTefObj(b[:])
		if seq < firstTxFIFO || seq > lastTxFIFO || d.state.txOccupancy&(1<<seq) == 0 {
			err := fmt.Errorf("%w: seq %d, occupancy %#x",
				ErrBadSeq, seq, d.state.txOccupancy)
			d.log.Error(err, "aborting drain pass")
			return err
		}
		d.state.txOccupancy &^= 1 << seq

		// The completion record carries no byte count; only the
		// packet counter advances here.
		d.statsMu.Lock()
		d.stats.TxPackets++
		d.statsMu.Unlock()
		if d.cfg.OnTxDone != nil {
			d.cfg.OnTxDone(seq)
		}
	}
	return nil
}

// clearOverflow acknowledges every overflown receive FIFO and emits
// one notification summarizing the pass.
func (d *Dev) clearOverflow(ov uint32) error {
	for m := ov; m != 0; {
		fifo := bits.TrailingZeros32(m)
		m &^= 1 << fifo
		if err := d.p.WriteMasked(spiproto.RegFIFOSTA(fifo), 0, uint32(spiproto.FIFOStaRxOvIF)); err != nil {
			return err
		}
		d.statsMu.Lock()
		d.stats.RxOverflows++
		d.statsMu.Unlock()
	}
	d.log.V(1).Info("rx overflow", "fifos", fmt.Sprintf("%#x", ov))
	if d.cfg.OnOverflow != nil {
		d.cfg.OnOverflow()
	}
	return nil
}
