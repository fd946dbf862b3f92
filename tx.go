package mcp2517fd

import (
	"math/bits"

	"github.com/knieriem/mcp2517fd/spiproto"
)

// selectTxFIFO picks the transmit FIFO for the next submission. With
// nothing in flight the highest-index (least-priority) FIFO is used;
// otherwise the slot directly below the lowest in-flight index, the
// occupancy mask's lowest set bit biased by the reserved FIFO 0.
// The second return value is false when that slot walks off the
// bottom of the transmit range.
func (d *Dev) selectTxFIFO() (int, bool) {
	occ := d.state.txOccupancy
	if occ == 0 {
		return lastTxFIFO, true
	}
	i := bits.TrailingZeros32(occ) - 1
	if i < firstTxFIFO {
		return 0, false
	}
	return i, true
}

// transmit encodes m into the selected FIFO's SRAM slot and requests
// transmission. The FIFO is marked occupied before the TXREQ write so
// a completion can never be observed ahead of the bookkeeping; only
// the drain path clears the bit.
func (d *Dev) transmit(m *Msg) error {
	fifo, ok := d.selectTxFIFO()
	if !ok {
		return ErrTxBufNotEmpty
	}
	n := encodeTxObj(d.txObj[:], m, fifo, d.fifos.payloadCap)
	if err := d.p.Write(d.fifos.addr[fifo], d.txObj[:n]); err != nil {
		return err
	}
	d.state.txOccupancy |= 1 << fifo

	req := spiproto.FIFOUINC | spiproto.FIFOTXREQ
	if err := d.p.WriteMasked(spiproto.RegFIFOCON(fifo), uint32(req), uint32(req)); err != nil {
		return err
	}
	d.log.V(1).Info("frame submitted", "fifo", fifo, "id", m.Id, "len", m.Len)
	return nil
}
