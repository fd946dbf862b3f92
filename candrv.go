package mcp2517fd

import (
	"context"

	"github.com/knieriem/can"
)

// ClassicDev adapts a Dev to the message type of
// github.com/knieriem/can, so the controller can stand in for an
// MCP2515 in classic-CAN tooling. FD frames received on the bus are
// not representable there and are skipped.
type ClassicDev struct {
	d *Dev
}

func NewClassicDevice(d *Dev) *ClassicDev {
	return &ClassicDev{d: d}
}

func (c *ClassicDev) WriteMsg(m *can.Msg) error {
	var fm Msg
	fm.Id = m.Id
	if m.ExtFrame() {
		fm.Flags |= ExtFrame
	}
	fm.Len = m.Len
	copy(fm.Data[:], m.Data[:m.Len])
	return c.d.WriteMsg(&fm)
}

// Read fills buf with received messages, blocking until at least one
// is available.
func (c *ClassicDev) Read(buf []can.Msg) (int, error) {
	n := 0
	for n < len(buf) {
		var m *Msg
		if n == 0 {
			var err error
			m, err = c.d.ReadMsg(context.Background())
			if err != nil {
				return 0, err
			}
		} else {
			select {
			case m = <-c.d.rxq:
			default:
			}
			if m == nil {
				break
			}
		}
		if m.FD() || m.Len > 8 {
			continue
		}
		cm := &buf[n]
		cm.Id = m.Id
		cm.Flags = 0
		if m.ExtFrame() {
			cm.Flags = can.ExtFrame
		}
		cm.Len = m.Len
		copy(cm.Data[:], m.Data[:m.Len])
		n++
	}
	return n, nil
}

func (c *ClassicDev) Close() error { return c.d.Close() }
