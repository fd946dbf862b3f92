// Package mcp2517fd implements a driver for the Microchip MCP2517FD
// CAN FD controller attached over an SPI link. The transport is
// injected as a spiproto.Conn; interrupt notification is injected by
// calling (*Dev).Interrupt from whatever watches the controller's
// interrupt line.
package mcp2517fd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/knieriem/mcp2517fd/spiproto"
)

// Config configures a device at open time. The MTU mode and bit
// timing values are fixed for the lifetime of the device.
type Config struct {
	// FD selects 64-byte payloads and mixed CAN FD operation;
	// otherwise payloads are 8 bytes and the controller runs in
	// CAN 2.0 mode.
	FD bool

	Loopback   bool
	ListenOnly bool

	// NominalBitTiming and DataBitTiming are the NBTCFG/DBTCFG
	// composite register values; see spiproto.NBTCfg and
	// spiproto.DBTCfg. DataBitTiming is used only with FD.
	NominalBitTiming uint32
	DataBitTiming    uint32

	// ClockFreq is the controller's oscillator frequency in Hz,
	// 1..40 MHz. Zero skips the range check.
	ClockFreq uint32

	// OnMsg, if set, is called for every received frame, from the
	// device's worker goroutine. When nil, frames are queued for
	// ReadMsg.
	OnMsg func(*Msg)

	// OnTxDone is called with the originating FIFO index for every
	// drained completion.
	OnTxDone func(fifo int)

	// OnOverflow is called once per drain pass that observed receive
	// overflow.
	OnOverflow func()

	// OnFatal is called when the worker stops on an unrecoverable
	// error. The same error is returned from Close.
	OnFatal func(error)

	Log logr.Logger
}

type engineState struct {
	txOccupancy uint32
	tefCursor   spiproto.Addr
}

type Dev struct {
	p     *spiproto.Proto
	cfg   Config
	log   logr.Logger
	fifos *fifoTable
	state engineState

	statsMu sync.Mutex
	stats   Stats

	irq chan struct{}
	txq chan *Msg
	rxq chan *Msg

	group  *errgroup.Group
	cancel context.CancelFunc
	opened bool

	txObj [txObjHeader + 64]byte
	rxRun []byte
}

var (
	ErrNoMsg         = errors.New("no message available")
	ErrTxBufNotEmpty = errors.New("tx buffer not empty")
	ErrNoDevice      = errors.New("mcp2517fd: controller not responding, wrong wiring?")
	ErrModeChange    = errors.New("mcp2517fd: mode change not confirmed")
	ErrBadSeq        = errors.New("mcp2517fd: tef entry outside tx fifo range")
)

// oscStartupDelay is the oscillator startup time after reset.
const oscStartupDelay = 5 * time.Millisecond

func NewDevice(c spiproto.Conn, cfg Config) *Dev {
	d := &Dev{
		p:   spiproto.New(c),
		cfg: cfg,
		log: cfg.Log,
	}
	if cfg.Log.GetSink() == nil {
		d.log = logr.Discard()
	}
	d.irq = make(chan struct{}, 1)
	d.txq = make(chan *Msg, txFIFOCount)
	d.rxq = make(chan *Msg, 64)
	return d
}

// Open probes, configures and starts the device. On return the
// controller runs in the requested mode and the device's worker
// goroutine owns all further register traffic.
func (d *Dev) Open() error {
	if d.opened {
		return errors.New("mcp2517fd: already open")
	}
	if err := d.setup(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	d.group, d.cancel = g, cancel
	g.Go(func() error { return d.run(ctx) })
	d.opened = true
	return nil
}

// setup performs the full configuration sequence with no goroutines
// involved. Any register failure is fatal to opening the device.
func (d *Dev) setup() error {
	if f := d.cfg.ClockFreq; f != 0 && (f < 1_000_000 || f > 40_000_000) {
		return fmt.Errorf("mcp2517fd: clock frequency %d Hz out of range", f)
	}

	if err := d.p.Reset(); err != nil {
		return err
	}
	time.Sleep(oscStartupDelay)

	con, err := d.p.ReadReg(spiproto.RegCON)
	if err != nil {
		return err
	}
	if spiproto.Con(con)&spiproto.ConDefaultMask != spiproto.ConDefault {
		d.log.Error(ErrNoDevice, "probe failed", "con", fmt.Sprintf("%#08x", con))
		return ErrNoDevice
	}

	if err := d.p.WriteReg(spiproto.RegNBTCFG, d.cfg.NominalBitTiming); err != nil {
		return err
	}
	if d.cfg.FD {
		if err := d.p.WriteReg(spiproto.RegDBTCFG, d.cfg.DataBitTiming); err != nil {
			return err
		}
	}

	// TEF on, TXQ off: FIFO 0 stays reserved and unused.
	setup := spiproto.ConISOCRCEN | spiproto.ConPXEDIS | spiproto.ConWAKFIL |
		spiproto.ConSTEF
	setup = setup.WithRequestOp(spiproto.ModeConfig)
	if err := d.p.WriteReg(spiproto.RegCON, uint32(setup)); err != nil {
		return err
	}

	d.fifos = newFIFOTable(d.cfg.FD)
	d.rxRun = make([]byte, d.fifos.rxCount*d.fifos.rxObjSize)
	if err := d.fifos.program(d.p); err != nil {
		return err
	}

	// The controller reports live FIFO addresses only outside
	// configuration mode. Transiently enter internal loopback, read
	// the assigned addresses, and return to configuration mode
	// before any traffic can occur.
	if err := d.requestMode(spiproto.ModeIntLoopback); err != nil {
		return err
	}
	if err := d.fifos.readAddresses(d.p); err != nil {
		return err
	}
	if err := d.requestMode(spiproto.ModeConfig); err != nil {
		return err
	}
	d.state = engineState{tefCursor: d.fifos.tefStart}

	ie := spiproto.TEFIE | spiproto.RXIE | spiproto.RXOVIE
	if err := d.p.WriteReg(spiproto.RegINT, uint32(ie)); err != nil {
		return err
	}

	mode := spiproto.ModeMixed
	switch {
	case d.cfg.Loopback:
		mode = spiproto.ModeIntLoopback
	case d.cfg.ListenOnly:
		mode = spiproto.ModeListenOnly
	case !d.cfg.FD:
		mode = spiproto.ModeCAN20
	}
	if err := d.requestMode(mode); err != nil {
		return err
	}
	d.log.Info("controller initialized",
		"mode", mode.String(), "payload", d.fifos.payloadCap,
		"txFifos", txFIFOCount, "rxFifos", d.fifos.rxCount)
	return nil
}

// requestMode writes the REQOP field and waits for the controller to
// confirm the transition in OPMOD.
func (d *Dev) requestMode(m spiproto.Mode) error {
	req := spiproto.Con(0).WithRequestOp(m)
	err := d.p.WriteMasked(spiproto.RegCON, uint32(req), uint32(spiproto.ConReqOpMask))
	if err != nil {
		return err
	}
	for i := 0; i < 10; i++ {
		con, err := d.p.ReadReg(spiproto.RegCON)
		if err != nil {
			return err
		}
		if spiproto.Con(con).OpMode() == m {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return fmt.Errorf("%w: %s", ErrModeChange, m)
}

// run is the single worker owning the engine state: it serializes
// interrupt servicing and frame submission onto one goroutine. A
// frame that found no free FIFO is held back and retried after the
// next drain; while one is held no further frames are pulled from the
// queue.
func (d *Dev) run(ctx context.Context) error {
	var held *Msg
	for {
		txq := d.txq
		if held != nil {
			txq = nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-d.irq:
			if err := d.poll(ctx); err != nil {
				return d.fatal(err)
			}
		case m := <-txq:
			held = m
		}
		if held != nil {
			switch err := d.transmit(held); {
			case err == nil:
				held = nil
			case errors.Is(err, ErrTxBufNotEmpty):
				// wait for a completion to free a slot
			default:
				return d.fatal(err)
			}
		}
	}
}

func (d *Dev) fatal(err error) error {
	d.log.Error(err, "device stopped")
	if d.cfg.OnFatal != nil {
		d.cfg.OnFatal(err)
	}
	return err
}

// Interrupt signals that the controller's interrupt line is active.
// It never blocks; signals are coalesced, which is safe because the
// serviced conditions are level sensitive.
func (d *Dev) Interrupt() {
	select {
	case d.irq <- struct{}{}:
	default:
	}
}

// WriteMsg queues m for transmission. It returns ErrTxBufNotEmpty
// when the submission queue is full; the caller must back off and
// retry. The queue bound is the flow-control boundary: the engine
// itself never sees more frames than transmit FIFOs.
func (d *Dev) WriteMsg(m *Msg) error {
	if !m.Valid() {
		return fmt.Errorf("mcp2517fd: invalid message (id %#x, len %d)", m.Id, m.Len)
	}
	c := *m
	select {
	case d.txq <- &c:
		return nil
	default:
		return ErrTxBufNotEmpty
	}
}

// ReadMsg returns the next received frame. It is the pull-style
// alternative to the OnMsg callback.
func (d *Dev) ReadMsg(ctx context.Context) (*Msg, error) {
	select {
	case m := <-d.rxq:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dev) deliver(m *Msg) {
	c := *m
	if d.cfg.OnMsg != nil {
		d.cfg.OnMsg(&c)
		return
	}
	select {
	case d.rxq <- &c:
	default:
		d.log.V(1).Info("rx queue full, frame dropped", "id", m.Id)
	}
}

// Close stops the worker, disables interrupts and returns the
// controller to configuration mode. The engine state is reset; a
// fatal worker error, if any, is returned.
func (d *Dev) Close() error {
	if !d.opened {
		return nil
	}
	d.opened = false
	d.cancel()
	err := d.group.Wait()

	// Best effort teardown; the worker is gone, so register access
	// is exclusive again.
	if e := d.p.WriteReg(spiproto.RegINT, 0); err == nil {
		err = e
	}
	if e := d.requestMode(spiproto.ModeConfig); err == nil {
		err = e
	}
	d.state = engineState{}
	return err
}

// Stats returns a snapshot of the device counters.
func (d *Dev) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}
