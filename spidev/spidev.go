//go:build linux

// Package spidev provides a spiproto.Conn backed by a Linux spidev
// character device, using full-duplex ioctl transfers.
package spidev

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

type Device struct {
	f       *os.File
	speedHz uint32
}

// spidev ioctl requests; x/sys/unix does not export these.
const (
	spiIocWrMode        = 0x40016B01
	spiIocWrBitsPerWord = 0x40016B03
	spiIocWrMaxSpeedHz  = 0x40046B04
	spiIocMessage1      = 0x40206B00
)

// spiIocTransfer mirrors struct spi_ioc_transfer (32 bytes).
type spiIocTransfer struct {
	txBuf       uint64
	rxBuf       uint64
	len         uint32
	speedHz     uint32
	delayUsecs  uint16
	bitsPerWord uint8
	csChange    uint8
	txNbits     uint8
	rxNbits     uint8
	wordDelay   uint8
	pad         uint8
}

// Open opens a spidev node (e.g. /dev/spidev0.0) in SPI mode 0 with
// 8-bit words at the given clock speed.
func Open(path string, speedHz uint32) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	d := &Device{f: f, speedHz: speedHz}

	mode := uint8(0)
	bits := uint8(8)
	if err := d.ioctl(spiIocWrMode, unsafe.Pointer(&mode)); err != nil {
		f.Close()
		return nil, fmt.Errorf("spidev: set mode: %w", err)
	}
	if err := d.ioctl(spiIocWrBitsPerWord, unsafe.Pointer(&bits)); err != nil {
		f.Close()
		return nil, fmt.Errorf("spidev: set word size: %w", err)
	}
	if err := d.ioctl(spiIocWrMaxSpeedHz, unsafe.Pointer(&d.speedHz)); err != nil {
		f.Close()
		return nil, fmt.Errorf("spidev: set speed: %w", err)
	}
	return d, nil
}

// TxRx performs one full-duplex transfer. rx may be nil for
// write-only commands and may alias tx.
func (d *Device) TxRx(tx, rx []byte) error {
	tr := spiIocTransfer{
		txBuf:   uint64(uintptr(unsafe.Pointer(&tx[0]))),
		len:     uint32(len(tx)),
		speedHz: d.speedHz,
	}
	if rx != nil {
		tr.rxBuf = uint64(uintptr(unsafe.Pointer(&rx[0])))
	}
	return d.ioctl(spiIocMessage1, unsafe.Pointer(&tr))
}

func (d *Device) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *Device) Close() error { return d.f.Close() }
