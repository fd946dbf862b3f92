package mcp2517fd

import (
	"fmt"
	"strings"
)

// Msg is a CAN 2.0 or CAN FD message.
type Msg struct {
	Id        uint32
	Flags     MsgFlags
	Len       int
	Data      [64]byte
	Timestamp uint32 // bus time counter, receive path only
}

type MsgFlags uint32

const (
	ExtFrame MsgFlags = 1 << iota
	RTRMsg
	FDFrame
	BitRateSwitch
	ErrStateInd
)

const (
	maxStdId = 0x7FF
	maxExtId = 0x1FFFFFFF
)

func (m *Msg) ExtFrame() bool { return m.Flags&ExtFrame != 0 }
func (m *Msg) FD() bool       { return m.Flags&FDFrame != 0 }

// Valid reports whether identifier and length fit the frame format.
func (m *Msg) Valid() bool {
	max := maxStdId
	if m.ExtFrame() {
		max = maxExtId
	}
	if m.Id > uint32(max) {
		return false
	}
	if m.FD() {
		return m.Len >= 0 && m.Len <= 64
	}
	return m.Len >= 0 && m.Len <= 8
}

func (m *Msg) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%03X [%d]", m.Id, m.Len)
	for _, d := range m.Data[:m.Len] {
		fmt.Fprintf(&b, " %02X", d)
	}
	if m.Flags&RTRMsg != 0 {
		b.WriteString(" RTR")
	}
	if m.FD() {
		b.WriteString(" FD")
	}
	return b.String()
}
