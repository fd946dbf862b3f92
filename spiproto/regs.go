package spiproto

// Addr is an address within the controller's 12-bit register/SRAM
// address space. Logical registers are 32 bits wide but byte
// addressable.
type Addr uint16

// CAN control register block.
const (
	RegCON    Addr = 0x000
	RegNBTCFG Addr = 0x004
	RegDBTCFG Addr = 0x008
	RegTDC    Addr = 0x00C
	RegTBC    Addr = 0x010
	RegTSCON  Addr = 0x014
	RegVEC    Addr = 0x018
	RegINT    Addr = 0x01C
	RegRXIF   Addr = 0x020
	RegTXIF   Addr = 0x024
	RegRXOVIF Addr = 0x028
	RegTXATIF Addr = 0x02C
	RegTXREQ  Addr = 0x030
	RegTREC   Addr = 0x034
	RegBDIAG0 Addr = 0x038
	RegBDIAG1 Addr = 0x040
	RegTEFCON Addr = 0x044
	RegTEFSTA Addr = 0x048
	RegTEFUA  Addr = 0x04C
	RegTXQCON Addr = 0x054
	RegTXQUA  Addr = 0x058
)

// Per-FIFO control/status/user-address registers, FIFOs 1..31.
func RegFIFOCON(i int) Addr { return 0x05C + 12*Addr(i-1) }
func RegFIFOSTA(i int) Addr { return 0x060 + 12*Addr(i-1) }
func RegFIFOUA(i int) Addr  { return 0x064 + 12*Addr(i-1) }

// Receive filter registers, filters 0..31. FLTCON is programmed with
// byte granularity, one byte per filter.
func RegFLTCON(i int) Addr  { return 0x1D0 + Addr(i) }
func RegFLTOBJ(i int) Addr  { return 0x1F0 + 8*Addr(i) }
func RegFLTMASK(i int) Addr { return 0x1F4 + 8*Addr(i) }

// Message SRAM window.
const (
	RAMBase Addr = 0x400
	RAMSize      = 0x800
)

// SFR block.
const (
	RegOSC     Addr = 0xE00
	RegIOCON   Addr = 0xE04
	RegCRC     Addr = 0xE08
	RegECCCON  Addr = 0xE0C
	RegECCSTAT Addr = 0xE10
)

// Mode is a controller operation mode, as encoded in the CON
// register's REQOP and OPMOD fields.
type Mode uint32

const (
	ModeMixed Mode = iota // CAN FD and CAN 2.0 frames
	ModeSleep
	ModeIntLoopback
	ModeListenOnly
	ModeConfig
	ModeExtLoopback
	ModeCAN20
	ModeRestricted
)

var modeNames = [8]string{
	"mixed", "sleep", "int-loopback", "listen-only",
	"config", "ext-loopback", "can2.0", "restricted",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "invalid"
}

// Con is the value of the CON register.
type Con uint32

const (
	ConISOCRCEN Con = 1 << 5
	ConPXEDIS   Con = 1 << 6
	ConWAKFIL   Con = 1 << 8
	ConBRSDIS   Con = 1 << 12
	ConRTXAT    Con = 1 << 16
	ConSTEF     Con = 1 << 19
	ConTXQEN    Con = 1 << 20
	ConABAT     Con = 1 << 27

	conWFTShift   = 9
	conOpModShift = 21
	conReqOpShift = 24

	// ConReqOpMask covers the REQOP field for masked writes.
	ConReqOpMask Con = 7 << conReqOpShift
)

// ConDefault is the register value after reset; the probe sequence
// matches against it to detect an absent or miswired controller.
const ConDefault = ConISOCRCEN | ConPXEDIS | ConWAKFIL | 3<<conWFTShift |
	ConSTEF | ConTXQEN |
	Con(ModeConfig)<<conOpModShift | Con(ModeConfig)<<conReqOpShift

const ConDefaultMask Con = 0x1F | ConISOCRCEN | ConPXEDIS | ConWAKFIL |
	3<<conWFTShift | ConBRSDIS | ConRTXAT | 3<<17 | ConSTEF | ConTXQEN |
	7<<conOpModShift | ConReqOpMask | ConABAT | 7<<28

// OpMode returns the mode the controller is currently operating in.
func (c Con) OpMode() Mode { return Mode(c>>conOpModShift) & 7 }

// WithRequestOp returns c with the REQOP field set to m.
func (c Con) WithRequestOp(m Mode) Con {
	return c&^ConReqOpMask | Con(m)<<conReqOpShift
}

// IntFlags is the value of the INT register: interrupt flags in the
// low half, the corresponding enables in the high half.
type IntFlags uint32

const (
	TXIF     IntFlags = 1 << 0
	RXIF     IntFlags = 1 << 1
	TBCIF    IntFlags = 1 << 2
	MODIF    IntFlags = 1 << 3
	TEFIF    IntFlags = 1 << 4
	ECCIF    IntFlags = 1 << 8
	SPICRCIF IntFlags = 1 << 9
	TXATIF   IntFlags = 1 << 10
	RXOVIF   IntFlags = 1 << 11
	SERRIF   IntFlags = 1 << 12
	CERRIF   IntFlags = 1 << 13
	WAKIF    IntFlags = 1 << 14
	IVMIF    IntFlags = 1 << 15

	TXIE     IntFlags = 1 << 16
	RXIE     IntFlags = 1 << 17
	TBCIE    IntFlags = 1 << 18
	MODIE    IntFlags = 1 << 19
	TEFIE    IntFlags = 1 << 20
	ECCIE    IntFlags = 1 << 24
	SPICRCIE IntFlags = 1 << 25
	TXATIE   IntFlags = 1 << 26
	RXOVIE   IntFlags = 1 << 27
	SERRIE   IntFlags = 1 << 29
	WAKIE    IntFlags = 1 << 30
	IVMIE    IntFlags = 1 << 31
)

// Pending returns the interrupt flags whose enable bit is set. The
// serviced conditions (TEF, RX, RXOV) keep a fixed flag/enable bit
// distance of 16.
func (f IntFlags) Pending() IntFlags {
	return f & (f >> 16) & 0xFFFF
}

// FIFOCon is the value of a FIFOCON register; the same layout is used
// by TEFCON where noted.
type FIFOCon uint32

const (
	FIFONotEmptyIE FIFOCon = 1 << 0
	FIFOHalfIE     FIFOCon = 1 << 1
	FIFOFullIE     FIFOCon = 1 << 2
	FIFORxOvIE     FIFOCon = 1 << 3
	FIFOTxAtIE     FIFOCon = 1 << 4
	FIFORxTsEn     FIFOCon = 1 << 5
	FIFORTREn      FIFOCon = 1 << 6
	FIFOTxEn       FIFOCon = 1 << 7
	FIFOUINC       FIFOCon = 1 << 8
	FIFOTXREQ      FIFOCon = 1 << 9
	FIFOFReset     FIFOCon = 1 << 10

	fifoTxPriShift  = 16
	fifoFSizeShift  = 24
	fifoPlSizeShift = 29

	// TEFCON-specific bits sharing the FIFOCon layout.
	TEFNotEmptyIE FIFOCon = 1 << 0
	TEFOvIE       FIFOCon = 1 << 3
	TEFTsEn       FIFOCon = 1 << 5
	TEFUINC       FIFOCon = 1 << 8
	TEFFReset     FIFOCon = 1 << 10
)

// FIFOSTA status bits.
const (
	FIFOStaNotEmpty FIFOCon = 1 << 0
	FIFOStaRxOvIF   FIFOCon = 1 << 3
)

// PayloadCode maps a payload capacity in bytes to the PLSIZE field
// encoding.
func PayloadCode(n int) FIFOCon {
	codes := [...]int{8, 12, 16, 20, 24, 32, 48, 64}
	for c, l := range codes {
		if l >= n {
			return FIFOCon(c)
		}
	}
	return FIFOCon(len(codes) - 1)
}

// TxFIFOCon builds the control word for a single-slot transmit FIFO.
// The transmit priority equals the FIFO index.
func TxFIFOCon(index, payload int) FIFOCon {
	return FIFOTxEn | FIFOFReset |
		FIFOCon(index&0x1F)<<fifoTxPriShift |
		PayloadCode(payload)<<fifoPlSizeShift
}

// RxFIFOCon builds the control word for a single-slot receive FIFO
// with timestamping and overflow reporting.
func RxFIFOCon(payload int) FIFOCon {
	return FIFONotEmptyIE | FIFORxOvIE | FIFORxTsEn | FIFOFReset |
		PayloadCode(payload)<<fifoPlSizeShift
}

// TEFCon builds the control word for a transmit event FIFO holding
// the given number of entries, with timestamping.
func TEFCon(entries int) FIFOCon {
	return TEFNotEmptyIE | TEFTsEn | TEFFReset |
		FIFOCon(entries-1)<<fifoFSizeShift
}

// FltEnable returns the FLTCON byte routing a match-all filter into
// the given FIFO.
func FltEnable(fifo int) byte {
	return 0x80 | byte(fifo)&0x1F
}

// TRec is the value of the TREC transmit/receive error count register.
type TRec uint32

const (
	TRecEWarn  TRec = 1 << 16
	TRecRxWarn TRec = 1 << 17
	TRecTxWarn TRec = 1 << 18
	TRecRxBP   TRec = 1 << 19
	TRecTxBP   TRec = 1 << 20
	TRecTxBO   TRec = 1 << 21
)

// Rec returns the receive error counter.
func (t TRec) Rec() uint8 { return uint8(t) }

// Tec returns the transmit error counter.
func (t TRec) Tec() uint8 { return uint8(t >> 8) }

// BusOff reports whether the transmitter is in bus-off state.
func (t TRec) BusOff() bool { return t&TRecTxBO != 0 }

// NBTCfg composes the nominal bit timing register from its raw fields.
func NBTCfg(brp, tseg1, tseg2, sjw uint8) uint32 {
	return uint32(brp)<<24 | uint32(tseg1)<<16 | uint32(tseg2)<<8 | uint32(sjw)
}

// DBTCfg composes the data bit timing register from its raw fields.
// TSEG1 is 5 bits and TSEG2/SJW 4 bits wide on this register.
func DBTCfg(brp, tseg1, tseg2, sjw uint8) uint32 {
	return uint32(brp)<<24 | uint32(tseg1&0x1F)<<16 |
		uint32(tseg2&0xF)<<8 | uint32(sjw&0xF)
}
