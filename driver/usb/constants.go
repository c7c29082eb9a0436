package usb

// USB identity of the ranging modem (OpenMoko community VID space).
const (
	VendorID  = 0x1d50
	ProductID = 0x60e6
)

// Bulk endpoint numbers on interface 0.
const (
	EndpointIn  = 1
	EndpointOut = 1
)

// Command opcodes of the modem's framed vendor protocol. They mirror the
// transceiver command set one-to-one; the firmware forwards them to the
// radio over SPI.
const (
	cmdGetIrqStatus        = 0x15
	cmdWriteRegister       = 0x18
	cmdReadRegister        = 0x19
	cmdSetRx               = 0x82
	cmdSetTx               = 0x83
	cmdSetRfFrequency      = 0x86
	cmdSetPacketType       = 0x8A
	cmdSetModulationParams = 0x8B
	cmdSetDioIrqParams     = 0x8D
	cmdClearIrqStatus      = 0x97
	cmdSetRangingRole      = 0xA3
)

const packetTypeRanging = 0x04

// Ranging role bytes for cmdSetRangingRole.
const (
	rangingRoleMaster = 0x01
	rangingRoleSlave  = 0x00
)

// Register addresses.
const (
	regRangingRequestAddr = 0x0912 // 4 bytes, address the initiator calls
	regRangingDeviceAddr  = 0x0916 // 4 bytes, this node's address
	regRangingSymbols     = 0x0924 // 1 byte, ranging symbol count
	regRangingDelayCal    = 0x092C // 2 bytes, turnaround delay calibration
	regRangingIDCheckLen  = 0x0931 // 1 byte, address bits checked on receive
	regRangingResult1     = 0x0961 // 3 bytes, first sub-exchange, 24-bit signed
	regRangingRssi1       = 0x0964 // 1 byte
	regRangingResult2     = 0x0968 // 3 bytes, second sub-exchange (extended)
	regRangingRssi2       = 0x096B // 1 byte
)

// IRQ status bits.
const (
	irqTxDone              = 1 << 0
	irqRxDone              = 1 << 1
	irqSlaveResponseDone   = 1 << 7
	irqSlaveRequestDiscard = 1 << 8
	irqMasterResultValid   = 1 << 9
	irqMasterTimeout       = 1 << 10
	irqSlaveRequestValid   = 1 << 11
	irqRxTxTimeout         = 1 << 14

	irqAll = 0xFFFF
)

// rangingIrqMask selects the IRQ sources a role needs latched. The modem
// masks everything else at the source so stray flags never reach the
// polling loop.
func rangingIrqMask(initiator bool) uint16 {
	if initiator {
		return irqTxDone | irqMasterResultValid | irqMasterTimeout | irqRxTxTimeout
	}
	return irqRxDone | irqSlaveResponseDone | irqSlaveRequestDiscard |
		irqSlaveRequestValid | irqMasterResultValid
}

// LoRa bandwidth codes for the ranging-capable bandwidths.
const (
	bwCode1600 = 0x0A // 1625 kHz
	bwCode0800 = 0x18 // 812.5 kHz
	bwCode0400 = 0x26 // 406.25 kHz
	bwCode0200 = 0x34 // 203.125 kHz
)

// bandwidthCode maps a bandwidth in Hz to the modem's code, tolerating the
// commonly quoted rounded figures.
func bandwidthCode(hz uint32) (byte, bool) {
	switch hz {
	case 1625000, 1600000:
		return bwCode1600, true
	case 812500, 800000:
		return bwCode0800, true
	case 406250, 400000:
		return bwCode0400, true
	case 203125, 200000:
		return bwCode0200, true
	default:
		return 0, false
	}
}

// Vendor turnaround calibration per bandwidth, indexed by spreading factor
// minus 5. These figures come from the transceiver vendor's standard-mode
// ranging characterization; extended mode has no published equivalent and
// must be calibrated per board.
var (
	baseDelay0400 = [8]int32{10299, 10271, 10244, 10242, 10230, 10246, 10218, 10274}
	baseDelay0800 = [8]int32{11486, 11474, 11453, 11426, 11417, 11401, 11352, 11386}
	baseDelay1600 = [8]int32{13308, 13493, 13528, 13515, 13430, 13376, 13144, 13177}
)

// baseDelayTicks looks up the standard-mode turnaround calibration.
func baseDelayTicks(spreadingFactor int, bandwidthHz uint32) (int32, bool) {
	if spreadingFactor < 5 || spreadingFactor > 12 {
		return 0, false
	}
	code, ok := bandwidthCode(bandwidthHz)
	if !ok {
		return 0, false
	}
	idx := spreadingFactor - 5
	switch code {
	case bwCode0400:
		return baseDelay0400[idx], true
	case bwCode0800:
		return baseDelay0800[idx], true
	case bwCode1600:
		return baseDelay1600[idx], true
	default:
		// 203.125 kHz is receivable but not characterized for ranging.
		return 0, false
	}
}
