package usb

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/signalsfoundry/chirp-ranging/internal/logging"
	"github.com/signalsfoundry/chirp-ranging/ranging"
)

// irqPollInterval spaces the GetIrqStatus polls in WaitForEvent. The
// modem latches IRQ bits until cleared, so polling cannot miss an event.
const irqPollInterval = 20 * time.Millisecond

// rx periodBase 0x02 with count 0xFFFF keeps the receiver open until the
// next explicit mode change.
const (
	rxPeriodBase      = 0x02
	rxContinuousCount = 0xFFFF
	txSingleCount     = 0x0000
)

// Radio drives a USB-attached ranging modem. It satisfies ranging.Radio.
type Radio struct {
	dev *Device
	log logging.Logger

	extended  bool
	initiator bool
}

// NewRadio wraps an open device. The device must not be shared between
// radios.
func NewRadio(dev *Device, log logging.Logger) *Radio {
	if log == nil {
		log = logging.Noop()
	}
	return &Radio{dev: dev, log: log}
}

// ConfigureRole pushes the full ranging setup to the modem: packet type,
// RF frequency, modulation, addresses, symbol count, delay calibration
// and finally the ranging role.
func (r *Radio) ConfigureRole(ctx context.Context, cfg ranging.RangingConfig, mod ranging.ModulationParams) error {
	bwCode, ok := bandwidthCode(mod.BandwidthHz)
	if !ok {
		return &ranging.ConfigError{Field: "BandwidthHz", Reason: fmt.Sprintf("bandwidth %d Hz not supported by modem", mod.BandwidthHz)}
	}

	r.extended = cfg.Extended
	r.initiator = cfg.Role == ranging.RoleInitiator

	if err := r.command(ctx, "set-packet-type", cmdSetPacketType, []byte{packetTypeRanging}); err != nil {
		return err
	}

	freq := make([]byte, 4)
	binary.BigEndian.PutUint32(freq, mod.RfFrequencyHz)
	if err := r.command(ctx, "set-rf-frequency", cmdSetRfFrequency, freq); err != nil {
		return err
	}

	sfCode := byte(mod.SpreadingFactor) << 4
	if err := r.command(ctx, "set-modulation", cmdSetModulationParams, []byte{sfCode, bwCode}); err != nil {
		return err
	}

	if err := r.writeRegister(ctx, regRangingDeviceAddr, beUint32(cfg.DeviceAddress)); err != nil {
		return err
	}
	if r.initiator {
		if err := r.writeRegister(ctx, regRangingRequestAddr, beUint32(cfg.RequestAddress)); err != nil {
			return err
		}
	}
	if err := r.writeRegister(ctx, regRangingSymbols, []byte{byte(cfg.NumSymbols)}); err != nil {
		return err
	}
	// All 32 address bits participate in the match decision.
	if err := r.writeRegister(ctx, regRangingIDCheckLen, []byte{32}); err != nil {
		return err
	}
	if cfg.TxRxDelayTicks != 0 {
		cal := make([]byte, 2)
		binary.BigEndian.PutUint16(cal, uint16(cfg.TxRxDelayTicks))
		if err := r.writeRegister(ctx, regRangingDelayCal, cal); err != nil {
			return err
		}
	}

	role := byte(rangingRoleSlave)
	if r.initiator {
		role = rangingRoleMaster
	}
	if err := r.command(ctx, "set-ranging-role", cmdSetRangingRole, []byte{role}); err != nil {
		return err
	}

	if err := r.command(ctx, "set-dio-irq-params", cmdSetDioIrqParams, dioIrqPayload(rangingIrqMask(r.initiator))); err != nil {
		return err
	}

	if err := r.clearIrq(ctx); err != nil {
		return err
	}

	r.log.Info(ctx, "modem configured",
		logging.String("role", cfg.Role.String()),
		logging.String("serial", r.dev.Serial),
		logging.Int64("sf", int64(mod.SpreadingFactor)),
		logging.Int64("bandwidth_hz", int64(mod.BandwidthHz)))
	return nil
}

// ArmReceive puts the modem into continuous receive.
func (r *Radio) ArmReceive(ctx context.Context) error {
	count := make([]byte, 2)
	binary.BigEndian.PutUint16(count, rxContinuousCount)
	return r.command(ctx, "arm-receive", cmdSetRx, append([]byte{rxPeriodBase}, count...))
}

// TransmitRequest clears stale IRQ state and fires one ranging request.
// The modem's own timeout window bounds the exchange.
func (r *Radio) TransmitRequest(ctx context.Context) error {
	if err := r.clearIrq(ctx); err != nil {
		return err
	}
	count := make([]byte, 2)
	binary.BigEndian.PutUint16(count, txSingleCount)
	return r.command(ctx, "transmit-request", cmdSetTx, append([]byte{rxPeriodBase}, count...))
}

// WaitForEvent polls the IRQ status register until a ranging event is
// latched, then clears the handled bits and maps them to an event.
func (r *Radio) WaitForEvent(ctx context.Context) (ranging.Event, error) {
	ticker := time.NewTicker(irqPollInterval)
	defer ticker.Stop()

	for {
		status, err := r.readIrq(ctx)
		if err != nil {
			return 0, err
		}
		if ev, ok := r.mapIrq(status); ok {
			if err := r.clearIrq(ctx); err != nil {
				return 0, err
			}
			return ev, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// mapIrq translates a latched IRQ status into the session event model.
// Result-valid wins over timeout when both are latched, which can happen
// if a poll interval spans the end of one window and the next exchange.
func (r *Radio) mapIrq(status uint16) (ranging.Event, bool) {
	switch {
	case status&irqMasterResultValid != 0:
		return ranging.EventExchangeValid, true
	case status&(irqMasterTimeout|irqRxTxTimeout) != 0 && r.initiator:
		return ranging.EventTimeout, true
	case status&irqSlaveResponseDone != 0:
		return ranging.EventResponseDone, true
	case status&irqSlaveRequestDiscard != 0:
		return ranging.EventRequestDiscarded, true
	default:
		return 0, false
	}
}

// ReadRawResult pulls the raw ranging counters out of the result
// registers. The second sub-exchange registers are only meaningful in
// extended mode and are left nil otherwise.
func (r *Radio) ReadRawResult(ctx context.Context) (ranging.RawExchangeResult, error) {
	var raw ranging.RawExchangeResult

	rng1, err := r.readResultRegister(ctx, regRangingResult1)
	if err != nil {
		return raw, err
	}
	rssi1, err := r.readRegister(ctx, regRangingRssi1, 1)
	if err != nil {
		return raw, err
	}
	raw.Rng1 = rng1
	raw.Rssi1 = -int32(rssi1[0]) / 2

	if r.extended {
		rng2, err := r.readResultRegister(ctx, regRangingResult2)
		if err != nil {
			return raw, err
		}
		rssi2Bytes, err := r.readRegister(ctx, regRangingRssi2, 1)
		if err != nil {
			return raw, err
		}
		rssi2 := -int32(rssi2Bytes[0]) / 2
		raw.Rng2 = &rng2
		raw.Rssi2 = &rssi2
	}
	return raw, nil
}

// BaseDelay looks up the vendor calibration table for standard mode.
func (r *Radio) BaseDelay(mod ranging.ModulationParams) (int32, bool) {
	return baseDelayTicks(mod.SpreadingFactor, mod.BandwidthHz)
}

func (r *Radio) command(ctx context.Context, op string, opcode byte, payload []byte) error {
	if _, err := r.dev.Command(ctx, opcode, payload); err != nil {
		return &ranging.RadioError{Op: op, Err: err}
	}
	return nil
}

func (r *Radio) writeRegister(ctx context.Context, addr uint16, data []byte) error {
	payload := make([]byte, 0, 2+len(data))
	payload = binary.BigEndian.AppendUint16(payload, addr)
	payload = append(payload, data...)
	return r.command(ctx, "write-register", cmdWriteRegister, payload)
}

func (r *Radio) readRegister(ctx context.Context, addr uint16, n int) ([]byte, error) {
	payload := make([]byte, 3)
	binary.BigEndian.PutUint16(payload, addr)
	payload[2] = byte(n)
	reply, err := r.dev.Command(ctx, cmdReadRegister, payload)
	if err != nil {
		return nil, &ranging.RadioError{Op: "read-register", Err: err}
	}
	if len(reply) < n {
		return nil, &ranging.RadioError{Op: "read-register", Err: fmt.Errorf("register 0x%04X: got %d of %d bytes", addr, len(reply), n)}
	}
	return reply[:n], nil
}

// readResultRegister reads one 3-byte ranging counter and sign-extends it.
func (r *Radio) readResultRegister(ctx context.Context, addr uint16) (int32, error) {
	b, err := r.readRegister(ctx, addr, 3)
	if err != nil {
		return 0, err
	}
	return signExtend24(uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])), nil
}

func (r *Radio) readIrq(ctx context.Context) (uint16, error) {
	reply, err := r.dev.Command(ctx, cmdGetIrqStatus, nil)
	if err != nil {
		return 0, &ranging.RadioError{Op: "get-irq-status", Err: err}
	}
	if len(reply) < 2 {
		return 0, &ranging.RadioError{Op: "get-irq-status", Err: fmt.Errorf("short status: %d bytes", len(reply))}
	}
	return binary.BigEndian.Uint16(reply), nil
}

// dioIrqPayload builds the SetDioIrqParams payload: the global IRQ mask
// followed by the three DIO routing masks. Everything routes to DIO1; the
// host polls status rather than watching pins, but the firmware needs the
// mask to latch only the selected sources.
func dioIrqPayload(mask uint16) []byte {
	payload := make([]byte, 0, 8)
	payload = binary.BigEndian.AppendUint16(payload, mask)
	payload = binary.BigEndian.AppendUint16(payload, mask)
	payload = binary.BigEndian.AppendUint16(payload, 0)
	payload = binary.BigEndian.AppendUint16(payload, 0)
	return payload
}

func (r *Radio) clearIrq(ctx context.Context) error {
	mask := make([]byte, 2)
	binary.BigEndian.PutUint16(mask, irqAll)
	return r.command(ctx, "clear-irq-status", cmdClearIrqStatus, mask)
}

// signExtend24 interprets the low 24 bits as a two's complement value.
func signExtend24(v uint32) int32 {
	v &= 0xFFFFFF
	if v&0x800000 != 0 {
		v |= 0xFF000000
	}
	return int32(v)
}

func beUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
