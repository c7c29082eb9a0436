package usb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
)

// statusOK is the first byte of every successful command reply.
const statusOK = 0x00

const maxFramePayload = 255

// Device is an open USB ranging modem. All wire traffic goes through
// Command, which serializes access to the bulk endpoint pair.
type Device struct {
	usbDevice    *gousb.Device
	usbConfig    *gousb.Config
	usbInterface *gousb.Interface
	epIn         *gousb.InEndpoint
	epOut        *gousb.OutEndpoint

	Serial       string
	Manufacturer string
	Product      string
	Bus          int
	Address      int

	mu sync.Mutex
}

// FindAllDevices enumerates every connected ranging modem.
func FindAllDevices(usbCtx *gousb.Context) ([]*Device, error) {
	devices := []*Device{}

	usbDevices, err := usbCtx.OpenDevices(func(descriptor *gousb.DeviceDesc) bool {
		return descriptor.Vendor == gousb.ID(VendorID) && descriptor.Product == gousb.ID(ProductID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	for _, usbDev := range usbDevices {
		device, err := wrapDevice(usbDev)
		if err != nil {
			usbDev.Close()
			continue
		}
		devices = append(devices, device)
	}

	return devices, nil
}

// OpenDevice opens a modem, optionally selecting it by serial number.
func OpenDevice(usbCtx *gousb.Context, serial string) (*Device, error) {
	usbDev, err := usbCtx.OpenDeviceWithVIDPID(gousb.ID(VendorID), gousb.ID(ProductID))
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	if usbDev == nil {
		return nil, fmt.Errorf("ranging modem not found")
	}

	device, err := wrapDevice(usbDev)
	if err != nil {
		usbDev.Close()
		return nil, err
	}

	if serial != "" && device.Serial != serial {
		device.Close()
		return nil, fmt.Errorf("device serial mismatch: wanted %s, got %s", serial, device.Serial)
	}

	return device, nil
}

func wrapDevice(usbDev *gousb.Device) (*Device, error) {
	manufacturer, _ := usbDev.Manufacturer()
	product, _ := usbDev.Product()
	serial, _ := usbDev.SerialNumber()

	usbDev.SetAutoDetach(true)

	config, err := usbDev.Config(1)
	if err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}

	iface, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		return nil, fmt.Errorf("failed to claim interface: %w", err)
	}

	epIn, err := iface.InEndpoint(EndpointIn)
	if err != nil {
		iface.Close()
		config.Close()
		return nil, fmt.Errorf("failed to get IN endpoint: %w", err)
	}

	epOut, err := iface.OutEndpoint(EndpointOut)
	if err != nil {
		iface.Close()
		config.Close()
		return nil, fmt.Errorf("failed to get OUT endpoint: %w", err)
	}

	desc := usbDev.Desc
	device := &Device{
		usbDevice:    usbDev,
		usbConfig:    config,
		usbInterface: iface,
		epIn:         epIn,
		epOut:        epOut,
		Serial:       serial,
		Manufacturer: manufacturer,
		Product:      product,
		Bus:          desc.Bus,
		Address:      desc.Address,
	}

	device.drainReceiveEndpoint()

	return device, nil
}

// Close releases the interface, configuration and device handle.
func (d *Device) Close() error {
	if d.usbInterface != nil {
		d.usbInterface.Close()
	}
	if d.usbConfig != nil {
		d.usbConfig.Close()
	}
	if d.usbDevice != nil {
		return d.usbDevice.Close()
	}
	return nil
}

// drainReceiveEndpoint discards stale replies left over from a previous
// session so the first command sees a clean pipe.
func (d *Device) drainReceiveEndpoint() {
	buf := make([]byte, 512)
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		n, err := d.epIn.ReadContext(ctx, buf)
		cancel()
		if err != nil || n == 0 {
			break
		}
	}
}

// Command sends one framed command and returns the reply payload.
func (d *Device) Command(ctx context.Context, opcode byte, payload []byte) ([]byte, error) {
	frame, err := encodeFrame(opcode, payload)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.epOut.WriteContext(ctx, frame); err != nil {
		return nil, fmt.Errorf("write command 0x%02X: %w", opcode, err)
	}

	buf := make([]byte, 2+maxFramePayload)
	n, err := d.epIn.ReadContext(ctx, buf)
	if err != nil {
		return nil, fmt.Errorf("read reply to 0x%02X: %w", opcode, err)
	}

	reply, err := decodeReply(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("command 0x%02X: %w", opcode, err)
	}
	return reply, nil
}

// encodeFrame builds the wire frame: opcode, payload length, payload.
func encodeFrame(opcode byte, payload []byte) ([]byte, error) {
	if len(payload) > maxFramePayload {
		return nil, fmt.Errorf("payload too long: %d bytes", len(payload))
	}
	frame := make([]byte, 0, 2+len(payload))
	frame = append(frame, opcode, byte(len(payload)))
	frame = append(frame, payload...)
	return frame, nil
}

// decodeReply validates a reply frame (status, length, payload) and
// returns the payload.
func decodeReply(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("short reply: %d bytes", len(frame))
	}
	if frame[0] != statusOK {
		return nil, fmt.Errorf("modem returned status 0x%02X", frame[0])
	}
	length := int(frame[1])
	if len(frame) < 2+length {
		return nil, fmt.Errorf("truncated reply: want %d payload bytes, have %d", length, len(frame)-2)
	}
	return frame[2 : 2+length], nil
}
