package proximity

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/mklimuk/protractor"
)

// DeviceInfo gathers the identification and supply diagnostics of the sensor.
type DeviceInfo struct {
	ProductType  string `yaml:"product_type"`
	SerialNumber uint32 `yaml:"serial_number"`
	VoltageMV    int    `yaml:"voltage_mv"`
}

// query tells the sensor what the next data request should return and
// reads count data points of the answer.
func (p *Protractor) query(ctx context.Context, op byte, count int) error {
	err := p.command(ctx, p.config.QueryDelay, op, protractor.Terminator)
	if err != nil {
		return err
	}
	_, err = p.Read(ctx, count)
	if err != nil {
		return fmt.Errorf("protractor: query %#x: %w", op, err)
	}
	return nil
}

// ProductType reads the two character product type of the sensor.
func (p *Protractor) ProductType(ctx context.Context) (string, error) {
	if err := p.query(ctx, protractor.OpProductType, 1); err != nil {
		return "", err
	}
	return string(p.buf[0:2]), nil
}

// Connected reports whether the sensor answers with its product signature.
func (p *Protractor) Connected(ctx context.Context) bool {
	return p.Ping(ctx) == nil
}

// Ping checks the product signature and returns ErrNotConnected when it does not match.
func (p *Protractor) Ping(ctx context.Context) error {
	pt, err := p.ProductType(ctx)
	if err != nil {
		return err
	}
	if pt != ProductSignature {
		return fmt.Errorf("protractor: got product type %q: %w", pt, protractor.ErrNotConnected)
	}
	return nil
}

// SerialNumber reads the serial number (4 bytes, little endian).
func (p *Protractor) SerialNumber(ctx context.Context) (uint32, error) {
	if err := p.query(ctx, protractor.OpSerialNumber, 1); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p.buf[0:4]), nil
}

// Voltage reads the supply voltage sensed by the sensor in millivolts.
// Accuracy is +/-10% above 6.5V and +/-15% below. It returns -1 when the
// sensor did not answer.
func (p *Protractor) Voltage(ctx context.Context) (int, error) {
	if err := p.query(ctx, protractor.OpVoltage, 1); err != nil {
		return -1, err
	}
	return int(int16(binary.LittleEndian.Uint16(p.buf[0:2]))), nil
}

// Reflections reads the raw amount of light reflected on each of the 8 emitters.
func (p *Protractor) Reflections(ctx context.Context) ([8]byte, error) {
	var data [8]byte
	if err := p.query(ctx, protractor.OpReflections, 2); err != nil {
		return data, err
	}
	copy(data[:], p.buf[:8])
	return data, nil
}

// CommParams reads the raw communication parameters stored by the sensor.
func (p *Protractor) CommParams(ctx context.Context) ([12]byte, error) {
	var data [12]byte
	if err := p.query(ctx, protractor.OpCommParams, 3); err != nil {
		return data, err
	}
	copy(data[:], p.buf[:12])
	return data, nil
}

func (p *Protractor) Info(ctx context.Context) (*DeviceInfo, error) {
	pt, err := p.ProductType(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not read product type: %w", err)
	}
	sn, err := p.SerialNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not read serial number: %w", err)
	}
	mv, err := p.Voltage(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not read voltage: %w", err)
	}
	return &DeviceInfo{ProductType: pt, SerialNumber: sn, VoltageMV: mv}, nil
}
