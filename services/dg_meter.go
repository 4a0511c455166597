package services

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/aj9599/submeter-billing/models"
	"github.com/goburrow/modbus"
)

// DGMeterReader reads the cumulative energy counter of a DG set.
type DGMeterReader interface {
	ReadCounter(ctx context.Context, unit models.DGUnit) (float64, error)
}

// ModbusDGReader opens a short-lived Modbus TCP connection per read.
type ModbusDGReader struct {
	Timeout time.Duration
}

func NewModbusDGReader(timeout time.Duration) *ModbusDGReader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ModbusDGReader{Timeout: timeout}
}

func (r *ModbusDGReader) ReadCounter(ctx context.Context, unit models.DGUnit) (float64, error) {
	if unit.ModbusHost == "" {
		return 0, invalid("modbus_host", "DG set %q has no Modbus address", unit.Name)
	}

	timeout := r.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	port := unit.ModbusPort
	if port == 0 {
		port = 502
	}
	handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", unit.ModbusHost, port))
	handler.Timeout = timeout
	handler.SlaveId = byte(unit.ModbusUnitID)
	if err := handler.Connect(); err != nil {
		return 0, err
	}
	defer handler.Close()

	count := unit.RegisterCount
	if count == 0 {
		count = 2
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := modbus.NewClient(handler).ReadHoldingRegisters(uint16(unit.RegisterAddress), uint16(count))
		done <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return 0, res.err
		}
		return decodeRegisters(res.data, count)
	}
}

// decodeRegisters interprets holding registers, big endian: one register is
// an unsigned 16 bit count, two an IEEE 754 float32, four a float64.
func decodeRegisters(data []byte, count int) (float64, error) {
	if len(data) < count*2 {
		return 0, fmt.Errorf("short modbus response: %d bytes for %d registers", len(data), count)
	}
	switch count {
	case 1:
		return float64(binary.BigEndian.Uint16(data)), nil
	case 2:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(data))), nil
	case 4:
		return math.Float64frombits(binary.BigEndian.Uint64(data)), nil
	default:
		return 0, fmt.Errorf("unsupported register count %d", count)
	}
}
