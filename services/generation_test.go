package services

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/aj9599/submeter-billing/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDGReader struct {
	values []float64
	err    error
}

func (s *stubDGReader) ReadCounter(ctx context.Context, unit models.DGUnit) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	v := s.values[0]
	s.values = s.values[1:]
	return v, nil
}

func TestSolarLogDedupesPerDay(t *testing.T) {
	db := newTestDB(t)
	svc := NewGenerationService(db, nil)
	ctx := context.Background()

	_, err := svc.UpsertSolarLog(ctx, admin, "2024-05-03", "40")
	require.NoError(t, err)
	log, err := svc.UpsertSolarLog(ctx, admin, "2024-05-03T17:45:00+05:30", "42.5")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-03", log.Date)
	assert.Equal(t, 42.5, log.Units)

	_, err = svc.UpsertSolarLog(ctx, admin, "2024-05-04", "10")
	require.NoError(t, err)
	_, err = svc.UpsertSolarLog(ctx, admin, "2024-06-01", "99")
	require.NoError(t, err)

	period, _ := ParseMonth("month", "2024-05")
	logs, err := svc.ListSolarLogs(ctx, admin, period)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, 42.5, logs[0].Units)
	assert.Equal(t, 10.0, logs[1].Units)
}

func TestSolarLogValidation(t *testing.T) {
	db := newTestDB(t)
	svc := NewGenerationService(db, nil)

	_, err := svc.UpsertSolarLog(context.Background(), admin, "03/05/2024", "1")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.UpsertSolarLog(context.Background(), admin, "2024-05-03", "lots")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDGLogUpsertAndMonthlyTotal(t *testing.T) {
	db := newTestDB(t)
	svc := NewGenerationService(db, nil)
	ctx := context.Background()

	_, err := svc.UpsertDGLog(ctx, admin, DGLogInput{DGName: "DG-1", Date: "2024-05-01", Units: "20", FuelLiters: "8", FuelCost: "720"})
	require.NoError(t, err)
	_, err = svc.UpsertDGLog(ctx, admin, DGLogInput{DGName: "DG-1", Date: "2024-05-01", Units: "25", FuelLiters: "9", FuelCost: "810"})
	require.NoError(t, err)
	_, err = svc.UpsertDGLog(ctx, admin, DGLogInput{DGName: "DG-1", Date: "2024-05-02", Units: "15", FuelCost: "500"})
	require.NoError(t, err)
	_, err = svc.UpsertDGLog(ctx, admin, DGLogInput{DGName: "DG-2", Date: "2024-05-02", Units: "10", FuelCost: "300"})
	require.NoError(t, err)

	period, _ := ParseMonth("month", "2024-05")
	total, err := svc.DGMonthlyTotal(ctx, admin, period)
	require.NoError(t, err)

	assert.Equal(t, "2024-05", total.Month)
	assert.Equal(t, 50.0, total.Units)
	assert.Equal(t, 1610.0, total.FuelCost)
	require.Len(t, total.PerUnit, 2)
	assert.Equal(t, "DG-1", total.PerUnit[0].DGName)
	assert.Equal(t, 40.0, total.PerUnit[0].Units)
	assert.Equal(t, 2, total.PerUnit[0].Days)
}

func TestPollDGMeterAccumulatesDeltas(t *testing.T) {
	db := newTestDB(t)
	reader := &stubDGReader{values: []float64{1000, 1012.5, 1020, 5}}
	svc := NewGenerationService(db, reader)
	ctx := context.Background()

	_, err := svc.RegisterDGUnit(ctx, admin, DGUnitInput{Name: "DG-1", ModbusHost: "10.0.0.20"})
	require.NoError(t, err)

	first, err := svc.PollDGMeter(ctx, admin, "DG-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, first.Delta)
	require.NotNil(t, first.Unit.LastCounter)
	assert.Equal(t, 1000.0, *first.Unit.LastCounter)

	_, err = svc.PollDGMeter(ctx, admin, "DG-1")
	require.NoError(t, err)
	third, err := svc.PollDGMeter(ctx, admin, "DG-1")
	require.NoError(t, err)
	assert.Equal(t, 7.5, third.Delta)
	assert.Equal(t, 20.0, third.Log.UnitsProduced)

	reset, err := svc.PollDGMeter(ctx, admin, "DG-1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, reset.Delta)
	assert.Equal(t, 25.0, reset.Log.UnitsProduced)
}

func TestPollDGMeterFailures(t *testing.T) {
	db := newTestDB(t)
	svc := NewGenerationService(db, &stubDGReader{err: errors.New("i/o timeout")})
	ctx := context.Background()

	_, err := svc.PollDGMeter(ctx, admin, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.RegisterDGUnit(ctx, admin, DGUnitInput{Name: "DG-1", ModbusHost: "10.0.0.20"})
	require.NoError(t, err)
	_, err = svc.PollDGMeter(ctx, admin, "DG-1")
	assert.ErrorIs(t, err, ErrUpstream)

	_, err = svc.RegisterDGUnit(ctx, admin, DGUnitInput{Name: "DG-2", ModbusHost: "h", RegisterCount: 3})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDecodeRegisters(t *testing.T) {
	f32 := make([]byte, 4)
	binary.BigEndian.PutUint32(f32, math.Float32bits(1234.5))
	v, err := decodeRegisters(f32, 2)
	require.NoError(t, err)
	assert.Equal(t, 1234.5, v)

	v, err = decodeRegisters([]byte{0x01, 0x00}, 1)
	require.NoError(t, err)
	assert.Equal(t, 256.0, v)

	f64 := make([]byte, 8)
	binary.BigEndian.PutUint64(f64, math.Float64bits(98765.25))
	v, err = decodeRegisters(f64, 4)
	require.NoError(t, err)
	assert.Equal(t, 98765.25, v)

	_, err = decodeRegisters([]byte{0x01}, 2)
	assert.Error(t, err)
}
