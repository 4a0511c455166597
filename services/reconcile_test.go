package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scenario struct {
	readings *ReadingService
	bills    *BillService
	gen      *GenerationService
	recon    *ReconcileService
}

func newScenario(t *testing.T) scenario {
	db := newTestDB(t)
	store := newMemStore()
	return scenario{
		readings: NewReadingService(db, store, nil, time.Second),
		bills:    NewBillService(db, store, time.Second),
		gen:      NewGenerationService(db, nil),
		recon:    NewReconcileService(db),
	}
}

// approveAt submits and approves a reading with the clock set to at.
func (s scenario) approveAt(t *testing.T, setClock func(time.Time), at time.Time, tenantID int64, value string) {
	t.Helper()
	setClock(at)
	r, err := s.readings.Submit(context.Background(), admin, tenantID, value, photo)
	require.NoError(t, err)
	_, err = s.readings.Approve(context.Background(), admin, r.ID)
	require.NoError(t, err)
}

func TestReconcileMonthFromStore(t *testing.T) {
	s := newScenario(t)
	ctx := context.Background()
	setClock := withClock(t, time.Date(2024, 4, 20, 10, 0, 0, 0, time.UTC))

	a := createTenant(t, s.readings.db, admin, TenantInput{Name: "A", OpeningMeter: "100"})
	b := createTenant(t, s.readings.db, admin, TenantInput{Name: "B", Multiplier: "10"})
	c := createTenant(t, s.readings.db, admin, TenantInput{Name: "C"})

	// April approvals move the opening, not the May spike.
	s.approveAt(t, setClock, time.Date(2024, 4, 25, 0, 0, 0, 0, time.UTC), a.ID, "50")

	s.approveAt(t, setClock, time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC), a.ID, "150")
	s.approveAt(t, setClock, time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC), a.ID, "250")
	s.approveAt(t, setClock, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), b.ID, "35")
	s.approveAt(t, setClock, time.Date(2024, 5, 31, 23, 0, 0, 0, time.UTC), c.ID, "250")
	s.approveAt(t, setClock, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), c.ID, "999")

	// Pending and rejected readings do not count.
	setClock(time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC))
	_, err := s.readings.Submit(ctx, admin, c.ID, "70", photo)
	require.NoError(t, err)

	_, err = s.bills.AddBill(ctx, admin, BillInput{BillMonth: "2024-04", UnitsBilled: "1", EnergyCharges: "1"}, nil)
	require.NoError(t, err)
	_, err = s.bills.AddBill(ctx, admin, BillInput{BillMonth: "2024-05", UnitsBilled: "1000", EnergyCharges: "8000", FixedCharges: "500", TaxCharges: "400"}, nil)
	require.NoError(t, err)
	_, err = s.gen.UpsertSolarLog(ctx, admin, "2024-05-02", "60")
	require.NoError(t, err)
	_, err = s.gen.UpsertSolarLog(ctx, admin, "2024-05-18", "40")
	require.NoError(t, err)
	_, err = s.gen.UpsertDGLog(ctx, admin, DGLogInput{DGName: "DG-1", Date: "2024-05-07", Units: "50", FuelCost: "1500"})
	require.NoError(t, err)

	period, _ := ParseMonth("month", "2024-05")
	report, err := s.recon.Reconcile(ctx, admin, period)
	require.NoError(t, err)

	assert.Equal(t, 1000.0, report.GridUnits)
	assert.Equal(t, 100.0, report.SolarUnits)
	assert.Equal(t, 50.0, report.DGUnits)
	assert.Equal(t, 1150.0, report.TotalEnergyIn)
	assert.Equal(t, 1000.0, report.TenantSum)
	assert.Equal(t, 150.0, report.CommonLoss)
	assert.InDelta(t, 13.04, report.LossPercent, 0.001)
	assert.Equal(t, 1500.0, report.DGFuelCost)
	require.NotNil(t, report.Bill)
	assert.Equal(t, 8900.0, report.Bill.TotalAmount)

	require.Len(t, report.Tenants, 3)
	byName := map[string]TenantPeriod{}
	for _, tp := range report.Tenants {
		byName[tp.Name] = tp
	}
	assert.Equal(t, 150.0, byName["A"].OpeningReading)
	assert.Equal(t, 550.0, byName["A"].ClosingReading)
	assert.Equal(t, 400.0, byName["A"].Units)
	assert.Equal(t, 2, byName["A"].Readings)
	assert.Equal(t, 35.0, byName["B"].Spike)
	assert.Equal(t, 350.0, byName["B"].Units)
	assert.Equal(t, 250.0, byName["C"].Units)
}

func TestReconcileWithoutData(t *testing.T) {
	s := newScenario(t)
	period, _ := ParseMonth("month", "2024-05")

	report, err := s.recon.Reconcile(context.Background(), admin, period)
	require.NoError(t, err)
	assert.Nil(t, report.Bill)
	assert.Equal(t, 0.0, report.TotalEnergyIn)
	assert.Equal(t, 0.0, report.LossPercent)
	assert.Empty(t, report.Tenants)
}

func TestReconcileUsesLatestEarlierBill(t *testing.T) {
	s := newScenario(t)
	ctx := context.Background()

	_, err := s.bills.AddBill(ctx, admin, BillInput{BillMonth: "2024-03", UnitsBilled: "700"}, nil)
	require.NoError(t, err)
	_, err = s.bills.AddBill(ctx, admin, BillInput{BillMonth: "2024-07", UnitsBilled: "900"}, nil)
	require.NoError(t, err)

	period, _ := ParseMonth("month", "2024-05")
	report, err := s.recon.Reconcile(ctx, admin, period)
	require.NoError(t, err)
	assert.Equal(t, 700.0, report.GridUnits)
}

func TestReconcileDoesNotMutate(t *testing.T) {
	s := newScenario(t)
	ctx := context.Background()
	tenant := createTenant(t, s.readings.db, admin, TenantInput{OpeningMeter: "10"})

	period, _ := ParseMonth("month", "")
	_, err := s.recon.Reconcile(ctx, admin, period)
	require.NoError(t, err)

	after, err := getTenant(ctx, s.readings.db, admin.AdminID, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.CurrentClosing, after.CurrentClosing)

	var summaries int
	require.NoError(t, s.readings.db.QueryRow("SELECT COUNT(*) FROM business_summaries").Scan(&summaries))
	assert.Equal(t, 0, summaries)
}
