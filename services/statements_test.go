package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aj9599/submeter-billing/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statementFixture struct {
	scenario
	store    *memStore
	renderer *fakeRenderer
	events   *recordingPublisher
	svc      *StatementService
	tenants  []int64
}

// newStatementFixture bills three tenants for May 2024: A uses 100 units at
// 10 with a fixed charge of 50, B (DG-connected) 300 units at 8, C
// (DG-connected) 100 units at 12 with 5% transformer loss. DG fuel cost is 800.
func newStatementFixture(t *testing.T) *statementFixture {
	t.Helper()
	db := newTestDB(t)
	// Photos and bill scans go to their own store so that store only holds
	// statement documents.
	uploads := newMemStore()
	store := newMemStore()
	f := &statementFixture{
		scenario: scenario{
			readings: NewReadingService(db, uploads, nil, time.Second),
			bills:    NewBillService(db, uploads, time.Second),
			gen:      NewGenerationService(db, nil),
			recon:    NewReconcileService(db),
		},
		store:    store,
		renderer: &fakeRenderer{},
		events:   &recordingPublisher{},
	}
	sealer, err := crypto.NewSealer("test key")
	require.NoError(t, err)
	f.svc = NewStatementService(db, store, f.renderer, f.events, sealer, time.Second)

	ctx := context.Background()
	setClock := withClock(t, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))

	a := createTenant(t, db, admin, TenantInput{Name: "A", ShopNumber: "1", RatePerUnit: "10", FixedCharge: "50"})
	b := createTenant(t, db, admin, TenantInput{Name: "B", ShopNumber: "2", RatePerUnit: "8", DGConnected: true})
	c := createTenant(t, db, admin, TenantInput{Name: "C", ShopNumber: "3", RatePerUnit: "12", TransformerLoss: "5", DGConnected: true})
	f.tenants = []int64{a.ID, b.ID, c.ID}

	f.approveAt(t, setClock, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), a.ID, "100")
	f.approveAt(t, setClock, time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC), b.ID, "300")
	f.approveAt(t, setClock, time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC), c.ID, "100")

	_, err = f.gen.UpsertDGLog(ctx, admin, DGLogInput{DGName: "DG-1", Date: "2024-05-05", Units: "40", FuelCost: "800"})
	require.NoError(t, err)
	_, err = f.bills.AddBill(ctx, admin, BillInput{BillMonth: "2024-05", UnitsBilled: "600", EnergyCharges: "4500"}, nil)
	require.NoError(t, err)

	_, err = NewProfileService(db, sealer).UpdatePaymentProfile(ctx, admin, PaymentProfile{UPIID: "mall@okbank", CompanyName: "City Mall"})
	require.NoError(t, err)
	return f
}

func TestPreviewComputesInvoices(t *testing.T) {
	f := newStatementFixture(t)
	period, _ := ParseMonth("month", "2024-05")

	preview, err := f.svc.Preview(context.Background(), admin, period)
	require.NoError(t, err)
	require.Len(t, preview.Invoices, 3)

	a, b, c := preview.Invoices[0].Invoice, preview.Invoices[1].Invoice, preview.Invoices[2].Invoice
	assert.Equal(t, 1050.0, a.TotalAmount)
	assert.Equal(t, 0.0, a.DGCharge)
	assert.Equal(t, 600.0, b.DGCharge)
	assert.Equal(t, 3000.0, b.TotalAmount)
	assert.Equal(t, 60.0, c.TransformerLossCharge)
	assert.Equal(t, 200.0, c.DGCharge)
	assert.Equal(t, 1460.0, c.TotalAmount)

	assert.Equal(t, 5510.0, preview.TenantCollection)
	assert.Equal(t, 4500.0, preview.GridBillAmount)
	assert.Equal(t, 1010.0, preview.Profit)

	var statements int
	require.NoError(t, f.svc.db.QueryRow("SELECT COUNT(*) FROM statements").Scan(&statements))
	assert.Equal(t, 0, statements)
}

func TestPreviewReusesEarlierBillUnitsButNotItsAmount(t *testing.T) {
	f := newStatementFixture(t)

	june, err := ParseMonth("month", "2024-06")
	require.NoError(t, err)
	preview, err := f.svc.Preview(context.Background(), admin, june)
	require.NoError(t, err)

	require.NotNil(t, preview.Report.Bill)
	assert.Equal(t, "2024-05", preview.Report.Bill.BillMonth)
	assert.Equal(t, 600.0, preview.Report.GridUnits)
	assert.Equal(t, 0.0, preview.GridBillAmount)
	assert.Equal(t, preview.TenantCollection, preview.Profit)
}

func TestSaveStatementsAndSummary(t *testing.T) {
	f := newStatementFixture(t)
	ctx := context.Background()

	saved, err := f.svc.Save(ctx, admin, SaveStatementsRequest{Month: "2024-05"})
	require.NoError(t, err)
	require.Len(t, saved, 3)
	assert.Equal(t, 3, f.renderer.calls)
	assert.Equal(t, 3, f.store.count())
	for key := range f.store.objects {
		assert.True(t, strings.HasPrefix(key, FolderStatements+"/"), key)
	}

	first := saved[0]
	assert.Equal(t, "2024-05", first.Period)
	assert.Equal(t, fmt.Sprintf("STM-1-%d-202405", f.tenants[0]), first.StatementNumber)
	assert.True(t, strings.HasPrefix(first.DocumentURL, "https://files.test/statements/"))
	assert.Equal(t, 0.0, first.OpeningReading)
	assert.Equal(t, 100.0, first.ClosingReading)

	summary, err := NewSummaryService(f.svc.db).Get(ctx, admin, "2024-05")
	require.NoError(t, err)
	assert.Equal(t, 5510.0, summary.TenantCollection)
	assert.Equal(t, 4500.0, summary.GridBillAmount)
	assert.Equal(t, 1010.0, summary.Profit)
	assert.Equal(t, 500.0, summary.TenantUnits)

	assert.Contains(t, f.events.names(), EventStatementsSaved)
}

func TestSaveExistingStatementConflictsUnlessReplace(t *testing.T) {
	f := newStatementFixture(t)
	ctx := context.Background()

	_, err := f.svc.Save(ctx, admin, SaveStatementsRequest{Month: "2024-05", TenantIDs: f.tenants[:1]})
	require.NoError(t, err)

	_, err = f.svc.Save(ctx, admin, SaveStatementsRequest{Month: "2024-05"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, f.store.count())

	saved, err := f.svc.Save(ctx, admin, SaveStatementsRequest{Month: "2024-05", Replace: true})
	require.NoError(t, err)
	assert.Len(t, saved, 3)
	assert.Equal(t, 3, f.store.count(), "replaced document removed")

	list, err := f.svc.List(ctx, admin, "2024-05")
	require.NoError(t, err)
	assert.Len(t, list, 3)

	summaries, err := NewSummaryService(f.svc.db).List(ctx, admin)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 5510.0, summaries[0].TenantCollection)
}

func TestSaveIsAllOrNothingOnRenderFailure(t *testing.T) {
	f := newStatementFixture(t)
	f.renderer.failOn = 3

	_, err := f.svc.Save(context.Background(), admin, SaveStatementsRequest{Month: "2024-05"})
	assert.ErrorIs(t, err, ErrUpstream)

	var statements, summaries int
	require.NoError(t, f.svc.db.QueryRow("SELECT COUNT(*) FROM statements").Scan(&statements))
	require.NoError(t, f.svc.db.QueryRow("SELECT COUNT(*) FROM business_summaries").Scan(&summaries))
	assert.Equal(t, 0, statements)
	assert.Equal(t, 0, summaries)
	assert.Equal(t, 0, f.store.count())
}

func TestSaveUnknownTenant(t *testing.T) {
	f := newStatementFixture(t)

	_, err := f.svc.Save(context.Background(), admin, SaveStatementsRequest{Month: "2024-05", TenantIDs: []int64{999}})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Save(context.Background(), admin, SaveStatementsRequest{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteStatementLowersCollection(t *testing.T) {
	f := newStatementFixture(t)
	ctx := context.Background()

	saved, err := f.svc.Save(ctx, admin, SaveStatementsRequest{Month: "2024-05"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, admin, saved[0].ID))
	_, err = f.svc.Get(ctx, admin, saved[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, f.store.count())

	summary, err := NewSummaryService(f.svc.db).Get(ctx, admin, "2024-05")
	require.NoError(t, err)
	assert.Equal(t, 4460.0, summary.TenantCollection)
	assert.Equal(t, -40.0, summary.Profit)

	assert.ErrorIs(t, f.svc.Delete(ctx, admin, saved[0].ID), ErrNotFound)
}

func TestStatementHTMLCarriesPaymentQR(t *testing.T) {
	qr, err := paymentQRCode("mall@okbank", "City Mall", 1050, "STM-1-1-202405")
	require.NoError(t, err)

	html, err := renderStatementHTML(statementView{
		Number:  "STM-1-1-202405",
		Company: "City Mall",
		Period:  "2024-05",
		Tenant:  TenantPeriod{Name: "Cafe <Mocha>"},
		Invoice: InvoiceResult{Units: 100, RatePerUnit: 10, EnergyCharge: 1000, FixedCharge: 50, TotalAmount: 1050},
		UPIID:   "mall@okbank",
		QRCode:  qr,
	})
	require.NoError(t, err)
	assert.Contains(t, html, `src="data:image/png;base64,`)
	assert.Contains(t, html, "Cafe &lt;Mocha&gt;")
	assert.Contains(t, html, "1050.00")
	assert.NotContains(t, html, "Transformer loss")

	uri := upiPaymentURI("mall@okbank", "City Mall", 1050, "STM-1")
	assert.Equal(t, "upi://pay?am=1050.00&cu=INR&pa=mall%40okbank&pn=City+Mall&tn=STM-1", uri)
}
