package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aj9599/submeter-billing/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReadingService(t *testing.T) (*ReadingService, *memStore, *recordingPublisher) {
	t.Helper()
	db := newTestDB(t)
	store := newMemStore()
	events := &recordingPublisher{}
	return NewReadingService(db, store, events, time.Second), store, events
}

func TestApproveAdvancesClosing(t *testing.T) {
	svc, _, events := newReadingService(t)
	ctx := context.Background()
	tenant := createTenant(t, svc.db, admin, TenantInput{OpeningMeter: "2000"})
	staff := addStaff(t, svc.db, admin.AdminID)

	reading, err := svc.Submit(ctx, staff, tenant.ID, "500", photo)
	require.NoError(t, err)
	assert.Equal(t, models.ReadingPending, reading.Status)
	assert.Equal(t, staff.UserID, reading.SubmittedBy)

	approved, err := svc.Approve(ctx, admin, reading.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReadingApproved, approved.Status)
	require.NotNil(t, approved.ClosingBefore)
	require.NotNil(t, approved.ClosingAfter)
	assert.Equal(t, 2000.0, *approved.ClosingBefore)
	assert.Equal(t, 2500.0, *approved.ClosingAfter)

	updated, err := getTenant(ctx, svc.db, admin.AdminID, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, updated.CurrentClosing)
	assert.NotNil(t, updated.LastUpdated)

	assert.Equal(t, []string{EventReadingSubmitted, EventReadingApproved}, events.names())
}

func TestApproveTwiceConflicts(t *testing.T) {
	svc, _, _ := newReadingService(t)
	ctx := context.Background()
	tenant := createTenant(t, svc.db, admin, TenantInput{OpeningMeter: "2000"})

	reading, err := svc.Submit(ctx, admin, tenant.ID, "500", photo)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, admin, reading.ID)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, admin, reading.ID)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.Reject(ctx, admin, reading.ID, "wrong_meter")
	assert.ErrorIs(t, err, ErrConflict)

	updated, err := getTenant(ctx, svc.db, admin.AdminID, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, updated.CurrentClosing)
}

func TestRejectLeavesClosingUnchanged(t *testing.T) {
	svc, _, _ := newReadingService(t)
	ctx := context.Background()
	tenant := createTenant(t, svc.db, admin, TenantInput{OpeningMeter: "2000"})

	reading, err := svc.Submit(ctx, admin, tenant.ID, "500", photo)
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, admin, reading.ID, "blurry_photo")
	require.NoError(t, err)
	assert.Equal(t, models.ReadingRejected, rejected.Status)
	assert.Equal(t, RejectionTemplates["blurry_photo"], rejected.RejectionReason)
	assert.Nil(t, rejected.ClosingAfter)

	updated, err := getTenant(ctx, svc.db, admin.AdminID, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, updated.CurrentClosing)

	_, err = svc.Approve(ctx, admin, reading.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRejectKeepsFreeTextReason(t *testing.T) {
	svc, _, _ := newReadingService(t)
	ctx := context.Background()
	tenant := createTenant(t, svc.db, admin, TenantInput{})

	reading, err := svc.Submit(ctx, admin, tenant.ID, "10", photo)
	require.NoError(t, err)
	rejected, err := svc.Reject(ctx, admin, reading.ID, "  shop was closed  ")
	require.NoError(t, err)
	assert.Equal(t, "shop was closed", rejected.RejectionReason)
}

func TestRejectRequiresReason(t *testing.T) {
	svc, _, _ := newReadingService(t)
	ctx := context.Background()
	tenant := createTenant(t, svc.db, admin, TenantInput{})

	reading, err := svc.Submit(ctx, admin, tenant.ID, "10", photo)
	require.NoError(t, err)

	_, err = svc.Reject(ctx, admin, reading.ID, "   ")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "reason", ve.Field)

	still, err := svc.Get(ctx, admin, reading.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReadingPending, still.Status)
}

func TestDecideMissingReading(t *testing.T) {
	svc, _, _ := newReadingService(t)

	_, err := svc.Approve(context.Background(), admin, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Reject(context.Background(), admin, 999, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadingTakerCannotApprove(t *testing.T) {
	svc, _, _ := newReadingService(t)
	staff := addStaff(t, svc.db, admin.AdminID)
	tenant := createTenant(t, svc.db, admin, TenantInput{})

	reading, err := svc.Submit(context.Background(), staff, tenant.ID, "10", photo)
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), staff, reading.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestOtherAdminCannotApprove(t *testing.T) {
	svc, _, _ := newReadingService(t)
	other := addAdmin(t, svc.db, "ADM-OTHER")
	tenant := createTenant(t, svc.db, admin, TenantInput{})

	reading, err := svc.Submit(context.Background(), admin, tenant.ID, "10", photo)
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), other, reading.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitValidation(t *testing.T) {
	svc, store, _ := newReadingService(t)
	ctx := context.Background()
	tenant := createTenant(t, svc.db, admin, TenantInput{})

	_, err := svc.Submit(ctx, admin, tenant.ID, "abc", photo)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Submit(ctx, admin, tenant.ID, "-5", photo)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Submit(ctx, admin, tenant.ID, "5", Photo{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Submit(ctx, admin, 999, "5", photo)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 0, store.count())
}

func TestSubmitUploadFailurePersistsNothing(t *testing.T) {
	svc, store, _ := newReadingService(t)
	store.failPut = errors.New("bucket unavailable")
	tenant := createTenant(t, svc.db, admin, TenantInput{})

	_, err := svc.Submit(context.Background(), admin, tenant.ID, "5", photo)
	assert.ErrorIs(t, err, ErrUpstream)

	list, err := svc.List(context.Background(), admin, ReadingFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestListFilters(t *testing.T) {
	svc, _, _ := newReadingService(t)
	ctx := context.Background()
	staff := addStaff(t, svc.db, admin.AdminID)
	a := createTenant(t, svc.db, admin, TenantInput{Name: "A"})
	b := createTenant(t, svc.db, admin, TenantInput{Name: "B"})

	r1, err := svc.Submit(ctx, staff, a.ID, "1", photo)
	require.NoError(t, err)
	_, err = svc.Submit(ctx, staff, b.ID, "2", photo)
	require.NoError(t, err)
	_, err = svc.Submit(ctx, admin, b.ID, "3", photo)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, admin, r1.ID)
	require.NoError(t, err)

	pending, err := svc.List(ctx, admin, ReadingFilter{Status: models.ReadingPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	forB, err := svc.List(ctx, admin, ReadingFilter{TenantID: b.ID})
	require.NoError(t, err)
	assert.Len(t, forB, 2)

	mine, err := svc.ListMine(ctx, staff)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	_, err = svc.List(ctx, admin, ReadingFilter{Status: "Maybe"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.List(ctx, staff, ReadingFilter{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestExportRowsWithinPeriod(t *testing.T) {
	svc, _, _ := newReadingService(t)
	ctx := context.Background()
	setClock := withClock(t, time.Date(2024, 4, 30, 12, 0, 0, 0, time.UTC))
	tenant := createTenant(t, svc.db, admin, TenantInput{Name: "Cafe"})

	_, err := svc.Submit(ctx, admin, tenant.ID, "1", photo)
	require.NoError(t, err)
	setClock(time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC))
	_, err = svc.Submit(ctx, admin, tenant.ID, "2", photo)
	require.NoError(t, err)

	period, err := ParseMonth("month", "2024-05")
	require.NoError(t, err)
	rows, err := svc.ExportRows(ctx, admin, period)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2.0, rows[0].ClosingValue)
	assert.Equal(t, "Cafe", rows[0].TenantName)
	assert.Equal(t, "Administrator", rows[0].SubmittedBy)

	xlsx, err := ReadingExporter{}.Export(rows)
	require.NoError(t, err)
	assert.Equal(t, "PK", string(xlsx[:2]))
}
