package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aj9599/submeter-billing/database"
	"github.com/aj9599/submeter-billing/models"
	"github.com/stretchr/testify/require"
)

// The seeded default admin.
var admin = AdminContext{AdminID: 1, UserID: 1, Role: models.RoleAdmin}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db))
	t.Cleanup(func() { db.Close() })
	return db
}

// withClock pins the package clock for the duration of the test.
func withClock(t *testing.T, at time.Time) func(time.Time) {
	t.Helper()
	prev := now
	current := at
	now = func() time.Time { return current }
	t.Cleanup(func() { now = prev })
	return func(next time.Time) { current = next }
}

func addStaff(t *testing.T, db *sql.DB, adminID int64) AdminContext {
	t.Helper()
	res, err := db.Exec(`INSERT INTO users (name, email, password_hash, role, belongs_to_admin)
		VALUES ('Ravi', ?, 'x', 'ReadingTaker', ?)`, fmt.Sprintf("ravi%d@example.com", time.Now().UnixNano()), adminID)
	require.NoError(t, err)
	id, _ := res.LastInsertId()
	return AdminContext{AdminID: adminID, UserID: id, Role: models.RoleReadingTaker}
}

func addAdmin(t *testing.T, db *sql.DB, code string) AdminContext {
	t.Helper()
	res, err := db.Exec(`INSERT INTO users (name, email, password_hash, role, admin_code, company_name)
		VALUES ('Other', ?, 'x', 'Admin', ?, 'Other Mall')`, code+"@example.com", code)
	require.NoError(t, err)
	id, _ := res.LastInsertId()
	return AdminContext{AdminID: id, UserID: id, Role: models.RoleAdmin}
}

func createTenant(t *testing.T, db *sql.DB, ac AdminContext, in TenantInput) *models.Tenant {
	t.Helper()
	if in.Name == "" {
		in.Name = "Shop"
	}
	if in.MeterNumber == "" {
		in.MeterNumber = "M-1"
	}
	if in.RatePerUnit == "" {
		in.RatePerUnit = "10"
	}
	tenant, err := NewTenantService(db).Create(context.Background(), ac, in)
	require.NoError(t, err)
	return tenant
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	failPut error
	puts    int
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Put(ctx context.Context, folder, name, contentType string, data []byte) (StoredDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return StoredDocument{}, m.failPut
	}
	m.puts++
	key := fmt.Sprintf("%s/%d-%s", folder, m.puts, name)
	m.objects[key] = data
	return StoredDocument{URL: "https://files.test/" + key, Key: key}, nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type fakeRenderer struct {
	mu    sync.Mutex
	calls int
	// failOn makes the n-th call (1-based) fail; 0 never fails.
	failOn int
}

func (r *fakeRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failOn > 0 && r.calls == r.failOn {
		return nil, errors.New("chrome crashed")
	}
	return []byte("%PDF-1.4 " + html[:10]), nil
}

type recordedEvent struct {
	adminID int64
	event   string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, adminID int64, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{adminID, event})
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.event
	}
	return out
}

var photo = Photo{Name: "meter.jpg", ContentType: "image/jpeg", Data: []byte("jpeg")}
