package backup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"clinic-backup/internal/logging"

	"github.com/stretchr/testify/require"
)

// MockRepository implements Repository in memory
type MockRepository struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*BackupRecord
	configs map[int64]BackupConfig

	createErr   error
	completeErr error
	listErr     error
	deleteErr   error

	// afterLookup runs once, after LastSuccessful has found a record
	afterLookup func(found *BackupRecord)
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		records: make(map[int64]*BackupRecord),
		configs: make(map[int64]BackupConfig),
	}
}

func (m *MockRepository) CreateRecord(ctx context.Context, record *BackupRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return 0, m.createErr
	}
	m.nextID++
	stored := *record
	stored.ID = m.nextID
	m.records[stored.ID] = &stored
	return stored.ID, nil
}

func (m *MockRepository) CompleteRecord(ctx context.Context, id int64, completion RecordCompletion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return m.completeErr
	}
	record, ok := m.records[id]
	if !ok {
		return NewNotFoundError(fmt.Sprintf("backup %d not found", id), nil)
	}
	if record.Status.IsTerminal() {
		return ErrRecordImmutable
	}
	completedAt := completion.CompletedAt
	record.Status = completion.Status
	record.FilePath = completion.FilePath
	record.FileSizeBytes = completion.FileSizeBytes
	record.ChecksumSHA256 = completion.ChecksumSHA256
	record.IsEncrypted = completion.IsEncrypted
	record.Compression = completion.Compression
	record.DatabaseRecords = completion.DatabaseRecords
	record.CompletedAt = &completedAt
	record.ErrorMessage = completion.ErrorMessage
	return nil
}

func (m *MockRepository) GetRecord(ctx context.Context, id int64) (*BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, NewNotFoundError(fmt.Sprintf("backup %d not found", id), nil)
	}
	copied := *record
	return &copied, nil
}

func (m *MockRepository) ListRecords(ctx context.Context, filter RecordFilter) ([]*BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}

	var out []*BackupRecord
	for _, record := range m.records {
		if filter.TenantID != 0 && record.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		if filter.BackupType != "" && record.BackupType != filter.BackupType {
			continue
		}
		if !filter.Since.IsZero() && record.StartedAt.Before(filter.Since) {
			continue
		}
		copied := *record
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MockRepository) LastSuccessful(ctx context.Context, tenantID int64, types ...BackupType) (*BackupRecord, error) {
	records, err := m.ListRecords(ctx, RecordFilter{TenantID: tenantID, Status: BackupStatusSuccess})
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		for _, t := range types {
			if record.BackupType == t {
				m.mu.Lock()
				hook := m.afterLookup
				m.afterLookup = nil
				m.mu.Unlock()
				if hook != nil {
					hook(record)
				}
				return record, nil
			}
		}
	}
	return nil, NewNotFoundError(fmt.Sprintf("tenant %d has no successful backup", tenantID), nil)
}

func (m *MockRepository) DeleteRecord(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.records, id)
	return nil
}

func (m *MockRepository) GetConfig(ctx context.Context, tenantID int64) (BackupConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if config, ok := m.configs[tenantID]; ok {
		return config, nil
	}
	return DefaultBackupConfig(tenantID), nil
}

func (m *MockRepository) UpsertConfig(ctx context.Context, config BackupConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[config.TenantID] = config
	return nil
}

// seed stores a finished record directly
func (m *MockRepository) seed(record BackupRecord) *BackupRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	record.ID = m.nextID
	m.records[record.ID] = &record
	return &record
}

func (m *MockRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MockRepository) has(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[id]
	return ok
}

// MockTenantSource implements TenantSource and RestoreTarget
type MockTenantSource struct {
	mu       sync.Mutex
	tenants  []Tenant
	data     map[int64]map[string]TableSnapshot
	errs     map[int64]error
	since    map[int64]*time.Time
	block    bool
	entered  chan struct{}
	panicOn  int64
	restored map[int64]map[string]TableSnapshot
}

func NewMockTenantSource(ids ...int64) *MockTenantSource {
	ts := &MockTenantSource{
		data:     make(map[int64]map[string]TableSnapshot),
		errs:     make(map[int64]error),
		since:    make(map[int64]*time.Time),
		restored: make(map[int64]map[string]TableSnapshot),
	}
	for _, id := range ids {
		ts.tenants = append(ts.tenants, Tenant{ID: id, Name: fmt.Sprintf("Clinic %d", id)})
		ts.data[id] = sampleTables(id)
	}
	return ts
}

func (ts *MockTenantSource) ListActiveTenants(ctx context.Context) ([]Tenant, error) {
	return ts.tenants, nil
}

func (ts *MockTenantSource) SnapshotTenant(ctx context.Context, tenantID int64, since *time.Time) (map[string]TableSnapshot, error) {
	ts.mu.Lock()
	ts.since[tenantID] = since
	err := ts.errs[tenantID]
	block := ts.block
	entered := ts.entered
	ts.mu.Unlock()

	if ts.panicOn == tenantID {
		panic("snapshot exploded")
	}
	if block {
		if entered != nil {
			entered <- struct{}{}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]TableSnapshot)
	for name, table := range ts.data[tenantID] {
		out[name] = table
	}
	return out, nil
}

func (ts *MockTenantSource) ReplaceTenantData(ctx context.Context, tenantID int64, tables map[string]TableSnapshot) (*RestoreStats, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.restored[tenantID] = tables
	stats := &RestoreStats{TablesRestored: len(tables)}
	for _, table := range tables {
		stats.RecordsRestored += int64(len(table.Records))
	}
	return stats, nil
}

func sampleTables(tenantID int64) map[string]TableSnapshot {
	return map[string]TableSnapshot{
		"patients": {TableName: "patients", Records: []map[string]interface{}{
			{"id": 1, "tenant_id": tenantID, "name": "Ana"},
			{"id": 2, "tenant_id": tenantID, "name": "Bruno"},
		}},
		"appointments": {TableName: "appointments", Records: []map[string]interface{}{
			{"id": 10, "tenant_id": tenantID, "patient_id": 1},
		}},
	}
}

// MockObjectStore implements ObjectStore and HealthChecker in memory
type MockObjectStore struct {
	mu         sync.Mutex
	name       string
	objects    map[string][]byte
	failPrefix string
	getErr     error
	deleteErr  error
	healthErr  error
	deleted    []string
}

func NewMockObjectStore(name string) *MockObjectStore {
	return &MockObjectStore{name: name, objects: make(map[string][]byte)}
}

func (s *MockObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPrefix != "" && strings.HasPrefix(key, s.failPrefix) {
		return "", NewStorageError("upload refused", nil)
	}
	s.objects[key] = append([]byte(nil), data...)
	return "mock://" + key, nil
}

func (s *MockObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, NewNotFoundError("object not found: "+key, nil)
	}
	return append([]byte(nil), data...), nil
}

func (s *MockObjectStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *MockObjectStore) Name() string {
	return s.name
}

func (s *MockObjectStore) HealthCheck(ctx context.Context) error {
	return s.healthErr
}

func (s *MockObjectStore) object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

func (s *MockObjectStore) set(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
}

// MockNotifier implements Notifier and records every report
type MockNotifier struct {
	mu      sync.Mutex
	reports []Report
	err     error
}

func (n *MockNotifier) Send(ctx context.Context, report Report) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, report)
	if n.err != nil {
		return false, n.err
	}
	return true, nil
}

func (n *MockNotifier) byKind(kind ReportKind) []Report {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Report
	for _, r := range n.reports {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

const testSecret = "test-system-secret"

// testEnv wires a Manager against the in-memory collaborators
type testEnv struct {
	repo     *MockRepository
	tenants  *MockTenantSource
	primary  *MockObjectStore
	offline  *MockObjectStore
	notifier *MockNotifier
	manager  *Manager
	clock    *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestEnv(t *testing.T, tenantIDs ...int64) *testEnv {
	t.Helper()

	env := &testEnv{
		repo:     NewMockRepository(),
		tenants:  NewMockTenantSource(tenantIDs...),
		primary:  NewMockObjectStore("primary"),
		offline:  NewMockObjectStore("offline"),
		notifier: &MockNotifier{},
		clock:    &fakeClock{now: time.Date(2026, 10, 19, 3, 0, 0, 0, time.UTC)},
	}

	manager, err := NewManager(ManagerDeps{
		Repository: env.repo,
		Tenants:    env.tenants,
		Restorer:   env.tenants,
		Stores:     Stores{Primary: env.primary, Offline: env.offline},
		Codec:      NewCodec(CompressionTypeGzip, 0, 1000),
		Notifier:   env.notifier,
		Logger:     logging.NewNopLogger(),
	}, ManagerConfig{SystemSecret: testSecret, ProductVersion: "test"})
	require.NoError(t, err)
	manager.now = env.clock.Now
	env.manager = manager

	return env
}
