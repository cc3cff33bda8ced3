package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"clinic-backup/internal/backup"
	"clinic-backup/internal/config"
	appErrors "clinic-backup/internal/errors"
	"clinic-backup/internal/logging"
	"clinic-backup/internal/scheduler"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryRepository keeps backup history in memory
type memoryRepository struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*backup.BackupRecord
	configs map[int64]backup.BackupConfig
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		records: make(map[int64]*backup.BackupRecord),
		configs: make(map[int64]backup.BackupConfig),
	}
}

func (r *memoryRepository) CreateRecord(ctx context.Context, record *backup.BackupRecord) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	stored := *record
	stored.ID = r.nextID
	r.records[stored.ID] = &stored
	return stored.ID, nil
}

func (r *memoryRepository) CompleteRecord(ctx context.Context, id int64, c backup.RecordCompletion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return backup.NewNotFoundError("no such record", nil)
	}
	completed := c.CompletedAt
	record.Status = c.Status
	record.FilePath = c.FilePath
	record.FileSizeBytes = c.FileSizeBytes
	record.ChecksumSHA256 = c.ChecksumSHA256
	record.IsEncrypted = c.IsEncrypted
	record.Compression = c.Compression
	record.DatabaseRecords = c.DatabaseRecords
	record.CompletedAt = &completed
	record.ErrorMessage = c.ErrorMessage
	return nil
}

func (r *memoryRepository) GetRecord(ctx context.Context, id int64) (*backup.BackupRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return nil, backup.NewNotFoundError("no such record", nil)
	}
	copied := *record
	return &copied, nil
}

func (r *memoryRepository) ListRecords(ctx context.Context, filter backup.RecordFilter) ([]*backup.BackupRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*backup.BackupRecord
	for _, record := range r.records {
		if filter.TenantID != 0 && record.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		if filter.BackupType != "" && record.BackupType != filter.BackupType {
			continue
		}
		copied := *record
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memoryRepository) LastSuccessful(ctx context.Context, tenantID int64, types ...backup.BackupType) (*backup.BackupRecord, error) {
	records, _ := r.ListRecords(ctx, backup.RecordFilter{TenantID: tenantID, Status: backup.BackupStatusSuccess})
	for _, record := range records {
		for _, t := range types {
			if record.BackupType == t {
				return record, nil
			}
		}
	}
	return nil, backup.NewNotFoundError("no successful backup", nil)
}

func (r *memoryRepository) DeleteRecord(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}

func (r *memoryRepository) GetConfig(ctx context.Context, tenantID int64) (backup.BackupConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, ok := r.configs[tenantID]; ok {
		return cfg, nil
	}
	return backup.DefaultBackupConfig(tenantID), nil
}

func (r *memoryRepository) UpsertConfig(ctx context.Context, cfg backup.BackupConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.TenantID] = cfg
	return nil
}

// staticTenants serves one fixed snapshot per tenant
type staticTenants struct {
	ids []int64
}

func (s *staticTenants) ListActiveTenants(ctx context.Context) ([]backup.Tenant, error) {
	tenants := make([]backup.Tenant, 0, len(s.ids))
	for _, id := range s.ids {
		tenants = append(tenants, backup.Tenant{ID: id})
	}
	return tenants, nil
}

func (s *staticTenants) SnapshotTenant(ctx context.Context, tenantID int64, since *time.Time) (map[string]backup.TableSnapshot, error) {
	return map[string]backup.TableSnapshot{
		"patients": {
			TableName: "patients",
			Records: []map[string]interface{}{
				{"id": 1, "tenant_id": tenantID, "name": "Ana"},
				{"id": 2, "tenant_id": tenantID, "name": "Bruno"},
			},
			Count: 2,
		},
	}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.Host = "localhost"
	cfg.Database.Username = "backup"
	cfg.Encryption.SystemSecret = "application-test-system-secret"
	cfg.Encryption.KDFIterations = 10000
	cfg.Storage.Primary = backup.StorageConfig{
		Provider: backup.StorageProviderLocal,
		Local:    &backup.LocalConfig{BasePath: t.TempDir()},
	}
	cfg.Storage.Offline = backup.StorageConfig{
		Provider: backup.StorageProviderLocal,
		Local:    &backup.LocalConfig{BasePath: t.TempDir()},
	}
	cfg.Gateway.CronSecret = "app-secret"
	cfg.SetDefaults()
	return cfg
}

func buildTestApp(t *testing.T, cfg *config.Config, repo *memoryRepository, tenantIDs ...int64) *Application {
	t.Helper()
	components, err := OpenStores(context.Background(), cfg, logging.NewNopLogger())
	require.NoError(t, err)
	components.Repository = repo
	components.Tenants = &staticTenants{ids: tenantIDs}

	app, err := Build(cfg, components, "test", logging.NewNopLogger())
	require.NoError(t, err)
	return app
}

func taskNames(status scheduler.Status) []string {
	names := make([]string, 0, len(status.Tasks))
	for _, task := range status.Tasks {
		names = append(names, task.Name)
	}
	return names
}

func TestBuild_RegistersTaskCatalog(t *testing.T) {
	cfg := testConfig(t)
	app := buildTestApp(t, cfg, newMemoryRepository())

	assert.Equal(t, []string{
		scheduler.TaskDailyBackup,
		scheduler.TaskCleanup,
		scheduler.TaskWeeklyRestoreTest,
		scheduler.TaskIntegrityCheck,
		scheduler.TaskMonthlyReport,
	}, taskNames(app.Status()))
	assert.Equal(t, "America/Sao_Paulo", app.Status().Timezone)
	assert.False(t, app.Status().Initialized)
}

func TestBuild_GeocodingTaskWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Geocoding = config.GeocodingConfig{Schedule: "0 */6 * * *", URL: "http://geo.invalid/run"}

	app := buildTestApp(t, cfg, newMemoryRepository())
	assert.Contains(t, taskNames(app.Status()), scheduler.TaskGeocoding)
}

func TestBuild_MissingRepository(t *testing.T) {
	cfg := testConfig(t)
	components, err := OpenStores(context.Background(), cfg, nil)
	require.NoError(t, err)

	_, err = Build(cfg, components, "test", nil)
	assert.Error(t, err)
}

func TestOpenStores_OfflineOptional(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Offline = backup.StorageConfig{}

	components, err := OpenStores(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, components.Stores.Primary)
	assert.Nil(t, components.Stores.Offline)
}

func TestRunTask_DailyBackup(t *testing.T) {
	cfg := testConfig(t)
	repo := newMemoryRepository()
	app := buildTestApp(t, cfg, repo, 7, 8)

	result, err := app.RunTask(context.Background(), scheduler.TaskDailyBackup)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, backup.TriggeredByManual, result.Trigger)
	assert.Equal(t, 2, result.Details["succeeded"])
	assert.Equal(t, 2, result.Details["offlineSucceeded"])

	history, err := app.ListBackups(context.Background(), backup.RecordFilter{TenantID: 7})
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, record := range history {
		assert.Equal(t, backup.BackupStatusSuccess, record.Status)
		assert.Equal(t, int64(2), record.DatabaseRecords)
		assert.True(t, strings.HasPrefix(record.FilePath, "backup/tenant_7/"), record.FilePath)
	}
}

func TestVerifyBackup(t *testing.T) {
	cfg := testConfig(t)
	repo := newMemoryRepository()
	app := buildTestApp(t, cfg, repo, 3)

	created := app.CreateBackup(context.Background(), 3, backup.BackupTypeFull)
	require.True(t, created.Success, created.Error)

	validation, err := app.VerifyBackup(context.Background(), created.BackupID)
	require.NoError(t, err)
	assert.True(t, validation.Valid)
	assert.Equal(t, validation.Total, validation.Passed)

	_, err = app.VerifyBackup(context.Background(), 999)
	assert.Error(t, err)
}

func TestRunTask_Unknown(t *testing.T) {
	app := buildTestApp(t, testConfig(t), newMemoryRepository())

	_, err := app.RunTask(context.Background(), "vacuum")
	assert.True(t, errors.Is(err, scheduler.ErrTaskNotFound))
}

func TestTenantConfigRoundTrip(t *testing.T) {
	app := buildTestApp(t, testConfig(t), newMemoryRepository())
	ctx := context.Background()

	cfg, err := app.TenantConfig(ctx, 5)
	require.NoError(t, err)
	assert.True(t, cfg.BackupEnabled)

	cfg.DailyRetentionCount = 7
	require.NoError(t, app.UpdateTenantConfig(ctx, cfg))

	stored, err := app.TenantConfig(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 7, stored.DailyRetentionCount)
}

func TestGateway_RunsSharedTask(t *testing.T) {
	cfg := testConfig(t)
	app := buildTestApp(t, cfg, newMemoryRepository())

	req := httptest.NewRequest(http.MethodPost, "/cron/backup/cleanup", nil)
	req.Header.Set("Authorization", "Bearer app-secret")
	w := httptest.NewRecorder()
	app.Gateway().Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, task := range app.Status().Tasks {
		if task.Name == scheduler.TaskCleanup {
			assert.Equal(t, 1, task.RunCount)
			assert.Equal(t, scheduler.TaskStatusSuccess, task.LastStatus)
		}
	}
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantLines []string
	}{
		{
			name:      "configuration",
			err:       appErrors.NewConfigurationError("invalid configuration", nil),
			wantLines: []string{"Error:", "config check"},
		},
		{
			name:      "storage",
			err:       backup.NewStorageError("bucket unreachable", nil),
			wantLines: []string{"bucket unreachable", "storage credentials"},
		},
		{
			name:      "integrity",
			err:       backup.NewIntegrityError("checksum mismatch", nil),
			wantLines: []string{"BACKUP_SYSTEM_SECRET"},
		},
		{
			name:      "raw mysql access denied",
			err:       fmt.Errorf("failed to connect: %w", &mysql.MySQLError{Number: 1045, Message: "Access denied"}),
			wantLines: []string{"Verify the username and password"},
		},
		{
			name:      "plain",
			err:       errors.New("boom"),
			wantLines: []string{"Error: boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			HandleError(&buf, logging.NewNopLogger(), tt.err)
			for _, want := range tt.wantLines {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}
