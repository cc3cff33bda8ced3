package backup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_RequiresCollaborators(t *testing.T) {
	tests := []struct {
		name string
		deps ManagerDeps
	}{
		{"no repository", ManagerDeps{Tenants: NewMockTenantSource(), Stores: Stores{Primary: NewMockObjectStore("p")}}},
		{"no tenants", ManagerDeps{Repository: NewMockRepository(), Stores: Stores{Primary: NewMockObjectStore("p")}}},
		{"no primary store", ManagerDeps{Repository: NewMockRepository(), Tenants: NewMockTenantSource()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.deps, ManagerConfig{})
			require.Error(t, err)

			var backupErr *BackupError
			require.True(t, errors.As(err, &backupErr))
			assert.Equal(t, BackupErrorTypeConfiguration, backupErr.Type)
		})
	}
}

func TestManager_RunBackup(t *testing.T) {
	tests := []struct {
		name           string
		encryption     bool
		expectedSuffix string
	}{
		{"encrypted", true, ".json.gz.enc"},
		{"plain", false, ".json.gz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 1)
			config := DefaultBackupConfig(1)
			config.EncryptionEnabled = tt.encryption
			require.NoError(t, env.repo.UpsertConfig(context.Background(), config))

			result := env.manager.RunBackup(context.Background(), 1, BackupTypeFull, TriggeredByManual)

			require.True(t, result.Success, result.Error)
			assert.NotZero(t, result.BackupID)
			assert.True(t, strings.HasPrefix(result.FilePath, "backup/tenant_1/full_"))
			assert.True(t, strings.HasSuffix(result.FilePath, tt.expectedSuffix))
			assert.Equal(t, int64(3), result.Records)

			record, err := env.repo.GetRecord(context.Background(), result.BackupID)
			require.NoError(t, err)
			assert.Equal(t, BackupStatusSuccess, record.Status)
			assert.Equal(t, tt.encryption, record.IsEncrypted)
			assert.Equal(t, CompressionTypeGzip, record.Compression)
			assert.Equal(t, DestinationPrimary, record.Destination)
			assert.Equal(t, TriggeredByManual, record.TriggeredBy)
			require.NotNil(t, record.CompletedAt)

			stored, ok := env.primary.object(record.FilePath)
			require.True(t, ok)
			assert.Equal(t, record.FileSizeBytes, int64(len(stored)))
			assert.Equal(t, Checksum(stored), record.ChecksumSHA256)

			payload, err := env.manager.ValidateArchive(1, stored, record.IsEncrypted, record.Compression)
			require.NoError(t, err)
			assert.Equal(t, PayloadVersion, payload.Metadata.Version)
			assert.Equal(t, int64(1), payload.Metadata.TenantID)
			assert.Equal(t, 2, payload.Metadata.TableCounts["patients"])
			assert.Equal(t, int64(3), payload.Metadata.TotalRecords)
		})
	}
}

func TestManager_RunBackup_WrongTenantCannotOpen(t *testing.T) {
	env := newTestEnv(t, 1)

	result := env.manager.RunBackup(context.Background(), 1, BackupTypeFull, TriggeredByManual)
	require.True(t, result.Success)

	stored, _ := env.primary.object(result.FilePath)
	_, err := env.manager.ValidateArchive(2, stored, true, CompressionTypeGzip)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthenticationFailed))
}

func TestManager_RunBackup_UploadFailure(t *testing.T) {
	env := newTestEnv(t, 1)
	env.primary.failPrefix = "backup/tenant_1/"

	result := env.manager.RunBackup(context.Background(), 1, BackupTypeFull, TriggeredByScheduled)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "STORAGE_ERROR")

	record, err := env.repo.GetRecord(context.Background(), result.BackupID)
	require.NoError(t, err)
	assert.Equal(t, BackupStatusFailed, record.Status)
	assert.Contains(t, record.ErrorMessage, "upload refused")
	assert.Empty(t, record.FilePath)

	reports := env.notifier.byKind(ReportKindBackup)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Success)
	assert.Equal(t, SeverityWarning, reports[0].Severity)
}

func TestManager_RunBackup_SuccessNotificationFollowsConfig(t *testing.T) {
	env := newTestEnv(t, 1)

	result := env.manager.RunBackup(context.Background(), 1, BackupTypeFull, TriggeredByScheduled)
	require.True(t, result.Success)
	assert.Empty(t, env.notifier.byKind(ReportKindBackup), "notifyOnSuccess defaults to false")

	config := DefaultBackupConfig(1)
	config.NotifyOnSuccess = true
	config.NotificationEmail = "owner@clinic.test"
	require.NoError(t, env.repo.UpsertConfig(context.Background(), config))

	result = env.manager.RunBackup(context.Background(), 1, BackupTypeFull, TriggeredByScheduled)
	require.True(t, result.Success)

	reports := env.notifier.byKind(ReportKindBackup)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Success)
	assert.Equal(t, "owner@clinic.test", reports[0].Recipient)
}

func TestManager_RunBackup_Offline(t *testing.T) {
	env := newTestEnv(t, 4)

	result := env.manager.RunBackup(context.Background(), 4, BackupTypeOffline, TriggeredByManual)
	require.True(t, result.Success, result.Error)
	assert.True(t, strings.HasSuffix(result.FilePath, ".json.gz"))

	record, err := env.repo.GetRecord(context.Background(), result.BackupID)
	require.NoError(t, err)
	assert.Equal(t, DestinationOffline, record.Destination)
	assert.False(t, record.IsEncrypted)

	_, onPrimary := env.primary.object(record.FilePath)
	assert.False(t, onPrimary)

	stored, ok := env.offline.object(record.FilePath)
	require.True(t, ok)

	plain, err := Decompress(stored)
	require.NoError(t, err)
	payload, err := ParsePayload(plain)
	require.NoError(t, err)
	assert.Equal(t, RestoreInstructions, payload.RestoreInstructions)
}

func TestManager_RunBackup_Incremental(t *testing.T) {
	env := newTestEnv(t, 1)

	first := env.manager.RunBackup(context.Background(), 1, BackupTypeIncremental, TriggeredByScheduled)
	require.True(t, first.Success)
	assert.Nil(t, env.tenants.since[1], "no previous success falls back to a full snapshot")

	previous, err := env.repo.GetRecord(context.Background(), first.BackupID)
	require.NoError(t, err)

	second := env.manager.RunBackup(context.Background(), 1, BackupTypeIncremental, TriggeredByScheduled)
	require.True(t, second.Success)
	require.NotNil(t, env.tenants.since[1])
	assert.True(t, env.tenants.since[1].Equal(previous.StartedAt))
}

func TestManager_RunBackup_Timeout(t *testing.T) {
	env := newTestEnv(t, 1)
	env.tenants.block = true
	env.manager.config.BackupTimeout = 20 * time.Millisecond

	result := env.manager.RunBackup(context.Background(), 1, BackupTypeFull, TriggeredByScheduled)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, string(BackupErrorTypeTimeout))

	record, err := env.repo.GetRecord(context.Background(), result.BackupID)
	require.NoError(t, err)
	assert.Equal(t, BackupStatusFailed, record.Status, "the terminal write happens after the deadline")
}

func TestManager_RunBackup_PanicBecomesFailure(t *testing.T) {
	env := newTestEnv(t, 7)
	env.tenants.panicOn = 7

	var result *BackupResult
	require.NotPanics(t, func() {
		result = env.manager.RunBackup(context.Background(), 7, BackupTypeFull, TriggeredByScheduled)
	})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "panicked")

	record, err := env.repo.GetRecord(context.Background(), result.BackupID)
	require.NoError(t, err)
	assert.Equal(t, BackupStatusFailed, record.Status)
}

func TestManager_RunBackup_SameTenantIsSingleFlight(t *testing.T) {
	env := newTestEnv(t, 1)
	env.tenants.block = true
	env.tenants.entered = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *BackupResult, 1)
	go func() {
		done <- env.manager.RunBackup(ctx, 1, BackupTypeFull, TriggeredByScheduled)
	}()

	<-env.tenants.entered
	second := env.manager.RunBackup(context.Background(), 1, BackupTypeFull, TriggeredByManual)

	assert.False(t, second.Success)
	assert.Zero(t, second.BackupID, "a refused run creates no record")
	assert.Contains(t, second.Error, string(BackupErrorTypeConflict))

	cancel()
	first := <-done
	assert.False(t, first.Success)
	assert.Equal(t, 1, env.repo.count())
}

func TestManager_RunBackup_RecordCreateFailure(t *testing.T) {
	env := newTestEnv(t, 1)
	env.repo.createErr = errors.New("connection refused")

	result := env.manager.RunBackup(context.Background(), 1, BackupTypeFull, TriggeredByScheduled)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "failed to create backup record")
	assert.Empty(t, env.primary.objects)
}

func TestManager_RunBackup_MissingSecretFailsEncryptedRun(t *testing.T) {
	env := newTestEnv(t, 1)
	env.manager.config.SystemSecret = ""

	result := env.manager.RunBackup(context.Background(), 1, BackupTypeFull, TriggeredByScheduled)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, string(BackupErrorTypeConfiguration))
}

func TestBuildKey(t *testing.T) {
	at := time.Date(2026, 3, 9, 6, 0, 1, 250_000_000, time.FixedZone("BRT", -3*3600))

	tests := []struct {
		name       string
		backupType BackupType
		suffix     string
		expected   string
	}{
		{"full encrypted", BackupTypeFull, ".json.gz.enc", "backup/tenant_12/full_2026-03-09T09-00-01-250Z.json.gz.enc"},
		{"offline", BackupTypeOffline, ".json.gz", "backup/tenant_12/offline_2026-03-09T09-00-01-250Z.json.gz"},
		{"incremental zstd", BackupTypeIncremental, ".json.zst", "backup/tenant_12/incremental_2026-03-09T09-00-01-250Z.json.zst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildKey(12, tt.backupType, at, tt.suffix))
		})
	}
}

func TestStores_For(t *testing.T) {
	primary := NewMockObjectStore("primary")

	store, err := Stores{Primary: primary}.For(DestinationPrimary)
	require.NoError(t, err)
	assert.Equal(t, primary, store)

	store, err = Stores{Primary: primary}.For(DestinationSecondary)
	require.NoError(t, err)
	assert.Equal(t, primary, store)

	_, err = Stores{Primary: primary}.For(DestinationOffline)
	assert.Error(t, err)
}
