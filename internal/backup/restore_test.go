package backup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Restore(t *testing.T) {
	env := newTestEnv(t, 5)
	backup := env.manager.RunBackup(context.Background(), 5, BackupTypeFull, TriggeredByScheduled)
	require.True(t, backup.Success)

	leases := NewLeaseRegistry()
	stats, err := env.manager.Restore(context.Background(), backup.BackupID, "admin@clinic.test", leases)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TablesRestored)
	assert.Equal(t, int64(3), stats.RecordsRestored)
	assert.False(t, leases.Held(backup.BackupID))

	restored := env.tenants.restored[5]
	require.Contains(t, restored, "patients")
	assert.Len(t, restored["patients"].Records, 2)
}

func TestManager_Restore_Refusals(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, env *testEnv) int64
		errType BackupErrorType
	}{
		{
			name: "checksum mismatch",
			prepare: func(t *testing.T, env *testEnv) int64 {
				backup := env.manager.RunBackup(context.Background(), 5, BackupTypeFull, TriggeredByScheduled)
				require.True(t, backup.Success)
				data, _ := env.primary.object(backup.FilePath)
				tampered := append([]byte(nil), data...)
				tampered[len(tampered)/2] ^= 0x10
				env.primary.set(backup.FilePath, tampered)
				return backup.BackupID
			},
			errType: BackupErrorTypeIntegrity,
		},
		{
			name: "incremental",
			prepare: func(t *testing.T, env *testEnv) int64 {
				require.True(t, env.manager.RunBackup(context.Background(), 5, BackupTypeFull, TriggeredByScheduled).Success)
				backup := env.manager.RunBackup(context.Background(), 5, BackupTypeIncremental, TriggeredByScheduled)
				require.True(t, backup.Success)
				return backup.BackupID
			},
			errType: BackupErrorTypeValidation,
		},
		{
			name: "failed backup",
			prepare: func(t *testing.T, env *testEnv) int64 {
				env.primary.failPrefix = "backup/"
				backup := env.manager.RunBackup(context.Background(), 5, BackupTypeFull, TriggeredByScheduled)
				require.False(t, backup.Success)
				return backup.BackupID
			},
			errType: BackupErrorTypeValidation,
		},
		{
			name: "unknown backup",
			prepare: func(t *testing.T, env *testEnv) int64 {
				return 404
			},
			errType: BackupErrorTypeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 5)
			id := tt.prepare(t, env)

			_, err := env.manager.Restore(context.Background(), id, "admin@clinic.test", nil)
			require.Error(t, err)

			var backupErr *BackupError
			require.True(t, errors.As(err, &backupErr))
			assert.Equal(t, tt.errType, backupErr.Type)
			assert.Empty(t, env.tenants.restored, "nothing is written when a restore is refused")
		})
	}
}

func TestManager_Restore_RequiresTarget(t *testing.T) {
	env := newTestEnv(t, 5)
	env.manager.restorer = nil

	_, err := env.manager.Restore(context.Background(), 1, "admin", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(BackupErrorTypeConfiguration))
}

func TestManager_Restore_RecordBeingDeleted(t *testing.T) {
	env := newTestEnv(t, 5)
	backup := env.manager.RunBackup(context.Background(), 5, BackupTypeFull, TriggeredByScheduled)
	require.True(t, backup.Success)

	leases := NewLeaseRegistry()
	done, ok := leases.BeginDelete(backup.BackupID)
	require.True(t, ok)
	defer done()

	_, err := env.manager.Restore(context.Background(), backup.BackupID, "admin@clinic.test", leases)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Empty(t, env.tenants.restored[5])
}
