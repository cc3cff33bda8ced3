package backup

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"clinic-backup/internal/logging"

	"golang.org/x/sync/errgroup"
)

// StorageUsageReport provides storage usage across tenants and destinations
type StorageUsageReport struct {
	TotalBackups         int                               `json:"total_backups"`
	TotalSize            int64                             `json:"total_size"`
	AverageBackupSize    int64                             `json:"average_backup_size"`
	EncryptedBackups     int                               `json:"encrypted_backups"`
	StorageByTenant      map[int64]*TenantUsage            `json:"storage_by_tenant"`
	StorageByDestination map[Destination]*DestinationUsage `json:"storage_by_destination"`
	StorageByAge         map[string]*AgeGroupUsage         `json:"storage_by_age"`
	GeneratedAt          time.Time                         `json:"generated_at"`
}

// TenantUsage represents storage usage for one tenant
type TenantUsage struct {
	TenantID     int64     `json:"tenant_id"`
	BackupCount  int       `json:"backup_count"`
	TotalSize    int64     `json:"total_size"`
	OldestBackup time.Time `json:"oldest_backup"`
	NewestBackup time.Time `json:"newest_backup"`
}

// DestinationUsage represents storage usage on one destination
type DestinationUsage struct {
	Destination Destination `json:"destination"`
	BackupCount int         `json:"backup_count"`
	TotalSize   int64       `json:"total_size"`
}

// AgeGroupUsage represents storage usage by backup age groups
type AgeGroupUsage struct {
	AgeGroup    string `json:"age_group"` // "daily", "weekly", "monthly", "older"
	BackupCount int    `json:"backup_count"`
	TotalSize   int64  `json:"total_size"`
}

// StorageHealthReport represents the reachability of every configured store
type StorageHealthReport struct {
	OverallHealth  string                     `json:"overall_health"` // "healthy", "warning", "critical"
	ProviderHealth map[string]*ProviderHealth `json:"provider_health"`
	GeneratedAt    time.Time                  `json:"generated_at"`
}

// ProviderHealth represents health status for a storage provider
type ProviderHealth struct {
	Provider     string        `json:"provider"`
	Status       string        `json:"status"` // "healthy", "critical", "unknown"
	ResponseTime time.Duration `json:"response_time"`
	Issues       []string      `json:"issues,omitempty"`
}

// StorageMonitor reports how much the backups occupy and whether the stores answer
type StorageMonitor struct {
	repo    RecordStore
	tenants TenantSource
	stores  Stores
	logger  *logging.Logger
	now     func() time.Time
}

// NewStorageMonitor creates a storage monitor
func NewStorageMonitor(repo RecordStore, tenants TenantSource, stores Stores, logger *logging.Logger) *StorageMonitor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &StorageMonitor{
		repo:    repo,
		tenants: tenants,
		stores:  stores,
		logger:  logger,
		now:     time.Now,
	}
}

// GetStorageUsage sums the successful backups of every active tenant
func (sm *StorageMonitor) GetStorageUsage(ctx context.Context) (*StorageUsageReport, error) {
	sm.logger.Debug("Generating storage usage report")

	tenants, err := sm.tenants.ListActiveTenants(ctx)
	if err != nil {
		return nil, NewDatabaseError("failed to list tenants for storage usage", err)
	}

	now := sm.now()
	report := &StorageUsageReport{
		StorageByTenant:      make(map[int64]*TenantUsage),
		StorageByDestination: make(map[Destination]*DestinationUsage),
		StorageByAge:         make(map[string]*AgeGroupUsage),
		GeneratedAt:          now,
	}

	for _, tenant := range tenants {
		records, err := sm.repo.ListRecords(ctx, RecordFilter{TenantID: tenant.ID, Status: BackupStatusSuccess})
		if err != nil {
			return nil, NewDatabaseError(fmt.Sprintf("failed to list backups of tenant %d", tenant.ID), err)
		}

		for _, record := range records {
			report.add(record, now)
		}
	}

	if report.TotalBackups > 0 {
		report.AverageBackupSize = report.TotalSize / int64(report.TotalBackups)
	}

	return report, nil
}

func (r *StorageUsageReport) add(record *BackupRecord, now time.Time) {
	r.TotalBackups++
	r.TotalSize += record.FileSizeBytes
	if record.IsEncrypted {
		r.EncryptedBackups++
	}

	tenant := r.StorageByTenant[record.TenantID]
	if tenant == nil {
		tenant = &TenantUsage{TenantID: record.TenantID}
		r.StorageByTenant[record.TenantID] = tenant
	}
	tenant.BackupCount++
	tenant.TotalSize += record.FileSizeBytes
	at := recordTime(record)
	if tenant.OldestBackup.IsZero() || at.Before(tenant.OldestBackup) {
		tenant.OldestBackup = at
	}
	if at.After(tenant.NewestBackup) {
		tenant.NewestBackup = at
	}

	dest := r.StorageByDestination[record.Destination]
	if dest == nil {
		dest = &DestinationUsage{Destination: record.Destination}
		r.StorageByDestination[record.Destination] = dest
	}
	dest.BackupCount++
	dest.TotalSize += record.FileSizeBytes

	group := ageGroup(now.Sub(at))
	age := r.StorageByAge[group]
	if age == nil {
		age = &AgeGroupUsage{AgeGroup: group}
		r.StorageByAge[group] = age
	}
	age.BackupCount++
	age.TotalSize += record.FileSizeBytes
}

// TenantsBySize returns tenant usage sorted largest first
func (r *StorageUsageReport) TenantsBySize() []*TenantUsage {
	usage := make([]*TenantUsage, 0, len(r.StorageByTenant))
	for _, u := range r.StorageByTenant {
		usage = append(usage, u)
	}
	sort.Slice(usage, func(i, j int) bool {
		if usage[i].TotalSize == usage[j].TotalSize {
			return usage[i].TenantID < usage[j].TenantID
		}
		return usage[i].TotalSize > usage[j].TotalSize
	})
	return usage
}

func ageGroup(age time.Duration) string {
	switch {
	case age <= 24*time.Hour:
		return "daily"
	case age <= 7*24*time.Hour:
		return "weekly"
	case age <= 31*24*time.Hour:
		return "monthly"
	default:
		return "older"
	}
}

// MonitorStorageHealth probes the primary and offline stores concurrently
func (sm *StorageMonitor) MonitorStorageHealth(ctx context.Context) *StorageHealthReport {
	report := &StorageHealthReport{
		OverallHealth:  "healthy",
		ProviderHealth: make(map[string]*ProviderHealth),
		GeneratedAt:    sm.now(),
	}

	targets := map[string]ObjectStore{}
	if sm.stores.Primary != nil {
		targets["primary"] = sm.stores.Primary
	}
	if sm.stores.Offline != nil {
		targets["offline"] = sm.stores.Offline
	}

	var mu sync.Mutex
	var g errgroup.Group
	for role, store := range targets {
		role, store := role, store
		g.Go(func() error {
			health := probeStore(ctx, store)
			mu.Lock()
			report.ProviderHealth[role] = health
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for role, health := range report.ProviderHealth {
		if health.Status != "critical" {
			continue
		}
		if role == "primary" {
			report.OverallHealth = "critical"
		} else if report.OverallHealth == "healthy" {
			report.OverallHealth = "warning"
		}
		sm.logger.WithFields(map[string]interface{}{
			"store":  health.Provider,
			"issues": health.Issues,
		}).Warn("Storage health check failed")
	}

	return report
}

func probeStore(ctx context.Context, store ObjectStore) *ProviderHealth {
	health := &ProviderHealth{Provider: store.Name(), Status: "healthy"}
	start := time.Now()

	switch s := store.(type) {
	case *MultiStore:
		for name, err := range s.HealthCheck(ctx) {
			if err != nil {
				health.Status = "critical"
				health.Issues = append(health.Issues, fmt.Sprintf("%s: %v", name, err))
			}
		}
	case HealthChecker:
		if err := s.HealthCheck(ctx); err != nil {
			health.Status = "critical"
			health.Issues = append(health.Issues, err.Error())
		}
	default:
		health.Status = "unknown"
	}

	health.ResponseTime = time.Since(start)
	sort.Strings(health.Issues)
	return health
}
