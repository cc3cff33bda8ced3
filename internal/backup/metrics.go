package backup

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_backup_runs_total",
		Help: "Backup runs by type, trigger and outcome",
	}, []string{"type", "triggered_by", "status"})

	backupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clinic_backup_duration_seconds",
		Help:    "Wall time of a single tenant backup",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s … ~204s
	}, []string{"type"})

	backupSizeBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clinic_backup_size_bytes",
		Help:    "Stored archive size",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 12),
	}, []string{"type"})

	backupLastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clinic_backup_last_success_timestamp_seconds",
		Help: "Unix time of the last successful backup per type",
	}, []string{"type"})

	retentionDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinic_backup_retention_deleted_total",
		Help: "Backup records removed by the retention cleaner",
	})

	retentionDeferredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinic_backup_retention_deferred_total",
		Help: "Deletions postponed because a restore test held the record",
	})

	integrityChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_backup_integrity_checks_total",
		Help: "Archives re-verified by the integrity checker",
	}, []string{"result"}) // result: valid, invalid, error

	restoreTestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_backup_restore_tests_total",
		Help: "Restore test outcomes",
	}, []string{"result"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_backup_notifications_total",
		Help: "Notification deliveries by channel and outcome",
	}, []string{"channel", "result"})
)

func observeBackup(result *BackupResult, triggeredBy TriggeredBy) {
	status := string(BackupStatusSuccess)
	if !result.Success {
		status = string(BackupStatusFailed)
	}

	backupRunsTotal.WithLabelValues(string(result.Type), string(triggeredBy), status).Inc()
	backupDuration.WithLabelValues(string(result.Type)).Observe(result.Duration.Seconds())

	if result.Success {
		backupSizeBytes.WithLabelValues(string(result.Type)).Observe(float64(result.FileSize))
		backupLastSuccess.WithLabelValues(string(result.Type)).Set(float64(time.Now().Unix()))
	}
}

func observeNotification(channel string, err error) {
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	notificationsTotal.WithLabelValues(channel, result).Inc()
}
