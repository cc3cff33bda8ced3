package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_backup_task_runs_total",
		Help: "Task runs by task, trigger and outcome",
	}, []string{"task", "trigger", "status"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clinic_backup_task_duration_seconds",
		Help:    "Wall time of task runs",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
	}, []string{"task"})

	taskRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clinic_backup_task_running",
		Help: "1 while a task is running",
	}, []string{"task"})
)
