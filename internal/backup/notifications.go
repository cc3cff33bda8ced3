package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"clinic-backup/internal/logging"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Severity ranks a report for notification filtering
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityCritical: 3,
}

// ReportKind tells which operation produced a report
type ReportKind string

const (
	ReportKindBackup        ReportKind = "backup"
	ReportKindIntegrity     ReportKind = "integrity"
	ReportKindRestoreTest   ReportKind = "restore_test"
	ReportKindMonthlyReport ReportKind = "monthly_report"
	ReportKindTask          ReportKind = "task"
)

// Report is what the subsystem hands the notification collaborator
type Report struct {
	Success      bool                   `json:"success"`
	BackupType   BackupType             `json:"backupType,omitempty"`
	TenantID     int64                  `json:"tenantId,omitempty"`
	FileSize     int64                  `json:"fileSize,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	Kind         ReportKind             `json:"kind"`
	Severity     Severity               `json:"severity"`
	Title        string                 `json:"title"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Recipient    string                 `json:"recipient,omitempty"`
}

// NotificationConfig holds configuration for notifications
type NotificationConfig struct {
	Enabled          bool           `mapstructure:"enabled" yaml:"enabled"`
	DefaultRecipient string         `mapstructure:"default_recipient" yaml:"default_recipient"`
	MinSeverity      Severity       `mapstructure:"min_severity" yaml:"min_severity"`
	Email            *EmailConfig   `mapstructure:"email" yaml:"email,omitempty"`
	Webhook          *WebhookConfig `mapstructure:"webhook" yaml:"webhook,omitempty"`
	File             *FileConfig    `mapstructure:"file" yaml:"file,omitempty"`
}

// EmailConfig for email notifications
type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port" yaml:"smtp_port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	From     string `mapstructure:"from" yaml:"from"`
}

// WebhookConfig for the notification API or any JSON webhook
type WebhookConfig struct {
	URL     string            `mapstructure:"url" yaml:"url"`
	Method  string            `mapstructure:"method" yaml:"method"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
	Timeout time.Duration     `mapstructure:"timeout" yaml:"timeout"`
}

// FileConfig for file-based notifications
type FileConfig struct {
	Path   string `mapstructure:"path" yaml:"path"`
	Format string `mapstructure:"format" yaml:"format"` // json, text
}

// NotificationChannel is one configured delivery method
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, report Report) error
}

// NotificationManager fans a report out to every configured channel. It implements Notifier.
type NotificationManager struct {
	logger   *logging.Logger
	config   NotificationConfig
	channels []NotificationChannel
}

// NewNotificationManager registers a channel for each configured section that
// has its required fields set
func NewNotificationManager(logger *logging.Logger, config NotificationConfig) *NotificationManager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	nm := &NotificationManager{logger: logger, config: config}

	if c := config.Email; c != nil && c.SMTPHost != "" && c.From != "" {
		nm.AddChannel(NewEmailChannel(*c))
	}
	if c := config.Webhook; c != nil && c.URL != "" {
		nm.AddChannel(NewWebhookChannel(*c))
	}
	if c := config.File; c != nil && c.Path != "" {
		nm.AddChannel(NewFileChannel(*c))
	}
	return nm
}

// AddChannel registers an additional channel
func (nm *NotificationManager) AddChannel(channel NotificationChannel) {
	nm.channels = append(nm.channels, channel)
}

// Channels lists the registered channel names
func (nm *NotificationManager) Channels() []string {
	names := make([]string, len(nm.channels))
	for i, c := range nm.channels {
		names[i] = c.Name()
	}
	return names
}

// Send delivers the report on every channel concurrently. delivered is true
// when at least one channel accepted it; an error is returned only when every
// channel failed.
func (nm *NotificationManager) Send(ctx context.Context, report Report) (bool, error) {
	if !nm.config.Enabled || len(nm.channels) == 0 {
		return false, nil
	}

	if nm.config.MinSeverity != "" && severityRank[report.Severity] < severityRank[nm.config.MinSeverity] {
		nm.logger.WithFields(map[string]interface{}{
			"kind":     string(report.Kind),
			"severity": string(report.Severity),
		}).Debug("Report below notification threshold, not sending")
		return false, nil
	}

	if report.Recipient == "" {
		report.Recipient = nm.config.DefaultRecipient
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}

	errs := make([]error, len(nm.channels))
	var g errgroup.Group
	for i, channel := range nm.channels {
		i, channel := i, channel
		g.Go(func() error {
			errs[i] = channel.Send(ctx, report)
			observeNotification(channel.Name(), errs[i])
			return nil
		})
	}
	g.Wait()

	var failures []error
	for i, err := range errs {
		entry := nm.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"channel":   nm.channels[i].Name(),
			"kind":      string(report.Kind),
			"tenant_id": report.TenantID,
		})
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", nm.channels[i].Name(), err))
			entry.WithField("error", err.Error()).Error("Failed to send notification")
			continue
		}
		entry.Debug("Notification sent")
	}

	if len(failures) == len(nm.channels) {
		return false, fmt.Errorf("all notification channels failed: %w", errors.Join(failures...))
	}
	return true, nil
}

// formatSubject builds the one-line subject used by email and text file output
func formatSubject(report Report) string {
	if report.Title != "" {
		return report.Title
	}

	outcome := "succeeded"
	if !report.Success {
		outcome = "FAILED"
	}
	return fmt.Sprintf("[%s] %s backup %s for tenant %d", strings.ToUpper(string(report.Severity)), report.BackupType, outcome, report.TenantID)
}

func formatBody(report Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n\n", formatSubject(report))
	fmt.Fprintf(&b, "Kind: %s\n", report.Kind)
	fmt.Fprintf(&b, "Severity: %s\n", report.Severity)
	fmt.Fprintf(&b, "Time: %s\n", report.Timestamp.Format(time.RFC3339))
	if report.TenantID != 0 {
		fmt.Fprintf(&b, "Tenant: %d\n", report.TenantID)
	}
	if report.BackupType != "" {
		fmt.Fprintf(&b, "Backup type: %s\n", report.BackupType)
	}
	if report.FileSize > 0 {
		fmt.Fprintf(&b, "Size: %d bytes\n", report.FileSize)
	}
	if report.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", report.ErrorMessage)
	}
	if len(report.Details) > 0 {
		details, _ := json.MarshalIndent(report.Details, "", "  ")
		fmt.Fprintf(&b, "\nDetails:\n%s\n", details)
	}

	b.WriteString("\nThis is an automated message from the clinic backup system.\n")
	return b.String()
}

// EmailChannel delivers reports over SMTP to the report's recipient
type EmailChannel struct {
	config   EmailConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailChannel(config EmailConfig) *EmailChannel {
	return &EmailChannel{config: config, sendMail: smtp.SendMail}
}

func (ec *EmailChannel) Name() string { return "email" }

func (ec *EmailChannel) Send(ctx context.Context, report Report) error {
	if report.Recipient == "" {
		return fmt.Errorf("no recipient for report")
	}

	var msg strings.Builder
	for _, h := range [][2]string{
		{"From", ec.config.From},
		{"To", report.Recipient},
		{"Subject", formatSubject(report)},
		{"Date", report.Timestamp.Format(time.RFC1123Z)},
		{"Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), ec.config.SMTPHost)},
		{"Content-Type", "text/plain; charset=UTF-8"},
	} {
		fmt.Fprintf(&msg, "%s: %s\r\n", h[0], h[1])
	}
	msg.WriteString("\r\n")
	msg.WriteString(formatBody(report))

	var auth smtp.Auth
	if ec.config.Username != "" {
		auth = smtp.PlainAuth("", ec.config.Username, ec.config.Password, ec.config.SMTPHost)
	}
	addr := net.JoinHostPort(ec.config.SMTPHost, strconv.Itoa(ec.config.SMTPPort))

	if err := ec.sendMail(addr, auth, ec.config.From, []string{report.Recipient}, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// WebhookChannel posts the report as JSON
type WebhookChannel struct {
	config WebhookConfig
	client *http.Client
}

func NewWebhookChannel(config WebhookConfig) *WebhookChannel {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &WebhookChannel{
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

func (wc *WebhookChannel) Send(ctx context.Context, report Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	method := wc.config.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, wc.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range wc.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := wc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

func (wc *WebhookChannel) Name() string { return "webhook" }

// FileChannel appends reports to a local file
type FileChannel struct {
	config FileConfig
	mu     sync.Mutex
}

func NewFileChannel(config FileConfig) *FileChannel {
	return &FileChannel{config: config}
}

// Send appends one line per report
func (fc *FileChannel) Send(ctx context.Context, report Report) error {
	var content string
	switch fc.config.Format {
	case "json":
		data, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("failed to marshal notification to JSON: %w", err)
		}
		content = string(data) + "\n"
	default:
		content = fmt.Sprintf("[%s] %s - %s: %s\n",
			report.Timestamp.Format(time.RFC3339),
			report.Severity,
			report.Kind,
			formatSubject(report))
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(fc.config.Path), 0750); err != nil {
		return fmt.Errorf("failed to create notification directory: %w", err)
	}

	file, err := os.OpenFile(fc.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("failed to open notification file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		return fmt.Errorf("failed to write notification to file: %w", err)
	}

	return nil
}

func (fc *FileChannel) Name() string { return "file" }
