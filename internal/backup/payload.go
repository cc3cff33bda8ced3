package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"
)

// PayloadVersion is the archive document format version
const PayloadVersion = "3.0"

// TableSnapshot holds one table's tenant rows
type TableSnapshot struct {
	TableName string                   `json:"tableName"`
	Records   []map[string]interface{} `json:"records"`
	Count     int                      `json:"count"`
}

// PayloadMetadata describes what was snapshotted
type PayloadMetadata struct {
	Version        string         `json:"version"`
	Type           BackupType     `json:"type"`
	TenantID       int64          `json:"tenantId"`
	TableCounts    map[string]int `json:"tableCounts"`
	TotalTables    int            `json:"totalTables"`
	TotalRecords   int64          `json:"totalRecords"`
	ProductVersion string         `json:"productVersion"`
	Since          *time.Time     `json:"since,omitempty"`
}

// Payload is the JSON document stored inside every archive
type Payload struct {
	Version             string                   `json:"version"`
	Type                BackupType               `json:"type"`
	TenantID            int64                    `json:"tenantId"`
	CreatedAt           time.Time                `json:"createdAt"`
	Tables              map[string]TableSnapshot `json:"tables"`
	Metadata            PayloadMetadata          `json:"metadata"`
	RestoreInstructions string                   `json:"restoreInstructions,omitempty"`
}

// NewPayload builds a payload and its metadata block from snapshotted tables
func NewPayload(tenantID int64, backupType BackupType, tables map[string]TableSnapshot, productVersion string, createdAt time.Time, since *time.Time) *Payload {
	if tables == nil {
		tables = make(map[string]TableSnapshot)
	}

	counts := make(map[string]int, len(tables))
	var total int64
	for name, table := range tables {
		table.Count = len(table.Records)
		if table.TableName == "" {
			table.TableName = name
		}
		tables[name] = table
		counts[name] = table.Count
		total += int64(table.Count)
	}

	return &Payload{
		Version:   PayloadVersion,
		Type:      backupType,
		TenantID:  tenantID,
		CreatedAt: createdAt.UTC(),
		Tables:    tables,
		Metadata: PayloadMetadata{
			Version:        PayloadVersion,
			Type:           backupType,
			TenantID:       tenantID,
			TableCounts:    counts,
			TotalTables:    len(tables),
			TotalRecords:   total,
			ProductVersion: productVersion,
			Since:          since,
		},
	}
}

// Marshal serializes the payload
func (p *Payload) Marshal() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, NewValidationError("failed to serialize backup payload", err)
	}
	return data, nil
}

// ParsePayload decodes an archive document; invalid JSON is a corrupt archive.
// Numbers stay json.Number so 64-bit ids survive a restore.
func ParsePayload(data []byte) (*Payload, error) {
	var payload Payload
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return nil, NewCorruptArchiveError("backup payload is not valid JSON", err)
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, NewCorruptArchiveError("backup payload has trailing data", err)
	}
	return &payload, nil
}

// TableNames returns the snapshotted table names in sorted order
func (p *Payload) TableNames() []string {
	names := make([]string, 0, len(p.Tables))
	for name := range p.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the fields a restore depends on
func (p *Payload) Validate(tenantID int64) error {
	var errs ValidationErrors

	if p.Version == "" {
		errs.Add("version", "backup version not found", nil)
	}
	if p.Tables == nil {
		errs.Add("tables", "table data not found", nil)
	}
	if p.TenantID != tenantID {
		errs.Add("tenantId", fmt.Sprintf("backup belongs to tenant %d", p.TenantID), p.TenantID)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// RestoreStats summarizes a restore applied to the database
type RestoreStats struct {
	TablesRestored  int           `json:"tablesRestored"`
	RecordsRestored int64         `json:"recordsRestored"`
	Duration        time.Duration `json:"duration"`
}

// RestoreInstructions is embedded in offline archives for operators restoring by hand
const RestoreInstructions = `RESTORE INSTRUCTIONS

This archive is an offline, unencrypted backup of one clinic tenant.

1. Verify integrity: compute the SHA-256 of this file and compare it with the
   checksum recorded in the backup history.
2. Decompress: the file is gzip-compressed JSON.
3. Restore: run "clinic-backup backup restore <id> --yes" or import the JSON
   through the administrative restore screen.

Restoring replaces every row of the tenant. Take a fresh backup first.
Store this medium in a safe, access-controlled location.`
