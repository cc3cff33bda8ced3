package backup

import (
	"encoding/json"
	"fmt"
)

// Checklist entries run against every restore-tested archive, in order
const (
	CheckChecksum      = "checksum matches stored record"
	CheckOpen          = "archive decrypts and decompresses"
	CheckJSON          = "JSON is syntactically valid"
	CheckVersion       = "metadata.version present"
	CheckTenant        = "tenant id matches record"
	CheckTables        = "table data present"
	CheckRecordCounts  = "record counts match what was snapshotted"
	CheckNoEmptyTables = "no table is empty when the source wasn't"
)

var restoreChecklist = []string{
	CheckChecksum,
	CheckOpen,
	CheckJSON,
	CheckVersion,
	CheckTenant,
	CheckTables,
	CheckRecordCounts,
	CheckNoEmptyTables,
}

// ValidationCheck is the outcome of one checklist entry
type ValidationCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// ArchiveValidation is the checklist outcome for one archive
type ArchiveValidation struct {
	BackupID int64             `json:"backupId"`
	TenantID int64             `json:"tenantId"`
	Checks   []ValidationCheck `json:"checks"`
	Passed   int               `json:"passed"`
	Total    int               `json:"total"`
	Valid    bool              `json:"valid"`

	payload *Payload
}

// Payload returns the parsed document when the archive could be opened
func (av *ArchiveValidation) Payload() *Payload {
	return av.payload
}

func (av *ArchiveValidation) record(name string, passed bool, message string) {
	av.Checks = append(av.Checks, ValidationCheck{Name: name, Passed: passed, Message: message})
	if passed {
		av.Passed++
	}
}

// skipRemaining fails every checklist entry not yet recorded
func (av *ArchiveValidation) skipRemaining(reason string) {
	done := make(map[string]bool, len(av.Checks))
	for _, c := range av.Checks {
		done[c.Name] = true
	}
	for _, name := range restoreChecklist {
		if !done[name] {
			av.record(name, false, "not run: "+reason)
		}
	}
}

func (av *ArchiveValidation) finish() *ArchiveValidation {
	av.Total = len(av.Checks)
	av.Valid = av.Passed == av.Total
	return av
}

// ArchiveValidator runs the restore checklist over stored archive bytes
type ArchiveValidator struct {
	open func(record *BackupRecord, data []byte) ([]byte, error)
}

// NewArchiveValidator creates a validator that opens archives the way the manager sealed them
func NewArchiveValidator(manager *Manager) *ArchiveValidator {
	return &ArchiveValidator{open: manager.OpenArchive}
}

// Validate runs the full checklist. It never returns an error: every failure is a failed check.
func (v *ArchiveValidator) Validate(record *BackupRecord, stored []byte) *ArchiveValidation {
	av := &ArchiveValidation{BackupID: record.ID, TenantID: record.TenantID}

	if VerifyChecksum(stored, record.ChecksumSHA256) {
		av.record(CheckChecksum, true, "")
	} else {
		av.record(CheckChecksum, false, "stored bytes differ from recorded checksum")
		av.skipRemaining("checksum mismatch")
		return av.finish()
	}

	plain, err := v.open(record, stored)
	if err != nil {
		av.record(CheckOpen, false, err.Error())
		av.skipRemaining("archive could not be opened")
		return av.finish()
	}
	av.record(CheckOpen, true, "")

	if !json.Valid(plain) {
		av.record(CheckJSON, false, "payload is not valid JSON")
		av.skipRemaining("invalid JSON")
		return av.finish()
	}

	payload, err := ParsePayload(plain)
	if err != nil {
		av.record(CheckJSON, false, err.Error())
		av.skipRemaining("payload does not match the backup document shape")
		return av.finish()
	}
	av.record(CheckJSON, true, "")
	av.payload = payload

	av.record(CheckVersion, payload.Metadata.Version != "" && payload.Version != "", "")

	if payload.TenantID == record.TenantID {
		av.record(CheckTenant, true, "")
	} else {
		av.record(CheckTenant, false, fmt.Sprintf("archive belongs to tenant %d", payload.TenantID))
	}

	av.record(CheckTables, payload.Tables != nil, "")

	countsOK, countsMsg := checkRecordCounts(payload, record)
	av.record(CheckRecordCounts, countsOK, countsMsg)

	emptyOK, emptyMsg := checkNoEmptyTables(payload)
	av.record(CheckNoEmptyTables, emptyOK, emptyMsg)

	return av.finish()
}

// checkRecordCounts compares each table's rows with its count, the metadata
// block and the total on the BackupRecord
func checkRecordCounts(payload *Payload, record *BackupRecord) (bool, string) {
	var total int64
	for name, table := range payload.Tables {
		if len(table.Records) != table.Count {
			return false, fmt.Sprintf("table %s holds %d rows but declares %d", name, len(table.Records), table.Count)
		}
		if expected, ok := payload.Metadata.TableCounts[name]; ok && expected != table.Count {
			return false, fmt.Sprintf("table %s count %d differs from metadata %d", name, table.Count, expected)
		}
		total += int64(table.Count)
	}

	if total != payload.Metadata.TotalRecords {
		return false, fmt.Sprintf("tables hold %d rows but metadata declares %d", total, payload.Metadata.TotalRecords)
	}
	if record.DatabaseRecords > 0 && total != record.DatabaseRecords {
		return false, fmt.Sprintf("tables hold %d rows but the backup record says %d", total, record.DatabaseRecords)
	}

	return true, ""
}

// checkNoEmptyTables fails when a table the snapshot counted rows for came back empty
func checkNoEmptyTables(payload *Payload) (bool, string) {
	for name, expected := range payload.Metadata.TableCounts {
		table, ok := payload.Tables[name]
		if expected > 0 && (!ok || len(table.Records) == 0) {
			return false, fmt.Sprintf("table %s is empty but %d rows were snapshotted", name, expected)
		}
	}
	return true, ""
}
