package confirmation

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"clinic-backup/internal/backup"
)

func testSummary() RestoreSummary {
	return RestoreSummary{
		Record: &backup.BackupRecord{
			ID:              42,
			TenantID:        7,
			BackupType:      backup.BackupTypeFull,
			Destination:     backup.DestinationPrimary,
			FilePath:        "backup/tenant_7/full_2026-03-01.json.gz.enc",
			FileSizeBytes:   4096,
			ChecksumSHA256:  "abc123",
			IsEncrypted:     true,
			DatabaseRecords: 250,
			StartedAt:       time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC),
		},
		RequestedBy: "ops@clinic.example",
	}
}

func TestNewConfirmationService(t *testing.T) {
	service := NewConfirmationService(strings.NewReader(""), &bytes.Buffer{}, false)
	if service == nil {
		t.Fatal("NewConfirmationService returned nil")
	}
}

func TestDisplayRestoreSummary(t *testing.T) {
	var out bytes.Buffer
	service := NewConfirmationService(strings.NewReader(""), &out, false)

	service.DisplayRestoreSummary(testSummary())

	for _, want := range []string{
		"DESTRUCTIVE OPERATION",
		"tenant 7 will be replaced with the contents of backup 42",
		"2026-03-01T06:00:00Z",
		"Records:      250",
		"Requested by: ops@clinic.example",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, out.String())
		}
	}
}

func TestConfirmRestore(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"yes", "y\n", true},
		{"full yes", "YES\n", true},
		{"no", "n\n", false},
		{"empty defaults to no", "\n", false},
		{"invalid then yes", "maybe\ny\n", true},
		{"details then no", "d\nn\n", false},
		{"eof without newline", "y", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			service := NewConfirmationService(strings.NewReader(tt.input), &out, false)

			got, err := service.ConfirmRestore(testSummary(), false)
			if err != nil {
				t.Fatalf("ConfirmRestore returned error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("ConfirmRestore(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestConfirmRestore_DetailsShowsArchive(t *testing.T) {
	var out bytes.Buffer
	service := NewConfirmationService(strings.NewReader("d\nn\n"), &out, false)

	if _, err := service.ConfirmRestore(testSummary(), false); err != nil {
		t.Fatalf("ConfirmRestore returned error: %v", err)
	}
	if !strings.Contains(out.String(), "Checksum:  abc123") {
		t.Errorf("details should print the checksum:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "4.0 KiB") {
		t.Errorf("details should print the archive size:\n%s", out.String())
	}
}

func TestConfirmRestore_AutoApprove(t *testing.T) {
	var out bytes.Buffer
	service := NewConfirmationService(strings.NewReader(""), &out, false)

	got, err := service.ConfirmRestore(testSummary(), true)
	if err != nil {
		t.Fatalf("ConfirmRestore returned error: %v", err)
	}
	if !got {
		t.Error("auto-approve should confirm without reading input")
	}
	if strings.Contains(out.String(), "[y/N/d]") {
		t.Error("auto-approve should not prompt")
	}
}

func TestConfirmRestore_ClosedInput(t *testing.T) {
	service := NewConfirmationService(strings.NewReader(""), &bytes.Buffer{}, false)

	got, err := service.ConfirmRestore(testSummary(), false)
	if err == nil {
		t.Error("expected an error when stdin is closed")
	}
	if got {
		t.Error("closed input must not confirm")
	}
}
