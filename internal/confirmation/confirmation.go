package confirmation

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"clinic-backup/internal/backup"
	"clinic-backup/internal/display"
)

// ErrCancelled is returned when the operator interrupts the prompt
var ErrCancelled = errors.New("operation cancelled by user")

// RestoreSummary describes the restore an operator is asked to approve
type RestoreSummary struct {
	Record      *backup.BackupRecord
	RequestedBy string
}

// ConfirmationService asks the operator to approve destructive operations
type ConfirmationService interface {
	ConfirmRestore(summary RestoreSummary, autoApprove bool) (bool, error)
	DisplayRestoreSummary(summary RestoreSummary)
}

type confirmationService struct {
	colors display.ColorSystem
	theme  display.ColorTheme
	reader *bufio.Reader
	out    io.Writer
}

// NewConfirmationService creates a prompt reading in and writing out
func NewConfirmationService(in io.Reader, out io.Writer, useColors bool) ConfirmationService {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	theme := display.DarkColorTheme()
	return &confirmationService{
		colors: display.NewColorSystem(theme, out, useColors),
		theme:  theme,
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// ConfirmRestore shows what the restore replaces and waits for y/N
func (cs *confirmationService) ConfirmRestore(summary RestoreSummary, autoApprove bool) (bool, error) {
	cs.DisplayRestoreSummary(summary)

	if autoApprove {
		fmt.Fprintln(cs.out, cs.colors.Colorize("Auto-approving restore...", cs.theme.Success))
		return true, nil
	}

	interruptChan := make(chan os.Signal, 1)
	signal.Notify(interruptChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interruptChan)

	type answer struct {
		ok  bool
		err error
	}
	answerChan := make(chan answer, 1)
	go func() {
		ok, err := cs.ask(summary)
		answerChan <- answer{ok, err}
	}()

	select {
	case <-interruptChan:
		fmt.Fprintln(cs.out, "\n"+cs.colors.Colorize("Operation cancelled by user", cs.theme.Warning))
		return false, ErrCancelled
	case a := <-answerChan:
		return a.ok, a.err
	}
}

// DisplayRestoreSummary prints the backup being restored and the data at risk
func (cs *confirmationService) DisplayRestoreSummary(summary RestoreSummary) {
	r := summary.Record
	fmt.Fprintln(cs.out, cs.colors.Colorize("DESTRUCTIVE OPERATION", cs.theme.Error))
	fmt.Fprintln(cs.out, strings.Repeat("=", 50))
	fmt.Fprintf(cs.out, "Every backed-up table of tenant %d will be replaced with the contents of backup %d.\n", r.TenantID, r.ID)
	fmt.Fprintln(cs.out, "Rows written after the backup was taken will be lost.")
	fmt.Fprintln(cs.out)

	fmt.Fprintf(cs.out, "Backup:       %d (%s)\n", r.ID, r.BackupType)
	fmt.Fprintf(cs.out, "Taken at:     %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(cs.out, "Records:      %d\n", r.DatabaseRecords)
	if summary.RequestedBy != "" {
		fmt.Fprintf(cs.out, "Requested by: %s\n", summary.RequestedBy)
	}
	fmt.Fprintln(cs.out)
}

func (cs *confirmationService) ask(summary RestoreSummary) (bool, error) {
	for {
		fmt.Fprint(cs.out, "Do you want to restore this backup? [y/N/d]: ")
		input, err := cs.reader.ReadString('\n')
		if err != nil && (err != io.EOF || input == "") {
			return false, fmt.Errorf("failed to read input: %w", err)
		}

		switch strings.ToLower(strings.TrimSpace(input)) {
		case "y", "yes":
			return true, nil
		case "n", "no", "":
			return false, nil
		case "d", "details":
			cs.displayDetails(summary.Record)
		default:
			fmt.Fprintf(cs.out, "Invalid input '%s'. Please enter 'y' for yes, 'n' for no, or 'd' for details.\n", strings.TrimSpace(input))
		}
		if err == io.EOF {
			return false, nil
		}
	}
}

func (cs *confirmationService) displayDetails(r *backup.BackupRecord) {
	fmt.Fprintln(cs.out)
	fmt.Fprintf(cs.out, "File:      %s\n", r.FilePath)
	fmt.Fprintf(cs.out, "Size:      %s\n", display.FormatBytes(r.FileSizeBytes))
	fmt.Fprintf(cs.out, "Checksum:  %s\n", r.ChecksumSHA256)
	fmt.Fprintf(cs.out, "Encrypted: %t\n", r.IsEncrypted)
	fmt.Fprintf(cs.out, "Stored on: %s\n", r.Destination)
	fmt.Fprintln(cs.out)
}
