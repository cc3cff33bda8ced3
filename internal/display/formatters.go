package display

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// OutputFormat represents different output format options
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat validates a --output flag value
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("invalid output format '%s', must be one of: table, json, yaml", s)
}

// Options control how a Printer renders
type Options struct {
	Format       OutputFormat
	Theme        string
	TableStyle   string
	ColorEnabled bool
	Writer       io.Writer
}

// Printer writes command output as a table or as structured JSON/YAML
type Printer struct {
	format OutputFormat
	out    io.Writer
	colors ColorSystem
	style  TableStyle
}

// NewPrinter creates a printer; a nil Writer means stdout
func NewPrinter(opts Options) *Printer {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	if opts.Format == "" {
		opts.Format = FormatTable
	}
	return &Printer{
		format: opts.Format,
		out:    opts.Writer,
		colors: NewColorSystem(GetThemeByName(opts.Theme), opts.Writer, opts.ColorEnabled),
		style:  GetTableStyle(opts.TableStyle),
	}
}

// Format returns the output format
func (p *Printer) Format() OutputFormat {
	return p.format
}

// Structured reports whether output is JSON or YAML
func (p *Printer) Structured() bool {
	return p.format == FormatJSON || p.format == FormatYAML
}

// Encode writes v as JSON or YAML. In table mode it falls back to YAML.
func (p *Printer) Encode(v interface{}) error {
	if p.format == FormatJSON {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to marshal output to JSON: %w", err)
		}
		return nil
	}

	enc := yaml.NewEncoder(p.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal output to YAML: %w", err)
	}
	return enc.Close()
}

// Table starts a table in the printer's style
func (p *Printer) Table(headers ...string) *Table {
	t := NewTable(p.colors, headers...)
	t.SetStyle(p.style)
	return t
}

// Render writes a finished table
func (p *Printer) Render(t *Table) {
	t.WriteTo(p.out)
}

// Title prints a section heading
func (p *Printer) Title(title string) {
	fmt.Fprintln(p.out, p.colors.Colorize(title, p.colors.GetTheme().Primary))
}

func (p *Printer) Success(format string, args ...interface{}) {
	p.status("✓", p.colors.GetTheme().Success, format, args...)
}

func (p *Printer) Warning(format string, args ...interface{}) {
	p.status("!", p.colors.GetTheme().Warning, format, args...)
}

func (p *Printer) Error(format string, args ...interface{}) {
	p.status("✗", p.colors.GetTheme().Error, format, args...)
}

func (p *Printer) Info(format string, args ...interface{}) {
	p.status("i", p.colors.GetTheme().Info, format, args...)
}

func (p *Printer) status(icon string, clr Color, format string, args ...interface{}) {
	fmt.Fprintf(p.out, "%s %s\n", p.colors.Colorize(icon, clr), fmt.Sprintf(format, args...))
}

// Status colors a status word with the theme
func (p *Printer) Status(status string) string {
	return p.colors.Colorize(status, StatusColor(p.colors.GetTheme(), status))
}
