package display

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color is a foreground attribute; the zero value leaves text unstyled
type Color = color.Attribute

const (
	ColorNone         Color = 0
	ColorRed                = color.FgRed
	ColorGreen              = color.FgGreen
	ColorYellow             = color.FgYellow
	ColorBlue               = color.FgBlue
	ColorCyan               = color.FgCyan
	ColorWhite              = color.FgWhite
	ColorBrightRed          = color.FgHiRed
	ColorBrightGreen        = color.FgHiGreen
	ColorBrightYellow       = color.FgHiYellow
	ColorBrightBlue         = color.FgHiBlue
)

// ColorTheme assigns a color to each kind of output
type ColorTheme struct {
	Primary Color
	Success Color
	Warning Color
	Error   Color
	Info    Color
	Muted   Color
}

// ColorSystem applies theme colors when the output supports them
type ColorSystem interface {
	Colorize(text string, color Color) string
	Sprintf(color Color, format string, args ...interface{}) string
	IsColorSupported() bool
	GetTheme() ColorTheme
}

// TerminalColors is the ColorSystem of one output stream
type TerminalColors struct {
	theme   ColorTheme
	enabled bool

	mu     sync.Mutex
	styles map[Color]*color.Color
}

// NewColorSystem creates the color system for w. Colors are used only when
// enabled is set and w is a color-capable terminal.
func NewColorSystem(theme ColorTheme, w io.Writer, enabled bool) *TerminalColors {
	return &TerminalColors{
		theme:   theme,
		enabled: enabled && supportsColor(w),
		styles:  make(map[Color]*color.Color),
	}
}

// supportsColor reports whether w is a terminal that renders colors and the
// environment does not opt out through NO_COLOR or TERM=dumb
func supportsColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return termenv.NewOutput(f).EnvColorProfile() != termenv.Ascii
}

func (tc *TerminalColors) style(c Color) *color.Color {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	s, ok := tc.styles[c]
	if !ok {
		s = color.New(c)
		// fatih/color decides from os.Stdout on its own; the writer decides here
		s.EnableColor()
		tc.styles[c] = s
	}
	return s
}

func (tc *TerminalColors) Colorize(text string, c Color) string {
	if !tc.enabled || c == ColorNone {
		return text
	}
	return tc.style(c).Sprint(text)
}

func (tc *TerminalColors) Sprintf(c Color, format string, args ...interface{}) string {
	return tc.Colorize(fmt.Sprintf(format, args...), c)
}

func (tc *TerminalColors) IsColorSupported() bool {
	return tc.enabled
}

func (tc *TerminalColors) GetTheme() ColorTheme {
	return tc.theme
}

// DarkColorTheme suits dark terminal backgrounds
func DarkColorTheme() ColorTheme {
	return ColorTheme{
		Primary: ColorBrightBlue,
		Success: ColorBrightGreen,
		Warning: ColorBrightYellow,
		Error:   ColorBrightRed,
		Info:    ColorCyan,
		Muted:   ColorWhite,
	}
}

// LightColorTheme suits light terminal backgrounds
func LightColorTheme() ColorTheme {
	return ColorTheme{
		Primary: ColorBlue,
		Success: ColorGreen,
		Warning: ColorYellow,
		Error:   ColorRed,
		Info:    ColorCyan,
	}
}

var themes = map[string]func() ColorTheme{
	"dark":  DarkColorTheme,
	"light": LightColorTheme,
	"plain": func() ColorTheme { return ColorTheme{} },
	"none":  func() ColorTheme { return ColorTheme{} },
}

// GetThemeByName returns a color theme by name, dark when unknown
func GetThemeByName(name string) ColorTheme {
	if theme, ok := themes[name]; ok {
		return theme()
	}
	return DarkColorTheme()
}

// StatusColor picks the theme color for a task, backup or store status
func StatusColor(theme ColorTheme, status string) Color {
	switch status {
	case "success", "healthy", "ok", "valid":
		return theme.Success
	case "failed", "critical", "error", "invalid", "unreachable":
		return theme.Error
	case "running", "pending", "validating", "warning", "skipped":
		return theme.Warning
	default:
		return theme.Muted
	}
}
