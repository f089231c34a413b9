package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
)

type ConsoleStyle int

const (
	StyleNormal ConsoleStyle = iota
	StyleError
	StyleWarning
	StyleSuccess
	StyleInfo
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
	colorBlue   = "\033[34m"
	colorBold   = "\033[1m"
)

// Console prints user-facing messages. Messages go to out, errors and
// warnings to errOut.
type Console struct {
	useColors bool
	out       io.Writer
	errOut    io.Writer
}

func NewConsole() *Console {
	return &Console{
		useColors: isTerminal(),
		out:       os.Stdout,
		errOut:    os.Stderr,
	}
}

// NewConsoleWithWriters returns a console without colors writing to the
// given writers.
func NewConsoleWithWriters(out, errOut io.Writer) *Console {
	return &Console{out: out, errOut: errOut}
}

func isTerminal() bool {
	stat, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func (c *Console) formatMessage(style ConsoleStyle, message string) string {
	if !c.useColors {
		return message
	}

	var color string
	switch style {
	case StyleError:
		color = colorRed + colorBold
	case StyleWarning:
		color = colorYellow
	case StyleSuccess:
		color = colorGreen
	case StyleInfo:
		color = colorBlue
	default:
		return message
	}

	return color + message + colorReset
}

// Out is the writer normal messages go to.
func (c *Console) Out() io.Writer {
	return c.out
}

func (c *Console) PrintError(message string) {
	fmt.Fprintf(c.errOut, "%s\n", c.formatMessage(StyleError, "Error: "+message))
}

func (c *Console) PrintWarning(message string) {
	fmt.Fprintf(c.errOut, "%s\n", c.formatMessage(StyleWarning, "Warning: "+message))
}

func (c *Console) PrintSuccess(message string) {
	fmt.Fprintf(c.out, "%s\n", c.formatMessage(StyleSuccess, message))
}

func (c *Console) PrintInfo(message string) {
	fmt.Fprintf(c.out, "%s\n", c.formatMessage(StyleInfo, message))
}

// PrintStage prints the banner that opens a section of the build log.
func (c *Console) PrintStage(format string, args ...any) {
	c.PrintInfo("[stepbox] " + fmt.Sprintf(format, args...))
}

func (c *Console) FormatErrorMessage(context, cause, suggestion string) string {
	var parts []string

	if context != "" {
		parts = append(parts, context)
	}

	if cause != "" {
		parts = append(parts, fmt.Sprintf("Cause: %s", cause))
	}

	if suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", suggestion))
	}

	return strings.Join(parts, "\n")
}
