package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"stepbox/internal/ui"
)

const (
	// LogFileName is the name of the error log inside the log directory.
	LogFileName = "stepbox.log"

	DefaultLogDir      = ".stepbox/logs"
	DefaultMaxLogSize  = 10 * 1024 * 1024
	DefaultGenerations = 5
)

// Options configures where an ErrorHandler keeps its log.
type Options struct {
	LogDir string
	// MaxLogSize is the size at which the log is rotated on open.
	MaxLogSize int64
	// Generations is the number of rotated logs kept next to the live one.
	Generations int
	// Console receives the user-facing message. Defaults to ui.NewConsole().
	Console *ui.Console
}

func (o Options) withDefaults() Options {
	if o.LogDir == "" {
		o.LogDir = DefaultLogDir
	}
	if o.MaxLogSize <= 0 {
		o.MaxLogSize = DefaultMaxLogSize
	}
	if o.Generations <= 0 {
		o.Generations = DefaultGenerations
	}
	if o.Console == nil {
		o.Console = ui.NewConsole()
	}
	return o
}

// ErrorHandler prints errors for the user and appends a JSON record of each
// one to the log file.
type ErrorHandler struct {
	logger  *slog.Logger
	console *ui.Console
}

func NewErrorHandler(opts Options) (*ErrorHandler, error) {
	opts = opts.withDefaults()

	if err := os.MkdirAll(opts.LogDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logPath := filepath.Join(opts.LogDir, LogFileName)
	if err := rotate(logPath, opts.MaxLogSize, opts.Generations); err != nil {
		slog.Warn("Failed to rotate error log", "path", logPath, "error", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	return &ErrorHandler{
		logger:  slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo})),
		console: opts.Console,
	}, nil
}

// rotate shifts path to path.1, path.1 to path.2 and so on once path has
// reached maxSize. The oldest generation is dropped.
func rotate(path string, maxSize int64, generations int) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() < maxSize {
		return nil
	}

	oldest := fmt.Sprintf("%s.%d", path, generations)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return err
	}
	for i := generations - 1; i > 0; i-- {
		from := fmt.Sprintf("%s.%d", path, i)
		if err := os.Rename(from, fmt.Sprintf("%s.%d", path, i+1)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return os.Rename(path, path+".1")
}

func (h *ErrorHandler) Handle(err error) {
	if err == nil {
		return
	}

	var stepboxErr *StepboxError
	if !errors.As(err, &stepboxErr) {
		h.logger.Error("Unhandled error occurred", "error", err.Error(), "kind", "generic")
		h.console.PrintError(err.Error())
		return
	}

	attrs := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("kind", KindName(stepboxErr.Type)),
		slog.String("context", stepboxErr.Context),
	}
	if stepboxErr.Cause != "" {
		attrs = append(attrs, slog.String("cause", stepboxErr.Cause))
	}
	if stepboxErr.Suggestion != "" {
		attrs = append(attrs, slog.String("suggestion", stepboxErr.Suggestion))
	}
	if b := stepboxErr.Build; b != nil {
		attrs = append(attrs, slog.Group("build",
			slog.String("job", b.Job),
			slog.Int("number", b.Number),
			slog.String("container", b.Container),
		))
	}
	h.logger.LogAttrs(context.Background(), slog.LevelError, "Build error", attrs...)

	h.console.PrintError(h.console.FormatErrorMessage(stepboxErr.Context, stepboxErr.Cause, stepboxErr.Suggestion))
}

var kindNames = map[error]string{
	ErrPipelineNotFound:    "pipeline_not_found",
	ErrPipelineParseFailed: "pipeline_parse_failed",
	ErrCheckoutFailed:      "checkout_failed",
	ErrStepFailed:          "step_failed",
	ErrBuildAborted:        "build_aborted",
	ErrRuntimeFailed:       "runtime_failed",
	ErrConfigInvalid:       "config_invalid",
	ErrNotifyFailed:        "notify_failed",
	ErrFileSystemFailed:    "filesystem_failed",
}

// KindName is the value logged under "kind" for an error type.
func KindName(kind error) string {
	if name, ok := kindNames[kind]; ok {
		return name
	}
	return "unknown"
}

// ExitCode maps err onto the process exit status of the CLI.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrBuildAborted):
		return 130
	case errors.Is(err, ErrConfigInvalid), errors.Is(err, ErrPipelineNotFound), errors.Is(err, ErrPipelineParseFailed):
		return 2
	default:
		return 1
	}
}
