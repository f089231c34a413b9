package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepbox/internal/ui"
)

func newTestHandler(t *testing.T) (*ErrorHandler, string, *bytes.Buffer) {
	t.Helper()
	logDir := filepath.Join(t.TempDir(), "logs")
	var errOut bytes.Buffer
	handler, err := NewErrorHandler(Options{LogDir: logDir, Console: ui.NewConsoleWithWriters(&errOut, &errOut)})
	require.NoError(t, err)
	return handler, logDir, &errOut
}

func readLogRecords(t *testing.T, logDir string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, LogFileName))
	require.NoError(t, err)
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record), "log line %q", line)
		records = append(records, record)
	}
	return records
}

func TestErrorHandler_RecordsBuild(t *testing.T) {
	handler, logDir, errOut := newTestHandler(t)

	stepErr := NewStepError("Step 'compile' failed", "exit status 2", "Check the build log above",
		errors.New("step compile exited with status 2")).
		InBuild(BuildInfo{Job: "demo", Number: 7, Container: "demo-7"})
	handler.Handle(fmt.Errorf("build failed: %w", stepErr))

	records := readLogRecords(t, logDir)
	require.Len(t, records, 1)
	record := records[0]
	assert.Equal(t, "step_failed", record["kind"])
	assert.Equal(t, "Step 'compile' failed", record["context"])
	assert.Equal(t, "Check the build log above", record["suggestion"])
	assert.Equal(t, "build failed: step compile exited with status 2", record["error"])
	assert.Equal(t, map[string]any{"job": "demo", "number": float64(7), "container": "demo-7"}, record["build"])

	assert.Equal(t, "Error: Step 'compile' failed\nCause: exit status 2\nSuggestion: Check the build log above\n", errOut.String())
}

func TestErrorHandler_WithoutBuild(t *testing.T) {
	handler, logDir, _ := newTestHandler(t)

	handler.Handle(NewPipelineError("Pipeline file not found", "ci.yml", "", errors.New("missing")))

	record := readLogRecords(t, logDir)[0]
	assert.Equal(t, "pipeline_not_found", record["kind"])
	assert.NotContains(t, record, "build")
	assert.NotContains(t, record, "suggestion")
}

func TestErrorHandler_GenericError(t *testing.T) {
	handler, logDir, errOut := newTestHandler(t)

	handler.Handle(errors.New("generic test error"))
	handler.Handle(nil)

	records := readLogRecords(t, logDir)
	require.Len(t, records, 1)
	assert.Equal(t, "generic", records[0]["kind"])
	assert.Equal(t, "generic test error", records[0]["error"])
	assert.Equal(t, "Error: generic test error\n", errOut.String())
}

func TestNewErrorHandler_LogDirIsAFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	_, err := NewErrorHandler(Options{LogDir: filepath.Join(blocker, "logs")})
	assert.ErrorContains(t, err, "failed to create log directory")
}

func TestNewErrorHandler_Rotates(t *testing.T) {
	logDir := t.TempDir()
	logPath := filepath.Join(logDir, LogFileName)
	for name, content := range map[string]string{
		logPath:        strings.Repeat("x", 64),
		logPath + ".1": "gen1",
		logPath + ".2": "gen2",
	} {
		require.NoError(t, os.WriteFile(name, []byte(content), 0600))
	}

	_, err := NewErrorHandler(Options{LogDir: logDir, MaxLogSize: 64, Generations: 2})
	require.NoError(t, err)

	assertFile(t, logPath+".1", strings.Repeat("x", 64))
	assertFile(t, logPath+".2", "gen1")
	assert.NoFileExists(t, logPath+".3")
	assertFile(t, logPath, "")
}

func TestNewErrorHandler_SmallLogKept(t *testing.T) {
	logDir := t.TempDir()
	logPath := filepath.Join(logDir, LogFileName)
	require.NoError(t, os.WriteFile(logPath, []byte("small\n"), 0600))

	_, err := NewErrorHandler(Options{LogDir: logDir, MaxLogSize: 64})
	require.NoError(t, err)

	assertFile(t, logPath, "small\n")
	assert.NoFileExists(t, logPath+".1")
}

func assertFile(t *testing.T, path, want string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if assert.NoError(t, err) {
		assert.Equal(t, want, string(data), path)
	}
}

func TestKindName(t *testing.T) {
	assert.Equal(t, "step_failed", KindName(ErrStepFailed))
	assert.Equal(t, "build_aborted", KindName(ErrBuildAborted))
	assert.Equal(t, "filesystem_failed", KindName(ErrFileSystemFailed))
	assert.Equal(t, "unknown", KindName(errors.New("other")))
	assert.Equal(t, "unknown", KindName(nil))
}

func TestStepboxError(t *testing.T) {
	originalErr := errors.New("original error")
	stepboxErr := NewAbortError("context", "cause", "suggestion", originalErr)
	wrapped := fmt.Errorf("run: %w", stepboxErr)

	assert.Equal(t, originalErr.Error(), stepboxErr.Error())
	assert.ErrorIs(t, wrapped, originalErr)
	assert.ErrorIs(t, wrapped, ErrBuildAborted)
	assert.NotErrorIs(t, wrapped, ErrStepFailed)

	var target *StepboxError
	require.ErrorAs(t, wrapped, &target)
	assert.Equal(t, "suggestion", target.Suggestion)
	assert.Nil(t, target.Build)
}

func TestErrorConstructors(t *testing.T) {
	originalErr := errors.New("test error")

	tests := []struct {
		name        string
		constructor func(string, string, string, error) *StepboxError
		kind        error
	}{
		{"NewPipelineError", NewPipelineError, ErrPipelineNotFound},
		{"NewParseError", NewParseError, ErrPipelineParseFailed},
		{"NewCheckoutError", NewCheckoutError, ErrCheckoutFailed},
		{"NewStepError", NewStepError, ErrStepFailed},
		{"NewAbortError", NewAbortError, ErrBuildAborted},
		{"NewRuntimeError", NewRuntimeError, ErrRuntimeFailed},
		{"NewConfigError", NewConfigError, ErrConfigInvalid},
		{"NewNotifyError", NewNotifyError, ErrNotifyFailed},
		{"NewFileSystemError", NewFileSystemError, ErrFileSystemFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.constructor("ctx", "cause", "suggestion", originalErr)
			assert.Equal(t, tt.kind, err.Type)
			assert.Equal(t, "ctx", err.Context)
			assert.Equal(t, "cause", err.Cause)
			assert.Equal(t, "suggestion", err.Suggestion)
			assert.Same(t, originalErr, err.OriginalErr)
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"aborted", NewAbortError("c", "", "", errors.New("x")), 130},
		{"bad pipeline", fmt.Errorf("load: %w", NewParseError("c", "", "", errors.New("x"))), 2},
		{"missing pipeline", NewPipelineError("c", "", "", errors.New("x")), 2},
		{"step failure", NewStepError("c", "", "", errors.New("x")), 1},
		{"generic", errors.New("boom"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestHandleError_UsesConfiguredLogDir(t *testing.T) {
	resetDefaultHandler()
	defer resetDefaultHandler()

	logDir := filepath.Join(t.TempDir(), "configured")
	var errOut bytes.Buffer
	Configure(Options{LogDir: logDir, Console: ui.NewConsoleWithWriters(&errOut, &errOut)})

	HandleError(NewConfigError("context", "cause", "suggestion", errors.New("bad config")))

	assert.Equal(t, "config_invalid", readLogRecords(t, logDir)[0]["kind"])
	assert.Contains(t, errOut.String(), "Error: context")
}
