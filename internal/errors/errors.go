package errors

import (
	"fmt"
	"os"
	"sync"
)

var (
	defaultHandler *ErrorHandler
	defaultOptions Options
	once           sync.Once
	handlerErr     error
)

// Configure sets the options the default handler is created with. It has no
// effect once the handler exists.
func Configure(opts Options) {
	defaultOptions = opts
}

// GetDefaultHandler returns the process-wide handler, creating it on first use.
func GetDefaultHandler() (*ErrorHandler, error) {
	once.Do(func() {
		defaultHandler, handlerErr = NewErrorHandler(defaultOptions)
	})
	return defaultHandler, handlerErr
}

// HandleError reports err through the default handler. When no handler can
// be created the error is still printed to stderr.
func HandleError(err error) {
	if err == nil {
		return
	}
	handler, hErr := GetDefaultHandler()
	if hErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	handler.Handle(err)
}

// resetDefaultHandler resets the singleton for testing purposes
func resetDefaultHandler() {
	defaultHandler = nil
	defaultOptions = Options{}
	handlerErr = nil
	once = sync.Once{}
}
