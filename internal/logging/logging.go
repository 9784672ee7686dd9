// Package logging provides the shared hclog configuration for go-qcomtee.
package logging

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	mu            sync.RWMutex
	defaultLogger hclog.Logger
)

// Default returns the default logger, creating it if necessary.
func Default() hclog.Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = hclog.New(&hclog.LoggerOptions{
			Name:  "qcomtee",
			Level: hclog.Info,
		})
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger hclog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// Named returns a sub-logger of the default logger.
func Named(name string) hclog.Logger {
	return Default().Named(name)
}
