package config

import "sync"

// RuntimeConfig stores configuration set at runtime via CLI flags.
// These values are not persisted to config files.
type RuntimeConfig struct {
	mu          sync.RWMutex
	debug       bool
	disableExec bool
}

var globalRuntime = &RuntimeConfig{}

// SetAllowExec enables or disables preprocessors that shell out to external
// commands. Exec preprocessors are allowed unless disabled with --no-exec.
func SetAllowExec(allow bool) {
	globalRuntime.mu.Lock()
	defer globalRuntime.mu.Unlock()
	globalRuntime.disableExec = !allow
}

// IsExecAllowed returns whether exec preprocessors may run.
func IsExecAllowed() bool {
	globalRuntime.mu.RLock()
	defer globalRuntime.mu.RUnlock()
	return !globalRuntime.disableExec
}

// SetDebug toggles verbose logging for every component.
func SetDebug(debug bool) {
	globalRuntime.mu.Lock()
	defer globalRuntime.mu.Unlock()
	globalRuntime.debug = debug
}

// IsDebug returns whether verbose logging is enabled.
func IsDebug() bool {
	globalRuntime.mu.RLock()
	defer globalRuntime.mu.RUnlock()
	return globalRuntime.debug
}
