package errors

import (
	"sync"
	"sync/atomic"
)

// ErrorHook is called for every error built while reporting is active.
type ErrorHook func(ee *EnhancedError)

var (
	errorHooks   []ErrorHook
	errorHooksMu sync.RWMutex

	// hasActiveReporting lets Build skip stack walks and hook dispatch
	// when neither a telemetry reporter nor any hook is installed.
	hasActiveReporting atomic.Bool
)

// AddErrorHook registers a hook that observes built errors.
func AddErrorHook(hook ErrorHook) {
	if hook == nil {
		return
	}
	errorHooksMu.Lock()
	errorHooks = append(errorHooks, hook)
	errorHooksMu.Unlock()
	updateReportingState()
}

// ClearErrorHooks removes all registered hooks.
func ClearErrorHooks() {
	errorHooksMu.Lock()
	errorHooks = nil
	errorHooksMu.Unlock()
	updateReportingState()
}

func runErrorHooks(ee *EnhancedError) {
	errorHooksMu.RLock()
	hooks := errorHooks
	errorHooksMu.RUnlock()

	for _, hook := range hooks {
		hook(ee)
	}
}

// updateReportingState recomputes the fast-path flag.
func updateReportingState() {
	errorHooksMu.RLock()
	hooksActive := len(errorHooks) > 0
	errorHooksMu.RUnlock()

	reporter := GetTelemetryReporter()
	telemetryActive := reporter != nil && reporter.IsEnabled()

	hasActiveReporting.Store(hooksActive || telemetryActive)
}
