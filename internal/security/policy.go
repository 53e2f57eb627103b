package security

import (
	"go.uber.org/zap"

	"login-security/internal/util"
)

// FailureMode says what a component does when its infrastructure dependency
// errors mid-decision.
type FailureMode int

const (
	// FailOpen absorbs the error and continues as if no signal was produced.
	FailOpen FailureMode = iota
	// FailClosed keeps the blocking decision even when persisting it failed.
	FailClosed
	// Propagate surfaces the error to the caller unmodified.
	Propagate
)

// failurePolicies is the single place the fail-open/fail-closed split is
// decided. Availability of login wins everywhere except writes that enforce
// a decision already made, and compliance bans, which are never swallowed.
var failurePolicies = map[string]FailureMode{
	"rate_limit_check":  FailOpen,
	"rate_limit_record": FailOpen,
	"lockout_write":     FailClosed,
	"device_lookup":     FailOpen,
	"location_lookup":   FailOpen,
	"location_history":  FailOpen,
	"compliance_ban":    Propagate,
	"region_guard":      FailOpen,
	"event_fanout":      FailOpen,
	"risk_alert_email":  FailOpen,
}

// PolicyFor returns the failure mode for a component, defaulting to
// Propagate so an unlisted component fails loudly rather than silently open.
func PolicyFor(component string) FailureMode {
	if mode, ok := failurePolicies[component]; ok {
		return mode
	}
	return Propagate
}

// absorb logs a failure that policy says to tolerate. Returns true when the
// caller should continue with no signal, false when the error must surface.
func absorb(component string, err error) bool {
	switch PolicyFor(component) {
	case FailOpen, FailClosed:
		util.Warn("Tolerating infrastructure failure",
			zap.String("component", component),
			zap.Error(err))
		return true
	default:
		return false
	}
}
