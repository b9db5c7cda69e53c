// Package guardx implements the abuse guard consulted before sensitive
// authentication operations. A guard answers one question: may this
// (action, identity) pair proceed right now, and if not, when should the
// caller retry.
//
// Two drivers are provided: an in-process token-bucket guard for single
// instance deployments, and a Redis fixed-window guard for deployments
// where the counters must be shared.
package guardx

import (
	"context"
	"os"
	"strconv"
	"time"
)

// Well-known action names gated by the service.
const (
	ActionLogin     = "login"
	ActionVerify2FA = "2fa_verify"
	ActionRegister  = "register"
)

// Decision is the outcome of a guard check.
type Decision struct {
	Allowed bool

	// RetryAfter hints when the caller may try again. Only meaningful
	// when Allowed is false.
	RetryAfter time.Duration
}

// Guard is consulted before a gated operation runs. Checking records the
// attempt; there is no separate commit step.
type Guard interface {
	CheckAndRecord(ctx context.Context, action, key string) (Decision, error)
}

// Window is a request budget over a time span.
type Window struct {
	Requests int
	Span     time.Duration
}

// Default budgets. Sensitive actions (login, 2FA verification) get a much
// tighter budget since each attempt is a guess at a credential.
// Override with GUARD_DEFAULT_* / GUARD_SENSITIVE_* (see ParseWindowFromEnv).
var (
	DefaultWindow   = Window{Requests: 100, Span: 15 * time.Minute}
	SensitiveWindow = Window{Requests: 5, Span: 15 * time.Minute}
)

func init() {
	DefaultWindow = ParseWindowFromEnv("DEFAULT", DefaultWindow)
	SensitiveWindow = ParseWindowFromEnv("SENSITIVE", SensitiveWindow)
}

// ParseWindowFromEnv reads a window override from GUARD_{prefix}_REQUESTS
// and GUARD_{prefix}_WINDOW_SEC, falling back to the given default for any
// unset or unparsable value.
func ParseWindowFromEnv(prefix string, def Window) Window {
	w := def

	if val := os.Getenv("GUARD_" + prefix + "_REQUESTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			w.Requests = n
		}
	}
	if val := os.Getenv("GUARD_" + prefix + "_WINDOW_SEC"); val != "" {
		if sec, err := strconv.Atoi(val); err == nil && sec > 0 {
			w.Span = time.Duration(sec) * time.Second
		}
	}

	return w
}

// SensitiveActions maps the actions that get the tight budget. Anything
// not listed falls back to the default window.
func SensitiveActions() map[string]Window {
	return map[string]Window{
		ActionLogin:     SensitiveWindow,
		ActionVerify2FA: SensitiveWindow,
	}
}
