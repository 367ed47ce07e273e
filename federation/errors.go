package federation

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for session and pool lifecycle. Pool exhaustion is a
// bounded-wait timeout, never an infinite retry.
var (
	// ErrPoolExhausted is returned when a connection could not be acquired
	// within the configured acquire timeout.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrSessionClosed is returned when an operation races with CloseSession.
	ErrSessionClosed = errors.New("session closed")

	// ErrEmptyName is returned by SanitizeIdentifier for blank input.
	ErrEmptyName = errors.New("identifier is empty")
)

// UnsupportedProviderError is returned when a datasource's provider id
// matches no registered engine family and the extension fallback has no
// answer either.
type UnsupportedProviderError struct {
	Provider  string
	Supported []string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider %q (supported: %s)",
		e.Provider, strings.Join(e.Supported, ", "))
}

// MissingConfigError names the connection-config field a provider mapping
// needed but did not find. During incremental enablement this is an
// expected transient state, so callers treat it as "skip", not a failure.
type MissingConfigError struct {
	Field string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("missing config field %q", e.Field)
}

// NameCollisionError is returned by rename and view creation when the
// target name is already taken in the session catalog.
type NameCollisionError struct {
	Name string
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("name %q already exists", e.Name)
}

// The engine and the foreign scanners report conditions as message text, so
// the classifiers below are string heuristics. They only ever widen what we
// tolerate (idempotent attach/detach, skipped tables), never what we reject.

// isAlreadyAttached reports whether err indicates the catalog is attached
// under this name already. ATTACH is treated as idempotent.
func isAlreadyAttached(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "already attached") ||
		strings.Contains(msg, "already in use")
}

// isMissingObject reports whether err indicates the referenced catalog,
// table, or view does not exist. DETACH of a missing catalog and probes of
// dropped objects are treated as already satisfied.
func isMissingObject(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "no such view") ||
		strings.Contains(msg, "unknown table")
}

// isPermissionDenied reports whether err is an access failure from the
// foreign engine. Expected for restricted schemas; the affected table is
// skipped silently.
func isPermissionDenied(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "access denied") ||
		strings.Contains(msg, "insufficient privilege") ||
		strings.Contains(msg, "not authorized")
}
