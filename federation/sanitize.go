package federation

import (
	"strings"
)

// catalogPrefix namespaces derived attachment catalog names so they can
// never collide with user-created views or the engine's own catalogs.
const catalogPrefix = "ds_"

// SanitizeIdentifier turns an arbitrary datasource name or id into a valid
// engine identifier: every character outside [A-Za-z0-9_] becomes '_', runs
// of '_' collapse, leading/trailing '_' are trimmed, the result is
// lower-cased, and a fixed prefix is added when the first character is not
// a letter (engine identifiers must start with a letter). Deterministic:
// the same input always yields the same output.
func SanitizeIdentifier(raw string) (string, error) {
	s, err := sanitizeCore(raw)
	if err != nil {
		return "", err
	}
	first := s[0]
	if first < 'a' || first > 'z' {
		s = catalogPrefix + s
	}
	return s, nil
}

// sanitizeCore is the shared replacement/collapse/trim/lowercase pipeline
// without the leading-letter rule.
func sanitizeCore(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrEmptyName
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastUnderscore := false
	for _, r := range trimmed {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
		if !ok {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}

	s := strings.Trim(b.String(), "_")
	if s == "" {
		return "", ErrEmptyName
	}
	return strings.ToLower(s), nil
}

// CatalogName derives the attachment catalog name for a foreign datasource.
// The derivation is id-based: datasource ids are unique, names are not, and
// the same function must be used on every attach, detach, and lookup path
// so membership in the attachment set can be re-derived identically on
// every call. The prefix is unconditional (not the sanitizer's
// leading-letter rule) so distinct ids keep distinct catalog names.
func CatalogName(datasourceID string) (string, error) {
	s, err := sanitizeCore(datasourceID)
	if err != nil {
		return "", err
	}
	return catalogPrefix + s, nil
}
