package domain

import (
	"slices"
	"time"
)

// Consent records the scopes a subject has granted to a client. Re-granting
// unions in new scopes rather than replacing the set.
type Consent struct {
	SubjectID string
	ClientID  string
	Scopes    []string

	GrantedAt time.Time
	UpdatedAt time.Time
}

// Covers reports whether the consent already includes every requested scope.
func (c *Consent) Covers(requested []string) bool {
	for _, s := range requested {
		if !slices.Contains(c.Scopes, s) {
			return false
		}
	}
	return true
}

// MergeScopes returns the union of the consent's scopes and the requested
// ones, preserving the existing order and appending new scopes at the end.
func (c *Consent) MergeScopes(requested []string) []string {
	merged := slices.Clone(c.Scopes)
	for _, s := range requested {
		if !slices.Contains(merged, s) {
			merged = append(merged, s)
		}
	}
	return merged
}
