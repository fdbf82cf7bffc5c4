package service

import "sort"

// Scopes the gateway knows about.
const (
	ScopeSearch         = "mcp:search"
	ScopeFetch          = "mcp:fetch"
	ScopeApprovalsWrite = "approvals:write"
	ScopeAdminRead      = "admin:read"
	ScopeAdminWrite     = "admin:write"
)

// ScopePolicy is the allow-list of grantable scopes. Anything outside it is
// echoed back to registrants as invalid rather than silently dropped.
type ScopePolicy struct {
	known map[string]string // scope -> description
}

// DefaultScopePolicy returns the built-in scope table.
func DefaultScopePolicy() *ScopePolicy {
	return &ScopePolicy{known: map[string]string{
		ScopeSearch:         "Search the document index",
		ScopeFetch:          "Fetch full document content",
		ScopeApprovalsWrite: "Resolve pending tool-call approvals",
		ScopeAdminRead:      "Read registered client applications",
		ScopeAdminWrite:     "Manage client applications and approvals",
	}}
}

// Known reports whether the scope is grantable.
func (p *ScopePolicy) Known(scope string) bool {
	_, ok := p.known[scope]
	return ok
}

// Partition splits requested scopes into known and unknown, preserving
// request order and dropping duplicates.
func (p *ScopePolicy) Partition(requested []string) (valid, invalid []string) {
	seen := make(map[string]struct{}, len(requested))
	for _, s := range requested {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if p.Known(s) {
			valid = append(valid, s)
		} else {
			invalid = append(invalid, s)
		}
	}
	return valid, invalid
}

// All returns the known scopes sorted, for discovery metadata.
func (p *ScopePolicy) All() []string {
	out := make([]string, 0, len(p.known))
	for s := range p.known {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Describe returns the human description for a scope.
func (p *ScopePolicy) Describe(scope string) string {
	return p.known[scope]
}
