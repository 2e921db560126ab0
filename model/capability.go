package model

import "strings"

// Capabilities checked by the HTTP layer.
const (
	CapConsultationsRead  = "consultations:read"
	CapConsultationsWrite = "consultations:write"
	CapConsentRecord      = "consent:record"
	CapConsentFinalize    = "consent:finalize"
	CapTrackingManage     = "tracking:manage"
	CapAlertsAcknowledge  = "alerts:acknowledge"
	CapReportsGenerate    = "reports:generate"
)

// CapabilitySet is the set of capabilities granted to an actor. Keys may be
// wildcards: "consent:*" grants every consent capability, "*" grants all.
type CapabilitySet map[string]bool

// Has returns true if the set grants cap exactly or through a wildcard.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAll returns true if every capability is granted.
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, c := range caps {
		if !cs.Has(c) {
			return false
		}
	}
	return true
}

// matchWildcard matches "*" against anything and "prefix:*" against any
// capability starting with "prefix:".
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	return strings.HasPrefix(cap, strings.TrimSuffix(pattern, "*"))
}

// CapabilityResolver resolves the capability set for a request context.
type CapabilityResolver interface {
	Resolve(rctx *RequestContext) (CapabilitySet, error)
	Invalidate(subjectID string)
}
