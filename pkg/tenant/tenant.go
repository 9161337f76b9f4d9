// Package tenant implements the key-prefixing discipline for multi-tenant
// deployments. A single rule covers streams and metadata keys: the base name
// stays fixed and all tenancy lives in a "tenant:{id}:" prefix.
package tenant

// DefaultStream is the base event stream name. Tenancy never changes the
// suffix, only the prefix.
const DefaultStream = "asdlc:events"

// Keyer derives tenant-prefixed keys. The zero value is single-tenant mode:
// every key passes through untouched.
//
// The tenant scope is threaded explicitly through call sites rather than
// held in process-global state; callers pass the tenant ID they act for.
type Keyer struct {
	// Enabled turns on tenant prefixing.
	Enabled bool

	// Default is used when Enabled is set and the caller supplies no
	// tenant ID.
	Default string
}

// Resolve returns the effective tenant for the given ID: "" when tenancy is
// disabled, the configured default when no ID is supplied.
func (k Keyer) Resolve(tenantID string) string {
	if !k.Enabled {
		return ""
	}
	if tenantID == "" {
		return k.Default
	}
	return tenantID
}

// Key returns base unchanged when tenancy resolves to no tenant, otherwise
// "tenant:{id}:{base}".
func (k Keyer) Key(tenantID, base string) string {
	t := k.Resolve(tenantID)
	if t == "" {
		return base
	}
	return "tenant:" + t + ":" + base
}

// Stream returns the event stream name for the given tenant.
func (k Keyer) Stream(tenantID string) string {
	return k.Key(tenantID, DefaultStream)
}

// StreamName returns the stream name for a bare tenant ID with no ambient
// configuration: the default stream when id is empty, the prefixed stream
// otherwise. Worker instances pinned to one tenant use this form.
func StreamName(tenantID string) string {
	return Keyer{Enabled: tenantID != ""}.Key(tenantID, DefaultStream)
}
