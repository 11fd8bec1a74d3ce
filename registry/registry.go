/*
Package registry implements the recipient registry: an immutable,
process-lifetime mapping from protected recipient address to an optional
expected SASL identity string (spec.md §3). Presence in the mapping makes a
recipient "protected"; absence makes the daemon transparent about it.
*/
package registry

import (
	"fmt"
	"strings"
)

// Registry is an immutable recipient → expected-SASL-identity mapping,
// built once at startup and never mutated afterward.
type Registry struct {
	identities map[string]string
}

// New builds a Registry from entries mapping a canonical recipient address
// to its expected SASL identity, or "" if none is required for that
// recipient specifically (require-sasl still gates authorization globally).
func New(entries map[string]string) *Registry {
	identities := make(map[string]string, len(entries))
	for recipient, identity := range entries {
		identities[strings.ToLower(strings.TrimSpace(recipient))] = identity
	}
	return &Registry{identities: identities}
}

// Contains reports whether recipient is protected.
func (r *Registry) Contains(recipient string) bool {
	_, ok := r.identities[recipient]
	return ok
}

// ExpectedSASLIdentity returns the SASL identity configured for recipient,
// and whether one was configured at all.
func (r *Registry) ExpectedSASLIdentity(recipient string) (string, bool) {
	identity, ok := r.identities[recipient]
	if !ok || identity == "" {
		return "", false
	}
	return identity, true
}

// Size reports how many recipients are protected, for diagnostics.
func (r *Registry) Size() int {
	return len(r.identities)
}

// String renders the registry for diagnostic logging; identity values are
// never included since they are secrets.
func (r *Registry) String() string {
	return fmt.Sprintf("registry(%d recipients)", len(r.identities))
}
