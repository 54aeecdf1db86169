// Package registry maps logical CGM protocol roles to the characteristics
// discovered on a connected sensor.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/srg/cgmlink/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	// ErrEndpointNotFound is returned by Lookup for a role discovery has not surfaced.
	ErrEndpointNotFound = errors.New("endpoint not found")
	// ErrConflict is returned when a role is registered twice with different endpoints.
	ErrConflict = errors.New("role already registered with a different endpoint")
)

// Entry binds a role to its transport endpoint.
type Entry struct {
	Role      Role
	Endpoint  device.Characteristic
	Notifying bool
}

// Registry is safe for concurrent use. Entries keep discovery order.
type Registry struct {
	mu      sync.RWMutex
	entries *orderedmap.OrderedMap[Role, *Entry]
}

func New() *Registry {
	return &Registry{entries: orderedmap.New[Role, *Entry]()}
}

// Register stores the mapping. Registering the same endpoint again is a no-op.
// A different endpoint with the same UUID, as surfaced by a reconnect, replaces
// the stored one and clears its notification flag.
func (r *Registry) Register(role Role, ep device.Characteristic) error {
	if ep == nil {
		return fmt.Errorf("register %s: nil endpoint", role)
	}
	if _, ok := roleUUIDs[role]; !ok {
		return fmt.Errorf("register %s: unknown role", role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries.Get(role); ok {
		if existing.Endpoint == ep {
			return nil
		}
		if existing.Endpoint.UUID() == ep.UUID() {
			r.entries.Set(role, &Entry{Role: role, Endpoint: ep})
			return nil
		}
		return fmt.Errorf("%w: %s", ErrConflict, role)
	}
	r.entries.Set(role, &Entry{Role: role, Endpoint: ep})
	return nil
}

// Lookup returns a copy of the entry for role.
func (r *Registry) Lookup(role Role) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries.Get(role)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrEndpointNotFound, role)
	}
	return *e, nil
}

// SetNotifying records whether notifications are enabled for role.
func (r *Registry) SetNotifying(role Role, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries.Get(role)
	if !ok {
		return fmt.Errorf("%w: %s", ErrEndpointNotFound, role)
	}
	e.Notifying = on
	return nil
}

// Entries lists registered entries in discovery order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, r.entries.Len())
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, *pair.Value)
	}
	return out
}

// Missing lists the roles that have no endpoint yet, in handshake order.
func (r *Registry) Missing() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Role
	for _, role := range Roles() {
		if _, ok := r.entries.Get(role); !ok {
			out = append(out, role)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries.Len()
}

// Reset drops every entry. Used when the connection goes away.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = orderedmap.New[Role, *Entry]()
}

// Populate registers every protocol characteristic found in the CGM service of conn.
// Characteristics of other roles or services are skipped. Returns the number registered.
func (r *Registry) Populate(conn device.Connection) (int, error) {
	svc, err := conn.GetService(ServiceUUID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEndpointNotFound, err)
	}

	n := 0
	for _, char := range svc.GetCharacteristics() {
		role, ok := RoleForUUID(char.UUID())
		if !ok {
			continue
		}
		if err := r.Register(role, char); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
