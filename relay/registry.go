package relay

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// State is the lifecycle stage of a connection.
type State int32

const (
	StateHandshaking State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Conn is a live connection handle held by the registry.
type Conn interface {
	// ID uniquely identifies this connection instance, independent of its identity label.
	ID() string
	Identity() string
	State() State
	// Send writes one text message. Implementations serialize concurrent calls.
	Send(text string) error
}

// Entry is one registry member as returned by Snapshot.
type Entry struct {
	Identity string
	Conn     Conn
}

// CollisionPolicy decides when a new identity clashes with a registered one.
type CollisionPolicy string

const (
	// CollisionExact rejects only an identical identity.
	CollisionExact CollisionPolicy = "exact"

	// CollisionContains rejects the candidate when any registered identity
	// contains it as a substring.
	CollisionContains CollisionPolicy = "contains"
)

// ParseCollisionPolicy converts a flag value into a CollisionPolicy.
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch p := CollisionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", CollisionExact:
		return CollisionExact, nil
	case CollisionContains:
		return CollisionContains, nil
	default:
		return "", fmt.Errorf("unknown collision policy %q (want %q or %q)", s, CollisionExact, CollisionContains)
	}
}

// Registry maps identities to live connections
type Registry struct {
	conns  map[string]Conn
	policy CollisionPolicy
	mu     sync.RWMutex
}

// NewRegistry creates a registry using exact-match collision detection
func NewRegistry() *Registry {
	return NewRegistryWithPolicy(CollisionExact)
}

// NewRegistryWithPolicy creates a registry with the given collision policy
func NewRegistryWithPolicy(policy CollisionPolicy) *Registry {
	if policy == "" {
		policy = CollisionExact
	}
	return &Registry{
		conns:  make(map[string]Conn),
		policy: policy,
	}
}

// Policy returns the collision policy in effect
func (r *Registry) Policy() CollisionPolicy {
	return r.policy
}

// TryRegister inserts conn under identity. It returns false, leaving the
// registry unchanged, when the identity collides with an existing entry.
func (r *Registry) TryRegister(identity string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.collides(identity) {
		return false
	}
	r.conns[identity] = conn
	return true
}

// collides must be called with r.mu held.
func (r *Registry) collides(identity string) bool {
	if _, exists := r.conns[identity]; exists {
		return true
	}
	if r.policy != CollisionContains {
		return false
	}
	for key := range r.conns {
		if strings.Contains(key, identity) {
			return true
		}
	}
	return false
}

// Unregister removes identity if it is still owned by conn. Calling it for an
// absent identity, or for an entry that now belongs to another connection, is
// a no-op.
func (r *Registry) Unregister(identity string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.conns[identity]
	if !exists {
		return
	}
	if conn != nil && current.ID() != conn.ID() {
		return
	}
	delete(r.conns, identity)
}

// Lookup returns the connection registered under identity
func (r *Registry) Lookup(identity string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[identity]
	return conn, ok
}

// Snapshot returns a point-in-time copy of all entries, ordered by identity.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.conns))
	for identity, conn := range r.conns {
		entries = append(entries, Entry{Identity: identity, Conn: conn})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Identity < entries[j].Identity
	})
	return entries
}

// Len returns the number of registered connections
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
