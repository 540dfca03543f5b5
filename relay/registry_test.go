package relay

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_TryRegister(t *testing.T) {
	r := NewRegistry()
	first := newMockConn("alice")
	second := &mockConn{id: "alice-2", identity: "alice", state: StateOpen}

	require.True(t, r.TryRegister("alice", first))
	assert.False(t, r.TryRegister("alice", second), "duplicate identity must be rejected")

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, first.ID(), got.ID(), "entry must still refer to the first connection")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_CollisionPolicy(t *testing.T) {
	tests := []struct {
		name      string
		policy    CollisionPolicy
		existing  string
		candidate string
		want      bool
	}{
		{name: "exact allows prefix", policy: CollisionExact, existing: "alice", candidate: "ali", want: true},
		{name: "exact rejects equal", policy: CollisionExact, existing: "alice", candidate: "alice", want: false},
		{name: "contains rejects substring", policy: CollisionContains, existing: "alice", candidate: "lic", want: false},
		{name: "contains rejects equal", policy: CollisionContains, existing: "alice", candidate: "alice", want: false},
		{name: "contains allows superstring", policy: CollisionContains, existing: "alice", candidate: "alice2", want: true},
		{name: "contains allows unrelated", policy: CollisionContains, existing: "alice", candidate: "bob", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistryWithPolicy(tt.policy)
			require.True(t, r.TryRegister(tt.existing, newMockConn(tt.existing)))

			got := r.TryRegister(tt.candidate, &mockConn{id: "candidate", identity: tt.candidate, state: StateOpen})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCollisionPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    CollisionPolicy
		wantErr bool
	}{
		{in: "", want: CollisionExact},
		{in: "exact", want: CollisionExact},
		{in: " Contains ", want: CollisionContains},
		{in: "prefix", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCollisionPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	r := NewRegistry()
	old := newMockConn("bob")
	require.True(t, r.TryRegister("bob", old))

	r.Unregister("bob", old)
	assert.NotPanics(t, func() { r.Unregister("bob", old) })

	replacement := &mockConn{id: "bob-2", identity: "bob", state: StateOpen}
	require.True(t, r.TryRegister("bob", replacement))

	// A late teardown of the old connection must not evict the new owner.
	r.Unregister("bob", old)

	got, ok := r.Lookup("bob")
	require.True(t, ok)
	assert.Equal(t, "bob-2", got.ID())
}

func TestRegistry_UnregisterAbsent(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() { r.Unregister("ghost", nil) })
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"carol", "alice", "bob"} {
		require.True(t, r.TryRegister(id, newMockConn(id)))
	}

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "alice", snap[0].Identity)
	assert.Equal(t, "bob", snap[1].Identity)
	assert.Equal(t, "carol", snap[2].Identity)

	// Mutating the registry does not affect a snapshot already taken.
	r.Unregister("bob", nil)
	assert.Len(t, snap, 3)
	assert.Len(t, r.Snapshot(), 2)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%d", i)
			conn := newMockConn(id)
			r.TryRegister(id, conn)
			r.Lookup(id)
			r.Snapshot()
			r.Unregister(id, conn)
		}(i)
	}

	wg.Wait()
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ConcurrentSameIdentity(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := &mockConn{id: fmt.Sprintf("dup-%d", i), identity: "dup", state: StateOpen}
			if r.TryRegister("dup", conn) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, r.Len())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "handshaking", StateHandshaking.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(9)", State(9).String())
}
