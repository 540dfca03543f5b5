package relay

import (
	"context"
	"log/slog"
)

// Dispatcher delivers messages to connections found in a Registry.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher creates a dispatcher backed by registry
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Registry returns the registry the dispatcher reads from
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch routes msg by unicast when it names a target and by broadcast
// otherwise. It returns the number of connections the line was written to.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) int {
	line := msg.Line()
	if msg.IsUnicast() {
		if d.Unicast(ctx, msg.Target, line) {
			return 1
		}
		return 0
	}
	return d.Broadcast(ctx, line)
}

// Broadcast writes line to every open connection, including the sender.
// Stops early if ctx is cancelled.
func (d *Dispatcher) Broadcast(ctx context.Context, line string) int {
	delivered := 0
	for _, entry := range d.registry.Snapshot() {
		if ctx.Err() != nil {
			break
		}
		if d.deliver(entry.Identity, entry.Conn, line) {
			delivered++
		}
	}
	return delivered
}

// Unicast writes line to the connection registered as target. A missing or
// closing target is dropped without notice to the sender.
func (d *Dispatcher) Unicast(ctx context.Context, target, line string) bool {
	if ctx.Err() != nil {
		return false
	}

	conn, ok := d.registry.Lookup(target)
	if !ok {
		slog.Debug("unicast target not connected", "target", target)
		return false
	}
	return d.deliver(target, conn, line)
}

func (d *Dispatcher) deliver(identity string, conn Conn, line string) bool {
	if conn.State() != StateOpen {
		return false
	}
	if err := conn.Send(line); err != nil {
		slog.Warn("send failed", "identity", identity, "conn_id", conn.ID(), "error", err)
		return false
	}
	return true
}
