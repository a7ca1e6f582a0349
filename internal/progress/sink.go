package progress

import "context"

// Sink consumes batches of snapshots. Consume may be called repeatedly and
// must honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Snapshot) error
	Close(ctx context.Context) error
}

// Emitter publishes individual snapshots. The scheduler only depends on this.
type Emitter interface {
	Emit(s Snapshot)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Snapshot)

// Emit calls f(s).
func (f EmitterFunc) Emit(s Snapshot) {
	f(s)
}
