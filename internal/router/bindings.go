package router

// Bindings maps channel ids to topics for one connection generation.
// Channel ids are only meaningful on the connection that assigned them, so the
// table empties whenever a frame from a newer generation arrives.
// Not safe for concurrent use; the router goroutine owns it.
type Bindings struct {
	gen    uint64
	byChan map[int64]Binding
}

// NewBindings returns an empty table.
func NewBindings() *Bindings {
	return &Bindings{byChan: make(map[int64]Binding)}
}

// Observe records the generation of an inbound frame and reports whether the
// table was cleared because the generation changed.
func (b *Bindings) Observe(gen uint64) bool {
	if gen == b.gen {
		return false
	}
	b.gen = gen
	if len(b.byChan) == 0 {
		return false
	}
	clear(b.byChan)
	return true
}

// Bind associates a channel id with a binding, replacing any previous one.
func (b *Bindings) Bind(chanID int64, binding Binding) {
	b.byChan[chanID] = binding
}

// Lookup returns the binding for a channel id.
func (b *Bindings) Lookup(chanID int64) (Binding, bool) {
	binding, ok := b.byChan[chanID]
	return binding, ok
}

// Len returns the number of bound channels.
func (b *Bindings) Len() int {
	return len(b.byChan)
}
