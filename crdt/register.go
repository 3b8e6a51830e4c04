package crdt

// Tag - causal tag of a register write. Ordering is (Counter, Actor);
// on equal counters the greater actor id wins, so concurrent writes
// resolve identically on every replica.
type Tag struct {
	Counter uint64 `msgpack:"c"`
	Actor   uint64 `msgpack:"a"`
}

// Less - strict ordering over tags
func (t Tag) Less(o Tag) bool {
	if t.Counter != o.Counter {
		return t.Counter < o.Counter
	}
	return t.Actor < o.Actor
}

// Register - last-writer-wins register over an arbitrary payload.
type Register[T any] struct {
	Val T   `msgpack:"v"`
	Tag Tag `msgpack:"t"`
}

func NewRegister[T any](val T, actor uint64) *Register[T] {
	return &Register[T]{Val: val, Tag: Tag{Counter: 1, Actor: actor}}
}

// Value - the current payload
func (r *Register[T]) Value() T {
	return r.Val
}

// Update - replace the payload, bumping the counter past every counter
// this register has observed.
func (r *Register[T]) Update(val T, actor uint64) {
	r.Val = val
	r.Tag = Tag{Counter: r.Tag.Counter + 1, Actor: actor}
}

// Merge - keep whichever side carries the greater tag.
func (r *Register[T]) Merge(o *Register[T]) {
	if r.Tag.Less(o.Tag) {
		r.Val = o.Val
		r.Tag = o.Tag
	}
}
