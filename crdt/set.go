package crdt

import "sort"

// Dot - a unique add event, (actor, per-actor counter)
type Dot struct {
	Actor   uint64 `msgpack:"a"`
	Counter uint64 `msgpack:"c"`
}

func (d Dot) less(o Dot) bool {
	if d.Actor != o.Actor {
		return d.Actor < o.Actor
	}
	return d.Counter < o.Counter
}

type setEntry struct {
	Elem Prim  `msgpack:"e"`
	Dots []Dot `msgpack:"d"`
}

// ORSet - observed-remove set of primitives. An element is present while
// it has at least one add dot that neither side has tombstoned. Removes
// only ever cover dots the remover has observed, so a concurrent re-add
// survives.
type ORSet struct {
	Entries map[string]*setEntry `msgpack:"e"`
	Dead    []Dot                `msgpack:"x"`
}

func NewORSet() *ORSet {
	return &ORSet{Entries: make(map[string]*setEntry)}
}

// nextDot - one past the highest counter this set has seen for actor,
// alive or dead
func (s *ORSet) nextDot(actor uint64) Dot {
	var max uint64
	for _, e := range s.Entries {
		for _, d := range e.Dots {
			if d.Actor == actor && d.Counter > max {
				max = d.Counter
			}
		}
	}
	for _, d := range s.Dead {
		if d.Actor == actor && d.Counter > max {
			max = d.Counter
		}
	}
	return Dot{Actor: actor, Counter: max + 1}
}

// Add - insert elem with a fresh dot for actor. Idempotent for an
// already-present element apart from the extra dot.
func (s *ORSet) Add(elem Prim, actor uint64) {
	if s.Entries == nil {
		s.Entries = make(map[string]*setEntry)
	}
	k := elem.id()
	e, ok := s.Entries[k]
	if !ok {
		e = &setEntry{Elem: elem}
		s.Entries[k] = e
	}
	e.Dots = append(e.Dots, s.nextDot(actor))
}

// Remove - tombstone every observed dot of elem. Unknown elements are a no-op.
func (s *ORSet) Remove(elem Prim) {
	k := elem.id()
	e, ok := s.Entries[k]
	if !ok {
		return
	}
	s.Dead = append(s.Dead, e.Dots...)
	sortDots(s.Dead)
	delete(s.Entries, k)
}

// Contains - membership test
func (s *ORSet) Contains(elem Prim) bool {
	_, ok := s.Entries[elem.id()]
	return ok
}

// Elems - current elements in stable order
func (s *ORSet) Elems() []Prim {
	keys := make([]string, 0, len(s.Entries))
	for k := range s.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	elems := make([]Prim, 0, len(keys))
	for _, k := range keys {
		elems = append(elems, s.Entries[k].Elem)
	}
	return elems
}

// Merge - union of adds minus union of tombstones. Commutative,
// associative and idempotent.
func (s *ORSet) Merge(o *ORSet) {
	dead := unionDots(s.Dead, o.Dead)
	merged := make(map[string]*setEntry)
	for k, e := range s.Entries {
		if dots := liveDots(e.Dots, nil, dead); len(dots) > 0 {
			merged[k] = &setEntry{Elem: e.Elem, Dots: dots}
		}
	}
	for k, oe := range o.Entries {
		var own []Dot
		if me, ok := merged[k]; ok {
			own = me.Dots
		}
		if dots := liveDots(own, oe.Dots, dead); len(dots) > 0 {
			merged[k] = &setEntry{Elem: oe.Elem, Dots: dots}
		} else {
			delete(merged, k)
		}
	}
	s.Entries = merged
	s.Dead = dead
}

func sortDots(dots []Dot) {
	sort.Slice(dots, func(i, j int) bool { return dots[i].less(dots[j]) })
}

// unionDots - sorted, deduplicated union of two dot slices
func unionDots(a, b []Dot) []Dot {
	seen := make(map[Dot]struct{}, len(a)+len(b))
	out := make([]Dot, 0, len(a)+len(b))
	for _, d := range a {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	for _, d := range b {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	sortDots(out)
	return out
}

// liveDots - union of a and b with every dot in dead removed
func liveDots(a, b, dead []Dot) []Dot {
	tomb := make(map[Dot]struct{}, len(dead))
	for _, d := range dead {
		tomb[d] = struct{}{}
	}
	all := unionDots(a, b)
	out := all[:0]
	for _, d := range all {
		if _, ok := tomb[d]; !ok {
			out = append(out, d)
		}
	}
	return out
}
