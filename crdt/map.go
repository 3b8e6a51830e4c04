package crdt

import "sort"

type mapEntry struct {
	Key  Prim   `msgpack:"k"`
	Val  *Block `msgpack:"v"`
	Dots []Dot  `msgpack:"d"`
}

// ORMap - observed-remove map from primitive keys to Blocks. Key
// presence follows the same dot discipline as ORSet; values under a
// surviving key are merged recursively.
type ORMap struct {
	Entries map[string]*mapEntry `msgpack:"e"`
	Dead    []Dot                `msgpack:"x"`
}

func NewORMap() *ORMap {
	return &ORMap{Entries: make(map[string]*mapEntry)}
}

func (m *ORMap) nextDot(actor uint64) Dot {
	var max uint64
	for _, e := range m.Entries {
		for _, d := range e.Dots {
			if d.Actor == actor && d.Counter > max {
				max = d.Counter
			}
		}
	}
	for _, d := range m.Dead {
		if d.Actor == actor && d.Counter > max {
			max = d.Counter
		}
	}
	return Dot{Actor: actor, Counter: max + 1}
}

// Put - bind key to val with a fresh dot. A local put replaces the
// value outright; cross-replica reconciliation happens in Merge.
func (m *ORMap) Put(key Prim, val Block, actor uint64) {
	if m.Entries == nil {
		m.Entries = make(map[string]*mapEntry)
	}
	k := key.id()
	e, ok := m.Entries[k]
	if !ok {
		e = &mapEntry{Key: key}
		m.Entries[k] = e
	}
	e.Val = &val
	e.Dots = append(e.Dots, m.nextDot(actor))
}

// Get - the Block bound to key, or nil
func (m *ORMap) Get(key Prim) *Block {
	e, ok := m.Entries[key.id()]
	if !ok {
		return nil
	}
	return e.Val
}

// Rm - tombstone every observed dot of key
func (m *ORMap) Rm(key Prim) {
	k := key.id()
	e, ok := m.Entries[k]
	if !ok {
		return
	}
	m.Dead = append(m.Dead, e.Dots...)
	sortDots(m.Dead)
	delete(m.Entries, k)
}

// Keys - current keys in stable order
func (m *ORMap) Keys() []Prim {
	ids := make([]string, 0, len(m.Entries))
	for k := range m.Entries {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	keys := make([]Prim, 0, len(ids))
	for _, k := range ids {
		keys = append(keys, m.Entries[k].Key)
	}
	return keys
}

// Merge - key presence merges like ORSet; values present on both sides
// merge via mergeValue so the result is identical regardless of merge
// order.
func (m *ORMap) Merge(o *ORMap) {
	dead := unionDots(m.Dead, o.Dead)
	merged := make(map[string]*mapEntry)
	for k, e := range m.Entries {
		if dots := liveDots(e.Dots, nil, dead); len(dots) > 0 {
			merged[k] = &mapEntry{Key: e.Key, Val: e.Val, Dots: dots}
		}
	}
	for k, oe := range o.Entries {
		me, here := merged[k]
		var own []Dot
		if here {
			own = me.Dots
		}
		dots := liveDots(own, oe.Dots, dead)
		if len(dots) == 0 {
			delete(merged, k)
			continue
		}
		if !here {
			merged[k] = &mapEntry{Key: oe.Key, Val: oe.Val, Dots: dots}
			continue
		}
		me.Dots = dots
		me.Val = mergeValue(me.Val, oe.Val)
	}
	m.Entries = merged
	m.Dead = dead
}

// mergeValue - recursive value merge for map entries. Same variants use
// their CRDT merge; a variant clash keeps the greater Kind tag, which is
// the same answer on both sides of any merge.
func mergeValue(a, b *Block) *Block {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if err := a.Merge(b); err != nil {
		if b.Kind > a.Kind {
			return b
		}
		return a
	}
	return a
}
