package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func mapClone(m *ORMap) *ORMap {
	c := NewORMap()
	c.Merge(m)
	return c
}

func TestMapPutGetRm(t *testing.T) {
	m := NewORMap()
	m.Put(Str("name"), NewVal(Str("bob"), 1), 1)
	m.Put(Str("age"), NewVal(Float(1.0), 1), 1)

	v := m.Get(Str("name"))
	assert.NotNil(t, v)
	assert.Equal(t, "bob", v.Val.Value().Str)
	assert.Len(t, m.Keys(), 2)

	m.Rm(Str("name"))
	assert.Nil(t, m.Get(Str("name")))
	assert.Len(t, m.Keys(), 1)
}

func TestMapMergeDisjointKeys(t *testing.T) {
	a := NewORMap()
	a.Put(Str("x"), NewVal(Int(1), 1), 1)
	b := NewORMap()
	b.Put(Str("y"), NewVal(Int(2), 2), 2)

	a.Merge(b)
	assert.Len(t, a.Keys(), 2)
	assert.Equal(t, int64(1), a.Get(Str("x")).Val.Value().Int)
	assert.Equal(t, int64(2), a.Get(Str("y")).Val.Value().Int)
}

func TestMapMergeSharedKeyMergesValues(t *testing.T) {
	a := NewORMap()
	a.Put(Str("k"), NewVal(Str("first"), 1), 1)
	b := mapClone(a)

	newer := NewVal(Str("second"), 2)
	newer.Val.Update(Str("second"), 2)
	b.Put(Str("k"), newer, 2)

	a.Merge(b)
	assert.Equal(t, "second", a.Get(Str("k")).Val.Value().Str)
}

func TestMapMergeVariantClashIsDeterministic(t *testing.T) {
	a := NewORMap()
	a.Put(Str("k"), NewVal(Str("reg"), 1), 1)
	b := NewORMap()
	setBlock := NewSet()
	setBlock.Set.Add(Str("member"), 2)
	b.Put(Str("k"), setBlock, 2)

	ab := mapClone(a)
	ab.Merge(b)
	ba := mapClone(b)
	ba.Merge(a)

	// Both merge orders keep the greater variant tag
	assert.Equal(t, KindSet, ab.Get(Str("k")).Kind)
	assert.Equal(t, KindSet, ba.Get(Str("k")).Kind)
}

func TestMapConcurrentRmAndPut(t *testing.T) {
	a := NewORMap()
	a.Put(Str("k"), NewVal(Int(1), 1), 1)
	b := mapClone(a)

	a.Rm(Str("k"))
	b.Put(Str("k"), NewVal(Int(2), 2), 2)

	a.Merge(b)
	// The unobserved put survives the remove
	assert.NotNil(t, a.Get(Str("k")))
}
