package crdt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func regClone(r *Register[Prim]) *Register[Prim] {
	c := *r
	return &c
}

func TestRegisterUpdateBumpsCounter(t *testing.T) {
	r := NewRegister(Str("a"), 1)
	assert.Equal(t, uint64(1), r.Tag.Counter)
	r.Update(Str("b"), 1)
	assert.Equal(t, uint64(2), r.Tag.Counter)
	assert.Equal(t, "b", r.Value().Str)
}

func TestRegisterMergeKeepsGreaterTag(t *testing.T) {
	older := NewRegister(Str("old"), 1)
	newer := NewRegister(Str("new"), 1)
	newer.Update(Str("new"), 1) // counter 2

	r := regClone(older)
	r.Merge(newer)
	assert.Equal(t, "new", r.Value().Str)

	// Merging the older side into the newer is a no-op
	r = regClone(newer)
	r.Merge(older)
	assert.Equal(t, "new", r.Value().Str)
}

func TestRegisterTieBreakOnActor(t *testing.T) {
	a := NewRegister(Float(32), 1)
	b := NewRegister(Float(32.5), 2)

	ab := regClone(a)
	ab.Merge(b)
	ba := regClone(b)
	ba.Merge(a)

	// Equal counters: the greater actor id wins on both sides
	assert.Equal(t, 32.5, ab.Value().Float)
	assert.Equal(t, *ab, *ba)
}

func TestRegisterMergeCommutativeAssociative(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		regs := make([]*Register[Prim], 3)
		for j := range regs {
			regs[j] = &Register[Prim]{
				Val: Int(rnd.Int63n(100)),
				Tag: Tag{Counter: uint64(rnd.Intn(5)), Actor: uint64(rnd.Intn(4))},
			}
		}
		ab := regClone(regs[0])
		ab.Merge(regs[1])
		ba := regClone(regs[1])
		ba.Merge(regs[0])
		assert.Equal(t, *ab, *ba, "commutativity")

		abc := regClone(ab)
		abc.Merge(regs[2])
		bc := regClone(regs[1])
		bc.Merge(regs[2])
		abc2 := regClone(regs[0])
		abc2.Merge(bc)
		assert.Equal(t, *abc, *abc2, "associativity")

		aa := regClone(regs[0])
		aa.Merge(regs[0])
		assert.Equal(t, *regs[0], *aa, "idempotence")
	}
}
