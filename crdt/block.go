// Package crdt implements the convergent value model: primitives wrapped
// in last-writer-wins registers, observed-remove sets and maps, and the
// Block sum type tying them together.
package crdt

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrTypeConflict - two Blocks of different variants cannot be CRDT-merged.
// Callers resolve the conflict by replacing the receiver with the argument.
var ErrTypeConflict = errors.New("block type conflict")

// Kind - discriminant for Block variants. The numeric order is part of
// the wire format; map merges use it to break variant clashes.
type Kind uint8

const (
	KindVal Kind = iota + 1
	KindSet
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindVal:
		return "Val"
	case KindSet:
		return "Set"
	case KindMap:
		return "Map"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Block - tagged union of the storable CRDT values. Exactly one of the
// payload pointers is non-nil, selected by Kind.
type Block struct {
	Kind Kind            `msgpack:"k"`
	Val  *Register[Prim] `msgpack:"v,omitempty"`
	Set  *ORSet          `msgpack:"s,omitempty"`
	Map  *ORMap          `msgpack:"m,omitempty"`
}

// NewVal - a register Block holding a primitive
func NewVal(p Prim, actor uint64) Block {
	return Block{Kind: KindVal, Val: NewRegister(p, actor)}
}

// NewSet - an empty observed-remove set Block
func NewSet() Block {
	return Block{Kind: KindSet, Set: NewORSet()}
}

// NewMap - an empty observed-remove map Block
func NewMap() Block {
	return Block{Kind: KindMap, Map: NewORMap()}
}

// Merge - same-variant merge delegates to the variant's CRDT; different
// variants fail with ErrTypeConflict and leave the receiver untouched.
// The take-other policy on conflict lives in the callers, deliberately:
// type changes are last-write-wins at the Block layer while values
// within a consistent variant converge by CRDT merge.
func (b *Block) Merge(o *Block) error {
	if b.Kind != o.Kind {
		return errors.Wrapf(ErrTypeConflict, "%v vs %v", b.Kind, o.Kind)
	}
	switch b.Kind {
	case KindVal:
		b.Val.Merge(o.Val)
	case KindSet:
		b.Set.Merge(o.Set)
	case KindMap:
		b.Map.Merge(o.Map)
	default:
		return errors.Wrapf(ErrTypeConflict, "unknown kind %d", uint8(b.Kind))
	}
	return nil
}
