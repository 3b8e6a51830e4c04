package crdt

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// PrimKind - discriminant for primitive values
type PrimKind uint8

const (
	PrimStr PrimKind = iota + 1
	PrimBytes
	PrimInt
	PrimFloat
	PrimBool
)

func (k PrimKind) String() string {
	switch k {
	case PrimStr:
		return "Str"
	case PrimBytes:
		return "Bytes"
	case PrimInt:
		return "Int"
	case PrimFloat:
		return "Float"
	case PrimBool:
		return "Bool"
	}
	return fmt.Sprintf("PrimKind(%d)", uint8(k))
}

// Prim - a primitive value carried inside registers, sets and map keys.
// Exactly one payload field is meaningful, selected by Kind.
type Prim struct {
	Kind  PrimKind `msgpack:"k"`
	Str   string   `msgpack:"s,omitempty"`
	Bytes []byte   `msgpack:"b,omitempty"`
	Int   int64    `msgpack:"i,omitempty"`
	Float float64  `msgpack:"f,omitempty"`
	Bool  bool     `msgpack:"o,omitempty"`
}

func Str(s string) Prim     { return Prim{Kind: PrimStr, Str: s} }
func Bytes(b []byte) Prim   { return Prim{Kind: PrimBytes, Bytes: b} }
func Int(i int64) Prim      { return Prim{Kind: PrimInt, Int: i} }
func Float(f float64) Prim  { return Prim{Kind: PrimFloat, Float: f} }
func Bool(b bool) Prim      { return Prim{Kind: PrimBool, Bool: b} }

// Equal - value equality across all kinds
func (p Prim) Equal(o Prim) bool {
	return p.id() == o.id()
}

// id - stable identity string, used as the index key in sets and maps.
// The kind prefix keeps Str("1") and Int(1) distinct.
func (p Prim) id() string {
	switch p.Kind {
	case PrimStr:
		return "s:" + p.Str
	case PrimBytes:
		return "b:" + hex.EncodeToString(p.Bytes)
	case PrimInt:
		return "i:" + strconv.FormatInt(p.Int, 10)
	case PrimFloat:
		return "f:" + strconv.FormatFloat(p.Float, 'g', -1, 64)
	case PrimBool:
		return "o:" + strconv.FormatBool(p.Bool)
	}
	return ""
}

func (p Prim) String() string {
	switch p.Kind {
	case PrimStr:
		return p.Str
	case PrimBytes:
		return fmt.Sprintf("<%d bytes>", len(p.Bytes))
	case PrimInt:
		return strconv.FormatInt(p.Int, 10)
	case PrimFloat:
		return strconv.FormatFloat(p.Float, 'g', -1, 64)
	case PrimBool:
		return strconv.FormatBool(p.Bool)
	}
	return "<nil>"
}
