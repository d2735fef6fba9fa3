package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// ElementType is the element type carried by a tensor.
type ElementType uint8

const (
	Dynamic ElementType = iota
	F32
	F16
	BF16
	F64
	I8
	U8
	I32
	I64
	Boolean
)

var elementTypeNames = [...]string{
	Dynamic: "dynamic",
	F32:     "f32",
	F16:     "f16",
	BF16:    "bf16",
	F64:     "f64",
	I8:      "i8",
	U8:      "u8",
	I32:     "i32",
	I64:     "i64",
	Boolean: "boolean",
}

func ParseElementType(s string) (ElementType, error) {
	for i, name := range elementTypeNames {
		if name == s {
			return ElementType(i), nil
		}
	}
	return Dynamic, fmt.Errorf("graph: unknown element type %q", s)
}

func (t ElementType) String() string {
	if int(t) < len(elementTypeNames) {
		return elementTypeNames[t]
	}
	return "invalid"
}

// Quantizable reports whether values of this type may pass through a
// quantization point. Only floating point tensors are quantized.
func (t ElementType) Quantizable() bool {
	switch t {
	case F32, F16, BF16, F64:
		return true
	}
	return false
}

func (t ElementType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *ElementType) UnmarshalText(b []byte) error {
	v, err := ParseElementType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Shape is a tensor shape. A negative dimension is unknown until runtime.
type Shape []int64

func (s Shape) Rank() int { return len(s) }

func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		if d < 0 {
			parts[i] = "?"
			continue
		}
		parts[i] = strconv.FormatInt(d, 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
