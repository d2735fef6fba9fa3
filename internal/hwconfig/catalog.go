// Package hwconfig loads the hardware capability table: which quantization
// configurations each operation type accepts for its weights and
// activations, and which operation types require unified scales.
package hwconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/Masterminds/semver/v3"

	"github.com/samcharles93/quantcfg/internal/graph"
	"github.com/samcharles93/quantcfg/internal/quant"
)

var (
	ErrMalformed          = errors.New("hwconfig: malformed hardware descriptor")
	ErrUnsupportedVersion = errors.New("hwconfig: unsupported descriptor version")
)

// SupportedVersions is the descriptor version range this loader understands.
const SupportedVersions = ">= 1.0.0, < 3.0.0"

// OperationDescriptor is the static capability record of one operation type.
// Types the graph package does not know have Kind OpOpaque.
type OperationDescriptor struct {
	Type         string
	Kind         graph.OpKind
	Weights      []quant.Candidate
	Activations  []quant.Candidate
	UnifiedScale bool

	// Attributes holds the descriptor attributes other than the unified
	// scale marker, which is stripped on load.
	Attributes map[string]any
}

// Configs returns the candidates for kind and whether the operation
// quantizes that kind at all.
func (d OperationDescriptor) Configs(kind quant.Kind) ([]quant.Candidate, bool) {
	if kind == quant.Weights {
		return d.Weights, d.Weights != nil
	}
	return d.Activations, d.Activations != nil
}

// Catalog is the read-only view of a loaded descriptor for one run.
type Catalog struct {
	TargetDevice string
	Version      *semver.Version

	ops    []OperationDescriptor
	byType map[string]int
}

func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hwconfig: read %s: %w", path, err)
	}
	return Parse(data)
}

func Load(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("hwconfig: read: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from descriptor bytes. Both the full document form
// (with named configurations) and a bare list of operations are accepted.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := unmarshal(trimmed, &doc.Operations); err != nil {
			return nil, err
		}
	} else if err := unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}
	return newCatalog(doc)
}

func newCatalog(doc document) (*Catalog, error) {
	c := &Catalog{
		TargetDevice: doc.TargetDevice,
		byType:       make(map[string]int, len(doc.Operations)),
	}
	if doc.Version != "" {
		v, err := semver.NewVersion(doc.Version)
		if err != nil {
			return nil, fmt.Errorf("%w: version %q: %v", ErrMalformed, doc.Version, err)
		}
		constraint, err := semver.NewConstraint(SupportedVersions)
		if err != nil {
			return nil, err
		}
		if !constraint.Check(v) {
			return nil, fmt.Errorf("%w: %s not in %s", ErrUnsupportedVersion, v, SupportedVersions)
		}
		c.Version = v
	}

	named := doc.Config.Quantization
	for i, op := range doc.Operations {
		if op.Type == "" {
			return nil, fmt.Errorf("%w: operation %d has no type", ErrMalformed, i)
		}
		if _, dup := c.byType[op.Type]; dup {
			return nil, fmt.Errorf("%w: duplicate operation type %s", ErrMalformed, op.Type)
		}

		d := OperationDescriptor{Type: op.Type, Kind: graph.ParseOpKind(op.Type)}
		for key, ref := range op.Quantization {
			qkind, err := quant.ParseKind(key)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, op.Type, err)
			}
			list, err := resolveCandidates(ref, named)
			if err != nil {
				return nil, fmt.Errorf("%w: %s %s: %v", ErrMalformed, op.Type, key, err)
			}
			if len(list) == 0 {
				return nil, fmt.Errorf("%w: %s has an empty %s candidate list", ErrMalformed, op.Type, key)
			}
			if qkind == quant.Weights {
				d.Weights = list
			} else {
				d.Activations = list
			}
		}
		if op.Attributes != nil {
			if _, ok := op.Attributes["scales"]; ok {
				d.UnifiedScale = true
			}
			for k, v := range op.Attributes {
				if k == "scales" {
					continue
				}
				if d.Attributes == nil {
					d.Attributes = make(map[string]any)
				}
				d.Attributes[k] = v
			}
		}
		c.byType[op.Type] = len(c.ops)
		c.ops = append(c.ops, d)
	}
	return c, nil
}

// Has reports whether the descriptor lists the operation type.
func (c *Catalog) Has(opType string) bool {
	_, ok := c.byType[opType]
	return ok
}

func (c *Catalog) Descriptor(opType string) (OperationDescriptor, bool) {
	i, ok := c.byType[opType]
	if !ok {
		return OperationDescriptor{}, false
	}
	return c.ops[i], true
}

// Configs returns the ordered candidates for an operation type, cheapest
// first. The second result is false when the type is not listed or does not
// quantize kind.
func (c *Catalog) Configs(opType string, qkind quant.Kind) ([]quant.Candidate, bool) {
	d, ok := c.Descriptor(opType)
	if !ok {
		return nil, false
	}
	list, ok := d.Configs(qkind)
	return slices.Clone(list), ok
}

func (c *Catalog) IsUnifiedScale(opType string) bool {
	d, ok := c.Descriptor(opType)
	return ok && d.UnifiedScale
}

// IsQuantizeAgnostic reports whether the operation type passes quantization
// through and is supported by the target.
func (c *Catalog) IsQuantizeAgnostic(opType string) bool {
	d, ok := c.Descriptor(opType)
	return ok && d.Kind.Traits().QuantizeAgnostic
}

// UnifiedScaleOps lists the unified-scale operation types in descriptor order.
func (c *Catalog) UnifiedScaleOps() []string {
	var out []string
	for _, d := range c.ops {
		if d.UnifiedScale {
			out = append(out, d.Type)
		}
	}
	return out
}

// Operations returns the descriptors in file order.
func (c *Catalog) Operations() []OperationDescriptor {
	return slices.Clone(c.ops)
}
