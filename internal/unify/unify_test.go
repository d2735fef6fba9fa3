package unify

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/quantcfg/internal/graph"
	"github.com/samcharles93/quantcfg/internal/graph/graphtest"
	"github.com/samcharles93/quantcfg/internal/hwconfig"
	"github.com/samcharles93/quantcfg/internal/logger"
)

const q8 = `{"bits": 8, "mode": "symmetric", "granularity": "pertensor"}`

// catalog lists the usual CPU operation set and marks unified as
// unified-scale.
func catalog(t *testing.T, unified ...string) *hwconfig.Catalog {
	t.Helper()
	isUnified := make(map[string]bool)
	for _, u := range unified {
		isUnified[u] = true
	}
	var ops []string
	for _, typ := range []string{"Convolution", "MatMul", "Add", "Concat", "MaxPool", "Reshape"} {
		entry := fmt.Sprintf(`{"type": %q`, typ)
		switch typ {
		case "Convolution", "MatMul":
			entry += fmt.Sprintf(`, "quantization": {"activations": [%s], "weights": [%s]}`, q8, q8)
		case "Add":
			entry += fmt.Sprintf(`, "quantization": {"activations": [%s]}`, q8)
		}
		if isUnified[typ] {
			entry += `, "attributes": {"scales": "unified"}`
		}
		ops = append(ops, entry+"}")
	}
	c, err := hwconfig.Parse([]byte("[" + strings.Join(ops, ",") + "]"))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

// concatIntoConv builds two activations joined by a concatenation that feeds
// a convolution.
func concatIntoConv(t *testing.T) *graphtest.Builder {
	b := graphtest.New(t, "model")
	b.Op("in_a", graph.OpParameter, 1, 3, 8, 8).
		Op("in_b", graph.OpParameter, 1, 3, 8, 8).
		FQ("fq_a", "in_a").
		FQ("fq_b", "in_b").
		Op("concat", graph.OpConcat, 1, 6, 8, 8).
		Connect("fq_a", "concat").
		Connect("fq_b", "concat").
		Op("conv", graph.OpConvolution, 1, 16, 8, 8).
		Connect("concat", "conv").
		Weights("fq_w", 16, 6, 3, 3).
		Connect("fq_w", "conv").
		Op("out", graph.OpResult).
		Connect("conv", "out")
	return b
}

func TestNoUnifiedScaleOps(t *testing.T) {
	t.Parallel()

	b := concatIntoConv(t)
	groups, err := FindFQsToUnify(b.G, catalog(t), logger.Discard())
	if err != nil {
		t.Fatalf("unify: %v", err)
	}
	if groups != nil {
		t.Fatalf("expected no groups, got %v", groups)
	}
}

func TestConcatFeedingUnifiedConsumer(t *testing.T) {
	t.Parallel()

	b := concatIntoConv(t)
	groups, err := FindFQsToUnify(b.G, catalog(t, "Convolution"), logger.Discard())
	if err != nil {
		t.Fatalf("unify: %v", err)
	}
	want := []Group{{Bridges: []string{"concat", "conv"}, FQs: []string{"fq_a", "fq_b"}}}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Fatalf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestUnifiedConcatFollowedByConv(t *testing.T) {
	t.Parallel()

	b := concatIntoConv(t)
	groups, err := FindFQsToUnify(b.G, catalog(t, "Concat"), logger.Discard())
	if err != nil {
		t.Fatalf("unify: %v", err)
	}
	want := []Group{{Bridges: []string{"concat"}, FQs: []string{"fq_a", "fq_b"}}}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Fatalf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestUnifiedConcatWithoutConvConsumer(t *testing.T) {
	t.Parallel()

	b := graphtest.New(t, "model")
	b.Op("in_a", graph.OpParameter, 1, 3, 8, 8).
		Op("in_b", graph.OpParameter, 1, 3, 8, 8).
		FQ("fq_a", "in_a").
		FQ("fq_b", "in_b").
		Op("concat", graph.OpConcat, 1, 6, 8, 8).
		Connect("fq_a", "concat").
		Connect("fq_b", "concat").
		Op("pool", graph.OpMaxPool, 1, 6, 4, 4).
		Connect("concat", "pool").
		Op("out", graph.OpResult).
		Connect("pool", "out")

	groups, err := FindFQsToUnify(b.G, catalog(t, "Concat"), logger.Discard())
	if err != nil {
		t.Fatalf("unify: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("a concatenation not followed by a convolution needs no unification, got %v", groups)
	}
}

func TestUnifiedConcatWithUnquantizedInput(t *testing.T) {
	t.Parallel()

	b := graphtest.New(t, "model")
	b.Op("in_a", graph.OpParameter, 1, 3, 8, 8).
		Op("in_b", graph.OpParameter, 1, 3, 8, 8).
		Op("in_c", graph.OpParameter, 1, 3, 8, 8).
		FQ("fq_a", "in_a").
		FQ("fq_b", "in_b").
		Op("relu", graph.OpRelu, 1, 3, 8, 8).
		Connect("in_c", "relu").
		Op("concat", graph.OpConcat, 1, 9, 8, 8).
		Connect("fq_a", "concat").
		Connect("fq_b", "concat").
		Connect("relu", "concat").
		Op("conv", graph.OpConvolution, 1, 16, 8, 8).
		Connect("concat", "conv").
		Op("out", graph.OpResult).
		Connect("conv", "out")

	groups, err := FindFQsToUnify(b.G, catalog(t, "Concat"), logger.Discard())
	if err != nil {
		t.Fatalf("unify: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("expected no groups, got %v", groups)
	}
}

func addOfTwo(b *graphtest.Builder, prefix string) {
	b.Op(prefix+"in_a", graph.OpParameter, 1, 8).
		Op(prefix+"in_b", graph.OpParameter, 1, 8).
		FQ(prefix+"fq_a", prefix+"in_a").
		FQ(prefix+"fq_b", prefix+"in_b").
		Op(prefix+"add", graph.OpAdd, 1, 8).
		Connect(prefix+"fq_a", prefix+"add").
		Connect(prefix+"fq_b", prefix+"add").
		Op(prefix+"out", graph.OpResult).
		Connect(prefix+"add", prefix+"out")
}

func TestUnifiedEltwise(t *testing.T) {
	t.Parallel()

	b := graphtest.New(t, "model")
	addOfTwo(b, "")
	groups, err := FindFQsToUnify(b.G, catalog(t, "Add"), logger.Discard())
	if err != nil {
		t.Fatalf("unify: %v", err)
	}
	want := []Group{{Bridges: []string{"add"}, FQs: []string{"fq_a", "fq_b"}}}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Fatalf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestBridgeWithConstInputIsIgnored(t *testing.T) {
	t.Parallel()

	b := graphtest.New(t, "model")
	b.Op("in_a", graph.OpParameter, 1, 8).
		FQ("fq_a", "in_a").
		Op("bias", graph.OpConst, 1, 8).
		Op("add", graph.OpAdd, 1, 8).
		Connect("fq_a", "add").
		Connect("bias", "add").
		Op("out", graph.OpResult).
		Connect("add", "out")

	groups, err := FindFQsToUnify(b.G, catalog(t, "Add"), logger.Discard())
	if err != nil {
		t.Fatalf("unify: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("expected no groups, got %v", groups)
	}
}

func TestTraversalThroughAgnosticOps(t *testing.T) {
	t.Parallel()

	b := graphtest.New(t, "model")
	b.Op("in_a", graph.OpParameter, 1, 8).
		Op("in_b", graph.OpParameter, 1, 8).
		FQ("fq_a", "in_a").
		FQ("fq_b", "in_b").
		Op("reshape", graph.OpReshape, 1, 8).
		Connect("fq_b", "reshape").
		Op("add", graph.OpAdd, 1, 8).
		Connect("fq_a", "add").
		Connect("reshape", "add").
		Op("out", graph.OpResult).
		Connect("add", "out")

	groups, err := FindFQsToUnify(b.G, catalog(t, "Add"), logger.Discard())
	if err != nil {
		t.Fatalf("unify: %v", err)
	}
	want := []Group{{Bridges: []string{"add"}, FQs: []string{"fq_a", "fq_b"}}}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Fatalf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestNonQuantizableTypeStopsTraversal(t *testing.T) {
	t.Parallel()

	b := graphtest.New(t, "model")
	b.Op("in_a", graph.OpParameter, 1, 8).
		Op("in_b", graph.OpParameter, 1, 8).
		FQ("fq_a", "in_a").
		FQ("fq_b", "in_b").
		Typed("add", graph.OpAdd, graph.I32, 1, 8).
		Connect("fq_a", "add").
		Connect("fq_b", "add").
		Op("out", graph.OpResult).
		Connect("add", "out")

	groups, err := FindFQsToUnify(b.G, catalog(t, "Add"), logger.Discard())
	if err != nil {
		t.Fatalf("unify: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("integer consumers are not traversed, got %v", groups)
	}
}

func TestDeterministicSortedOutput(t *testing.T) {
	t.Parallel()

	b := graphtest.New(t, "model")
	addOfTwo(b, "z_")
	addOfTwo(b, "a_")
	cat := catalog(t, "Add")

	first, err := FindFQsToUnify(b.G, cat, logger.Discard())
	if err != nil {
		t.Fatalf("unify: %v", err)
	}
	second, err := FindFQsToUnify(b.G, cat, logger.Discard())
	if err != nil {
		t.Fatalf("unify: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("results differ between runs (-first +second):\n%s", diff)
	}
	want := []Group{
		{Bridges: []string{"a_add"}, FQs: []string{"a_fq_a", "a_fq_b"}},
		{Bridges: []string{"z_add"}, FQs: []string{"z_fq_a", "z_fq_b"}},
	}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Fatalf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestNestedBodyUsesFullNames(t *testing.T) {
	t.Parallel()

	body := graphtest.New(t, "body")
	addOfTwo(body, "")

	b := graphtest.New(t, "model")
	b.Body("loop", graph.OpLoop, body.G, 1, 8)

	groups, err := FindFQsToUnify(b.G, catalog(t, "Add"), logger.Discard())
	if err != nil {
		t.Fatalf("unify: %v", err)
	}
	want := []Group{{Bridges: []string{"loop|add"}, FQs: []string{"loop|fq_a", "loop|fq_b"}}}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Fatalf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckExclusive(t *testing.T) {
	t.Parallel()

	groups := []Group{
		{Bridges: []string{"add_1"}, FQs: []string{"fq_a", "fq_b"}},
		{Bridges: []string{"add_2"}, FQs: []string{"fq_b", "fq_c"}},
	}
	err := checkExclusive(groups)
	if !errors.Is(err, ErrOverlappingGroups) || !strings.Contains(err.Error(), "fq_b") {
		t.Fatalf("expected overlap on fq_b, got %v", err)
	}
	if err := checkExclusive(groups[:1]); err != nil {
		t.Fatalf("single group: %v", err)
	}
}
