package graph

// OpKind is the set of operation types the resolver understands. Any other
// type name decodes to OpOpaque and keeps its name on the node.
type OpKind uint8

const (
	OpUnknown OpKind = iota
	OpOpaque
	OpParameter
	OpConst
	OpResult
	OpFakeQuantize
	OpConvolution
	OpGroupConvolution
	OpConvolutionBackpropData
	OpMatMul
	OpAdd
	OpMultiply
	OpSubtract
	OpConcat
	OpSplit
	OpVariadicSplit
	OpReshape
	OpTranspose
	OpSqueeze
	OpUnsqueeze
	OpStridedSlice
	OpPad
	OpMaxPool
	OpAvgPool
	OpRelu
	OpSigmoid
	OpInterpolate
	OpReduceMin
	OpReduceMax
	OpReduceMean
	OpAbs
	OpTensorIterator
	OpLoop

	opKindCount
)

// Traits are the static capability flags attached to an operation kind.
type Traits struct {
	Name string

	// QuantizeAgnostic ops pass the quantization state of their input through
	// unchanged. The hardware catalog must also list the op for it to count.
	QuantizeAgnostic bool

	// Branching ops merge several producers into one tensor (concatenation).
	Branching bool

	// UnifyOutput ops give a preceding concatenation a reason to unify the
	// scales of its inputs.
	UnifyOutput bool

	// UnifyInput ops are legal producers for a concatenation taking part in
	// scale unification.
	UnifyInput bool

	Reduction bool
	HasBody   bool
}

var opTable = [opKindCount]Traits{
	OpUnknown:                 {Name: "Unknown"},
	OpOpaque:                  {Name: "Opaque"},
	OpParameter:               {Name: "Parameter"},
	OpConst:                   {Name: "Const"},
	OpResult:                  {Name: "Result"},
	OpFakeQuantize:            {Name: "FakeQuantize", UnifyInput: true},
	OpConvolution:             {Name: "Convolution", UnifyOutput: true},
	OpGroupConvolution:        {Name: "GroupConvolution", UnifyOutput: true},
	OpConvolutionBackpropData: {Name: "ConvolutionBackpropData", UnifyOutput: true},
	OpMatMul:                  {Name: "MatMul"},
	OpAdd:                     {Name: "Add"},
	OpMultiply:                {Name: "Multiply"},
	OpSubtract:                {Name: "Subtract"},
	OpConcat:                  {Name: "Concat", QuantizeAgnostic: true, Branching: true, UnifyInput: true},
	OpSplit:                   {Name: "Split", QuantizeAgnostic: true},
	OpVariadicSplit:           {Name: "VariadicSplit", QuantizeAgnostic: true},
	OpReshape:                 {Name: "Reshape", QuantizeAgnostic: true},
	OpTranspose:               {Name: "Transpose", QuantizeAgnostic: true},
	OpSqueeze:                 {Name: "Squeeze", QuantizeAgnostic: true},
	OpUnsqueeze:               {Name: "Unsqueeze", QuantizeAgnostic: true},
	OpStridedSlice:            {Name: "StridedSlice", QuantizeAgnostic: true},
	OpPad:                     {Name: "Pad", QuantizeAgnostic: true},
	OpMaxPool:                 {Name: "MaxPool", QuantizeAgnostic: true},
	OpAvgPool:                 {Name: "AvgPool"},
	OpRelu:                    {Name: "Relu"},
	OpSigmoid:                 {Name: "Sigmoid"},
	OpInterpolate:             {Name: "Interpolate"},
	OpReduceMin:               {Name: "ReduceMin", Reduction: true},
	OpReduceMax:               {Name: "ReduceMax", QuantizeAgnostic: true, Reduction: true},
	OpReduceMean:              {Name: "ReduceMean", Reduction: true},
	OpAbs:                     {Name: "Abs"},
	OpTensorIterator:          {Name: "TensorIterator", HasBody: true},
	OpLoop:                    {Name: "Loop", HasBody: true},
}

var kindByName = func() map[string]OpKind {
	m := make(map[string]OpKind, opKindCount)
	for _, k := range Kinds() {
		m[opTable[k].Name] = k
	}
	return m
}()

// ParseOpKind maps an operation type name to its kind. Unrecognized names
// map to OpOpaque and an empty name to OpUnknown.
func ParseOpKind(name string) OpKind {
	if name == "" {
		return OpUnknown
	}
	if k, ok := kindByName[name]; ok {
		return k
	}
	return OpOpaque
}

// Kinds returns every named operation kind in declaration order.
func Kinds() []OpKind {
	out := make([]OpKind, 0, opKindCount-OpParameter)
	for k := OpParameter; k < opKindCount; k++ {
		out = append(out, k)
	}
	return out
}

func (k OpKind) Traits() Traits {
	if k >= opKindCount {
		return opTable[OpUnknown]
	}
	return opTable[k]
}

func (k OpKind) String() string { return k.Traits().Name }
