package preset

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/quantcfg/internal/toolconfig"
)

var (
	ErrUnsupportedPreset  = toolconfig.ErrUnsupportedPreset
	ErrEmptyConfiguration = errors.New("preset: no suitable configuration")
	ErrCannotUnify        = errors.New("preset: quantization points cannot be unified")
)

// ResolutionError names the quantization points, and the group or layers,
// that could not be given a configuration.
type ResolutionError struct {
	Err    error
	Nodes  []string
	Group  string
	Layers []string
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Group != "" {
		fmt.Fprintf(&b, ": group [%s]", e.Group)
	}
	fmt.Fprintf(&b, ": nodes [%s]", strings.Join(e.Nodes, ", "))
	if len(e.Layers) > 0 {
		fmt.Fprintf(&b, " for layers [%s]", strings.Join(e.Layers, ", "))
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error { return e.Err }
