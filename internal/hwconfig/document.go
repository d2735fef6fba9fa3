package hwconfig

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/samcharles93/quantcfg/internal/quant"
)

type document struct {
	TargetDevice string `json:"target_device"`
	Version      string `json:"version"`
	Config       struct {
		Quantization map[string]candidateDoc `json:"quantization"`
	} `json:"config"`
	Operations []operationDoc `json:"operations"`
}

type operationDoc struct {
	Type         string                     `json:"type"`
	Quantization map[string]json.RawMessage `json:"quantization"`
	Attributes   map[string]any             `json:"attributes"`
}

// candidateDoc is a candidate as written in the descriptor. Levels are
// optional and derived from bits and mode when absent.
type candidateDoc struct {
	Bits        *int   `json:"bits"`
	Mode        string `json:"mode"`
	Granularity string `json:"granularity"`
	LevelLow    *int64 `json:"level_low"`
	LevelHigh   *int64 `json:"level_high"`
}

func unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (d candidateDoc) candidate() (quant.Candidate, error) {
	if d.Bits == nil || *d.Bits <= 0 {
		return quant.Candidate{}, fmt.Errorf("candidate needs a positive bits value")
	}
	mode, err := quant.ParseMode(d.Mode)
	if err != nil {
		return quant.Candidate{}, err
	}
	gran, err := quant.ParseGranularity(d.Granularity)
	if err != nil {
		return quant.Candidate{}, err
	}
	c := quant.Candidate{Bits: *d.Bits, Mode: mode, Granularity: gran}
	c.LevelLow, c.LevelHigh = quant.DefaultLevels(c.Bits, c.Mode)
	if d.LevelLow != nil {
		c.LevelLow = *d.LevelLow
	}
	if d.LevelHigh != nil {
		c.LevelHigh = *d.LevelHigh
	}
	if c.LevelLow >= c.LevelHigh {
		return quant.Candidate{}, fmt.Errorf("level_low %d must be below level_high %d", c.LevelLow, c.LevelHigh)
	}
	return c, nil
}

// resolveCandidates expands a quantization entry: a configuration name, an
// inline candidate, or a list mixing both.
func resolveCandidates(raw json.RawMessage, named map[string]candidateDoc) ([]quant.Candidate, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty entry")
	}
	var items []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
	} else {
		items = []json.RawMessage{raw}
	}

	out := make([]quant.Candidate, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		var doc candidateDoc
		switch {
		case len(item) > 0 && item[0] == '"':
			var name string
			if err := json.Unmarshal(item, &name); err != nil {
				return nil, err
			}
			ref, ok := named[name]
			if !ok {
				return nil, fmt.Errorf("unknown configuration %q", name)
			}
			doc = ref
		case len(item) > 0 && item[0] == '{':
			if err := json.Unmarshal(item, &doc); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unexpected entry %s", item)
		}
		c, err := doc.candidate()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
