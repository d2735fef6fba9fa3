package api

import (
	"github.com/goccy/go-json"

	"github.com/samcharles93/quantcfg/internal/graph"
)

// ResolveRequest carries every input of a run. Config is a tool
// configuration document; a JSON object is accepted since it is valid YAML.
type ResolveRequest struct {
	Graph    *graph.Document `json:"graph"`
	Hardware json.RawMessage `json:"hardware"`
	Config   json.RawMessage `json:"config,omitempty"`
	Preset   string          `json:"preset,omitempty"`

	// Statistics defaults to true.
	Statistics   *bool `json:"statistics,omitempty"`
	IncludeGraph bool  `json:"include_graph,omitempty"`
	// Store keeps the report for later retrieval. Default true.
	Store *bool `json:"store,omitempty"`
}

type DeleteResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
