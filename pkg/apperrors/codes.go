// Package apperrors is the stable error-code registry shared by the dedupe
// core, the CLI, and the HTTP surface.
package apperrors

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Code is a stable error code. Once published, codes should be treated as
// API-stable.
type Code string

// CodeMeta provides metadata useful for HTTP mapping, retry decisions, and documentation.
type CodeMeta struct {
	HTTPStatus  int    `json:"http_status"`
	Retryable   bool   `json:"retryable"`
	Kind        string `json:"kind"` // client|server|security|dependency
	Description string `json:"description"`
}

// ---- DEDUPE CORE ----
const (
	InvalidInput  Code = "dedupe.invalid_input"
	NotFound      Code = "dedupe.not_found"
	Conflict      Code = "dedupe.conflict"
	Unavailable   Code = "dedupe.unavailable"
	Internal      Code = "dedupe.internal"
	InternalTimeout Code = "dedupe.internal_timeout"
)

// ---- AI RESOLVER ----
const (
	AIDisabled    Code = "dedupe.ai_disabled"
	AITransport   Code = "dedupe.ai_transport_error"
	AIMalformed   Code = "dedupe.ai_malformed_response"
)

// ---- REVIEW OPERATIONS ----
const (
	ReviewInvalidArgument Code = "dedupe.review.invalid_argument"
	ReviewNotFound        Code = "dedupe.review.not_found"
)

var registry = map[Code]CodeMeta{
	InvalidInput:    {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "malformed record or config"},
	NotFound:        {HTTPStatus: 404, Retryable: false, Kind: "client", Description: "split/merge against unknown ids"},
	Conflict:        {HTTPStatus: 409, Retryable: true, Kind: "dependency", Description: "violated uniqueness during review"},
	Unavailable:     {HTTPStatus: 503, Retryable: true, Kind: "dependency", Description: "llm transport failure or timeout"},
	Internal:        {HTTPStatus: 500, Retryable: true, Kind: "server", Description: "invariant violation"},
	InternalTimeout: {HTTPStatus: 504, Retryable: true, Kind: "server", Description: "internal timeout"},

	AIDisabled:  {HTTPStatus: 409, Retryable: false, Kind: "client", Description: "ai resolver not enabled"},
	AITransport: {HTTPStatus: 503, Retryable: true, Kind: "dependency", Description: "ai transport error"},
	AIMalformed: {HTTPStatus: 502, Retryable: false, Kind: "dependency", Description: "ai response failed structured decode"},

	ReviewInvalidArgument: {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "split/merge arguments invalid"},
	ReviewNotFound:        {HTTPStatus: 404, Retryable: false, Kind: "client", Description: "canonical or source link not found"},
}

// Meta returns metadata for a code.
func Meta(code Code) (CodeMeta, bool) {
	m, ok := registry[code]
	return m, ok
}

// Known reports whether code is registered.
func Known(code Code) bool {
	_, ok := registry[code]
	return ok
}

// List returns all known codes sorted.
func List() []Code {
	out := make([]Code, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExportJSON returns stable JSON of all codes + meta.
func ExportJSON() []byte {
	type row struct {
		Code Code     `json:"code"`
		Meta CodeMeta `json:"meta"`
	}
	codes := List()
	rows := make([]row, 0, len(codes))
	for _, c := range codes {
		rows = append(rows, row{Code: c, Meta: registry[c]})
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return []byte("[]")
	}
	var buf bytes.Buffer
	_, _ = buf.Write(b)
	return buf.Bytes()
}
