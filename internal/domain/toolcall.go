package domain

import (
	"encoding/json"
	"time"
)

// ToolType tags a ToolCallRecord variant.
type ToolType string

const (
	ToolTypeWebSearch ToolType = "web_search"
)

// ToolCallRecord is the persisted record of one tool invocation during a turn.
// Implementations are the closed set of variants in this package.
type ToolCallRecord interface {
	ToolType() ToolType
	// Citations returns the sources the invocation contributed.
	Citations() []Citation
	isToolCallRecord()
}

// WebSearchCall records a web_search invocation. A failed search keeps
// Results empty and sets Error.
type WebSearchCall struct {
	Query     string         `json:"query"`
	Timestamp time.Time      `json:"timestamp"`
	Results   []SearchResult `json:"results,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (*WebSearchCall) ToolType() ToolType { return ToolTypeWebSearch }
func (*WebSearchCall) isToolCallRecord()  {}

// Citations converts the search results into citations.
func (c *WebSearchCall) Citations() []Citation {
	out := make([]Citation, 0, len(c.Results))
	for _, r := range c.Results {
		if r.URL == "" {
			continue
		}
		out = append(out, Citation{URL: r.URL, Title: r.Title, UsedInContext: true})
	}
	return out
}

// ToolCalls is the ordered list of tool records on a Message. It serializes
// as a JSON array of objects discriminated by a "type" field.
type ToolCalls []ToolCallRecord

type toolCallEnvelope struct {
	Type ToolType `json:"type"`
}

// MarshalJSON writes each record with its type tag inlined.
func (tc ToolCalls) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(tc))
	for _, rec := range tc {
		body, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
		tag, _ := json.Marshal(rec.ToolType())
		fields["type"] = tag
		merged, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, merged)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes tagged records. Entries with an unknown tag or a
// malformed body are dropped rather than failing the whole list.
func (tc *ToolCalls) UnmarshalJSON(data []byte) error {
	*tc = DecodeToolCalls(data)
	return nil
}

// DecodeToolCalls parses stored tool-call JSON. Malformed input yields nil.
func DecodeToolCalls(data []byte) ToolCalls {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	out := make(ToolCalls, 0, len(raw))
	for _, item := range raw {
		var env toolCallEnvelope
		if err := json.Unmarshal(item, &env); err != nil {
			continue
		}
		switch env.Type {
		case ToolTypeWebSearch:
			var ws WebSearchCall
			if err := json.Unmarshal(item, &ws); err != nil {
				continue
			}
			out = append(out, &ws)
		}
	}
	return out
}

// Citation is a URL and title attributed to a message.
type Citation struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	UsedInContext bool   `json:"used_in_context"`
}
