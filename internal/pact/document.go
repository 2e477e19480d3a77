// Package pact models Pact V4 contract documents: a consumer/provider pair
// with an ordered list of synchronous HTTP interactions. It owns the
// on-disk JSON format; the rest of the proxy treats documents through Parse
// and Marshal only.
package pact

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// SpecificationVersion is written into the metadata of every document.
const SpecificationVersion = "4.0"

// InteractionType is the Pact V4 type tag for request/response interactions.
const InteractionType = "Synchronous/HTTP"

// Party names one side of a contract.
type Party struct {
	Name string `json:"name"`
}

// Document is a contract between one consumer and one provider.
type Document struct {
	Consumer     Party          `json:"consumer"`
	Provider     Party          `json:"provider"`
	Interactions []*Interaction `json:"interactions"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Interaction is one recorded request/response exchange.
type Interaction struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Pending     bool      `json:"pending"`
	Request     *Request  `json:"request"`
	Response    *Response `json:"response"`
}

// Request is the canonical form of an HTTP request. For proxied requests
// Path holds the full target URL.
type Request struct {
	Method  string      `json:"method"`
	Path    string      `json:"path"`
	Query   MultiValues `json:"query,omitempty"`
	Headers MultiValues `json:"headers,omitempty"`
	Body    *Body       `json:"body,omitempty"`
}

// Response is the canonical form of an HTTP response.
type Response struct {
	Status  int         `json:"status"`
	Headers MultiValues `json:"headers,omitempty"`
	Body    *Body       `json:"body,omitempty"`
}

// NewDocument returns an empty document for the given parties.
func NewDocument(consumer, provider string) *Document {
	return &Document{
		Consumer:     Party{Name: consumer},
		Provider:     Party{Name: provider},
		Interactions: []*Interaction{},
		Metadata:     defaultMetadata(),
	}
}

// NewInteraction builds an interaction whose description is the request path.
func NewInteraction(req *Request, resp *Response) *Interaction {
	return &Interaction{
		Type:        InteractionType,
		Description: req.Path,
		Request:     req.Clone(),
		Response:    resp.Clone(),
	}
}

func defaultMetadata() map[string]any {
	return map[string]any{
		"pactSpecification": map[string]any{"version": SpecificationVersion},
	}
}

// Parse decodes a document from its JSON form.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode pact: %w", err)
	}
	if doc.Consumer.Name == "" || doc.Provider.Name == "" {
		return nil, fmt.Errorf("decode pact: consumer and provider names are required")
	}
	for i, in := range doc.Interactions {
		if in == nil {
			return nil, fmt.Errorf("decode pact: interaction %d is null", i)
		}
		if in.Type == "" {
			in.Type = InteractionType
		}
		if in.Type != InteractionType {
			return nil, fmt.Errorf("decode pact: interaction %d: unsupported type %q", i, in.Type)
		}
		if in.Request == nil || in.Response == nil {
			return nil, fmt.Errorf("decode pact: interaction %d: request and response are required", i)
		}
	}
	if doc.Interactions == nil {
		doc.Interactions = []*Interaction{}
	}
	if doc.Metadata == nil {
		doc.Metadata = defaultMetadata()
	}
	return &doc, nil
}

// Marshal encodes a document to indented JSON. HTML characters are not
// escaped, so embedded bodies keep their recorded bytes.
func Marshal(doc *Document) ([]byte, error) {
	data, err := encodeJSON(doc, true)
	if err != nil {
		return nil, fmt.Errorf("encode pact: %w", err)
	}
	return append(data, '\n'), nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		Consumer:     d.Consumer,
		Provider:     d.Provider,
		Interactions: make([]*Interaction, len(d.Interactions)),
		Metadata:     maps.Clone(d.Metadata),
	}
	for i, in := range d.Interactions {
		out.Interactions[i] = in.Clone()
	}
	return out
}

// Clone returns a deep copy of the interaction.
func (i *Interaction) Clone() *Interaction {
	if i == nil {
		return nil
	}
	out := *i
	out.Request = i.Request.Clone()
	out.Response = i.Response.Clone()
	return &out
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	return &Request{
		Method:  r.Method,
		Path:    r.Path,
		Query:   r.Query.Clone(),
		Headers: r.Headers.Clone(),
		Body:    r.Body.Clone(),
	}
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{
		Status:  r.Status,
		Headers: r.Headers.Clone(),
		Body:    r.Body.Clone(),
	}
}

// MultiValues maps a name to its ordered values. It decodes from either a
// string or an array of strings per name, since Pact writers differ.
type MultiValues map[string][]string

// Clone returns a deep copy, or nil for an empty map.
func (m MultiValues) Clone() MultiValues {
	if len(m) == 0 {
		return nil
	}
	out := make(MultiValues, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}

// Get returns the first value for name, matched exactly.
func (m MultiValues) Get(name string) string {
	if v := m[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// UnmarshalJSON accepts {"k": "v"} and {"k": ["v1", "v2"]}.
func (m *MultiValues) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}
	out := make(MultiValues, len(raw))
	for k, v := range raw {
		var many []string
		if err := json.Unmarshal(v, &many); err == nil {
			out[k] = many
			continue
		}
		var one string
		if err := json.Unmarshal(v, &one); err != nil {
			return fmt.Errorf("values for %q: %w", k, err)
		}
		out[k] = []string{one}
	}
	*m = out
	return nil
}
