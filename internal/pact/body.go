package pact

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"slices"
	"unicode/utf8"
)

// Body is a present request or response body. A nil *Body is an absent body.
type Body struct {
	Content     []byte
	ContentType string
}

// bodyJSON is the Pact V4 body representation.
type bodyJSON struct {
	Content     json.RawMessage `json:"content"`
	ContentType string          `json:"contentType,omitempty"`
	Encoded     any             `json:"encoded"`
}

// NewBody returns a body, or nil when content is empty.
func NewBody(content []byte, contentType string) *Body {
	if len(content) == 0 {
		return nil
	}
	return &Body{Content: content, ContentType: contentType}
}

// Clone returns a deep copy of the body.
func (b *Body) Clone() *Body {
	if b == nil {
		return nil
	}
	return &Body{Content: slices.Clone(b.Content), ContentType: b.ContentType}
}

// IsJSON reports whether the body's content type is application/json.
func (b *Body) IsJSON() bool {
	return b != nil && IsJSONContentType(b.ContentType)
}

// IsJSONContentType reports whether ct names application/json, ignoring parameters.
func IsJSONContentType(ct string) bool {
	if ct == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

// MarshalJSON embeds compact JSON content as-is, any other text (including
// indented JSON) as a string and anything else as base64, so the content
// reads back byte for byte.
func (b Body) MarshalJSON() ([]byte, error) {
	out := bodyJSON{ContentType: b.ContentType, Encoded: false}
	switch {
	case b.IsJSON() && isCompactJSON(b.Content):
		out.Content = b.Content
		out.Encoded = "json"
	case utf8.Valid(b.Content):
		s, err := encodeJSON(string(b.Content), false)
		if err != nil {
			return nil, err
		}
		out.Content = s
	default:
		s, err := encodeJSON(base64.StdEncoding.EncodeToString(b.Content), false)
		if err != nil {
			return nil, err
		}
		out.Content = s
		out.Encoded = "base64"
	}
	return encodeJSON(out, false)
}

func isCompactJSON(content []byte) bool {
	var buf bytes.Buffer
	if err := json.Compact(&buf, content); err != nil {
		return false
	}
	return bytes.Equal(buf.Bytes(), content)
}

// encodeJSON marshals v without HTML escaping, so '&', '<' and '>' in
// recorded bodies are written literally.
func encodeJSON(v any, indent bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// UnmarshalJSON reverses MarshalJSON. Embedded JSON content is compacted, so
// hand-edited files with indented bodies load as compact bytes.
func (b *Body) UnmarshalJSON(data []byte) error {
	var in bodyJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	b.ContentType = in.ContentType
	b.Content = nil
	if len(in.Content) == 0 || string(in.Content) == "null" {
		return nil
	}

	encoded, _ := in.Encoded.(string)
	switch {
	case encoded == "base64":
		var s string
		if err := json.Unmarshal(in.Content, &s); err != nil {
			return fmt.Errorf("base64 body: %w", err)
		}
		content, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("base64 body: %w", err)
		}
		b.Content = content
	case encoded == "json" || (IsJSONContentType(in.ContentType) && in.Content[0] != '"'):
		var buf bytes.Buffer
		if err := json.Compact(&buf, in.Content); err != nil {
			return fmt.Errorf("json body: %w", err)
		}
		b.Content = buf.Bytes()
	default:
		var s string
		if err := json.Unmarshal(in.Content, &s); err != nil {
			var buf bytes.Buffer
			if err := json.Compact(&buf, in.Content); err != nil {
				return fmt.Errorf("body: %w", err)
			}
			b.Content = buf.Bytes()
			return nil
		}
		b.Content = []byte(s)
	}
	return nil
}
