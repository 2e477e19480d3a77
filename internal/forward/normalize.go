package forward

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/NikZak/pact-proxy/internal/domain"
	"github.com/NikZak/pact-proxy/internal/pact"
)

// Normalize re-serializes a JSON body into compact form so that the recorded
// bytes match what a later replay serves. When the response already carries
// a content-length header it is rewritten to the new length; otherwise the
// headers are left alone. Bodies that are not application/json are untouched.
func Normalize(resp *pact.Response) error {
	if resp == nil || !resp.Body.IsJSON() {
		return nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, resp.Body.Content); err != nil {
		return domain.NewError(domain.ErrorKindSerialization, "normalize", "response body is not valid JSON", err)
	}
	resp.Body = &pact.Body{Content: buf.Bytes(), ContentType: resp.Body.ContentType}

	if _, ok := resp.Headers["content-length"]; ok {
		resp.Headers["content-length"] = []string{strconv.Itoa(buf.Len())}
	}
	return nil
}
