package proxy

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/NikZak/pact-proxy/internal/pact"
)

// hopHeaders describe a single connection and are never replayed.
var hopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-connection":    true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"te":                  true,
	"trailer":             true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
}

// Encode converts resp to a wire-level response: one header line per value
// per key and a body reader over the raw bytes (empty when absent).
// Connection-scoped headers are dropped and a recorded content-length is
// corrected to the body length.
func Encode(resp *pact.Response) *http.Response {
	content := bodyContent(resp)

	header := make(http.Header, len(resp.Headers))
	for k, values := range resp.Headers {
		if hopHeaders[strings.ToLower(k)] {
			continue
		}
		for _, v := range values {
			header.Add(k, v)
		}
	}
	if header.Get("Content-Length") != "" {
		header.Set("Content-Length", strconv.Itoa(len(content)))
	}

	out := &http.Response{
		Status:     strconv.Itoa(resp.Status) + " " + http.StatusText(resp.Status),
		StatusCode: resp.Status,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     header,
		Body:       http.NoBody,
	}
	if len(content) > 0 {
		out.Body = io.NopCloser(bytes.NewReader(content))
		out.ContentLength = int64(len(content))
	}
	return out
}

// WriteResponse writes the encoded form of resp to w.
func WriteResponse(w http.ResponseWriter, resp *pact.Response) error {
	out := Encode(resp)
	defer out.Body.Close()

	h := w.Header()
	for k, values := range out.Header {
		for _, v := range values {
			h.Add(k, v)
		}
	}

	w.WriteHeader(out.StatusCode)
	if out.ContentLength == 0 {
		return nil
	}
	_, err := io.Copy(w, out.Body)
	return err
}

func bodyContent(resp *pact.Response) []byte {
	if resp.Body == nil {
		return nil
	}
	return resp.Body.Content
}
