// Package translate turns an inbound proxy request, whose path embeds the
// real destination as /{scheme}/{host}/{path}, into a canonical request.
package translate

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/NikZak/pact-proxy/internal/domain"
	"github.com/NikZak/pact-proxy/internal/pact"
)

// Request translates r into a canonical GET request whose Path is the
// absolute target URL. The request body is drained and discarded.
func Request(r *http.Request) (*pact.Request, error) {
	if r.Method != http.MethodGet {
		return nil, domain.NewError(domain.ErrorKindUnsupportedMethod, "translate",
			fmt.Sprintf("only GET is supported, got %s", r.Method), nil)
	}

	target, err := TargetURL(r.URL)
	if err != nil {
		return nil, err
	}

	if r.Body != nil {
		if _, err := io.Copy(io.Discard, r.Body); err != nil {
			return nil, domain.NewError(domain.ErrorKindTranslation, "translate", "read body", err)
		}
	}

	return &pact.Request{
		Method:  http.MethodGet,
		Path:    target.String(),
		Query:   queryValues(target),
		Headers: headerValues(r, target),
	}, nil
}

// TargetURL decodes the destination embedded in a proxy URL's path.
// "/https/example.com/widgets?id=7" becomes "https://example.com/widgets?id=7".
// The escaped path is used so percent-encoding in the target survives.
func TargetURL(u *url.URL) (*url.URL, error) {
	rel := strings.TrimPrefix(u.EscapedPath(), "/")
	segments := strings.Split(rel, "/")
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return nil, domain.NewError(domain.ErrorKindTranslation, "translate",
			fmt.Sprintf("path %q does not match /{scheme}/{host}/{path}", u.Path), nil)
	}

	scheme := strings.ToLower(segments[0])
	if scheme != "http" && scheme != "https" {
		return nil, domain.NewError(domain.ErrorKindTranslation, "translate",
			fmt.Sprintf("unsupported scheme %q", segments[0]), nil)
	}

	raw := scheme + "://" + segments[1] + "/" + strings.Join(segments[2:], "/")
	if u.RawQuery != "" {
		raw += "?" + u.RawQuery
	}

	target, err := url.Parse(raw)
	if err != nil {
		return nil, domain.NewError(domain.ErrorKindTranslation, "translate", "parse target url", err)
	}
	if target.Hostname() == "" {
		return nil, domain.NewError(domain.ErrorKindTranslation, "translate",
			fmt.Sprintf("target %q has no host", raw), nil)
	}
	return target, nil
}

// Key derives the interaction key for a translated request: the configured
// consumer and the target's host name.
func Key(consumer string, req *pact.Request) (domain.InteractionKey, error) {
	target, err := url.Parse(req.Path)
	if err != nil {
		return domain.InteractionKey{}, domain.NewError(domain.ErrorKindTranslation, "key", "parse target url", err)
	}
	if target.Hostname() == "" {
		return domain.InteractionKey{}, domain.NewError(domain.ErrorKindTranslation, "key",
			fmt.Sprintf("target %q has no host", req.Path), nil)
	}
	return domain.InteractionKey{Consumer: consumer, Provider: target.Hostname()}, nil
}

// Descriptor returns the lookup key of a request within its document.
func Descriptor(req *pact.Request) string {
	return req.Path
}

func queryValues(target *url.URL) pact.MultiValues {
	// Malformed pairs are dropped by ParseQuery; keep whatever parsed.
	values, _ := url.ParseQuery(target.RawQuery)
	if len(values) == 0 {
		return nil
	}
	return pact.MultiValues(values)
}

// headerValues copies r's headers and points Host at the target. net/http
// moves Host out of r.Header into r.Host, so it is added back here.
func headerValues(r *http.Request, target *url.URL) pact.MultiValues {
	headers := make(pact.MultiValues, len(r.Header)+1)
	for k, v := range r.Header {
		headers[k] = append([]string(nil), v...)
	}

	switch {
	case headers["host"] != nil:
		headers["host"] = []string{target.Host}
	case headers["Host"] != nil || r.Host != "":
		headers["Host"] = []string{target.Host}
	}

	if len(headers) == 0 {
		return nil
	}
	return headers
}
