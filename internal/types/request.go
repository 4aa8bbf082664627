package types

import (
	"net/http"
	"strings"
	"time"
)

// RequestAttributes is everything the evaluator may inspect about a request.
// Header names are lowercase; lookups through HeaderValue normalize the name.
type RequestAttributes struct {
	Method  string            `json:"method"`
	URIPath string            `json:"uri_path"`
	Headers map[string]string `json:"headers,omitempty"`
}

// HeaderValue returns the value of the named header or "" when absent.
func (a RequestAttributes) HeaderValue(name string) string {
	if a.Headers == nil {
		return ""
	}
	if v, ok := a.Headers[name]; ok {
		return v
	}
	return a.Headers[strings.ToLower(name)]
}

// AttributesFromHTTP extracts RequestAttributes from an inbound request.
// Multi-valued headers contribute only their first value.
func AttributesFromHTTP(r *http.Request) RequestAttributes {
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) == 0 {
			continue
		}
		headers[strings.ToLower(name)] = values[0]
	}
	return RequestAttributes{
		Method:  r.Method,
		URIPath: r.URL.Path,
		Headers: headers,
	}
}

// Decision is the evaluator's verdict for one request.
// MatchedRule is empty when the default action applied.
type Decision struct {
	Action      Action
	MatchedRule string
	Overrides   []string // override rules that matched, in evaluation order
	PolicyID    PolicyID
}

// Matched reports whether a terminal rule produced this decision.
func (d Decision) Matched() bool {
	return d.MatchedRule != ""
}

// Blocked reports whether the request must be rejected.
func (d Decision) Blocked() bool {
	return d.Action == ActionBlock
}

// SampledRequest is one telemetry record describing a rule match.
// Rule is DefaultRuleName when the default action applied.
type SampledRequest struct {
	SampleID   SampleID
	PolicyID   PolicyID
	Rule       string
	Action     Action
	Method     string
	URIPath    string
	RecordedAt time.Time
}
