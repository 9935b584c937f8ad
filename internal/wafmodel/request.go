// Package wafmodel holds the data types shared across the decision
// pipeline: the inbound request shape, geo attribution, feature
// vectors, verdicts, and the persisted decision record. Every
// component package (geo, store, features, signature, inference,
// decision, eventlog, broadcast, gateway) imports this package rather
// than each other, the way the teacher's internal/evidence and
// internal/database model types are imported by many callers without
// importing each other.
package wafmodel

import (
	"net/textproto"
	"time"
)

// Request is the inbound HTTP request forwarded by the edge proxy.
type Request struct {
	Method      string    `json:"method"`
	URI         string    `json:"uri"`
	QueryString string    `json:"query_string"`
	Headers     Headers   `json:"headers"`
	Body        string    `json:"body"`
	SourceIP    string    `json:"source_ip"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Headers is a case-insensitive string-to-string header map, mirroring
// net/http's canonicalization so "user-agent" and "User-Agent" resolve
// to the same value. The data model requires case-insensitive header
// lookup throughout; this type makes that the only option.
type Headers map[string]string

// Get returns the header value using case-insensitive (MIME-canonical)
// lookup, falling back to a linear scan for keys that don't
// canonicalize cleanly (e.g. already-lowercased custom headers).
func (h Headers) Get(key string) string {
	if v, ok := h[textproto.CanonicalMIMEHeaderKey(key)]; ok {
		return v
	}
	if v, ok := h[key]; ok {
		return v
	}
	canon := textproto.CanonicalMIMEHeaderKey(key)
	for k, v := range h {
		if textproto.CanonicalMIMEHeaderKey(k) == canon {
			return v
		}
	}
	return ""
}

// NewHeaders canonicalizes an arbitrary string map into Headers.
func NewHeaders(raw map[string]string) Headers {
	h := make(Headers, len(raw))
	for k, v := range raw {
		h[textproto.CanonicalMIMEHeaderKey(k)] = v
	}
	return h
}
