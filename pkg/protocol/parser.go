// Package protocol parses the reader's page responses.
//
// A page arrives either as a series of raster slices, each wrapped in
// <sliceN> markers, or as a single encrypted SVG document wrapped in CDATA.
// Parsing never fails: missing markers degrade to empty values and the
// caller decides what an empty response means.
package protocol

import (
	"iter"
	"strconv"
	"strings"
)

// StatusOK is the status text of a successful page response
const StatusOK = "OK"

const (
	vectorStart = "CDATA[<?xml"
	vectorEnd   = "</svg>"
)

// Payload is the page content carried by a response: RasterSlices, VectorMarkup or nil
type Payload interface {
	isPayload()
}

// RasterSlices holds base64 slice payloads in delivery order
type RasterSlices []string

// VectorMarkup holds an encrypted SVG document
type VectorMarkup string

func (RasterSlices) isPayload() {}
func (VectorMarkup) isPayload() {}

// PageResponse is a parsed page response
type PageResponse struct {
	StatusCode int
	StatusText string
	// Status is the numeric status element, kept for diagnostics
	Status  string
	Payload Payload
}

// HasPayload reports whether the response carries page content
func (r *PageResponse) HasPayload() bool {
	return r != nil && r.Payload != nil
}

// IsOK reports whether the server claimed success
func (r *PageResponse) IsOK() bool {
	return r != nil && r.StatusText == StatusOK
}

// Kind names the payload variant for logging
func (r *PageResponse) Kind() string {
	if r == nil {
		return "none"
	}
	switch r.Payload.(type) {
	case RasterSlices:
		return "slices"
	case VectorMarkup:
		return "vector"
	default:
		return "none"
	}
}

// Parse extracts the status and payload from a response body.
// Slices take precedence when a body carries both encodings.
func Parse(statusCode int, body string) *PageResponse {
	resp := &PageResponse{StatusCode: statusCode}
	resp.StatusText, _ = TextBetween(body, "<status_text>", "</status_text>")
	resp.Status, _ = TextBetween(body, "<status>", "</status>")

	var slices RasterSlices
	for s := range Slices(body) {
		slices = append(slices, s)
	}

	switch {
	case len(slices) > 0:
		resp.Payload = slices
	default:
		if markup, ok := Vector(body); ok {
			resp.Payload = VectorMarkup(markup)
		}
	}

	return resp
}

// Slices yields slice payloads for indices 1, 2, 3, ... and stops at the
// first index without an extractable payload.
func Slices(body string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for i := 1; ; i++ {
			payload, ok := slicePayload(body, i)
			if !ok || !yield(payload) {
				return
			}
		}
	}
}

// slicePayload returns the base64 data of slice i. The slice fragment looks
// like an array literal whose first element is metadata: [meta,DATA].
func slicePayload(body string, i int) (string, bool) {
	n := strconv.Itoa(i)
	fragment, ok := TextBetween(body, "<slice"+n+">", "</slice"+n+">")
	if !ok {
		return "", false
	}
	payload, ok := TextBetween(fragment, ",", "]")
	if !ok || payload == "" {
		return "", false
	}
	return payload, true
}

// Vector returns the SVG document embedded in a CDATA section, if any
func Vector(body string) (string, bool) {
	inner, ok := TextBetween(body, vectorStart, vectorEnd)
	if !ok || inner == "" {
		return "", false
	}
	return "<?xml" + inner + vectorEnd, true
}

// TextBetween returns the text after the first start marker, cut at the
// next start marker and then at the first end marker. ok is false when
// start does not occur.
func TextBetween(s, start, end string) (string, bool) {
	_, after, found := strings.Cut(s, start)
	if !found {
		return "", false
	}
	if i := strings.Index(after, start); i >= 0 {
		after = after[:i]
	}
	if i := strings.Index(after, end); i >= 0 {
		after = after[:i]
	}
	return after, true
}
