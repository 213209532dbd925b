package main

import (
	"io"
	"strings"

	http "github.com/bogdanfinn/fhttp"
)

// PseudoHeaderOrder is Chrome's HTTP/2 pseudo-header order.
var PseudoHeaderOrder = []string{
	":method",
	":authority",
	":scheme",
	":path",
}

// Header is one name/value pair. Names are kept lowercase, as Chrome sends
// them over HTTP/2.
type Header struct {
	Name  string
	Value string
}

// OrderedHeaders is a header list that preserves insertion order. Names are
// unique: setting an existing name replaces its value in place.
type OrderedHeaders []Header

// Set adds or replaces a header.
func (h *OrderedHeaders) Set(name, value string) {
	name = strings.ToLower(name)
	for i := range *h {
		if (*h)[i].Name == name {
			(*h)[i].Value = value
			return
		}
	}
	*h = append(*h, Header{Name: name, Value: value})
}

// Get returns the value of name, or "" if it is not set.
func (h OrderedHeaders) Get(name string) string {
	name = strings.ToLower(name)
	for _, hdr := range h {
		if hdr.Name == name {
			return hdr.Value
		}
	}
	return ""
}

// Names returns header names in send order.
func (h OrderedHeaders) Names() []string {
	names := make([]string, len(h))
	for i, hdr := range h {
		names[i] = hdr.Name
	}
	return names
}

// Without returns a copy with the named headers removed.
func (h OrderedHeaders) Without(names ...string) OrderedHeaders {
	out := make(OrderedHeaders, 0, len(h))
	for _, hdr := range h {
		skip := false
		for _, n := range names {
			if strings.EqualFold(hdr.Name, n) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, hdr)
		}
	}
	return out
}

// Clone returns an independent copy.
func (h OrderedHeaders) Clone() OrderedHeaders {
	return append(OrderedHeaders(nil), h...)
}

// Map flattens the list for APIs that take an unordered map.
func (h OrderedHeaders) Map() map[string]any {
	m := make(map[string]any, len(h))
	for _, hdr := range h {
		m[hdr.Name] = hdr.Value
	}
	return m
}

// toFHTTP converts the list into an fhttp header set whose wire order is
// pinned by HeaderOrderKey and PHeaderOrderKey.
func (h OrderedHeaders) toFHTTP() http.Header {
	out := make(http.Header, len(h)+2)
	order := make([]string, 0, len(h))
	for _, hdr := range h {
		out[hdr.Name] = []string{hdr.Value}
		order = append(order, hdr.Name)
	}
	out[http.HeaderOrderKey] = order
	out[http.PHeaderOrderKey] = PseudoHeaderOrder
	return out
}

// readResponseBody decompresses and reads the full response body.
// Caller should defer resp.Body.Close() before calling this.
func readResponseBody(resp *http.Response) ([]byte, error) {
	body := http.DecompressBody(resp)
	defer body.Close()
	return io.ReadAll(body)
}
