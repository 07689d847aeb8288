package wire

import (
	"strings"
)

// Field is one header line. Name keeps the casing it was given.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered list of header fields.
//
// Lookups are case-insensitive, but fields are written in insertion order
// with their original casing. Repeated names are kept as separate fields,
// so Values returns every occurrence in order.
//
// The zero value is an empty header ready to use. A copied Header shares
// storage with the original until Set or Del; use Clone for an independent
// copy before calling Add on either.
type Header struct {
	fields []Field
}

// NewHeader builds a Header from alternating name, value pairs.
// A trailing name without a value is ignored.
func NewHeader(kv ...string) Header {
	var h Header
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

// Add appends a field.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Set replaces every field named name with a single field. The new field
// takes the position of the first existing one, or is appended. The fields
// are rebuilt, so copies of h are not affected.
func (h *Header) Set(name, value string) {
	idx := -1
	out := make([]Field, 0, len(h.fields)+1)
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			if idx >= 0 {
				continue
			}
			idx = len(out)
			f = Field{Name: name, Value: value}
		}
		out = append(out, f)
	}
	h.fields = out
	if idx < 0 {
		h.fields = append(h.fields, Field{Name: name, Value: value})
	}
}

// Get returns the first value for name, or "".
func (h Header) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns all values for name in order.
func (h Header) Values(name string) []string {
	var vals []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			vals = append(vals, f.Value)
		}
	}
	return vals
}

// Has reports whether at least one field is named name.
func (h Header) Has(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Del removes every field named name. Copies of h are not affected.
func (h *Header) Del(name string) {
	if !h.Has(name) {
		return
	}
	out := make([]Field, 0, len(h.fields))
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	h.fields = out
}

// Len returns the number of fields.
func (h Header) Len() int { return len(h.fields) }

// Fields returns the fields in order. The slice must not be modified.
func (h Header) Fields() []Field { return h.fields }

// Clone returns a deep copy.
func (h Header) Clone() Header {
	if h.fields == nil {
		return Header{}
	}
	return Header{fields: append([]Field(nil), h.fields...)}
}

// HasToken reports whether the comma-separated header name contains token,
// compared case-insensitively. Used for Connection and Transfer-Encoding.
func (h Header) HasToken(name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// validFieldName reports whether name is a non-empty token.
func validFieldName(name string) bool {
	return name != "" && Method(name).Valid()
}

// validFieldValue rejects values that would break header framing.
func validFieldValue(v string) bool {
	return !strings.ContainsAny(v, "\r\n\x00")
}
