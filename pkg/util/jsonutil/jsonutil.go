package jsonutil

import (
	"bytes"
	"encoding/json"
	"io"
)

// Encode writes v as JSON without HTML escaping. pretty indents with two spaces.
func Encode(w io.Writer, v interface{}, pretty bool) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	if pretty {
		encoder.SetIndent("", "  ")
	}

	return encoder.Encode(v)
}

// ToPretty renders v as indented JSON. Encoding errors give an empty string.
func ToPretty(v interface{}) string {
	var out bytes.Buffer
	if err := Encode(&out, v, true); err != nil {
		return ""
	}

	return out.String()
}
