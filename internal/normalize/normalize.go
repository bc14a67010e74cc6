// Package normalize converts the backend's JSON response shapes into a
// single candidate text string. The inference API answers with either a
// list of generations, a single generation object, or something else
// entirely; Normalize is total and always yields a string.
package normalize

import (
	"strings"

	"github.com/tidwall/gjson"
)

// A shape matcher inspects a parsed response and reports the candidate
// text if the shape is recognized. Matchers are tried in priority order.
type matcher func(gjson.Result) (string, bool)

var matchers = []matcher{
	firstElementGeneratedText,
	objectGeneratedText,
}

// Normalize extracts the candidate text from a raw backend body. Bodies
// that are not JSON come back unchanged; JSON of an unrecognized shape
// degrades to its serialized form so the caller always has something to
// extract from.
func Normalize(raw []byte) string {
	body := strings.TrimSpace(string(raw))
	if !gjson.Valid(body) {
		return string(raw)
	}

	parsed := gjson.Parse(body)
	for _, match := range matchers {
		if text, ok := match(parsed); ok {
			return text
		}
	}
	return parsed.Raw
}

// firstElementGeneratedText matches [{"generated_text": ...}, ...].
func firstElementGeneratedText(parsed gjson.Result) (string, bool) {
	if !parsed.IsArray() {
		return "", false
	}
	elems := parsed.Array()
	if len(elems) == 0 {
		return "", false
	}
	text := elems[0].Get("generated_text")
	if !text.Exists() {
		return "", false
	}
	return text.String(), true
}

// objectGeneratedText matches {"generated_text": ...}.
func objectGeneratedText(parsed gjson.Result) (string, bool) {
	if !parsed.IsObject() {
		return "", false
	}
	text := parsed.Get("generated_text")
	if !text.Exists() {
		return "", false
	}
	return text.String(), true
}
