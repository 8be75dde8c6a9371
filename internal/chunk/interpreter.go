// Package chunk turns raw lines from a generation stream into text fragments.
//
// Every line is classified exactly once as either a Structured payload (a
// value that parsed as JSON) or PlainText. Interpretation then dispatches on
// that tag. The interpreter is total: malformed input yields no fragment and
// never an error.
package chunk

import (
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// DefaultPriorityFields is the order in which object keys are probed for text
var DefaultPriorityFields = []string{"response", "text", "output", "content", "chunk", "message", "delta"}

const eventStreamPrefix = "data:"

var (
	bracketedBlob = regexp.MustCompile(`^[\[{].*[\]}]$`)
	quotedKey     = regexp.MustCompile(`"\s*:\s*"`)
	hasLetter     = regexp.MustCompile(`[a-zA-Z\x{00C0}-\x{024F}]`)
)

// Line is the classification of one stream line
type Line interface {
	isLine()
}

// Structured is a line that parsed as a JSON value
type Structured struct {
	Value any
}

// PlainText is a line that did not parse
type PlainText struct {
	Text string
}

func (Structured) isLine() {}
func (PlainText) isLine()  {}

// Interpreter extracts human-readable text from stream lines
type Interpreter struct {
	fields []string
}

// NewInterpreter returns an interpreter probing the given fields in order.
// With no fields it uses DefaultPriorityFields.
func NewInterpreter(fields ...string) *Interpreter {
	if len(fields) == 0 {
		fields = DefaultPriorityFields
	}
	f := make([]string, len(fields))
	copy(f, fields)
	return &Interpreter{fields: f}
}

// Classify normalizes a raw line and tags it. It returns false for lines
// that are empty once the prefix and surrounding whitespace are removed.
func Classify(raw string) (Line, bool) {
	line := strings.TrimSpace(raw)
	if strings.HasPrefix(line, eventStreamPrefix) {
		line = strings.TrimSpace(line[len(eventStreamPrefix):])
	}
	if line == "" {
		return nil, false
	}

	var v any
	if err := json.Unmarshal([]byte(line), &v); err == nil {
		return Structured{Value: v}, true
	}
	return PlainText{Text: line}, true
}

// Interpret returns the text fragment carried by raw, if any
func (i *Interpreter) Interpret(raw string) (string, bool) {
	line, ok := Classify(raw)
	if !ok {
		return "", false
	}

	switch l := line.(type) {
	case Structured:
		if text, ok := i.Find(l.Value); ok {
			return text, true
		}
		return "", false
	case PlainText:
		return plainText(l.Text)
	}
	return "", false
}

// Find searches a decoded JSON value for the first non-empty text by
// priority-field order. Sequences are searched elementwise. When no priority
// key of an object yields text, its remaining object and sequence values are
// searched in key order, but a scalar only counts once a priority key has
// been crossed: {"model":"x","context":[1,2]} carries no text.
//
// Strings and numbers are text (0 included). Booleans are never text.
func (i *Interpreter) Find(v any) (string, bool) {
	return i.find(v, true)
}

func (i *Interpreter) find(v any, keyed bool) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, keyed && nonBlank(val)
	case float64:
		if !keyed {
			return "", false
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case []any:
		for _, item := range val {
			if s, ok := i.find(item, keyed); ok {
				return s, true
			}
		}
	case map[string]any:
		for _, k := range i.fields {
			child, present := val[k]
			if !present {
				continue
			}
			if s, ok := i.find(child, true); ok {
				return s, true
			}
		}
		for _, k := range i.otherKeys(val) {
			if s, ok := i.find(val[k], false); ok {
				return s, true
			}
		}
	}
	return "", false
}

// otherKeys lists, sorted, the keys of obj that are not priority fields and
// hold a nested object or sequence
func (i *Interpreter) otherKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k, child := range obj {
		if slices.Contains(i.fields, k) {
			continue
		}
		switch child.(type) {
		case map[string]any, []any:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// plainText applies the heuristic for lines that are not valid JSON: JSON
// fragments are dropped, anything with a letter is forwarded verbatim.
func plainText(line string) (string, bool) {
	if bracketedBlob.MatchString(line) || quotedKey.MatchString(line) {
		return "", false
	}
	if hasLetter.MatchString(line) {
		return line, true
	}
	return "", false
}

func nonBlank(s string) bool {
	return strings.TrimSpace(s) != ""
}
