package output

import (
	"bytes"
	"encoding/json"

	"github.com/jamesainslie/demote/pkg/demote/types"
)

// JSONFormatter writes a single indented JSON document per result and one
// compact JSON object per line for events, so watch output can be piped
// into line-oriented tools.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// FormatEvent writes ev as one JSON line.
func (f *JSONFormatter) FormatEvent(w *bytes.Buffer, ev types.StatusEvent) error {
	return json.NewEncoder(w).Encode(ev)
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

var _ Formatter = (*JSONFormatter)(nil)
