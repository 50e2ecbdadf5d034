package output

import (
	"bytes"

	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/demote/pkg/demote/types"
)

// YAMLFormatter writes the same structure as JSONFormatter in YAML. Events
// are written as separate documents.
type YAMLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *YAMLFormatter) Format(w *bytes.Buffer, r *Result) error {
	return encodeYAML(w, r)
}

// FormatEvent writes ev as one YAML document.
func (f *YAMLFormatter) FormatEvent(w *bytes.Buffer, ev types.StatusEvent) error {
	w.WriteString("---\n")
	return encodeYAML(w, ev)
}

func encodeYAML(w *bytes.Buffer, v any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}

func init() {
	Register("yaml", func() Formatter {
		return &YAMLFormatter{}
	})
}

var _ Formatter = (*YAMLFormatter)(nil)
