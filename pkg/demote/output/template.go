package output

import (
	"bytes"
	"sync"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/demote/pkg/demote/types"
)

// TemplateFormatter formats output using a Go text/template. Results are
// executed against *Result and events against types.StatusEvent.
type TemplateFormatter struct {
	mu         sync.Mutex
	resultSrc  string
	eventSrc   string
	resultTmpl *template.Template
	eventTmpl  *template.Template
}

// NewTemplateFormatter creates a formatter that uses tmpl for both results
// and events.
func NewTemplateFormatter(tmpl string) *TemplateFormatter {
	return &TemplateFormatter{resultSrc: tmpl, eventSrc: tmpl}
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		// {{mask .Report.TargetMask}}
		"mask": Mask,
		// {{ago .Checked}}
		"ago": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return humanize.Time(t)
		},
		// {{date .Time "2006-01-02"}}
		"date": func(t time.Time, layout string) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(layout)
		},
	}
}

func compile(cached **template.Template, src string) (*template.Template, error) {
	if *cached != nil {
		return *cached, nil
	}
	tmpl, err := template.New("output").Funcs(templateFuncs()).Parse(src)
	if err != nil {
		return nil, err
	}
	*cached = tmpl
	return tmpl, nil
}

// Format writes the formatted output to the buffer.
func (f *TemplateFormatter) Format(w *bytes.Buffer, r *Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmpl, err := compile(&f.resultTmpl, f.resultSrc)
	if err != nil {
		return err
	}
	return tmpl.Execute(w, r)
}

// FormatEvent writes ev through the event template.
func (f *TemplateFormatter) FormatEvent(w *bytes.Buffer, ev types.StatusEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmpl, err := compile(&f.eventTmpl, f.eventSrc)
	if err != nil {
		return err
	}
	return tmpl.Execute(w, ev)
}

const (
	defaultResultTemplate = `{{range .Results}}{{.Name}}	{{.Outcome}}	{{.PID}}
{{end}}{{range .History}}{{date .Time "2006-01-02T15:04:05Z07:00"}}	{{.Name}}	{{.Outcome}}
{{end}}`
	defaultEventTemplate = "{{.Name}}\t{{.Outcome}}\t{{.PID}}\n"
)

func init() {
	Register("template", func() Formatter {
		return &TemplateFormatter{resultSrc: defaultResultTemplate, eventSrc: defaultEventTemplate}
	})
}

var _ Formatter = (*TemplateFormatter)(nil)
