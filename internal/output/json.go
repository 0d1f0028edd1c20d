package output

import (
	"encoding/json"

	"github.com/paceline/paceline/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatReport renders a run report as JSON.
func (f *JSONFormatter) FormatReport(report *core.RunReport) (string, error) {
	if report == nil {
		return "", nil
	}
	return f.marshal(report)
}

// FormatHistory renders run summaries as JSON.
func (f *JSONFormatter) FormatHistory(summaries []core.RunSummary) (string, error) {
	if summaries == nil {
		summaries = []core.RunSummary{}
	}
	return f.marshal(summaries)
}

// FormatLimits renders a limits view as JSON.
func (f *JSONFormatter) FormatLimits(view core.LimitsView) (string, error) {
	return f.marshal(view)
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
