package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/logsight/ds-analyzer/internal/models"
)

// Supported encodings for Encode.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Encode writes rep as a YAML or JSON document.
func Encode(w io.Writer, rep models.AnalysisReport, format string) error {
	switch strings.ToLower(format) {
	case "", FormatYAML, "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("encode yaml report: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("encode json report: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// Marshal returns the compact JSON form used for storage and publishing.
func Marshal(rep models.AnalysisReport) ([]byte, error) {
	return json.Marshal(rep)
}

// Unmarshal decodes a stored JSON report and re-applies the report invariants.
func Unmarshal(data []byte, kind models.AnalyzerKind) (models.AnalysisReport, error) {
	var rep models.AnalysisReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return models.AnalysisReport{}, fmt.Errorf("decode report: %w", err)
	}
	return finalize(rep, kind), nil
}
