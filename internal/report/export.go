package report

import (
	"encoding/json"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"

	"github.com/pavelanni/assessor/internal/model"
)

// Export formats accepted by WriteExport.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatCSV  = "csv"
)

// WriteExport writes a stored batch export in the given format. The csv
// format carries only the per-question score table.
func WriteExport(w io.Writer, exp model.BatchExport, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(exp)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(exp); err != nil {
			return err
		}
		return enc.Close()
	case FormatCSV:
		return WriteQuestionScores(w, exp.Questions)
	default:
		return fmt.Errorf("unknown export format %q (want json, yaml or csv)", format)
	}
}
