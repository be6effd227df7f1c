package checkpoint

import (
	"fmt"

	"github.com/segmentio/encoding/json"
)

// document is the on-disk shape. Field order is fixed for compatibility
// with existing status files.
type document struct {
	Args              string   `json:"args"`
	Type              string   `json:"type"`
	CompletedPrefixes []string `json:"completed_prefixes"`
	Files             []entry  `json:"files"`
}

// entry is one task, encoded as the array
// [input_path, output_path, complete, lines_processed, error_lines, lines_matched]
type entry struct {
	InputPath      string
	OutputPath     string
	Complete       bool
	LinesProcessed int64
	ErrorLines     int64
	LinesMatched   int64
}

const entryFields = 6

func (e entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{
		e.InputPath,
		e.OutputPath,
		e.Complete,
		e.LinesProcessed,
		e.ErrorLines,
		e.LinesMatched,
	})
}

func (e *entry) UnmarshalJSON(data []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("file entry: %w", err)
	}
	if len(fields) != entryFields {
		return fmt.Errorf("file entry: expected %d fields, got %d", entryFields, len(fields))
	}

	var outputPath *string
	targets := []any{&e.InputPath, &outputPath, &e.Complete, &e.LinesProcessed, &e.ErrorLines, &e.LinesMatched}
	for i, target := range targets {
		if err := json.Unmarshal(fields[i], target); err != nil {
			return fmt.Errorf("file entry field %d: %w", i, err)
		}
	}
	if outputPath != nil {
		e.OutputPath = *outputPath
	}

	return nil
}
