package views

import (
	"fmt"

	"stable-action/models"
)

// Schema identifies one of the CSV logs written next to a recording.
type Schema int

const (
	SchemaPose Schema = iota
	SchemaMotion
)

var schemaNames = map[Schema]string{
	SchemaPose:   "pose",
	SchemaMotion: "motion",
}

func (s Schema) String() string {
	if n, ok := schemaNames[s]; ok {
		return n
	}
	return "unknown"
}

// Columns returns the canonical header for a schema. Column order is owned by
// the model's CSVHeader.
func (s Schema) Columns() []string {
	switch s {
	case SchemaPose:
		return models.PoseTelemetry{}.CSVHeader()
	case SchemaMotion:
		return models.MotionSample{}.CSVHeader()
	}
	return nil
}

// ValidateHeader checks a header read back from disk against the schema.
func (s Schema) ValidateHeader(header []string) error {
	want := s.Columns()
	if len(header) != len(want) {
		return fmt.Errorf("%s csv: %d columns, want %d", s, len(header), len(want))
	}
	for i := range want {
		if header[i] != want[i] {
			return fmt.Errorf("%s csv: column %d is %q, want %q", s, i, header[i], want[i])
		}
	}
	return nil
}
