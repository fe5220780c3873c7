package export

import (
	"encoding/json"
	"fmt"
	"io"
)

// NDJSONExporter streams records as newline-delimited JSON, one object
// per line, suitable for piping into offline analysis tooling.
type NDJSONExporter struct{}

// NewNDJSONExporter builds an NDJSON exporter.
func NewNDJSONExporter() *NDJSONExporter {
	return &NDJSONExporter{}
}

// WriteRecord emits one record followed by a newline.
func (e *NDJSONExporter) WriteRecord(w io.Writer, record interface{}) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal ndjson record: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write ndjson record: %w", err)
	}
	return nil
}

// WriteAll emits every record in order.
func (e *NDJSONExporter) WriteAll(w io.Writer, records []interface{}) error {
	for _, record := range records {
		if err := e.WriteRecord(w, record); err != nil {
			return err
		}
	}
	return nil
}
