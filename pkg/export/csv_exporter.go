package export

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// CSVExporter streams Dataset records as CSV.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// WriteHeader emits the header row.
func (e *CSVExporter) WriteHeader(w io.Writer, headers []string) error {
	if len(headers) == 0 {
		return fmt.Errorf("csv requires at least one header")
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("write csv headers: %w", err)
	}
	writer.Flush()
	return writer.Error()
}

// WriteRows appends data rows; callable repeatedly for paged exports.
func (e *CSVExporter) WriteRows(w io.Writer, headers []string, rows []map[string]string) error {
	writer := csv.NewWriter(w)
	for _, row := range rows {
		record := make([]string, len(headers))
		for i, header := range headers {
			record[i] = row[header]
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Render produces the whole dataset in one call.
func (e *CSVExporter) Render(w io.Writer, data Dataset) error {
	if err := e.WriteHeader(w, data.Headers); err != nil {
		return err
	}
	return e.WriteRows(w, data.Headers, data.Rows)
}
