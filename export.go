package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

type exportError string

func (e exportError) Error() string { return string(e) }

const ErrNoRecords = exportError("no records to export")

// formatCell renders one column value. nil becomes an empty cell and times
// drop their zone.
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		if x.Nanosecond() == 0 {
			return x.Format("2006-01-02 15:04:05")
		}
		return x.Format("2006-01-02 15:04:05.000000")
	default:
		return fmt.Sprint(x)
	}
}

// WriteCSV writes the merged records with a header row. Only the merged
// column set is written unless allColumns is set.
func WriteCSV(w io.Writer, m Merged, allColumns bool) error {
	cols := m.Columns
	if allColumns {
		cols = AllColumns()
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	row := make([]string, len(cols))
	for i := range m.Records {
		for j, name := range cols {
			row[j] = formatCell(m.Records[i].Value(name))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV writes the merged records to path and returns the file size.
// Nothing is written when there are no records.
func ExportCSV(path string, m Merged, allColumns bool) (int64, error) {
	if len(m.Records) == 0 {
		return 0, ErrNoRecords
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	if err := WriteCSV(f, m, allColumns); err != nil {
		f.Close()
		return 0, fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
