package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"fiberseg/internal/models"
)

// TableFileName is the name of the feature table inside the output directory
const TableFileName = "fiber_object_table.csv"

// WriteCSV writes the table with a leading unnamed index column, the
// property columns and a trailing fov column. The index restarts at 0 for
// every fov.
func WriteCSV(w io.Writer, table *models.FiberObjectTable) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, len(table.Columns)+2)
	header = append(header, "")
	header = append(header, table.Columns...)
	header = append(header, "fov")
	if err := cw.Write(header); err != nil {
		return err
	}

	index := 0
	for i, row := range table.Rows {
		if i > 0 && row.FOV != table.Rows[i-1].FOV {
			index = 0
		}
		record := make([]string, 0, len(header))
		record = append(record, strconv.Itoa(index))
		for _, v := range row.Values {
			record = append(record, formatValue(v))
		}
		record = append(record, row.FOV)
		if err := cw.Write(record); err != nil {
			return err
		}
		index++
	}

	cw.Flush()
	return cw.Error()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// CSVFile writes the table to <Dir>/fiber_object_table.csv
type CSVFile struct {
	Dir string
}

// WriteTable implements TableSink
func (c CSVFile) WriteTable(ctx context.Context, table *models.FiberObjectTable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(c.Dir, TableFileName)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteCSV(f, table); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
