package series

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/segmentio/parquet-go"
	"github.com/xuri/excelize/v2"
)

// Metadata describes the run that produced a series. It is stored alongside
// the rows where the format allows it.
type Metadata map[string]string

// Write stores s at path. The format follows the extension: .parquet,
// .xlsx, anything else is written as csv.
func Write(path string, s Series, meta Metadata) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return writeFile(path, func(w io.Writer) error { return WriteParquet(w, s, meta) })
	case ".xlsx":
		return WriteXLSX(path, s, meta)
	default:
		return writeFile(path, func(w io.Writer) error { return WriteCSV(w, s) })
	}
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteParquet writes the series rows with the run metadata as key/value
// metadata. The full metadata map is also stored as JSON under "run".
func WriteParquet(w io.Writer, s Series, meta Metadata) error {
	runStr := "{}"
	if meta != nil {
		b, _ := json.Marshal(meta)
		runStr = string(b)
	}
	opts := []parquet.WriterOption{parquet.KeyValueMetadata("run", runStr)}
	for _, k := range sortedKeys(meta) {
		opts = append(opts, parquet.KeyValueMetadata(k, meta[k]))
	}

	writer := parquet.NewGenericWriter[Point](w, opts...)
	if _, err := writer.Write(s.Points()); err != nil {
		writer.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	return writer.Close()
}

// WriteXLSX writes the rows to the first sheet and the metadata to a "run" sheet.
func WriteXLSX(path string, s Series, meta Metadata) error {
	const sheet = "Sheet1"

	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("xlsx stream writer: %w", err)
	}
	if err := sw.SetRow("A1", []interface{}{"time_s", "frequency_mhz"}); err != nil {
		return err
	}
	for k, p := range s.Points() {
		cell, err := excelize.CoordinatesToCellName(1, k+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, []interface{}{p.TimeS, p.FrequencyMHz}); err != nil {
			return fmt.Errorf("xlsx row %d: %w", k, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("xlsx flush: %w", err)
	}

	if len(meta) > 0 {
		if _, err := f.NewSheet("run"); err != nil {
			return err
		}
		for i, k := range sortedKeys(meta) {
			if err := f.SetCellValue("run", fmt.Sprintf("A%d", i+1), k); err != nil {
				return err
			}
			if err := f.SetCellValue("run", fmt.Sprintf("B%d", i+1), meta[k]); err != nil {
				return err
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// WriteCSV writes a header line followed by one "time_s,frequency_mhz" line per point.
func WriteCSV(w io.Writer, s Series) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("time_s,frequency_mhz\n"); err != nil {
		return err
	}
	for _, p := range s.Points() {
		fmt.Fprintf(bw, "%.9g,%g\n", p.TimeS, p.FrequencyMHz)
	}
	return bw.Flush()
}

func sortedKeys(meta Metadata) []string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
