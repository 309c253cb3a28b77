package report

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/odyssey-erp/consolbatch/internal/batch"
)

const csvBufferSize = 32 * 1024

// WriteTimingsCSV streams one row per processed unit pipeline.
func WriteTimingsCSV(w io.Writer, stats batch.Statistics) error {
	if w == nil {
		return fmt.Errorf("report writer not initialised")
	}
	buf := bufio.NewWriterSize(w, csvBufferSize)
	writer := csv.NewWriter(buf)
	writer.UseCRLF = true

	failures := make(map[string]batch.Failure, len(stats.Failures))
	for _, f := range stats.Failures {
		failures[f.Period+"/"+f.Unit] = f
	}

	if err := writer.Write([]string{"run_id", "period", "unit", "status", "elapsed_ms", "stage", "message"}); err != nil {
		return err
	}
	for _, t := range stats.Timings {
		f := failures[t.Period+"/"+t.Unit]
		row := []string{
			stats.RunID,
			t.Period,
			t.Unit,
			string(t.Status),
			strconv.FormatFloat(float64(t.Elapsed.Microseconds())/1000, 'f', 3, 64),
			string(f.Stage),
			singleLine(f.Message),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return buf.Flush()
}
