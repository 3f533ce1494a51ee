package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

var datasetPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

// HistoryDataset is the key prefix for archived query history parts.
const HistoryDataset = "history"

// BuildArchivePath returns <dataset>/date=YYYY-MM-DD/part-<unix-ms>-<seq>.parquet
// with the date taken from runTime in UTC.
func BuildArchivePath(dataset string, runTime time.Time, sequence int) (string, error) {
	if !datasetPattern.MatchString(dataset) {
		return "", fmt.Errorf("invalid dataset: %q", dataset)
	}
	if sequence < 0 {
		return "", fmt.Errorf("sequence must be >= 0")
	}

	ts := runTime.UTC()
	return path.Join(
		dataset,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("part-%d-%05d.parquet", ts.UnixMilli(), sequence),
	), nil
}
