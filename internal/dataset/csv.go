package dataset

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// ConvertCSV reads an external CSV dataset into gold samples. Header
// handling and cell parsing match ConvertXLSX.
func ConvertCSV(path string) ([]GoldSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open csv %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	headers, err := r.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read csv header %s", path)
	}
	columns := mapHeaders(headers)
	if len(columns) == 0 {
		return nil, eris.Errorf("dataset: csv %s has no recognizable columns", path)
	}

	var samples []GoldSample
	for {
		cells, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: read csv row %s", path)
		}
		if emptyRow(cells) {
			continue
		}
		samples = append(samples, buildSample(columns, cells))
	}
	if len(samples) == 0 {
		return nil, eris.Errorf("dataset: csv %s has no data rows", path)
	}
	return samples, nil
}
