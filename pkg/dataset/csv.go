package dataset

import (
	"encoding/csv"
	"io"

	"github.com/pkg/errors"
)

// FromCSV parses CSV content into a Dataset. The first record is the
// header. Cells are normalized through Parse, so empty and NaN-spelled
// cells arrive as null. A header-only file yields zero rows, which is
// not an error.
func FromCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("csv input is empty")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read csv header")
	}

	ds := New(header)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse csv row %d", len(ds.Rows)+2)
		}
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = Parse(record[i])
			} else {
				row[col] = Null()
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}
