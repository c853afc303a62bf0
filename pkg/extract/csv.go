package extract

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/toques-bi/toques/pkg/payload"
)

// csvDocument turns a delimited export into a {"data": [...]} document keyed by header.
// The delimiter is whichever of ';', ',' or tab appears most in the header line.
func csvDocument(text string) (payload.Document, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return payload.Document{}, nil
	}

	header := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		header = text[:i]
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = detectDelimiter(header)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	columns, err := r.Read()
	if err != nil {
		return payload.Document{}, errors.Wrap(err, "failed to read csv header")
	}
	for i := range columns {
		columns[i] = strings.TrimSpace(columns[i])
	}

	rows := make([]map[string]string, 0)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return payload.Document{}, errors.Wrap(err, "failed to read csv row")
		}

		row := make(map[string]string, len(columns))
		for i, col := range columns {
			if col == "" || i >= len(record) {
				continue
			}
			row[col] = record[i]
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return payload.Document{}, nil
	}

	return payload.FromValue(map[string]any{"data": rows})
}

func detectDelimiter(header string) rune {
	best, bestCount := ',', 0
	for _, d := range []rune{';', ',', '\t'} {
		if n := strings.Count(header, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}
