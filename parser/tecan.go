package parser

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	platereader "github.com/gathode/platereader"
)

func init() { Register(Tecan{}) }

// Tecan parses the tab-separated exports of the TECAN family of plate
// readers: one row per timepoint, time in the first column with an 's'
// suffix, optionally a temperature column, then one column per well of a
// 96- or 384-well plate. Exports may or may not carry well labels in the
// first row.
type Tecan struct{}

var (
	tecanTimeRe    = regexp.MustCompile(`^[+-]?(\d+\.\d+|\d+\.|\.\d+|\d+)([eE][+-]?\d+)?\s*s$`)
	tecanNumericRe = regexp.MustCompile(`^[+-]?(\d+\.\d+|\d+\.|\.\d+|\d+)([eE][+-]?\d+)?`)
	tecanTempRe    = regexp.MustCompile(`\s*\x{00b0}C$`)
)

func (Tecan) Name() string { return "tecan" }

func (Tecan) Score(filename string) float64 {
	for _, encoding := range encodings {
		text, err := decodeFile(filename, encoding)
		if err != nil {
			continue
		}
		if score, err := tecanScore(text); err == nil {
			return score
		}
	}
	return 0
}

func tecanScore(text string) (float64, error) {
	rows, err := readDelimited(text, '\t')
	if err != nil {
		return 0, err
	}
	if len(rows) < 2 {
		return 0, fmt.Errorf("parser: too few rows")
	}

	penalty := 0.0
	// an export with well labels keeps the time column unlabeled
	if rows[0][0] != "" {
		penalty = 20
	}
	switch len(rows[0]) {
	case 98, 99, 386, 387:
	default:
		return 0, nil
	}
	// a truncated export may leave the second row short of the header
	if len(rows[1]) >= 2 &&
		tecanTimeRe.MatchString(rows[1][0]) && tecanNumericRe.MatchString(rows[1][1]) {
		return 50 - penalty, nil
	}
	return 0, nil
}

func (Tecan) Parse(filename string) (*RawPlate, error) {
	raw, err := tryEncodings(filename, tecanParse)
	if err != nil {
		return nil, err
	}
	raw.ID = filepath.Base(filename)
	return raw, nil
}

func tecanParse(text string) (*RawPlate, error) {
	rows, err := readDelimited(text, '\t')
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("parser: too few rows for a tecan export")
	}

	labels := append([]string(nil), rows[0]...)
	data := rows[1:]
	var nonSample int
	separator := "_"

	if labels[0] == "" {
		// labeled export: the time column has no label, and neither does the
		// temperature column when present
		nonSample = 1
		labels[0] = "time"
		if labels[1] == "" {
			labels[1] = "temperature"
			nonSample = 2
		}
	} else {
		// unlabeled export: the first row is already data
		switch len(labels) {
		case 99, 387:
			nonSample = 2
			if !tecanTempRe.MatchString(labels[1]) {
				return nil, fmt.Errorf("parser: expected a temperature in the second column")
			}
		case 98, 386:
			nonSample = 1
		default:
			return nil, fmt.Errorf("parser: %d columns do not correspond to a 96 or 384 well plate", len(labels))
		}
		data = rows

		// wells get sortable numbered labels instead
		for i := range labels {
			labels[i] = fmt.Sprintf("%03d", i+1-nonSample)
		}
		separator = ""
	}

	cols, err := transpose(data, len(labels))
	if err != nil {
		return nil, err
	}

	// the trailing tab of each row produces an empty last column
	labels = labels[:len(labels)-1]
	cols = cols[:len(cols)-1]

	time := make([]float64, len(cols[0]))
	for i, cell := range cols[0] {
		t, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(cell, "s")), 64)
		if err != nil {
			return nil, fmt.Errorf("parser: bad time value %q: %w", cell, err)
		}
		time[i] = t
	}
	labels = labels[1:]
	cols = cols[1:]

	var temperature []float64
	if nonSample >= 2 {
		temperature = make([]float64, len(cols[0]))
		for i, cell := range cols[0] {
			v, err := strconv.ParseFloat(strings.TrimSpace(tecanTempRe.ReplaceAllString(cell, "")), 64)
			if err != nil {
				return nil, fmt.Errorf("parser: bad temperature value %q: %w", cell, err)
			}
			temperature[i] = v
		}
		labels = labels[1:]
		cols = cols[1:]
	}

	rawOd, err := parseColumns(cols)
	if err != nil {
		return nil, err
	}

	sampleIDs, conditions := SplitSampleCondition(labels, separator)

	return &RawPlate{
		Time:        time,
		RawOD:       rawOd,
		SampleIDs:   sampleIDs,
		Conditions:  conditions,
		Temperature: temperature,
		WellIDs:     platereader.GuessWellIds(len(rawOd)),
	}, nil
}

// readDelimited parses the whole text as delimiter-separated values.
func readDelimited(text string, comma rune) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

// transpose turns rows into columns, requiring every row to carry width
// fields.
func transpose(rows [][]string, width int) ([][]string, error) {
	cols := make([][]string, width)
	for c := range cols {
		cols[c] = make([]string, len(rows))
	}
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("parser: row %d has %d fields, expected %d", i+1, len(row), width)
		}
		for c, cell := range row {
			cols[c][i] = cell
		}
	}
	return cols, nil
}

func parseColumns(cols [][]string) ([][]float64, error) {
	out := make([][]float64, len(cols))
	for c, col := range cols {
		out[c] = make([]float64, len(col))
		for i, cell := range col {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("parser: bad readout %q: %w", cell, err)
			}
			out[c][i] = v
		}
	}
	return out, nil
}
