package parser

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	platereader "github.com/gathode/platereader"
)

func init() { Register(BasicCSV{}) }

// BasicCSV parses plain delimited files with a "time" header column and one
// labeled column per well. The delimiter is sniffed from the content. This
// is a catch-all format, so its score stays low enough for any dedicated
// reader format to win.
type BasicCSV struct{}

func (BasicCSV) Name() string { return "basiccsv" }

func (BasicCSV) Score(filename string) float64 {
	raw, err := basicParse(filename)
	if err != nil {
		return 0
	}
	if len(raw.Time) > 5 && len(raw.RawOD) > 5 {
		return 30
	}
	return 0
}

func (BasicCSV) Parse(filename string) (*RawPlate, error) {
	return basicParse(filename)
}

func basicParse(filename string) (*RawPlate, error) {
	raw, err := tryEncodings(filename, func(text string) (*RawPlate, error) {
		delimiter := platereader.DetermineDelimiter(strings.NewReader(text))
		return basicParseText(text, delimiter)
	})
	if err != nil {
		return nil, err
	}
	base := filepath.Base(filename)
	raw.ID = strings.TrimSuffix(base, filepath.Ext(base))
	return raw, nil
}

func basicParseText(text string, delimiter rune) (*RawPlate, error) {
	rows, err := readDelimited(text, delimiter)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("parser: too few rows")
	}

	labels := append([]string(nil), rows[0]...)
	if strings.ToLower(labels[0]) != "time" {
		return nil, fmt.Errorf("parser: expected %q in the first cell, got %q", "time", labels[0])
	}
	// a trailing delimiter on each line produces an empty last column
	if labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}

	cols, err := transpose(trimTrailing(rows[1:], len(labels)), len(labels))
	if err != nil {
		return nil, err
	}

	time := make([]float64, len(cols[0]))
	for i, cell := range cols[0] {
		t, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return nil, fmt.Errorf("parser: bad time value %q: %w", cell, err)
		}
		time[i] = t
	}

	rawOd, err := parseColumns(cols[1:])
	if err != nil {
		return nil, err
	}

	sampleIDs, conditions := SplitSampleCondition(sortableSampleIDs(labels[1:]), "_")

	return &RawPlate{
		Time:       time,
		RawOD:      rawOd,
		SampleIDs:  sampleIDs,
		Conditions: conditions,
		WellIDs:    platereader.GuessWellIds(len(rawOd)),
	}, nil
}

// trimTrailing cuts the empty field a trailing delimiter leaves on each row.
func trimTrailing(rows [][]string, width int) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		if len(row) == width+1 && row[len(row)-1] == "" {
			row = row[:width]
		}
		out[i] = row
	}
	return out
}

// sortableSampleIDs zero-pads purely numeric labels so that lexicographic
// ordering matches numeric ordering.
func sortableSampleIDs(labels []string) []string {
	out := make([]string, len(labels))
	for i, label := range labels {
		if n, err := strconv.Atoi(label); err == nil {
			out[i] = fmt.Sprintf("%03d", n)
		} else {
			out[i] = label
		}
	}
	return out
}
