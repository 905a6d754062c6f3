package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	platereader "github.com/gathode/platereader"
)

func init() { Register(Bioscreen{}) }

// Bioscreen parses the tab-separated exports of the Bioscreen C reader:
// a "READER: Bioscreen C" banner, a "TEST NAME:" line with the plate id,
// four lines of run settings, a label row whose time column is marked
// "TenthSec.", and then the readouts of the 100 (or 200) honeycomb wells.
type Bioscreen struct{}

var (
	bioscreenBannerRe = regexp.MustCompile(`^READER:\s+Bioscreen`)
	bioscreenReaderRe = regexp.MustCompile(`^READER:\s+Bioscreen\sC`)
	bioscreenTestRe   = regexp.MustCompile(`^TEST NAME:\s+`)
)

func (Bioscreen) Name() string { return "bioscreen" }

func (Bioscreen) Score(filename string) float64 {
	for _, encoding := range encodings {
		text, err := decodeFile(filename, encoding)
		if err != nil {
			continue
		}
		rows, err := readDelimited(text, '\t')
		if err != nil || len(rows) == 0 || len(rows[0]) == 0 {
			continue
		}
		if bioscreenBannerRe.MatchString(rows[0][0]) {
			return 100
		}
		return 0
	}
	return 0
}

func (Bioscreen) Parse(filename string) (*RawPlate, error) {
	return tryEncodings(filename, bioscreenParse)
}

func bioscreenParse(text string) (*RawPlate, error) {
	rows, err := readDelimited(text, '\t')
	if err != nil {
		return nil, err
	}
	if len(rows) < 8 {
		return nil, fmt.Errorf("parser: too few rows for a bioscreen export")
	}
	if !bioscreenReaderRe.MatchString(rows[0][0]) {
		return nil, fmt.Errorf("parser: could not identify a bioscreen banner")
	}
	if !bioscreenTestRe.MatchString(rows[1][0]) {
		return nil, fmt.Errorf("parser: could not identify the plate id")
	}
	plateID := bioscreenTestRe.ReplaceAllString(rows[1][0], "")

	// rows 3 to 6 hold run settings and are skipped
	labels := rows[6]
	if labels[0] != "TenthSec." {
		return nil, fmt.Errorf("parser: could not identify the time unit, got %q", labels[0])
	}
	sampleIDs := append([]string(nil), labels[1:]...)

	var time []float64
	rawOd := make([][]float64, len(sampleIDs))
	for _, row := range rows[7:] {
		// the export ends with a row holding a single empty cell
		if len(row) < 2 {
			continue
		}
		if len(row) != len(sampleIDs)+1 {
			return nil, fmt.Errorf("parser: readout row has %d fields, expected %d", len(row), len(sampleIDs)+1)
		}
		t, err := strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("parser: bad time value %q: %w", row[0], err)
		}
		time = append(time, 0.1*t)
		for c, cell := range row[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("parser: bad readout %q: %w", cell, err)
			}
			rawOd[c] = append(rawOd[c], v)
		}
	}

	return &RawPlate{
		ID:         plateID,
		Time:       time,
		RawOD:      rawOd,
		SampleIDs:  sampleIDs,
		Conditions: make([]string, len(sampleIDs)),
		WellIDs:    platereader.GuessWellIds(len(rawOd)),
	}, nil
}
