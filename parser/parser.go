// Package parser reads the export files of different plate readers into a
// common raw representation. Each format registers itself with a score
// function so callers can auto-detect the format of an unknown file.
package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/carbocation/pfx"
)

// RawPlate is the format-independent result of parsing an export file:
// one shared time vector (in seconds) and one readout column per well.
type RawPlate struct {
	ID          string
	Time        []float64
	RawOD       [][]float64
	SampleIDs   []string
	Conditions  []string
	Temperature []float64 // nil when the export carries no temperature column
	WellIDs     []string  // nil when the layout could not be guessed
}

// Format is a plate reader export format.
type Format interface {
	// Name identifies the format, e.g. "tecan".
	Name() string

	// Score rates how likely the file is in this format, from 0 (certainly
	// not) to 100 (certain).
	Score(filename string) float64

	// Parse reads the file.
	Parse(filename string) (*RawPlate, error)
}

// ErrUnknownFormat is returned when no registered format claims a file.
type ErrUnknownFormat struct {
	Filename string
}

func (e *ErrUnknownFormat) Error() string {
	return fmt.Sprintf("parser: no known plate reader format matches %s", e.Filename)
}

var registry []Format

// Register adds a format to the auto-detection registry.
func Register(f Format) {
	registry = append(registry, f)
}

// Formats returns the names of all registered formats, sorted.
func Formats() []string {
	names := make([]string, 0, len(registry))
	for _, f := range registry {
		names = append(names, f.Name())
	}
	sort.Strings(names)
	return names
}

// Detect returns the registered format with the highest positive score for
// the file, or an *ErrUnknownFormat when every score is zero.
func Detect(filename string) (Format, error) {
	var best Format
	bestScore := 0.0
	for _, f := range registry {
		if score := f.Score(filename); score > bestScore {
			best, bestScore = f, score
		}
	}
	if best == nil {
		return nil, &ErrUnknownFormat{Filename: filename}
	}
	return best, nil
}

// ParseFile auto-detects the format of the file and parses it.
func ParseFile(filename string) (*RawPlate, error) {
	format, err := Detect(filename)
	if err != nil {
		return nil, err
	}
	raw, err := format.Parse(filename)
	if err != nil {
		return nil, pfx.Err(err)
	}
	return raw, nil
}

// SplitSampleCondition splits each well label into a sample id and a
// condition on the last occurrence of the separator. A label without the
// separator yields an empty sample id and the full label as condition.
func SplitSampleCondition(labels []string, separator string) (sampleIDs, conditions []string) {
	sampleIDs = make([]string, len(labels))
	conditions = make([]string, len(labels))
	for i, label := range labels {
		if separator == "" {
			sampleIDs[i] = label
			continue
		}
		if at := strings.LastIndex(label, separator); at >= 0 {
			sampleIDs[i] = label[:at]
			conditions[i] = label[at+len(separator):]
		} else {
			conditions[i] = label
		}
	}
	return sampleIDs, conditions
}
