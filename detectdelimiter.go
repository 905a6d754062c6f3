package platereader

import (
	"io"

	"github.com/csimplestring/go-csv/detector"
)

// DetermineDelimiter returns the single most likely rune that would delimit
// the values in the reader. Plate-reader exports only ever use tabs, commas
// or semicolons, so other candidates the detector proposes (a stray colon in
// a sample label, say) are ignored and the default of ',' applies.
func DetermineDelimiter(r io.Reader) rune {
	d := detector.New()
	delimiters := d.DetectDelimiter(r, '"')

	for _, candidate := range delimiters {
		switch c := rune(candidate[0]); c {
		case '\t', ',', ';':
			return c
		}
	}

	return ','
}
