package platereader

import "strconv"

// GuessWellIds guesses the well labels of a plate from its well count. For
// the common microtiter layouts it returns row-letter/column-number labels
// (A1-H12 for 96 wells, A1-P24 for 384). Bioscreen honeycomb plates carry 100
// wells per plate (200 when two plates are run together) and are labeled
// numerically. Returns nil when the layout cannot be guessed.
func GuessWellIds(numberOfWells int) []string {
	var columns int
	switch numberOfWells {
	case 96:
		columns = 12
	case 384:
		columns = 24
	case 100, 200:
		wellids := make([]string, numberOfWells)
		for i := range wellids {
			wellids[i] = strconv.Itoa(i + 1)
		}
		return wellids
	default:
		return nil
	}

	wellids := make([]string, numberOfWells)
	for i := range wellids {
		row := i / columns
		col := i % columns
		wellids[i] = string(rune('A'+row)) + strconv.Itoa(col+1)
	}

	return wellids
}
