package cls

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/carbocation/pfx"
)

// WriteSurvival writes the survival integral and the per-day viabilities of
// all non-background replicate groups as CSV. Values that could not be
// extracted leave empty cells.
func (c *Cls) WriteSurvival(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{"sample", "condition", "survivalIntegral", "survivalIntegral_var"}
	for _, d := range c.Days {
		header = append(header,
			fmt.Sprintf("viabilityDay%02d", int(d)),
			fmt.Sprintf("viabilityDay%02d_var", int(d)))
	}
	header = append(header, "wellids")
	if err := cw.Write(header); err != nil {
		return pfx.Err(err)
	}

	for _, r := range c.NonBackgroundCls() {
		si, siVar, _ := r.SurvivalIntegral()
		row := []string{r.SampleID, r.Condition, formatFloat(si), formatFloat(siVar)}

		days, viability, viabilityVar, _ := r.SurvivalCurve()
		for i := range c.Days {
			if days == nil {
				row = append(row, "", "")
				continue
			}
			row = append(row, formatFloat(viability[i]), formatFloat(viabilityVar[i]))
		}
		row = append(row, r.ActiveChildWellIDString())
		if err := cw.Write(row); err != nil {
			return pfx.Err(err)
		}
	}
	cw.Flush()
	return pfx.Err(cw.Error())
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
