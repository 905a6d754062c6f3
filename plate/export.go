package plate

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/carbocation/pfx"
	"github.com/gocarina/gocsv"
	"gopkg.in/guregu/null.v3"
)

// growthRow is one replicate group in the growth parameter export. Failed
// extractions leave empty cells.
type growthRow struct {
	Sample    string `csv:"sample"`
	Condition string `csv:"condition"`

	SlopeLinear        null.Float `csv:"slope_linear"`
	SlopeLinearVar     null.Float `csv:"slope_linear_var"`
	InterceptLinear    null.Float `csv:"intercept_linear"`
	InterceptLinearVar null.Float `csv:"intercept_linear_var"`
	TimeOfMaxLinear    null.Float `csv:"timeOfMax_linear"`
	TimeOfMaxLinearVar null.Float `csv:"timeOfMax_linear_var"`
	LagLinear          null.Float `csv:"lag_linear"`
	LagLinearVar       null.Float `csv:"lag_linear_var"`

	DoublingTimeExpfit    null.Float `csv:"doublingtime_expfit"`
	DoublingTimeExpfitVar null.Float `csv:"doublingtime_expfit_var"`
	GrowthRateExpfit      null.Float `csv:"growthrate_expfit"`
	GrowthRateExpfitVar   null.Float `csv:"growthrate_expfit_var"`
	Od0Expfit             null.Float `csv:"od0_expfit"`
	Od0ExpfitVar          null.Float `csv:"od0_expfit_var"`
	TimeOfMaxExpfit       null.Float `csv:"timeOfMax_expfit"`
	TimeOfMaxExpfitVar    null.Float `csv:"timeOfMax_expfit_var"`
	LagExpfit             null.Float `csv:"lag_expfit (ln(OD) == lagAtCutoff)"`
	LagExpfitVar          null.Float `csv:"lag_expfit_var (ln(OD) == lagAtCutoff)"`

	DoublingTimeLocal    null.Float `csv:"doublingtime_local"`
	DoublingTimeLocalVar null.Float `csv:"doublingtime_local_var"`
	GrowthRateLocal      null.Float `csv:"growthrate_local"`
	GrowthRateLocalVar   null.Float `csv:"growthrate_local_var"`
	Od0Local             null.Float `csv:"od0_local"`
	Od0LocalVar          null.Float `csv:"od0_local_var"`
	TimeOfMaxLocal       null.Float `csv:"timeOfMax_local"`
	TimeOfMaxLocalVar    null.Float `csv:"timeOfMax_local_var"`
	LagLocal             null.Float `csv:"lag_local (ln(OD) == lagAtCutoff)"`
	LagLocalVar          null.Float `csv:"lag_local_var (ln(OD) == lagAtCutoff)"`

	Yield           null.Float `csv:"yield"`
	YieldVar        null.Float `csv:"yield_var"`
	TimeOfYield     null.Float `csv:"timeOfYield"`
	TimeOfYieldVar  null.Float `csv:"timeOfYield_var"`

	WellIDs string `csv:"wellids"`
}

// nullFloat maps NaN to an empty cell.
func nullFloat(v float64) null.Float {
	if math.IsNaN(v) {
		return null.Float{}
	}
	return null.FloatFrom(v)
}

func (r *Replicate) growthRow() growthRow {
	row := growthRow{
		Sample:    r.SampleID,
		Condition: r.Condition,
		WellIDs:   r.ActiveChildWellIDString(),
	}
	if r.Od() == nil {
		return row
	}

	lin := r.OdSlopeMaxIntercept()
	row.SlopeLinear = nullFloat(lin.Slope)
	row.SlopeLinearVar = nullFloat(lin.SlopeVar)
	row.InterceptLinear = nullFloat(lin.Intercept)
	row.InterceptLinearVar = nullFloat(lin.InterceptVar)
	row.TimeOfMaxLinear = nullFloat(lin.TimeOfMax)
	row.TimeOfMaxLinearVar = nullFloat(lin.TimeOfMaxVar)
	lag, lagVar := lin.Lag()
	row.LagLinear = nullFloat(lag)
	row.LagLinearVar = nullFloat(lagVar)

	exp := r.MaxGrowthRate()
	doubling, doublingVar := doublingTimeOf(exp)
	row.DoublingTimeExpfit = nullFloat(doubling)
	row.DoublingTimeExpfitVar = nullFloat(doublingVar)
	row.GrowthRateExpfit = nullFloat(exp.Mu)
	row.GrowthRateExpfitVar = nullFloat(exp.MuVar)
	row.Od0Expfit = nullFloat(exp.Od0)
	row.Od0ExpfitVar = nullFloat(exp.Od0Var)
	row.TimeOfMaxExpfit = nullFloat(exp.TimeOfMax)
	row.TimeOfMaxExpfitVar = nullFloat(exp.TimeOfMaxVar)
	row.LagExpfit = nullFloat(exp.Lag)
	row.LagExpfitVar = nullFloat(exp.LagVar)

	local := r.MaxGrowthRateLocal()
	doubling, doublingVar = doublingTimeOf(local)
	row.DoublingTimeLocal = nullFloat(doubling)
	row.DoublingTimeLocalVar = nullFloat(doublingVar)
	row.GrowthRateLocal = nullFloat(local.Mu)
	row.GrowthRateLocalVar = nullFloat(local.MuVar)
	row.Od0Local = nullFloat(local.Od0)
	row.Od0LocalVar = nullFloat(local.Od0Var)
	row.TimeOfMaxLocal = nullFloat(local.TimeOfMax)
	row.TimeOfMaxLocalVar = nullFloat(local.TimeOfMaxVar)
	row.LagLocal = nullFloat(local.Lag)
	row.LagLocalVar = nullFloat(local.LagVar)

	yld := r.GrowthYield()
	row.Yield = nullFloat(yld.Yield)
	row.YieldVar = nullFloat(yld.YieldVar)
	row.TimeOfYield = nullFloat(yld.Time)
	row.TimeOfYieldVar = nullFloat(yld.TimeVar)

	return row
}

func doublingTimeOf(g ExpGrowth) (float64, float64) {
	if !g.Valid() {
		return math.NaN(), math.NaN()
	}
	doubling := math.Ln2 / g.Mu
	if math.IsNaN(g.MuVar) {
		return doubling, math.NaN()
	}
	return doubling, math.Ln2 * math.Ln2 / math.Pow(g.Mu, 4) * g.MuVar
}

// WriteGrowthParameters writes the growth parameters of all non-background
// replicate groups (or single wells) as CSV.
func (p *Plate) WriteGrowthParameters(w io.Writer, singleWells bool) error {
	var replicates []*Replicate
	if singleWells {
		replicates = p.NonBackgroundWells()
	} else {
		replicates = p.NonBackgroundReplicateGroups()
	}
	rows := make([]growthRow, 0, len(replicates))
	for _, r := range replicates {
		rows = append(rows, r.growthRow())
	}
	return pfx.Err(gocsv.Marshal(&rows, w))
}

// WriteTimeSeries writes the background corrected densities of all
// non-background replicate groups (or single wells) as CSV, one timepoint
// per row. Groups additionally carry a variance column.
func (p *Plate) WriteTimeSeries(w io.Writer, singleWells bool) error {
	var replicates []*Replicate
	if singleWells {
		replicates = p.NonBackgroundWells()
	} else {
		replicates = p.NonBackgroundReplicateGroups()
	}

	cw := csv.NewWriter(w)
	header := []string{"t"}
	for _, r := range replicates {
		label := r.SampleID + " " + r.Condition
		if singleWells {
			label += " " + r.ActiveChildWellIDString()
		}
		header = append(header, "OD "+label)
		if !singleWells {
			header = append(header, "var(OD) "+label)
		}
	}
	if err := cw.Write(header); err != nil {
		return pfx.Err(err)
	}

	for ti := range p.Time {
		row := []string{formatFloat(p.Time[ti])}
		for _, r := range replicates {
			row = append(row, seriesCell(r.Od(), ti))
			if !singleWells {
				row = append(row, seriesCell(r.OdVar(), ti))
			}
		}
		if err := cw.Write(row); err != nil {
			return pfx.Err(err)
		}
	}
	cw.Flush()
	return pfx.Err(cw.Error())
}

func seriesCell(series []float64, i int) string {
	if series == nil {
		return ""
	}
	return formatFloat(series[i])
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
