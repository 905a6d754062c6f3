package cls

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gathode/platereader/fit"
	"github.com/gathode/platereader/plate"
	"github.com/gathode/platereader/status"
	"gonum.org/v1/gonum/integrate"
)

// ClsReplicate tracks one sample/condition across the days of the
// experiment: either a single well or a replicate group averaging several
// wells. It holds one plate replicate per day.
type ClsReplicate struct {
	SampleID  string
	Condition string
	WellIDs   []string

	parent       *Cls
	odReplicates []*plate.Replicate
	days         []float64
	// wellIndices are plate-level indices of the child wells;
	// activeWellIndices index into wellIndices.
	wellIndices       []int
	activeWellIndices []int
	isGroup           bool
	initStatus        *status.Status
}

// IsReplicateGroup reports whether this replicate averages several wells.
func (r *ClsReplicate) IsReplicateGroup() bool { return r.isGroup }

// Days returns the measurement days.
func (r *ClsReplicate) Days() []float64 { return r.days }

// OdReplicates returns the underlying plate replicates, one per day.
func (r *ClsReplicate) OdReplicates() []*plate.Replicate { return r.odReplicates }

// ChildWellIndices returns the plate-level indices of the child wells.
func (r *ClsReplicate) ChildWellIndices() []int { return r.wellIndices }

// ActiveChildWellIndices returns the local indices (into ChildWellIndices)
// of the currently active child wells.
func (r *ClsReplicate) ActiveChildWellIndices() []int { return r.activeWellIndices }

// ChildWells returns the single-well survival replicates underlying this
// replicate group.
func (r *ClsReplicate) ChildWells() []*ClsReplicate {
	out := make([]*ClsReplicate, len(r.wellIndices))
	for i, wi := range r.wellIndices {
		out[i] = r.parent.Wells[wi]
	}
	return out
}

// ActiveChildWells returns the child wells currently included in averages.
func (r *ClsReplicate) ActiveChildWells() []*ClsReplicate {
	out := make([]*ClsReplicate, len(r.activeWellIndices))
	for i, local := range r.activeWellIndices {
		out[i] = r.parent.Wells[r.wellIndices[local]]
	}
	return out
}

func (r *ClsReplicate) activateAll() {
	r.activeWellIndices = make([]int, len(r.wellIndices))
	for i := range r.wellIndices {
		r.activeWellIndices[i] = i
	}
}

// SetActiveChildWellIndices restricts the average to a subset of the child
// wells. Indices are local, i.e. they index into ChildWellIndices; nil
// activates all children.
func (r *ClsReplicate) SetActiveChildWellIndices(indices []int) error {
	if !r.isGroup {
		return fmt.Errorf("cls: %s is not a replicate group", r.FullID())
	}
	if err := r.setActiveChildWellIndices(indices); err != nil {
		return err
	}
	r.parent.Modified = true
	return nil
}

func (r *ClsReplicate) setActiveChildWellIndices(indices []int) error {
	if indices == nil {
		r.activateAll()
		return nil
	}
	seen := make(map[int]bool, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(r.wellIndices) {
			return fmt.Errorf("cls: local well index %d out of range for %s", idx, r.FullID())
		}
		if seen[idx] {
			return fmt.Errorf("cls: local well index %d given twice", idx)
		}
		seen[idx] = true
	}
	r.activeWellIndices = append([]int(nil), indices...)
	return nil
}

// ActivateChildWellIndex includes or excludes a single child well, by its
// local index.
func (r *ClsReplicate) ActivateChildWellIndex(index int, active bool) error {
	var next []int
	for _, idx := range r.activeWellIndices {
		if idx != index {
			next = append(next, idx)
		}
	}
	if active {
		next = append(next, index)
	}
	if next == nil {
		next = []int{}
	}
	return r.SetActiveChildWellIndices(next)
}

// ActiveChildWellIDString returns the active well ids joined by spaces; well
// indices stand in for wells without an id.
func (r *ClsReplicate) ActiveChildWellIDString() string {
	var ids []string
	if r.isGroup {
		for _, w := range r.ActiveChildWells() {
			if s := w.ActiveChildWellIDString(); s != "" {
				ids = append(ids, s)
			}
		}
	} else {
		if len(r.WellIDs) > 0 && r.WellIDs[0] != "" {
			ids = append(ids, r.WellIDs[0])
		} else {
			ids = append(ids, strconv.Itoa(r.wellIndices[0]))
		}
	}
	return strings.Join(ids, " ")
}

// FullID identifies the replicate by sample, condition and well ids.
func (r *ClsReplicate) FullID() string {
	return r.SampleID + " " + r.Condition + " " + r.ActiveChildWellIDString()
}

// InitStatus returns the layout divergences recorded when the plates were
// matched.
func (r *ClsReplicate) InitStatus() *status.Status { return r.initStatus }

// SurvivalCurve returns the viability per day: the fraction of cells still
// able to grow, estimated from the increase of the lag relative to day zero.
// It returns nil slices with a status when no curve could be derived.
func (r *ClsReplicate) SurvivalCurve() (days, viability, viabilityVar []float64, st *status.Status) {
	if r.isGroup {
		return r.survivalCurveGroup()
	}
	return r.survivalCurveSingle()
}

func (r *ClsReplicate) survivalCurveGroup() (days, viability, viabilityVar []float64, st *status.Status) {
	children := r.ActiveChildWells()
	rows := make([][]float64, len(children))
	all := status.List()
	kept := status.List()
	for i, child := range children {
		cdays, cv, _, cst := child.SurvivalCurve()
		all.Add(cst)
		if cdays != nil {
			kept.Add(cst)
			rows[i] = cv
		} else {
			rows[i] = nanRow(len(r.days))
		}
	}

	if allRowsNaN(rows) {
		all.Add(r.initStatus)
		return nil, nil, nil, all
	}

	mean, variance := fit.MaskedColumnMeanVar(rows)
	kept.Add(r.initStatus)
	return r.days, mean, variance, kept
}

func (r *ClsReplicate) survivalCurveSingle() (days, viability, viabilityVar []float64, st *status.Status) {
	day0 := r.odReplicates[0].MaxGrowthRate()
	if math.IsNaN(day0.Lag) {
		return nil, nil, nil, status.New("viability:", status.Failed,
			"no lag could be extracted for the first day")
	}

	v := make([]float64, len(r.odReplicates))
	vvar := make([]float64, len(r.odReplicates))
	for i, tc := range r.odReplicates {
		exp := tc.MaxGrowthRate()
		doubling, doublingVar := fit.DoublingTime(exp.Mu, exp.MuVar)
		deltaT := exp.Lag - day0.Lag

		// f(deltaT, doubling) = 2^(-deltaT/doubling)
		switch {
		case !math.IsNaN(exp.Lag) && !math.IsNaN(doubling):
			v[i] = math.Exp2(-deltaT / doubling)
		case math.IsNaN(doubling):
			// without a doubling time we assume there was no growth at all
			v[i] = 0
		default:
			v[i] = math.NaN()
		}

		if !math.IsNaN(day0.LagVar) && !math.IsNaN(exp.LagVar) && !math.IsNaN(doublingVar) {
			deltaTVar := exp.LagVar + day0.LagVar
			f := math.Exp2(-deltaT / doubling)
			// df/ddeltaT   = -ln(2)/doubling * f
			// df/ddoubling = +ln(2)*deltaT/doubling^2 * f
			vvar[i] = math.Pow(math.Ln2/doubling*f, 2)*doublingVar +
				math.Pow(math.Ln2*deltaT/(doubling*doubling)*f, 2)*deltaTVar
		} else {
			vvar[i] = math.NaN()
		}
	}
	return r.days, v, vvar, r.initStatus
}

// SurvivalIntegral integrates the survival curve over the days, a scalar
// summary of the chronological life span. The variance is only available
// for replicate groups, where it comes from the spread of the children.
func (r *ClsReplicate) SurvivalIntegral() (si, siVar float64, st *status.Status) {
	if r.isGroup {
		children := r.ActiveChildWells()
		sis := make([]float64, len(children))
		all := status.List()
		kept := status.List()
		for i, child := range children {
			csi, _, cst := child.SurvivalIntegral()
			sis[i] = csi
			all.Add(cst)
			if !math.IsNaN(csi) {
				kept.Add(cst)
			}
		}
		if allNaN(sis) {
			all.Add(r.initStatus)
			return math.NaN(), math.NaN(), all
		}
		mean, variance := fit.MaskedMeanVar(sis)
		kept.Add(r.initStatus)
		return mean, variance, kept
	}

	days, viability, _, st := r.SurvivalCurve()
	if viability == nil {
		return math.NaN(), math.NaN(), st
	}
	return integrate.Trapezoidal(days, viability), math.NaN(), st
}

func nanRow(n int) []float64 {
	row := make([]float64, n)
	for i := range row {
		row[i] = math.NaN()
	}
	return row
}

func allRowsNaN(rows [][]float64) bool {
	for _, row := range rows {
		if !allNaN(row) {
			return false
		}
	}
	return true
}

func allNaN(vals []float64) bool {
	for _, v := range vals {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}
