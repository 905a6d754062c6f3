package plate

import (
	"fmt"
	"math"
	"strings"

	"github.com/gathode/platereader/fit"
	"github.com/gathode/platereader/status"
)

// Replicate is either a single well or a replicate group averaging several
// wells of the same sample and condition. Derived series and growth
// parameters are computed lazily and memoised until a parameter changes.
type Replicate struct {
	SampleID  string
	Condition string
	WellIDs   []string

	plate             *Plate
	wellIndices       []int
	activeWellIndices []int
	groupParent       *Replicate
	background        *Replicate
	isGroup           bool
	over              overrides

	memo memo
}

type memo struct {
	rawDone           bool
	rawOd, rawOdVar   []float64
	odDone            bool
	od, odVar         []float64
	smoothedDone      bool
	smoothed          []float64
	logOdDone         bool
	logOd             []float64
	expDone           bool
	expMu, expMuVar   []float64
	expOd0, expOd0Var []float64
}

// IsReplicateGroup reports whether this replicate averages several wells.
func (r *Replicate) IsReplicateGroup() bool { return r.isGroup }

// Background returns the background replicate group, nil when none was
// assigned.
func (r *Replicate) Background() *Replicate { return r.background }

// FullID identifies the replicate by sample, condition and well ids.
func (r *Replicate) FullID() string {
	id := r.SampleID + " " + r.Condition
	if wells := r.ActiveChildWellIDString(); wells != "" {
		id += " " + wells
	}
	return id
}

// ChildWellIndices returns the plate-level indices of the child wells.
func (r *Replicate) ChildWellIndices() []int { return r.wellIndices }

// ActiveChildWellIndices returns the plate-level indices of the child wells
// currently included in averages.
func (r *Replicate) ActiveChildWellIndices() []int { return r.activeWellIndices }

// ChildWells returns the single-well replicates underlying this replicate.
func (r *Replicate) ChildWells() []*Replicate {
	out := make([]*Replicate, len(r.wellIndices))
	for i, wi := range r.wellIndices {
		out[i] = r.plate.Wells[wi]
	}
	return out
}

// ActiveChildWells returns the child wells currently included in averages.
func (r *Replicate) ActiveChildWells() []*Replicate {
	out := make([]*Replicate, len(r.activeWellIndices))
	for i, wi := range r.activeWellIndices {
		out[i] = r.plate.Wells[wi]
	}
	return out
}

// ActiveChildWellIDString returns the active well ids joined by spaces.
func (r *Replicate) ActiveChildWellIDString() string {
	var ids []string
	for _, w := range r.ActiveChildWells() {
		ids = append(ids, w.WellIDs...)
	}
	if !r.isGroup && len(ids) == 0 {
		ids = r.WellIDs
	}
	return strings.Join(ids, " ")
}

// SetActiveChildWellIndices restricts the average to a subset of the child
// wells. Indices refer to the plate's wells.
func (r *Replicate) SetActiveChildWellIndices(indices []int) error {
	valid := make(map[int]bool, len(r.wellIndices))
	for _, wi := range r.wellIndices {
		valid[wi] = true
	}
	seen := make(map[int]bool, len(indices))
	for _, idx := range indices {
		if !valid[idx] {
			return fmt.Errorf("plate: well index %d is not a child of %s", idx, r.FullID())
		}
		if seen[idx] {
			return fmt.Errorf("plate: well index %d given twice", idx)
		}
		seen[idx] = true
	}
	r.activeWellIndices = append([]int(nil), indices...)
	r.plate.invalidateAll()
	return nil
}

// ActivateChildWellIndex includes or excludes a single child well.
func (r *Replicate) ActivateChildWellIndex(index int, active bool) error {
	var next []int
	for _, wi := range r.activeWellIndices {
		if wi != index {
			next = append(next, wi)
		}
	}
	if active {
		valid := false
		for _, wi := range r.wellIndices {
			if wi == index {
				valid = true
			}
		}
		if !valid {
			return fmt.Errorf("plate: well index %d is not a child of %s", index, r.FullID())
		}
		next = append(next, index)
	}
	return r.SetActiveChildWellIndices(next)
}

func (r *Replicate) invalidate() { r.memo = memo{} }

func (p *Plate) invalidateAll() {
	for _, w := range p.Wells {
		w.invalidate()
	}
	for _, g := range p.ReplicateGroups {
		g.invalidate()
	}
}

// Parameter accessors resolve the per-replicate overrides: the well wins,
// then its replicate group, then the plate defaults.

func (r *Replicate) maxGrowthLowerTimeCutoff() *float64 {
	if r.over.MaxGrowthLowerTimeCutoff != nil {
		return r.over.MaxGrowthLowerTimeCutoff
	}
	if r.groupParent != nil && r.groupParent.over.MaxGrowthLowerTimeCutoff != nil {
		return r.groupParent.over.MaxGrowthLowerTimeCutoff
	}
	return r.plate.Params.MaxGrowthLowerTimeCutoff
}

func (r *Replicate) maxGrowthUpperTimeCutoff() *float64 {
	if r.over.MaxGrowthUpperTimeCutoff != nil {
		return r.over.MaxGrowthUpperTimeCutoff
	}
	if r.groupParent != nil && r.groupParent.over.MaxGrowthUpperTimeCutoff != nil {
		return r.groupParent.over.MaxGrowthUpperTimeCutoff
	}
	return r.plate.Params.MaxGrowthUpperTimeCutoff
}

func (r *Replicate) allowMaxGrowthrateAtLowerCutoff() bool {
	if r.over.AllowMaxGrowthrateAtLowerCutoff != nil {
		return *r.over.AllowMaxGrowthrateAtLowerCutoff
	}
	if r.groupParent != nil && r.groupParent.over.AllowMaxGrowthrateAtLowerCutoff != nil {
		return *r.groupParent.over.AllowMaxGrowthrateAtLowerCutoff
	}
	return r.plate.Params.AllowMaxGrowthrateAtLowerCutoff
}

func (r *Replicate) allowGrowthyieldSlopeNStderrAwayFromZero() int {
	if r.over.AllowGrowthyieldSlopeNStderrAwayFromZero != nil {
		return *r.over.AllowGrowthyieldSlopeNStderrAwayFromZero
	}
	if r.groupParent != nil && r.groupParent.over.AllowGrowthyieldSlopeNStderrAwayFromZero != nil {
		return *r.groupParent.over.AllowGrowthyieldSlopeNStderrAwayFromZero
	}
	return r.plate.Params.AllowGrowthyieldSlopeNStderrAwayFromZero
}

// SetMaxGrowthLowerTimeCutoff overrides the lower time cutoff for this
// replicate; nil removes the override.
func (r *Replicate) SetMaxGrowthLowerTimeCutoff(t *float64) {
	r.over.MaxGrowthLowerTimeCutoff = t
	r.plate.invalidateAll()
}

// SetMaxGrowthUpperTimeCutoff overrides the upper time cutoff for this
// replicate; nil removes the override.
func (r *Replicate) SetMaxGrowthUpperTimeCutoff(t *float64) {
	r.over.MaxGrowthUpperTimeCutoff = t
	r.plate.invalidateAll()
}

// SetAllowMaxGrowthrateAtLowerCutoff overrides the edge-tolerance flag for
// this replicate; nil removes the override.
func (r *Replicate) SetAllowMaxGrowthrateAtLowerCutoff(allow *bool) {
	r.over.AllowMaxGrowthrateAtLowerCutoff = allow
	r.plate.invalidateAll()
}

// SetAllowGrowthyieldSlopeNStderrAwayFromZero overrides the yield slope
// tolerance for this replicate; nil removes the override.
func (r *Replicate) SetAllowGrowthyieldSlopeNStderrAwayFromZero(n *int) {
	r.over.AllowGrowthyieldSlopeNStderrAwayFromZero = n
	r.plate.invalidateAll()
}

// RawOd returns the raw optical density: the well's readout, or the mean
// over the active child wells for a replicate group.
func (r *Replicate) RawOd() []float64 {
	r.calculateRawOd()
	return r.memo.rawOd
}

// RawOdVar returns the variance of the raw optical density over the active
// child wells, nil for single wells.
func (r *Replicate) RawOdVar() []float64 {
	r.calculateRawOd()
	return r.memo.rawOdVar
}

func (r *Replicate) calculateRawOd() {
	if r.memo.rawDone {
		return
	}
	r.memo.rawDone = true

	if len(r.activeWellIndices) == 0 {
		return
	}
	if len(r.activeWellIndices) == 1 {
		r.memo.rawOd = r.plate.rawOd[r.activeWellIndices[0]]
		return
	}
	rows := make([][]float64, len(r.activeWellIndices))
	for i, wi := range r.activeWellIndices {
		rows[i] = r.plate.rawOd[wi]
	}
	r.memo.rawOd, r.memo.rawOdVar = fit.MaskedColumnMeanVar(rows)
}

// Od returns the background subtracted, high-density corrected optical
// density, nil when no background group was assigned.
func (r *Replicate) Od() []float64 {
	r.calculateOd()
	return r.memo.od
}

// OdVar returns the propagated variance of Od, nil when unavailable.
func (r *Replicate) OdVar() []float64 {
	r.calculateOd()
	return r.memo.odVar
}

func (r *Replicate) calculateOd() {
	if r.memo.odDone {
		return
	}
	r.memo.odDone = true

	raw := r.RawOd()
	if raw == nil || r.background == nil {
		return
	}
	bgRaw := r.background.RawOd()
	if bgRaw == nil {
		return
	}

	l := r.plate.Params.HDCorrectionLinear
	q := r.plate.Params.HDCorrectionQuadratic
	c := r.plate.Params.HDCorrectionCubic

	od := make([]float64, len(raw))
	for i := range raw {
		d := raw[i] - bgRaw[i]
		od[i] = l*d + q*d*d + c*d*d*d
	}
	r.memo.od = od

	rawVar, bgVar := r.RawOdVar(), r.background.RawOdVar()
	if rawVar == nil || bgVar == nil {
		return
	}
	// error propagation of uncorrelated variables through the correction
	odVar := make([]float64, len(raw))
	for i := range raw {
		d := raw[i] - bgRaw[i]
		deriv := l + 2*q*d + 3*c*d*d
		odVar[i] = deriv * deriv * (rawVar[i] + bgVar[i])
	}
	r.memo.odVar = odVar
}

// Derivative returns the left derivative of Od, one entry shorter.
func (r *Replicate) Derivative() []float64 {
	od := r.Od()
	if od == nil {
		return nil
	}
	return fit.Diff(r.plate.Time, od)
}

// SmoothedOd returns the locally polynomial-smoothed optical density, nil
// when smoothing is unavailable or failed.
func (r *Replicate) SmoothedOd() []float64 {
	if r.memo.smoothedDone {
		return r.memo.smoothed
	}
	r.memo.smoothedDone = true

	od := r.Od()
	if od == nil {
		return nil
	}
	smoothed, err := fit.Smooth(r.plate.Time, od, r.plate.Params.SmoothingWindow, r.plate.Params.SmoothingDegree)
	if err != nil {
		return nil
	}
	r.memo.smoothed = smoothed
	return r.memo.smoothed
}

// SmoothedOdDerivative returns the left derivative of the smoothed optical
// density.
func (r *Replicate) SmoothedOdDerivative() []float64 {
	smoothed := r.SmoothedOd()
	if smoothed == nil {
		return nil
	}
	return fit.Diff(r.plate.Time, smoothed)
}

// LogOd returns ln(Od); entries with near-zero or negative density are NaN.
func (r *Replicate) LogOd() []float64 {
	if r.memo.logOdDone {
		return r.memo.logOd
	}
	r.memo.logOdDone = true

	od := r.Od()
	if od == nil {
		return nil
	}
	logOd := make([]float64, len(od))
	for i, v := range od {
		if v >= 1e-35 {
			logOd[i] = math.Log(v)
		} else {
			logOd[i] = math.NaN()
		}
	}
	r.memo.logOd = logOd
	return r.memo.logOd
}

// ExpFits returns the per-window exponential fit parameters. For a replicate
// group the child fits are averaged per window and the variances filled in;
// for single wells the variances are nil.
func (r *Replicate) ExpFits() (mu, muVar, od0, od0Var []float64) {
	if r.memo.expDone {
		return r.memo.expMu, r.memo.expMuVar, r.memo.expOd0, r.memo.expOd0Var
	}
	r.memo.expDone = true

	if r.Od() == nil {
		return nil, nil, nil, nil
	}
	w := r.plate.Params.SlidingWindowSize

	if r.isGroup {
		var muRows, od0Rows [][]float64
		for _, child := range r.ActiveChildWells() {
			cmu, _, cod0, _ := child.ExpFits()
			if cmu == nil {
				continue
			}
			muRows = append(muRows, cmu)
			od0Rows = append(od0Rows, cod0)
		}
		if len(muRows) == 0 {
			return nil, nil, nil, nil
		}
		r.memo.expMu, r.memo.expMuVar = fit.MaskedColumnMeanVar(muRows)
		r.memo.expOd0, r.memo.expOd0Var = fit.MaskedColumnMeanVar(od0Rows)
		return r.memo.expMu, r.memo.expMuVar, r.memo.expOd0, r.memo.expOd0Var
	}

	fitMu, fitOd0, err := fit.WindowExpFits(r.plate.Time, r.Od(), w, true)
	if err != nil {
		return nil, nil, nil, nil
	}
	r.memo.expMu, r.memo.expOd0 = fitMu, fitOd0
	return r.memo.expMu, r.memo.expMuVar, r.memo.expOd0, r.memo.expOd0Var
}

// ExpGrowth holds the exponential growth parameters at maximal growth rate.
// Unavailable values are NaN; Status carries the reason.
type ExpGrowth struct {
	Mu, MuVar               float64
	Od0, Od0Var             float64
	TimeOfMax, TimeOfMaxVar float64
	Lag, LagVar             float64
	Status                  *status.Status
}

// Valid reports whether a maximal growth rate was found.
func (g ExpGrowth) Valid() bool { return !math.IsNaN(g.Mu) }

func nanExpGrowth(st *status.Status) ExpGrowth {
	nan := math.NaN()
	return ExpGrowth{Mu: nan, MuVar: nan, Od0: nan, Od0Var: nan,
		TimeOfMax: nan, TimeOfMaxVar: nan, Lag: nan, LagVar: nan, Status: st}
}

// MaxGrowthRate locates the maximal growth rate from the sliding-window
// exponential fits.
func (r *Replicate) MaxGrowthRate() ExpGrowth {
	return r.maxGrowthRate(false)
}

// MaxGrowthRateLocal locates the maximal growth rate from the derivative of
// the smoothed optical density.
func (r *Replicate) MaxGrowthRateLocal() ExpGrowth {
	return r.maxGrowthRate(true)
}

func methodLabel(local bool) string {
	if local {
		return "smoothed"
	}
	return "exp. fit"
}

func (r *Replicate) maxGrowthRate(local bool) ExpGrowth {
	if r.isGroup {
		return r.maxGrowthRateGroup(local)
	}
	return r.maxGrowthRateSingle(local)
}

func (r *Replicate) maxGrowthRateGroup(local bool) ExpGrowth {
	label := methodLabel(local)
	growthKey := "max. growth rate (" + label + "):"
	lagKey := "lag (" + label + "):"

	children := r.ActiveChildWells()
	mu := make([]float64, len(children))
	od0 := make([]float64, len(children))
	maxt := make([]float64, len(children))
	lag := make([]float64, len(children))

	all := status.List()
	kept := status.List()
	allLag := status.List()
	keptLag := status.List()
	for i, child := range children {
		res := child.maxGrowthRate(local)
		mu[i], od0[i], maxt[i], lag[i] = res.Mu, res.Od0, res.TimeOfMax, res.Lag
		all.Add(res.Status)
		for _, s := range res.Status.WithKey(lagKey) {
			allLag.Add(s)
		}
		if !math.IsNaN(mu[i]) {
			for _, s := range res.Status.WithKey(growthKey) {
				kept.Add(s)
			}
		}
		if !math.IsNaN(lag[i]) {
			for _, s := range res.Status.WithKey(lagKey) {
				keptLag.Add(s)
			}
		}
	}

	if allNaN(mu) {
		return nanExpGrowth(all)
	}

	out := ExpGrowth{}
	out.Mu, out.MuVar = fit.MaskedMeanVar(mu)
	out.Od0, out.Od0Var = fit.MaskedMeanVar(maskLike(od0, mu))
	out.TimeOfMax, out.TimeOfMaxVar = fit.MaskedMeanVar(maskLike(maxt, mu))
	out.Lag, out.LagVar = fit.MaskedMeanVar(lag)

	if math.IsNaN(out.Lag) {
		kept.Add(allLag)
	} else {
		kept.Add(keptLag)
	}
	out.Status = kept
	return out
}

// maskLike copies vals with NaN wherever mask holds NaN, so secondary values
// of failed children stay out of the average.
func maskLike(vals, mask []float64) []float64 {
	out := make([]float64, len(vals))
	for i := range vals {
		if math.IsNaN(mask[i]) {
			out[i] = math.NaN()
		} else {
			out[i] = vals[i]
		}
	}
	return out
}

func allNaN(vals []float64) bool {
	for _, v := range vals {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}

func (r *Replicate) maxGrowthRateSingle(local bool) ExpGrowth {
	label := methodLabel(local)
	growthKey := "max. growth rate (" + label + "):"
	lagKey := "lag (" + label + "):"
	time := r.plate.Time
	w := r.plate.Params.SlidingWindowSize

	// mu, the matching timepoints, ln(OD) and the od0 estimates of the
	// chosen method
	var mu, t, logod, od0, windowStart []float64
	if local {
		smoothed := r.SmoothedOd()
		if smoothed != nil {
			deriv := r.SmoothedOdDerivative()
			mu = make([]float64, len(deriv))
			for i := range deriv {
				if smoothed[i] != 0 {
					mu[i] = deriv[i] / smoothed[i]
				} else {
					mu[i] = math.NaN()
				}
			}
			od0 = smoothed[:len(smoothed)-1]
		}
		t = time[:len(time)-1]
		if lo := r.LogOd(); lo != nil {
			logod = lo[:len(lo)-1]
		}
	} else {
		if len(time) <= w {
			return nanExpGrowth(status.New(growthKey, status.Failed, "no growth rate could be determined"))
		}
		mu, _, od0, _ = r.ExpFits()
		// the fit windows are reported at their midpoints
		t = time[w/2 : len(time)-(w+1)/2]
		if lo := r.LogOd(); lo != nil {
			logod = lo[w/2 : len(lo)-(w+1)/2]
		}
		windowStart = time[:len(time)-w]
	}

	finite := make([]bool, len(t))
	usable := make([]bool, len(t))
	for i := range t {
		finite[i] = mu != nil && !math.IsNaN(mu[i]) && !math.IsInf(mu[i], 0)
		usable[i] = finite[i]
	}

	var aboveCutoff []bool
	if cutoff := r.plate.Params.LogOdCutoff; cutoff != nil && logod != nil {
		aboveCutoff = make([]bool, len(t))
		for i := range t {
			aboveCutoff[i] = !math.IsNaN(logod[i]) && logod[i] >= *cutoff
			usable[i] = usable[i] && aboveCutoff[i]
		}
	}
	if !anyTrue(usable) {
		return nanExpGrowth(status.New(growthKey, status.Failed, "no growth rate could be determined"))
	}

	lower := r.maxGrowthLowerTimeCutoff()
	upper := r.maxGrowthUpperTimeCutoff()
	var aboveLower, belowUpper []bool
	if lower != nil {
		aboveLower = make([]bool, len(t))
		for i := range t {
			aboveLower[i] = t[i] >= *lower
			usable[i] = usable[i] && aboveLower[i]
		}
	}
	if upper != nil {
		belowUpper = make([]bool, len(t))
		for i := range t {
			belowUpper[i] = t[i] <= *upper
			usable[i] = usable[i] && belowUpper[i]
		}
	}
	if !anyTrue(usable) {
		return nanExpGrowth(status.New(growthKey, status.Failed, "no growth rate within cutoff limits"))
	}

	maxIdx := -1
	for i := range t {
		if usable[i] && (maxIdx < 0 || mu[i] > mu[maxIdx]) {
			maxIdx = i
		}
	}
	muMax := mu[maxIdx]
	maxT := t[maxIdx]

	// back-project the window's initial density to t=0:
	// od0 = od0_window * exp(-mu * t_windowstart)
	var od0Max float64
	if local {
		od0Max = od0[maxIdx] * math.Exp(-muMax*t[maxIdx])
	} else {
		od0Max = od0[maxIdx] * math.Exp(-muMax*windowStart[maxIdx])
	}

	if muMax <= 0 {
		return nanExpGrowth(status.New(growthKey, status.Failed, "maximal growth rate less than zero"))
	}
	if od0Max <= 0 {
		return nanExpGrowth(status.New(growthKey, status.Failed, "initial OD is less than zero"))
	}
	lagAt := r.lagAtLogOdEquals()
	if lagAt != nil && muMax*maxT+math.Log(od0Max) < *lagAt {
		return nanExpGrowth(status.New(growthKey, status.Failed,
			"OD at lag is greater than OD at time of maximal growth (%g < %g)",
			muMax*maxT+math.Log(od0Max), *lagAt))
	}

	statuses := status.List()

	// a maximum at the lower edge of the usable range is suspect: the true
	// maximum may be hidden by a cutoff or by failed windows
	var edge *status.Status
	switch {
	case maxIdx == 0 || !finite[maxIdx-1]:
		edge = status.New(growthKey, status.Warning, "next to maximum there is no growth rate defined (t=%g)", maxT)
	case aboveLower != nil && !aboveLower[maxIdx-1]:
		edge = status.New(growthKey, status.Warning, "located at lower cutoff (t=%g)", maxT)
	case aboveCutoff != nil && !aboveCutoff[maxIdx-1]:
		edge = status.New(growthKey, status.Warning, "located at log(OD) cutoff (at t<%g)", maxT)
	}
	if edge != nil {
		if !r.allowMaxGrowthrateAtLowerCutoff() {
			return nanExpGrowth(status.New(growthKey, status.Failed, "maximal growth rate rejected: %s", edge.Long))
		}
		statuses.Add(edge)
	}

	// a maximum at the upper edge is always rejected
	switch {
	case maxIdx == len(t)-1 || !finite[maxIdx+1]:
		return nanExpGrowth(status.New(growthKey, status.Failed,
			"maximal growth rate rejected: there is no growth rate defined for greater times (t=%g)", maxT))
	case belowUpper != nil && !belowUpper[maxIdx+1]:
		return nanExpGrowth(status.New(growthKey, status.Failed,
			"maximal growth rate rejected: located at upper cutoff (t=%g)", maxT))
	case aboveCutoff != nil && !aboveCutoff[maxIdx+1]:
		return nanExpGrowth(status.New(growthKey, status.Failed,
			"maximal growth rate rejected: located at log(OD) cutoff (at t>%g)", maxT))
	}

	lag := math.NaN()
	if lagAt != nil {
		lag = (*lagAt - math.Log(od0Max)) / muMax
		if lag < 0 {
			statuses.Add(status.New(lagKey, status.Failed, "lag rejected: negative (at t=%g)", lag))
			lag = math.NaN()
		}
	}

	nan := math.NaN()
	return ExpGrowth{
		Mu: muMax, MuVar: nan,
		Od0: od0Max, Od0Var: nan,
		TimeOfMax: maxT, TimeOfMaxVar: nan,
		Lag: lag, LagVar: nan,
		Status: statuses,
	}
}

func (r *Replicate) lagAtLogOdEquals() *float64 { return r.plate.Params.LagAtLogOdEquals }

func anyTrue(vals []bool) bool {
	for _, v := range vals {
		if v {
			return true
		}
	}
	return false
}

// LinearGrowth holds the maximal slope of the smoothed optical density and
// the intercept of the tangent at that point.
type LinearGrowth struct {
	Slope, SlopeVar         float64
	Intercept, InterceptVar float64
	TimeOfMax, TimeOfMaxVar float64
	Status                  *status.Status

	timeOfMaxIndex int
}

// Valid reports whether a maximal slope was found.
func (g LinearGrowth) Valid() bool { return !math.IsNaN(g.Slope) }

// Lag returns the lag estimated from the tangent at maximal slope, the time
// at which it crosses zero density, with propagated variance.
func (g LinearGrowth) Lag() (lag, lagVar float64) {
	if !g.Valid() || g.Slope == 0 {
		return math.NaN(), math.NaN()
	}
	lag = -g.Intercept / g.Slope
	if math.IsNaN(g.SlopeVar) || math.IsNaN(g.InterceptVar) {
		return lag, math.NaN()
	}
	lagVar = math.Pow(g.Intercept/(g.Slope*g.Slope), 2)*g.SlopeVar +
		g.InterceptVar/(g.Slope*g.Slope)
	return lag, lagVar
}

func nanLinearGrowth(st *status.Status) LinearGrowth {
	nan := math.NaN()
	return LinearGrowth{Slope: nan, SlopeVar: nan, Intercept: nan, InterceptVar: nan,
		TimeOfMax: nan, TimeOfMaxVar: nan, Status: st, timeOfMaxIndex: -1}
}

// OdSlopeMaxIntercept locates the maximal slope of the smoothed optical
// density and the intercept of the tangent there.
func (r *Replicate) OdSlopeMaxIntercept() LinearGrowth {
	if r.isGroup {
		children := r.ActiveChildWells()
		slope := make([]float64, len(children))
		intercept := make([]float64, len(children))
		timeOfMax := make([]float64, len(children))
		all := status.List()
		kept := status.List()
		for i, child := range children {
			res := child.OdSlopeMaxIntercept()
			slope[i], intercept[i], timeOfMax[i] = res.Slope, res.Intercept, res.TimeOfMax
			all.Add(res.Status)
			if !math.IsNaN(slope[i]) {
				kept.Add(res.Status)
			}
		}
		if allNaN(slope) {
			return nanLinearGrowth(all)
		}
		out := LinearGrowth{Status: kept, timeOfMaxIndex: -1}
		out.Slope, out.SlopeVar = fit.MaskedMeanVar(slope)
		out.Intercept, out.InterceptVar = fit.MaskedMeanVar(maskLike(intercept, slope))
		out.TimeOfMax, out.TimeOfMaxVar = fit.MaskedMeanVar(maskLike(timeOfMax, slope))
		return out
	}

	smoothed := r.SmoothedOd()
	deriv := r.SmoothedOdDerivative()
	if deriv == nil {
		return nanLinearGrowth(status.New("odSlopemaxIntercept", status.Failed,
			"derivative of smoothed optical density could not be calculated"))
	}
	time := r.plate.Time

	lowerIdx := 0
	if lower := r.maxGrowthLowerTimeCutoff(); lower != nil {
		lowerIdx = len(time)
		for i := 0; i < len(time)-1; i++ {
			if time[i] >= *lower {
				lowerIdx = i
				break
			}
		}
	}
	upperIdx := len(time) - 1
	if upperIdx-lowerIdx < 1 {
		return nanLinearGrowth(status.New("odSlopemaxIntercept", status.Failed,
			"no derivative of smoothed optical density above the lower time cutoff"))
	}

	logOd := r.LogOd()
	cutoff := r.plate.Params.LogOdCutoff
	usable := make([]bool, upperIdx-lowerIdx)
	for i := range usable {
		if cutoff != nil && logOd != nil {
			v := logOd[lowerIdx+i]
			usable[i] = !math.IsNaN(v) && v >= *cutoff
		} else {
			usable[i] = true
		}
	}
	if !anyTrue(usable) {
		return nanLinearGrowth(status.New("odSlopemaxIntercept", status.Failed,
			"no derivative of smoothed optical density for which log(OD) is greater equal cutoff"))
	}

	maxIdx := -1
	for i := range usable {
		if usable[i] && (maxIdx < 0 || deriv[lowerIdx+i] > deriv[lowerIdx+maxIdx]) {
			maxIdx = i
		}
	}
	timeOfMaxIdx := lowerIdx + maxIdx
	slope := deriv[timeOfMaxIdx]
	timeOfMax := time[timeOfMaxIdx]
	intercept := smoothed[timeOfMaxIdx] - slope*timeOfMax

	if slope < 0 {
		return nanLinearGrowth(status.New("odSlopemaxIntercept", status.Failed,
			"no positive slope could be determined"))
	}
	if smoothed[timeOfMaxIdx] <= 0 {
		return nanLinearGrowth(status.New("odSlopemaxIntercept", status.Failed,
			"optical density at maximal slope is less than zero"))
	}
	if intercept >= 0 {
		return nanLinearGrowth(status.New("odSlopemaxIntercept", status.Failed,
			"at intercept (t=0) optical density is greater than zero"))
	}

	nan := math.NaN()
	return LinearGrowth{
		Slope: slope, SlopeVar: nan,
		Intercept: intercept, InterceptVar: nan,
		TimeOfMax: timeOfMax, TimeOfMaxVar: nan,
		timeOfMaxIndex: timeOfMaxIdx,
	}
}

// YieldResult holds the growth yield: the highest plateau of the optical
// density after the maximal growth.
type YieldResult struct {
	Yield, YieldVar float64
	Time, TimeVar   float64
	Status          *status.Status
}

// Valid reports whether a yield was found.
func (y YieldResult) Valid() bool { return !math.IsNaN(y.Yield) }

func nanYield(st *status.Status) YieldResult {
	nan := math.NaN()
	return YieldResult{Yield: nan, YieldVar: nan, Time: nan, TimeVar: nan, Status: st}
}

// GrowthYield searches, after the time of maximal linear slope, for the
// highest window whose density exceeds the density at maximal slope and
// whose slope is compatible with zero.
func (r *Replicate) GrowthYield() YieldResult {
	if r.Od() == nil {
		return nanYield(status.New("growthyield", status.Failed, "no non-raw optical density"))
	}

	if r.isGroup {
		children := r.ActiveChildWells()
		yields := make([]float64, len(children))
		times := make([]float64, len(children))
		all := status.List()
		kept := status.List()
		for i, child := range children {
			res := child.GrowthYield()
			yields[i], times[i] = res.Yield, res.Time
			all.Add(res.Status)
			if !math.IsNaN(yields[i]) {
				kept.Add(res.Status)
			}
		}
		if allNaN(yields) {
			return nanYield(all)
		}
		out := YieldResult{Status: kept}
		out.Yield, out.YieldVar = fit.MaskedMeanVar(yields)
		out.Time, out.TimeVar = fit.MaskedMeanVar(maskLike(times, yields))
		return out
	}

	time := r.plate.Time
	w := r.plate.Params.SlidingWindowSize
	lin := r.OdSlopeMaxIntercept()
	if !lin.Valid() {
		return nanYield(status.New("growthyield", status.Failed, "no maximal slope"))
	}
	maxSlopeIdx := lin.timeOfMaxIndex
	if maxSlopeIdx >= len(time)-w {
		return nanYield(status.New("growthyield", status.Failed, "unusable maximal slope"))
	}
	odAtMaxSlope := lin.Slope*lin.TimeOfMax + lin.Intercept

	smoothed := r.SmoothedOd()
	slopes, err := fit.WindowSlopes(time, smoothed, w)
	if err != nil {
		return nanYield(status.New("growthyield", status.Failed, "unusable maximal slope"))
	}
	slopes = slopes[maxSlopeIdx:]
	mean, _, err := fit.WindowMeanVar(smoothed, w)
	if err != nil {
		return nanYield(status.New("growthyield", status.Failed, "unusable maximal slope"))
	}
	mean = mean[maxSlopeIdx:]

	valid := make([]bool, len(mean))
	flatWithin := func(n float64) {
		for i := range mean {
			s := slopes[i]
			valid[i] = mean[i] > odAtMaxSlope &&
				s.Slope+n*s.Stderr >= 0 && s.Slope-n*s.Stderr < 0
		}
	}

	flatWithin(1)
	var st *status.Status
	for n := 2; !anyTrue(valid) && n <= r.allowGrowthyieldSlopeNStderrAwayFromZero(); n++ {
		flatWithin(float64(n))
		st = status.New("growthyield", status.Warning, "slope zero within %d standard errors", n)
		st.Rank = n
	}
	if !anyTrue(valid) {
		return nanYield(status.New("growthyield", status.Failed, "no window with a slope compatible with zero"))
	}

	yieldIdx := -1
	for i := range mean {
		if valid[i] && (yieldIdx < 0 || mean[i] > mean[yieldIdx]) {
			yieldIdx = i
		}
	}
	yield := mean[yieldIdx]
	// window midpoints: the window starting at maxSlopeIdx+i is reported at
	// time[w/2 + maxSlopeIdx + i]
	yieldTime := time[w/2+maxSlopeIdx+yieldIdx]

	if yield < 0 {
		return nanYield(status.New("growthyield", status.Failed, "invalid yield (negative)"))
	}

	nan := math.NaN()
	return YieldResult{Yield: yield, YieldVar: nan, Time: yieldTime, TimeVar: nan, Status: st}
}

// GrowthParameters summarises a replicate's growth curve: the maximal
// growth rate from the exponential fits, the derived doubling time and lag,
// and the growth yield. The value is a snapshot; changing parameters on the
// replicate does not update it.
type GrowthParameters struct {
	MaxGrowthRate, MaxGrowthRateVar float64
	DoublingTime, DoublingTimeVar   float64
	LagTime, LagTimeVar             float64
	Yield, YieldVar                 float64
	TimeOfMaxGrowth                 float64
	Status                          *status.Status
}

// GrowthParameters extracts the growth parameters of the replicate. It
// returns a *fit.FitError when the curve carries too little usable signal
// for any parameter.
func (r *Replicate) GrowthParameters() (GrowthParameters, error) {
	if r.Od() == nil {
		return GrowthParameters{}, &fit.FitError{
			Reason: "no background-corrected density for " + r.FullID(),
		}
	}

	exp := r.MaxGrowthRate()
	yld := r.GrowthYield()
	if !exp.Valid() && !yld.Valid() {
		st := status.List()
		st.Add(exp.Status)
		st.Add(yld.Status)
		return GrowthParameters{}, &fit.FitError{
			Reason: "no growth parameters for " + r.FullID() + ": " + st.Message(),
		}
	}

	doubling, doublingVar := fit.DoublingTime(exp.Mu, exp.MuVar)
	st := status.List()
	st.Add(exp.Status)
	st.Add(yld.Status)
	return GrowthParameters{
		MaxGrowthRate: exp.Mu, MaxGrowthRateVar: exp.MuVar,
		DoublingTime: doubling, DoublingTimeVar: doublingVar,
		LagTime: exp.Lag, LagTimeVar: exp.LagVar,
		Yield: yld.Yield, YieldVar: yld.YieldVar,
		TimeOfMaxGrowth: exp.TimeOfMax,
		Status:          st,
	}, nil
}
