package plate

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gathode/platereader/parser"
)

// syntheticPlate builds a plate with two replicate wells of a growing
// culture, two blanks and 121 timepoints over 30 hours. The growth curve is
// a logistic population on top of a constant density floor, which gives an
// interior maximum of the specific growth rate, a positive lag and a
// plateau for the yield.
func syntheticPlate(t *testing.T) *Plate {
	t.Helper()
	const (
		points = 121
		step   = 0.25 * 3600 // seconds
		blank  = 0.04
		floor  = 0.005
		k      = 1.0
		mu     = 0.5
		tm     = 12.0
	)
	time := make([]float64, points)
	for i := range time {
		time[i] = float64(i) * step
	}
	culture := func(phase float64) []float64 {
		od := make([]float64, points)
		for i := range od {
			th := time[i] / 3600
			if th > 24 {
				th = 24 // stationary phase
			}
			logistic := k / (1 + math.Exp(-mu*(th-tm)))
			wiggle := 1e-4 * math.Sin(7*time[i]/3600+phase)
			od[i] = blank + floor + logistic + wiggle
		}
		return od
	}
	flat := func() []float64 {
		od := make([]float64, points)
		for i := range od {
			od[i] = blank
		}
		return od
	}

	raw := &parser.RawPlate{
		ID:         "synthetic",
		Time:       time,
		RawOD:      [][]float64{culture(0), culture(2), flat(), flat()},
		SampleIDs:  []string{"wt", "wt", "BLANK", "BLANK"},
		Conditions: []string{"glc", "glc", "glc", "glc"},
		WellIDs:    []string{"A1", "A2", "H11", "H12"},
	}
	p, err := FromRaw(raw, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFromRawGroupsAndBackground(t *testing.T) {
	p := syntheticPlate(t)

	if len(p.Wells) != 4 {
		t.Fatalf("expected 4 wells, got %d", len(p.Wells))
	}
	if len(p.ReplicateGroups) != 2 {
		t.Fatalf("expected 2 replicate groups, got %d", len(p.ReplicateGroups))
	}
	// groups are ordered by sample id
	if p.ReplicateGroups[0].SampleID != "BLANK" || p.ReplicateGroups[1].SampleID != "wt" {
		t.Errorf("unexpected group order: %q, %q", p.ReplicateGroups[0].SampleID, p.ReplicateGroups[1].SampleID)
	}

	groups := p.NonBackgroundReplicateGroups()
	if len(groups) != 1 || groups[0].SampleID != "wt" {
		t.Fatalf("expected only the wt group to be non-background, got %d groups", len(groups))
	}
	if groups[0].Background() == nil {
		t.Fatal("expected the wt group to have a background")
	}
	if wells := p.NonBackgroundWells(); len(wells) != 2 {
		t.Errorf("expected 2 non-background wells, got %d", len(wells))
	}
	if !p.LoadStatus().IsEmpty() {
		t.Errorf("expected an empty load status, got %q", p.LoadStatus().Message())
	}
	// time is converted to hours
	if math.Abs(p.Time[4]-1) > 1e-9 {
		t.Errorf("expected 1h at index 4, got %g", p.Time[4])
	}
}

func TestBackgroundCaseInsensitive(t *testing.T) {
	raw := &parser.RawPlate{
		ID:         "p",
		Time:       []float64{0, 3600, 7200},
		RawOD:      [][]float64{{1, 2, 3}, {0.1, 0.1, 0.1}},
		SampleIDs:  []string{"wt", "Blank"},
		Conditions: []string{"", ""},
	}
	p, err := FromRaw(raw, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	if p.Wells[1].SampleID != "BLANK" {
		t.Errorf("expected blank id to be capitalised, got %q", p.Wells[1].SampleID)
	}
	if p.Wells[0].Background() == nil {
		t.Error("expected the wt well to get the blank group as background")
	}
}

func TestMultipleBackgroundsRejected(t *testing.T) {
	raw := &parser.RawPlate{
		ID:         "p",
		Time:       []float64{0, 3600},
		RawOD:      [][]float64{{1, 2}, {0.1, 0.1}, {0.1, 0.1}},
		SampleIDs:  []string{"wt", "BLANK", "BACKGROUND"},
		Conditions: []string{"", "", ""},
	}
	_, err := FromRaw(raw, DefaultParams())
	if err == nil {
		t.Fatal("expected an error for two background sample ids")
	}
	if _, ok := err.(*MultipleBackgroundsError); !ok {
		t.Errorf("expected *MultipleBackgroundsError, got %T", err)
	}
}

func TestMissingBackgroundWarns(t *testing.T) {
	raw := &parser.RawPlate{
		ID:         "p",
		Time:       []float64{0, 3600, 7200},
		RawOD:      [][]float64{{1, 2, 3}, {0.1, 0.1, 0.1}, {1, 2, 3}},
		SampleIDs:  []string{"wt", "BLANK", "mut"},
		Conditions: []string{"glc", "glc", "gal"},
	}
	p, err := FromRaw(raw, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	// the mut sample grows under a condition without a blank
	if p.LoadStatus().IsEmpty() {
		t.Fatal("expected a load status warning")
	}
	if !strings.Contains(p.LoadStatus().Message(), "mut") {
		t.Errorf("expected the warning to name the affected sample, got %q", p.LoadStatus().Message())
	}
	mut := p.ReplicateGroupForSampleCondition("mut", "gal")
	if mut == nil {
		t.Fatal("mut group not found")
	}
	if mut.Od() != nil {
		t.Error("expected no corrected density without a background")
	}
	if _, err := mut.GrowthParameters(); err == nil {
		t.Error("expected a fit error without a background")
	}
}

func TestTimeMustIncrease(t *testing.T) {
	raw := &parser.RawPlate{
		ID:         "p",
		Time:       []float64{0, 3600, 3600},
		RawOD:      [][]float64{{1, 2, 3}},
		SampleIDs:  []string{"wt"},
		Conditions: []string{""},
	}
	if _, err := FromRaw(raw, DefaultParams()); err == nil {
		t.Error("expected an error for non-increasing time")
	}
}

func TestOdSubtractsBackground(t *testing.T) {
	p := syntheticPlate(t)
	wt := p.ReplicateGroupForSampleCondition("wt", "glc")

	od := wt.Od()
	if od == nil {
		t.Fatal("expected a corrected density")
	}
	// at t=0 the logistic part is tiny, so od is close to the floor
	if math.Abs(od[0]-0.005) > 0.01 {
		t.Errorf("expected od near the floor at t=0, got %g", od[0])
	}
	// at the end the density saturates at floor+K
	if math.Abs(od[len(od)-1]-1.005) > 0.01 {
		t.Errorf("expected od near 1.005 at the end, got %g", od[len(od)-1])
	}
	if wt.OdVar() == nil {
		t.Error("expected a variance for a replicate group of two wells")
	}
}

func TestMaxGrowthRate(t *testing.T) {
	p := syntheticPlate(t)
	wt := p.ReplicateGroupForSampleCondition("wt", "glc")

	res := wt.MaxGrowthRate()
	if !res.Valid() {
		t.Fatalf("expected a maximal growth rate, status: %q", res.Status.Message())
	}
	// the specific growth rate of a logistic population on a density floor
	// peaks below the logistic rate constant
	if res.Mu < 0.3 || res.Mu > 0.55 {
		t.Errorf("growth rate %g out of expected range", res.Mu)
	}
	if res.TimeOfMax < 3 || res.TimeOfMax > 12 {
		t.Errorf("time of maximal growth %g out of expected range", res.TimeOfMax)
	}
	if res.Od0 <= 0 {
		t.Errorf("expected a positive back-projected initial density, got %g", res.Od0)
	}
	if math.IsNaN(res.Lag) || res.Lag <= 0 || res.Lag > 6 {
		t.Errorf("lag %g out of expected range", res.Lag)
	}
}

func TestMaxGrowthRateLocalAgrees(t *testing.T) {
	p := syntheticPlate(t)
	wt := p.ReplicateGroupForSampleCondition("wt", "glc")

	exp := wt.MaxGrowthRate()
	local := wt.MaxGrowthRateLocal()
	if !local.Valid() {
		t.Fatalf("expected a local maximal growth rate, status: %q", local.Status.Message())
	}
	if math.Abs(local.Mu-exp.Mu) > 0.15 {
		t.Errorf("local and exponential fit rates disagree: %g vs %g", local.Mu, exp.Mu)
	}
}

func TestOdSlopeMaxIntercept(t *testing.T) {
	p := syntheticPlate(t)
	wt := p.ReplicateGroupForSampleCondition("wt", "glc")

	lin := wt.OdSlopeMaxIntercept()
	if !lin.Valid() {
		t.Fatalf("expected a maximal slope, status: %q", lin.Status.Message())
	}
	// the logistic inflection sits at tm=12 with slope mu*K/4
	if math.Abs(lin.TimeOfMax-12) > 1 {
		t.Errorf("time of maximal slope %g, expected near 12", lin.TimeOfMax)
	}
	if math.Abs(lin.Slope-0.125) > 0.02 {
		t.Errorf("maximal slope %g, expected near 0.125", lin.Slope)
	}
	if lin.Intercept >= 0 {
		t.Errorf("expected a negative intercept, got %g", lin.Intercept)
	}
	lag, _ := lin.Lag()
	if math.IsNaN(lag) || lag <= 0 {
		t.Errorf("expected a positive linear lag, got %g", lag)
	}
}

func TestGrowthYield(t *testing.T) {
	p := syntheticPlate(t)
	wt := p.ReplicateGroupForSampleCondition("wt", "glc")

	yld := wt.GrowthYield()
	if !yld.Valid() {
		t.Fatalf("expected a growth yield, status: %q", yld.Status.Message())
	}
	if math.Abs(yld.Yield-1.005) > 0.02 {
		t.Errorf("yield %g, expected near 1.005", yld.Yield)
	}
	if yld.Time < 20 {
		t.Errorf("expected the yield on the plateau, got t=%g", yld.Time)
	}
}

func TestGrowthParameters(t *testing.T) {
	p := syntheticPlate(t)
	wt := p.ReplicateGroupForSampleCondition("wt", "glc")

	params, err := wt.GrowthParameters()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(params.DoublingTime-math.Ln2/params.MaxGrowthRate) > 1e-9 {
		t.Errorf("doubling time %g does not match rate %g", params.DoublingTime, params.MaxGrowthRate)
	}
	if math.IsNaN(params.LagTime) || params.LagTime <= 0 {
		t.Errorf("unexpected lag %g", params.LagTime)
	}
	if math.IsNaN(params.Yield) {
		t.Error("expected a yield")
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	p := syntheticPlate(t)
	path := filepath.Join(t.TempDir(), "synthetic.gat")

	st, err := p.Save(path)
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsEmpty() {
		t.Errorf("expected no save warning for a .gat file, got %q", st.Message())
	}

	loaded, err := Load(path, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ID != p.ID {
		t.Errorf("plate id %q, expected %q", loaded.ID, p.ID)
	}
	if len(loaded.Wells) != len(p.Wells) || len(loaded.ReplicateGroups) != len(p.ReplicateGroups) {
		t.Fatal("well or group count changed over the roundtrip")
	}

	wt := loaded.ReplicateGroupForSampleCondition("wt", "glc")
	if wt == nil || wt.Background() == nil {
		t.Fatal("background assignment lost over the roundtrip")
	}
	odBefore := p.ReplicateGroupForSampleCondition("wt", "glc").Od()
	odAfter := wt.Od()
	for i := range odBefore {
		if math.Abs(odBefore[i]-odAfter[i]) > 1e-12 {
			t.Fatalf("od differs at %d: %g vs %g", i, odBefore[i], odAfter[i])
		}
	}
}

func TestSaveWarnsOnWrongExtension(t *testing.T) {
	p := syntheticPlate(t)
	st, err := p.Save(filepath.Join(t.TempDir(), "synthetic.dat"))
	if err != nil {
		t.Fatal(err)
	}
	if st.IsEmpty() {
		t.Error("expected a warning for a non-canonical extension")
	}
}

func TestWriteGrowthParameters(t *testing.T) {
	p := syntheticPlate(t)
	buf := &bytes.Buffer{}
	if err := p.WriteGrowthParameters(buf, false); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected a header and one group row, got %d lines", len(lines))
	}
	for _, col := range []string{"sample", "condition", "slope_linear", "growthrate_expfit", "growthrate_local", "yield", "wellids"} {
		if !strings.Contains(lines[0], col) {
			t.Errorf("header misses column %q", col)
		}
	}
	if !strings.HasPrefix(lines[1], "wt,glc,") {
		t.Errorf("unexpected data row %q", lines[1])
	}
	if !strings.Contains(lines[1], "A1 A2") {
		t.Errorf("expected the well ids in the row, got %q", lines[1])
	}
}

func TestWriteTimeSeries(t *testing.T) {
	p := syntheticPlate(t)
	buf := &bytes.Buffer{}
	if err := p.WriteTimeSeries(buf, false); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(p.Time)+1 {
		t.Fatalf("expected %d lines, got %d", len(p.Time)+1, len(lines))
	}
	if lines[0] != "t,OD wt glc,var(OD) wt glc" {
		t.Errorf("unexpected header %q", lines[0])
	}
}

func TestActivateChildWell(t *testing.T) {
	p := syntheticPlate(t)
	wt := p.ReplicateGroupForSampleCondition("wt", "glc")

	if err := wt.ActivateChildWellIndex(1, false); err != nil {
		t.Fatal(err)
	}
	if len(wt.ActiveChildWells()) != 1 {
		t.Fatalf("expected one active child well, got %d", len(wt.ActiveChildWells()))
	}
	if wt.OdVar() != nil {
		t.Error("expected no variance with a single active well")
	}
	if err := wt.ActivateChildWellIndex(2, true); err == nil {
		t.Error("expected an error when activating a foreign well")
	}
}
