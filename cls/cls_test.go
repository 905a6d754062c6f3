package cls

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gathode/platereader/parser"
	"github.com/gathode/platereader/plate"
)

// starvedPlate builds a plate whose cultures grow out with a lag delayed by
// shift hours, the signature of cells dying during starvation.
func starvedPlate(t *testing.T, id string, sample string, shift float64) *plate.Plate {
	t.Helper()
	const (
		points = 121
		step   = 0.25 * 3600
		blank  = 0.04
		floor  = 0.005
		k      = 1.0
		mu     = 0.5
	)
	tm := 12.0 + shift
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
		ID:         id,
		Time:       time,
		RawOD:      [][]float64{culture(0), culture(2), flat(), flat()},
		SampleIDs:  []string{sample, sample, "BLANK", "BLANK"},
		Conditions: []string{"glc", "glc", "glc", "glc"},
		WellIDs:    []string{"A1", "A2", "H11", "H12"},
	}
	p, err := plate.FromRaw(raw, plate.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// starvationExperiment saves one plate per day, each with a longer lag.
func starvationExperiment(t *testing.T) (files []string, days []float64) {
	t.Helper()
	dir := t.TempDir()
	days = []float64{0, 2, 5}
	for i, shift := range []float64{0, 2, 5} {
		p := starvedPlate(t, "day", "wt", shift)
		f := filepath.Join(dir, "day"+strings.Repeat("i", i)+".gat")
		if _, err := p.Save(f); err != nil {
			t.Fatal(err)
		}
		files = append(files, f)
	}
	return files, days
}

func TestNewValidation(t *testing.T) {
	if _, err := New([]string{"a.gat"}, []float64{0, 1}); err == nil {
		t.Error("expected an error for mismatched file and day counts")
	}
	if _, err := New([]string{"a.gat"}, []float64{0}); err == nil {
		t.Error("expected an error for a single plate")
	} else if _, ok := err.(*InsufficientDataError); !ok {
		t.Errorf("expected *InsufficientDataError, got %T", err)
	}
	if _, err := New([]string{"/nonexistent/a.gat", "/nonexistent/b.gat"}, []float64{0, 1}); err == nil {
		t.Error("expected an error for missing files")
	} else if _, ok := err.(*PlateFilesMissingError); !ok {
		t.Errorf("expected *PlateFilesMissingError, got %T", err)
	}
}

func TestNewRejectsMismatchedPlates(t *testing.T) {
	dir := t.TempDir()
	f0 := filepath.Join(dir, "day0.gat")
	f1 := filepath.Join(dir, "day1.gat")
	p0 := starvedPlate(t, "day0", "wt", 0)
	p1 := starvedPlate(t, "day1", "mut", 1)
	if _, err := p0.Save(f0); err != nil {
		t.Fatal(err)
	}
	if _, err := p1.Save(f1); err != nil {
		t.Fatal(err)
	}

	_, err := New([]string{f0, f1}, []float64{0, 1})
	if err == nil {
		t.Fatal("expected an error for plates with different samples")
	}
	if _, ok := err.(*ErrPlateMismatch); !ok {
		t.Errorf("expected *ErrPlateMismatch, got %T", err)
	}
}

func TestSurvivalCurve(t *testing.T) {
	files, days := starvationExperiment(t)
	c, err := New(files, days)
	if err != nil {
		t.Fatal(err)
	}

	wt := c.ClsReplicateGroupForSampleCondition("wt", "glc")
	if wt == nil {
		t.Fatal("wt group not found")
	}
	gotDays, viability, viabilityVar, st := wt.SurvivalCurve()
	if gotDays == nil {
		t.Fatalf("expected a survival curve, status: %q", st.Message())
	}
	if len(viability) != len(days) {
		t.Fatalf("expected %d viabilities, got %d", len(days), len(viability))
	}
	// on day zero the lag has not moved yet
	if math.Abs(viability[0]-1) > 1e-9 {
		t.Errorf("day zero viability %g, expected 1", viability[0])
	}
	// dying cultures: the viability falls with every day of starvation
	if !(viability[1] < viability[0]) || !(viability[2] < viability[1]) {
		t.Errorf("viability not decreasing: %v", viability)
	}
	if viability[1] < 0.2 || viability[1] > 0.7 {
		t.Errorf("day 2 viability %g out of expected range", viability[1])
	}
	// two replicate wells give a spread
	if viabilityVar == nil || math.IsNaN(viabilityVar[1]) {
		t.Error("expected a viability variance from the replicate spread")
	}
}

func TestSurvivalIntegral(t *testing.T) {
	files, days := starvationExperiment(t)
	c, err := New(files, days)
	if err != nil {
		t.Fatal(err)
	}

	wt := c.ClsReplicateGroupForSampleCondition("wt", "glc")
	si, siVar, st := wt.SurvivalIntegral()
	if math.IsNaN(si) {
		t.Fatalf("expected a survival integral, status: %q", st.Message())
	}
	// trapezoid over roughly (1, 0.4, 0.1) on days (0, 2, 5)
	if si < 1 || si > 3 {
		t.Errorf("survival integral %g out of expected range", si)
	}
	if math.IsNaN(siVar) {
		t.Error("expected a survival integral variance for a replicate group")
	}
}

func TestNonBackgroundCls(t *testing.T) {
	files, days := starvationExperiment(t)
	c, err := New(files, days)
	if err != nil {
		t.Fatal(err)
	}
	groups := c.NonBackgroundCls()
	if len(groups) != 1 || groups[0].SampleID != "wt" {
		t.Fatalf("expected only the wt group, got %d groups", len(groups))
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	files, days := starvationExperiment(t)
	c, err := New(files, days)
	if err != nil {
		t.Fatal(err)
	}

	// deactivate the second well of the wt group
	wt := c.ClsReplicateGroupForSampleCondition("wt", "glc")
	if err := wt.ActivateChildWellIndex(1, false); err != nil {
		t.Fatal(err)
	}
	if !c.Modified {
		t.Error("expected the analysis to be marked modified")
	}

	catFile := filepath.Join(filepath.Dir(files[0]), "experiment.cat")
	st, err := c.Save(catFile)
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsEmpty() {
		t.Errorf("expected no save warning for a .cat file, got %q", st.Message())
	}
	if c.Modified {
		t.Error("expected saving to clear the modified flag")
	}

	loaded, err := LoadSaved(catFile)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Days) != len(days) || loaded.Days[2] != days[2] {
		t.Errorf("days changed over the roundtrip: %v", loaded.Days)
	}
	wt = loaded.ClsReplicateGroupForSampleCondition("wt", "glc")
	if got := wt.ActiveChildWellIndices(); len(got) != 1 || got[0] != 0 {
		t.Errorf("activation state lost over the roundtrip: %v", got)
	}
}

func TestLoadSavedRejectsPlateFile(t *testing.T) {
	files, _ := starvationExperiment(t)
	_, err := LoadSaved(files[0])
	if err == nil {
		t.Fatal("expected an error when opening a plate file as an analysis")
	}
	ufe, ok := err.(*UnknownFormatError)
	if !ok {
		t.Fatalf("expected *UnknownFormatError, got %T", err)
	}
	if !strings.Contains(ufe.Error(), "plate file") {
		t.Errorf("expected the error to name the plate file confusion, got %q", ufe.Error())
	}
}

func TestWriteSurvival(t *testing.T) {
	files, days := starvationExperiment(t)
	c, err := New(files, days)
	if err != nil {
		t.Fatal(err)
	}

	buf := &bytes.Buffer{}
	if err := c.WriteSurvival(buf); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected a header and one group row, got %d lines", len(lines))
	}
	for _, col := range []string{"sample", "condition", "survivalIntegral", "viabilityDay00", "viabilityDay02", "viabilityDay05", "wellids"} {
		if !strings.Contains(lines[0], col) {
			t.Errorf("header misses column %q", col)
		}
	}
	if !strings.HasPrefix(lines[1], "wt,glc,") {
		t.Errorf("unexpected data row %q", lines[1])
	}
}
