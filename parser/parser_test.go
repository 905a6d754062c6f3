package parser

import (
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := ioutil.WriteFile(path, []byte(content), os.FileMode(0644)); err != nil {
		t.Fatal(err)
	}
	return path
}

// tecanLabeledExport builds a 96-well export with labels, a temperature
// column and the trailing tab the reader software emits.
func tecanLabeledExport(points int) string {
	b := strings.Builder{}
	b.WriteString("\t")
	for w := 0; w < 96; w++ {
		fmt.Fprintf(&b, "\tsample%d_glucose", w)
	}
	b.WriteString("\t\n")
	for i := 0; i < points; i++ {
		fmt.Fprintf(&b, "%ds\t%.1f °C", i*600, 29.8)
		for w := 0; w < 96; w++ {
			fmt.Fprintf(&b, "\t%.4f", 0.05+0.001*float64(i))
		}
		b.WriteString("\t\n")
	}
	return b.String()
}

// tecanUnlabeledExport builds an export without a label row: the first row is
// already data, with a temperature column and the trailing tab.
func tecanUnlabeledExport(points int) string {
	b := strings.Builder{}
	for i := 0; i < points; i++ {
		fmt.Fprintf(&b, "%ds\t%.1f °C", i*600, 29.8)
		for w := 0; w < 96; w++ {
			fmt.Fprintf(&b, "\t%.4f", 0.05+0.001*float64(i))
		}
		b.WriteString("\t\n")
	}
	return b.String()
}

func bioscreenExport(points int) string {
	b := strings.Builder{}
	b.WriteString("READER: Bioscreen C\n")
	b.WriteString("TEST NAME: chronological aging run 4\n")
	b.WriteString("SETTING\nSETTING\nSETTING\nSETTING\n")
	b.WriteString("TenthSec.")
	for w := 1; w <= 100; w++ {
		fmt.Fprintf(&b, "\t%d", w)
	}
	b.WriteString("\n")
	for i := 0; i < points; i++ {
		fmt.Fprintf(&b, "%d", i*6000)
		for w := 1; w <= 100; w++ {
			fmt.Fprintf(&b, "\t%.4f", 0.1+0.01*float64(i))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func TestTecanParse(t *testing.T) {
	path := writeTempFile(t, "run1.csv", tecanLabeledExport(12))

	raw, err := (Tecan{}).Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if raw.ID != "run1.csv" {
		t.Errorf("expected plate id run1.csv, got %q", raw.ID)
	}
	if len(raw.Time) != 12 {
		t.Fatalf("expected 12 timepoints, got %d", len(raw.Time))
	}
	if math.Abs(raw.Time[1]-600) > 1e-9 {
		t.Errorf("expected time in seconds, got %g", raw.Time[1])
	}
	if len(raw.RawOD) != 96 {
		t.Fatalf("expected 96 wells, got %d", len(raw.RawOD))
	}
	if len(raw.Temperature) != 12 || math.Abs(raw.Temperature[0]-29.8) > 1e-9 {
		t.Errorf("unexpected temperature column: %v", raw.Temperature)
	}
	if raw.SampleIDs[3] != "sample3" || raw.Conditions[3] != "glucose" {
		t.Errorf("unexpected sample/condition split: %q / %q", raw.SampleIDs[3], raw.Conditions[3])
	}
	if raw.WellIDs[0] != "A1" || raw.WellIDs[95] != "H12" {
		t.Errorf("unexpected well ids: %q ... %q", raw.WellIDs[0], raw.WellIDs[95])
	}
}

func TestTecanScore(t *testing.T) {
	path := writeTempFile(t, "run1.csv", tecanLabeledExport(12))
	if score := (Tecan{}).Score(path); score != 50 {
		t.Errorf("expected score 50 for a labeled export, got %g", score)
	}

	other := writeTempFile(t, "other.csv", "time,a,b\n0,1,2\n")
	if score := (Tecan{}).Score(other); score != 0 {
		t.Errorf("expected score 0 for a non-tecan file, got %g", score)
	}
}

func TestTecanScoreTruncatedExport(t *testing.T) {
	// an interrupted run can leave a label row followed by a bare time cell
	full := tecanLabeledExport(1)
	header := full[:strings.Index(full, "\n")+1]
	path := writeTempFile(t, "truncated.csv", header+"0s\n")

	if score := (Tecan{}).Score(path); score != 0 {
		t.Errorf("expected score 0 for a truncated export, got %g", score)
	}
}

func TestTecanParseUnlabeled(t *testing.T) {
	path := writeTempFile(t, "run2.csv", tecanUnlabeledExport(10))

	// data in the label row costs the penalty
	if score := (Tecan{}).Score(path); score != 30 {
		t.Errorf("expected score 30 for an unlabeled export, got %g", score)
	}

	raw, err := (Tecan{}).Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw.Time) != 10 || math.Abs(raw.Time[1]-600) > 1e-9 {
		t.Fatalf("unexpected time column: %v", raw.Time)
	}
	if len(raw.RawOD) != 96 {
		t.Fatalf("expected 96 wells, got %d", len(raw.RawOD))
	}
	if len(raw.Temperature) != 10 || math.Abs(raw.Temperature[0]-29.8) > 1e-9 {
		t.Errorf("unexpected temperature column: %v", raw.Temperature)
	}
	if raw.SampleIDs[0] != "001" || raw.SampleIDs[95] != "096" {
		t.Errorf("expected numbered sample ids, got %q ... %q", raw.SampleIDs[0], raw.SampleIDs[95])
	}
	if raw.Conditions[0] != "" {
		t.Errorf("expected empty conditions, got %q", raw.Conditions[0])
	}
}

func TestTecanParseUnlabeledWithoutTemperatureUnit(t *testing.T) {
	content := strings.ReplaceAll(tecanUnlabeledExport(3), " °C", "")
	path := writeTempFile(t, "run3.csv", content)

	if _, err := (Tecan{}).Parse(path); err == nil {
		t.Error("expected an error when the temperature column lacks its unit")
	}
}

func TestBioscreenParse(t *testing.T) {
	path := writeTempFile(t, "cls.csv", bioscreenExport(8))

	if score := (Bioscreen{}).Score(path); score != 100 {
		t.Fatalf("expected score 100, got %g", score)
	}

	raw, err := (Bioscreen{}).Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if raw.ID != "chronological aging run 4" {
		t.Errorf("unexpected plate id %q", raw.ID)
	}
	if len(raw.Time) != 8 {
		t.Fatalf("expected 8 timepoints, got %d", len(raw.Time))
	}
	// TenthSec. means a tenth of a second per unit
	if math.Abs(raw.Time[1]-600) > 1e-9 {
		t.Errorf("expected 600s, got %g", raw.Time[1])
	}
	if len(raw.RawOD) != 100 {
		t.Fatalf("expected 100 wells, got %d", len(raw.RawOD))
	}
	if raw.SampleIDs[0] != "1" || raw.WellIDs[99] != "100" {
		t.Errorf("unexpected ids: %q, %q", raw.SampleIDs[0], raw.WellIDs[99])
	}
}

func TestBasicCSVParse(t *testing.T) {
	content := "time,wt_glc,wt_gal,mut_glc,mut_gal,blank_glc,blank_gal\n" +
		"0,0.05,0.05,0.05,0.05,0.04,0.04\n" +
		"3600,0.08,0.07,0.06,0.06,0.04,0.04\n" +
		"7200,0.14,0.11,0.08,0.07,0.04,0.04\n" +
		"10800,0.25,0.18,0.11,0.09,0.04,0.04\n" +
		"14400,0.44,0.29,0.16,0.12,0.04,0.04\n" +
		"18000,0.73,0.45,0.23,0.16,0.04,0.04\n"
	path := writeTempFile(t, "plate7.csv", content)

	if score := (BasicCSV{}).Score(path); score != 30 {
		t.Fatalf("expected score 30, got %g", score)
	}

	raw, err := (BasicCSV{}).Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if raw.ID != "plate7" {
		t.Errorf("expected plate id plate7, got %q", raw.ID)
	}
	if len(raw.RawOD) != 6 || len(raw.Time) != 6 {
		t.Fatalf("expected 6 wells and 6 timepoints, got %d and %d", len(raw.RawOD), len(raw.Time))
	}
	if raw.SampleIDs[0] != "wt" || raw.Conditions[0] != "glc" {
		t.Errorf("unexpected split: %q / %q", raw.SampleIDs[0], raw.Conditions[0])
	}
	if raw.SampleIDs[4] != "blank" || raw.Conditions[4] != "glc" {
		t.Errorf("unexpected split: %q / %q", raw.SampleIDs[4], raw.Conditions[4])
	}
}

func TestBasicCSVTabDelimited(t *testing.T) {
	content := "time\ta_x\tb_x\tc_x\td_x\te_x\tf_x\n" +
		"0\t1\t1\t1\t1\t1\t1\n" +
		"1\t1\t1\t1\t1\t1\t1\n" +
		"2\t1\t1\t1\t1\t1\t1\n" +
		"3\t1\t1\t1\t1\t1\t1\n" +
		"4\t1\t1\t1\t1\t1\t1\n" +
		"5\t1\t1\t1\t1\t1\t1\n"
	path := writeTempFile(t, "tabbed.tsv", content)

	raw, err := (BasicCSV{}).Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw.RawOD) != 6 {
		t.Fatalf("expected 6 wells, got %d", len(raw.RawOD))
	}
}

func TestDetect(t *testing.T) {
	bioscreen := writeTempFile(t, "bio.csv", bioscreenExport(8))
	format, err := Detect(bioscreen)
	if err != nil {
		t.Fatal(err)
	}
	if format.Name() != "bioscreen" {
		t.Errorf("expected bioscreen, got %q", format.Name())
	}

	junk := writeTempFile(t, "junk.txt", "nothing to see here\n")
	if _, err := Detect(junk); err == nil {
		t.Error("expected an error for an unrecognized file")
	} else if _, ok := err.(*ErrUnknownFormat); !ok {
		t.Errorf("expected *ErrUnknownFormat, got %T", err)
	}
}

func TestSplitSampleCondition(t *testing.T) {
	ids, conds := SplitSampleCondition([]string{"wt_hi_glc", "plain"}, "_")
	if ids[0] != "wt_hi" || conds[0] != "glc" {
		t.Errorf("expected split on the last separator, got %q / %q", ids[0], conds[0])
	}
	// labels without the separator become a bare condition
	if ids[1] != "" || conds[1] != "plain" {
		t.Errorf("unexpected split of a separator-less label: %q / %q", ids[1], conds[1])
	}
}

func TestDecodeUTF16(t *testing.T) {
	text := "time,a_x\n0,1\n"
	raw := []byte{0xff, 0xfe}
	for _, r := range text {
		raw = append(raw, byte(r), 0)
	}
	decoded, err := decode(raw, "utf-16")
	if err != nil {
		t.Fatal(err)
	}
	if decoded != text {
		t.Errorf("unexpected decode result %q", decoded)
	}
	if _, err := decode([]byte(text), "utf-16"); err == nil {
		t.Error("expected an error decoding utf-16 without a byte order mark")
	}
}
