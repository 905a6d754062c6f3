// Package plate models a plate reader experiment: the raw optical densities
// of the wells, replicate groups of wells holding the same sample under the
// same condition, background (blank) subtraction and the extraction of
// growth parameters from the resulting curves.
package plate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/gathode/platereader/parser"
	"github.com/gathode/platereader/status"
)

// backgroundSampleIDs are the sample ids recognized as blanks.
var backgroundSampleIDs = []string{"BLANK", "BACKGROUND"}

// Plate is a single plate reader experiment.
type Plate struct {
	ID       string
	Time     []float64 // hours
	TimeUnit string
	// Temperature per timepoint, nil when the export carried none.
	Temperature []float64
	Params      Params

	Wells           []*Replicate
	ReplicateGroups []*Replicate

	rawOd      [][]float64
	loadStatus *status.Status
}

// MultipleBackgroundsError is returned when a plate labels its blanks with
// more than one background sample id, which makes the assignment ambiguous.
type MultipleBackgroundsError struct {
	SampleIDs []string
}

func (e *MultipleBackgroundsError) Error() string {
	return fmt.Sprintf("plate: multiple background sample ids: %s", strings.Join(e.SampleIDs, ", "))
}

// FromRaw builds a plate from a parsed export. Time is converted from
// seconds to hours, wells are grouped into replicate groups by sample id and
// condition, and background groups are assigned per condition.
func FromRaw(raw *parser.RawPlate, params Params) (*Plate, error) {
	if len(raw.RawOD) != len(raw.SampleIDs) {
		return nil, fmt.Errorf("plate: %d readout columns but %d sample ids", len(raw.RawOD), len(raw.SampleIDs))
	}
	if len(raw.SampleIDs) != len(raw.Conditions) {
		return nil, fmt.Errorf("plate: %d sample ids but %d conditions", len(raw.SampleIDs), len(raw.Conditions))
	}
	if len(raw.Time) < 2 {
		return nil, fmt.Errorf("plate: need at least 2 timepoints, got %d", len(raw.Time))
	}
	for i := 1; i < len(raw.Time); i++ {
		if !(raw.Time[i] > raw.Time[i-1]) {
			return nil, fmt.Errorf("plate: time not strictly increasing at index %d", i)
		}
	}
	if raw.WellIDs != nil {
		seen := make(map[string]bool, len(raw.WellIDs))
		for _, id := range raw.WellIDs {
			if seen[id] {
				return nil, fmt.Errorf("plate: well id %q is not unique", id)
			}
			seen[id] = true
		}
	}
	for _, col := range raw.RawOD {
		if len(col) != len(raw.Time) {
			return nil, fmt.Errorf("plate: readout column of %d points does not match %d timepoints", len(col), len(raw.Time))
		}
	}

	p := &Plate{
		ID:          raw.ID,
		Time:        make([]float64, len(raw.Time)),
		TimeUnit:    "h",
		Temperature: raw.Temperature,
		Params:      params,
		rawOd:       raw.RawOD,
	}
	for i, t := range raw.Time {
		p.Time[i] = t / 3600
	}

	for i := range raw.RawOD {
		var wellIDs []string
		if raw.WellIDs != nil {
			wellIDs = []string{raw.WellIDs[i]}
		}
		p.Wells = append(p.Wells, &Replicate{
			SampleID:          capitaliseBackgroundID(raw.SampleIDs[i]),
			Condition:         raw.Conditions[i],
			WellIDs:           wellIDs,
			plate:             p,
			wellIndices:       []int{i},
			activeWellIndices: []int{i},
		})
	}

	p.buildReplicateGroups()
	if err := p.assignBackgrounds(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads a plate from a file: either a previously saved plate or any
// plate reader export a registered parser format recognizes.
func Load(filename string, params Params) (*Plate, error) {
	if isSavedPlate(filename) {
		return LoadSaved(filename)
	}
	raw, err := parser.ParseFile(filename)
	if err != nil {
		return nil, pfx.Err(err)
	}
	return FromRaw(raw, params)
}

// LoadStatus returns the non-fatal notifications gathered while the plate
// was assembled, e.g. samples for which no background could be identified.
func (p *Plate) LoadStatus() *status.Status {
	if p.loadStatus == nil {
		return status.List()
	}
	return p.loadStatus
}

// capitaliseBackgroundID uppercases sample ids that name a blank in any
// capitalisation, so "blank" and "Blank" wells end up in the same group.
func capitaliseBackgroundID(sampleID string) string {
	for _, bg := range backgroundSampleIDs {
		if strings.EqualFold(sampleID, bg) {
			return bg
		}
	}
	return sampleID
}

// buildReplicateGroups groups wells sharing a sample id and condition,
// ordered by sample id then condition.
func (p *Plate) buildReplicateGroups() {
	byKey := make(map[string]map[string][]int)
	for i, w := range p.Wells {
		if byKey[w.SampleID] == nil {
			byKey[w.SampleID] = make(map[string][]int)
		}
		byKey[w.SampleID][w.Condition] = append(byKey[w.SampleID][w.Condition], i)
	}

	sampleIDs := make([]string, 0, len(byKey))
	for id := range byKey {
		sampleIDs = append(sampleIDs, id)
	}
	sort.Strings(sampleIDs)

	p.ReplicateGroups = nil
	for _, id := range sampleIDs {
		conditions := make([]string, 0, len(byKey[id]))
		for c := range byKey[id] {
			conditions = append(conditions, c)
		}
		sort.Strings(conditions)
		for _, condition := range conditions {
			indices := byKey[id][condition]
			group := &Replicate{
				SampleID:          id,
				Condition:         condition,
				plate:             p,
				wellIndices:       indices,
				activeWellIndices: append([]int(nil), indices...),
				isGroup:           true,
			}
			var wellIDs []string
			for _, wi := range indices {
				wellIDs = append(wellIDs, p.Wells[wi].WellIDs...)
				p.Wells[wi].groupParent = group
			}
			group.WellIDs = wellIDs
			p.ReplicateGroups = append(p.ReplicateGroups, group)
		}
	}
}

// guessBackgroundSampleIDs returns the background sample ids present on the
// plate, sorted.
func (p *Plate) guessBackgroundSampleIDs() []string {
	found := make(map[string]bool)
	for _, w := range p.Wells {
		for _, bg := range backgroundSampleIDs {
			if w.SampleID == bg {
				found[bg] = true
			}
		}
	}
	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// assignBackgrounds wires every well and replicate group to the background
// replicate group of its condition and records warnings for samples left
// without one.
func (p *Plate) assignBackgrounds() error {
	backgroundIDs := p.guessBackgroundSampleIDs()
	if len(backgroundIDs) > 1 {
		return &MultipleBackgroundsError{SampleIDs: backgroundIDs}
	}
	if len(backgroundIDs) == 1 {
		bgID := backgroundIDs[0]
		byCondition := make(map[string]*Replicate)
		for _, g := range p.ReplicateGroups {
			if g.SampleID == bgID {
				byCondition[g.Condition] = g
			}
		}
		for _, tc := range append(append([]*Replicate(nil), p.Wells...), p.ReplicateGroups...) {
			if tc.SampleID == bgID {
				continue
			}
			if bg, ok := byCondition[tc.Condition]; ok {
				tc.background = bg
			}
		}
	}
	p.setBackgroundStatus()
	return nil
}

func (p *Plate) setBackgroundStatus() {
	p.loadStatus = status.List()

	if len(p.backgroundGroups()) == 0 {
		p.loadStatus.Add(status.New(
			"No background samples:", status.Warning,
			"no background (blank) wells could be identified, so no growth parameters will be extracted"))
		return
	}

	noBackground := make(map[string]map[string]bool)
	record := func(tc *Replicate) {
		if tc.background != nil {
			return
		}
		if noBackground[tc.Condition] == nil {
			noBackground[tc.Condition] = make(map[string]bool)
		}
		noBackground[tc.Condition][tc.SampleID] = true
	}
	for _, w := range p.NonBackgroundWells() {
		record(w)
	}
	for _, g := range p.NonBackgroundReplicateGroups() {
		record(g)
	}
	if len(noBackground) == 0 {
		return
	}

	conditions := make([]string, 0, len(noBackground))
	for c := range noBackground {
		conditions = append(conditions, c)
	}
	sort.Strings(conditions)
	affected := strings.Builder{}
	for _, c := range conditions {
		if c == "" {
			affected.WriteString("no condition:")
		} else {
			affected.WriteString(c + ":")
		}
		samples := make([]string, 0, len(noBackground[c]))
		for s := range noBackground[c] {
			samples = append(samples, s)
		}
		sort.Strings(samples)
		for _, s := range samples {
			affected.WriteString(" " + s)
		}
		affected.WriteString("\n")
	}
	p.loadStatus.Add(status.New(
		"No background for some samples:", status.Warning,
		"for some conditions no background (blank) could be identified, so no growth parameters will be extracted; affected samples:\n%s",
		affected.String()))
}

// backgroundGroups returns the replicate groups serving as background for
// at least one replicate.
func (p *Plate) backgroundGroups() map[*Replicate]bool {
	bgs := make(map[*Replicate]bool)
	for _, w := range p.Wells {
		if w.background != nil {
			bgs[w.background] = true
		}
	}
	for _, g := range p.ReplicateGroups {
		if g.background != nil {
			bgs[g.background] = true
		}
	}
	return bgs
}

// NonBackgroundWells returns the wells that do not belong to a background
// group, in plate order.
func (p *Plate) NonBackgroundWells() []*Replicate {
	bgs := p.backgroundGroups()
	var out []*Replicate
	for _, w := range p.Wells {
		if w.groupParent != nil && bgs[w.groupParent] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// NonBackgroundReplicateGroups returns the replicate groups that are not
// serving as background, in group order.
func (p *Plate) NonBackgroundReplicateGroups() []*Replicate {
	bgs := p.backgroundGroups()
	var out []*Replicate
	for _, g := range p.ReplicateGroups {
		if bgs[g] {
			continue
		}
		out = append(out, g)
	}
	return out
}

// ReplicateGroupForSampleCondition returns the replicate group holding the
// sample under the condition, or nil.
func (p *Plate) ReplicateGroupForSampleCondition(sampleID, condition string) *Replicate {
	for _, g := range p.ReplicateGroups {
		if g.SampleID == sampleID && g.Condition == condition {
			return g
		}
	}
	return nil
}
