// Package cls aggregates the growth parameters of a series of plates into a
// chronological life span analysis: each plate measures the outgrowth of the
// same culture after another day of starvation, and the increase of the lag
// relative to day zero yields the fraction of cells still viable.
package cls

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/gathode/platereader/plate"
	"github.com/gathode/platereader/status"
	"golang.org/x/sync/errgroup"
)

// Cls holds the plates of a chronological life span experiment, one per
// measurement day, and the per-well and per-group survival replicates
// assembled across them.
type Cls struct {
	Files []string
	Days  []float64

	Plates []*plate.Plate

	Wells           []*ClsReplicate
	ReplicateGroups []*ClsReplicate

	// Modified is set when well activations change after loading.
	Modified bool
}

// InsufficientDataError is returned when too few plates are given to span a
// life span curve.
type InsufficientDataError struct {
	Plates int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("cls: a life span analysis needs at least 2 plates, got %d", e.Plates)
}

// PlateFilesMissingError is returned when saved plate files cannot be found,
// e.g. because they were relocated after the analysis was saved.
type PlateFilesMissingError struct {
	Files []string
}

func (e *PlateFilesMissingError) Error() string {
	return "cls: plate files are missing (maybe they were relocated?): " + strings.Join(e.Files, ", ")
}

// ErrPlateMismatch is returned when the plates of an experiment do not share
// the same layout of samples and conditions.
type ErrPlateMismatch struct {
	FullID   string
	Filename string
}

func (e *ErrPlateMismatch) Error() string {
	return fmt.Sprintf("cls: plates do not match: no equivalent of %q in %q", e.FullID, e.Filename)
}

// New loads one saved plate per measurement day and assembles the survival
// replicates. The plates must share their well and replicate group layout;
// files and days correspond pairwise.
func New(files []string, days []float64) (*Cls, error) {
	if len(files) != len(days) {
		return nil, fmt.Errorf("cls: %d plate files but %d days", len(files), len(days))
	}
	if len(files) < 2 {
		return nil, &InsufficientDataError{Plates: len(files)}
	}
	for i := 1; i < len(days); i++ {
		if !(days[i] > days[i-1]) {
			return nil, fmt.Errorf("cls: days not strictly increasing at index %d", i)
		}
	}

	var missing []string
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, &PlateFilesMissingError{Files: missing}
	}

	c := &Cls{
		Files:  files,
		Days:   days,
		Plates: make([]*plate.Plate, len(files)),
	}

	eg := errgroup.Group{}
	for i, f := range files {
		i, f := i, f
		eg.Go(func() error {
			p, err := plate.LoadSaved(f)
			if err != nil {
				return pfx.Err(err)
			}
			c.Plates[i] = p
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if err := c.assemble(); err != nil {
		return nil, err
	}
	return c, nil
}

// assemble matches wells and replicate groups across the plates, using the
// first plate's layout as the reference.
func (c *Cls) assemble() error {
	p0 := c.Plates[0]

	c.Wells = nil
	for wi, w0 := range p0.Wells {
		odReplicates := make([]*plate.Replicate, len(c.Plates))
		odReplicates[0] = w0
		for pi := 1; pi < len(c.Plates); pi++ {
			if wi >= len(c.Plates[pi].Wells) {
				return &ErrPlateMismatch{FullID: w0.FullID(), Filename: c.Files[pi]}
			}
			w := c.Plates[pi].Wells[wi]
			if w.FullID() != w0.FullID() {
				return &ErrPlateMismatch{FullID: w0.FullID(), Filename: c.Files[pi]}
			}
			odReplicates[pi] = w
		}
		c.Wells = append(c.Wells, &ClsReplicate{
			SampleID:     w0.SampleID,
			Condition:    w0.Condition,
			WellIDs:      w0.WellIDs,
			parent:       c,
			odReplicates: odReplicates,
			days:         c.Days,
			wellIndices:  []int{wi},
			initStatus:   status.List(),
		})
		c.Wells[len(c.Wells)-1].activateAll()
	}

	c.ReplicateGroups = nil
	for _, g0 := range p0.ReplicateGroups {
		odReplicates := make([]*plate.Replicate, len(c.Plates))
		odReplicates[0] = g0
		diffs := status.List()
		for pi := 1; pi < len(c.Plates); pi++ {
			g := c.Plates[pi].ReplicateGroupForSampleCondition(g0.SampleID, g0.Condition)
			if g == nil {
				return &ErrPlateMismatch{FullID: g0.FullID(), Filename: c.Files[pi]}
			}
			diffs.Add(activationDifferences(g0, g, 0, pi))
			odReplicates[pi] = g
		}
		group := &ClsReplicate{
			SampleID:     g0.SampleID,
			Condition:    g0.Condition,
			WellIDs:      g0.WellIDs,
			parent:       c,
			odReplicates: odReplicates,
			days:         c.Days,
			wellIndices:  g0.ChildWellIndices(),
			isGroup:      true,
			initStatus:   diffs,
		}
		group.activateAll()
		c.ReplicateGroups = append(c.ReplicateGroups, group)
	}
	return nil
}

// activationDifferences compares the child wells of the same replicate group
// on two plates and reports divergences as low-severity messages.
func activationDifferences(a, b *plate.Replicate, aIdx, bIdx int) *status.Status {
	if diff := intSetDiff(a.ChildWellIndices(), b.ChildWellIndices()); diff != "" {
		return status.New(fmt.Sprintf("child wells %d|%d:", aIdx, bIdx), status.Message,
			"different child well indices: %s", diff)
	}
	if diff := intSetDiff(a.ActiveChildWellIndices(), b.ActiveChildWellIndices()); diff != "" {
		return status.New(fmt.Sprintf("active wells %d|%d:", aIdx, bIdx), status.Message,
			"different active child wells in underlying plates: %s", diff)
	}
	return nil
}

// intSetDiff renders the asymmetric set difference of two index slices,
// empty when they hold the same indices.
func intSetDiff(a, b []int) string {
	inA := make(map[int]bool, len(a))
	for _, v := range a {
		inA[v] = true
	}
	inB := make(map[int]bool, len(b))
	for _, v := range b {
		inB[v] = true
	}
	var onlyA, onlyB []int
	for _, v := range a {
		if !inB[v] {
			onlyA = append(onlyA, v)
		}
	}
	for _, v := range b {
		if !inA[v] {
			onlyB = append(onlyB, v)
		}
	}
	if len(onlyA) == 0 && len(onlyB) == 0 {
		return ""
	}
	sort.Ints(onlyA)
	sort.Ints(onlyB)
	parts := []string{}
	if len(onlyA) > 0 {
		parts = append(parts, fmt.Sprintf("< %v", onlyA))
	}
	if len(onlyB) > 0 {
		parts = append(parts, fmt.Sprintf("> %v", onlyB))
	}
	return strings.Join(parts, "  ")
}

// ClsReplicateGroupForSampleCondition returns the survival replicate group
// of the sample under the condition, or nil.
func (c *Cls) ClsReplicateGroupForSampleCondition(sampleID, condition string) *ClsReplicate {
	for _, g := range c.ReplicateGroups {
		if g.SampleID == sampleID && g.Condition == condition {
			return g
		}
	}
	return nil
}

// NonBackgroundCls returns the survival replicate groups that do not serve
// as background on the underlying plates, in group order.
func (c *Cls) NonBackgroundCls() []*ClsReplicate {
	nonBackground := make(map[string]bool)
	for _, g := range c.Plates[0].NonBackgroundReplicateGroups() {
		nonBackground[g.SampleID+"\x00"+g.Condition] = true
	}
	var out []*ClsReplicate
	for _, g := range c.ReplicateGroups {
		if nonBackground[g.SampleID+"\x00"+g.Condition] {
			out = append(out, g)
		}
	}
	return out
}
