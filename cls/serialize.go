package cls

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/carbocation/pfx"
	"github.com/gathode/platereader/status"
	"github.com/klauspost/compress/gzip"
)

const (
	savedClsFormat  = "clsplates"
	savedClsVersion = "1"

	// SavedClsExtension is the canonical extension for saved analyses.
	SavedClsExtension = ".cat"
)

// UnknownFormatError is returned when a file is not a saved life span
// analysis of a supported version.
type UnknownFormatError struct {
	Filename string
	Format   string
	Version  string
	Detail   string
}

func (e *UnknownFormatError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("cls: %s: %s", e.Filename, e.Detail)
	}
	return fmt.Sprintf("cls: %s: unsupported format %q version %q", e.Filename, e.Format, e.Version)
}

// The saved analysis is lightweight: it references the plate files instead
// of embedding them, so their location relative to the saved file must not
// change. What it adds on top is the activation state of the wells.
type serializedCls struct {
	Format        string    `json:"format"`
	FormatVersion string    `json:"formatversion"`
	Files         []string  `json:"files"`
	Days          []float64 `json:"days"`

	ClsWells           []serializedClsReplicate `json:"clsWells"`
	ClsReplicateGroups []serializedClsReplicate `json:"clsReplicateGroups"`
}

type serializedClsReplicate struct {
	SampleID          string   `json:"sampleId"`
	Condition         string   `json:"condition"`
	WellIDs           []string `json:"wellIds"`
	WellIndices       []int    `json:"wellIndices"`
	ActiveWellIndices []int    `json:"activeWellIndices"`
}

func (r *ClsReplicate) serialize() serializedClsReplicate {
	return serializedClsReplicate{
		SampleID:          r.SampleID,
		Condition:         r.Condition,
		WellIDs:           r.WellIDs,
		WellIndices:       r.wellIndices,
		ActiveWellIndices: r.activeWellIndices,
	}
}

// apply restores the activation state from a saved replicate after checking
// that it describes the same well layout.
func (r *ClsReplicate) apply(s serializedClsReplicate) error {
	if r.SampleID != s.SampleID {
		return fmt.Errorf("cls: sample ids do not match: %q != %q", r.SampleID, s.SampleID)
	}
	if r.Condition != s.Condition {
		return fmt.Errorf("cls: conditions do not match: %q != %q", r.Condition, s.Condition)
	}
	if !intSlicesEqual(r.wellIndices, s.WellIndices) {
		return fmt.Errorf("cls: well indices of %s do not match", r.FullID())
	}
	return r.setActiveChildWellIndices(s.ActiveWellIndices)
}

func intSlicesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Save writes the analysis to a compressed file, with the plate paths stored
// relative to it. A warning status is returned when the filename does not
// carry the canonical extension.
func (c *Cls) Save(filename string) (*status.Status, error) {
	var st *status.Status
	if filepath.Ext(filename) != SavedClsExtension {
		st = status.New("Saving file", status.Warning,
			"the extension %q is not the canonical %q; tools expecting saved analyses may not open this file",
			filepath.Ext(filename), SavedClsExtension)
	}

	dir := filepath.Dir(filename)
	sr := serializedCls{
		Format:        savedClsFormat,
		FormatVersion: savedClsVersion,
		Days:          c.Days,
	}
	for _, f := range c.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return st, pfx.Err(err)
		}
		rel, err := filepath.Rel(dir, abs)
		if err != nil {
			return st, pfx.Err(err)
		}
		sr.Files = append(sr.Files, filepath.ToSlash(rel))
	}
	for _, w := range c.Wells {
		sr.ClsWells = append(sr.ClsWells, w.serialize())
	}
	for _, g := range c.ReplicateGroups {
		sr.ClsReplicateGroups = append(sr.ClsReplicateGroups, g.serialize())
	}

	f, err := os.Create(filename)
	if err != nil {
		return st, pfx.Err(err)
	}
	defer f.Close()
	zw := gzip.NewWriter(f)
	if err := json.NewEncoder(zw).Encode(sr); err != nil {
		zw.Close()
		return st, pfx.Err(err)
	}
	if err := zw.Close(); err != nil {
		return st, pfx.Err(err)
	}
	c.Modified = false
	return st, f.Close()
}

// LoadSaved reads an analysis previously written by Save, reloading the
// referenced plate files and restoring the well activation state.
func LoadSaved(filename string) (*Cls, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, &UnknownFormatError{Filename: filename, Detail: "not a compressed analysis file"}
	}
	defer zr.Close()

	var sr serializedCls
	if err := json.NewDecoder(zr).Decode(&sr); err != nil {
		return nil, &UnknownFormatError{Filename: filename, Detail: err.Error()}
	}
	if sr.Format == "opticaldensityplate" {
		return nil, &UnknownFormatError{Filename: filename,
			Detail: "this is a plate file; open it with the growth analyser or add it to a new life span analysis"}
	}
	if sr.Format != savedClsFormat || sr.FormatVersion != savedClsVersion {
		return nil, &UnknownFormatError{Filename: filename, Format: sr.Format, Version: sr.FormatVersion}
	}

	dir := filepath.Dir(filename)
	files := make([]string, len(sr.Files))
	for i, rf := range sr.Files {
		files[i] = filepath.Join(dir, filepath.FromSlash(rf))
	}

	c, err := New(files, sr.Days)
	if err != nil {
		return nil, err
	}

	if len(sr.ClsWells) != len(c.Wells) {
		return nil, fmt.Errorf("cls: %s: %d saved wells but %d on the plates",
			filename, len(sr.ClsWells), len(c.Wells))
	}
	if len(sr.ClsReplicateGroups) != len(c.ReplicateGroups) {
		return nil, fmt.Errorf("cls: %s: %d saved replicate groups but %d on the plates",
			filename, len(sr.ClsReplicateGroups), len(c.ReplicateGroups))
	}
	for i, s := range sr.ClsWells {
		if err := c.Wells[i].apply(s); err != nil {
			return nil, err
		}
	}
	for i, s := range sr.ClsReplicateGroups {
		if err := c.ReplicateGroups[i].apply(s); err != nil {
			return nil, err
		}
	}
	c.Modified = false
	return c, nil
}
