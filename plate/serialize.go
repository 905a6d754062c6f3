package plate

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
	savedPlateFormat  = "opticaldensityplate"
	savedPlateVersion = "1"

	// SavedPlateExtension is the canonical extension for saved plates.
	SavedPlateExtension = ".gat"
)

// UnknownFormatError is returned when a file is not a saved plate of a
// supported version.
type UnknownFormatError struct {
	Filename string
	Format   string
	Version  string
	Detail   string
}

func (e *UnknownFormatError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("plate: %s: %s", e.Filename, e.Detail)
	}
	return fmt.Sprintf("plate: %s: unsupported format %q version %q", e.Filename, e.Format, e.Version)
}

type serializedPlate struct {
	Format        string    `json:"format"`
	FormatVersion string    `json:"formatversion"`
	PlateID       string    `json:"plateId"`
	Time          []float64 `json:"time"`
	TimeUnit      string    `json:"timeunit"`
	Temperature   []float64 `json:"temperature,omitempty"`

	LogOdCutoff                              *float64 `json:"logOdCutoff"`
	LagAtLogOdEquals                         *float64 `json:"lagAtLogOdEquals"`
	SlidingWindowSize                        int      `json:"slidingWindowSize"`
	HDCorrectionLinear                       float64  `json:"hdCorrectionLinear"`
	HDCorrectionQuadratic                    float64  `json:"hdCorrectionQuadratic"`
	HDCorrectionCubic                        float64  `json:"hdCorrectionCubic"`
	SmoothingWindow                          int      `json:"smoothingWindow"`
	SmoothingDegree                          int      `json:"smoothingDegree"`
	MaxGrowthLowerTimeCutoff                 *float64 `json:"maxGrowthLowerTimeCutoff"`
	MaxGrowthUpperTimeCutoff                 *float64 `json:"maxGrowthUpperTimeCutoff"`
	AllowMaxGrowthrateAtLowerCutoff          bool     `json:"allowMaxGrowthrateAtLowerCutoff"`
	AllowGrowthyieldSlopeNStderrAwayFromZero int      `json:"allowGrowthyieldSlopeNStderrAwayFromZero"`

	RawOd           [][]float64            `json:"rawOd"`
	Wells           []serializedReplicate  `json:"wells"`
	ReplicateGroups []serializedReplicate  `json:"replicateGroup"`
}

type serializedReplicate struct {
	SampleID          string   `json:"sampleId"`
	Condition         string   `json:"condition"`
	WellIDs           []string `json:"wellIds"`
	WellIndices       []int    `json:"wellIndices"`
	ActiveWellIndices []int    `json:"activeWellIndices"`
	BackgroundIndex   *int     `json:"backgroundIndex"`

	MaxGrowthLowerTimeCutoff                 *float64 `json:"maxGrowthLowerTimeCutoff,omitempty"`
	MaxGrowthUpperTimeCutoff                 *float64 `json:"maxGrowthUpperTimeCutoff,omitempty"`
	AllowMaxGrowthrateAtLowerCutoff          *bool    `json:"allowMaxGrowthrateAtLowerCutoff,omitempty"`
	AllowGrowthyieldSlopeNStderrAwayFromZero *int     `json:"allowGrowthyieldSlopeNStderrAwayFromZero,omitempty"`
}

// isSavedPlate sniffs the gzip magic bytes.
func isSavedPlate(filename string) bool {
	f, err := os.Open(filename)
	if err != nil {
		return false
	}
	defer f.Close()
	var magic [2]byte
	if _, err := f.Read(magic[:]); err != nil {
		return false
	}
	return magic[0] == 0x1f && magic[1] == 0x8b
}

func (r *Replicate) serialize(p *Plate) serializedReplicate {
	return serializedReplicate{
		SampleID:          r.SampleID,
		Condition:         r.Condition,
		WellIDs:           r.WellIDs,
		WellIndices:       r.wellIndices,
		ActiveWellIndices: r.activeWellIndices,
		BackgroundIndex:   p.indexOfReplicateGroup(r.background),

		MaxGrowthLowerTimeCutoff:                 r.over.MaxGrowthLowerTimeCutoff,
		MaxGrowthUpperTimeCutoff:                 r.over.MaxGrowthUpperTimeCutoff,
		AllowMaxGrowthrateAtLowerCutoff:          r.over.AllowMaxGrowthrateAtLowerCutoff,
		AllowGrowthyieldSlopeNStderrAwayFromZero: r.over.AllowGrowthyieldSlopeNStderrAwayFromZero,
	}
}

func (p *Plate) indexOfReplicateGroup(g *Replicate) *int {
	if g == nil {
		return nil
	}
	for i, candidate := range p.ReplicateGroups {
		if candidate == g {
			idx := i
			return &idx
		}
	}
	return nil
}

// Save writes the plate to a compressed file. A warning status is returned
// when the filename does not carry the canonical extension.
func (p *Plate) Save(filename string) (*status.Status, error) {
	var st *status.Status
	if filepath.Ext(filename) != SavedPlateExtension {
		st = status.New("Saving file", status.Warning,
			"the extension %q is not the canonical %q; tools expecting saved plates may not open this file",
			filepath.Ext(filename), SavedPlateExtension)
	}

	sr := serializedPlate{
		Format:        savedPlateFormat,
		FormatVersion: savedPlateVersion,
		PlateID:       p.ID,
		Time:          p.Time,
		TimeUnit:      p.TimeUnit,
		Temperature:   p.Temperature,

		LogOdCutoff:                              p.Params.LogOdCutoff,
		LagAtLogOdEquals:                         p.Params.LagAtLogOdEquals,
		SlidingWindowSize:                        p.Params.SlidingWindowSize,
		HDCorrectionLinear:                       p.Params.HDCorrectionLinear,
		HDCorrectionQuadratic:                    p.Params.HDCorrectionQuadratic,
		HDCorrectionCubic:                        p.Params.HDCorrectionCubic,
		SmoothingWindow:                          p.Params.SmoothingWindow,
		SmoothingDegree:                          p.Params.SmoothingDegree,
		MaxGrowthLowerTimeCutoff:                 p.Params.MaxGrowthLowerTimeCutoff,
		MaxGrowthUpperTimeCutoff:                 p.Params.MaxGrowthUpperTimeCutoff,
		AllowMaxGrowthrateAtLowerCutoff:          p.Params.AllowMaxGrowthrateAtLowerCutoff,
		AllowGrowthyieldSlopeNStderrAwayFromZero: p.Params.AllowGrowthyieldSlopeNStderrAwayFromZero,

		RawOd: p.rawOd,
	}
	for _, w := range p.Wells {
		sr.Wells = append(sr.Wells, w.serialize(p))
	}
	for _, g := range p.ReplicateGroups {
		sr.ReplicateGroups = append(sr.ReplicateGroups, g.serialize(p))
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
	return st, f.Close()
}

// LoadSaved reads a plate previously written by Save.
func LoadSaved(filename string) (*Plate, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, &UnknownFormatError{Filename: filename, Detail: "not a compressed plate file"}
	}
	defer zr.Close()

	var sr serializedPlate
	if err := json.NewDecoder(zr).Decode(&sr); err != nil {
		return nil, &UnknownFormatError{Filename: filename, Detail: err.Error()}
	}
	if sr.Format != savedPlateFormat || sr.FormatVersion != savedPlateVersion {
		return nil, &UnknownFormatError{Filename: filename, Format: sr.Format, Version: sr.FormatVersion}
	}

	p := &Plate{
		ID:          sr.PlateID,
		Time:        sr.Time,
		TimeUnit:    sr.TimeUnit,
		Temperature: sr.Temperature,
		Params: Params{
			LogOdCutoff:                              sr.LogOdCutoff,
			LagAtLogOdEquals:                         sr.LagAtLogOdEquals,
			SlidingWindowSize:                        sr.SlidingWindowSize,
			HDCorrectionLinear:                       sr.HDCorrectionLinear,
			HDCorrectionQuadratic:                    sr.HDCorrectionQuadratic,
			HDCorrectionCubic:                        sr.HDCorrectionCubic,
			SmoothingWindow:                          sr.SmoothingWindow,
			SmoothingDegree:                          sr.SmoothingDegree,
			MaxGrowthLowerTimeCutoff:                 sr.MaxGrowthLowerTimeCutoff,
			MaxGrowthUpperTimeCutoff:                 sr.MaxGrowthUpperTimeCutoff,
			AllowMaxGrowthrateAtLowerCutoff:          sr.AllowMaxGrowthrateAtLowerCutoff,
			AllowGrowthyieldSlopeNStderrAwayFromZero: sr.AllowGrowthyieldSlopeNStderrAwayFromZero,
		},
		rawOd: sr.RawOd,
	}

	deserialize := func(s serializedReplicate, isGroup bool) *Replicate {
		return &Replicate{
			SampleID:          s.SampleID,
			Condition:         s.Condition,
			WellIDs:           s.WellIDs,
			plate:             p,
			wellIndices:       s.WellIndices,
			activeWellIndices: s.ActiveWellIndices,
			isGroup:           isGroup,
			over: overrides{
				MaxGrowthLowerTimeCutoff:                 s.MaxGrowthLowerTimeCutoff,
				MaxGrowthUpperTimeCutoff:                 s.MaxGrowthUpperTimeCutoff,
				AllowMaxGrowthrateAtLowerCutoff:          s.AllowMaxGrowthrateAtLowerCutoff,
				AllowGrowthyieldSlopeNStderrAwayFromZero: s.AllowGrowthyieldSlopeNStderrAwayFromZero,
			},
		}
	}

	for _, s := range sr.Wells {
		p.Wells = append(p.Wells, deserialize(s, false))
	}
	for _, s := range sr.ReplicateGroups {
		g := deserialize(s, true)
		p.ReplicateGroups = append(p.ReplicateGroups, g)
		for _, wi := range g.wellIndices {
			if wi < 0 || wi >= len(p.Wells) {
				return nil, &UnknownFormatError{Filename: filename, Detail: fmt.Sprintf("well index %d out of range", wi)}
			}
			p.Wells[wi].groupParent = g
		}
	}

	resolveBackground := func(r *Replicate, s serializedReplicate) error {
		if s.BackgroundIndex == nil {
			return nil
		}
		if *s.BackgroundIndex < 0 || *s.BackgroundIndex >= len(p.ReplicateGroups) {
			return &UnknownFormatError{Filename: filename, Detail: fmt.Sprintf("background index %d out of range", *s.BackgroundIndex)}
		}
		r.background = p.ReplicateGroups[*s.BackgroundIndex]
		return nil
	}
	for i, s := range sr.Wells {
		if err := resolveBackground(p.Wells[i], s); err != nil {
			return nil, err
		}
	}
	for i, s := range sr.ReplicateGroups {
		if err := resolveBackground(p.ReplicateGroups[i], s); err != nil {
			return nil, err
		}
	}

	p.setBackgroundStatus()
	return p, nil
}
