package plate

// Params holds the analysis parameters of a plate. The time cutoffs and the
// two allow-flags can additionally be overridden per replicate; the rest
// apply plate-wide.
type Params struct {
	// LogOdCutoff masks timepoints whose ln(OD) lies below it when locating
	// the maximal growth rate. Nil disables the mask.
	LogOdCutoff *float64

	// LagAtLogOdEquals is the ln(OD) level whose crossing time defines the
	// lag. Nil disables lag extraction.
	LagAtLogOdEquals *float64

	// SlidingWindowSize is the number of datapoints per fit window.
	SlidingWindowSize int

	// High-density correction polynomial, applied to the background
	// subtracted raw density: od = l*d + q*d^2 + c*d^3.
	HDCorrectionLinear    float64
	HDCorrectionQuadratic float64
	HDCorrectionCubic     float64

	// Local polynomial smoother settings.
	SmoothingWindow int
	SmoothingDegree int

	// Growth rate maxima outside [lower, upper] are ignored. Nil disables
	// the respective bound.
	MaxGrowthLowerTimeCutoff *float64
	MaxGrowthUpperTimeCutoff *float64

	// AllowMaxGrowthrateAtLowerCutoff downgrades a maximum sitting at the
	// lower edge of the usable range from a failure to a warning.
	AllowMaxGrowthrateAtLowerCutoff bool

	// AllowGrowthyieldSlopeNStderrAwayFromZero is the largest multiple of
	// the slope standard error still accepted as "flat" when searching for
	// the yield plateau.
	AllowGrowthyieldSlopeNStderrAwayFromZero int
}

// DefaultParams returns the analysis defaults.
func DefaultParams() Params {
	return Params{
		LagAtLogOdEquals:                         Float(-5),
		SlidingWindowSize:                        10,
		HDCorrectionLinear:                       1,
		HDCorrectionQuadratic:                    0,
		HDCorrectionCubic:                        0,
		SmoothingWindow:                          11,
		SmoothingDegree:                          3,
		AllowMaxGrowthrateAtLowerCutoff:          false,
		AllowGrowthyieldSlopeNStderrAwayFromZero: 1,
	}
}

// Float returns a pointer to v, for the optional parameters.
func Float(v float64) *float64 { return &v }

// overrides carries the per-replicate parameter overrides; a nil field
// inherits the plate-wide value.
type overrides struct {
	MaxGrowthLowerTimeCutoff                 *float64
	MaxGrowthUpperTimeCutoff                 *float64
	AllowMaxGrowthrateAtLowerCutoff          *bool
	AllowGrowthyieldSlopeNStderrAwayFromZero *int
}
