// odcli extracts growth parameters from plate reader optical density
// measurements: maximal growth rate, lag time, doubling time and growth
// yield per sample/condition. It reads a previously saved plate or any
// supported reader export, and writes CSV tables or a saved plate.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strings"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/gathode/platereader/parser"
	"github.com/gathode/platereader/plate"
	"github.com/montanaflynn/stats"
)

func main() {
	var csvout, timeseries, gatout string
	var singleWells, hist, listFormats bool
	var smoothingWindow, smoothingDegree, slidingWindow int
	var hdlin, hdquad, hdcub float64
	var logOdCutoff, lagAtLogOdEquals, lowerTimeCutoff, upperTimeCutoff float64
	var allowAtLowerCutoff bool
	var yieldNStderr int

	flag.StringVar(&csvout, "csvout", "", "Write the growth parameters as CSV to this file")
	flag.StringVar(&timeseries, "timeseries", "", "Write the background corrected densities as CSV to this file")
	flag.StringVar(&gatout, "gat", "", "Save the plate to this file")
	flag.BoolVar(&singleWells, "singlewells", false, "Report single wells instead of averaged replicate groups")
	flag.BoolVar(&hist, "hist", false, "Print a histogram of the maximal growth rates")
	flag.BoolVar(&listFormats, "formats", false, "List the supported plate reader export formats and exit")
	flag.IntVar(&smoothingWindow, "smoothingwindow", 11, "Window size of the local polynomial smoothing")
	flag.IntVar(&smoothingDegree, "smoothingdegree", 3, "Degree of the local polynomial smoothing")
	flag.IntVar(&slidingWindow, "window", 10, "Size of the sliding window of the exponential fits")
	flag.Float64Var(&hdlin, "hdlin", 1, "High density correction, linear term")
	flag.Float64Var(&hdquad, "hdquad", 0, "High density correction, quadratic term")
	flag.Float64Var(&hdcub, "hdcub", 0, "High density correction, cubic term")
	flag.Float64Var(&logOdCutoff, "logodcutoff", -5, "Cutoff applied to ln(OD) when locating the maximal growth rate")
	flag.Float64Var(&lagAtLogOdEquals, "lagatlogodequals", -5, "The lag is where the tangent of maximal growth crosses this ln(OD)")
	flag.Float64Var(&lowerTimeCutoff, "maxgrowthlowertimecutoff", 1, "Lower time cutoff (hours) for the maximal growth rate")
	flag.Float64Var(&upperTimeCutoff, "maxgrowthuppertimecutoff", math.Inf(1), "Upper time cutoff (hours) for the maximal growth rate")
	flag.BoolVar(&allowAtLowerCutoff, "allowmaxgrowthratelower", false, "Accept a maximal growth rate sitting at the lower cutoff")
	flag.IntVar(&yieldNStderr, "yieldnstderr", 1, "Accept yield windows whose slope is within n standard errors of zero")
	flag.Parse()

	if listFormats {
		fmt.Println("supported plate reader export formats:", strings.Join(parser.Formats(), ", "))
		return
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: odcli [flags] file.gat|reader-export")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if csvout == "" && timeseries == "" && gatout == "" && !hist {
		fmt.Fprintln(os.Stderr, "nothing to do: give -csvout, -timeseries, -gat or -hist")
		flag.PrintDefaults()
		os.Exit(1)
	}

	params := plate.DefaultParams()
	params.SmoothingWindow = smoothingWindow
	params.SmoothingDegree = smoothingDegree
	params.SlidingWindowSize = slidingWindow
	params.HDCorrectionLinear = hdlin
	params.HDCorrectionQuadratic = hdquad
	params.HDCorrectionCubic = hdcub
	params.LogOdCutoff = plate.Float(logOdCutoff)
	params.LagAtLogOdEquals = plate.Float(lagAtLogOdEquals)
	params.MaxGrowthLowerTimeCutoff = plate.Float(lowerTimeCutoff)
	if !math.IsInf(upperTimeCutoff, 1) {
		params.MaxGrowthUpperTimeCutoff = plate.Float(upperTimeCutoff)
	}
	params.AllowMaxGrowthrateAtLowerCutoff = allowAtLowerCutoff
	params.AllowGrowthyieldSlopeNStderrAwayFromZero = yieldNStderr

	if err := run(flag.Arg(0), params, csvout, timeseries, gatout, singleWells, hist); err != nil {
		log.Fatalln(err)
	}
}

func run(infile string, params plate.Params, csvout, timeseries, gatout string, singleWells, hist bool) error {
	p, err := plate.Load(infile, params)
	if err != nil {
		return err
	}
	log.Printf("loaded plate %q: %d wells, %d replicate groups, %d timepoints",
		p.ID, len(p.Wells), len(p.ReplicateGroups), len(p.Time))
	if st := p.LoadStatus(); !st.IsEmpty() {
		log.Println(st.Message())
	}

	if csvout != "" {
		if err := writeFile(csvout, func(f *os.File) error {
			return p.WriteGrowthParameters(f, singleWells)
		}); err != nil {
			return err
		}
		log.Println("wrote growth parameters to", csvout)
	}

	if timeseries != "" {
		if err := writeFile(timeseries, func(f *os.File) error {
			return p.WriteTimeSeries(f, singleWells)
		}); err != nil {
			return err
		}
		log.Println("wrote time series to", timeseries)
	}

	if gatout != "" {
		st, err := p.Save(gatout)
		if err != nil {
			return err
		}
		if !st.IsEmpty() {
			log.Println(st.Message())
		}
		log.Println("saved plate to", gatout)
	}

	if hist {
		if err := printGrowthRateHistogram(p, singleWells); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(filename string, write func(*os.File) error) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// printGrowthRateHistogram summarises the maximal growth rates of the plate
// on the terminal.
func printGrowthRateHistogram(p *plate.Plate, singleWells bool) error {
	replicates := p.NonBackgroundReplicateGroups()
	if singleWells {
		replicates = p.NonBackgroundWells()
	}

	var rates []float64
	for _, r := range replicates {
		res := r.MaxGrowthRate()
		if !res.Valid() {
			log.Printf("%s: %s", r.FullID(), res.Status.Message())
			continue
		}
		rates = append(rates, res.Mu)
	}
	if len(rates) == 0 {
		return fmt.Errorf("no maximal growth rate could be extracted for any replicate")
	}

	data := stats.LoadRawData(rates)
	mean, err := data.Mean()
	if err != nil {
		return err
	}
	median, err := data.Median()
	if err != nil {
		return err
	}
	sd, err := data.StandardDeviation()
	if err != nil {
		return err
	}
	fmt.Printf("maximal growth rates (1/h) of %d replicates: mean %.4g, median %.4g, sd %.4g\n",
		len(rates), mean, median, sd)

	buckets := 10
	if len(rates) < buckets {
		buckets = len(rates)
	}
	return histogram.Fprint(os.Stdout, histogram.Hist(buckets, rates), histogram.Linear(40))
}
