// clscli aggregates a series of saved plates into a chronological life span
// analysis: per-day viabilities and the survival integral of every
// sample/condition. It reads either one saved analysis (.cat) or several
// saved plates (.gat) with one -day flag per plate.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/gathode/platereader/cls"
)

// dayFlags collects the repeated -day flags.
type dayFlags []float64

func (d *dayFlags) String() string {
	parts := make([]string, len(*d))
	for i, v := range *d {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (d *dayFlags) Set(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid day %q: %v", s, err)
	}
	*d = append(*d, v)
	return nil
}

func main() {
	var days dayFlags
	var survival, catout string
	flag.Var(&days, "day", "Starvation day of the corresponding plate file (repeat once per plate)")
	flag.StringVar(&survival, "survival", "", "Write viabilities and survival integrals as CSV to this file")
	flag.StringVar(&catout, "cat", "", "Save the analysis to this file")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: clscli [flags] analysis.cat | plate0.gat plate1.gat ...")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if survival == "" && catout == "" {
		fmt.Fprintln(os.Stderr, "nothing to do: give -survival or -cat")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := run(flag.Args(), days, survival, catout); err != nil {
		log.Fatalln(err)
	}
}

func run(infiles []string, days []float64, survival, catout string) error {
	var c *cls.Cls
	var err error
	if len(infiles) == 1 && strings.HasSuffix(infiles[0], cls.SavedClsExtension) {
		if len(days) > 0 {
			return fmt.Errorf("-day only applies when loading plate files, %q already carries its days", infiles[0])
		}
		c, err = cls.LoadSaved(infiles[0])
	} else {
		c, err = cls.New(infiles, days)
	}
	if err != nil {
		return err
	}
	log.Printf("loaded %d plates spanning days %v: %d replicate groups",
		len(c.Plates), c.Days, len(c.ReplicateGroups))

	if survival != "" {
		f, err := os.Create(survival)
		if err != nil {
			return err
		}
		if err := c.WriteSurvival(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		log.Println("wrote survival data to", survival)
	}

	if catout != "" {
		st, err := c.Save(catout)
		if err != nil {
			return err
		}
		if !st.IsEmpty() {
			log.Println(st.Message())
		}
		log.Println("saved analysis to", catout)
	}
	return nil
}
