// Command gen-reviews writes a synthetic review feed in JSONL form,
// suitable as input for the batch runner. The feed carries stable
// per-product baselines plus optional injected shocks, so detector and
// estimator output can be checked against known ground truth.
package main

import (
	"errors"
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/veyra/demandlens/internal/adapters/dataset"
	"github.com/veyra/demandlens/internal/domain/period"
	"github.com/veyra/demandlens/internal/synthetic"
)

// Default feed shape constants.
const (
	defaultSeed        = 1
	defaultSegments    = 2
	defaultProducts    = 8
	defaultPeriods     = 16
	defaultReviews     = 12
	defaultGranularity = "week"
)

func main() {
	var (
		seed        = flag.Int64("seed", defaultSeed, "Deterministic RNG seed")
		segments    = flag.Int("segments", defaultSegments, "Number of market segments")
		products    = flag.Int("products", defaultProducts, "Products per segment")
		periods     = flag.Int("periods", defaultPeriods, "Number of calendar periods")
		reviews     = flag.Int("reviews", defaultReviews, "Baseline reviews per product per period")
		granularity = flag.String("granularity", defaultGranularity, "Period granularity: day, week, or month")
		drop        = flag.String("drop", "", "Rating-drop injection as product:period:delta:volume_factor (e.g. segment-00-prod-00:7:1.5:0.5)")
		output      = flag.String("output", "", "Output file (default: stdout)")
	)
	flag.Parse()

	gr, err := period.Parse(*granularity)
	if err != nil {
		fatal("invalid granularity: " + err.Error())
	}

	opts := []synthetic.Option{
		synthetic.WithSeed(*seed),
		synthetic.WithSegments(*segments),
		synthetic.WithProductsPerSegment(*products),
		synthetic.WithPeriods(*periods),
		synthetic.WithReviewsPerPeriod(*reviews),
		synthetic.WithGranularity(gr),
	}
	if *drop != "" {
		inj, err := parseDrop(*drop)
		if err != nil {
			fatal("invalid -drop: " + err.Error())
		}
		opts = append(opts, synthetic.WithInjections(inj))
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fatal("create output: " + err.Error())
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	records := synthetic.NewGenerator(opts...).Generate()
	if err := dataset.WriteRecordsJSONL(out, records); err != nil {
		fatal("write feed: " + err.Error())
	}
}

// parseDrop parses product:period:delta:volume_factor.
func parseDrop(s string) (synthetic.Injection, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return synthetic.Injection{}, errors.New("want product:period:delta:volume_factor")
	}
	periodIdx, err := strconv.Atoi(parts[1])
	if err != nil {
		return synthetic.Injection{}, err
	}
	delta, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return synthetic.Injection{}, err
	}
	volume, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return synthetic.Injection{}, err
	}
	return synthetic.RatingDrop(parts[0], periodIdx, delta, volume), nil
}

func fatal(msg string) {
	os.Stderr.WriteString(msg + "\n")
	os.Exit(1)
}
