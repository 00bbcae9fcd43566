// Command clusterreport clusters a complaint location fixture offline and
// checks the result for structural integrity: every point lands in exactly
// one cluster or in noise, cluster summaries are consistent with their
// members, and repeated passes are identical.
//
// Usage:
//
//	go run ./cmd/clusterreport -in data/mock/complaint_locations.json
//	go run ./cmd/clusterreport -in data/mock/complaint_locations.json -eps 0.3 -min-pts 5
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"github.com/citizenlink/heatmap-service/internal/cluster"
	"github.com/citizenlink/heatmap-service/internal/domain"
)

// phase tracks pass/fail for a check phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	in := flag.String("in", "", "path to a complaint location JSON fixture")
	eps := flag.Float64("eps", 0, "neighbourhood radius in km (0 = suggest from data)")
	minPts := flag.Int("min-pts", 0, "minimum neighbourhood size (0 = suggest from data)")
	verbose := flag.Bool("v", false, "log skipped records")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(*in, *eps, *minPts, *verbose))
}

func run(path string, eps float64, minPts int, verbose bool) int {
	// Match genpoints so recency weights line up with the fixture.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2025, time.March, 15, 8, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose {
		logger = slog.Default()
	}

	fmt.Println("=== Complaint Clustering Report ===")
	fmt.Println()

	records, err := loadJSON[domain.ComplaintRecord](path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load fixture: %v\n", err)
		return 1
	}
	points, skipped := domain.ParseComplaintRecords(records, logger)

	params := cluster.SuggestParams(domain.Positions(points))
	source := "suggested"
	if eps > 0 {
		params.Eps = eps
		source = "explicit"
	}
	if minPts > 0 {
		params.MinPts = minPts
		source = "explicit"
	}

	engine, err := cluster.NewEngine(params, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	start := time.Now()
	res, err := engine.Cluster(points)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: cluster: %v\n", err)
		return 1
	}
	elapsed := time.Since(start)

	again, err := engine.Cluster(points)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: cluster: %v\n", err)
		return 1
	}

	phases := []*phase{
		checkPartition(res),
		checkSummaries(res),
		checkDeterminism(res, again),
	}

	fmt.Printf("Records: %d read, %d parsed, %d skipped\n", len(records), len(points), skipped)
	fmt.Printf("Params (%s): eps=%.3f km, minPts=%d\n", source, params.Eps, params.MinPts)
	fmt.Printf("Clustering took %s\n\n", elapsed.Round(time.Microsecond))
	printClusters(res)

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-32s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll checks passed.")
		return 0
	}
	fmt.Println("\nChecks FAILED.")
	return 1
}

// checkPartition verifies every point appears exactly once across clusters
// and noise, and that labels agree with membership.
func checkPartition(res cluster.Result) *phase {
	p := &phase{name: "Partition"}

	if len(res.Labels) != len(res.Points) {
		p.errorf("labels: got %d, want %d", len(res.Labels), len(res.Points))
		return p
	}

	seen := make([]int, len(res.Points))
	for _, c := range res.Clusters {
		for _, m := range c.Members {
			seen[m]++
			if res.Labels[m] != c.ID {
				p.errorf("point %d: label %d, member of cluster %d", m, res.Labels[m], c.ID)
			}
		}
	}
	for _, m := range res.Noise {
		seen[m]++
		if res.Labels[m] != cluster.Noise {
			p.errorf("point %d: label %d, listed as noise", m, res.Labels[m])
		}
	}
	for i, n := range seen {
		if n != 1 {
			p.errorf("point %d (%s): assigned %d times", i, res.Points[i].ID, n)
		}
	}
	return p
}

func checkSummaries(res cluster.Result) *phase {
	p := &phase{name: "Cluster summaries"}

	for i, c := range res.Clusters {
		if c.ID != i {
			p.errorf("cluster at index %d has id %d", i, c.ID)
		}
		if c.Size() == 0 {
			p.errorf("cluster %d: empty", c.ID)
		}
		if !c.Centroid.Valid() {
			p.errorf("cluster %d: invalid centroid %+v", c.ID, c.Centroid)
		}
		if c.RadiusKm < 0 || c.DensityPerKm2 <= 0 {
			p.errorf("cluster %d: radius %.4f km, density %.4f", c.ID, c.RadiusKm, c.DensityPerKm2)
		}
		if c.ColorIndex != c.ID%cluster.PaletteSize {
			p.errorf("cluster %d: colour index %d", c.ID, c.ColorIndex)
		}
		total := 0
		for _, n := range c.StatusCounts {
			total += n
		}
		if total != c.Size() {
			p.errorf("cluster %d: status counts sum to %d, size %d", c.ID, total, c.Size())
		}
		for _, m := range c.Members {
			if d := domain.Haversine(c.Centroid, res.Points[m].Position()); d > c.RadiusKm+1e-9 {
				p.errorf("cluster %d: member %d is %.4f km out, radius %.4f", c.ID, m, d, c.RadiusKm)
			}
		}
	}
	return p
}

func checkDeterminism(a, b cluster.Result) *phase {
	p := &phase{name: "Determinism"}
	if diff := cmp.Diff(a.Labels, b.Labels); diff != "" {
		p.errorf("labels differ between passes (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(a.Stats(), b.Stats()); diff != "" {
		p.errorf("stats differ between passes (-first +second):\n%s", diff)
	}
	return p
}

func printClusters(res cluster.Result) {
	s := res.Stats()
	fmt.Printf("Clusters: %d, noise: %d, excluded: %d, largest: %d, mean size: %.1f\n",
		s.Clusters, s.NoisePoints, s.Excluded, s.LargestCluster, s.MeanClusterSize)
	for _, c := range res.Clusters {
		fmt.Printf("  #%-3d size=%-4d centroid=(%.5f, %.5f) radius=%.3fkm density=%.1f/km2 category=%s\n",
			c.ID, c.Size(), c.Centroid.Lat, c.Centroid.Lng, c.RadiusKm, c.DensityPerKm2, c.DominantCategory)
	}
}

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}
