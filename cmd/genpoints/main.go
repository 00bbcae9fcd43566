// Command genpoints writes a deterministic complaint location fixture shaped
// like the complaints API feed. Records are scattered around a handful of
// hotspots in Digos City plus uniform background noise, and a few rows carry
// malformed coordinates so parsers and clustering can be exercised offline.
//
// Usage:
//
//	go run ./cmd/genpoints -out data/mock/complaint_locations.json -n 400
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/citizenlink/heatmap-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// generatedAt anchors submittedAt timestamps and recency weighting.
var generatedAt = time.Date(2025, time.March, 15, 8, 0, 0, 0, time.UTC)

type hotspot struct {
	name     string
	center   domain.LatLng
	spreadKm float64
	share    float64
	category string
}

var hotspots = []hotspot{
	{name: "Poblacion", center: domain.LatLng{Lat: 6.7497, Lng: 125.3572}, spreadKm: 0.35, share: 0.35, category: "infrastructure"},
	{name: "Zone 3", center: domain.LatLng{Lat: 6.7612, Lng: 125.3480}, spreadKm: 0.25, share: 0.2, category: "sanitation"},
	{name: "Tres de Mayo", center: domain.LatLng{Lat: 6.7735, Lng: 125.3351}, spreadKm: 0.4, share: 0.15, category: "traffic"},
	{name: "Aplaya", center: domain.LatLng{Lat: 6.7320, Lng: 125.3705}, spreadKm: 0.3, share: 0.1, category: "environment"},
}

var (
	statuses   = []string{"pending review", "new", "assigned", "in progress", "resolved", "closed", "rejected"}
	priorities = []string{"low", "medium", "high", "urgent"}
	categories = []string{"infrastructure", "sanitation", "traffic", "environment", "public safety"}
)

const kmPerDegree = 111.32

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the complaint location fixture")
	n := flag.Int("n", 400, "number of well-formed records")
	malformed := flag.Int("malformed", 5, "number of records with unusable coordinates")
	seed := flag.Uint64("seed", 42, "random seed")
	flag.Parse()

	if *out == "" || *n <= 0 || *malformed < 0 {
		flag.Usage()
		return fmt.Errorf("missing or invalid flags: -out, -n, -malformed")
	}

	// Fixed clock so heat weights in the summary are reproducible.
	domain.SetClock(clockwork.NewFakeClockAt(generatedAt))
	defer domain.SetClock(nil)

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	records := generate(rng, *n, *malformed)

	if err := writeJSON(*out, records); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote %d records: %s", len(records), *out)

	points, dropped := domain.ParseComplaintRecords(records, slog.Default())
	printStats(points, dropped)
	return nil
}

func generate(rng *rand.Rand, n, malformed int) []domain.ComplaintRecord {
	records := make([]domain.ComplaintRecord, 0, n+malformed)
	for i := range n {
		rec := domain.ComplaintRecord{
			ID:          fmt.Sprintf("CLN-%05d", i+1),
			Status:      statuses[rng.IntN(len(statuses))],
			Priority:    priorities[rng.IntN(len(priorities))],
			SubmittedAt: generatedAt.Add(-time.Duration(rng.IntN(60*24)) * time.Hour).Format(time.RFC3339),
		}

		pos, spot := samplePosition(rng)
		rec.Category = categories[rng.IntN(len(categories))]
		rec.Location = "Digos City"
		if spot != nil {
			// Hotspots are dominated by one category.
			if rng.Float64() < 0.7 {
				rec.Category = spot.category
			}
			rec.Location = spot.name + ", Digos City"
		}
		rec.Title = fmt.Sprintf("%s report #%d", rec.Category, i+1)
		rec.Department = departmentFor(rec.Category)
		rec.Departments = []string{rec.Department}

		// Alternate numeric and string coordinates like the live feed does.
		if i%3 == 0 {
			rec.Lat = json.RawMessage(strconv.Quote(strconv.FormatFloat(pos.Lat, 'f', 6, 64)))
			rec.Lng = json.RawMessage(strconv.Quote(strconv.FormatFloat(pos.Lng, 'f', 6, 64)))
		} else {
			rec.Lat = json.RawMessage(strconv.FormatFloat(pos.Lat, 'f', 6, 64))
			rec.Lng = json.RawMessage(strconv.FormatFloat(pos.Lng, 'f', 6, 64))
		}
		records = append(records, rec)
	}

	bad := []struct{ lat, lng string }{
		{`null`, `125.35`},
		{`"abc"`, `125.35`},
		{`6.75`, `""`},
		{`91.2`, `125.35`},
		{`6.75`, `-181`},
	}
	for i := range malformed {
		b := bad[i%len(bad)]
		records = append(records, domain.ComplaintRecord{
			ID:          fmt.Sprintf("CLN-BAD-%03d", i+1),
			Title:       "unplotted report",
			Status:      "new",
			Priority:    "medium",
			Lat:         json.RawMessage(b.lat),
			Lng:         json.RawMessage(b.lng),
			SubmittedAt: generatedAt.Format(time.RFC3339),
		})
	}
	return records
}

// samplePosition picks a hotspot by share, or the city-wide background when
// the draw falls past the last share.
func samplePosition(rng *rand.Rand) (domain.LatLng, *hotspot) {
	r := rng.Float64()
	for i := range hotspots {
		h := &hotspots[i]
		if r < h.share {
			return jitter(rng, h.center, h.spreadKm), h
		}
		r -= h.share
	}
	center := domain.LatLng{Lat: 6.7550, Lng: 125.3500}
	return domain.LatLng{
		Lat: center.Lat + (rng.Float64()-0.5)*6/kmPerDegree,
		Lng: center.Lng + (rng.Float64()-0.5)*6/(kmPerDegree*math.Cos(center.Lat*math.Pi/180)),
	}, nil
}

func jitter(rng *rand.Rand, center domain.LatLng, spreadKm float64) domain.LatLng {
	dLat := rng.NormFloat64() * spreadKm / kmPerDegree
	dLng := rng.NormFloat64() * spreadKm / (kmPerDegree * math.Cos(center.Lat*math.Pi/180))
	return domain.LatLng{Lat: center.Lat + dLat, Lng: center.Lng + dLng}
}

func departmentFor(category string) string {
	switch category {
	case "infrastructure":
		return "CEO"
	case "sanitation":
		return "CENRO"
	case "traffic":
		return "TMU"
	case "environment":
		return "CENRO"
	default:
		return "PNP"
	}
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func printStats(points []domain.ComplaintPoint, dropped int) {
	byCategory := map[string]int{}
	byStatus := map[string]int{}
	var weight float64
	for _, p := range points {
		byCategory[p.Category]++
		byStatus[domain.NormalizeStatus(p.Status)]++
		weight += domain.HeatWeight(p)
	}

	fmt.Printf("\nparsed: %d, dropped: %d\n", len(points), dropped)
	if len(points) > 0 {
		fmt.Printf("mean heat weight: %.3f\n", weight/float64(len(points)))
	}
	printCounts("category", byCategory)
	printCounts("status", byStatus)
}

func printCounts(label string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("\nby %s:\n", label)
	for _, k := range keys {
		fmt.Printf("  %-16s %d\n", k, counts[k])
	}
}
