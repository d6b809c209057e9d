// Package uptime groups daily uptime samples into calendar buckets.
package uptime

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Granularity selects the calendar bucket used by Group.
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
	Year  Granularity = "year"
)

var ErrUnknownGranularity = errors.New("unknown granularity")

// ParseGranularity accepts day, week, month or year (case insensitive). Empty means day.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case "":
		return Day, nil
	case Day, Week, Month, Year:
		return g, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownGranularity, s)
	}
}

// Sample is one uptime measurement.
type Sample struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Point is one grouped bucket.
type Point struct {
	Label   string    `json:"label"`
	Start   time.Time `json:"start"`
	Average float64   `json:"average"`
	Samples int       `json:"samples"`
}

// Series is the grouped history with global statistics over its points.
type Series struct {
	Granularity Granularity `json:"granularity"`
	Points      []Point     `json:"points"`
	Min         float64     `json:"min"`
	Max         float64     `json:"max"`
	Average     float64     `json:"average"`
}

// ParseSamples converts raw (date, value) rows. Rows whose date does not parse
// as YYYY-MM-DD or RFC 3339, or whose value is not finite, are dropped and counted.
func ParseSamples(rows map[string]float64) (samples []Sample, rejected int) {
	for raw, v := range rows {
		d, ok := parseDate(raw)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			rejected++
			continue
		}
		samples = append(samples, Sample{Date: d, Value: v})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Date.Before(samples[j].Date) })
	return samples, rejected
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if d, err := time.Parse("2006-01-02", raw); err == nil {
		return d, true
	}
	if d, err := time.Parse(time.RFC3339, raw); err == nil {
		return d.UTC(), true
	}
	return time.Time{}, false
}

// BucketStart returns the first instant of the bucket containing t.
// Weeks are ISO weeks starting on Monday.
func BucketStart(t time.Time, g Granularity) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	switch g {
	case Week:
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	case Month:
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	case Year:
		return time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

// Label formats the bucket key for t.
func Label(t time.Time, g Granularity) string {
	switch g {
	case Week:
		y, w := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", y, w)
	case Month:
		return t.Format("2006-01")
	case Year:
		return t.Format("2006")
	default:
		return t.Format("2006-01-02")
	}
}

// Group averages the samples of each bucket. Samples with a zero date are skipped.
func Group(samples []Sample, g Granularity) (Series, error) {
	switch g {
	case Day, Week, Month, Year:
	default:
		return Series{}, fmt.Errorf("%w: %q", ErrUnknownGranularity, g)
	}

	type acc struct {
		start time.Time
		sum   float64
		n     int
	}
	buckets := make(map[string]*acc)
	for _, s := range samples {
		if s.Date.IsZero() || math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			continue
		}
		key := Label(s.Date, g)
		b, ok := buckets[key]
		if !ok {
			b = &acc{start: BucketStart(s.Date, g)}
			buckets[key] = b
		}
		b.sum += s.Value
		b.n++
	}

	series := Series{Granularity: g, Points: make([]Point, 0, len(buckets))}
	for key, b := range buckets {
		series.Points = append(series.Points, Point{
			Label:   key,
			Start:   b.start,
			Average: round2(b.sum / float64(b.n)),
			Samples: b.n,
		})
	}
	sort.Slice(series.Points, func(i, j int) bool {
		return series.Points[i].Start.Before(series.Points[j].Start)
	})

	if len(series.Points) == 0 {
		return series, nil
	}
	series.Min = math.Inf(1)
	series.Max = math.Inf(-1)
	var total float64
	for _, p := range series.Points {
		series.Min = math.Min(series.Min, p.Average)
		series.Max = math.Max(series.Max, p.Average)
		total += p.Average
	}
	series.Average = round2(total / float64(len(series.Points)))
	return series, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
