// Package anomaly flags statistical outliers in normalized time-series
// rows, per (entity, metric) group.
package anomaly

import (
	"math"
	"sort"
	"time"

	"github.com/ai4ops/fleet-mcp/pkg/backend"
	"github.com/ai4ops/fleet-mcp/pkg/normalize"
)

const (
	ClassificationNormal    = "normal"
	ClassificationAnomalous = "anomalous"

	// defaultRobustCutoff is the group size below which the baseline uses
	// median/MAD instead of mean/stddev.
	defaultRobustCutoff = 12

	// madScale makes the median absolute deviation comparable to a
	// standard deviation for normally distributed data.
	madScale = 1.4826
)

// Record is one classified time-series sample.
type Record struct {
	Entity         string  `json:"entity"`
	Metric         string  `json:"metric"`
	Timestamp      string  `json:"timestamp"`
	Observed       float64 `json:"observed"`
	Baseline       float64 `json:"baseline"`
	Deviation      float64 `json:"deviation"`
	Classification string  `json:"classification"`
}

// Keys names the row columns holding the sample dimensions.
type Keys struct {
	Entity string
	Metric string
	Time   string
	Value  string
}

// Detector classifies samples whose deviation from the group baseline
// exceeds Threshold (in stddev or scaled-MAD units). Groups with fewer
// than MinSamples samples report nothing: too few points to establish a
// baseline. Groups smaller than RobustCutoff use the median/MAD baseline,
// which one wild sample cannot drag.
type Detector struct {
	Threshold    float64
	MinSamples   int
	RobustCutoff int
}

// NewDetector builds a Detector with the default robust cutoff.
func NewDetector(threshold float64, minSamples int) *Detector {
	if threshold <= 0 {
		threshold = 3.0
	}
	if minSamples < 2 {
		minSamples = 2
	}
	return &Detector{
		Threshold:    threshold,
		MinSamples:   minSamples,
		RobustCutoff: defaultRobustCutoff,
	}
}

type sample struct {
	ts    time.Time
	value float64
	count int
}

// Detect groups rows by (entity, metric), averages samples sharing a
// timestamp, and returns one classified Record per sample. Output is
// ordered by (entity, metric, timestamp): deterministic for a fixed input
// and threshold.
func (d *Detector) Detect(rows []backend.Row, keys Keys) []Record {
	groups := make(map[[2]string][]sample)
	for _, row := range rows {
		entity, ok := normalize.String(row, keys.Entity)
		if !ok {
			continue
		}
		metric, ok := normalize.String(row, keys.Metric)
		if !ok {
			continue
		}
		ts, ok := normalize.RowTime(row, keys.Time)
		if !ok {
			continue
		}
		value, ok := normalize.Float(row, keys.Value)
		if !ok {
			continue
		}
		key := [2]string{entity, metric}
		groups[key] = append(groups[key], sample{ts: ts, value: value, count: 1})
	}

	groupKeys := make([][2]string, 0, len(groups))
	for key := range groups {
		groupKeys = append(groupKeys, key)
	}
	sort.Slice(groupKeys, func(i, j int) bool {
		if groupKeys[i][0] != groupKeys[j][0] {
			return groupKeys[i][0] < groupKeys[j][0]
		}
		return groupKeys[i][1] < groupKeys[j][1]
	})

	var records []Record
	for _, key := range groupKeys {
		records = append(records, d.detectGroup(key[0], key[1], groups[key])...)
	}
	return records
}

func (d *Detector) detectGroup(entity, metric string, samples []sample) []Record {
	samples = mergeDuplicateTimestamps(samples)
	if len(samples) < d.MinSamples {
		return nil
	}

	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.value
	}

	robustCutoff := d.RobustCutoff
	if robustCutoff <= 0 {
		robustCutoff = defaultRobustCutoff
	}

	var baseline, spread float64
	if len(samples) < robustCutoff {
		baseline = median(values)
		spread = madScale * mad(values, baseline)
	} else {
		baseline = mean(values)
		spread = stddev(values, baseline)
	}

	records := make([]Record, 0, len(samples))
	for _, s := range samples {
		deviation := 0.0
		if spread > 0 {
			deviation = math.Abs(s.value-baseline) / spread
		}
		classification := ClassificationNormal
		if deviation > d.Threshold {
			classification = ClassificationAnomalous
		}
		records = append(records, Record{
			Entity:         entity,
			Metric:         metric,
			Timestamp:      s.ts.UTC().Format(time.RFC3339),
			Observed:       s.value,
			Baseline:       baseline,
			Deviation:      deviation,
			Classification: classification,
		})
	}
	return records
}

// mergeDuplicateTimestamps sorts samples chronologically and averages those
// sharing an exact timestamp before classification.
func mergeDuplicateTimestamps(samples []sample) []sample {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].ts.Before(samples[j].ts)
	})
	merged := samples[:0:0]
	for _, s := range samples {
		if n := len(merged); n > 0 && merged[n-1].ts.Equal(s.ts) {
			prev := &merged[n-1]
			total := prev.value*float64(prev.count) + s.value
			prev.count++
			prev.value = total / float64(prev.count)
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// mad is the median absolute deviation around center.
func mad(values []float64, center float64) float64 {
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - center)
	}
	return median(devs)
}
