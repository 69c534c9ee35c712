// Package series builds the unified multi-field series: price history and
// every indicator series time-aligned into one ordered sequence.
package series

import (
	"sort"
	"time"

	"signalwatch/internal/indicator"
	"signalwatch/internal/model"
)

// Builder left-joins price and indicator histories on time buckets aligned
// to the feed's native granularity. Later values overwrite earlier ones for
// the same field in the same bucket (last-write-wins), so a point may gain
// fields as slower indicators catch up.
type Builder struct {
	granularity time.Duration
}

// New creates a builder with the given bucket granularity.
// Granularity below one second is clamped to one second.
func New(granularity time.Duration) *Builder {
	if granularity < time.Second {
		granularity = time.Second
	}
	return &Builder{granularity: granularity}
}

// Granularity returns the bucket size.
func (b *Builder) Granularity() time.Duration { return b.granularity }

// Build merges the price history and all indicator histories into one
// series, strictly ascending by bucket timestamp with no duplicates.
func (b *Builder) Build(prices []model.PricePoint, indicators map[string][]indicator.Sample) []model.UnifiedPoint {
	buckets := make(map[int64]map[string]float64)

	for _, p := range prices {
		fields := b.bucket(buckets, p.TS)
		fields[model.FieldPrice] = p.Price
	}
	for _, hist := range indicators {
		for _, s := range hist {
			fields := b.bucket(buckets, s.TS)
			for k, v := range s.Fields {
				fields[k] = v
			}
		}
	}

	out := make([]model.UnifiedPoint, 0, len(buckets))
	for ts, fields := range buckets {
		out = append(out, model.UnifiedPoint{
			TS:     time.Unix(0, ts).UTC(),
			Fields: fields,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

// bucket returns the field map for the bucket containing ts, creating it
// on first use.
func (b *Builder) bucket(buckets map[int64]map[string]float64, ts time.Time) map[string]float64 {
	key := ts.Truncate(b.granularity).UnixNano()
	fields, ok := buckets[key]
	if !ok {
		fields = make(map[string]float64, 8)
		buckets[key] = fields
	}
	return fields
}
