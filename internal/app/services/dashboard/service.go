// Package dashboard builds the cross-hospital monthly aggregate: per-metric
// values, month-over-month change and outliers.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/greenhospital/reporting/internal/app/domain/entry"
	"github.com/greenhospital/reporting/internal/app/domain/metric"
	"github.com/greenhospital/reporting/internal/app/domain/period"
	"github.com/greenhospital/reporting/internal/app/metrics"
	"github.com/greenhospital/reporting/internal/app/storage"
	"github.com/greenhospital/reporting/internal/cache"
	"github.com/greenhospital/reporting/pkg/logger"
)

// DefaultTTL is how long an aggregate is served from cache.
const DefaultTTL = 2 * time.Minute

// MetricValue is one hospital's value for one metric.
type MetricValue struct {
	Value    *float64 `json:"value"`
	Previous *float64 `json:"previous"`
	DeltaPct *float64 `json:"delta_pct"`
	Outlier  bool     `json:"outlier"`
}

// HospitalSummary is one hospital's row in the aggregate.
type HospitalSummary struct {
	HospitalID   string                 `json:"hospital_id"`
	HospitalName string                 `json:"hospital_name"`
	Submitted    bool                   `json:"submitted"`
	Metrics      map[string]MetricValue `json:"metrics"`
}

// MetricStats summarises one metric across hospitals.
type MetricStats struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Unit     string   `json:"unit"`
	Count    int      `json:"count"`
	Total    float64  `json:"total"`
	Mean     float64  `json:"mean"`
	StdDev   float64  `json:"stddev"`
	Outliers []string `json:"outliers"`
}

// Aggregate is the dashboard payload for one month.
type Aggregate struct {
	Month          string            `json:"month"`
	PreviousMonth  string            `json:"previous_month"`
	HospitalCount  int               `json:"hospital_count"`
	SubmittedCount int               `json:"submitted_count"`
	Hospitals      []HospitalSummary `json:"hospitals"`
	Metrics        []MetricStats     `json:"metrics"`
	GeneratedAt    time.Time         `json:"generated_at"`
}

// Service computes and caches aggregates.
type Service struct {
	hospitals storage.HospitalStore
	entries   storage.EntryStore
	catalog   metric.Catalog
	cache     cache.Cache
	ttl       time.Duration
	log       *logger.Logger
	now       func() time.Time
}

// New creates a dashboard service. A nil cache disables caching.
func New(hospitals storage.HospitalStore, entries storage.EntryStore, catalog metric.Catalog, c cache.Cache, ttl time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("dashboard")
	}
	if len(catalog) == 0 {
		catalog = metric.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		hospitals: hospitals,
		entries:   entries,
		catalog:   catalog,
		cache:     c,
		ttl:       ttl,
		log:       log,
		now:       time.Now,
	}
}

func cacheKey(m period.Month) string {
	return "dashboard:aggregate:" + m.String()
}

// Aggregate returns the aggregate for month m, from cache when fresh.
func (s *Service) Aggregate(ctx context.Context, m period.Month) (Aggregate, error) {
	if s.cache != nil {
		var cached Aggregate
		hit, err := cache.GetJSON(ctx, s.cache, cacheKey(m), &cached)
		if err != nil {
			s.log.WithError(err).Warn("dashboard cache read failed")
		}
		metrics.RecordCacheLookup(hit)
		if hit {
			return cached, nil
		}
	}

	start := time.Now()
	agg, err := s.compute(ctx, m)
	if err != nil {
		return Aggregate{}, err
	}
	metrics.ObserveAggregate(time.Since(start))

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, cacheKey(m), agg, s.ttl); err != nil {
			s.log.WithError(err).Warn("dashboard cache write failed")
		}
	}
	return agg, nil
}

// Invalidate drops cached aggregates affected by a change to month m: m
// itself and the following month, whose deltas compare against m.
func (s *Service) Invalidate(ctx context.Context, m period.Month) error {
	if s.cache == nil {
		return nil
	}
	for _, k := range []period.Month{m, m.Next()} {
		if err := s.cache.Delete(ctx, cacheKey(k)); err != nil {
			return fmt.Errorf("invalidate %s: %w", k, err)
		}
	}
	return nil
}

func (s *Service) compute(ctx context.Context, m period.Month) (Aggregate, error) {
	prev := m.Prev()
	hospitals, err := s.hospitals.ListHospitals(ctx)
	if err != nil {
		return Aggregate{}, fmt.Errorf("list hospitals: %w", err)
	}
	entries, err := s.entries.ListEntries(ctx, entry.Filter{From: prev.String(), To: m.String()})
	if err != nil {
		return Aggregate{}, fmt.Errorf("list entries: %w", err)
	}

	current := make(map[string]entry.Entry)
	previous := make(map[string]entry.Entry)
	for _, e := range entries {
		switch e.MonthYear {
		case m.String():
			current[e.HospitalID] = e
		case prev.String():
			previous[e.HospitalID] = e
		}
	}

	agg := Aggregate{
		Month:         m.String(),
		PreviousMonth: prev.String(),
		HospitalCount: len(hospitals),
		Hospitals:     make([]HospitalSummary, 0, len(hospitals)),
		Metrics:       make([]MetricStats, 0, len(s.catalog)),
		GeneratedAt:   s.now().UTC(),
	}

	for _, h := range hospitals {
		row := HospitalSummary{HospitalID: h.ID, HospitalName: h.Name, Metrics: make(map[string]MetricValue, len(s.catalog))}
		cur, hasCur := current[h.ID]
		old, hasOld := previous[h.ID]
		row.Submitted = hasCur && cur.Submitted
		if row.Submitted {
			agg.SubmittedCount++
		}
		for _, d := range s.catalog {
			var mv MetricValue
			var pv float64
			var okPrev bool
			if hasOld {
				if v, ok := old.Value(d.Key); ok {
					pv, okPrev = v, true
					mv.Previous = &pv
				}
			}
			if hasCur {
				if v, ok := cur.Value(d.Key); ok {
					cv := v
					mv.Value = &cv
					mv.DeltaPct = PercentChange(cv, pv, okPrev)
				}
			}
			row.Metrics[d.Key] = mv
		}
		agg.Hospitals = append(agg.Hospitals, row)
	}

	for _, d := range s.catalog {
		st := MetricStats{Key: d.Key, Label: d.Label, Unit: d.Unit, Outliers: []string{}}
		values := make([]float64, 0, len(agg.Hospitals))
		for _, row := range agg.Hospitals {
			if v := row.Metrics[d.Key].Value; v != nil {
				values = append(values, *v)
				st.Total += *v
			}
		}
		st.Count = len(values)
		st.Mean, st.StdDev = MeanStdDev(values)
		for i := range agg.Hospitals {
			row := &agg.Hospitals[i]
			mv := row.Metrics[d.Key]
			if mv.Value != nil && IsOutlier(*mv.Value, st.Mean, st.StdDev) {
				mv.Outlier = true
				row.Metrics[d.Key] = mv
				st.Outliers = append(st.Outliers, row.HospitalID)
			}
		}
		agg.Metrics = append(agg.Metrics, st)
	}

	s.log.WithField("month_year", m.String()).
		WithField("hospitals", len(hospitals)).
		Debug("dashboard aggregate computed")
	return agg, nil
}
