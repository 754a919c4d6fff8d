// Package bills turns the flat list of bill records into grouped chart series.
package bills

import (
	"context"
	"strconv"

	log "github.com/sirupsen/logrus"

	"dashboard/domain"
	"dashboard/session"
)

// Period is one chart series: a year with its legend label and colour.
type Period struct {
	Year  int    `json:"year" yaml:"year"`
	Label string `json:"label" yaml:"label"`
	Color string `json:"color" yaml:"color"`
}

var palette = []string{
	"rgba(53, 162, 235, 0.7)",
	"rgba(255, 99, 132, 0.7)",
	"rgba(75, 192, 192, 0.7)",
	"rgba(255, 159, 64, 0.7)",
	"rgba(153, 102, 255, 0.7)",
}

// DefaultPeriods returns the series shown when nothing is configured.
func DefaultPeriods() []Period {
	return PeriodsForYears([]int{2025, 2026})
}

// PeriodsForYears labels and colours the given years in order.
func PeriodsForYears(years []int) []Period {
	out := make([]Period, 0, len(years))
	for i, y := range years {
		out = append(out, Period{Year: y, Label: "Costs " + strconv.Itoa(y), Color: palette[i%len(palette)]})
	}
	return out
}

// Dataset is the series of sums for one period, aligned with Chart.Labels.
type Dataset struct {
	Label           string    `json:"label"`
	Year            int       `json:"year"`
	Data            []float64 `json:"data"`
	BackgroundColor string    `json:"backgroundColor"`
}

// Chart is a grouped bar chart: one group per category, one bar per period.
type Chart struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Aggregate sums bill amounts per category and period. Categories keep the
// order in which they first appear. Every category gets a value in every
// period, zero when there are no matching bills. An empty list is not ready
// and yields false.
func Aggregate(list []domain.Bill, periods []Period) (Chart, bool) {
	if len(list) == 0 {
		return Chart{}, false
	}

	index := make(map[string]int)
	labels := make([]string, 0)
	for _, b := range list {
		if _, ok := index[b.Category]; ok {
			continue
		}
		index[b.Category] = len(labels)
		labels = append(labels, b.Category)
	}

	chart := Chart{Labels: labels, Datasets: make([]Dataset, 0, len(periods))}
	for _, p := range periods {
		data := make([]float64, len(labels))
		for _, b := range list {
			if b.Period() != p.Year {
				continue
			}
			data[index[b.Category]] += b.Amount.Float()
		}
		chart.Datasets = append(chart.Datasets, Dataset{Label: p.Label, Year: p.Year, Data: data, BackgroundColor: p.Color})
	}
	return chart, true
}

// Totals returns the grand total of each period, in period order.
func Totals(list []domain.Bill, periods []Period) []float64 {
	out := make([]float64, len(periods))
	for i, p := range periods {
		for _, b := range list {
			if b.Period() == p.Year {
				out[i] += b.Amount.Float()
			}
		}
	}
	return out
}

// Source lists bill records.
type Source interface {
	ListBills(ctx context.Context, s session.Session) ([]domain.Bill, error)
}

// Service fetches bills and aggregates them into a chart.
type Service struct {
	src     Source
	periods []Period
	log     *log.Logger
}

// NewService creates a Service. Empty periods fall back to DefaultPeriods.
func NewService(src Source, periods []Period, logger *log.Logger) *Service {
	if len(periods) == 0 {
		periods = DefaultPeriods()
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{src: src, periods: periods, log: logger}
}

// Periods returns the configured periods.
func (s *Service) Periods() []Period {
	return append([]Period(nil), s.periods...)
}

// Report is the chart together with the per-period totals shown in its
// legend. Ready is false while there are no bills to show.
type Report struct {
	Ready  bool      `json:"ready"`
	Chart  Chart     `json:"chart"`
	Totals []float64 `json:"totals"`
}

// Report fetches the bills visible to sess and aggregates them. A failed fetch
// is returned together with a not-ready report.
func (s *Service) Report(ctx context.Context, sess session.Session) (Report, error) {
	list, err := s.src.ListBills(ctx, sess)
	if err != nil {
		s.log.WithFields(log.Fields{"error": err}).Error("load bills failed")
		return Report{}, err
	}
	chart, ready := Aggregate(list, s.periods)
	s.log.WithFields(log.Fields{"bills": len(list), "categories": len(chart.Labels), "ready": ready}).Debug("bills aggregated")
	if !ready {
		return Report{}, nil
	}
	return Report{Ready: true, Chart: chart, Totals: Totals(list, s.periods)}, nil
}
