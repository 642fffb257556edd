package mortality

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/okian/avisurv/internal/domain/model"
	"github.com/okian/avisurv/pkg/logger"
)

// Feed answers mortality questions for a region and trailing window. A nil
// context with a nil error means there is no evidence either way.
type Feed interface {
	Query(ctx context.Context, region string, asOf time.Time, window time.Duration) (*model.MortalityContext, error)
}

// ReportFeed summarises an in-memory set of reports. A death is confirmed
// only by a positive lab result; every other report is unconfirmed.
type ReportFeed struct {
	reports []Report // by date
}

var _ Feed = (*ReportFeed)(nil)

// NewReportFeed returns a static feed over reports.
func NewReportFeed(reports ...Report) *ReportFeed {
	rs := append([]Report(nil), reports...)
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Date.Before(rs[j].Date) })
	return &ReportFeed{reports: rs}
}

// LoadCSV parses one or more export files of the same format into a feed.
// Unparseable rows are logged and skipped.
func LoadCSV(ctx context.Context, format Format, paths []string, opts ...Option) (*ReportFeed, error) {
	settings := loadSettings{logger: logger.Nop()}
	for _, opt := range opts {
		opt(&settings)
	}
	log := settings.logger
	var all []Report
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", p, err)
		}
		reports, rowErrs, err := Parse(f, format)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
		for _, e := range rowErrs {
			log.Warn(ctx, "skipping mortality record", logger.String("file", p), logger.Error(e))
		}
		log.Info(ctx, "mortality export loaded",
			logger.String("file", p),
			logger.String("format", string(format)),
			logger.Int("reports", len(reports)),
			logger.Int("skipped", len(rowErrs)),
		)
		all = append(all, reports...)
	}
	return NewReportFeed(all...), nil
}

// Query summarises reports for region dated within the window ending on
// asOf's day, inclusive. A window shorter than a day covers asOf only.
func (f *ReportFeed) Query(ctx context.Context, region string, asOf time.Time, window time.Duration) (*model.MortalityContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	to := model.Day(asOf)
	from := to.Add(-window).Add(24 * time.Hour)
	if from.After(to) {
		from = to
	}

	lo := sort.Search(len(f.reports), func(i int) bool { return !f.reports[i].Date.Before(from) })
	var mc *model.MortalityContext
	for _, r := range f.reports[lo:] {
		if r.Date.After(to) {
			break
		}
		if !sameRegion(r.Province, region) {
			continue
		}
		if mc == nil {
			mc = &model.MortalityContext{Region: Province(region), From: from, To: to}
		}
		positive := r.Positive != nil && *r.Positive
		if positive {
			mc.ConfirmedDeaths += r.Count
			mc.LabPositive++
		} else {
			mc.UnconfirmedDeaths += r.Count
		}
		if r.Tested {
			mc.LabTested++
		}
	}
	return mc, nil
}
