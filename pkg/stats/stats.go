// Package stats computes deliverability statistics over email jobs.
package stats

import (
	"context"
	"time"

	"github.com/dmitrymomot/mailflow/pkg/emailjob"
)

// Filter scopes a statistics query. Zero fields do not filter.
type Filter struct {
	From         time.Time // inclusive, on job creation time
	To           time.Time // exclusive
	Recipient    string
	TemplateType string
}

// Stats are totals and percentage rates over a set of jobs. Every rate is
// within [0, 100] and is 0 when its denominator is 0.
type Stats struct {
	TotalJobs       int     `json:"total_jobs"`
	TotalSent       int     `json:"total_sent"`
	TotalDelivered  int     `json:"total_delivered"`
	TotalOpened     int     `json:"total_opened"`
	TotalClicked    int     `json:"total_clicked"`
	TotalBounced    int     `json:"total_bounced"`
	TotalComplaints int     `json:"total_complaints"`
	TotalFailed     int     `json:"total_failed"`
	DeliveryRate    float64 `json:"delivery_rate"`
	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
	BounceRate      float64 `json:"bounce_rate"`
}

// Lister is satisfied by emailjob.Repository and *emailjob.Store.
type Lister interface {
	List(ctx context.Context, f emailjob.Filter) ([]*emailjob.Job, error)
}

// Aggregator answers statistics queries from the job store.
type Aggregator struct {
	jobs Lister
}

// NewAggregator creates an aggregator over jobs.
func NewAggregator(jobs Lister) *Aggregator {
	return &Aggregator{jobs: jobs}
}

// Get computes statistics for the jobs matching f.
func (a *Aggregator) Get(ctx context.Context, f Filter) (*Stats, error) {
	jobs, err := a.jobs.List(ctx, emailjob.Filter{
		CreatedFrom:  f.From,
		CreatedTo:    f.To,
		Recipient:    f.Recipient,
		TemplateType: f.TemplateType,
	})
	if err != nil {
		return nil, err
	}
	s := Compute(jobs)
	return &s, nil
}

// Compute derives statistics from lifecycle timestamps. A job counts as
// delivered once DeliveredAt is set, even if it later bounced.
func Compute(jobs []*emailjob.Job) Stats {
	var s Stats
	for _, j := range jobs {
		s.TotalJobs++
		if j.SentAt != nil {
			s.TotalSent++
		}
		if j.DeliveredAt != nil {
			s.TotalDelivered++
		}
		if j.OpenedAt != nil {
			s.TotalOpened++
		}
		if j.ClickedAt != nil {
			s.TotalClicked++
		}
		if j.BouncedAt != nil {
			s.TotalBounced++
		}
		if j.ComplainedAt != nil {
			s.TotalComplaints++
		}
		if j.Status == emailjob.StatusFailed {
			s.TotalFailed++
		}
	}

	s.DeliveryRate = rate(s.TotalDelivered, s.TotalSent)
	s.OpenRate = rate(s.TotalOpened, s.TotalDelivered)
	s.ClickRate = rate(s.TotalClicked, s.TotalDelivered)
	s.BounceRate = rate(s.TotalBounced, s.TotalSent)
	return s
}

func rate(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	return min(max(float64(n)/float64(d)*100, 0), 100)
}
