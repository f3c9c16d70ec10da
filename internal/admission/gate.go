// Package admission decides whether a job may be created at all. The gate
// runs before the durable record exists, so a denied request leaves no trace
// in the jobs table or on the broker.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/jbellot/iris-art/internal/domain"
)

// Decision is the gate's verdict. Reason is user-facing and only set on
// denial.
type Decision struct {
	Allowed   bool
	Reason    string
	Remaining int
}

// Gate is consulted once per creation request, before the job record is
// written.
type Gate interface {
	CanAdmit(ctx context.Context, userID, plan string, kind domain.JobKind) (Decision, error)
}

// quotaKinds are the job kinds that consume monthly quota. Exports re-use an
// existing result and stay free.
var quotaKinds = []domain.JobKind{
	domain.JobKindProcessing,
	domain.JobKindStyle,
	domain.JobKindFusion,
	domain.JobKindComposition,
}

// QuotaGate enforces a per-user monthly creation quota on the quota-gated
// kinds. Premium plans bypass the count entirely.
type QuotaGate struct {
	jobs         domain.JobRepository
	monthlyQuota int
	premiumPlan  string
	now          func() time.Time
}

func NewQuotaGate(jobs domain.JobRepository, monthlyQuota int, premiumPlan string) *QuotaGate {
	return &QuotaGate{
		jobs:         jobs,
		monthlyQuota: monthlyQuota,
		premiumPlan:  premiumPlan,
		now:          time.Now,
	}
}

func (g *QuotaGate) CanAdmit(ctx context.Context, userID, plan string, kind domain.JobKind) (Decision, error) {
	if plan == g.premiumPlan {
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	if !quotaGated(kind) {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	month := g.now().UTC().Format("2006-01")
	used, err := g.jobs.CountForUserMonth(ctx, userID, month, quotaKinds)
	if err != nil {
		return Decision{}, fmt.Errorf("count monthly jobs for %s: %w", userID, err)
	}
	if used >= g.monthlyQuota {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("Monthly limit of %d artworks reached. Upgrade for unlimited creations.", g.monthlyQuota),
		}, nil
	}
	return Decision{Allowed: true, Remaining: g.monthlyQuota - used - 1}, nil
}

func quotaGated(kind domain.JobKind) bool {
	for _, k := range quotaKinds {
		if k == kind {
			return true
		}
	}
	return false
}
