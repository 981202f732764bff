package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"access_grant_service/internal/domain/campaign"
	"access_grant_service/internal/domain/grant"
	"access_grant_service/internal/infra/metrics"
)

// Sweep names, as used by the scheduler and the metrics.
const (
	SweepExpire    = "expire"
	SweepRevoked   = "revoked"
	SweepMatch     = "match"
	SweepFollowups = "followup"
)

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Sweep   string
	Found   int
	Applied int
	Noop    int
	Failed  int
}

// SweepService runs the periodic batch jobs over grants. Each sweep reads
// its candidates and pushes them through GrantService; a grant touched by
// a concurrent run or a user request is simply reported as a no-op.
type SweepService struct {
	grants      *GrantService
	queries     *GrantQueries
	campaigns   campaign.Repository
	concurrency int
	metrics     *metrics.Metrics
	logger      *logrus.Entry
}

func NewSweepService(gs *GrantService, q *GrantQueries, campaigns campaign.Repository, concurrency int, m *metrics.Metrics, logger *logrus.Entry) *SweepService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &SweepService{
		grants:      gs,
		queries:     q,
		campaigns:   campaigns,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger.WithField("component", "sweep_service"),
	}
}

// InvalidateExpired invalidates every grant whose period has ended.
func (s *SweepService) InvalidateExpired(ctx context.Context) (SweepResult, error) {
	return s.run(ctx, SweepExpire, s.queries.Expired, func(ctx context.Context, g *grant.Grant) (bool, error) {
		return s.grants.Invalidate(ctx, g, grant.ReasonExpired)
	})
}

// InvalidateRevoked finishes revocations: revoked grants are invalidated so
// that the recipient's role and the grantee's mail follow.
func (s *SweepService) InvalidateRevoked(ctx context.Context) (SweepResult, error) {
	return s.run(ctx, SweepRevoked, s.queries.RevokedNotInvalidated, func(ctx context.Context, g *grant.Grant) (bool, error) {
		return s.grants.Invalidate(ctx, g, grant.ReasonRevoked)
	})
}

// MatchUnassigned retries matching for grants whose recipient had no
// account when the grant was made.
func (s *SweepService) MatchUnassigned(ctx context.Context) (SweepResult, error) {
	return s.run(ctx, SweepMatch, s.queries.Unassigned, func(ctx context.Context, g *grant.Grant) (bool, error) {
		if err := s.grants.Match(ctx, g); err != nil {
			return false, err
		}
		return g.IsAssigned(), nil
	})
}

// SendFollowups follows up on invalidated grants in every campaign that
// configures a follow-up delay.
func (s *SweepService) SendFollowups(ctx context.Context) (SweepResult, error) {
	campaigns, err := s.campaigns.ListWithFollowup(ctx)
	if err != nil {
		return SweepResult{Sweep: SweepFollowups}, fmt.Errorf("failed to list campaigns with follow-up: %w", err)
	}
	total := SweepResult{Sweep: SweepFollowups}
	for _, c := range campaigns {
		if c.EmailFollowup.IsZero() {
			continue
		}
		res, err := s.run(ctx, SweepFollowups,
			func(ctx context.Context) ([]*grant.Grant, error) { return s.queries.FollowupDue(ctx, c) },
			func(ctx context.Context, g *grant.Grant) (bool, error) { return s.grants.FollowUp(ctx, c, g) },
		)
		total.Found += res.Found
		total.Applied += res.Applied
		total.Noop += res.Noop
		total.Failed += res.Failed
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// run applies step to every grant returned by find, at most s.concurrency
// at a time. A failing grant is logged and counted; it does not stop the
// others. Only a failing find or a cancelled context ends the run early.
func (s *SweepService) run(
	ctx context.Context,
	sweep string,
	find func(context.Context) ([]*grant.Grant, error),
	step func(context.Context, *grant.Grant) (bool, error),
) (SweepResult, error) {
	start := time.Now()
	defer func() { s.metrics.SweepObserved(sweep, time.Since(start).Seconds()) }()
	log := s.logger.WithField("sweep", sweep)

	res := SweepResult{Sweep: sweep}
	grants, err := find(ctx)
	if err != nil {
		return res, err
	}
	res.Found = len(grants)
	if len(grants) == 0 {
		log.Debug("nothing to do")
		return res, nil
	}

	var applied, noop, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, gr := range grants {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			changed, err := step(gctx, gr)
			switch {
			case err != nil:
				failed.Add(1)
				s.metrics.SweepGrant(sweep, metrics.OutcomeError)
				log.WithError(err).WithField("grant_id", gr.ID).Error("sweep step failed")
			case changed:
				applied.Add(1)
				s.metrics.SweepGrant(sweep, metrics.OutcomeApplied)
			default:
				noop.Add(1)
				s.metrics.SweepGrant(sweep, metrics.OutcomeNoop)
			}
			return nil
		})
	}
	err = g.Wait()

	res.Applied = int(applied.Load())
	res.Noop = int(noop.Load())
	res.Failed = int(failed.Load())
	log.WithFields(logrus.Fields{
		"found":   res.Found,
		"applied": res.Applied,
		"noop":    res.Noop,
		"failed":  res.Failed,
	}).Info("sweep finished")
	return res, err
}
