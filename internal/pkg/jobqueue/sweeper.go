package jobqueue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/ManuelReschke/PlusLedger/internal/pkg/billing"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/entitlements"
)

// Dispatch hands one account found by a scan to whoever processes it.
type Dispatch func(ctx context.Context, userID uint) error

// ScanResult counts what a scan found and handed off.
type ScanResult struct {
	Candidates int
	Dispatched int
	Failed     int
}

// SweepReport is the result of a sweep run in the calling goroutine.
type SweepReport struct {
	Candidates int `json:"candidates"`
	Changed    int `json:"changed"`
	Failed     int `json:"failed"`
}

// ResumeSweeper finds paused accounts whose covering credit ends within the
// configured lead time.
type ResumeSweeper struct {
	svc *billing.Service
}

func NewResumeSweeper(svc *billing.Service) *ResumeSweeper {
	return &ResumeSweeper{svc: svc}
}

func (s *ResumeSweeper) horizon() time.Time {
	return s.svc.Manager.Now().Add(s.svc.Config().ResumeLead)
}

func (s *ResumeSweeper) candidates(ctx context.Context) ([]uint, error) {
	horizon := s.horizon()
	return allPages(ctx, s.svc.Config().SweepBatchSize, func(ctx context.Context, afterID uint, limit int) ([]uint, error) {
		return s.svc.Repository().ListResumeCandidates(ctx, horizon, afterID, limit)
	})
}

// Scan dispatches one check_expiring task per candidate.
func (s *ResumeSweeper) Scan(ctx context.Context, dispatch Dispatch) (ScanResult, error) {
	ids, err := s.candidates(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("list resume candidates: %w", err)
	}
	return dispatchAll(ctx, "resume", ids, dispatch), nil
}

// Run resumes billing for every candidate directly.
func (s *ResumeSweeper) Run(ctx context.Context, actor string) (SweepReport, error) {
	ids, err := s.candidates(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list resume candidates: %w", err)
	}
	horizon := s.horizon()
	return runAll(ctx, "resume", ids, s.svc.Config().SweepConcurrency, func(ctx context.Context, id uint) (bool, error) {
		return s.svc.Manager.ResumeBilling(ctx, id, horizon, actor)
	}), nil
}

// ExpirationSweeper finds accounts with a lapsed paid subscription or an
// uncleared lapsed credit.
type ExpirationSweeper struct {
	svc *billing.Service
}

func NewExpirationSweeper(svc *billing.Service) *ExpirationSweeper {
	return &ExpirationSweeper{svc: svc}
}

func (s *ExpirationSweeper) candidates(ctx context.Context) ([]uint, error) {
	now := s.svc.Manager.Now()
	return allPages(ctx, s.svc.Config().SweepBatchSize, func(ctx context.Context, afterID uint, limit int) ([]uint, error) {
		return s.svc.Repository().ListLapsedAccounts(ctx, now, afterID, limit)
	})
}

// Scan dispatches one daily_check task per candidate.
func (s *ExpirationSweeper) Scan(ctx context.Context, dispatch Dispatch) (ScanResult, error) {
	ids, err := s.candidates(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("list lapsed accounts: %w", err)
	}
	return dispatchAll(ctx, "expiration", ids, dispatch), nil
}

// Run handles expiration for every candidate directly.
func (s *ExpirationSweeper) Run(ctx context.Context, actor string) (SweepReport, error) {
	ids, err := s.candidates(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list lapsed accounts: %w", err)
	}
	return runAll(ctx, "expiration", ids, s.svc.Config().SweepConcurrency, func(ctx context.Context, id uint) (bool, error) {
		out, err := s.svc.Manager.HandleSubscriptionExpiration(ctx, id, actor)
		if err != nil {
			return false, err
		}
		if out.Label == entitlements.StatusExpired {
			log.Infof("[Sweeper] user=%d expired (%s -> %s)", id, out.Before, out.After)
		}
		return out.Changed, nil
	}), nil
}

// CustomerSweeper finds accounts with more than one live provider customer.
type CustomerSweeper struct {
	svc *billing.Service
}

func NewCustomerSweeper(svc *billing.Service) *CustomerSweeper {
	return &CustomerSweeper{svc: svc}
}

// Scan dispatches one cleanup_customers task per candidate.
func (s *CustomerSweeper) Scan(ctx context.Context, dispatch Dispatch) (ScanResult, error) {
	provider := s.svc.Manager.ProviderName()
	ids, err := allPages(ctx, s.svc.Config().SweepBatchSize, func(ctx context.Context, afterID uint, limit int) ([]uint, error) {
		return s.svc.Repository().ListDuplicateCustomerAccounts(ctx, provider, afterID, limit)
	})
	if err != nil {
		return ScanResult{}, fmt.Errorf("list duplicate customers: %w", err)
	}
	return dispatchAll(ctx, "customers", ids, dispatch), nil
}

// allPages walks a candidate query batch by batch with an id cursor, so
// accounts that keep failing cannot hide the ones behind them.
func allPages(ctx context.Context, limit int, fetch func(ctx context.Context, afterID uint, limit int) ([]uint, error)) ([]uint, error) {
	if limit <= 0 {
		limit = billing.DefaultConfig().SweepBatchSize
	}
	var all []uint
	var after uint
	for {
		page, err := fetch(ctx, after, limit)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < limit {
			return all, nil
		}
		after = page[len(page)-1]
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func dispatchAll(ctx context.Context, sweeper string, ids []uint, dispatch Dispatch) ScanResult {
	res := ScanResult{Candidates: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			res.Failed += res.Candidates - res.Dispatched - res.Failed
			break
		}
		if err := dispatch(ctx, id); err != nil {
			log.Errorf("[Sweeper] %s: dispatch for user=%d failed: %v", sweeper, id, err)
			sweepItemsTotal.WithLabelValues(sweeper, "failed").Inc()
			res.Failed++
			continue
		}
		sweepItemsTotal.WithLabelValues(sweeper, "dispatched").Inc()
		res.Dispatched++
	}
	if res.Candidates > 0 {
		log.Infof("[Sweeper] %s: %d candidates, %d dispatched, %d failed", sweeper, res.Candidates, res.Dispatched, res.Failed)
	}
	return res
}

// runAll applies fn to every id with at most limit in flight. A failing item
// is counted and never stops the others.
func runAll(ctx context.Context, sweeper string, ids []uint, limit int, fn func(ctx context.Context, id uint) (bool, error)) SweepReport {
	var changed, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, id := range ids {
		g.Go(func() error {
			ok, err := fn(gctx, id)
			switch {
			case err != nil:
				log.Errorf("[Sweeper] %s: user=%d failed: %v", sweeper, id, err)
				sweepItemsTotal.WithLabelValues(sweeper, "failed").Inc()
				failed.Add(1)
			case ok:
				sweepItemsTotal.WithLabelValues(sweeper, "changed").Inc()
				changed.Add(1)
			default:
				sweepItemsTotal.WithLabelValues(sweeper, "unchanged").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	report := SweepReport{Candidates: len(ids), Changed: int(changed.Load()), Failed: int(failed.Load())}
	log.Infof("[Sweeper] %s run: %d candidates, %d changed, %d failed", sweeper, report.Candidates, report.Changed, report.Failed)
	return report
}
