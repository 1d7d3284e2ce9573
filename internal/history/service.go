package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/samuelhorjet/solana-forge/internal/alert"
	"github.com/samuelhorjet/solana-forge/internal/domain/model"
	"github.com/samuelhorjet/solana-forge/internal/retry"
)

// ErrUnknownIdentity is returned for identities outside the watched set.
var ErrUnknownIdentity = errors.New("history: identity not watched")

// Service drives scheduled reconcile cycles for a fixed set of identities
// and raises alerts when an identity keeps failing.
type Service struct {
	reconcilers map[string]*Reconciler
	interval    time.Duration
	threshold   int
	alerter     alert.Alerter
	cluster     string
	logger      *slog.Logger

	mu       sync.Mutex
	failures map[string]int
}

func NewService(reconcilers []*Reconciler, interval time.Duration, alertThreshold int, alerter alert.Alerter, cluster string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if alerter == nil {
		alerter = &alert.NoopAlerter{}
	}
	byIdentity := make(map[string]*Reconciler, len(reconcilers))
	for _, r := range reconcilers {
		byIdentity[r.Identity()] = r
	}
	return &Service{
		reconcilers: byIdentity,
		interval:    interval,
		threshold:   alertThreshold,
		alerter:     alerter,
		cluster:     cluster,
		logger:      logger.With("component", "service"),
		failures:    make(map[string]int),
	}
}

// Run executes reconcile loops for every identity until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range s.reconcilers {
		r := r
		g.Go(func() error {
			return s.loop(ctx, r)
		})
	}
	return g.Wait()
}

func (s *Service) loop(ctx context.Context, r *Reconciler) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// First cycle runs immediately so fresh deployments serve data without
	// waiting a full interval.
	s.runCycle(ctx, r)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx, r)
		}
	}
}

func (s *Service) runCycle(ctx context.Context, r *Reconciler) {
	_, err := r.Reconcile(ctx, TriggerScheduled)
	switch {
	case err == nil:
		s.noteSuccess(ctx, r.Identity())
	case errors.Is(err, ErrReconcileInFlight):
		// A manual refresh is running. Not a failure.
	case errors.Is(err, context.Canceled):
	default:
		s.noteFailure(ctx, r.Identity(), err)
	}
}

func (s *Service) noteSuccess(ctx context.Context, identity string) {
	s.mu.Lock()
	recovered := s.failures[identity] >= s.threshold
	s.failures[identity] = 0
	s.mu.Unlock()

	if recovered {
		s.sendAlert(ctx, alert.Alert{
			Type:     alert.AlertTypeRecovery,
			Identity: identity,
			Cluster:  s.cluster,
			Title:    "Reconcile recovered",
			Message:  "Cycles are succeeding again",
		})
	}
}

func (s *Service) noteFailure(ctx context.Context, identity string, err error) {
	s.mu.Lock()
	s.failures[identity]++
	count := s.failures[identity]
	s.mu.Unlock()

	decision := retry.Classify(err)
	s.logger.Error("reconcile cycle failed",
		"identity", identity,
		"consecutive_failures", count,
		"class", string(decision.Class),
		"reason", decision.Reason,
		"error", err,
	)

	if count == s.threshold {
		s.sendAlert(ctx, alert.Alert{
			Type:     alert.AlertTypeUnhealthy,
			Identity: identity,
			Cluster:  s.cluster,
			Title:    fmt.Sprintf("Reconcile failing for %d cycles", count),
			Message:  err.Error(),
			Fields: map[string]string{
				"class":  string(decision.Class),
				"reason": decision.Reason,
			},
		})
	}
}

func (s *Service) sendAlert(ctx context.Context, a alert.Alert) {
	if err := s.alerter.Send(ctx, a); err != nil {
		s.logger.Warn("alert delivery failed", "type", a.Type, "error", err)
	}
}

// Records returns the reconciled log for identity, newest first.
func (s *Service) Records(identity string) ([]model.ActivityRecord, error) {
	r, ok := s.reconcilers[identity]
	if !ok {
		return nil, ErrUnknownIdentity
	}
	return r.Records(), nil
}

// Progress returns the running cycle's status for identity.
func (s *Service) Progress(identity string) (string, error) {
	r, ok := s.reconcilers[identity]
	if !ok {
		return "", ErrUnknownIdentity
	}
	return r.Progress(), nil
}

// Refresh forces a from-scratch reconcile for identity.
func (s *Service) Refresh(ctx context.Context, identity string) ([]model.ActivityRecord, error) {
	r, ok := s.reconcilers[identity]
	if !ok {
		return nil, ErrUnknownIdentity
	}
	return r.Reconcile(ctx, TriggerForced)
}

// Identities returns the watched set.
func (s *Service) Identities() []string {
	out := make([]string, 0, len(s.reconcilers))
	for identity := range s.reconcilers {
		out = append(out, identity)
	}
	return out
}
