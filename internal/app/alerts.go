package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/avisurv/internal/adapters/mq/notify"
	"github.com/okian/avisurv/internal/adapters/repository"
	"github.com/okian/avisurv/internal/domain/alerting"
	"github.com/okian/avisurv/internal/domain/model"
	"github.com/okian/avisurv/pkg/logger"
	"github.com/okian/avisurv/pkg/metrics"
)

// Alert actions published for human operations.
const (
	ActionAcknowledge = "acknowledge"
	ActionResolve     = "resolve"
)

// apply evaluates sig and commits the outcome together with obs, which may
// be nil. The alert change is published after the commit. Evaluate and
// commit hold the key's lock, so a concurrent pass for the same day finds
// the day applied.
func (s *Service) apply(ctx context.Context, sig alerting.Signal, obs *model.AnomalyObservation) (alerting.Outcome, error) {
	out, err := s.evaluateAndCommit(ctx, sig, obs)
	if err != nil {
		return out, err
	}
	if out.Decision.Action != alerting.ActionNone {
		metrics.RecordAlertTransition(string(out.Decision.Action), string(sig.Type))
	}
	if e, ok := notify.EventFromOutcome(out); ok {
		s.publish(ctx, e)
	}
	return out, nil
}

func (s *Service) evaluateAndCommit(ctx context.Context, sig alerting.Signal, obs *model.AnomalyObservation) (alerting.Outcome, error) {
	mu := &s.keyLocks[s.pool.Shard(sig.Key)]
	mu.Lock()
	defer mu.Unlock()

	out, err := s.machine.Evaluate(ctx, sig)
	if err != nil {
		return out, err
	}
	if err := s.store.Commit(ctx, repository.Commit{Observation: obs, Outcome: &out}); err != nil {
		metrics.RecordErrorByComponent("store", "commit")
		return out, fmt.Errorf("commit %s: %w", sig.Key, err)
	}
	return out, nil
}

// replayed reports whether err rejects a signal for a day already applied
// to its key. Such repeats are logged and counted as scheduling defects;
// the earlier commit stands.
func (s *Service) replayed(ctx context.Context, sig alerting.Signal, err error) bool {
	if !errors.Is(err, alerting.ErrStaleSignal) {
		return false
	}
	s.replays.Add(1)
	metrics.RecordSchedulingDefect()
	s.logger.Warn(ctx, "day already applied to key",
		logger.String("key", sig.Key.String()),
		logger.Time("date", sig.At),
		logger.Error(err),
	)
	return true
}

// publish sends e. Failures are logged; the alert itself is already stored.
func (s *Service) publish(ctx context.Context, e notify.AlertEvent) {
	if err := s.notifier.Publish(ctx, e); err != nil {
		s.logger.Warn(ctx, "alert event dropped",
			logger.String("alert", e.AlertID),
			logger.String("action", e.Action),
			logger.Error(err),
		)
	}
}

// Acknowledge records that by has seen alert id.
func (s *Service) Acknowledge(ctx context.Context, id, by string) (*model.Alert, error) {
	a, err := s.machine.Acknowledge(ctx, id, by, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "alert acknowledged",
		logger.String("alert", a.ID),
		logger.String("key", a.Key.String()),
		logger.String("by", by),
	)
	s.publish(ctx, notify.EventFromAlert(a, ActionAcknowledge))
	return a, nil
}

// Resolve closes alert id on by's decision. The key's next qualifying
// observation opens a new alert.
func (s *Service) Resolve(ctx context.Context, id, by string) (*model.Alert, error) {
	a, err := s.machine.Resolve(ctx, id, by, s.now())
	if err != nil {
		return nil, err
	}
	metrics.RecordAlertTransition(ActionResolve, string(a.Type))
	if open, err := s.store.OpenAlerts(ctx); err == nil {
		metrics.UpdateOpenAlerts(len(open))
	}
	s.logger.Info(ctx, "alert resolved",
		logger.String("alert", a.ID),
		logger.String("key", a.Key.String()),
		logger.String("by", by),
	)
	s.publish(ctx, notify.EventFromAlert(a, ActionResolve))
	return a, nil
}

// Alert returns one alert.
func (s *Service) Alert(ctx context.Context, id string) (*model.Alert, error) {
	return s.store.Alert(ctx, id)
}

// OpenAlerts returns every alert that is not resolved.
func (s *Service) OpenAlerts(ctx context.Context) ([]*model.Alert, error) {
	return s.store.OpenAlerts(ctx)
}

// Observations returns the committed observations of key between from and to.
func (s *Service) Observations(ctx context.Context, key model.Key, from, to time.Time) ([]model.AnomalyObservation, error) {
	return s.store.Observations(ctx, key, from, to)
}
