package bootstrap

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/caregrid/accessgate/pkg/menu"
	"github.com/caregrid/accessgate/pkg/observability"
)

// IntegrityChecker is implemented by menu.Registry
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) ([]menu.IntegrityIssue, error)
}

// IntegrityScanner runs the menu integrity check and exports the result
type IntegrityScanner struct {
	checker IntegrityChecker
	metrics *observability.Metrics
	logger  logrus.FieldLogger
}

// NewIntegrityScanner creates a scanner
func NewIntegrityScanner(checker IntegrityChecker, metrics *observability.Metrics, logger logrus.FieldLogger) *IntegrityScanner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &IntegrityScanner{checker: checker, metrics: metrics, logger: logger}
}

// Scan checks the menu once, logs each issue and updates the integrity gauge
func (s *IntegrityScanner) Scan(ctx context.Context) ([]menu.IntegrityIssue, error) {
	issues, err := s.checker.CheckIntegrity(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Menu integrity scan failed")
		return nil, err
	}

	s.metrics.SetIntegrityIssues(menu.CountIssues(issues))
	for _, issue := range issues {
		s.logger.WithFields(logrus.Fields{
			"kind":    issue.Kind,
			"item_id": issue.ItemID,
			"key":     issue.Key,
		}).Warn(issue.Detail)
	}
	if len(issues) == 0 {
		s.logger.Debug("Menu integrity scan clean")
	}
	return issues, nil
}

// Schedule registers the scan on a new cron scheduler using a standard cron expression or
// descriptor such as "@every 1h". The caller starts and stops the returned scheduler.
func (s *IntegrityScanner) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(spec, func() {
		defer observability.RecoverPanic(s.logger, "integrity scan")
		_, _ = s.Scan(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid integrity schedule %q: %w", spec, err)
	}
	return scheduler, nil
}
