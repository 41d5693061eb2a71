package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rhoward/ztverify/internal/metrics"
	"github.com/rhoward/ztverify/internal/models"
	"github.com/rhoward/ztverify/pkg/logger"
)

// LoginAttemptRepository is the audit persistence surface.
type LoginAttemptRepository interface {
	Record(ctx context.Context, attempt *models.LoginAttempt) error
	RecentForUser(ctx context.Context, username string, limit int) ([]models.LoginAttempt, error)
	RecentAll(ctx context.Context, limit int) ([]models.LoginAttempt, error)
	Stats(ctx context.Context) (*models.LoginStats, error)
	TopRisky(ctx context.Context, limit int) ([]models.RiskyUser, error)
}

// AuditService persists decision outcomes and mirrors them to the
// structured audit log and metrics. A failed write is a hard failure of
// the request: no decision may go unrecorded.
type AuditService struct {
	attempts LoginAttemptRepository
	audit    *logger.AuditLogger
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewAuditService(attempts LoginAttemptRepository, audit *logger.AuditLogger, m *metrics.Metrics, log *slog.Logger) *AuditService {
	return &AuditService{
		attempts: attempts,
		audit:    audit,
		metrics:  m,
		logger:   log,
	}
}

// RecordDecision writes the attempt row, then emits the audit log entry
// and metrics. Country and level only feed the log, not the row.
func (s *AuditService) RecordDecision(ctx context.Context, attempt *models.LoginAttempt, country, level string) error {
	if err := s.attempts.Record(ctx, attempt); err != nil {
		s.metrics.AuditWriteErrors.Inc()
		s.logger.Error("audit record write failed",
			slog.String("username", attempt.Username),
			slog.String("decision", attempt.Decision),
			slog.Any("error", err))
		return fmt.Errorf("recording audit entry: %w", err)
	}

	failureReason := ""
	if attempt.FailureReason != nil {
		failureReason = *attempt.FailureReason
	}

	s.audit.LogDecision(logger.DecisionEvent{
		Username:      attempt.Username,
		SourceIP:      attempt.SourceIP,
		Country:       country,
		Decision:      attempt.Decision,
		RiskScore:     attempt.RiskScore,
		RiskLevel:     level,
		Success:       attempt.Succeeded,
		FailureReason: failureReason,
	})

	s.metrics.DecisionsTotal.WithLabelValues(attempt.Decision).Inc()
	if attempt.RiskScore != nil {
		s.metrics.RiskScore.Observe(*attempt.RiskScore * 100)
	}

	return nil
}

// LogChallengeEvent mirrors an OTP lifecycle transition to the audit log
// and metrics. Challenge events do not create attempt rows of their own.
func (s *AuditService) LogChallengeEvent(username, eventType string, success bool, detail string) {
	s.audit.LogChallenge(logger.ChallengeEvent{
		Username:  username,
		EventType: eventType,
		Success:   success,
		Detail:    detail,
	})

	switch eventType {
	case "issued":
		s.metrics.ChallengesIssued.Inc()
	default:
		s.metrics.ChallengeOutcomes.WithLabelValues(eventType).Inc()
	}
}
