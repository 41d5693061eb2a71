package logger

import (
	"context"
	"log/slog"
	"time"
)

// DecisionEvent is the audit view of one authentication decision.
type DecisionEvent struct {
	Username      string
	SourceIP      string
	Country       string
	Decision      string
	RiskScore     *float64
	RiskLevel     string
	Success       bool
	FailureReason string
}

// ChallengeEvent is the audit view of one OTP lifecycle transition.
type ChallengeEvent struct {
	Username  string
	EventType string // "issued", "verified", "failed", "expired", "exhausted"
	Success   bool
	Detail    string
}

// AuditLogger emits structured security audit records. Successful events
// log at info, failures at warn, so alerting can key off level alone.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// LogDecision logs the outcome of a login decision.
func (al *AuditLogger) LogDecision(event DecisionEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "decision"),
		slog.String("decision", event.Decision),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Username != "" {
		attrs = append(attrs, slog.String("username", event.Username))
	}
	if event.SourceIP != "" {
		attrs = append(attrs, slog.String("source_ip", event.SourceIP))
	}
	if event.Country != "" {
		attrs = append(attrs, slog.String("country", event.Country))
	}
	if event.RiskScore != nil {
		attrs = append(attrs, slog.Float64("risk_score", *event.RiskScore))
	}
	if event.RiskLevel != "" {
		attrs = append(attrs, slog.String("risk_level", event.RiskLevel))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}

	al.log(event.Success, attrs)
}

// LogChallenge logs an OTP challenge lifecycle event.
func (al *AuditLogger) LogChallenge(event ChallengeEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "challenge"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Username != "" {
		attrs = append(attrs, slog.String("username", event.Username))
	}
	if event.Detail != "" {
		attrs = append(attrs, slog.String("detail", event.Detail))
	}

	al.log(event.Success, attrs)
}

func (al *AuditLogger) log(success bool, attrs []slog.Attr) {
	level := slog.LevelWarn
	if success {
		level = slog.LevelInfo
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}
