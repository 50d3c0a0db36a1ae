// Package alerting entrega alertas de segurança para logs e webhooks.
package alerting

import (
	"context"

	"go.uber.org/zap"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/ports"
)

// LogSink grava cada alerta como uma linha estruturada. Alertas CRITICAL
// saem em nível error, os demais em warn.
type LogSink struct {
	logger *zap.Logger
}

var _ ports.AlertSink = (*LogSink)(nil)

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("alerts")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, alert domain.Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("severity", string(alert.Severity)),
		zap.String("event", string(alert.EventType)),
		zap.String("ip", alert.IP),
		zap.String("user_id", alert.UserID),
		zap.Int64("count", alert.Count),
		zap.String("details", alert.Details),
		zap.Time("at", alert.At),
	}
	if alert.Severity == domain.SeverityCritical {
		s.logger.Error(alert.Title, fields...)
		return nil
	}
	s.logger.Warn(alert.Title, fields...)
	return nil
}
