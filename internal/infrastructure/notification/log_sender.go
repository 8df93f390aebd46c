// Package notification delivers subscriber emails. LogSender is the default
// transport; AsyncSender decouples any transport from the request path.
package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/meterly/backend/internal/domain/notification"
	"github.com/meterly/backend/internal/infrastructure/logger"
)

var _ notification.Sender = (*LogSender)(nil)

// LogSender writes messages to the log instead of sending them
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(l *zap.Logger) *LogSender {
	return &LogSender{logger: l.Named("notification")}
}

func (s *LogSender) Send(ctx context.Context, msg notification.Message) error {
	log := s.logger
	if requestID := logger.GetRequestID(ctx); requestID != "" {
		log = log.With(zap.String("request_id", requestID))
	}
	log.Info("Email dispatched",
		zap.String("template", msg.Template),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}
