package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier implements Notifier by writing messages to the log. Used when no
// e-mail delivery is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Publish(ctx context.Context, subject, message string) error {
	n.logger.Info("📨 notification", zap.String("subject", subject), zap.String("message", message))
	return nil
}
