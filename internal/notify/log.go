package notify

import (
	"context"

	"ipwatch/internal/types"

	"go.uber.org/zap"
)

// LogNotifier writes notifications to the application log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates new log notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

// Type implements Notifier
func (n *LogNotifier) Type() NotifierType { return NotifierLog }

// Send implements Notifier
func (n *LogNotifier) Send(_ context.Context, msg *types.Message) error {
	n.logger.Info(msg.Title, zap.String("body", msg.Body))
	return nil
}
