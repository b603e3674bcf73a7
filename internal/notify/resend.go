package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// ResendNotifier e-mails the round owner through Resend.
type ResendNotifier struct {
	client *resend.Client
	from   string
	to     string
	logger *zap.Logger
}

func NewResendNotifier(apiKey, from, to string, logger *zap.Logger) *ResendNotifier {
	return &ResendNotifier{
		client: resend.NewClient(apiKey),
		from:   from,
		to:     to,
		logger: logger,
	}
}

func (n *ResendNotifier) Publish(ctx context.Context, subject, message string) error {
	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{n.to},
		Subject: subject,
		Text:    message,
		Html: fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 480px; margin: 0 auto; padding: 24px;">%s</div>`,
			strings.ReplaceAll(html.EscapeString(message), "\n", "<br>")),
	}

	sent, err := n.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	n.logger.Info("📧 notification e-mail sent", zap.String("id", sent.Id))
	return nil
}
