package notify

import (
	"context"
	"fmt"

	"anonfeedback-backend/internal/models"
)

// Notifier defines the interface for announcing new feedback to the round owner.
type Notifier interface {
	Publish(ctx context.Context, subject, message string) error
}

// FeedbackMessage renders the announcement for one new feedback entry.
func FeedbackMessage(round models.Round, fb models.Feedback, link string) (string, string) {
	subject := "New anonymous feedback"
	body := fmt.Sprintf("📝 New feedback on \"%s\" (%d total)\n\n%s\n\n%s",
		round.Prompt, len(round.Feedback), fb.Content, link)
	return subject, body
}
