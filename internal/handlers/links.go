package handlers

import (
	"fmt"
	"net/http"
	"net/url"

	"anonfeedback-backend/internal/routing"
)

// Links builds the public URLs handed out for a round.
type Links struct {
	// BaseURL is the public origin; when empty it is derived from the request.
	BaseURL string
	// ComposeURL is the social compose endpoint used by the share action.
	ComposeURL string
}

func (l Links) base(r *http.Request) string {
	if l.BaseURL != "" {
		return l.BaseURL
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

func (l Links) FeedbackURL(r *http.Request, roundID string) string {
	return l.base(r) + routing.FeedbackPath(roundID)
}

// ShareURL pre-fills a post asking for feedback on prompt, with the feedback
// link both in the text and as an embed.
func (l Links) ShareURL(prompt, feedbackURL string) string {
	text := fmt.Sprintf("I'd love your anonymous feedback: %q\n%s", prompt, feedbackURL)
	q := url.Values{}
	q.Set("text", text)
	q.Add("embeds[]", feedbackURL)
	return l.ComposeURL + "?" + q.Encode()
}
