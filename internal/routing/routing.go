// Package routing decides which view a request path belongs to.
package routing

import (
	"net/url"
	"regexp"
)

type Kind string

const (
	Home     Kind = "home"
	Feedback Kind = "feedback"
)

type Route struct {
	Kind    Kind
	RoundID string
}

// Unanchored so the app can be mounted under a path prefix.
var feedbackPath = regexp.MustCompile(`/feedback/(.+)`)

// Resolve maps a location path, still percent-encoded, to a route. Anything
// that is not a feedback link resolves to Home.
func Resolve(path string) Route {
	m := feedbackPath.FindStringSubmatch(path)
	if m == nil {
		return Route{Kind: Home}
	}
	id, err := url.PathUnescape(m[1])
	if err != nil {
		id = m[1]
	}
	return Route{Kind: Feedback, RoundID: id}
}

// FeedbackPath builds the respond-view path for a round id.
func FeedbackPath(roundID string) string {
	return "/feedback/" + url.PathEscape(roundID)
}
