package models

import "time"

// Round is a feedback request: a prompt, an optional link to the content being
// reviewed, and the feedback collected so far in submission order.
type Round struct {
	ID          string     `json:"id"`
	Prompt      string     `json:"prompt"`
	ContentLink string     `json:"contentLink"`
	CreatedAt   int64      `json:"createdAt"`
	Feedback    []Feedback `json:"feedback"`
}

type Feedback struct {
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}

// NowMillis returns the current time as milliseconds since the epoch, the unit
// used for every createdAt field.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// WithFeedback returns a copy of the round with fb appended. The receiver's
// feedback slice is never shared with the result.
func (r Round) WithFeedback(fb Feedback) Round {
	next := make([]Feedback, 0, len(r.Feedback)+1)
	next = append(next, r.Feedback...)
	r.Feedback = append(next, fb)
	return r
}
