package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Slack delivers alerts through an incoming webhook.
type Slack struct {
	webhookURL string
	http       *resty.Client
}

type slackPayload struct {
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Fields    []slackField `json:"fields,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

var slackColors = map[Color]string{
	ColorGood:    "#36a64f",
	ColorInfo:    "#3498db",
	ColorBad:     "#e74c3c",
	ColorNeutral: "#95a5a6",
}

// NewSlack returns a Slack sink. An empty URL yields a disabled sink.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		http:       resty.New().SetTimeout(10 * time.Second),
	}
}

// Enabled reports whether the webhook is configured.
func (s *Slack) Enabled() bool { return s.webhookURL != "" }

// Send posts the message to the webhook.
func (s *Slack) Send(ctx context.Context, msg Message) error {
	if !s.Enabled() {
		return nil
	}

	att := slackAttachment{
		Color:     slackColors[msg.Color],
		Title:     msg.Title,
		Text:      msg.Text,
		Footer:    msg.Footer,
		Timestamp: time.Now().Unix(),
	}
	for _, f := range msg.Fields {
		att.Fields = append(att.Fields, slackField{Title: f.Title, Value: f.Value, Short: f.Short})
	}

	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(slackPayload{Attachments: []slackAttachment{att}}).
		Post(s.webhookURL)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("slack returned status %d", resp.StatusCode())
	}
	return nil
}
