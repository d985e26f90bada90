package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Discord delivers alerts through a channel webhook.
type Discord struct {
	webhookURL string
	http       *resty.Client
}

type discordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Color       int             `json:"color,omitempty"`
	Fields      []discordField  `json:"fields,omitempty"`
	Footer      *discordFooter  `json:"footer,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

var discordColors = map[Color]int{
	ColorGood:    0x36a64f,
	ColorInfo:    0x3498db,
	ColorBad:     0xe74c3c,
	ColorNeutral: 0x95a5a6,
}

// NewDiscord returns a Discord sink. An empty URL yields a disabled sink.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		http:       resty.New().SetTimeout(10 * time.Second),
	}
}

// Enabled reports whether the webhook is configured.
func (d *Discord) Enabled() bool { return d.webhookURL != "" }

// Send posts the message to the webhook.
func (d *Discord) Send(ctx context.Context, msg Message) error {
	if !d.Enabled() {
		return nil
	}

	embed := discordEmbed{
		Title:       msg.Title,
		Description: msg.Text,
		Color:       discordColors[msg.Color],
		Timestamp:   time.Now().Format(time.RFC3339),
	}
	if msg.Footer != "" {
		embed.Footer = &discordFooter{Text: msg.Footer}
	}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, discordField{Name: f.Title, Value: f.Value, Inline: f.Short})
	}

	resp, err := d.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(discordPayload{Embeds: []discordEmbed{embed}}).
		Post(d.webhookURL)
	if err != nil {
		return fmt.Errorf("discord post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("discord returned status %d", resp.StatusCode())
	}
	return nil
}
