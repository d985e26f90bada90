// Package notify fans alerts out to Slack and Discord webhooks. Both
// channels are optional; an empty webhook URL disables the channel and
// every send turns into a no-op.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/brendanplayford/weathertrader/internal/config"
)

// Sink is one delivery channel.
type Sink interface {
	Enabled() bool
	Send(ctx context.Context, msg Message) error
}

// Field is one key/value pair rendered inside an alert.
type Field struct {
	Title string
	Value string
	Short bool
}

// Message is a channel-agnostic alert. Sinks translate it to their
// wire format.
type Message struct {
	Title  string
	Text   string
	Color  Color
	Fields []Field
	Footer string
}

// Color selects the accent color of a rich alert.
type Color int

const (
	ColorNeutral Color = iota
	ColorGood
	ColorInfo
	ColorBad
)

// Notifier fans a message out to all enabled sinks.
type Notifier struct {
	sinks []Sink
	log   zerolog.Logger
}

// New builds a notifier from the configured webhooks.
func New(cfg config.NotifyConfig, log zerolog.Logger) *Notifier {
	n := &Notifier{
		sinks: []Sink{
			NewSlack(cfg.SlackWebhookURL),
			NewDiscord(cfg.DiscordWebhookURL),
		},
		log: log.With().Str("component", "notify").Logger(),
	}
	for _, s := range n.sinks {
		if s.Enabled() {
			n.log.Info().Str("sink", fmt.Sprintf("%T", s)).Msg("notifications enabled")
		}
	}
	return n
}

// Enabled reports whether any channel will actually deliver.
func (n *Notifier) Enabled() bool {
	for _, s := range n.sinks {
		if s.Enabled() {
			return true
		}
	}
	return false
}

func (n *Notifier) send(ctx context.Context, msg Message) {
	for _, s := range n.sinks {
		if !s.Enabled() {
			continue
		}
		if err := s.Send(ctx, msg); err != nil {
			n.log.Warn().Str("sink", fmt.Sprintf("%T", s)).Err(err).Msg("notify failed")
		}
	}
}

// Notify sends a plain titled message. Delivery failures are logged,
// never surfaced; alerts must not break the trade path.
func (n *Notifier) Notify(ctx context.Context, title, message string) {
	n.send(ctx, Message{Title: title, Text: message, Color: ColorInfo})
}

// TradeAlert announces an executed order.
func (n *Notifier) TradeAlert(ctx context.Context, city, ticker, side string, price, contracts int, source string) {
	color := ColorGood
	if side == "no" {
		color = ColorInfo
	}
	n.send(ctx, Message{
		Title: fmt.Sprintf("Trade Executed: %s", city),
		Color: color,
		Fields: []Field{
			{Title: "Market", Value: ticker, Short: true},
			{Title: "Side", Value: side, Short: true},
			{Title: "Price", Value: fmt.Sprintf("%d¢", price), Short: true},
			{Title: "Contracts", Value: fmt.Sprintf("%d", contracts), Short: true},
			{Title: "Cost", Value: Cents(price * contracts), Short: true},
			{Title: "Source", Value: source, Short: true},
		},
		Footer: "weathertrader",
	})
}

// Error sends an error alert.
func (n *Notifier) Error(ctx context.Context, component, message string) {
	n.send(ctx, Message{
		Title: "Error",
		Color: ColorBad,
		Fields: []Field{
			{Title: "Component", Value: component, Short: true},
			{Title: "Message", Value: message},
		},
		Footer: "weathertrader",
	})
}

// Startup announces a bot start with its balance and mode.
func (n *Notifier) Startup(ctx context.Context, balanceCents int, mode string) {
	n.send(ctx, Message{
		Title: "Bot Started",
		Color: ColorGood,
		Fields: []Field{
			{Title: "Balance", Value: Cents(balanceCents), Short: true},
			{Title: "Mode", Value: mode, Short: true},
		},
		Footer: "weathertrader",
	})
}

// Shutdown announces a bot stop with closing stats.
func (n *Notifier) Shutdown(ctx context.Context, reason string, stats map[string]string) {
	fields := []Field{{Title: "Reason", Value: reason}}
	for k, v := range stats {
		fields = append(fields, Field{Title: k, Value: v, Short: true})
	}
	n.send(ctx, Message{
		Title:  "Bot Stopped",
		Color:  ColorNeutral,
		Fields: fields,
		Footer: "weathertrader",
	})
}

// Cents renders an integer cent amount as dollars.
func Cents(c int) string {
	if c < 0 {
		return fmt.Sprintf("-$%.2f", float64(-c)/100)
	}
	return fmt.Sprintf("$%.2f", float64(c)/100)
}
