package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/m00npl/guardant/pkg/log"
)

// Channel names a delivery mechanism
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelSlack     Channel = "slack"
	ChannelWebhook   Channel = "webhook"
	ChannelPagerDuty Channel = "pagerduty"
)

// Message is one notification to deliver
type Message struct {
	Channel Channel        `json:"channel"`
	Target  string         `json:"target"` // channel name, URL or routing key
	Subject string         `json:"subject"`
	Body    string         `json:"body"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Sink delivers messages for one or more channels. Delivery failures are the
// sink's to report; the caller logs and moves on.
type Sink interface {
	Send(ctx context.Context, msg Message) error
	Supports(ch Channel) bool
}

// Dispatcher fans a message out to the first sink supporting its channel
type Dispatcher struct {
	sinks  []Sink
	logger zerolog.Logger
}

func NewDispatcher(sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, logger: log.WithComponent("notify")}
}

// Dispatch sends the message through the first matching sink. Failures are
// logged, never propagated; monitoring must not stall on notification
// delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	for _, sink := range d.sinks {
		if !sink.Supports(msg.Channel) {
			continue
		}
		if err := sink.Send(ctx, msg); err != nil {
			d.logger.Warn().Err(err).
				Str("channel", string(msg.Channel)).
				Str("subject", msg.Subject).
				Msg("notification delivery failed")
		}
		return
	}
	d.logger.Warn().Str("channel", string(msg.Channel)).Msg("no sink for channel")
}

// SlackSink posts to Slack via the Web API
type SlackSink struct {
	client *slack.Client
}

func NewSlackSink(token string) *SlackSink {
	return &SlackSink{client: slack.New(token)}
}

func (s *SlackSink) Supports(ch Channel) bool { return ch == ChannelSlack }

func (s *SlackSink) Send(ctx context.Context, msg Message) error {
	text := msg.Subject
	if msg.Body != "" {
		text = fmt.Sprintf("*%s*\n%s", msg.Subject, msg.Body)
	}
	_, _, err := s.client.PostMessageContext(ctx, msg.Target,
		slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack post failed: %w", err)
	}
	return nil
}

// WebhookSink POSTs the message as JSON to the target URL. PagerDuty
// notifications ride this path with their events endpoint as the target.
type WebhookSink struct {
	client *http.Client
}

func NewWebhookSink() *WebhookSink {
	return &WebhookSink{client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSink) Supports(ch Channel) bool {
	return ch == ChannelWebhook || ch == ChannelPagerDuty
}

func (s *WebhookSink) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.Target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// LogSink records the message and succeeds; it backs channels with no real
// transport configured, email included
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{logger: log.WithComponent("notify")}
}

func (s *LogSink) Supports(Channel) bool { return true }

func (s *LogSink) Send(_ context.Context, msg Message) error {
	s.logger.Info().
		Str("channel", string(msg.Channel)).
		Str("target", msg.Target).
		Str("subject", msg.Subject).
		Msg("notification")
	return nil
}
