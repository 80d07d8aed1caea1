package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
)

const (
	colorWarning  = 0xF1C40F
	colorCritical = 0xE74C3C

	// Discord rejects embed field values over 1024 characters.
	maxFieldValue = 1024
)

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Footer      discordFooter  `json:"footer"`
	Timestamp   string         `json:"timestamp"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

// DiscordSender delivers alerts as webhook embeds.
type DiscordSender struct {
	webhookURL string
	http       *resty.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string, timeout time.Duration) (*DiscordSender, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("webhook url cannot be empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetHeader("Content-Type", "application/json")

	return &DiscordSender{webhookURL: webhookURL, http: client}, nil
}

// Send posts the alert to the webhook. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, alert Alert) error {
	color := colorWarning
	if alert.Severity == SeverityCritical {
		color = colorCritical
	}

	embed := discordEmbed{
		Title:       alert.Title,
		Description: alert.Message,
		Color:       color,
		Footer:      discordFooter{Text: "order-reconciler"},
		Timestamp:   alert.Time.UTC().Format(time.RFC3339),
	}
	for _, f := range alert.Fields {
		value := f.Value
		if len(value) > maxFieldValue {
			value = value[:maxFieldValue-3] + "..."
		}
		embed.Fields = append(embed.Fields, discordField{Name: f.Name, Value: value})
	}

	resp, err := d.http.R().
		SetContext(ctx).
		SetBody(discordPayload{Embeds: []discordEmbed{embed}}).
		Post(d.webhookURL)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}

	if resp.IsError() {
		body := resp.String()
		if len(body) > 256 {
			body = body[:256]
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), body)
	}

	return nil
}

// Name returns the channel identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
