package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	logx "sessiond/pkg/logx"
)

// LogSink writes notices to the structured log. Always safe to install.
type LogSink struct {
	Log logx.Logger
}

func (s LogSink) Send(_ context.Context, n Notice) error {
	log := s.Log
	if log.IsZero() {
		return nil
	}
	fields := []logx.Field{logx.String("body", n.Body)}
	switch n.Level {
	case LevelError:
		log.Error(n.Title, fields...)
	case LevelWarn:
		log.Warn(n.Title, fields...)
	default:
		log.Info(n.Title, fields...)
	}
	return nil
}

// WebhookSink POSTs notices as JSON to a configured endpoint.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

type webhookPayload struct {
	Level string    `json:"level"`
	Title string    `json:"title"`
	Body  string    `json:"body,omitempty"`
	At    time.Time `json:"at"`
}

func (s WebhookSink) Send(ctx context.Context, n Notice) error {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	b, err := json.Marshal(webhookPayload{
		Level: n.Level.String(),
		Title: n.Title,
		Body:  n.Body,
		At:    n.At,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
