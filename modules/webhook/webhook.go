// Package webhook is a builtin module that announces session start and end
// to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sessiond/internal/module"
	logx "sessiond/pkg/logx"
)

const Name = "webhook"

type mod struct {
	log    logx.Logger
	client *http.Client

	url     *module.Setting
	secret  *module.Setting
	payload *module.Setting
}

type event struct {
	Event   string `json:"event"`
	Module  string `json:"module"`
	At      string `json:"at"`
	Payload string `json:"payload,omitempty"`
}

// New is the builtin factory registered under "builtin:webhook". The HTTP
// client comes from the isolation scope, so concurrent instances never share
// connection state.
func New(scope *module.Scope) (module.Module, error) {
	return &mod{
		log:     scope.Log(),
		client:  scope.HTTPClient(),
		url:     module.NewSetting("url", "Webhook URL", ""),
		secret:  module.NewSetting("secret", "Bearer token", "").WithDescription("Optional Authorization bearer token"),
		payload: module.NewSetting("payload", "Extra payload", "").WithDescription("Free-form string forwarded with each event"),
	}, nil
}

func (m *mod) Settings() []*module.Setting {
	return []*module.Setting{m.url, m.secret, m.payload}
}

func (m *mod) Actions() []module.Action {
	return []module.Action{
		{
			Name:        "test",
			Description: "Send a test event to the configured URL",
			Run: func(ctx context.Context) error {
				return m.post(ctx, "test")
			},
		},
	}
}

func (m *mod) Init(ctx context.Context) error { return nil }

func (m *mod) ValidateSettings(ctx context.Context) module.ValidationResult {
	raw := strings.TrimSpace(m.url.Get())
	if raw == "" {
		return module.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return module.Errorf("url must be an absolute http(s) URL")
	}
	if u.Scheme == "http" {
		return module.Warningf("webhook uses plain http")
	}
	return module.OK()
}

func (m *mod) OnSessionStart(ctx context.Context) error {
	return m.post(ctx, "session_start")
}

func (m *mod) OnSessionEnd(ctx context.Context) error {
	return m.post(ctx, "session_end")
}

func (m *mod) Close() error { return nil }

func (m *mod) post(ctx context.Context, kind string) error {
	body, err := json.Marshal(event{
		Event:   kind,
		Module:  Name,
		At:      time.Now().Format(time.RFC3339),
		Payload: strings.TrimSpace(m.payload.Get()),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSpace(m.url.Get()), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := strings.TrimSpace(m.secret.Get()); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", kind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: unexpected status %s", kind, resp.Status)
	}
	m.log.Debug("webhook delivered", logx.String("event", kind))
	return nil
}
