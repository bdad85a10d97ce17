// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/flotilla-foundation/flotilla/lib/redact"
	"github.com/flotilla-foundation/flotilla/protocol"
)

// notification is the webhook request body.
type notification struct {
	TaskID  int64  `json:"task_id"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Messenger relays a directive to an external webhook as a JSON POST.
// The message always passes the redaction filter first: the webhook
// is outside the mesh, so nothing secret-shaped may reach it even
// when the directive embeds credentials.
type Messenger struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

var _ Runtime = (*Messenger)(nil)

// NewMessenger builds the relay runtime. WebhookURL is required.
func NewMessenger(cfg Config) (*Messenger, error) {
	cfg = cfg.withDefaults()
	if cfg.WebhookURL == "" {
		return nil, errors.New("agent: messenger requires a webhook URL")
	}
	return &Messenger{
		url:    cfg.WebhookURL,
		client: cfg.HTTPClient,
		logger: cfg.Logger.With("component", "agent", "runtime", "messenger"),
	}, nil
}

func (m *Messenger) Name() string { return "messenger" }

func (m *Messenger) Capability() string { return protocol.CapabilityAutomation }

// Process posts the redacted directive to the webhook. Result content
// is the body that was actually sent, so callers and the ledger see
// exactly what left the mesh. Any transport or status failure is an
// ExecutionError.
func (m *Messenger) Process(ctx context.Context, directive Directive) (Result, error) {
	body, err := json.Marshal(notification{
		TaskID:  directive.TaskID,
		Source:  directive.Source,
		Message: redact.Redact(directive.Instruction),
	})
	if err != nil {
		return Result{}, &ExecutionError{Agent: m.Name(), Err: fmt.Errorf("encoding notification: %w", err)}
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, &ExecutionError{Agent: m.Name(), Err: fmt.Errorf("building webhook request: %w", err)}
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := m.client.Do(request)
	if err != nil {
		return Result{}, &ExecutionError{Agent: m.Name(), Err: fmt.Errorf("posting webhook: %w", err)}
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return Result{}, &ExecutionError{Agent: m.Name(), Err: fmt.Errorf("webhook returned %s", response.Status)}
	}

	m.logger.Info("notification relayed", "task_id", directive.TaskID, "status", response.StatusCode)
	return Result{Content: string(body), Kind: KindNotification}, nil
}
