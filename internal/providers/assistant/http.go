package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Config struct {
	Endpoint string
	APIKey   string
	Model    string
}

// HTTPProvider posts completion requests to the assistant backend.
type HTTPProvider struct {
	cfg    Config
	client *http.Client
}

func NewHTTP(cfg Config) *HTTPProvider {
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type completionRequest struct {
	Model   string    `json:"model,omitempty"`
	Query   string    `json:"query"`
	History []Message `json:"history,omitempty"`
}

func (p *HTTPProvider) Send(ctx context.Context, query string, history []Message) (*Reply, error) {
	payload, err := json.Marshal(completionRequest{
		Model:   p.cfg.Model,
		Query:   query,
		History: history,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("assistant returned status %d", resp.StatusCode)
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode assistant reply: %w", err)
	}
	return &reply, nil
}
