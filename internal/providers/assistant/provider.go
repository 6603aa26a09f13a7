// Package assistant wraps the external AI chat completion collaborator. The
// ticket ledger treats it as opaque: it is called only after a successful
// spend, and its failures never reverse a spend.
package assistant

import "context"

// Message is one turn of prior conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply is the completion returned by the collaborator.
type Reply struct {
	Content string `json:"content"`
}

type Provider interface {
	Send(ctx context.Context, query string, history []Message) (*Reply, error)
}

// NoOpProvider satisfies Provider for environments without an assistant
// endpoint configured.
type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, query string, history []Message) (*Reply, error) {
	return &Reply{}, nil
}
