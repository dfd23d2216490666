package domain

import (
	"context"
	"net/http"
)

// AdapterConfig carries the per-provider settings resolved at startup.
type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

// Adapter verifies and parses the deliveries of one provider.
type Adapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*BillingEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}
