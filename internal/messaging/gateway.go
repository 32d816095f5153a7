package messaging

import "context"

// Result is the provider's answer to a send or status request.
type Result struct {
	Success           bool
	ProviderMessageID string
	Status            Status
	ErrorCode         string
	ErrorMessage      string
	Segments          int
	CostEUR           float64
	Retryable         bool
}

// Gateway sends SMS through a provider. Implementations must be safe for
// concurrent use.
type Gateway interface {
	Name() string
	Send(ctx context.Context, to, from, body string) (*Result, error)
	SendBulk(ctx context.Context, from string, to []string, body string) ([]*Result, error)
	// GetStatus polls the provider for the current delivery status.
	// Providers without status callbacks return their best guess.
	GetStatus(ctx context.Context, providerMessageID string) (*Result, error)
}
