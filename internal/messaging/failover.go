package messaging

import (
	"context"
	"errors"

	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// FailoverGateway attempts a primary send, then falls back to a secondary
// provider when the primary reports a gateway-level failure.
type FailoverGateway struct {
	primary   Gateway
	secondary Gateway
	logger    *logging.Logger
}

func NewFailoverGateway(primary, secondary Gateway, logger *logging.Logger) *FailoverGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &FailoverGateway{primary: primary, secondary: secondary, logger: logger.WithComponent("sms_failover")}
}

func (f *FailoverGateway) Name() string {
	if f.secondary == nil {
		return f.primary.Name()
	}
	return f.primary.Name() + "+" + f.secondary.Name()
}

func (f *FailoverGateway) Send(ctx context.Context, to, from, body string) (*Result, error) {
	if f == nil || f.primary == nil {
		return nil, errors.New("messaging: failover primary gateway not configured")
	}
	result, err := f.primary.Send(ctx, to, from, body)
	if err == nil && result.Success {
		return result, nil
	}
	if f.secondary == nil {
		return result, err
	}
	f.logger.Warn("primary sms send failed; attempting fallback",
		"provider", f.primary.Name(),
		"fallback", f.secondary.Name(),
		"to", to,
	)
	fallbackResult, fallbackErr := f.secondary.Send(ctx, to, from, body)
	if fallbackErr != nil || !fallbackResult.Success {
		f.logger.Error("fallback sms send failed",
			"provider", f.secondary.Name(),
			"to", to,
		)
	}
	return fallbackResult, fallbackErr
}

func (f *FailoverGateway) SendBulk(ctx context.Context, from string, to []string, body string) ([]*Result, error) {
	results := make([]*Result, len(to))
	for i, recipient := range to {
		res, err := f.Send(ctx, recipient, from, body)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

// GetStatus asks the provider that actually carried the message. sipgate
// ids are synthesized with a fixed prefix, so routing is a prefix check.
func (f *FailoverGateway) GetStatus(ctx context.Context, providerMessageID string) (*Result, error) {
	if gatewayForMessageID(providerMessageID) == "sipgate" && f.secondary != nil && f.secondary.Name() == "sipgate" {
		return f.secondary.GetStatus(ctx, providerMessageID)
	}
	return f.primary.GetStatus(ctx, providerMessageID)
}

func gatewayForMessageID(providerMessageID string) string {
	if len(providerMessageID) > 8 && providerMessageID[:8] == "sipgate_" {
		return "sipgate"
	}
	return "twilio"
}
