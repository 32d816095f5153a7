package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// SipgateGateway sends SMS through the sipgate.io REST API. sipgate has no
// delivery status callbacks, so accepted messages report "sent" and stay
// there unless GetStatus is asked.
type SipgateGateway struct {
	token      string
	smsID      string
	baseURL    string
	httpClient *http.Client
	clk        clock.Clock
	logger     *logging.Logger
}

func NewSipgateGateway(token, smsID string, clk clock.Clock, logger *logging.Logger) *SipgateGateway {
	if smsID == "" {
		smsID = "s0"
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SipgateGateway{
		token:      token,
		smsID:      smsID,
		baseURL:    "https://api.sipgate.com/v2",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		clk:        clk,
		logger:     logger.WithComponent("sipgate"),
	}
}

func (g *SipgateGateway) Name() string { return "sipgate" }

func (g *SipgateGateway) Send(ctx context.Context, to, _ string, body string) (*Result, error) {
	if g.token == "" {
		return nil, errors.New("messaging: sipgate token missing")
	}
	if to == "" || strings.TrimSpace(body) == "" {
		return nil, errors.New("messaging: to and body required")
	}

	payload, err := json.Marshal(map[string]string{
		"smsId":     g.smsID,
		"recipient": to,
		"message":   body,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: marshal sipgate payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/sessions/sms", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("messaging: build sipgate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &Result{Status: StatusFailed, ErrorMessage: err.Error(), Retryable: true}, nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// sipgate returns no message id; synthesize one so delivery
		// tracking has a handle.
		id := fmt.Sprintf("sipgate_%d", g.clk.Now().UnixNano())
		g.logger.Info("sipgate sms accepted", "to", to, "provider_message_id", id)
		return &Result{
			Success:           true,
			ProviderMessageID: id,
			Status:            StatusSent,
			Segments:          CountSegments(body),
		}, nil
	}

	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	retryable := resp.StatusCode == 429 || resp.StatusCode >= 500
	g.logger.Warn("sipgate sms rejected", "to", to, "status", resp.StatusCode)
	return &Result{
		Status:       StatusFailed,
		ErrorCode:    fmt.Sprintf("http_%d", resp.StatusCode),
		ErrorMessage: msg,
		Retryable:    retryable,
	}, nil
}

func (g *SipgateGateway) SendBulk(ctx context.Context, from string, to []string, body string) ([]*Result, error) {
	results := make([]*Result, len(to))
	for i, recipient := range to {
		res, err := g.Send(ctx, recipient, from, body)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

// GetStatus has nothing to poll; without callbacks "sent" is as far as
// sipgate messages get.
func (g *SipgateGateway) GetStatus(_ context.Context, providerMessageID string) (*Result, error) {
	return &Result{
		Success:           true,
		ProviderMessageID: providerMessageID,
		Status:            StatusSent,
	}, nil
}
