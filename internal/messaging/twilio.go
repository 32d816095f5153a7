package messaging

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

var twilioTracer = otel.Tracer("phoneagent.internal.messaging.twilio")

// twilioStatusMap translates Twilio message statuses to ours.
var twilioStatusMap = map[string]Status{
	"queued":      StatusQueued,
	"sending":     StatusQueued,
	"sent":        StatusSent,
	"delivered":   StatusDelivered,
	"failed":      StatusFailed,
	"undelivered": StatusUndelivered,
	"canceled":    StatusFailed,
}

// Carrier-side errors worth retrying.
var twilioRetryableErrors = map[string]bool{
	"30001": true, // queue overflow
	"30002": true, // account suspended
	"30003": true, // unreachable destination handset
	"30005": true, // unknown destination handset
	"30006": true, // landline or unreachable carrier
	"30007": true, // carrier violation
	"30008": true, // unknown error
	"30009": true, // missing segment
	"30010": true, // message price exceeds max
}

// Errors that will never succeed on retry.
var twilioNonRetryableErrors = map[string]bool{
	"21211": true, // invalid 'To' number
	"21612": true, // 'To' number not reachable via this 'From'
	"21614": true, // 'To' number is not a valid mobile number
	"30004": true, // message blocked by recipient
	"30011": true, // MMS not supported
}

// TwilioShouldRetry reports whether a delivery failure with this error code
// is worth another attempt. Unknown codes default to retryable.
func TwilioShouldRetry(errorCode string) bool {
	if errorCode == "" {
		return true
	}
	if twilioNonRetryableErrors[errorCode] {
		return false
	}
	if twilioRetryableErrors[errorCode] {
		return true
	}
	return true
}

// TwilioGateway sends SMS through Twilio's REST API.
type TwilioGateway struct {
	accountSID     string
	authToken      string
	statusCallback string
	httpClient     *http.Client
	logger         *logging.Logger
}

func NewTwilioGateway(accountSID, authToken, statusCallbackURL string, logger *logging.Logger) *TwilioGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioGateway{
		accountSID:     accountSID,
		authToken:      authToken,
		statusCallback: statusCallbackURL,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		logger:         logger.WithComponent("twilio"),
	}
}

func (g *TwilioGateway) Name() string { return "twilio" }

func (g *TwilioGateway) Send(ctx context.Context, to, from, body string) (*Result, error) {
	if g.accountSID == "" || g.authToken == "" {
		return nil, errors.New("messaging: twilio credentials missing")
	}
	if to == "" || from == "" {
		return nil, errors.New("messaging: to and from required")
	}
	if strings.TrimSpace(body) == "" {
		return nil, errors.New("messaging: body required")
	}

	ctx, span := twilioTracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(attribute.String("phoneagent.to", to))

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", from)
	payload.Set("Body", body)
	if g.statusCallback != "" {
		payload.Set("StatusCallback", g.statusCallback)
	}

	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", g.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return nil, fmt.Errorf("messaging: build twilio request: %w", err)
	}
	req.SetBasicAuth(g.accountSID, g.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return &Result{Status: StatusFailed, ErrorMessage: err.Error(), Retryable: true}, nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed struct {
			SID         string  `json:"sid"`
			Status      string  `json:"status"`
			NumSegments string  `json:"num_segments"`
			Price       *string `json:"price"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("messaging: decode twilio response: %w", err)
		}
		result := &Result{
			Success:           true,
			ProviderMessageID: parsed.SID,
			Status:            mapTwilioStatus(parsed.Status, StatusSent),
			Segments:          CountSegments(body),
		}
		if n, err := strconv.Atoi(parsed.NumSegments); err == nil && n > 0 {
			result.Segments = n
		}
		if parsed.Price != nil {
			if p, err := strconv.ParseFloat(*parsed.Price, 64); err == nil {
				if p < 0 {
					p = -p
				}
				result.CostEUR = p
			}
		}
		g.logger.Info("twilio sms accepted", "sid", parsed.SID, "to", to, "segments", result.Segments)
		return result, nil
	}

	var apiErr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &apiErr)
	code := ""
	if apiErr.Code != 0 {
		code = strconv.Itoa(apiErr.Code)
	}
	msg := apiErr.Message
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	retryable := resp.StatusCode == 429 || resp.StatusCode >= 500 || (code != "" && TwilioShouldRetry(code))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 429 && code == "" {
		retryable = false
	}
	g.logger.Warn("twilio sms rejected", "to", to, "code", code, "error", msg)
	return &Result{
		Status:       StatusFailed,
		ErrorCode:    code,
		ErrorMessage: fmt.Sprintf("[%s] %s", code, msg),
		Retryable:    retryable,
	}, nil
}

// SendBulk fans out sends with at most 10 in flight and preserves input
// order in the results.
func (g *TwilioGateway) SendBulk(ctx context.Context, from string, to []string, body string) ([]*Result, error) {
	sem := semaphore.NewWeighted(10)
	results := make([]*Result, len(to))
	errs := make([]error, len(to))
	for i, recipient := range to {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("messaging: bulk send: %w", err)
		}
		go func(i int, recipient string) {
			defer sem.Release(1)
			results[i], errs[i] = g.Send(ctx, recipient, from, body)
		}(i, recipient)
	}
	if err := sem.Acquire(ctx, 10); err != nil {
		return nil, fmt.Errorf("messaging: bulk send: %w", err)
	}
	sem.Release(10)
	for i, err := range errs {
		if err != nil {
			results[i] = &Result{Status: StatusFailed, ErrorMessage: err.Error(), Retryable: true}
		}
	}
	return results, nil
}

func (g *TwilioGateway) GetStatus(ctx context.Context, providerMessageID string) (*Result, error) {
	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages/%s.json", g.accountSID, providerMessageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: build twilio status request: %w", err)
	}
	req.SetBasicAuth(g.accountSID, g.authToken)
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("messaging: twilio status request: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("messaging: twilio status: unexpected status %d", resp.StatusCode)
	}
	var parsed struct {
		SID          string `json:"sid"`
		Status       string `json:"status"`
		ErrorCode    *int   `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("messaging: decode twilio status: %w", err)
	}
	result := &Result{
		Success:           true,
		ProviderMessageID: parsed.SID,
		Status:            mapTwilioStatus(parsed.Status, StatusSent),
		ErrorMessage:      parsed.ErrorMessage,
	}
	if parsed.ErrorCode != nil {
		result.ErrorCode = strconv.Itoa(*parsed.ErrorCode)
	}
	return result, nil
}

func mapTwilioStatus(raw string, fallback Status) Status {
	if mapped, ok := twilioStatusMap[strings.ToLower(raw)]; ok {
		return mapped
	}
	return fallback
}

// TwilioStatusWebhook is the parsed form of a Twilio status callback.
type TwilioStatusWebhook struct {
	MessageSid   string
	AccountSid   string
	To           string
	From         string
	TwilioStatus string
	Status       Status
	ErrorCode    string
	ErrorMessage string
	ReceivedAt   time.Time
}

// ParseTwilioStatusWebhook parses a status callback's form body.
func ParseTwilioStatusWebhook(r *http.Request, now time.Time) (*TwilioStatusWebhook, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("messaging: parse twilio webhook form: %w", err)
	}
	raw := r.FormValue("MessageStatus")
	hook := &TwilioStatusWebhook{
		MessageSid:   r.FormValue("MessageSid"),
		AccountSid:   r.FormValue("AccountSid"),
		To:           r.FormValue("To"),
		From:         r.FormValue("From"),
		TwilioStatus: raw,
		Status:       mapTwilioStatus(raw, ""),
		ErrorCode:    r.FormValue("ErrorCode"),
		ErrorMessage: r.FormValue("ErrorMessage"),
		ReceivedAt:   now,
	}
	if hook.MessageSid == "" {
		return nil, errors.New("messaging: twilio webhook missing MessageSid")
	}
	if hook.Status == "" {
		return nil, fmt.Errorf("messaging: twilio webhook unknown status %q", raw)
	}
	return hook, nil
}

// ValidateTwilioSignature checks that a request really came from Twilio.
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	payload := buildSignaturePayload(webhookURL, r.PostForm)
	return hmac.Equal([]byte(signature), []byte(computeSignature(payload, authToken)))
}

// buildSignaturePayload concatenates the URL with the sorted form params.
func buildSignaturePayload(url string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(url)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}
	return payload.String()
}

func computeSignature(data, key string) string {
	h := hmac.New(sha1.New, []byte(key))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
