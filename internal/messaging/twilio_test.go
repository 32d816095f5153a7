package messaging

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwilioShouldRetry(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"30003", true},
		{"30001", true},
		{"21211", false},
		{"30004", false},
		{"", true},
		{"99999", true},
	}
	for _, tc := range cases {
		if got := TwilioShouldRetry(tc.code); got != tc.want {
			t.Errorf("TwilioShouldRetry(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestMapTwilioStatus(t *testing.T) {
	assert.Equal(t, StatusQueued, mapTwilioStatus("queued", StatusSent))
	assert.Equal(t, StatusQueued, mapTwilioStatus("sending", StatusSent))
	assert.Equal(t, StatusDelivered, mapTwilioStatus("delivered", StatusSent))
	assert.Equal(t, StatusUndelivered, mapTwilioStatus("undelivered", StatusSent))
	assert.Equal(t, StatusFailed, mapTwilioStatus("canceled", StatusSent))
	assert.Equal(t, StatusSent, mapTwilioStatus("something-new", StatusSent))
}

func TestParseTwilioStatusWebhook(t *testing.T) {
	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("MessageStatus", "failed")
	form.Set("To", "+491701234567")
	form.Set("From", "+4930123456")
	form.Set("ErrorCode", "30003")
	form.Set("ErrorMessage", "Unreachable destination handset")

	r := httptest.NewRequest("POST", "/webhooks/sms/twilio/status", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	hook, err := ParseTwilioStatusWebhook(r, now)
	require.NoError(t, err)
	assert.Equal(t, "SM123", hook.MessageSid)
	assert.Equal(t, StatusFailed, hook.Status)
	assert.Equal(t, "30003", hook.ErrorCode)
	assert.Equal(t, now, hook.ReceivedAt)
}

func TestParseTwilioStatusWebhookRejectsUnknownStatus(t *testing.T) {
	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("MessageStatus", "teleported")
	r := httptest.NewRequest("POST", "/webhooks/sms/twilio/status", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, err := ParseTwilioStatusWebhook(r, time.Now())
	require.Error(t, err)
}

func TestValidateTwilioSignature(t *testing.T) {
	authToken := "secret-token"
	webhookURL := "https://agent.example.de/webhooks/sms/twilio/status"

	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("MessageStatus", "delivered")

	payload := buildSignaturePayload(webhookURL, form)
	signature := computeSignature(payload, authToken)

	r := httptest.NewRequest("POST", "/webhooks/sms/twilio/status", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Twilio-Signature", signature)
	assert.True(t, ValidateTwilioSignature(r, authToken, webhookURL))

	r2 := httptest.NewRequest("POST", "/webhooks/sms/twilio/status", strings.NewReader(form.Encode()))
	r2.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r2.Header.Set("X-Twilio-Signature", "bogus")
	assert.False(t, ValidateTwilioSignature(r2, authToken, webhookURL))

	r3 := httptest.NewRequest("POST", "/webhooks/sms/twilio/status", strings.NewReader(form.Encode()))
	r3.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.False(t, ValidateTwilioSignature(r3, authToken, webhookURL))
}

func TestBuildSignaturePayloadSortsKeys(t *testing.T) {
	form := url.Values{}
	form.Set("Zebra", "1")
	form.Set("Alpha", "2")
	payload := buildSignaturePayload("https://example.de/hook", form)
	assert.Equal(t, "https://example.de/hookAlpha2Zebra1", payload)
}
