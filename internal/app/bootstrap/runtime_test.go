package bootstrap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/itf-gmbh/phone-agent/internal/config"
	"github.com/itf-gmbh/phone-agent/internal/notify"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		TenantID:           uuid.NewString(),
		PracticeName:       "Praxis Dr. Weber",
		BusinessHoursStart: "09:00",
		BusinessHoursEnd:   "18:00",
		BusinessWeekdays:   true,
		BusinessTimezone:   "Europe/Berlin",
		EmailProvider:      "stub",
	}
}

func TestNewWithoutBackends(t *testing.T) {
	cfg := testConfig()
	rt, err := New(context.Background(), cfg, logging.Default())
	require.NoError(t, err)
	defer rt.Close()

	assert.NotNil(t, rt.Dialer)
	assert.NotNil(t, rt.Controller)
	assert.NotNil(t, rt.Runner)
	assert.NotNil(t, rt.MetricsRegistry)
	// No database: stores and campaigns stay off.
	assert.Nil(t, rt.Tenants)
	assert.Nil(t, rt.Reminders)
	assert.Nil(t, rt.Routing)
	assert.Nil(t, rt.Sweeper)
}

func TestNewRejectsBadTenantID(t *testing.T) {
	cfg := testConfig()
	cfg.TenantID = "not-a-uuid"
	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)

	cfg.TenantID = ""
	_, err = New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestNewRejectsBadBusinessHours(t *testing.T) {
	cfg := testConfig()
	cfg.BusinessTimezone = "Mars/Olympus"
	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestBuildRedisClient(t *testing.T) {
	srv := miniredis.RunT(t)

	cfg := testConfig()
	cfg.RedisAddr = srv.Addr()
	client := BuildRedisClient(context.Background(), cfg, logging.Default(), true)
	require.NotNil(t, client)
	defer client.Close()

	cfg.RedisAddr = "127.0.0.1:1"
	assert.Nil(t, BuildRedisClient(context.Background(), cfg, logging.Default(), true),
		"unreachable redis with verify should yield nil")

	cfg.RedisAddr = ""
	assert.Nil(t, BuildRedisClient(context.Background(), cfg, logging.Default(), false))
}

func TestBuildEmailSenderSelection(t *testing.T) {
	logger := logging.Default()

	cfg := testConfig()
	cfg.EmailProvider = "stub"
	sender, provider, err := BuildEmailSender(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, "stub", provider)
	assert.IsType(t, &notify.StubEmailSender{}, sender)

	cfg.EmailProvider = "sendgrid"
	cfg.SendGridAPIKey = ""
	sender, provider, err = BuildEmailSender(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.Nil(t, sender)
	assert.Empty(t, provider)

	cfg.EmailProvider = "carrier-pigeon"
	_, _, err = BuildEmailSender(context.Background(), cfg, logger)
	require.Error(t, err)
}

func TestTwilioStatusCallbackURL(t *testing.T) {
	cfg := testConfig()
	assert.Empty(t, TwilioStatusCallbackURL(cfg))

	cfg.PublicBaseURL = "https://agent.example.de/"
	assert.Equal(t, "https://agent.example.de/webhooks/twilio/sms-status", TwilioStatusCallbackURL(cfg))
}
