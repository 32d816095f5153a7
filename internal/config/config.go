package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Tenant this instance serves. Single-practice deployments run one
	// process per tenant; the task tables stay multi-tenant underneath.
	TenantID      string
	PracticeName  string
	PracticePhone string

	// HTTP surface
	AdminAuthSecret    string
	MediaStreamToken   string
	CORSAllowedOrigins []string
	WebhookRateLimit   float64
	WebhookBurst       int

	// Dialer
	DialerMaxConcurrentCalls int
	DialerCallsPerMinute     int
	DialerMaxAttempts        int
	DialerRetryBaseDelay     time.Duration
	DialerRingTimeout        time.Duration
	DialerDrainTimeout       time.Duration

	// Business hours (defaults; tenants may override per record)
	BusinessHoursStart string
	BusinessHoursEnd   string
	BusinessWeekdays   bool
	BusinessTimezone   string

	// SMS
	SMSProvider          string
	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioFromNumber     string
	TwilioValidateSig    bool
	SipgateTokenID       string
	SipgateToken         string
	SipgateSMSID         string
	SMSMaxRetries        int
	SMSRetryBaseDelay    time.Duration
	SMSRetryMaxDelay     time.Duration
	RetrySweeperInterval time.Duration
	RetrySweeperBatch    int

	// Email
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESRegion         string
	SMTPHost          string
	SMTPPort          int
	SMTPUser          string
	SMTPPassword      string

	// Email intake
	IntakePollInterval    time.Duration
	IntakeCredentialKey   string
	IntakeIMAPHost        string
	IntakeIMAPPort        int
	IntakeIMAPUsername    string
	IntakeIMAPPassword    string
	IntakeIMAPFolder      string
	IntakeProcessedFolder string
	IntakeMarkRead        bool
	IntakeAutoReply       bool

	// LLM classifier
	AWSRegion      string
	BedrockModelID string

	// Conversation session store
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	SessionTTL    time.Duration

	// Campaigns
	ReminderHoursBefore      int
	ReminderMinHoursBefore   int
	ReminderMaxAttempts      int
	ReminderRetryDelay       time.Duration
	ReminderSMSAfterAttempts int
	RecallMaxAttempts        int
	RecallDaysBetween        int
	NoShowMinHoursAfter      float64
	NoShowMaxHoursAfter      float64
	NoShowMaxAttempts        int
	NoShowRetryDelay         time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		TenantID:      getEnv("TENANT_ID", ""),
		PracticeName:  getEnv("PRACTICE_NAME", "die Praxis"),
		PracticePhone: getEnv("PRACTICE_PHONE", ""),

		AdminAuthSecret:    getEnv("ADMIN_AUTH_SECRET", ""),
		MediaStreamToken:   getEnv("MEDIA_STREAM_TOKEN", ""),
		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS"),
		WebhookRateLimit:   getEnvAsFloat("WEBHOOK_RATE_LIMIT", 25),
		WebhookBurst:       getEnvAsInt("WEBHOOK_BURST", 50),

		DialerMaxConcurrentCalls: getEnvAsInt("DIALER_MAX_CONCURRENT_CALLS", 1),
		DialerCallsPerMinute:     getEnvAsInt("DIALER_CALLS_PER_MINUTE", 4),
		DialerMaxAttempts:        getEnvAsInt("DIALER_MAX_ATTEMPTS", 3),
		DialerRetryBaseDelay:     getEnvAsDuration("DIALER_RETRY_BASE_DELAY", 60*time.Minute),
		DialerRingTimeout:        getEnvAsDuration("DIALER_RING_TIMEOUT", 25*time.Second),
		DialerDrainTimeout:       getEnvAsDuration("DIALER_DRAIN_TIMEOUT", 30*time.Second),

		BusinessHoursStart: getEnv("BUSINESS_HOURS_START", "09:00"),
		BusinessHoursEnd:   getEnv("BUSINESS_HOURS_END", "18:00"),
		BusinessWeekdays:   getEnvAsBool("BUSINESS_WEEKDAYS_ONLY", true),
		BusinessTimezone:   getEnv("BUSINESS_TZ", "Europe/Berlin"),

		SMSProvider:          strings.ToLower(strings.TrimSpace(getEnv("SMS_PROVIDER", "twilio"))),
		TwilioAccountSID:     getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:      getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:     getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioValidateSig:    getEnvAsBool("TWILIO_VALIDATE_SIGNATURE", true),
		SipgateTokenID:       getEnv("SIPGATE_TOKEN_ID", ""),
		SipgateToken:         getEnv("SIPGATE_TOKEN", ""),
		SipgateSMSID:         getEnv("SIPGATE_SMS_ID", "s0"),
		SMSMaxRetries:        getEnvAsInt("SMS_MAX_RETRIES", 3),
		SMSRetryBaseDelay:    getEnvAsDuration("SMS_RETRY_BASE_DELAY", 60*time.Second),
		SMSRetryMaxDelay:     getEnvAsDuration("SMS_RETRY_MAX_DELAY", 1*time.Hour),
		RetrySweeperInterval: getEnvAsDuration("RETRY_SWEEPER_INTERVAL", 30*time.Second),
		RetrySweeperBatch:    getEnvAsInt("RETRY_SWEEPER_BATCH", 25),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "sendgrid"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Telefonassistent"),
		SESRegion:         getEnv("SES_REGION", "eu-central-1"),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:          getEnv("SMTP_USER", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),

		IntakePollInterval:    getEnvAsDuration("INTAKE_POLL_INTERVAL", 2*time.Minute),
		IntakeCredentialKey:   getEnv("INTAKE_CREDENTIAL_KEY", ""),
		IntakeIMAPHost:        getEnv("INTAKE_IMAP_HOST", ""),
		IntakeIMAPPort:        getEnvAsInt("INTAKE_IMAP_PORT", 993),
		IntakeIMAPUsername:    getEnv("INTAKE_IMAP_USERNAME", ""),
		IntakeIMAPPassword:    getEnv("INTAKE_IMAP_PASSWORD", ""),
		IntakeIMAPFolder:      getEnv("INTAKE_IMAP_FOLDER", "INBOX"),
		IntakeProcessedFolder: getEnv("INTAKE_PROCESSED_FOLDER", ""),
		IntakeMarkRead:        getEnvAsBool("INTAKE_MARK_READ", true),
		IntakeAutoReply:       getEnvAsBool("INTAKE_AUTO_REPLY", false),

		AWSRegion:      getEnv("AWS_REGION", "eu-central-1"),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 24*time.Hour),

		ReminderHoursBefore:      getEnvAsInt("REMINDER_HOURS_BEFORE", 24),
		ReminderMinHoursBefore:   getEnvAsInt("REMINDER_MIN_HOURS_BEFORE", 2),
		ReminderMaxAttempts:      getEnvAsInt("REMINDER_MAX_ATTEMPTS", 2),
		ReminderRetryDelay:       getEnvAsDuration("REMINDER_RETRY_DELAY", 60*time.Minute),
		ReminderSMSAfterAttempts: getEnvAsInt("REMINDER_SMS_AFTER_ATTEMPTS", 2),
		RecallMaxAttempts:        getEnvAsInt("RECALL_MAX_ATTEMPTS", 3),
		RecallDaysBetween:        getEnvAsInt("RECALL_DAYS_BETWEEN", 7),
		NoShowMinHoursAfter:      getEnvAsFloat("NOSHOW_MIN_HOURS_AFTER", 0.5),
		NoShowMaxHoursAfter:      getEnvAsFloat("NOSHOW_MAX_HOURS_AFTER", 72),
		NoShowMaxAttempts:        getEnvAsInt("NOSHOW_MAX_ATTEMPTS", 2),
		NoShowRetryDelay:         getEnvAsDuration("NOSHOW_RETRY_DELAY", 4*time.Hour),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsSlice splits a comma-separated environment variable into
// trimmed, non-empty entries.
func getEnvAsSlice(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
