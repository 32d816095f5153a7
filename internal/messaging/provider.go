package messaging

import (
	"fmt"
	"strings"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

const (
	// SMSProviderAuto tries Twilio first, then sipgate.
	SMSProviderAuto = "auto"
	// SMSProviderTwilio forces the Twilio gateway when credentials exist.
	SMSProviderTwilio = "twilio"
	// SMSProviderSipgate forces the sipgate gateway when credentials exist.
	SMSProviderSipgate = "sipgate"
)

// ProviderSelectionConfig captures the credentials needed to build gateways.
type ProviderSelectionConfig struct {
	Preference        string
	TwilioAccountSID  string
	TwilioAuthToken   string
	StatusCallbackURL string
	SipgateToken      string
	SipgateSMSID      string
}

// BuildGateway instantiates a Gateway based on the preferred provider. It
// returns the gateway, the provider that was selected, and a reason when no
// provider could be initialized.
func BuildGateway(cfg ProviderSelectionConfig, clk clock.Clock, logger *logging.Logger) (Gateway, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	preference := strings.ToLower(strings.TrimSpace(cfg.Preference))
	if preference == "" {
		preference = SMSProviderAuto
	}

	missing := map[string]string{}
	var twilioGateway, sipgateGateway Gateway

	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		twilioGateway = NewTwilioGateway(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.StatusCallbackURL, logger)
	} else {
		var reasons []string
		if cfg.TwilioAccountSID == "" {
			reasons = append(reasons, "TWILIO_ACCOUNT_SID missing")
		}
		if cfg.TwilioAuthToken == "" {
			reasons = append(reasons, "TWILIO_AUTH_TOKEN missing")
		}
		missing[SMSProviderTwilio] = strings.Join(reasons, ", ")
	}

	if cfg.SipgateToken != "" {
		sipgateGateway = NewSipgateGateway(cfg.SipgateToken, cfg.SipgateSMSID, clk, logger)
	} else {
		missing[SMSProviderSipgate] = "SIPGATE_TOKEN missing"
	}

	if preference != SMSProviderAuto {
		if preference == SMSProviderTwilio && twilioGateway != nil {
			return twilioGateway, SMSProviderTwilio, ""
		}
		if preference == SMSProviderSipgate && sipgateGateway != nil {
			return sipgateGateway, SMSProviderSipgate, ""
		}
		reason := missing[preference]
		if reason == "" {
			reason = fmt.Sprintf("%s gateway not configured", preference)
		}
		return nil, "", reason
	}

	if twilioGateway != nil && sipgateGateway != nil {
		return NewFailoverGateway(twilioGateway, sipgateGateway, logger), SMSProviderTwilio + "+" + SMSProviderSipgate, ""
	}
	if twilioGateway != nil {
		return twilioGateway, SMSProviderTwilio, ""
	}
	if sipgateGateway != nil {
		return sipgateGateway, SMSProviderSipgate, ""
	}

	var reasons []string
	for _, provider := range []string{SMSProviderTwilio, SMSProviderSipgate} {
		if msg := missing[provider]; msg != "" {
			reasons = append(reasons, fmt.Sprintf("%s: %s", provider, msg))
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "no SMS providers configured")
	}
	return nil, "", strings.Join(reasons, "; ")
}
