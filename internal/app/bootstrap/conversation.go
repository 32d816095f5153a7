package bootstrap

import (
	"go.opentelemetry.io/otel"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	appconfig "github.com/itf-gmbh/phone-agent/internal/config"
	"github.com/itf-gmbh/phone-agent/internal/conversation"
	"github.com/itf-gmbh/phone-agent/internal/triage"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// buildConversationRunner wires the dialogue driver into the dialer's
// conversation hook. The stub turn pipeline carries the call until a
// real media bridge with speech endpoints is attached; session state
// still round-trips through Redis so resumed calls pick up mid-dialogue.
func buildConversationRunner(rt *Runtime, cfg *appconfig.Config, clk clock.Clock, logger *logging.Logger) *conversation.Runner {
	driver := conversation.NewDriver(cfg.PracticeName, clk, logger).
		WithTriage(triage.NewEngine(clk))
	turnIO := conversation.NewStubTurnIO(nil, logger)
	runner := conversation.NewRunner(driver, turnIO, clk, logger)
	if rt.Redis != nil {
		tracer := otel.Tracer("phone-agent/conversation")
		runner = runner.WithSessionStore(conversation.NewSessionStore(rt.Redis, tracer))
	}
	return runner
}
