package conversation

import (
	"context"
	"io"
	"sync"

	"github.com/itf-gmbh/phone-agent/internal/telephony"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// StubTurnIO stands in for the media bridge and speech pipeline in local
// and simulated deployments. Every opened call replays the same caller
// script; spoken sentences go to the log instead of a TTS engine.
type StubTurnIO struct {
	script []string
	logger *logging.Logger
}

func NewStubTurnIO(script []string, logger *logging.Logger) *StubTurnIO {
	if len(script) == 0 {
		script = []string{"Ja, der Termin passt.", "Danke, auf Wiederhören."}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StubTurnIO{script: script, logger: logger.WithComponent("stub_turnio")}
}

func (s *StubTurnIO) Open(ctx context.Context, call *telephony.Call) (TurnSource, Speaker, error) {
	src := &scriptedSource{script: s.script}
	spk := &loggingSpeaker{logger: s.logger, callID: call.ID.String()}
	return src, spk, nil
}

type scriptedSource struct {
	mu     sync.Mutex
	script []string
	next   int
}

func (s *scriptedSource) NextUtterance(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.script) {
		return "", io.EOF
	}
	utterance := s.script[s.next]
	s.next++
	return utterance, nil
}

type loggingSpeaker struct {
	logger *logging.Logger
	callID string
}

func (s *loggingSpeaker) Speak(ctx context.Context, sentence string) error {
	s.logger.Info("agent speaks", "call_id", s.callID, "sentence", sentence)
	return ctx.Err()
}
