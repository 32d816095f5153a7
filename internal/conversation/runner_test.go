package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itf-gmbh/phone-agent/internal/dialer"
	"github.com/itf-gmbh/phone-agent/internal/telephony"
)

// scriptedIO replays caller utterances and records spoken sentences.
type scriptedIO struct {
	utterances []string
	spoken     []string
	hangup     bool
}

func (s *scriptedIO) Open(context.Context, *telephony.Call) (TurnSource, Speaker, error) {
	return s, s, nil
}

func (s *scriptedIO) NextUtterance(context.Context) (string, error) {
	if len(s.utterances) == 0 {
		if s.hangup {
			return "", errors.New("remote hangup")
		}
		return "", errors.New("script exhausted")
	}
	next := s.utterances[0]
	s.utterances = s.utterances[1:]
	return next, nil
}

func (s *scriptedIO) Speak(_ context.Context, sentence string) error {
	s.spoken = append(s.spoken, sentence)
	return nil
}

type recordingEffects struct {
	handled []SideEffect
}

func (r *recordingEffects) Handle(_ context.Context, _ *Session, e SideEffect) error {
	r.handled = append(r.handled, e)
	return nil
}

func queuedReminder() dialer.QueuedCall {
	return dialer.QueuedCall{
		CallID:    uuid.New(),
		PatientID: uuid.New(),
		Phone:     "+491701234567",
		CallType:  "reminder",
		Metadata: map[string]string{
			"patient_name":       "Max Mustermann",
			"patient_first_name": "Max",
			"provider_name":      "Dr. Müller",
			"appointment_at":     time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC).Format(time.RFC3339),
		},
	}
}

func TestRunnerConfirmsReminder(t *testing.T) {
	io := &scriptedIO{utterances: []string{"Ja, am Apparat", "Ja, das passt"}}
	effects := &recordingEffects{}
	runner := NewRunner(testDriver(), io, nil, nil).WithEffectHandler(effects)

	call := &telephony.Call{ID: uuid.New(), State: telephony.StateConfirmed}
	outcome, err := runner.RunCall(context.Background(), call, queuedReminder())
	require.NoError(t, err)
	assert.Equal(t, string(OutcomeAppointmentConfirmed), outcome)

	require.NotEmpty(t, io.spoken)
	assert.Contains(t, io.spoken[0], "Guten Morgen")
	require.Len(t, effects.handled, 1)
	assert.Equal(t, EffectSendSMS, effects.handled[0].Kind)
}

func TestRunnerSpeaksSentenceBySentence(t *testing.T) {
	io := &scriptedIO{utterances: []string{"Ja", "Ja passt"}}
	runner := NewRunner(testDriver(), io, nil, nil)

	call := &telephony.Call{ID: uuid.New()}
	_, err := runner.RunCall(context.Background(), call, queuedReminder())
	require.NoError(t, err)

	// The purpose statement is multiple sentences; each must arrive as
	// its own TTS unit.
	multi := 0
	for _, s := range io.spoken {
		if len(s) > 0 {
			multi++
		}
	}
	assert.Greater(t, multi, 3)
}

func TestRunnerHangupYieldsAbandoned(t *testing.T) {
	io := &scriptedIO{utterances: []string{"Ja, am Apparat"}, hangup: true}
	runner := NewRunner(testDriver(), io, nil, nil)

	call := &telephony.Call{ID: uuid.New()}
	outcome, err := runner.RunCall(context.Background(), call, queuedReminder())
	require.NoError(t, err)
	assert.Equal(t, string(OutcomeAbandoned), outcome)
}
