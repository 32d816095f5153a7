package conversation

import (
	"context"
	"time"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/dialer"
	"github.com/itf-gmbh/phone-agent/internal/telephony"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// maxTurns bounds runaway dialogues.
const maxTurns = 30

// TurnSource yields transcribed caller utterances. The audio pipeline
// (media bridge plus STT) implements it in production; tests script it.
// An error signals the call ended (hangup, SIP BYE, transport close).
type TurnSource interface {
	NextUtterance(ctx context.Context) (string, error)
}

// Speaker plays one sentence to the caller (TTS plus media bridge).
type Speaker interface {
	Speak(ctx context.Context, sentence string) error
}

// EffectHandler executes a side effect requested by a dialogue handler.
// Failures are logged, never rolled back; the audit log is the record
// of truth.
type EffectHandler interface {
	Handle(ctx context.Context, sess *Session, effect SideEffect) error
}

// TurnIO builds the per-call source and speaker once the call is up.
type TurnIO interface {
	Open(ctx context.Context, call *telephony.Call) (TurnSource, Speaker, error)
}

// Runner wires the dialogue driver to the telephony layer and satisfies
// the dialer's conversation hook.
type Runner struct {
	driver   *Driver
	io       TurnIO
	sessions *SessionStore
	effects  EffectHandler
	clk      clock.Clock
	logger   *logging.Logger
}

func NewRunner(driver *Driver, io TurnIO, clk clock.Clock, logger *logging.Logger) *Runner {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Runner{
		driver: driver,
		io:     io,
		clk:    clk,
		logger: logger.WithComponent("conversation_runner"),
	}
}

// WithSessionStore persists sessions after every turn.
func (r *Runner) WithSessionStore(store *SessionStore) *Runner {
	r.sessions = store
	return r
}

// WithEffectHandler dispatches side effects to collaborators.
func (r *Runner) WithEffectHandler(handler EffectHandler) *Runner {
	r.effects = handler
	return r
}

// RunCall drives the dialogue on an answered call and returns the
// outcome string the campaign callback interprets.
func (r *Runner) RunCall(ctx context.Context, call *telephony.Call, queued dialer.QueuedCall) (string, error) {
	sess := sessionFromQueued(call, queued)

	source, speaker, err := r.io.Open(ctx, call)
	if err != nil {
		return string(OutcomeFailed), err
	}

	resp := r.driver.Start(sess)
	if err := r.speak(ctx, speaker, resp.Text); err != nil {
		return string(r.driver.Abort(sess)), nil
	}
	r.persist(ctx, sess)

	for turn := 0; turn < maxTurns; turn++ {
		if resp.EndCall {
			break
		}
		if !resp.RequiresInput {
			// Handler already knows what happens next (e.g. transfer).
			r.dispatchEffects(ctx, sess, resp.SideEffects)
			break
		}

		utterance, err := source.NextUtterance(ctx)
		if err != nil {
			// Remote hangup: drop pending speech, keep committed effects.
			outcome := r.driver.Abort(sess)
			r.persist(ctx, sess)
			return string(outcome), nil
		}

		resp = r.driver.ProcessTurn(sess, utterance)
		r.dispatchEffects(ctx, sess, resp.SideEffects)
		if err := r.speak(ctx, speaker, resp.Text); err != nil {
			outcome := r.driver.Abort(sess)
			r.persist(ctx, sess)
			return string(outcome), nil
		}
		r.persist(ctx, sess)
	}

	if sess.Outcome == "" {
		sess.Outcome = OutcomeFailed
		now := r.clk.Now()
		sess.EndedAt = &now
		r.persist(ctx, sess)
	}
	return string(sess.Outcome), nil
}

// speak streams the text sentence by sentence so the first audible
// response starts before the full text is synthesized.
func (r *Runner) speak(ctx context.Context, speaker Speaker, text string) error {
	if text == "" {
		return nil
	}
	var splitter SentenceSplitter
	for _, sentence := range splitter.Push(text) {
		if err := speaker.Speak(ctx, sentence); err != nil {
			return err
		}
	}
	if rest := splitter.Flush(); rest != "" {
		return speaker.Speak(ctx, rest)
	}
	return nil
}

func (r *Runner) dispatchEffects(ctx context.Context, sess *Session, effects []SideEffect) {
	if r.effects == nil {
		return
	}
	for _, effect := range effects {
		if err := r.effects.Handle(ctx, sess, effect); err != nil {
			r.logger.Error("side effect failed",
				"call_id", sess.CallID,
				"effect", string(effect.Kind),
				"error", err)
		}
	}
}

func (r *Runner) persist(ctx context.Context, sess *Session) {
	if r.sessions == nil {
		return
	}
	if err := r.sessions.Save(ctx, sess); err != nil {
		r.logger.Warn("session save failed", "call_id", sess.CallID, "error", err)
	}
}

func sessionFromQueued(call *telephony.Call, queued dialer.QueuedCall) *Session {
	sess := &Session{
		CallID:       queued.CallID,
		TenantID:     queued.TenantID,
		PatientID:    queued.PatientID,
		CampaignType: CampaignType(queued.CallType),
	}
	meta := queued.Metadata
	if meta == nil {
		meta = call.Metadata
	}
	if meta != nil {
		sess.PatientName = meta["patient_name"]
		sess.PatientFirstName = meta["patient_first_name"]
		sess.ProviderName = meta["provider_name"]
		if raw := meta["appointment_at"]; raw != "" {
			if at, err := time.Parse(time.RFC3339, raw); err == nil {
				sess.AppointmentDate = at
			}
		}
	}
	return sess
}
