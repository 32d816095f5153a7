// Package conversation drives the dialogue on a live outbound call:
// a goal-directed state machine per campaign type, German keyword
// intent detection, and sentence-boundary streaming into TTS.
package conversation

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/triage"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// State is a node in the outbound call flow.
type State string

const (
	StateIntroduction     State = "introduction"
	StateIdentityCheck    State = "identity_verification"
	StatePurposeStatement State = "purpose_statement"
	StateMainDialog       State = "main_dialog"
	StateAppointmentOffer State = "appointment_offer"
	StateConfirmation     State = "confirmation"
	StateFarewell         State = "farewell"
	StateCompleted        State = "completed"
)

// Outcome is the terminal result of a conversation.
type Outcome string

const (
	OutcomeAppointmentConfirmed   Outcome = "appointment_confirmed"
	OutcomeAppointmentRescheduled Outcome = "appointment_rescheduled"
	OutcomeAppointmentMade        Outcome = "appointment_made"
	OutcomeInformationDelivered   Outcome = "information_delivered"
	OutcomeCallbackRequested      Outcome = "callback_requested"
	OutcomeDeclined               Outcome = "patient_declined"
	OutcomeWrongPerson            Outcome = "wrong_person"
	OutcomeEmergencyEscalated     Outcome = "emergency_escalated"
	OutcomeAbandoned              Outcome = "abandoned"
	OutcomeFailed                 Outcome = "conversation_failed"
)

// CampaignType selects the dialogue goal.
type CampaignType string

const (
	CampaignReminder     CampaignType = "reminder"
	CampaignRecall       CampaignType = "recall"
	CampaignNoShow       CampaignType = "no_show"
	CampaignLabResults   CampaignType = "lab_results"
	CampaignPrescription CampaignType = "prescription"
)

// SideEffectKind names an action a handler requests from collaborators.
type SideEffectKind string

const (
	EffectBookSlot SideEffectKind = "book_slot"
	EffectSendSMS  SideEffectKind = "send_sms"
	EffectTransfer SideEffectKind = "transfer"
)

// SideEffect is one collaborator action attached to a response.
type SideEffect struct {
	Kind   SideEffectKind
	Params map[string]string
}

// Turn is one utterance in the transcript.
type Turn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Session is the mutable per-call dialogue state.
type Session struct {
	CallID       uuid.UUID    `json:"call_id"`
	TenantID     uuid.UUID    `json:"tenant_id"`
	CampaignType CampaignType `json:"campaign_type"`

	PatientID        uuid.UUID `json:"patient_id"`
	PatientName      string    `json:"patient_name"`
	PatientFirstName string    `json:"patient_first_name"`

	AppointmentID   *uuid.UUID `json:"appointment_id,omitempty"`
	AppointmentDate time.Time  `json:"appointment_date,omitempty"`
	ProviderName    string     `json:"provider_name,omitempty"`

	State            State      `json:"state"`
	TriageUrgency    string     `json:"triage_urgency,omitempty"`
	IdentityVerified bool       `json:"identity_verified"`
	RescheduleAsked  bool       `json:"reschedule_asked"`
	NewSlotStart     *time.Time `json:"new_slot_start,omitempty"`
	NoShowReason     string     `json:"no_show_reason,omitempty"`

	Turns []Turn `json:"turns"`

	Outcome   Outcome    `json:"outcome,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (s *Session) addTurn(role, text string, now time.Time) {
	s.Turns = append(s.Turns, Turn{Role: role, Text: text, At: now})
}

// Response tells the caller what to speak next and how to proceed.
type Response struct {
	Text          string
	NextState     State
	RequiresInput bool
	EndCall       bool
	SideEffects   []SideEffect
	Outcome       Outcome
}

// German keyword catalogues. Matching is substring on lowercased input.
var (
	positiveWords = []string{
		"ja", "okay", "ok", "gut", "richtig", "genau", "passt",
		"stimmt", "korrekt", "gerne", "einverstanden", "bestätigt",
	}
	negativeWords = []string{
		"nein", "nicht", "falsch", "absagen", "stornieren",
		"geht nicht", "kann nicht", "leider nicht",
	}
	rescheduleWords = []string{
		"verschieben", "anderen termin", "umbuchen", "ändern",
		"später", "früher", "anderer tag", "andere zeit",
	}
	callbackWords = []string{
		"zurückrufen", "später anrufen", "gerade schlecht",
		"kann nicht sprechen", "im meeting", "beschäftigt",
	}
	goodbyeWords = []string{
		"tschüss", "auf wiedersehen", "wiederhören", "bye", "ciao", "servus",
	}
)

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// Driver runs the outbound dialogue state machine. It holds no per-call
// state; everything lives in the Session.
type Driver struct {
	practiceName string
	triage       *triage.Engine
	clk          clock.Clock
	logger       *logging.Logger
}

func NewDriver(practiceName string, clk clock.Clock, logger *logging.Logger) *Driver {
	if practiceName == "" {
		practiceName = "der Praxis"
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Driver{
		practiceName: practiceName,
		clk:          clk,
		logger:       logger.WithComponent("conversation"),
	}
}

// WithTriage enables symptom screening on every caller utterance. An
// utterance that triggers an emergency assessment ends the call with the
// 112 instruction regardless of dialogue state.
func (d *Driver) WithTriage(engine *triage.Engine) *Driver {
	d.triage = engine
	return d
}

// Start opens the dialogue and returns the introduction to speak.
func (d *Driver) Start(sess *Session) Response {
	now := d.clk.Now()
	sess.StartedAt = now
	sess.State = StateIntroduction
	text := d.introduction(sess)
	sess.addTurn("assistant", text, now)

	d.logger.Info("conversation started",
		"call_id", sess.CallID,
		"campaign_type", string(sess.CampaignType))
	return Response{Text: text, NextState: StateIntroduction, RequiresInput: true}
}

// ProcessTurn advances the state machine on one transcribed utterance.
func (d *Driver) ProcessTurn(sess *Session, input string) Response {
	now := d.clk.Now()
	sess.addTurn("user", input, now)
	lower := strings.ToLower(input)

	if d.triage != nil {
		if resp, escalated := d.screenForEmergency(sess, lower); escalated {
			return resp
		}
	}

	// Callback requests and goodbyes short-circuit any state.
	if containsAny(lower, callbackWords) {
		return d.finish(sess, OutcomeCallbackRequested,
			"Natürlich, kein Problem. Wir rufen Sie später noch einmal an. Auf Wiederhören!")
	}
	if containsAny(lower, goodbyeWords) {
		outcome := sess.Outcome
		if outcome == "" {
			if sess.State == StateFarewell || sess.State == StateConfirmation {
				outcome = OutcomeInformationDelivered
			} else {
				outcome = OutcomeAbandoned
			}
		}
		return d.finish(sess, outcome, "")
	}

	var resp Response
	switch sess.State {
	case StateIntroduction:
		resp = d.handleIntroduction(sess, lower)
	case StateIdentityCheck:
		resp = d.handleIdentityCheck(sess, lower)
	case StatePurposeStatement:
		resp = d.handlePurposeResponse(sess, lower)
	case StateMainDialog:
		resp = d.handleMainDialog(sess, lower)
	case StateAppointmentOffer:
		resp = d.handleAppointmentOffer(sess, lower)
	case StateConfirmation:
		resp = d.handleConfirmation(sess, lower)
	case StateFarewell:
		return d.finish(sess, OutcomeInformationDelivered, "")
	default:
		return d.finish(sess, OutcomeFailed, "")
	}

	sess.State = resp.NextState
	// finish already records the farewell turn.
	if !resp.EndCall && resp.Text != "" {
		sess.addTurn("assistant", resp.Text, now)
	}
	return resp
}

// screenForEmergency runs the triage engine over one utterance. Only an
// emergency assessment interrupts the dialogue; the latest urgency is
// kept on the session for the transcript either way.
func (d *Driver) screenForEmergency(sess *Session, input string) (Response, bool) {
	symptoms := d.triage.ExtractSymptoms(input)
	result, err := d.triage.Assess(symptoms, triage.PatientContext{}, input)
	if err != nil {
		return Response{}, false
	}
	sess.TriageUrgency = string(result.Urgency)
	if result.Urgency != triage.Emergency {
		return Response{}, false
	}
	d.logger.Warn("emergency detected during call",
		"call_id", sess.CallID,
		"concern", result.PrimaryConcern)
	resp := d.finish(sess, OutcomeEmergencyEscalated, result.RecommendedAction)
	resp.SideEffects = []SideEffect{{
		Kind:   EffectTransfer,
		Params: map[string]string{"target": "emergency"},
	}}
	return resp, true
}

// Abort records an unexpected call end (hangup, SIP BYE, transport
// close). Pending speech is dropped; committed side effects stand.
func (d *Driver) Abort(sess *Session) Outcome {
	now := d.clk.Now()
	sess.State = StateCompleted
	sess.EndedAt = &now
	if sess.Outcome == "" {
		sess.Outcome = OutcomeAbandoned
	}
	d.logger.Info("conversation aborted",
		"call_id", sess.CallID,
		"outcome", string(sess.Outcome),
		"turns", len(sess.Turns))
	return sess.Outcome
}

func (d *Driver) handleIntroduction(sess *Session, input string) Response {
	if containsAny(input, positiveWords) {
		sess.IdentityVerified = true
		return Response{
			Text:          d.purposeStatement(sess),
			NextState:     StatePurposeStatement,
			RequiresInput: true,
		}
	}
	if containsAny(input, negativeWords) || strings.Contains(input, "falsche nummer") {
		return d.finish(sess, OutcomeWrongPerson, "")
	}
	return Response{
		Text:          "Können Sie mir bitte Ihren Vornamen nennen, damit ich sichergehen kann, dass ich richtig verbunden bin?",
		NextState:     StateIdentityCheck,
		RequiresInput: true,
	}
}

func (d *Driver) handleIdentityCheck(sess *Session, input string) Response {
	first := strings.ToLower(sess.PatientFirstName)
	if containsAny(input, positiveWords) || (first != "" && strings.Contains(input, first)) {
		sess.IdentityVerified = true
		return Response{
			Text:          d.purposeStatement(sess),
			NextState:     StatePurposeStatement,
			RequiresInput: true,
		}
	}
	if containsAny(input, negativeWords) {
		return d.finish(sess, OutcomeWrongPerson, "")
	}
	return Response{
		Text:          "Entschuldigung, ich möchte sichergehen. Spreche ich mit " + sess.PatientName + "?",
		NextState:     StateIdentityCheck,
		RequiresInput: true,
	}
}

func (d *Driver) handlePurposeResponse(sess *Session, input string) Response {
	if sess.CampaignType == CampaignReminder {
		switch {
		case containsAny(input, rescheduleWords):
			sess.RescheduleAsked = true
			return Response{
				Text:          "Natürlich können wir den Termin verschieben. Wann würde es Ihnen besser passen? Vormittags oder nachmittags?",
				NextState:     StateAppointmentOffer,
				RequiresInput: true,
			}
		case containsAny(input, positiveWords):
			return d.confirmReminder(sess)
		case containsAny(input, negativeWords):
			return Response{
				Text:          "Verstanden. Möchten Sie den Termin absagen, oder sollen wir einen neuen Termin finden?",
				NextState:     StateConfirmation,
				RequiresInput: true,
			}
		}
	}

	if sess.CampaignType == CampaignRecall || sess.CampaignType == CampaignNoShow {
		if sess.CampaignType == CampaignNoShow {
			if reason := detectNoShowReason(input); reason != "" {
				sess.NoShowReason = reason
			}
		}
		if containsAny(input, negativeWords) {
			return d.finish(sess, OutcomeDeclined, "")
		}
		return Response{
			Text:          "Ich kann Ihnen folgende Termine anbieten: Morgen um 10 Uhr, oder übermorgen um 14 Uhr. Welcher Termin passt Ihnen besser?",
			NextState:     StateAppointmentOffer,
			RequiresInput: true,
		}
	}

	// Notifications (lab results, prescription): check understanding.
	return Response{
		Text:          "Haben Sie dazu noch Fragen?",
		NextState:     StateMainDialog,
		RequiresInput: true,
	}
}

func (d *Driver) handleMainDialog(sess *Session, input string) Response {
	if containsAny(input, negativeWords) || strings.Contains(input, "keine fragen") {
		return d.finish(sess, OutcomeInformationDelivered, "")
	}
	if strings.Contains(input, "?") || strings.Contains(input, "frage") {
		return Response{
			Text:          "Für detaillierte Fragen verbinde ich Sie gerne mit einer Mitarbeiterin. Einen Moment bitte.",
			NextState:     StateMainDialog,
			RequiresInput: false,
			SideEffects:   []SideEffect{{Kind: EffectTransfer, Params: map[string]string{"target": "reception"}}},
		}
	}
	return d.finish(sess, OutcomeInformationDelivered, "")
}

func (d *Driver) handleAppointmentOffer(sess *Session, input string) Response {
	if containsAny(input, positiveWords) {
		now := d.clk.Now()
		slot := nextMorningSlot(now)
		sess.NewSlotStart = &slot
		return Response{
			Text:          "Ich habe den Termin für Sie gebucht: " + FormatGermanDate(slot) + " um " + FormatGermanTime(slot) + " Uhr. Sie erhalten eine SMS-Bestätigung. Ist das korrekt?",
			NextState:     StateConfirmation,
			RequiresInput: true,
		}
	}
	if containsAny(input, rescheduleWords) || containsAny(input, negativeWords) {
		return Response{
			Text:          "Ich schaue nach anderen Terminen. Wie wäre es mit nächster Woche? Ich hätte Montag um 9 Uhr oder Mittwoch um 15 Uhr.",
			NextState:     StateAppointmentOffer,
			RequiresInput: true,
		}
	}
	return Response{
		Text:          "Möchten Sie den vorgeschlagenen Termin annehmen, oder soll ich Ihnen andere Termine anbieten?",
		NextState:     StateAppointmentOffer,
		RequiresInput: true,
	}
}

func (d *Driver) handleConfirmation(sess *Session, input string) Response {
	if containsAny(input, positiveWords) {
		outcome := OutcomeAppointmentConfirmed
		var effects []SideEffect
		if sess.NewSlotStart != nil {
			effects = append(effects, SideEffect{
				Kind: EffectBookSlot,
				Params: map[string]string{
					"start": sess.NewSlotStart.Format(time.RFC3339),
				},
			}, SideEffect{
				Kind: EffectSendSMS,
				Params: map[string]string{
					"template": "booking_confirmation",
				},
			})
			if sess.CampaignType == CampaignReminder {
				outcome = OutcomeAppointmentRescheduled
			} else {
				outcome = OutcomeAppointmentMade
			}
		}
		resp := d.finish(sess, outcome, "")
		resp.SideEffects = effects
		return resp
	}
	return Response{
		Text:          "Kein Problem. Möchten Sie einen anderen Termin?",
		NextState:     StateAppointmentOffer,
		RequiresInput: true,
	}
}

func (d *Driver) confirmReminder(sess *Session) Response {
	sess.Outcome = OutcomeAppointmentConfirmed
	text := "Wunderbar, Ihr Termin am " + FormatGermanDate(sess.AppointmentDate) +
		" um " + FormatGermanTime(sess.AppointmentDate) +
		" Uhr ist bestätigt. Wir freuen uns auf Sie! Auf Wiederhören."
	resp := d.finish(sess, OutcomeAppointmentConfirmed, text)
	resp.SideEffects = []SideEffect{{
		Kind:   EffectSendSMS,
		Params: map[string]string{"template": "reminder_confirmation"},
	}}
	return resp
}

func (d *Driver) finish(sess *Session, outcome Outcome, text string) Response {
	now := d.clk.Now()
	if text == "" {
		text = "Vielen Dank für das Gespräch. Auf Wiederhören!"
	}
	sess.State = StateCompleted
	sess.Outcome = outcome
	sess.EndedAt = &now
	sess.addTurn("assistant", text, now)

	d.logger.Info("conversation ended",
		"call_id", sess.CallID,
		"outcome", string(outcome),
		"turns", len(sess.Turns))
	return Response{
		Text:      text,
		NextState: StateCompleted,
		EndCall:   true,
		Outcome:   outcome,
	}
}

func (d *Driver) introduction(sess *Session) string {
	greeting := timeGreeting(d.clk.Now())
	switch sess.CampaignType {
	case CampaignReminder:
		return greeting + ", hier ist der automatische Terminservice der " + d.practiceName + ". Spreche ich mit " + sess.PatientName + "?"
	case CampaignRecall:
		return greeting + ", hier ist der Vorsorge-Erinnerungsservice der " + d.practiceName + ". Spreche ich mit " + sess.PatientName + "?"
	case CampaignNoShow:
		return greeting + ", hier ist die " + d.practiceName + ". Ich rufe an wegen Ihres Termins. Spreche ich mit " + sess.PatientName + "?"
	}
	return greeting + ", hier ist die " + d.practiceName + ". Spreche ich mit " + sess.PatientName + "?"
}

func (d *Driver) purposeStatement(sess *Session) string {
	switch sess.CampaignType {
	case CampaignReminder:
		provider := sess.ProviderName
		if provider == "" {
			provider = "uns"
		}
		return "Ich rufe an, um Sie an Ihren Termin am " + FormatGermanDate(sess.AppointmentDate) +
			" um " + FormatGermanTime(sess.AppointmentDate) + " Uhr bei " + provider +
			" zu erinnern. Können Sie diesen Termin wahrnehmen?"
	case CampaignRecall:
		return "Wir möchten Sie darauf aufmerksam machen, dass es Zeit für Ihre nächste Vorsorgeuntersuchung ist. Dürfen wir einen Termin für Sie vereinbaren?"
	case CampaignNoShow:
		return "Wir haben Sie zum Termin um " + FormatGermanTime(sess.AppointmentDate) +
			" Uhr erwartet. Ist alles in Ordnung? Können wir einen neuen Termin vereinbaren?"
	case CampaignLabResults:
		return "Ihre Laborergebnisse liegen vor. Bitte vereinbaren Sie einen Termin zur Besprechung."
	case CampaignPrescription:
		return "Ihr Rezept liegt zur Abholung bereit. Sie können es während der Sprechzeiten abholen."
	}
	return "Ich habe eine wichtige Mitteilung für Sie."
}

func timeGreeting(now time.Time) string {
	switch hour := now.Hour(); {
	case hour < 12:
		return "Guten Morgen"
	case hour < 18:
		return "Guten Tag"
	default:
		return "Guten Abend"
	}
}

var germanWeekdays = [...]string{
	"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag",
}

// FormatGermanDate renders "Dienstag, den 10.3." for speech.
func FormatGermanDate(t time.Time) string {
	if t.IsZero() {
		return "dem vereinbarten Tag"
	}
	return germanWeekdays[t.Weekday()] + ", den " +
		strconv.Itoa(t.Day()) + "." + strconv.Itoa(int(t.Month())) + "."
}

// FormatGermanTime renders "14:05" for speech.
func FormatGermanTime(t time.Time) string {
	if t.IsZero() {
		return "der vereinbarten Zeit"
	}
	return t.Format("15:04")
}

// noShowReasonWords maps missed-appointment explanations to the reason
// tag the follow-up workflow reads back from the session.
var noShowReasonWords = []struct {
	reason string
	words  []string
}{
	{"transportation", []string{"bus", "bahn", "auto", "fahren", "mitfahrgelegenheit", "transport"}},
	{"childcare", []string{"kind", "betreuung", "kita"}},
	{"work", []string{"arbeit", "schicht", "dienst", "überstunden"}},
	{"sick", []string{"krank", "fieber", "erkältet"}},
	{"forgot", []string{"vergessen", "nicht dran gedacht"}},
}

func detectNoShowReason(input string) string {
	for _, entry := range noShowReasonWords {
		if containsAny(input, entry.words) {
			return entry.reason
		}
	}
	return ""
}

// nextMorningSlot picks tomorrow 10:00 local time as the offered slot.
func nextMorningSlot(now time.Time) time.Time {
	t := now.AddDate(0, 0, 1)
	return time.Date(t.Year(), t.Month(), t.Day(), 10, 0, 0, 0, t.Location())
}
