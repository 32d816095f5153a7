package triage

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/itf-gmbh/phone-agent/internal/clock"
)

// ErrNoInput is returned when neither symptoms nor free text are supplied.
var ErrNoInput = errors.New("triage: no symptoms or free text provided")

// Engine performs rule-based urgency assessment. Stateless apart from its
// clock; safe for concurrent use.
type Engine struct {
	clk clock.Clock
}

func NewEngine(clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	return &Engine{clk: clk}
}

// Assess classifies the reported symptoms and free text into an urgency
// level with a risk score.
func (e *Engine) Assess(symptoms []Symptom, patient PatientContext, freeText string) (*Result, error) {
	if len(symptoms) == 0 && strings.TrimSpace(freeText) == "" {
		return nil, ErrNoInput
	}

	textLower := strings.ToLower(freeText)
	var notes []string

	// Emergency keywords short-circuit everything else.
	if emergencies := matchEmergencies(textLower); len(emergencies) > 0 {
		concern, _, _ := strings.Cut(emergencies[0], ":")
		return &Result{
			Urgency:           Emergency,
			RiskScore:         100,
			PrimaryConcern:    concern,
			RecommendedAction: "Bitte rufen Sie sofort den Notruf 112 an oder lassen Sie sich in die nächste Notaufnahme bringen.",
			MaxWaitMinutes:    0,
			RequiresDoctor:    true,
			EmergencySymptoms: emergencies,
			AssessmentNotes:   []string{"Notfall erkannt - sofortige medizinische Hilfe erforderlich"},
			Timestamp:         e.clk.Now(),
		}, nil
	}

	baseScore := 0.0
	primaryConcern := "Allgemeine Beschwerden"
	if len(symptoms) > 0 {
		total := 0
		mostSevere := symptoms[0]
		for _, s := range symptoms {
			total += s.Severity
			if s.Severity > mostSevere.Severity {
				mostSevere = s
			}
		}
		baseScore = float64(total) / float64(len(symptoms)) * 10
		primaryConcern = mostSevere.Name

		for _, s := range symptoms {
			if s.IsWorsening {
				baseScore += 10
				notes = append(notes, fmt.Sprintf("%s verschlechtert sich", s.Name))
			}
			if s.Fever && s.FeverTemp > 0 {
				switch {
				case s.FeverTemp >= 39.5:
					baseScore += 20
					notes = append(notes, fmt.Sprintf("Hohes Fieber: %.1f°C", s.FeverTemp))
				case s.FeverTemp >= 38.5:
					baseScore += 10
				}
			}
			if s.PainLevel >= 8 {
				baseScore += 15
				notes = append(notes, fmt.Sprintf("Starke Schmerzen: %d/10", s.PainLevel))
			}
			if s.DurationHours > 72 {
				baseScore += 5
				notes = append(notes, "Symptome bestehen seit über 3 Tagen")
			}
		}
	}

	urgentFound := false
	if pattern := matchUrgent(textLower); pattern != "" {
		urgentFound = true
		baseScore += 15
		notes = append(notes, "Dringend: "+pattern)
	}

	multiplier := patient.RiskMultiplier()
	finalScore := math.Min(baseScore*multiplier, 99) // 100 is reserved for emergencies
	if multiplier > 1.0 {
		notes = append(notes, fmt.Sprintf("Risikopatient (Faktor: %.1f)", multiplier))
	}

	urgency, maxWait, action := classify(finalScore, urgentFound)
	return &Result{
		Urgency:           urgency,
		RiskScore:         math.Round(finalScore*10) / 10,
		PrimaryConcern:    primaryConcern,
		RecommendedAction: action,
		MaxWaitMinutes:    maxWait,
		RequiresCallback:  urgency == Urgent || urgency == VeryUrgent,
		RequiresDoctor:    finalScore >= 50,
		AssessmentNotes:   notes,
		Timestamp:         e.clk.Now(),
	}, nil
}

func matchEmergencies(textLower string) []string {
	if textLower == "" {
		return nil
	}
	var found []string
	for pattern, keywords := range emergencyPatterns {
		for _, keyword := range keywords {
			if strings.Contains(textLower, keyword) {
				found = append(found, pattern+": "+keyword)
			}
		}
	}
	sort.Strings(found)
	return found
}

func matchUrgent(textLower string) string {
	if textLower == "" {
		return ""
	}
	var found []string
	for pattern, keywords := range urgentPatterns {
		for _, keyword := range keywords {
			if strings.Contains(textLower, keyword) {
				found = append(found, pattern)
				break
			}
		}
	}
	if len(found) == 0 {
		return ""
	}
	sort.Strings(found)
	return found[0]
}

func classify(score float64, urgentPattern bool) (UrgencyLevel, int, string) {
	switch {
	case score >= 80:
		return VeryUrgent, 10, "Bitte kommen Sie umgehend in die Praxis. Wir informieren den Arzt."
	case score >= 60 || urgentPattern:
		return Urgent, 30, "Wir geben Ihnen einen dringenden Termin für heute. Bitte kommen Sie so bald wie möglich."
	case score >= 40:
		return Standard, 90, "Wir können Ihnen einen Termin für heute oder morgen anbieten."
	default:
		return NonUrgent, -1, "Für Ihre Beschwerden können wir einen regulären Termin vereinbaren."
	}
}

var (
	tempPattern = regexp.MustCompile(`(\d{2}[,.]\d)\s*(?:grad|°)`)
	painPattern = regexp.MustCompile(`schmerz(?:en)?.*?(\d{1,2})(?:\s*von\s*10|\s*/\s*10)?`)
)

// ExtractSymptoms pulls structured symptoms out of a German free-text
// utterance using the synonym catalogue plus temperature and pain-level
// patterns.
func (e *Engine) ExtractSymptoms(text string) []Symptom {
	textLower := strings.ToLower(text)
	worsening := strings.Contains(textLower, "schlimmer") || strings.Contains(textLower, "verschlechtert")

	var found []Symptom
	for _, canonical := range sortedSymptomNames() {
		terms := append([]string{canonical}, symptomSynonyms[canonical]...)
		for _, term := range terms {
			if strings.Contains(textLower, term) {
				found = append(found, Symptom{
					Name:        canonical,
					Category:    categorize(canonical),
					Severity:    estimateSeverity(textLower),
					IsWorsening: worsening,
				})
				break
			}
		}
	}

	if m := tempPattern.FindStringSubmatch(textLower); m != nil {
		temp, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err == nil {
			feverAt := -1
			for i, s := range found {
				if s.Name == "fieber" {
					feverAt = i
					break
				}
			}
			switch {
			case feverAt >= 0:
				found[feverAt].Fever = true
				found[feverAt].FeverTemp = temp
			case temp >= 37.5:
				severity := int((temp - 36) * 2)
				if severity > 10 {
					severity = 10
				}
				found = append(found, Symptom{
					Name:      "fieber",
					Category:  General,
					Severity:  severity,
					Fever:     true,
					FeverTemp: temp,
				})
			}
		}
	}

	if m := painPattern.FindStringSubmatch(textLower); m != nil {
		level, err := strconv.Atoi(m[1])
		if err == nil {
			if level > 10 {
				level = 10
			}
			for i, s := range found {
				if strings.Contains(s.Name, "schmerz") {
					found[i].PainLevel = level
				}
			}
		}
	}

	return found
}

func sortedSymptomNames() []string {
	names := make([]string, 0, len(symptomSynonyms))
	for name := range symptomSynonyms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func estimateSeverity(textLower string) int {
	for _, word := range []string{"stark", "heftig", "schlimm", "extrem", "unerträglich"} {
		if strings.Contains(textLower, word) {
			return 8
		}
	}
	for _, word := range []string{"leicht", "bisschen", "etwas", "wenig"} {
		if strings.Contains(textLower, word) {
			return 3
		}
	}
	return 5
}
