package triage

import "time"

// UrgencyLevel follows German ambulatory triage standards
// (KBV Bereitschaftsdienst-Triage).
type UrgencyLevel string

const (
	Emergency  UrgencyLevel = "emergency"   // Sofort: 112 rufen
	VeryUrgent UrgencyLevel = "very_urgent" // Sehr dringend: < 10 min
	Urgent     UrgencyLevel = "urgent"      // Dringend: < 30 min
	Standard   UrgencyLevel = "standard"    // Normal: < 90 min
	NonUrgent  UrgencyLevel = "non_urgent"  // Regeltermin
)

// SymptomCategory groups symptoms by body system.
type SymptomCategory string

const (
	Cardiovascular   SymptomCategory = "cardiovascular"
	Respiratory      SymptomCategory = "respiratory"
	Neurological     SymptomCategory = "neurological"
	Gastrointestinal SymptomCategory = "gastrointestinal"
	Musculoskeletal  SymptomCategory = "musculoskeletal"
	Psychiatric      SymptomCategory = "psychiatric"
	General          SymptomCategory = "general"
)

// Symptom is one reported symptom with its attributes.
type Symptom struct {
	Name          string
	Category      SymptomCategory
	Severity      int // 1-10
	DurationHours float64
	IsWorsening   bool
	Fever         bool
	FeverTemp     float64 // Celsius, 0 when unknown
	PainLevel     int     // 1-10, 0 when unknown
}

// PatientContext carries risk factors that scale the assessment.
type PatientContext struct {
	Age                 *int
	IsPregnant          bool
	IsDiabetic          bool
	IsImmunocompromised bool
	HasHeartCondition   bool
}

// RiskMultiplier composes the patient's risk factors, capped at 2.5.
func (p PatientContext) RiskMultiplier() float64 {
	multiplier := 1.0
	if p.Age != nil {
		switch {
		case *p.Age < 2 || *p.Age > 75:
			multiplier *= 1.5
		case *p.Age > 65:
			multiplier *= 1.2
		}
	}
	if p.IsPregnant {
		multiplier *= 1.3
	}
	if p.IsDiabetic {
		multiplier *= 1.2
	}
	if p.IsImmunocompromised {
		multiplier *= 1.5
	}
	if p.HasHeartCondition {
		multiplier *= 1.3
	}
	if multiplier > 2.5 {
		multiplier = 2.5
	}
	return multiplier
}

// Result is the outcome of one assessment. Value object, never mutated.
type Result struct {
	Urgency           UrgencyLevel
	RiskScore         float64 // 0-100
	PrimaryConcern    string
	RecommendedAction string
	MaxWaitMinutes    int // -1 means no cap (NON_URGENT); 0 means immediately (EMERGENCY)
	RequiresCallback  bool
	RequiresDoctor    bool
	EmergencySymptoms []string
	AssessmentNotes   []string
	Timestamp         time.Time
}
