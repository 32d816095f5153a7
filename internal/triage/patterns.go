package triage

// Keyword catalogues for German symptom descriptions. Matching is plain
// substring search on the lowercased utterance; STT output is normalized
// upstream.

// emergencyPatterns always escalate to EMERGENCY.
var emergencyPatterns = map[string][]string{
	"chest_pain": {
		"brustschmerz", "brustdruck", "engegefühl brust",
		"herzschmerz", "stechen brust", "brennen brust",
	},
	"breathing_difficulty": {
		"atemnot", "kurzatmig", "kann nicht atmen",
		"luftnot", "ersticken", "atemprobleme",
	},
	"stroke_symptoms": {
		"lähmung", "taubheit gesicht", "arm schwäche",
		"sprachstörung", "verwirrung plötzlich", "sehen verschwommen",
	},
	"severe_bleeding": {
		"starke blutung", "blut nicht stoppen",
		"große wunde", "viel blut",
	},
	"unconsciousness": {
		"bewusstlos", "ohnmacht", "nicht ansprechbar",
		"zusammengebrochen",
	},
	"severe_allergic": {
		"allergischer schock", "anaphylaxie", "geschwollene zunge",
		"kann nicht schlucken", "ausschlag ganzer körper",
	},
	"severe_pain": {
		"unerträgliche schmerzen", "stärkste schmerzen",
		"schlimmste schmerzen meines lebens",
	},
}

// urgentPatterns push toward a same-day appointment.
var urgentPatterns = map[string][]string{
	"high_fever": {
		"hohes fieber", "über 39 grad", "fieber kind",
		"schüttelfrost", "fieber seit tagen",
	},
	"acute_pain": {
		"starke schmerzen", "akute schmerzen",
		"plötzliche schmerzen",
	},
	"vomiting": {
		"erbrechen", "kann nichts bei mir behalten",
		"übelkeit stark",
	},
	"injury": {
		"verletzung", "unfall", "sturz", "gebrochen",
	},
	"infection_signs": {
		"eitrig", "entzündet", "geschwollen rot",
		"heiß und rot",
	},
}

// symptomSynonyms maps canonical symptom names to colloquial variants.
var symptomSynonyms = map[string][]string{
	"kopfschmerzen":  {"kopfweh", "schädel brummt", "migräne"},
	"bauchschmerzen": {"bauchweh", "magenschmerzen", "unterleibsschmerzen"},
	"rückenschmerzen": {"rücken tut weh", "kreuzschmerzen", "hexenschuss"},
	"halsschmerzen":  {"halsweh", "schluckbeschwerden", "kratzen im hals"},
	"husten":         {"huste", "hustenreiz", "reizhusten", "auswurf"},
	"schnupfen":      {"erkältung", "nase verstopft", "laufende nase"},
	"schwindel":      {"benommen", "gleichgewichtsstörung", "alles dreht sich"},
	"müdigkeit":      {"erschöpft", "keine energie", "matt", "abgeschlagen"},
	"fieber":         {"temperatur", "erhöhte temperatur", "fiebert"},
	"durchfall":      {"dünnpfiff", "magendarm", "weicher stuhl"},
	"verstopfung":    {"kein stuhlgang", "harter stuhl"},
	"schlafstörung":  {"kann nicht schlafen", "wache auf", "schlaflos"},
	"angst":          {"panik", "unruhig", "ängstlich", "besorgt"},
	"depression":     {"traurig", "niedergeschlagen", "hoffnungslos", "antriebslos"},
}

var symptomCategories = map[SymptomCategory][]string{
	Neurological:     {"kopfschmerzen", "schwindel", "migräne"},
	Gastrointestinal: {"bauchschmerzen", "durchfall", "verstopfung", "übelkeit"},
	Respiratory:      {"husten", "schnupfen", "atemnot", "halsschmerzen"},
	Musculoskeletal:  {"rückenschmerzen", "gelenkschmerzen"},
	Psychiatric:      {"angst", "depression", "schlafstörung"},
	Cardiovascular:   {"herzrasen", "brustschmerzen"},
}

func categorize(symptom string) SymptomCategory {
	for category, names := range symptomCategories {
		for _, name := range names {
			if name == symptom {
				return category
			}
		}
	}
	return General
}
