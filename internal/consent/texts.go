package consent

// German consent texts read to the patient or shown in the practice
// portal. Texts are versioned with the Consent.Version field.
var consentTexts = map[Type]string{
	PhoneContact: `Einwilligung zur telefonischen Kontaktaufnahme

Ich willige ein, dass die Praxis mich zu folgenden Zwecken telefonisch kontaktieren darf:
- Terminerinnerungen
- Terminvereinbarungen
- Wichtige medizinische Mitteilungen
- Recall-Aktionen (z.B. Vorsorge, Impfungen)

Diese Einwilligung kann ich jederzeit widerrufen.`,

	SMSContact: `Einwilligung zu SMS-Benachrichtigungen

Ich willige ein, dass die Praxis mir SMS-Nachrichten zu folgenden Zwecken senden darf:
- Terminerinnerungen
- Terminbestätigungen
- Wichtige Praxismitteilungen

Diese Einwilligung kann ich jederzeit widerrufen.`,

	AIProcessing: `Einwilligung zur KI-gestützten Kommunikation

Ich willige ein, dass meine Anrufe von einem KI-gestützten Telefonassistenten
entgegengenommen und bearbeitet werden dürfen. Der Assistent kann:
- Termine vereinbaren und ändern
- Allgemeine Anfragen beantworten
- Bei dringenden Anliegen an die Praxis weiterleiten

Die Gespräche werden nicht dauerhaft gespeichert, es sei denn, ich willige
gesondert in die Aufzeichnung ein.

Diese Einwilligung kann ich jederzeit widerrufen.`,

	VoiceRecording: `Einwilligung zur Gesprächsaufzeichnung

Ich willige ein, dass meine Telefongespräche mit der Praxis aufgezeichnet werden dürfen.
Die Aufzeichnungen dienen:
- Der Qualitätssicherung
- Der Dokumentation von Terminvereinbarungen
- Der Verbesserung des Services

Die Aufzeichnungen werden gemäß den geltenden Datenschutzbestimmungen gespeichert
und nach spätestens einem Jahr gelöscht.

Diese Einwilligung kann ich jederzeit widerrufen.`,
}

// TextFor returns the German consent text for a purpose, or "" when no
// template exists.
func TextFor(t Type) string {
	return consentTexts[t]
}
