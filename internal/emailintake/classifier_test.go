package emailintake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternFallbackClassifiesEmergency(t *testing.T) {
	c := NewClassifier(nil, "", nil)
	cls, err := c.Classify(context.Background(), &ParsedEmail{
		Subject:    "HILFE Wasserrohrbruch im Keller",
		SenderName: "Erika Musterfrau",
		TextBody:   "Bei uns ist ein Rohr geplatzt, das Wasser läuft in den Keller!",
	})
	require.NoError(t, err)

	assert.Equal(t, "repairs", cls.TaskType)
	assert.Equal(t, "notfall", cls.Urgency)
	assert.Equal(t, "Erika Musterfrau", cls.CustomerName)
	assert.InDelta(t, 0.5, cls.Confidence, 0.001)
	assert.True(t, cls.NeedsReview)
}

func TestPatternFallbackTaskTypes(t *testing.T) {
	cases := []struct {
		text     string
		taskType string
	}{
		{"bitte schicken sie mir ein angebot für ein neues bad", "quotes"},
		{"ich bin sehr unzufrieden mit der reparatur von letzter woche", "complaints"},
		{"frage zur rechnung vom märz", "billing"},
		{"können wir den termin verschieben", "appointment"},
		{"newsletter abbestellen", "spam"},
		{"hallo zusammen", "general"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.taskType, detectTaskType(tc.text), tc.text)
	}
}

func TestPatternFallbackUrgency(t *testing.T) {
	assert.Equal(t, "notfall", detectUrgency("es riecht nach gas, gasgeruch in der küche"))
	assert.Equal(t, "dringend", detectUrgency("kein warmwasser seit heute morgen"))
	assert.Equal(t, "routine", detectUrgency("wartung der heizung, keine eile"))
	assert.Equal(t, "normal", detectUrgency("eine frage zu ihrem service"))
}

func TestPatternFallbackTradeCategory(t *testing.T) {
	assert.Equal(t, "shk", detectTradeCategory("die heizung und der heizkörper werden nicht warm, therme defekt"))
	assert.Equal(t, "elektro", detectTradeCategory("die sicherung fliegt raus, steckdose ohne strom"))
	assert.Equal(t, "allgemein", detectTradeCategory("allgemeine anfrage"))
}

func TestParseClassificationJSONFillsDefaults(t *testing.T) {
	cls := parseClassificationJSON("```json\n" + `{"task_type": "", "urgency": "", "confidence": 0.9, "summary": "Test"}` + "\n```")
	require.NotNil(t, cls)
	assert.Equal(t, "general", cls.TaskType)
	assert.Equal(t, "normal", cls.Urgency)
	assert.Equal(t, "allgemein", cls.TradeCategory)
	assert.Equal(t, "Test", cls.Summary)
}

func TestParseClassificationJSONRejectsGarbage(t *testing.T) {
	assert.Nil(t, parseClassificationJSON("kein json hier"))
	assert.Nil(t, parseClassificationJSON("{broken"))
}
