package emailintake

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// Classification is the intake decision extracted from one email.
type Classification struct {
	TaskType      string   `json:"task_type"`
	Urgency       string   `json:"urgency"`
	TradeCategory string   `json:"trade_category"`
	CustomerName  string   `json:"customer_name,omitempty"`
	CustomerPhone string   `json:"customer_phone,omitempty"`
	CustomerPLZ   string   `json:"customer_plz,omitempty"`
	CustomerCity  string   `json:"customer_city,omitempty"`
	Summary       string   `json:"summary"`
	Keywords      []string `json:"keywords,omitempty"`
	Confidence    float64  `json:"confidence"`
	NeedsReview   bool     `json:"needs_human_review"`
}

// BedrockConverseAPI is the subset of the Bedrock client the classifier
// uses.
type BedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Classifier labels inbound emails with an LLM, falling back to German
// keyword patterns when no model is reachable.
type Classifier struct {
	client  BedrockConverseAPI
	modelID string
	logger  *logging.Logger
}

func NewClassifier(client BedrockConverseAPI, modelID string, logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Classifier{client: client, modelID: modelID, logger: logger.WithComponent("email_classifier")}
}

func (c *Classifier) Classify(ctx context.Context, email *ParsedEmail) (*Classification, error) {
	if c.client == nil {
		return c.classifyWithPatterns(email), nil
	}

	body := email.TextBody
	if len(body) > 3000 {
		body = body[:3000]
	}
	sender := strings.TrimSpace(email.SenderName + " <" + email.SenderEmail + ">")
	subject := email.Subject
	if subject == "" {
		subject = "(kein Betreff)"
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		System: []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: classificationSystemPrompt},
		},
		Messages: []brtypes.Message{
			{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: classificationUserPrompt(subject, sender, body)},
				},
			},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(1024),
			Temperature: aws.Float32(0.3),
		},
	}

	resp, err := c.client.Converse(ctx, input)
	if err != nil {
		c.logger.Error("llm classification failed, using pattern fallback", "error", err)
		return c.classifyWithPatterns(email), nil
	}

	text := extractResponseText(resp)
	cls := parseClassificationJSON(text)
	if cls == nil {
		c.logger.Warn("unparseable classifier response, using pattern fallback")
		return c.classifyWithPatterns(email), nil
	}
	if cls.Confidence < 0.7 {
		cls.NeedsReview = true
	}
	c.logger.Info("email classified",
		"task_type", cls.TaskType,
		"urgency", cls.Urgency,
		"trade_category", cls.TradeCategory,
		"confidence", cls.Confidence)
	return cls, nil
}

func extractResponseText(resp *bedrockruntime.ConverseOutput) string {
	if resp == nil || resp.Output == nil {
		return ""
	}
	output, ok := resp.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok || len(output.Value.Content) == 0 {
		return ""
	}
	textBlock, ok := output.Value.Content[0].(*brtypes.ContentBlockMemberText)
	if !ok {
		return ""
	}
	return textBlock.Value
}

func parseClassificationJSON(text string) *Classification {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil
	}
	var raw struct {
		TaskType      string `json:"task_type"`
		Urgency       string `json:"urgency"`
		TradeCategory string `json:"trade_category"`
		CustomerInfo  struct {
			Name  string `json:"name"`
			Phone string `json:"phone"`
			PLZ   string `json:"plz"`
			City  string `json:"city"`
		} `json:"customer_info"`
		Summary     string   `json:"summary"`
		Keywords    []string `json:"keywords"`
		Confidence  float64  `json:"confidence"`
		NeedsReview bool     `json:"needs_human_review"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil
	}
	cls := &Classification{
		TaskType:      raw.TaskType,
		Urgency:       raw.Urgency,
		TradeCategory: raw.TradeCategory,
		CustomerName:  raw.CustomerInfo.Name,
		CustomerPhone: raw.CustomerInfo.Phone,
		CustomerPLZ:   raw.CustomerInfo.PLZ,
		CustomerCity:  raw.CustomerInfo.City,
		Summary:       raw.Summary,
		Keywords:      raw.Keywords,
		Confidence:    raw.Confidence,
		NeedsReview:   raw.NeedsReview,
	}
	if cls.TaskType == "" {
		cls.TaskType = "general"
	}
	if cls.Urgency == "" {
		cls.Urgency = "normal"
	}
	if cls.TradeCategory == "" {
		cls.TradeCategory = "allgemein"
	}
	return cls
}

// classifyWithPatterns is the keyword fallback. Its confidence is
// deliberately low so the result always lands in human review.
func (c *Classifier) classifyWithPatterns(email *ParsedEmail) *Classification {
	text := strings.ToLower(email.Subject + " " + email.TextBody)
	subject := email.Subject
	if subject == "" {
		subject = "Keine Betreffzeile"
	}
	return &Classification{
		TaskType:      detectTaskType(text),
		Urgency:       detectUrgency(text),
		TradeCategory: detectTradeCategory(text),
		CustomerName:  email.SenderName,
		Summary:       "Automatisch klassifiziert: " + subject,
		Confidence:    0.5,
		NeedsReview:   true,
	}
}

// taskTypePatterns in priority order: complaints about earlier work
// beat the repair keywords they usually contain.
var taskTypePatterns = []struct {
	taskType string
	keywords []string
}{
	{"complaints", []string{"beschwerde", "reklamation", "unzufrieden", "nicht zufrieden", "enttäuscht", "mangel", "pfusch"}},
	{"repairs", []string{"reparatur", "kaputt", "defekt", "funktioniert nicht", "geht nicht", "ausgefallen", "störung", "leck", "tropft", "undicht", "verstopft", "kein wasser", "keine heizung"}},
	{"quotes", []string{"angebot", "kostenvoranschlag", "preis", "was kostet", "wie teuer", "neubau", "umbau", "installation"}},
	{"billing", []string{"rechnung", "zahlung", "mahnung", "bezahlen", "überweisung", "bankverbindung"}},
	{"appointment", []string{"termin", "verfügbar", "können sie kommen", "verschieben", "absagen"}},
	{"follow_up", []string{"nachfrage", "wie weit", "stand der dinge", "wann fertig", "fortschritt"}},
	{"spam", []string{"newsletter", "abbestellen", "werbung", "sonderangebot", "rabatt", "gewonnen"}},
}

func detectTaskType(text string) string {
	for _, p := range taskTypePatterns {
		for _, kw := range p.keywords {
			if strings.Contains(text, kw) {
				return p.taskType
			}
		}
	}
	return "general"
}

var notfallPatterns = []string{
	"notfall", "notdienst", "sofort",
	"wasserrohrbruch", "rohrbruch", "überschwemmung", "überflutung",
	"gasgeruch", "gasleck", "gasaustritt",
	"stromausfall", "kein strom", "brand", "feuer",
	"heizung aus", "keine heizung", "heizung defekt",
}

var dringendPatterns = []string{
	"dringend", "heute noch", "so schnell wie möglich",
	"eilig", "asap", "umgehend",
	"kein warmwasser", "warmwasser geht nicht",
	"dusche geht nicht", "wc verstopft",
}

var routinePatterns = []string{
	"keine eile", "irgendwann", "wenn zeit ist", "nächsten monat",
	"nächstes jahr", "langfristig", "wartung",
}

func detectUrgency(text string) string {
	for _, p := range notfallPatterns {
		if strings.Contains(text, p) {
			return "notfall"
		}
	}
	for _, p := range dringendPatterns {
		if strings.Contains(text, p) {
			return "dringend"
		}
	}
	for _, p := range routinePatterns {
		if strings.Contains(text, p) {
			return "routine"
		}
	}
	return "normal"
}

var tradePatterns = map[string][]string{
	"shk":        {"heizung", "warmwasser", "therme", "kessel", "heizkörper", "lüftung", "klima", "wärmepumpe"},
	"elektro":    {"strom", "elektr", "sicherung", "fi-schalter", "steckdose", "licht", "lampe", "kabel", "schalter"},
	"sanitaer":   {"bad", "wc", "toilette", "waschbecken", "dusche", "badewanne", "armatur", "wasserhahn", "abfluss", "verstopft"},
	"dachdecker": {"dach", "ziegel", "dachrinne", "dachfenster", "abdichtung"},
	"schlosser":  {"tür", "schloss", "schlüssel", "gitter"},
	"maler":      {"streichen", "farbe", "tapete", "fassade", "lackieren"},
	"tischler":   {"möbel", "holz", "schrank", "parkett", "laminat"},
}

// detectTradeCategory counts keyword hits per trade and takes the
// densest one; ties resolve by name for determinism.
func detectTradeCategory(text string) string {
	best, bestScore := "allgemein", 0
	for trade, keywords := range tradePatterns {
		score := 0
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if score > bestScore || (score == bestScore && score > 0 && trade < best) {
			best, bestScore = trade, score
		}
	}
	return best
}

const classificationSystemPrompt = `Du bist ein E-Mail-Klassifikator für deutsche Handwerksbetriebe.

Analysiere eingehende Kunden-E-Mails und extrahiere:

1. task_type: GENAU EINER aus repairs, quotes, complaints, billing, appointment, follow_up, general, spam.
2. urgency: GENAU EINE aus notfall (sofort handeln: Rohrbruch, Gasgeruch, Stromausfall), dringend (innerhalb 24h), normal (diese Woche), routine (kein Zeitdruck).
3. trade_category: GENAU EINE aus shk, elektro, sanitaer, dachdecker, schlosser, maler, tischler, allgemein.
4. customer_info: name, phone (deutsche Formate), plz (5 Ziffern), city, falls genannt.

Antworte NUR mit einem JSON-Objekt:
{
  "task_type": "...",
  "urgency": "...",
  "trade_category": "...",
  "customer_info": {"name": null, "phone": null, "plz": null, "city": null},
  "summary": "1-2 Sätze auf Deutsch",
  "keywords": [],
  "confidence": 0.0,
  "needs_human_review": false
}

Regeln: Bei Notfällen IMMER urgency="notfall". Beschwerden über frühere Arbeit sind task_type="complaints", auch wenn eine Reparatur nötig ist. Werbung ist task_type="spam", urgency="routine". Bei confidence < 0.7 needs_human_review=true.`

func classificationUserPrompt(subject, sender, body string) string {
	return fmt.Sprintf(`Analysiere diese E-Mail.

**Betreff:** %s

**Absender:** %s

**E-Mail-Text:**
%s

---

Antworte NUR mit dem JSON-Objekt.`, subject, sender, body)
}
