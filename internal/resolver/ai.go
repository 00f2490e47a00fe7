package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/client-linker/internal/config"
	"github.com/sells-group/client-linker/internal/model"
	"github.com/sells-group/client-linker/internal/monitoring"
	"github.com/sells-group/client-linker/pkg/anthropic"
)

// ErrModelNotConfigured is returned when the AI stage is invoked without an
// API credential. The failure is surfaced to the caller and never written
// to the ledger.
var ErrModelNotConfigured = eris.New("resolver: model credential not configured")

const matchSystemPrompt = `You link meeting transcripts to client records. You are given a transcript summary and a numbered list of candidate clients. Pick the client the meeting is about, or decline. Respond with a valid JSON object and nothing else: {"decision": "link" | "no_link", "client_id": "<id or empty>", "confidence": <0.0-1.0>, "reason": "<short explanation>"}`

const matchUserPrompt = `Meeting title: %s
Meeting date: %s
Participants: %s

Transcript (first %d chars):
%s

Candidate clients:
%s`

const maxTranscriptChars = 4000

// AIMatcher runs the model-based classification stage.
type AIMatcher struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	rules     Rules
}

// NewAIMatcher builds the stage from config. Returns ErrModelNotConfigured
// when no API key is set.
func NewAIMatcher(cfg config.AnthropicConfig, rules Rules) (*AIMatcher, error) {
	if cfg.Key == "" {
		return nil, ErrModelNotConfigured
	}
	return &AIMatcher{
		client:    anthropic.NewClient(cfg.Key),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   time.Duration(cfg.TimeoutSecs) * time.Second,
		rules:     rules,
	}, nil
}

// NewAIMatcherWithClient wires an explicit model client; tests use this.
func NewAIMatcherWithClient(client anthropic.Client, modelName string, rules Rules) *AIMatcher {
	return &AIMatcher{
		client:    client,
		model:     modelName,
		maxTokens: 1024,
		timeout:   8 * time.Second,
		rules:     rules,
	}
}

// Match asks the model which candidate the transcript belongs to and gates
// the verdict on the confidence threshold. A transport or model error is
// returned as err; every other path produces a MatchResult.
func (m *AIMatcher) Match(ctx context.Context, t *model.Transcript, candidates []model.Client) (*model.MatchResult, error) {
	if len(candidates) == 0 {
		return model.NoMatch("no candidates"), nil
	}

	prompt := buildMatchPrompt(t, candidates)
	reqCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	resp, err := m.client.CreateMessage(reqCtx, anthropic.MessageRequest{
		Model:     m.model,
		MaxTokens: m.maxTokens,
		System:    matchSystemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "resolver: model call")
	}
	resp.Usage.LogUsage(m.model, "match")

	verdict := parseVerdict(resp.Text())
	monitoring.VerdictConfidence(verdict.Confidence)

	if verdict.Decision != "link" {
		reason := verdict.Reason
		if reason == "" {
			reason = "model declined to link"
		}
		return model.NoMatch(reason), nil
	}

	chosen := findCandidate(candidates, verdict.ClientID)
	if chosen == nil {
		zap.L().Warn("resolver: model named unknown client",
			zap.String("transcript_id", t.ID),
			zap.String("client_id", verdict.ClientID),
		)
		return model.NoMatch(fmt.Sprintf("model named unknown client %q", verdict.ClientID)), nil
	}
	if verdict.Confidence < m.rules.AIThreshold {
		return model.NoMatch(fmt.Sprintf("confidence %.2f below threshold %.2f",
			verdict.Confidence, m.rules.AIThreshold)), nil
	}

	return model.SingleMatch(chosen, verdict.Confidence, verdict.Reason), nil
}

// verdict is the model's strict-JSON answer.
type verdict struct {
	Decision   string  `json:"decision"`
	ClientID   string  `json:"client_id"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// parseVerdict extracts the JSON verdict. Anything non-conforming collapses
// to a no_link verdict with zero confidence.
func parseVerdict(text string) verdict {
	text = cleanJSON(text)

	var v verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return verdict{Decision: "no_link", Reason: "unparseable model output"}
	}
	v.Decision = strings.ToLower(strings.TrimSpace(v.Decision))
	if v.Decision != "link" {
		v.Decision = "no_link"
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	return v
}

func buildMatchPrompt(t *model.Transcript, candidates []model.Client) string {
	body := t.Body
	if runes := []rune(body); len(runes) > maxTranscriptChars {
		body = string(runes[:maxTranscriptChars])
	}

	var list strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&list, "%d. id=%s name=%q", i+1, c.ID, c.BusinessName)
		if contact := c.ContactName(); contact != "" {
			fmt.Fprintf(&list, " contact=%q", contact)
		}
		if c.BusinessEmail != "" {
			fmt.Fprintf(&list, " email=%s", c.BusinessEmail)
		}
		list.WriteString("\n")
	}

	return fmt.Sprintf(matchUserPrompt,
		t.Title,
		t.MeetingDate.Format("2006-01-02"),
		strings.Join(t.Participants, ", "),
		maxTranscriptChars,
		body,
		list.String(),
	)
}

func findCandidate(candidates []model.Client, id string) *model.Client {
	for i := range candidates {
		if candidates[i].ID == id {
			return &candidates[i]
		}
	}
	return nil
}

// cleanJSON strips markdown fences and extracts the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
