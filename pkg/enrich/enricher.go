// Package enrich infers missing content attributes from captions using an
// OpenAI-compatible model. Enrichment is best-effort: a failed call leaves the
// attributes unknown and the pipeline carries on.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-pkgz/lgr"
	"github.com/sashabaranov/go-openai"

	"socialscope/pkg/config"
	"socialscope/pkg/domain"
)

// Enricher fills in speech/caption/music flags for scraped items
type Enricher struct {
	client    *openai.Client
	config    config.EnrichmentConfig
	systemMsg string
}

// New creates an enricher from the enrichment config
func New(cfg config.EnrichmentConfig) *Enricher {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = cfg.Endpoint
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Enricher{
		client:    openai.NewClientWithConfig(clientConfig),
		config:    cfg,
		systemMsg: systemPrompt,
	}
}

const systemPrompt = `You are an assistant that guesses audio/visual attributes of social media posts from their captions.
For each post decide three attributes:
- speech: does the post likely contain someone speaking on camera?
- captions: does the post likely have text overlays or subtitles?
- music: does the post likely have background music?

Each attribute value must be "yes", "no", or "unknown". Answer "unknown" whenever
the caption gives no signal - do not guess. Every assessment must contain:
- id: the post id exactly as given
- speech, captions, music: one of "yes", "no", "unknown"

Respond with a JSON array of assessment objects, nothing else.`

// assessment is the per-item answer we expect back from the model
type assessment struct {
	ID       string `json:"id"`
	Speech   string `json:"speech"`
	Captions string `json:"captions"`
	Music    string `json:"music"`
}

// Enrich fills unknown attributes on the given items in place. Items without
// captions or with all attributes already known are skipped. Any error is
// logged and swallowed; the items keep whatever attributes they had.
func (e *Enricher) Enrich(ctx context.Context, items []domain.ContentItem) {
	candidates := make([]domain.ContentItem, 0, len(items))
	for _, item := range items {
		if item.Caption == "" || item.Category == domain.CategoryTrend {
			continue
		}
		if item.HasSpeech.Known() && item.HasCaptions.Known() && item.HasMusic.Known() {
			continue
		}
		candidates = append(candidates, item)
	}
	if len(candidates) == 0 {
		return
	}

	assessments, err := e.assess(ctx, candidates)
	if err != nil {
		lgr.Printf("[WARN] enrichment failed for %d items, attributes stay unknown: %v", len(candidates), err)
		return
	}

	byID := make(map[string]assessment, len(assessments))
	for _, a := range assessments {
		byID[a.ID] = a
	}

	for i := range items {
		a, ok := byID[items[i].ID]
		if !ok {
			continue
		}
		// never overwrite a known attribute with a model guess
		if !items[i].HasSpeech.Known() {
			items[i].HasSpeech = parseTri(a.Speech)
		}
		if !items[i].HasCaptions.Known() {
			items[i].HasCaptions = parseTri(a.Captions)
		}
		if !items[i].HasMusic.Known() {
			items[i].HasMusic = parseTri(a.Music)
		}
	}
}

// assess sends the candidates to the model, retrying on malformed JSON
func (e *Enricher) assess(ctx context.Context, items []domain.ContentItem) ([]assessment, error) {
	prompt := e.buildPrompt(items)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req := openai.ChatCompletionRequest{
			Model:       e.config.Model,
			Temperature: float32(e.config.Temperature),
			MaxTokens:   e.config.MaxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: e.systemMsg},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		}

		resp, err := e.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("enrichment request failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("no response from model")
		}

		assessments, err := parseResponse(resp.Choices[0].Message.Content, items)
		if err == nil {
			return assessments, nil
		}
		lastErr = err

		if strings.Contains(err.Error(), "failed to parse json") || strings.Contains(err.Error(), "no json array found") {
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("failed after 3 attempts: %w", lastErr)
}

// buildPrompt lists the candidate posts for the model
func (e *Enricher) buildPrompt(items []domain.ContentItem) string {
	var sb strings.Builder
	sb.WriteString("Assess these posts:\n\n")
	for i, item := range items {
		sb.WriteString(fmt.Sprintf("%d. ID: %s\n", i+1, item.ID))
		sb.WriteString(fmt.Sprintf("   Network: %s, category: %s\n", item.Network, item.Category))
		caption := item.Caption
		if len(caption) > 500 {
			caption = caption[:500] + "..."
		}
		sb.WriteString(fmt.Sprintf("   Caption: %s\n\n", caption))
	}
	sb.WriteString("Respond with a JSON array of assessment objects.")
	return sb.String()
}

// parseResponse extracts assessments from the model output, dropping answers
// for ids we never asked about
func parseResponse(content string, items []domain.ContentItem) ([]assessment, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end == -1 || start >= end {
		return nil, fmt.Errorf("no json array found in response")
	}

	var assessments []assessment
	if err := json.Unmarshal([]byte(content[start:end+1]), &assessments); err != nil {
		return nil, fmt.Errorf("failed to parse json response: %w", err)
	}

	known := make(map[string]bool, len(items))
	for _, item := range items {
		known[item.ID] = true
	}

	valid := make([]assessment, 0, len(assessments))
	for _, a := range assessments {
		if known[a.ID] {
			valid = append(valid, a)
		}
	}
	return valid, nil
}

// parseTri maps a model answer to a tri-state flag, unknown on anything odd
func parseTri(s string) domain.Tri {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes":
		return domain.TriYes
	case "no":
		return domain.TriNo
	default:
		return domain.TriUnknown
	}
}
