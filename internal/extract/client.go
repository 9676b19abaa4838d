// Package extract turns raw consultation transcripts into structured
// clinical notes using an OpenAI-compatible chat completions API.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/clinscribe/platform/internal/shared/config"
	"github.com/clinscribe/platform/internal/shared/errors"
	"github.com/clinscribe/platform/internal/shared/metrics"
)

const systemPrompt = `You are a clinical documentation assistant. You receive the raw transcript of a doctor's dictated consultation notes and return a structured JSON document.

Return ONLY a JSON object with these fields:
  "summary": one-paragraph summary of the consultation
  "conditions": array of {"text": diagnosis name, "icd10": ICD-10 code if confident (else omit), "confidence": 0.0-1.0}
  "medications": array of medication strings mentioned
  "procedures": array of procedures mentioned or planned
  "follow_up": follow-up instructions, empty string if none

Only list conditions the clinician actually diagnosed or suspects. Do not list conditions that are merely mentioned as history or ruled out. Confidence reflects how certain the clinician sounds, not how certain you are.`

// Client calls a chat completions endpoint to structure notes
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *retryablehttp.Client
	log        zerolog.Logger
}

// New creates a new extraction client
func New(cfg config.ExtractConfig, log zerolog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = time.Second
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: rc,
		log:        log.With().Str("component", "extract").Logger(),
	}
}

// Structure sends the transcript to the model and parses the result
func (c *Client) Structure(ctx context.Context, req StructureRequest) (*StructureResponse, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return nil, errors.BadRequest("transcript is required")
	}

	start := time.Now()

	userContent := req.Transcript
	if req.Language != "" {
		userContent = fmt.Sprintf("Transcript language: %s\n\n%s", req.Language, req.Transcript)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode chat request")
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build chat request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.RecordNoteStructured(c.model, err)
		return nil, errors.BackendUnavailable("language model unreachable", 0)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordNoteStructured(c.model, err)
		return nil, errors.Wrap(err, "failed to read chat response")
	}

	if resp.StatusCode != http.StatusOK {
		var parsed chatResponse
		msg := fmt.Sprintf("language model returned status %d", resp.StatusCode)
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		err := errors.BackendUnavailable(msg, resp.StatusCode)
		metrics.RecordNoteStructured(c.model, err)
		return nil, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		metrics.RecordNoteStructured(c.model, err)
		return nil, errors.Wrap(err, "failed to decode chat response")
	}
	if len(parsed.Choices) == 0 {
		err := errors.Internal(fmt.Errorf("language model returned no choices"))
		metrics.RecordNoteStructured(c.model, err)
		return nil, err
	}

	note, err := parseNote(parsed.Choices[0].Message.Content)
	if err != nil {
		metrics.RecordNoteStructured(c.model, err)
		return nil, err
	}

	metrics.RecordNoteStructured(c.model, nil)
	c.log.Info().
		Int("conditions", len(note.Conditions)).
		Dur("elapsed", time.Since(start)).
		Msg("transcript structured")

	return &StructureResponse{
		Note:             *note,
		ModelUsed:        c.model,
		ProcessingTimeMs: int(time.Since(start).Milliseconds()),
		Timestamp:        time.Now().UTC(),
	}, nil
}

// parseNote decodes the model output. Models often wrap JSON in a
// markdown code fence despite instructions, so strip that first.
func parseNote(content string) (*StructuredNote, error) {
	text := strings.TrimSpace(content)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	// Fall back to the outermost braces if the model added prose.
	if !strings.HasPrefix(text, "{") {
		first := strings.Index(text, "{")
		last := strings.LastIndex(text, "}")
		if first < 0 || last <= first {
			return nil, errors.Internal(fmt.Errorf("language model returned no JSON object"))
		}
		text = text[first : last+1]
	}

	var note StructuredNote
	if err := json.Unmarshal([]byte(text), &note); err != nil {
		return nil, errors.Wrap(err, "failed to parse structured note")
	}

	for i := range note.Conditions {
		if note.Conditions[i].Confidence < 0 {
			note.Conditions[i].Confidence = 0
		}
		if note.Conditions[i].Confidence > 1 {
			note.Conditions[i].Confidence = 1
		}
	}
	return &note, nil
}
