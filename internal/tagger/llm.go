// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package tagger

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pdiddy/bibfix/internal/httpjson"
	"github.com/pdiddy/bibfix/pkg/types"
)

// llmProviderName keys the rate limiter policy for the chat endpoint.
const llmProviderName = "llm"

// CandidateTagPrefix namespaces model-invented tags so they never mix
// with the curated vocabulary.
const CandidateTagPrefix = "candidate/"

var tagCharsRe = regexp.MustCompile(`[^a-z0-9_/]`)
var underscoreRunRe = regexp.MustCompile(`_+`)

// LLM suggests tags through an OpenAI-compatible chat-completions
// endpoint. Suggestions outside the vocabulary survive only as
// sanitized candidate/ tags.
type LLM struct {
	Client *httpjson.Client
	Config types.AIConfig

	allowed     map[string]bool
	allowedList []string
}

// NewLLM builds the tagger around the vocabulary's allow-list.
func NewLLM(client *httpjson.Client, cfg types.AIConfig, vocab Vocabulary) *LLM {
	list := vocab.AllowedTags()
	allowed := make(map[string]bool, len(list))
	for _, t := range list {
		allowed[t] = true
	}
	return &LLM{Client: client, Config: cfg, allowed: allowed, allowedList: list}
}

// TagRequest carries one record's text to the model.
type TagRequest struct {
	Key          string
	Title        string
	Abstract     string
	Journal      string
	Year         string
	ExistingTags []string
}

// Suggestion is the filtered model output. Allowed holds vocabulary
// tags; Candidate holds sanitized out-of-vocabulary proposals already
// carrying the candidate/ prefix.
type Suggestion struct {
	Allowed   []string
	Candidate []string
	Reason    string
}

// SuggestTags asks the model for tags and filters the reply against the
// allow-list. The model is prompted for strict JSON and a non-JSON reply
// is an error.
func (l *LLM) SuggestTags(ctx context.Context, req TagRequest) (Suggestion, error) {
	payload := chatRequest{
		Model:          l.Config.Model,
		Temperature:    0.1,
		ResponseFormat: chatResponseFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: l.systemPrompt()},
			{Role: "user", Content: userContent(req)},
		},
	}
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + l.Config.APIKey,
	}

	var resp chatResponse
	url := strings.TrimRight(l.Config.BaseURL, "/") + "/chat/completions"
	if err := l.Client.PostJSON(ctx, llmProviderName, url, payload, &resp, headers); err != nil {
		return Suggestion{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Suggestion{}, fmt.Errorf("chat completion: empty choices")
	}

	var parsed tagReply
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return Suggestion{}, fmt.Errorf("parsing model reply: %w", err)
	}
	if len(parsed.Items) == 0 {
		return Suggestion{}, nil
	}
	return l.filter(parsed.Items[0]), nil
}

// filter keeps only allow-listed tags and sanitized candidates. A
// candidate that duplicates an accepted allowed tag is dropped.
func (l *LLM) filter(item tagReplyItem) Suggestion {
	s := Suggestion{Reason: item.Reason}

	acceptedSet := make(map[string]bool, len(item.AllowedTags))
	for _, raw := range item.AllowedTags {
		t := strings.ToLower(strings.TrimSpace(raw))
		if l.allowed[t] && !acceptedSet[t] {
			s.Allowed = append(s.Allowed, t)
			acceptedSet[t] = true
		}
	}

	seen := make(map[string]bool, len(item.CandidateTags))
	for _, raw := range item.CandidateTags {
		t := l.sanitizeCandidateTag(raw)
		if t == "" || seen[t] {
			continue
		}
		if acceptedSet[strings.TrimPrefix(t, CandidateTagPrefix)] {
			continue
		}
		s.Candidate = append(s.Candidate, t)
		seen[t] = true
	}
	return s
}

// sanitizeCandidateTag normalizes a model-proposed tag to the
// [a-z0-9_/] charset and prefixes it with candidate/. Tags already in
// the vocabulary and tags outside the managed namespaces map to "".
func (l *LLM) sanitizeCandidateTag(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	t = tagCharsRe.ReplaceAllString(t, "_")
	t = underscoreRunRe.ReplaceAllString(t, "_")
	t = strings.Trim(t, "_")
	if t == "" || l.allowed[t] || !IsRuleTag(t) {
		return ""
	}
	return CandidateTagPrefix + t
}

func (l *LLM) systemPrompt() string {
	lines := []string{
		"You are a controlled tag suggestion engine for a bibliographic library.",
		"Return strict JSON only.",
		"Prioritize allowed tags.",
		"If no allowed tag is suitable, propose candidate tags only with prefixes topic/, method/, material/, app/.",
		"Do not return generic tags.",
		"Allowed tags:",
	}
	lines = append(lines, l.allowedList...)
	lines = append(lines, `{"items":[{"key":"<itemKey>","allowed_tags":["..."],"candidate_tags":["..."],"reason":"..."}]}`)
	return strings.Join(lines, "\n")
}

func userContent(req TagRequest) string {
	existing := strings.Join(req.ExistingTags, ", ")
	if existing == "" {
		existing = "(none)"
	}
	return strings.Join([]string{
		"item_key: " + req.Key,
		"title: " + req.Title,
		"journal: " + req.Journal,
		"year: " + req.Year,
		"existing_rule_tags: " + existing,
		"abstract: " + req.Abstract,
	}, "\n")
}

// OpenAI-compatible chat-completions JSON structures.
type chatRequest struct {
	Model          string             `json:"model"`
	Temperature    float64            `json:"temperature"`
	ResponseFormat chatResponseFormat `json:"response_format"`
	Messages       []chatMessage      `json:"messages"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

// tagReply is the JSON contract the system prompt demands of the model.
type tagReply struct {
	Items []tagReplyItem `json:"items"`
}

type tagReplyItem struct {
	Key           string   `json:"key"`
	AllowedTags   []string `json:"allowed_tags"`
	CandidateTags []string `json:"candidate_tags"`
	Reason        string   `json:"reason"`
}
