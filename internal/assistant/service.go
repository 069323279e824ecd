package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultPrompt = "You are the support assistant for a medical survey platform. Answer briefly and professionally. Focus on login, survey access, resuming an interrupted survey, going back to a previous question, submitting responses, and reward point redemption."

type ServiceConfig struct {
	GeminiAPIKey string
	GeminiModel  string
	HTTPClient   *http.Client
}

type Service struct {
	geminiAPIKey string
	geminiModel  string
	client       *http.Client
}

type Result struct {
	Reply  string
	Source string
}

func NewService(cfg ServiceConfig) *Service {
	model := strings.TrimSpace(cfg.GeminiModel)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 18 * time.Second}
	}
	return &Service{
		geminiAPIKey: strings.TrimSpace(cfg.GeminiAPIKey),
		geminiModel:  model,
		client:       client,
	}
}

// Generate answers a support query. Without an API key, or when the
// upstream call fails, it falls back to the keyword-matched local reply.
func (s *Service) Generate(ctx context.Context, query string) (Result, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return Result{}, fmt.Errorf("query is required")
	}
	if len(q) > 1200 {
		return Result{}, fmt.Errorf("query too long")
	}

	if s.geminiAPIKey == "" {
		return Result{Reply: localReply(q), Source: "local"}, nil
	}

	reply, err := s.generateWithGemini(ctx, q)
	if err != nil {
		return Result{Reply: localReply(q), Source: "local_fallback"}, nil
	}
	return Result{Reply: reply, Source: "gemini"}, nil
}

func (s *Service) generateWithGemini(ctx context.Context, query string) (string, error) {
	reqBody := map[string]any{
		"contents": []map[string]any{
			{
				"parts": []map[string]string{
					{"text": query},
				},
			},
		},
		"systemInstruction": map[string]any{
			"parts": []map[string]string{
				{"text": defaultPrompt},
			},
		},
		"generationConfig": map[string]any{
			"temperature":     0.4,
			"maxOutputTokens": 320,
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", s.geminiModel, s.geminiAPIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gemini status %d", resp.StatusCode)
	}

	var out geminiGenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	reply := strings.TrimSpace(out.firstText())
	if reply == "" {
		return "", fmt.Errorf("empty gemini response")
	}
	return reply, nil
}

func localReply(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	switch {
	case strings.Contains(q, "login"), strings.Contains(q, "password"):
		return "Sign in with the account credentials sent to your registered email. If your password no longer works, ask your representative to reset it."
	case strings.Contains(q, "resume"), strings.Contains(q, "interrupt"), strings.Contains(q, "crash"):
		return "Open the survey again and your session resumes from the last answered question. Answers already given are kept."
	case strings.Contains(q, "back"), strings.Contains(q, "previous"):
		return "Use the Back control to return to the previous question. Your earlier answer is shown again and you can change it."
	case strings.Contains(q, "submit"), strings.Contains(q, "finish"):
		return "Review your answers, then submit once and wait for the confirmation. A survey can only be submitted one time."
	case strings.Contains(q, "point"), strings.Contains(q, "redeem"), strings.Contains(q, "reward"):
		return "Points are credited after a survey is completed. Check your balance on the rewards page before submitting a redemption."
	case strings.Contains(q, "error"), strings.Contains(q, "fail"):
		return "Refresh the page, sign in again, and check your connection. If the problem persists, contact your representative with the time it happened."
	default:
		return "I can help with login, accessing assigned surveys, resuming a session, going back a question, submitting, and point redemption. Describe your problem briefly."
	}
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (r geminiGenerateResponse) firstText() string {
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			if strings.TrimSpace(p.Text) != "" {
				return p.Text
			}
		}
	}
	return ""
}
