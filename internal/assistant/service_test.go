package assistant

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestGenerateLocalWithoutKey(t *testing.T) {
	svc := NewService(ServiceConfig{})

	res, err := svc.Generate(context.Background(), "how do I resume my survey?")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Source != "local" {
		t.Fatalf("expected local source, got %q", res.Source)
	}
	if !strings.Contains(res.Reply, "resumes") {
		t.Fatalf("unexpected reply: %q", res.Reply)
	}
}

func TestGenerateRejectsEmptyQuery(t *testing.T) {
	svc := NewService(ServiceConfig{})
	if _, err := svc.Generate(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestGenerateFallsBackOnUpstreamError(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("upstream down")
	})}
	svc := NewService(ServiceConfig{GeminiAPIKey: "test-key", HTTPClient: client})

	res, err := svc.Generate(context.Background(), "login problem")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Source != "local_fallback" {
		t.Fatalf("expected local_fallback, got %q", res.Source)
	}
}

func TestGenerateUsesGeminiReply(t *testing.T) {
	body := `{"candidates":[{"content":{"parts":[{"text":"Use the rewards page."}]}}]}`
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", r.Method)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewBufferString(body)),
			Header:     make(http.Header),
		}, nil
	})}
	svc := NewService(ServiceConfig{GeminiAPIKey: "test-key", HTTPClient: client})

	res, err := svc.Generate(context.Background(), "where do I redeem points?")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Source != "gemini" {
		t.Fatalf("expected gemini source, got %q", res.Source)
	}
	if res.Reply != "Use the rewards page." {
		t.Fatalf("unexpected reply: %q", res.Reply)
	}
}
