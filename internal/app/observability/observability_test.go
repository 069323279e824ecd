package observability

import "testing"

func TestNormalizedPath(t *testing.T) {
	got := normalizedPath("/api/v1/surveys/123/questions/9")
	want := "/api/v1/surveys/{id}/questions/{id}"
	if got != want {
		t.Fatalf("normalizedPath mismatch got=%s want=%s", got, want)
	}

	got = normalizedPath("/api/v1/sessions/2f1c3a4e-5b6d-4e7f-8a9b-0c1d2e3f4a5b/answer")
	want = "/api/v1/sessions/{id}/answer"
	if got != want {
		t.Fatalf("normalizedPath mismatch got=%s want=%s", got, want)
	}
}

func TestExtractSessionID(t *testing.T) {
	id := extractSessionID("/api/v1/sessions/2f1c3a4e-5b6d-4e7f-8a9b-0c1d2e3f4a5b/answer")
	if id != "2f1c3a4e-5b6d-4e7f-8a9b-0c1d2e3f4a5b" {
		t.Fatalf("expected session id, got %q", id)
	}
	if id := extractSessionID("/api/v1/surveys/1"); id != "" {
		t.Fatalf("expected empty for non-session path, got %q", id)
	}
	if id := extractSessionID("/api/v1/sessions/not-a-uuid/answer"); id != "" {
		t.Fatalf("expected empty for malformed id, got %q", id)
	}
}
