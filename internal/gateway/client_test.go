package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestChatCompletion(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(ChatResult{
			Response:        "We offer three pricing tiers.",
			Confidence:      0.87,
			Intent:          "sales",
			HandoffRequired: false,
		})
	}))
	defer backend.Close()

	c := NewClient(backend.URL, "test-key", 5*time.Second)
	result, err := c.ChatCompletion(context.Background(), []Message{
		{Role: "user", Content: "how much does it cost?"},
	}, ChatOptions{Channel: "Web"})
	if err != nil {
		t.Fatalf("completion failed: %v", err)
	}

	if result.Response != "We offer three pricing tiers." {
		t.Errorf("response = %q", result.Response)
	}
	if result.Intent != "sales" || result.Confidence != 0.87 {
		t.Errorf("signals not carried: %+v", result)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotReq.Channel != "Web" || len(gotReq.Messages) != 1 {
		t.Errorf("request body = %+v", gotReq)
	}
}

func TestChatCompletion_ErrorEnvelope(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer backend.Close()

	c := NewClient(backend.URL, "", 5*time.Second)
	_, err := c.ChatCompletion(context.Background(), nil, ChatOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "rate_limit_error") || !strings.Contains(err.Error(), "slow down") {
		t.Errorf("error lost envelope detail: %v", err)
	}
}

func TestChatCompletion_NonJSONError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer backend.Close()

	c := NewClient(backend.URL, "", 5*time.Second)
	_, err := c.ChatCompletion(context.Background(), nil, ChatOptions{})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected 502 error, got %v", err)
	}
}

func TestChatCompletion_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer backend.Close()
	defer close(release)

	c := NewClient(backend.URL, "", time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.ChatCompletion(ctx, []Message{{Role: "user", Content: "hi"}}, ChatOptions{})
	if err == nil {
		t.Fatal("expected deadline error")
	}
}

func TestStructuredExtract(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/extract" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req extractRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !strings.Contains(req.Prompt, "transcript") {
			t.Errorf("prompt not forwarded: %q", req.Prompt)
		}
		json.NewEncoder(w).Encode(extractResponse{Text: `{"email":"jane@acme.com"}`})
	}))
	defer backend.Close()

	c := NewClient(backend.URL, "", 5*time.Second)
	text, err := c.StructuredExtract(context.Background(), "extract fields from this transcript: ...")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if text != `{"email":"jane@acme.com"}` {
		t.Errorf("text = %q", text)
	}
}
