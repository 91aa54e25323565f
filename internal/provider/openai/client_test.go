package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	warden "github.com/wardenlabs/warden/internal"
)

func TestComplete(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "test-model" || req.MaxTokens != 256 {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "hello there"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5}
		}`))
	}))
	defer srv.Close()

	c := New("test-model", srv.URL, nil)
	res, err := c.Complete(context.Background(), &warden.CompletionRequest{
		Messages:        []warden.PromptMessage{{Role: "user", Content: "hi"}},
		MaxOutputTokens: 256,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "hello there" {
		t.Errorf("text = %q", res.Text)
	}
	if res.Usage.InputTokens != 12 || res.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestCompleteServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New("test-model", srv.URL, nil)
	_, err := c.Complete(context.Background(), &warden.CompletionRequest{})
	if !errors.Is(err, warden.ErrModelUnavailable) {
		t.Errorf("err = %v, want ErrModelUnavailable", err)
	}
}

func TestCompleteClientErrorIsNotUnavailable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "bad request"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New("test-model", srv.URL, nil)
	_, err := c.Complete(context.Background(), &warden.CompletionRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, warden.ErrModelUnavailable) {
		t.Error("4xx should not map to ErrModelUnavailable")
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [], "usage": {}}`))
	}))
	defer srv.Close()

	c := New("test-model", srv.URL, nil)
	if _, err := c.Complete(context.Background(), &warden.CompletionRequest{}); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"data": []}`))
	}))
	defer srv.Close()

	c := New("test-model", srv.URL, nil)
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Fatal(err)
	}
}
