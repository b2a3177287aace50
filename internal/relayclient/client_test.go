package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xiaot623/relaychat/internal/domain"
)

func TestCallPostsModelAndInputs(t *testing.T) {
	var gotAuth, gotContentType string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"generated_text":"Hi there"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "anon-key", time.Second)
	raw, err := client.Call(context.Background(), domain.ModelTextGeneration, "Hello")
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if gotAuth != "Bearer anon-key" {
		t.Fatalf("unexpected Authorization header: %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("unexpected Content-Type: %q", gotContentType)
	}
	if gotBody["model"] != "text-generation" || gotBody["inputs"] != "Hello" {
		t.Fatalf("unexpected body: %v", gotBody)
	}
	if string(raw) != `{"generated_text":"Hi there"}` {
		t.Fatalf("unexpected result: %s", raw)
	}
}

func TestCallNon2xxDiscardsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Model gpt2 is currently loading"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	_, err := client.Call(context.Background(), domain.ModelSummarization, "text")
	if !errors.Is(err, ErrRelayCallFailed) {
		t.Fatalf("expected ErrRelayCallFailed, got %v", err)
	}
	if strings.Contains(err.Error(), "loading") {
		t.Fatalf("error must not carry relay detail: %v", err)
	}
}

func TestCallInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	if _, err := client.Call(context.Background(), domain.ModelTextGeneration, "Hello"); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

func TestCallContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(srv.URL, "", 10*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Call(ctx, domain.ModelTextGeneration, "Hello")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
