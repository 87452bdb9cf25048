package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubmit_NormalizesURLAndSendsToken(t *testing.T) {
	var got Request
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/research" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		fmt.Fprint(w, `{"job_id":"job-42"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithToken("secret"))
	id, err := c.Submit(context.Background(), Request{Company: " Acme ", CompanyURL: "acme.com", HQLocation: "Berlin"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "job-42" {
		t.Errorf("job id = %q, want job-42", id)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.CompanyURL != "https://acme.com" {
		t.Errorf("company_url = %q, want https://acme.com", got.CompanyURL)
	}
	if got.Company != "Acme" || got.HQLocation != "Berlin" {
		t.Errorf("body = %+v", got)
	}
}

func TestSubmit_Validation(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	if _, err := c.Submit(context.Background(), Request{Company: "  "}); err == nil {
		t.Fatal("expected validation error for empty company")
	}
	if _, err := c.Submit(context.Background(), Request{Company: "Acme", CompanyURL: "not a url"}); err == nil {
		t.Fatal("expected validation error for bad url")
	}
}

func TestSubmit_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Submit(context.Background(), Request{Company: "Acme"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestStatus_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "job not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Status(context.Background(), "missing")
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("err = %v, want *HTTPError", err)
	}
	if he.StatusCode != http.StatusNotFound || he.Body != "job not found" {
		t.Errorf("HTTPError = %+v", he)
	}
}

func TestStatus_KeepsRawDocument(t *testing.T) {
	const body = `{"status":"completed","result":{"report":"# Acme"}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/research/status/job-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	doc, err := NewClient(srv.URL).Status(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if doc.Status != "completed" || doc.Result == nil || doc.Result.Report != "# Acme" {
		t.Errorf("doc = %+v", doc.StatusEvent)
	}
	if string(doc.Raw) != body {
		t.Errorf("raw = %s", doc.Raw)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"healthy","message":"ok","timestamp":"2026-01-01T00:00:00Z","version":"1.0.0"}`)
	}))
	defer srv.Close()

	h, err := NewClient(srv.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "healthy" || h.Version != "1.0.0" {
		t.Errorf("health = %+v", h)
	}
}

func TestChannelURL(t *testing.T) {
	tests := []struct {
		base, want string
	}{
		{"http://localhost:8000", "ws://localhost:8000/research/ws/abc"},
		{"https://api.example.com/", "wss://api.example.com/research/ws/abc"},
	}
	for _, tt := range tests {
		if got := NewClient(tt.base).ChannelURL("abc"); got != tt.want {
			t.Errorf("ChannelURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"":                  "",
		"acme.com":          "https://acme.com",
		"http://acme.com":   "http://acme.com",
		" https://acme.io ": "https://acme.io",
	}
	for in, want := range tests {
		if got := NormalizeURL(in); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}
