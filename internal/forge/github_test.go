package forge_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"matrixci/internal/config"
	"matrixci/internal/forge"
)

// newTestClient points a client at a mock forge server. The enterprise URL
// rewrite in the client library puts the REST routes under /api/v3/.
func newTestClient(t *testing.T, handler http.Handler) *forge.GitHubClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := forge.NewGitHubClient(config.ForgeConfig{
		APIURL:  server.URL,
		Token:   "test-token",
		Timeout: 5,
	})
	if err != nil {
		t.Fatalf("Failed to create forge client: %v", err)
	}
	return client
}

func TestNewGitHubClientInvalidURL(t *testing.T) {
	_, err := forge.NewGitHubClient(config.ForgeConfig{APIURL: "://bad", Timeout: 5})
	if err == nil {
		t.Fatal("Expected error for invalid API URL, got nil")
	}
	if !strings.Contains(err.Error(), "invalid forge.api_url") {
		t.Errorf("Expected invalid forge.api_url error, got %v", err)
	}
}

func TestListChangedFiles(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/repos/octocat/widgets/pulls/7/files" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("Expected Authorization header Bearer test-token, got %q", auth)
		}

		w.Header().Set("Content-Type", "application/json")
		// Two pages, with a deletion on the second
		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Link", `</api/v3/repos/octocat/widgets/pulls/7/files?page=2&per_page=100>; rel="next"`)
			fmt.Fprint(w, `[{"filename":"core/src/lib.rs","status":"modified"},{"filename":"core/Cargo.toml","status":"modified"}]`)
			return
		}
		fmt.Fprint(w, `[{"filename":"tools/old.rs","status":"removed"}]`)
	}))

	paths, err := client.ListChangedFiles(context.Background(), forge.Repo{Owner: "octocat", Name: "widgets"}, 7)
	if err != nil {
		t.Fatalf("Failed to list changed files: %v", err)
	}

	want := []string{"core/src/lib.rs", "core/Cargo.toml", "tools/old.rs"}
	if len(paths) != len(want) {
		t.Fatalf("Expected %d paths, got %d: %v", len(want), len(paths), paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("Expected path %d to be %s, got %s", i, want[i], paths[i])
		}
	}
}

func TestCreateStatus(t *testing.T) {
	var received struct {
		State       string `json:"state"`
		TargetURL   string `json:"target_url"`
		Description string `json:"description"`
		Context     string `json:"context"`
	}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/v3/repos/octocat/widgets/statuses/abc123" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Failed to decode status body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 1}`)
	}))

	status := forge.Status{
		State:       forge.StatusPending,
		Context:     "matrixci/tests/ubuntu",
		Description: "Job running",
		TargetURL:   "https://ci.example.com/api/v1/runs/run-1",
	}
	err := client.CreateStatus(context.Background(), forge.Repo{Owner: "octocat", Name: "widgets"}, "abc123", status)
	if err != nil {
		t.Fatalf("Failed to create status: %v", err)
	}

	if received.State != "pending" {
		t.Errorf("Expected state pending, got %s", received.State)
	}
	if received.Context != "matrixci/tests/ubuntu" {
		t.Errorf("Expected context matrixci/tests/ubuntu, got %s", received.Context)
	}
	if received.Description != "Job running" {
		t.Errorf("Expected description 'Job running', got %q", received.Description)
	}
	if received.TargetURL != "https://ci.example.com/api/v1/runs/run-1" {
		t.Errorf("Expected target URL, got %q", received.TargetURL)
	}
}

func TestCreateStatusTruncatesDescription(t *testing.T) {
	var received struct {
		Description string `json:"description"`
	}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Failed to decode status body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 1}`)
	}))

	status := forge.Status{
		State:       forge.StatusFailure,
		Context:     "matrixci/tests/ubuntu",
		Description: strings.Repeat("x", 200),
	}
	err := client.CreateStatus(context.Background(), forge.Repo{Owner: "octocat", Name: "widgets"}, "abc123", status)
	if err != nil {
		t.Fatalf("Failed to create status: %v", err)
	}

	// The forge rejects descriptions over 140 characters
	if len(received.Description) != 140 {
		t.Errorf("Expected description truncated to 140 characters, got %d", len(received.Description))
	}
	if !strings.HasSuffix(received.Description, "...") {
		t.Errorf("Expected truncated description to end with ellipsis, got %q", received.Description)
	}
}

func TestForgeErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		rateLimited   bool
		errorContains string
	}{
		{"unauthorized", http.StatusUnauthorized, false, "authentication failed"},
		{"forbidden", http.StatusForbidden, false, "access denied"},
		{"not found", http.StatusNotFound, false, "resource not found"},
		{"unprocessable", http.StatusUnprocessableEntity, false, "rejected the request"},
		{"server error", http.StatusBadGateway, false, "server error"},
		{"rate limited", http.StatusForbidden, true, "rate limit exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.rateLimited {
					w.Header().Set("X-Ratelimit-Limit", "60")
					w.Header().Set("X-Ratelimit-Remaining", "0")
					w.Header().Set("X-Ratelimit-Reset", "1700000000")
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"message":"nope"}`)
			}))

			_, err := client.ListChangedFiles(context.Background(), forge.Repo{Owner: "octocat", Name: "widgets"}, 7)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errorContains) {
				t.Errorf("Expected error containing %q, got %q", tt.errorContains, err.Error())
			}
		})
	}
}
