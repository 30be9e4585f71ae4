package offline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestHTTPRemoteExecute verifies routing and payload pass-through
func TestHTTPRemoteExecute(t *testing.T) {
	var gotPath string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	remote, err := NewHTTPRemote(HTTPRemoteConfig{
		BaseURL: server.URL,
		Routes:  map[string]string{"post.create": "/posts"},
	})
	if err != nil {
		t.Fatalf("NewHTTPRemote failed: %v", err)
	}

	payload := json.RawMessage(`{"text":"hello"}`)
	if err := remote.Execute(context.Background(), "post.create", payload); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if gotPath != "/posts" {
		t.Errorf("Expected path /posts, got %s", gotPath)
	}
	if string(gotBody) != `{"text":"hello"}` {
		t.Errorf("Payload not passed through opaque: %s", gotBody)
	}

	t.Log("✓ Mutation type routes to its path with opaque payload")
}

// TestHTTPRemoteServerError verifies non-2xx responses surface as errors
func TestHTTPRemoteServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "conflict", http.StatusConflict)
	}))
	defer server.Close()

	remote, _ := NewHTTPRemote(HTTPRemoteConfig{
		BaseURL: server.URL,
		Routes:  map[string]string{"post.create": "/posts"},
	})

	err := remote.Execute(context.Background(), "post.create", nil)
	if err == nil {
		t.Fatal("Expected error for non-2xx response")
	}

	t.Log("✓ Non-2xx response surfaces as an error")
}

// TestHTTPRemoteUnknownType verifies unrouted mutation types fail fast
func TestHTTPRemoteUnknownType(t *testing.T) {
	remote, _ := NewHTTPRemote(HTTPRemoteConfig{
		BaseURL: "http://localhost:0",
		Routes:  map[string]string{"post.create": "/posts"},
	})

	if err := remote.Execute(context.Background(), "unknown.type", nil); err == nil {
		t.Fatal("Expected error for unknown mutation type")
	}

	t.Log("✓ Unknown mutation type fails without a network call")
}
