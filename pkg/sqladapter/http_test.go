package sqladapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sanderpick/tableland-functions/pkg/runtime"
)

func TestHTTPAdapterReadPostsStatementAndParsesValue(t *testing.T) {
	var gotBody httpReadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(httpReadResponse{Value: json.RawMessage(`{"rows":[1,2]}`)})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, 0)
	value, n, err := a.Read(context.Background(), "select 1", runtime.ReadOptions{Format: "json"})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if gotBody.Statement != "select 1" {
		t.Fatalf("expected statement to be forwarded, got %q", gotBody.Statement)
	}
	if gotBody.Options.Format != "json" {
		t.Fatalf("expected options to be forwarded, got %+v", gotBody.Options)
	}
	if string(value) != `{"rows":[1,2]}` {
		t.Fatalf("unexpected value: %s", value)
	}
	if n == 0 {
		t.Fatalf("expected a non-zero response byte count")
	}
}

func TestHTTPAdapterReadSurfacesServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(httpReadResponse{Error: "no such table"})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, 0)
	if _, _, err := a.Read(context.Background(), "select * from ghosts", runtime.ReadOptions{}); err == nil {
		t.Fatalf("expected the service-reported error to surface")
	}
}

func TestHTTPAdapterReadSurfacesNon200Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, 0)
	if _, _, err := a.Read(context.Background(), "select 1", runtime.ReadOptions{}); err == nil {
		t.Fatalf("expected a non-200 status to produce an error")
	}
}
