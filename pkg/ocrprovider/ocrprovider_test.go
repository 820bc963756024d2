package ocrprovider

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPProvider_Extract_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ocrResponse{
			Pages: 1,
			Lines: []struct {
				Text       string     `json:"text"`
				BBox       [4]float64 `json:"bbox"`
				Confidence float64    `json:"confidence"`
			}{
				{Text: "hello", BBox: [4]float64{0, 0, 1, 1}, Confidence: 0.9},
				{Text: "world", BBox: [4]float64{0, 1, 1, 2}, Confidence: 0.8},
			},
		})
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "")
	result, err := provider.Extract(context.Background(), []byte("fake-pdf-bytes"), "application/pdf")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if result.Pages != 1 {
		t.Errorf("Pages = %d, want 1", result.Pages)
	}
	if len(result.Lines) != 2 {
		t.Fatalf("len(Lines) = %d, want 2", len(result.Lines))
	}
	wantConfidence := 0.85
	if math.Abs(result.Confidence-wantConfidence) > 1e-9 {
		t.Errorf("Confidence = %v, want %v", result.Confidence, wantConfidence)
	}
}

func TestHTTPProvider_Extract_ServerErrorIsTransient(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "")
	_, err := provider.Extract(context.Background(), []byte("x"), "application/pdf")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls < 2 {
		t.Errorf("expected retries, got %d calls", calls)
	}
}

func TestHTTPProvider_Extract_ClientErrorIsNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "")
	_, err := provider.Extract(context.Background(), []byte("x"), "application/pdf")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected exactly one call for a non-transient failure, got %d", calls)
	}
}
