package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boletapp/scan-engine/internal/domain"
	"github.com/shopspring/decimal"
)

func visionReply(text string) string {
	reply := map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"parts": []map[string]any{{"text": text}},
			},
		}},
	}
	raw, _ := json.Marshal(reply)
	return string(raw)
}

func newTestAnalyzer(t *testing.T, handler http.HandlerFunc) (*VisionAnalyzer, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	analyzer, err := NewVisionAnalyzer(server.URL, "test-key", 5*time.Second)
	if err != nil {
		t.Fatalf("NewVisionAnalyzer() error = %v", err)
	}
	return analyzer, server
}

func testImage() domain.BatchImage {
	return domain.BatchImage{Data: []byte{0xFF, 0xD8, 0xFF}, MimeType: "image/jpeg"}
}

func TestVisionAnalyzerExtractsReceipt(t *testing.T) {
	t.Parallel()

	var gotKey string
	analyzer, _ := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")

		var req visionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Contents) != 1 || len(req.Contents[0].Parts) != 2 {
			t.Errorf("request parts = %+v, want prompt plus inline image", req.Contents)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(visionReply(`{
			"merchant": "jumbo",
			"date": "2026-08-30",
			"total": 42.50,
			"category": "groceries",
			"items": [{"name": "milk", "price": 42.50, "quantity": 0, "category": "dairy"}]
		}`)))
	})

	receipt, err := analyzer.Analyze(context.Background(), testImage())
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if gotKey != "test-key" {
		t.Fatalf("api key header = %q, want %q", gotKey, "test-key")
	}
	if receipt.Merchant != "jumbo" {
		t.Fatalf("Merchant = %q, want %q", receipt.Merchant, "jumbo")
	}
	if want := decimal.RequireFromString("42.50"); !receipt.Total.Equal(want) {
		t.Fatalf("Total = %s, want %s", receipt.Total, want)
	}
	if len(receipt.Items) != 1 || receipt.Items[0].Quantity != 1 {
		t.Fatalf("items = %+v, zero quantity must default to 1", receipt.Items)
	}
}

func TestVisionAnalyzerStripsMarkdownFences(t *testing.T) {
	t.Parallel()

	analyzer, _ := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(visionReply("```json\n{\"merchant\": \"lider\", \"date\": \"2026-08-30\", \"total\": 10}\n```")))
	})

	receipt, err := analyzer.Analyze(context.Background(), testImage())
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if receipt.Merchant != "lider" {
		t.Fatalf("Merchant = %q, want %q", receipt.Merchant, "lider")
	}
}

func TestVisionAnalyzerStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		want   ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, KindUnauthenticated},
		{"forbidden", http.StatusForbidden, KindUnauthenticated},
		{"rate limited", http.StatusTooManyRequests, KindRateLimited},
		{"bad request", http.StatusBadRequest, KindMalformedInput},
		{"request timeout", http.StatusRequestTimeout, KindTimeout},
		{"gateway timeout", http.StatusGatewayTimeout, KindTimeout},
		{"server error", http.StatusInternalServerError, KindUnknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			analyzer, _ := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error": {"code": 0, "message": "provider says no"}}`))
			})

			_, err := analyzer.Analyze(context.Background(), testImage())
			if err == nil {
				t.Fatal("Analyze() error = nil, want classified failure")
			}

			var analysisErr *AnalysisError
			if !errors.As(err, &analysisErr) {
				t.Fatalf("Analyze() error = %T, want *AnalysisError", err)
			}
			if analysisErr.Kind != tt.want {
				t.Fatalf("Kind = %s, want %s", analysisErr.Kind, tt.want)
			}
			if analysisErr.StatusCode != tt.status {
				t.Fatalf("StatusCode = %d, want %d", analysisErr.StatusCode, tt.status)
			}
		})
	}
}

func TestVisionAnalyzerUnreadableImage(t *testing.T) {
	t.Parallel()

	analyzer, _ := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(visionReply(`{"unreadable": true}`)))
	})

	_, err := analyzer.Analyze(context.Background(), testImage())
	if kind := ClassifyError(err); kind != KindMalformedInput {
		t.Fatalf("ClassifyError() = %s, want MALFORMED_INPUT", kind)
	}
}

func TestVisionAnalyzerGarbledExtraction(t *testing.T) {
	t.Parallel()

	analyzer, _ := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(visionReply("this is not json")))
	})

	_, err := analyzer.Analyze(context.Background(), testImage())
	if kind := ClassifyError(err); kind != KindMalformedInput {
		t.Fatalf("ClassifyError() = %s, want MALFORMED_INPUT", kind)
	}
}

func TestVisionAnalyzerEmptyImageRejectedLocally(t *testing.T) {
	t.Parallel()

	called := false
	analyzer, _ := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := analyzer.Analyze(context.Background(), domain.BatchImage{MimeType: "image/jpeg"})
	if kind := ClassifyError(err); kind != KindMalformedInput {
		t.Fatalf("ClassifyError() = %s, want MALFORMED_INPUT", kind)
	}
	if called {
		t.Fatal("empty payload must never reach the provider")
	}
}

func TestNewVisionAnalyzerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewVisionAnalyzer("", "key", time.Second); err == nil {
		t.Fatal("NewVisionAnalyzer() with empty url must fail")
	}
	if _, err := NewVisionAnalyzer("http://localhost", "", time.Second); err == nil {
		t.Fatal("NewVisionAnalyzer() with empty api key must fail")
	}
}
