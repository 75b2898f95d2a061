package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListModels_ParsesAndFilters(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("expected bearer auth, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"slug":                 "x/a",
					"name":                 "A",
					"supported_parameters": []string{"tools"},
					"pricing":              map[string]any{"prompt": "0.000001"},
				},
				{
					"slug":                 "x/b",
					"name":                 "B",
					"supported_parameters": []string{},
					"pricing":              map[string]any{"prompt": "0.000002"},
				},
			},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, "test-key")

	all, err := client.ListModels(context.Background(), Filters{})
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 models, got %d", len(all))
	}

	filtered, err := client.ListModels(context.Background(), Filters{SupportedParameters: []string{"tools"}})
	if err != nil {
		t.Fatalf("list models filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Slug != "x/a" {
		t.Fatalf("expected only x/a, got %+v", filtered)
	}
}

func TestListModels_FiltersByDistillableAndModalities(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		trueVal := true
		falseVal := false
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"slug":        "x/a",
					"name":        "A",
					"distillable": trueVal,
					"architecture": map[string]any{
						"input_modalities":  []string{"text"},
						"output_modalities": []string{"text"},
					},
				},
				{
					"slug":        "x/b",
					"name":        "B",
					"distillable": falseVal,
					"architecture": map[string]any{
						"input_modalities":  []string{"text", "image"},
						"output_modalities": []string{"text"},
					},
				},
			},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, "test-key")

	wantDistillable := true
	byDistillable, err := client.ListModels(context.Background(), Filters{Distillable: &wantDistillable})
	if err != nil {
		t.Fatalf("list models by distillable: %v", err)
	}
	if len(byDistillable) != 1 || byDistillable[0].Slug != "x/a" {
		t.Fatalf("expected only x/a for distillable=true, got %+v", byDistillable)
	}

	byInputModality, err := client.ListModels(context.Background(), Filters{InputModalities: []string{"image"}})
	if err != nil {
		t.Fatalf("list models by input modality: %v", err)
	}
	if len(byInputModality) != 1 || byInputModality[0].Slug != "x/b" {
		t.Fatalf("expected only x/b for input_modalities=image, got %+v", byInputModality)
	}

	byOutputModality, err := client.ListModels(context.Background(), Filters{OutputModalities: []string{"text"}})
	if err != nil {
		t.Fatalf("list models by output modality: %v", err)
	}
	if len(byOutputModality) != 2 {
		t.Fatalf("expected both models for output_modalities=text, got %+v", byOutputModality)
	}
}

func TestListModels_ServerErrorReturnsErr(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	if _, err := client.ListModels(context.Background(), Filters{}); err == nil {
		t.Fatalf("expected error after exhausting retries on 500")
	}
}

func TestListModels_TooManyRequestsTriggersCooldown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	if _, err := client.ListModels(context.Background(), Filters{}); err == nil {
		t.Fatalf("expected rate limit error")
	}
	if _, err := client.ListModels(context.Background(), Filters{}); err == nil {
		t.Fatalf("expected cooldown to reject the next call immediately")
	}
}

func TestListProviders_Parses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/providers", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"slug": "openai", "name": "OpenAI", "homepage_url": "https://openai.com"},
			},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	providers, err := client.ListProviders(context.Background())
	if err != nil {
		t.Fatalf("list providers: %v", err)
	}
	if len(providers) != 1 || providers[0].Slug != "openai" {
		t.Fatalf("expected one openai provider, got %+v", providers)
	}
}

func TestTinyBYOKCall_ParsesUsage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"usage": map[string]any{
				"prompt_tokens":     5,
				"completion_tokens": 1,
				"cost":              "0.0001",
			},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	report, err := client.TinyBYOKCall(context.Background(), "openai/gpt-5")
	if err != nil {
		t.Fatalf("tiny byok call: %v", err)
	}
	if !report.OK {
		t.Fatalf("expected OK report")
	}
	if report.PromptTokens != 5 || report.CompletionTokens != 1 {
		t.Fatalf("unexpected usage: %+v", report)
	}
	if report.AggregatorCostUSD == nil || *report.AggregatorCostUSD != "0.0001" {
		t.Fatalf("expected cost 0.0001, got %v", report.AggregatorCostUSD)
	}
}

func TestTinyBYOKCall_NonOKStatusReturnsOKFalse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	report, err := client.TinyBYOKCall(context.Background(), "openai/unavailable")
	if err != nil {
		t.Fatalf("expected no transport error, got %v", err)
	}
	if report.OK {
		t.Fatalf("expected OK=false on 4xx response")
	}
}
