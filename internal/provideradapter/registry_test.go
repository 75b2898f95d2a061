package provideradapter

import (
	"context"
	"testing"
)

func TestRegistry_GetFallsBackToGeneric(t *testing.T) {
	r := NewRegistry(nil, nil)
	adapter := r.Get("some-unknown-provider")
	if adapter == nil {
		t.Fatal("expected a non-nil adapter")
	}
	if _, ok := adapter.(*genericWebAdapter); !ok {
		t.Fatalf("expected generic adapter for unknown provider, got %T", adapter)
	}
}

func TestRegistry_GetReturnsSpecificAdapter(t *testing.T) {
	r := NewRegistry(nil, nil)
	adapter := r.Get("openai")
	if _, ok := adapter.(*specificAdapter); !ok {
		t.Fatalf("expected specific adapter for openai, got %T", adapter)
	}
}

func TestSpecificAdapter_FallsBackToHardcodedTable(t *testing.T) {
	r := NewRegistry(nil, nil)
	adapter := r.Get("openai")
	result, err := adapter.Resolve(context.Background(), "gpt-4o", "openai/gpt-4o")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result == nil {
		t.Fatal("expected fallback pricing result")
	}
	if result.PromptUSDPerMillion == nil {
		t.Fatal("expected prompt price from fallback table")
	}
}
