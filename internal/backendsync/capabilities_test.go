package backendsync

import "testing"

func TestDeriveCapabilities_ModalitiesDriveVisionAudioVideo(t *testing.T) {
	caps := deriveCapabilities([]string{"tools", "reasoning"}, []string{"text", "image"}, []string{"text", "audio"})
	if !caps.SupportsTools || !caps.SupportsReasoning || !caps.IsThinkingModel {
		t.Fatalf("expected tools/reasoning/thinking from tags, got %+v", caps)
	}
	if !caps.SupportsVision {
		t.Fatalf("expected vision from input_modalities containing image, got %+v", caps)
	}
	if !caps.SupportsAudio {
		t.Fatalf("expected audio from output_modalities containing audio, got %+v", caps)
	}
	if caps.SupportsVideo {
		t.Fatalf("expected no video capability, got %+v", caps)
	}
}

func TestDeriveCapabilities_TextOnlyHasNoMediaCapabilities(t *testing.T) {
	caps := deriveCapabilities([]string{"tools"}, []string{"text"}, []string{"text"})
	if caps.SupportsVision || caps.SupportsAudio || caps.SupportsVideo {
		t.Fatalf("expected no media capabilities for text-only modalities, got %+v", caps)
	}
}

func TestPassesModalityFilter_TextOnlyPasses(t *testing.T) {
	if !passesModalityFilter([]byte(`{"input_modalities":["text"],"output_modalities":["text"]}`)) {
		t.Fatalf("expected text/text architecture to pass the modality filter")
	}
}

func TestPassesModalityFilter_ImageModalityExcluded(t *testing.T) {
	if passesModalityFilter([]byte(`{"input_modalities":["text","image"],"output_modalities":["text"]}`)) {
		t.Fatalf("expected an image input modality to fail the modality filter")
	}
}

func TestPassesModalityFilter_MissingArchitectureExcluded(t *testing.T) {
	if passesModalityFilter(nil) {
		t.Fatalf("expected a model with no architecture data to fail the modality filter")
	}
}
