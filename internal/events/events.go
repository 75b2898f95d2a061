// Package events names the structured log events emitted by the pipeline,
// one per significant decision.
package events

const (
	SchedulerIterationStarted   = "scheduler_iteration_started"
	SchedulerIterationCompleted = "scheduler_iteration_completed"
	SchedulerIterationFailed    = "scheduler_iteration_failed"

	SignificantPriceChangeDetected = "significant_price_change_detected"
	SkippingInvalidPricing         = "skipping_invalid_pricing"
	SentinelPricingValue           = "sentinel_pricing_value"

	SkippingByokForFreeOrUnavailableModel = "skipping_byok_for_free_or_unavailable_model"

	FoundMissingModelsInBackend            = "found_missing_models_in_backend"
	NoMissingModelsInBackend               = "no_missing_models_in_backend"
	SkippingDeactivationForProtectedModels = "skipping_deactivation_for_protected_models"
	BackendSyncDisabled                    = "backend_sync_disabled"

	ProviderPricingCollectionFailed = "provider_pricing_collection_failed"
	ModelNotInCatalogue             = "model_not_in_catalogue"
	ModelPricingFailed              = "model_pricing_failed"
)
