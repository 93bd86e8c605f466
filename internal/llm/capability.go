package llm

import "context"

// DefaultStageTiers maps analysis stage names to model tiers. Verification is a
// document-validation task, specialist recommendations are moderate reasoning,
// and clinical interpretation gets the advanced tier.
func DefaultStageTiers() map[string]ModelTier {
	return map[string]ModelTier{
		"summary":          TierStandard,
		"verification":     TierLite,
		"medical_analysis": TierAdvanced,
		"nutrition":        TierStandard,
		"exercise":         TierStandard,
	}
}

// StageCapability adapts a Client to the pipeline's capability boundary:
// one synchronous call per stage, no retries at this layer.
type StageCapability struct {
	client Client
	tiers  map[string]ModelTier
}

// NewStageCapability creates a capability backed by the given client using the
// default stage tier mapping.
func NewStageCapability(client Client) *StageCapability {
	return &StageCapability{
		client: client,
		tiers:  DefaultStageTiers(),
	}
}

// WithTier overrides the model tier for a stage name.
func (c *StageCapability) WithTier(stage string, tier ModelTier) *StageCapability {
	c.tiers[stage] = tier
	return c
}

// Invoke performs the reasoning call for one stage. Unknown stages fall back to
// the standard tier.
func (c *StageCapability) Invoke(ctx context.Context, stageName, payload string) (string, error) {
	tier, ok := c.tiers[stageName]
	if !ok {
		tier = TierStandard
	}
	return c.client.GenerateContent(ctx, payload, tier)
}
