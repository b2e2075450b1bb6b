package mock

import (
	"context"
	"sync"

	"farm-jobs/internal/ai"
	"farm-jobs/internal/models"
)

// Generator satisfies models.SummaryGenerator for tests and local runs.
type Generator struct {
	Name_        string
	GenerateFunc func(ctx context.Context, prompt string) (models.AiInventorySummary, error)

	mu      sync.Mutex
	prompts []string
}

func (g *Generator) Name() string { return g.Name_ }

func (g *Generator) GenerateSummary(ctx context.Context, prompt string) (models.AiInventorySummary, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.GenerateFunc != nil {
		return g.GenerateFunc(ctx, prompt)
	}
	return models.AiInventorySummary{}, nil
}

// Prompts returns every prompt received so far.
func (g *Generator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

// NewGenerator returns a Generator with a canned summary.
func NewGenerator() *Generator {
	return &Generator{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, _ string) (models.AiInventorySummary, error) {
			return models.AiInventorySummary{
				SeasonalForecasts: []models.SeasonalForecast{{
					Period:           "Next 3 months",
					ExpectedDemand:   "Steady demand for fertilizer ahead of sowing",
					SuggestedActions: []string{"Top up nitrogen fertilizer stock"},
				}},
				CropCycleInsights: []models.CropCycleInsight{{
					Crop:           "Wheat",
					Cycle:          "Sown November, harvested April",
					InventoryNeeds: []string{"Seed", "Urea", "DAP"},
				}},
				ProcurementPlan: []models.ProcurementItem{{
					Item:                "Urea",
					CurrentQuantity:     "5 kg",
					RecommendedQuantity: "50 kg",
					Timing:              "Within 2 weeks",
					Rationale:           "Stock is below the level needed for the next application",
				}},
				YieldImprovementTips: []string{"Test soil nitrogen before the first top dressing"},
			}, nil
		},
	}
}

// NewFailingGenerator returns a Generator that always returns err.
func NewFailingGenerator(err error) *Generator {
	return &Generator{
		Name_: "mock-failing",
		GenerateFunc: func(context.Context, string) (models.AiInventorySummary, error) {
			return models.AiInventorySummary{}, err
		},
	}
}

// NewTimeoutGenerator returns a Generator that blocks until ctx is cancelled.
func NewTimeoutGenerator() *Generator {
	return &Generator{
		Name_: "mock-timeout",
		GenerateFunc: func(ctx context.Context, _ string) (models.AiInventorySummary, error) {
			<-ctx.Done()
			return models.AiInventorySummary{}, ai.ErrInferenceTimeout
		},
	}
}

// Compile-time check that Generator implements SummaryGenerator.
var _ models.SummaryGenerator = (*Generator)(nil)
