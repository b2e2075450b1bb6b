package ai

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"farm-jobs/internal/models"
)

func str(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

func strList(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: desc}
}

func objList(desc string, props map[string]*genai.Schema, required ...string) *genai.Schema {
	return &genai.Schema{
		Type:        genai.TypeArray,
		Description: desc,
		Items:       &genai.Schema{Type: genai.TypeObject, Properties: props, Required: required},
	}
}

// SummarySchema is the response schema requested from the model.
var SummarySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"seasonalForecasts": objList("Seasonal demand forecasts and predictions for upcoming periods", map[string]*genai.Schema{
			"period":           str("Time period (e.g., 'Next 3 months', 'December-February')"),
			"expectedDemand":   str("Predicted demand changes for this period"),
			"suggestedActions": strList("Specific actions to take during this period"),
		}, "period", "expectedDemand", "suggestedActions"),
		"cropCycleInsights": objList("Crop cycle analysis and related inventory planning", map[string]*genai.Schema{
			"crop":           str("Crop name or type"),
			"cycle":          str("Typical crop cycle information for the region"),
			"inventoryNeeds": strList("Inventory items needed for this crop cycle"),
		}, "crop", "cycle", "inventoryNeeds"),
		"procurementPlan": objList("Specific procurement recommendations with quantities and timing", map[string]*genai.Schema{
			"item":                str("Inventory item name"),
			"currentQuantity":     str("Current stock level"),
			"recommendedQuantity": str("Recommended stock level"),
			"timing":              str("When to procure (e.g., 'Within 2 weeks', 'Before December')"),
			"rationale":           str("Why this procurement is recommended"),
		}, "item", "currentQuantity", "recommendedQuantity", "timing", "rationale"),
		"yieldImprovementTips": strList("Data-driven insights and local farming practices to improve crop yield and productivity"),
	},
	Required:         []string{"seasonalForecasts", "cropCycleInsights", "procurementPlan", "yieldImprovementTips"},
	PropertyOrdering: []string{"seasonalForecasts", "cropCycleInsights", "procurementPlan", "yieldImprovementTips"},
}

// The raw types use pointers so that missing fields, which a plain decode
// would turn into zero values, are detected at every level.
type rawSummary struct {
	SeasonalForecasts    *[]rawForecast    `json:"seasonalForecasts"`
	CropCycleInsights    *[]rawCropInsight `json:"cropCycleInsights"`
	ProcurementPlan      *[]rawProcurement `json:"procurementPlan"`
	YieldImprovementTips *[]string         `json:"yieldImprovementTips"`
}

type rawForecast struct {
	Period           *string   `json:"period"`
	ExpectedDemand   *string   `json:"expectedDemand"`
	SuggestedActions *[]string `json:"suggestedActions"`
}

type rawCropInsight struct {
	Crop           *string   `json:"crop"`
	Cycle          *string   `json:"cycle"`
	InventoryNeeds *[]string `json:"inventoryNeeds"`
}

type rawProcurement struct {
	Item                *string `json:"item"`
	CurrentQuantity     *string `json:"currentQuantity"`
	RecommendedQuantity *string `json:"recommendedQuantity"`
	Timing              *string `json:"timing"`
	Rationale           *string `json:"rationale"`
}

// DecodeSummary parses model output into a summary, rejecting documents that
// do not match the schema.
func DecodeSummary(text string) (models.AiInventorySummary, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace([]byte(text))))
	dec.DisallowUnknownFields()
	var raw rawSummary
	if err := dec.Decode(&raw); err != nil {
		return models.AiInventorySummary{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if raw.SeasonalForecasts == nil || raw.CropCycleInsights == nil || raw.ProcurementPlan == nil || raw.YieldImprovementTips == nil {
		return models.AiInventorySummary{}, fmt.Errorf("%w: missing required fields", ErrInvalidResponse)
	}

	out := models.AiInventorySummary{
		SeasonalForecasts:    make([]models.SeasonalForecast, 0, len(*raw.SeasonalForecasts)),
		CropCycleInsights:    make([]models.CropCycleInsight, 0, len(*raw.CropCycleInsights)),
		ProcurementPlan:      make([]models.ProcurementItem, 0, len(*raw.ProcurementPlan)),
		YieldImprovementTips: *raw.YieldImprovementTips,
	}
	for i, f := range *raw.SeasonalForecasts {
		if f.Period == nil || f.ExpectedDemand == nil || f.SuggestedActions == nil {
			return models.AiInventorySummary{}, fmt.Errorf("%w: seasonalForecasts[%d] missing required fields", ErrInvalidResponse, i)
		}
		out.SeasonalForecasts = append(out.SeasonalForecasts, models.SeasonalForecast{
			Period:           *f.Period,
			ExpectedDemand:   *f.ExpectedDemand,
			SuggestedActions: *f.SuggestedActions,
		})
	}
	for i, c := range *raw.CropCycleInsights {
		if c.Crop == nil || c.Cycle == nil || c.InventoryNeeds == nil {
			return models.AiInventorySummary{}, fmt.Errorf("%w: cropCycleInsights[%d] missing required fields", ErrInvalidResponse, i)
		}
		out.CropCycleInsights = append(out.CropCycleInsights, models.CropCycleInsight{
			Crop:           *c.Crop,
			Cycle:          *c.Cycle,
			InventoryNeeds: *c.InventoryNeeds,
		})
	}
	for i, p := range *raw.ProcurementPlan {
		if p.Item == nil || p.CurrentQuantity == nil || p.RecommendedQuantity == nil || p.Timing == nil || p.Rationale == nil {
			return models.AiInventorySummary{}, fmt.Errorf("%w: procurementPlan[%d] missing required fields", ErrInvalidResponse, i)
		}
		out.ProcurementPlan = append(out.ProcurementPlan, models.ProcurementItem{
			Item:                *p.Item,
			CurrentQuantity:     *p.CurrentQuantity,
			RecommendedQuantity: *p.RecommendedQuantity,
			Timing:              *p.Timing,
			Rationale:           *p.Rationale,
		})
	}
	return out, nil
}
