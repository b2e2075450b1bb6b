package models

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GeoPoint is a GeoJSON location. Coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string    `bson:"type" json:"type"`
	Coordinates []float64 `bson:"coordinates" json:"coordinates"`
}

type Address struct {
	City    string `bson:"city,omitempty" json:"city,omitempty"`
	Region  string `bson:"region,omitempty" json:"region,omitempty"`
	Country string `bson:"country,omitempty" json:"country,omitempty"`
}

// Profile is the per-user document holding location and the generated summary.
type Profile struct {
	ID                 primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	User               primitive.ObjectID  `bson:"user" json:"user"`
	Name               string              `bson:"name,omitempty" json:"name,omitempty"`
	Location           *GeoPoint           `bson:"location,omitempty" json:"location,omitempty"`
	Address            Address             `bson:"address" json:"address"`
	AiInventorySummary *AiInventorySummary `bson:"aiInventorySummary,omitempty" json:"aiInventorySummary,omitempty"`
	CreatedAt          time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt          time.Time           `bson:"updatedAt" json:"updatedAt"`
}

type Category struct {
	ID   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name string             `bson:"name" json:"name"`
}

type Product struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name       string             `bson:"name" json:"name"`
	Unit       string             `bson:"unit" json:"unit"`
	CategoryID primitive.ObjectID `bson:"category" json:"-"`
	Category   *Category          `bson:"-" json:"category,omitempty"`
}

// Inventory is a stock line with its product and category resolved.
type Inventory struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	User      primitive.ObjectID `bson:"user" json:"user"`
	ProductID primitive.ObjectID `bson:"product" json:"-"`
	Quantity  float64            `bson:"quantity" json:"quantity"`
	Product   *Product           `bson:"-" json:"product,omitempty"`
}

// Usage is one consumption event with its inventory chain resolved.
type Usage struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	User         primitive.ObjectID `bson:"user" json:"user"`
	InventoryID  primitive.ObjectID `bson:"inventory" json:"-"`
	QuantityUsed float64            `bson:"quantityUsed" json:"quantityUsed"`
	UsedOn       time.Time          `bson:"usedOn" json:"usedOn"`
	Crop         string             `bson:"crop,omitempty" json:"crop,omitempty"`
	Purpose      string             `bson:"purpose,omitempty" json:"purpose,omitempty"`
	Inventory    *Inventory         `bson:"-" json:"inventory,omitempty"`
}

// AiInventorySummary is the generated planning summary stored on a Profile.
// It is replaced wholesale on every run.
type AiInventorySummary struct {
	SeasonalForecasts    []SeasonalForecast `bson:"seasonalForecasts" json:"seasonalForecasts"`
	CropCycleInsights    []CropCycleInsight `bson:"cropCycleInsights" json:"cropCycleInsights"`
	ProcurementPlan      []ProcurementItem  `bson:"procurementPlan" json:"procurementPlan"`
	YieldImprovementTips []string           `bson:"yieldImprovementTips" json:"yieldImprovementTips"`
}

type SeasonalForecast struct {
	Period           string   `bson:"period" json:"period"`
	ExpectedDemand   string   `bson:"expectedDemand" json:"expectedDemand"`
	SuggestedActions []string `bson:"suggestedActions" json:"suggestedActions"`
}

type CropCycleInsight struct {
	Crop           string   `bson:"crop" json:"crop"`
	Cycle          string   `bson:"cycle" json:"cycle"`
	InventoryNeeds []string `bson:"inventoryNeeds" json:"inventoryNeeds"`
}

type ProcurementItem struct {
	Item                string `bson:"item" json:"item"`
	CurrentQuantity     string `bson:"currentQuantity" json:"currentQuantity"`
	RecommendedQuantity string `bson:"recommendedQuantity" json:"recommendedQuantity"`
	Timing              string `bson:"timing" json:"timing"`
	Rationale           string `bson:"rationale" json:"rationale"`
}

// Notification is an in-app message for a user.
type Notification struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Recipient primitive.ObjectID `bson:"recipient" json:"recipient"`
	Type      string             `bson:"type" json:"type"`
	Message   string             `bson:"message" json:"message"`
	IsRead    bool               `bson:"isRead" json:"isRead"`
	IsSeen    bool               `bson:"isSeen" json:"isSeen"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// SummaryGenerator produces an AiInventorySummary from an analysis prompt.
// Implementations must return a structurally complete summary or an error.
type SummaryGenerator interface {
	GenerateSummary(ctx context.Context, prompt string) (AiInventorySummary, error)
	Name() string
}
