package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"farm-jobs/internal/models"
)

func product(name, unit, category string) *models.Product {
	return &models.Product{Name: name, Unit: unit, Category: &models.Category{Name: category}}
}

func stock(hex string, qty float64, p *models.Product) models.Inventory {
	id, _ := primitive.ObjectIDFromHex(hex)
	return models.Inventory{ID: id, Quantity: qty, Product: p}
}

func used(on time.Time, qty float64, crop, purpose string, p *models.Product) models.Usage {
	u := models.Usage{UsedOn: on, QuantityUsed: qty, Crop: crop, Purpose: purpose}
	if p != nil {
		u.Inventory = &models.Inventory{Product: p}
	}
	return u
}

func TestInventoryListing(t *testing.T) {
	items := []models.Inventory{
		stock("64b7f0c2a1b2c3d4e5f60718", 12.5, product("Urea", "kg", "Fertilizer")),
		stock("64b7f0c2a1b2c3d4e5f60719", 3, product("Wheat seed", "kg", "Seeds")),
	}
	want := "Inventory ID: 64b7f0c2a1b2c3d4e5f60718, Product: Urea, Category: Fertilizer, Quantity Available: 12.5 (kg)\n" +
		"Inventory ID: 64b7f0c2a1b2c3d4e5f60719, Product: Wheat seed, Category: Seeds, Quantity Available: 3 (kg)\n"
	assert.Equal(t, want, InventoryListing(items))
	assert.Empty(t, InventoryListing(nil))
}

func TestUsageListing(t *testing.T) {
	urea := product("Urea", "kg", "Fertilizer")
	usages := []models.Usage{
		used(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), 5, "Wheat", "top dressing", urea),
		used(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), 2, "", "", nil),
	}
	want := "March 2025: Urea - 5 kg (Crop: Wheat) [top dressing]\n" +
		"January 2025: Unknown - 2 units\n"
	assert.Equal(t, want, UsageListing(usages))
}

func TestCropRollup(t *testing.T) {
	urea := product("Urea", "kg", "Fertilizer")
	dap := product("DAP", "kg", "Fertilizer")
	usages := []models.Usage{
		used(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), 5, "Wheat", "", urea),
		used(time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC), 4, "Wheat", "", urea),
		used(time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), 6, "Wheat", "", urea),
		used(time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), 8, "Wheat", "", dap),
		used(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), 9, "", "", dap),
		used(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), 9, "Rice", "", nil),
	}

	got := CropRollup(usages)
	require.Len(t, got, 2)
	assert.Equal(t, CropUsage{Crop: "Wheat", Product: "DAP", TotalUsed: 8, Occurrences: 1, Months: []time.Month{time.November}}, got[0])
	assert.Equal(t, CropUsage{Crop: "Wheat", Product: "Urea", TotalUsed: 15, Occurrences: 3, Months: []time.Month{time.March, time.November}}, got[1])
}

func TestBuildPrompt(t *testing.T) {
	in := PromptInput{
		Now:     time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		Address: models.Address{City: "Ludhiana", Region: "Punjab", Country: "India"},
		Inventory: []models.Inventory{
			stock("64b7f0c2a1b2c3d4e5f60718", 12, product("Urea", "kg", "Fertilizer")),
		},
		Usage: []models.Usage{
			used(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), 5, "Wheat", "", product("Urea", "kg", "Fertilizer")),
		},
	}
	p := BuildPrompt(in)
	assert.Contains(t, p, "- Date: January 2025\n")
	assert.Contains(t, p, "- Season: Winter\n")
	assert.Contains(t, p, "- Location: Ludhiana, Punjab, India\n")
	assert.Contains(t, p, "Product: Urea, Category: Fertilizer, Quantity Available: 12 (kg)")
	assert.Contains(t, p, "December 2024: Urea - 5 kg (Crop: Wheat)")
	assert.Contains(t, p, "Wheat - Urea: 5 total over 1 uses (months: December)")
	assert.Contains(t, p, "typical for Punjab, India")
	assert.Contains(t, p, "Current season (Winter)")
	assert.NotContains(t, p, noUsagePlaceholder)
}

func TestBuildPrompt_NoData(t *testing.T) {
	p := BuildPrompt(PromptInput{
		Now:     time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		Address: models.Address{City: "Melbourne", Region: "Victoria, Australia", Country: "Australia"},
	})
	assert.Contains(t, p, "USAGE HISTORY (Past 12 Months):\n"+noUsagePlaceholder)
	assert.Contains(t, p, "- Season: Summer\n")
	assert.Contains(t, p, "CURRENT INVENTORY DATA:\n\n")
}
