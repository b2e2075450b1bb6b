package inventory

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"farm-jobs/internal/models"
)

const noUsagePlaceholder = "No usage history available"

// InventoryListing renders one line per stock item.
func InventoryListing(items []models.Inventory) string {
	var b strings.Builder
	for _, it := range items {
		var product, category, unit string
		if it.Product != nil {
			product, unit = it.Product.Name, it.Product.Unit
			if it.Product.Category != nil {
				category = it.Product.Category.Name
			}
		}
		fmt.Fprintf(&b, "Inventory ID: %s, Product: %s, Category: %s, Quantity Available: %s (%s)\n",
			it.ID.Hex(), product, category, formatQty(it.Quantity), unit)
	}
	return b.String()
}

// UsageListing renders one line per usage record, in the order given.
func UsageListing(usages []models.Usage) string {
	var b strings.Builder
	for _, u := range usages {
		name, unit := "Unknown", "units"
		if p := usageProduct(u); p != nil {
			if p.Name != "" {
				name = p.Name
			}
			if p.Unit != "" {
				unit = p.Unit
			}
		}
		fmt.Fprintf(&b, "%s: %s - %s %s", u.UsedOn.Format("January 2006"), name, formatQty(u.QuantityUsed), unit)
		if u.Crop != "" {
			fmt.Fprintf(&b, " (Crop: %s)", u.Crop)
		}
		if u.Purpose != "" {
			fmt.Fprintf(&b, " [%s]", u.Purpose)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// CropUsage is the consumption of one product for one crop.
type CropUsage struct {
	Crop        string
	Product     string
	TotalUsed   float64
	Occurrences int
	Months      []time.Month
}

// CropRollup groups usage by crop and product. Records without a crop or a
// resolved product name are skipped.
func CropRollup(usages []models.Usage) []CropUsage {
	type key struct{ crop, product string }
	acc := map[key]*CropUsage{}
	months := map[key]map[time.Month]struct{}{}
	for _, u := range usages {
		p := usageProduct(u)
		if u.Crop == "" || p == nil || p.Name == "" {
			continue
		}
		k := key{u.Crop, p.Name}
		cu, ok := acc[k]
		if !ok {
			cu = &CropUsage{Crop: u.Crop, Product: p.Name}
			acc[k] = cu
			months[k] = map[time.Month]struct{}{}
		}
		cu.TotalUsed += u.QuantityUsed
		cu.Occurrences++
		months[k][u.UsedOn.Month()] = struct{}{}
	}

	out := make([]CropUsage, 0, len(acc))
	for k, cu := range acc {
		for m := range months[k] {
			cu.Months = append(cu.Months, m)
		}
		sort.Slice(cu.Months, func(i, j int) bool { return cu.Months[i] < cu.Months[j] })
		out = append(out, *cu)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Crop != out[j].Crop {
			return out[i].Crop < out[j].Crop
		}
		return out[i].Product < out[j].Product
	})
	return out
}

func rollupListing(rollup []CropUsage) string {
	var b strings.Builder
	for _, cu := range rollup {
		names := make([]string, 0, len(cu.Months))
		for _, m := range cu.Months {
			names = append(names, m.String())
		}
		fmt.Fprintf(&b, "%s - %s: %s total over %d uses (months: %s)\n",
			cu.Crop, cu.Product, formatQty(cu.TotalUsed), cu.Occurrences, strings.Join(names, ", "))
	}
	return b.String()
}

// PromptInput is everything the analysis request embeds.
type PromptInput struct {
	Now       time.Time
	Address   models.Address
	Inventory []models.Inventory
	Usage     []models.Usage
}

// BuildPrompt composes the analysis request sent to the generator.
func BuildPrompt(in PromptInput) string {
	region := in.Address.Region
	if region == "" {
		region = "unknown"
	}
	season := Season(int(in.Now.Month())-1, region)
	location := fmt.Sprintf("%s, %s, %s", in.Address.City, in.Address.Region, in.Address.Country)

	usage := UsageListing(in.Usage)
	if usage == "" {
		usage = noUsagePlaceholder
	}
	patterns := rollupListing(CropRollup(in.Usage))
	if patterns == "" {
		patterns = "No crop-specific usage recorded"
	}

	var b strings.Builder
	b.WriteString("You are an expert agricultural inventory analyst and crop planning specialist. Analyze the following data to provide predictive inventory planning recommendations based on crop cycles and seasonal demand forecasting.\n\n")
	b.WriteString("CURRENT CONTEXT:\n")
	fmt.Fprintf(&b, "- Date: %s\n", in.Now.Format("January 2006"))
	fmt.Fprintf(&b, "- Season: %s\n", season)
	fmt.Fprintf(&b, "- Location: %s\n\n", location)
	fmt.Fprintf(&b, "CURRENT INVENTORY DATA:\n%s\n", InventoryListing(in.Inventory))
	fmt.Fprintf(&b, "USAGE HISTORY (Past 12 Months):\n%s\n\n", usage)
	fmt.Fprintf(&b, "CROP USAGE PATTERNS:\n%s\n", patterns)
	b.WriteString("ANALYSIS REQUIREMENTS:\n")
	b.WriteString("1. Identify seasonal patterns in inventory usage based on historical data\n")
	fmt.Fprintf(&b, "2. Predict upcoming demand based on crop cycles typical for %s, %s\n", in.Address.Region, in.Address.Country)
	b.WriteString("3. Recommend optimal inventory levels for the next 3-6 months considering:\n")
	fmt.Fprintf(&b, "   - Current season (%s) and upcoming seasonal transitions\n", season)
	b.WriteString("   - Historical usage patterns and crop-specific needs\n")
	b.WriteString("   - Regional agricultural calendar and planting/harvesting cycles\n")
	b.WriteString("   - Weather patterns typical for this location and time of year\n")
	b.WriteString("4. Suggest procurement timing to align with crop cycles and avoid stockouts\n")
	b.WriteString("5. Identify items that may have seasonal demand spikes or drops\n")
	b.WriteString("6. Provide data-driven insights on local farming practices that could improve yield and productivity\n\n")
	b.WriteString("Please provide actionable, specific recommendations with quantities and timeframes where possible.")
	return b.String()
}

func usageProduct(u models.Usage) *models.Product {
	if u.Inventory == nil {
		return nil
	}
	return u.Inventory.Product
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}
