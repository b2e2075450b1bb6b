package inventory

import "strings"

// southernRegions mark a region string as southern hemisphere.
var southernRegions = []string{"australia", "new zealand", "south africa", "argentina", "chile"}

// IsSouthern reports whether region names a southern-hemisphere place.
func IsSouthern(region string) bool {
	r := strings.ToLower(region)
	for _, s := range southernRegions {
		if strings.Contains(r, s) {
			return true
		}
	}
	return false
}

// Season names the season for a zero-based month (0 = January) in region.
func Season(month int, region string) string {
	southern := IsSouthern(region)
	switch {
	case month >= 2 && month <= 4:
		if southern {
			return "Fall/Autumn"
		}
		return "Spring"
	case month >= 5 && month <= 7:
		if southern {
			return "Winter"
		}
		return "Summer"
	case month >= 8 && month <= 10:
		if southern {
			return "Spring"
		}
		return "Fall/Autumn"
	default:
		if southern {
			return "Summer"
		}
		return "Winter"
	}
}
