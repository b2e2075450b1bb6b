package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeason(t *testing.T) {
	tests := []struct {
		month  int
		region string
		want   string
	}{
		{0, "Punjab, India", "Winter"},
		{0, "Victoria, Australia", "Summer"},
		{2, "Punjab", "Spring"},
		{4, "Canterbury, New Zealand", "Fall/Autumn"},
		{6, "Iowa", "Summer"},
		{6, "Mendoza, ARGENTINA", "Winter"},
		{9, "Bavaria", "Fall/Autumn"},
		{9, "Western Cape, South Africa", "Spring"},
		{11, "Maule, Chile", "Summer"},
		{11, "unknown", "Winter"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Season(tc.month, tc.region), "month=%d region=%q", tc.month, tc.region)
	}
}
