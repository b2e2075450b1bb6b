package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" weather-update ")
	assert.NoError(t, err)
	assert.Equal(t, KindWeatherUpdate, k)

	_, err = ParseKind("harvest")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDedupKeyRoundTrip(t *testing.T) {
	key := DedupKey{Kind: KindInventorySummary, UserID: "64b7f0c2a1b2c3d4e5f60718"}
	assert.Equal(t, "inventory-summary-64b7f0c2a1b2c3d4e5f60718", key.String())

	got, ok := ParseDedupKey(key.String())
	assert.True(t, ok)
	assert.Equal(t, key, got)
}

func TestParseDedupKey_RejectsJobIDs(t *testing.T) {
	for _, s := range []string{
		"weather-update-u1:1700000000000",
		"3f0c1e9a-8b43-4a8e-9a57-1f2b3c4d5e6f",
		"weather-update-",
		"",
	} {
		_, ok := ParseDedupKey(s)
		assert.False(t, ok, s)
	}
}

func TestSchedule(t *testing.T) {
	assert.False(t, OneShot().IsRepeating())
	assert.True(t, Repeating("@daily").IsRepeating())
}
