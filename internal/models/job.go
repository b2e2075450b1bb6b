package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownKind is returned for a kind no queue serves.
var ErrUnknownKind = errors.New("unknown job kind")

// Kind names one logical queue and the handler bound to it.
type Kind string

const (
	KindWeatherUpdate    Kind = "weather-update"
	KindInventorySummary Kind = "inventory-summary"
)

// Kinds lists every queue the workers serve.
var Kinds = []Kind{KindWeatherUpdate, KindInventorySummary}

// Valid reports whether k is one of the known queue kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind validates a kind received from a producer.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSpace(s))
	if !k.Valid() {
		return "", fmt.Errorf("%w %q", ErrUnknownKind, s)
	}
	return k, nil
}

// JobState enumerates lifecycle states kept on the job hash in Redis.
const (
	StateWaiting   = "waiting"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Payload is the body every job carries.
type Payload struct {
	UserID string `json:"userId"`
}

// DedupKey identifies a repeating schedule. Registering the same key twice is a no-op.
type DedupKey struct {
	Kind   Kind
	UserID string
}

// String renders the key in its stored form, "<kind>-<userId>".
func (k DedupKey) String() string {
	return string(k.Kind) + "-" + k.UserID
}

// ParseDedupKey splits a stored key back into its parts. Job instance ids
// ("<kind>-<userId>:<millis>") and broker-generated ids do not parse.
func ParseDedupKey(s string) (DedupKey, bool) {
	if strings.Contains(s, ":") {
		return DedupKey{}, false
	}
	for _, k := range Kinds {
		prefix := string(k) + "-"
		if strings.HasPrefix(s, prefix) && len(s) > len(prefix) {
			return DedupKey{Kind: k, UserID: s[len(prefix):]}, true
		}
	}
	return DedupKey{}, false
}

// Schedule is either one-shot (empty Pattern) or repeating on a cron pattern.
type Schedule struct {
	Pattern string `json:"pattern,omitempty"`
}

// OneShot dispatches a job once, immediately.
func OneShot() Schedule { return Schedule{} }

// Repeating dispatches a new job instance on every tick of pattern.
func Repeating(pattern string) Schedule { return Schedule{Pattern: pattern} }

func (s Schedule) IsRepeating() bool { return s.Pattern != "" }

// Job is one dispatchable unit of work.
type Job struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Payload     Payload   `json:"payload"`
	State       string    `json:"state"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
	ScheduleKey string    `json:"scheduleKey,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
	Result      string    `json:"result,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RepeatingSchedule is a registered recurring schedule.
type RepeatingSchedule struct {
	Key     string    `json:"key"`
	Kind    Kind      `json:"kind"`
	Pattern string    `json:"pattern"`
	Payload Payload   `json:"payload"`
	NextRun time.Time `json:"nextRun"`
}
