package model

import (
	"fmt"
	"strings"
	"time"
)

// Difficulty bounds on the continuous problem scale.
const (
	MinDifficulty = 1.0
	MaxDifficulty = 9.0
)

// Problem is a published proof task. It is owned by the authoring subsystem;
// the client only reads it.
type Problem struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Statement   string    `json:"statement"`
	Difficulty  float64   `json:"difficulty"`
	Topics      []string  `json:"topics"`
	IsPublished bool      `json:"is_published"`
	CreatedByID int64     `json:"created_by_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the difficulty range and topic set.
func (p Problem) Validate() error {
	if p.Difficulty < MinDifficulty || p.Difficulty > MaxDifficulty {
		return fmt.Errorf("difficulty %.1f outside %.1f..%.1f", p.Difficulty, MinDifficulty, MaxDifficulty)
	}
	seen := make(map[string]struct{}, len(p.Topics))
	for _, topic := range p.Topics {
		key := strings.ToLower(strings.TrimSpace(topic))
		if key == "" {
			return fmt.Errorf("empty topic")
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate topic %q", topic)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// NormalizeTopics trims topics and drops blanks and case-insensitive duplicates,
// keeping the first occurrence in its original position.
func NormalizeTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	seen := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		key := strings.ToLower(topic)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, topic)
	}
	return out
}

// DifficultyLabel returns the display tier for a difficulty value.
func DifficultyLabel(level float64) string {
	switch {
	case level <= 1.5:
		return "Easy"
	case level <= 3.5:
		return "Intermediate"
	case level <= 6.0:
		return "Advanced"
	case level <= 8.0:
		return "Expert"
	case level <= MaxDifficulty:
		return "Master"
	default:
		return "Unknown"
	}
}
