package reqguard

import (
	"strings"

	"github.com/Alexander199824/reqguard/internal/scheduler"
)

type Priority = scheduler.Priority

const (
	Critical = scheduler.Critical
	High     = scheduler.High
	Normal   = scheduler.Normal
	Low      = scheduler.Low
)

// ParsePriority accepts critical, high, normal (or medium) and low.
func ParsePriority(s string) (Priority, error) {
	return scheduler.ParsePriority(s)
}

// Classifier derives the priority of a key when the caller did not set one.
type Classifier func(key string) Priority

var classes = []struct {
	priority Priority
	markers  []string
}{
	{Critical, []string{"auth", "config", "health", "session", "login"}},
	{High, []string{"stats", "services", "dashboard"}},
	{Normal, []string{"products", "plans", "memberships"}},
}

// DefaultClassifier matches well-known resource names inside the key, case-insensitively.
func DefaultClassifier(key string) Priority {
	key = strings.ToLower(key)
	for _, class := range classes {
		for _, marker := range class.markers {
			if strings.Contains(key, marker) {
				return class.priority
			}
		}
	}
	return Low
}
