package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// EligibilityResult is the final output of one scheduler run.
type EligibilityResult struct {
	RunID             uuid.UUID
	GeneratedAt       time.Time
	BasicHandles      map[string]struct{}
	UpgradedHandles   map[string]struct{}
	BasicAddresses    []string
	UpgradedAddresses []string
}

// SortedBasicHandles returns the basic handle set as an ordered slice for
// deterministic payloads and logs.
func (r *EligibilityResult) SortedBasicHandles() []string {
	return sortedKeys(r.BasicHandles)
}

// SortedUpgradedHandles returns the upgraded handle set as an ordered slice.
func (r *EligibilityResult) SortedUpgradedHandles() []string {
	return sortedKeys(r.UpgradedHandles)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
