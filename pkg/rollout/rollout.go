// Package rollout deterministically buckets sessions into stable and canary
// cohorts.
package rollout

import (
	"github.com/boltlabs/runtimed/pkg/metadata"
)

// Selection is the outcome of a cohort selection.
type Selection struct {
	Bucket  int
	Percent int
	Cohort  metadata.Cohort
}

// Select buckets (actorID, chatID) into [0,100) and assigns the canary cohort
// to buckets below percent. It is pure: repeated calls return identical
// results, and the hash constants are a compatibility contract with the data
// already written to compose descriptions.
func Select(actorID, chatID string, percent int) Selection {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	bucket := int(bucketHash(actorID+":"+chatID) % 100)

	cohort := metadata.CohortStable
	if percent > 0 && bucket < percent {
		cohort = metadata.CohortCanary
	}

	return Selection{Bucket: bucket, Percent: percent, Cohort: cohort}
}

// bucketHash is an FNV-1a style mix kept bit-compatible with the unsigned
// 32-bit arithmetic of the original assignment data.
func bucketHash(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h += (h << 1) + (h << 4) + (h << 7) + (h << 8) + (h << 24)
	}
	return h
}
