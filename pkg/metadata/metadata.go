// Package metadata encodes session ownership into the compose description.
//
// The platform gives us exactly one free-form string per compose, so session
// metadata travels as a sentinel-prefixed JSON blob. A compose whose
// description does not parse is not owned by the broker and is never touched.
package metadata

import (
	"encoding/json"
	"strings"
)

// Sentinel prefixes every description written by the broker.
const Sentinel = "BOLT_RUNTIME:"

// Version is the metadata schema version this package understands.
const Version = 1

// Cohort identifies which rollout cohort a session is pinned to.
type Cohort string

// Rollout cohorts.
const (
	CohortStable Cohort = "stable"
	CohortCanary Cohort = "canary"
)

// Metadata is the session state embedded in the compose description.
// Timestamps are Unix milliseconds.
type Metadata struct {
	Version       int    `json:"v"`
	ActorID       string `json:"actorId"`
	ChatID        string `json:"chatId"`
	CreatedAt     int64  `json:"createdAt"`
	LastSeenAt    int64  `json:"lastSeenAt"`
	IdleTTLSec    int    `json:"idleTtlSec"`
	RolloutCohort Cohort `json:"rolloutCohort,omitempty"`
}

// Format serializes metadata into the description slot.
func Format(m Metadata) string {
	m.Version = Version
	raw, err := json.Marshal(m)
	if err != nil {
		// Metadata is a flat struct of scalars; Marshal cannot fail.
		return Sentinel + "{}"
	}
	return Sentinel + string(raw)
}

// Parse decodes a compose description. It returns nil when the description is
// not broker-owned: missing sentinel, invalid JSON, wrong schema version, or
// missing actor/chat identity.
func Parse(description string) *Metadata {
	if !strings.HasPrefix(description, Sentinel) {
		return nil
	}

	var m Metadata
	if err := json.Unmarshal([]byte(description[len(Sentinel):]), &m); err != nil {
		return nil
	}
	if m.Version != Version || m.ActorID == "" || m.ChatID == "" {
		return nil
	}
	return &m
}
