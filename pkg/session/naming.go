package session

import (
	"crypto/sha256"
	"encoding/hex"
)

const (
	projectNamePrefix = "bolt-actor-"
	composeNamePrefix = "bolt-chat-"
)

// ProjectName derives the platform project name owned by an actor. The hash
// keeps the name stable and free of user-controlled bytes.
func ProjectName(actorID string) string {
	return projectNamePrefix + shortHash(actorID, 10)
}

// ComposeName derives the compose and app name for one (actor, chat).
func ComposeName(actorID, chatID string) string {
	return composeNamePrefix + shortHash(actorID+":"+chatID, 12)
}

func shortHash(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}
