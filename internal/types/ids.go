// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type SessionID string
type RunID string
type CallID string

// NewSessionID returns a short session identifier of the form "s_<hex12>".
func NewSessionID() SessionID {
	return SessionID("s_" + compactUUID()[:12])
}

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

// NewCallID returns a tool call identifier of the form "call_<hex12>".
func NewCallID() CallID {
	return CallID("call_" + compactUUID()[:12])
}

func compactUUID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
