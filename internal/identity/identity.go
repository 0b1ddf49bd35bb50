// Package identity derives deterministic, idempotent identifiers for the
// graph nodes HCME writes (messages, tool calls, tool results, summaries)
// and exposes a random-UUID generator for ephemeral handles.
//
// Deterministic ids are a cryptographic hash (SHA-256) over a canonical,
// unambiguously delimited input string, folded into RFC-4122 v4 layout.
// Because the hash is a pure function of its inputs, replaying the same
// insert sequence always yields the same id (spec invariant: idempotent
// inserts under retry).
package identity

import (
	"crypto/sha256"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// fieldSep is a delimiter that cannot appear in any caller-supplied part
// (conversation ids, roles, tool names, ordinals are never allowed to
// contain ASCII unit separator). Using a real separator instead of plain
// concatenation prevents ("ab", "c") and ("a", "bc") from colliding.
const fieldSep = "\x1f"

// DeterministicUUID hashes the canonical join of parts and returns a
// string formatted as a UUID (RFC-4122 v4 layout: version and variant
// bits are forced so the output is a syntactically valid v4 UUID, even
// though it is not random).
func DeterministicUUID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, fieldSep)))
	var u uuid.UUID
	copy(u[:], sum[:16])
	u[6] = (u[6] & 0x0f) | 0x40 // version 4
	u[8] = (u[8] & 0x3f) | 0x80 // RFC 4122 variant
	return u.String()
}

// RandomUUID returns a non-deterministic v4 UUID for ephemeral handles
// that are never replayed (e.g. request ids, trace correlation ids).
func RandomUUID() string {
	return uuid.NewString()
}

// MessageID derives a Message node id from its storage key.
func MessageID(conversationID string, ordinal int, role string) string {
	return DeterministicUUID("message", conversationID, strconv.Itoa(ordinal), role)
}

// ToolCallID derives a ToolCall node id from its storage key.
func ToolCallID(messageID, toolName string, callIndex int) string {
	return DeterministicUUID("tool_call", messageID, toolName, strconv.Itoa(callIndex))
}

// ToolResultID derives a ToolResult node id; one result per tool call.
func ToolResultID(toolCallID string) string {
	return DeterministicUUID("tool_result", toolCallID)
}

// SummaryID derives a Summary node id from the span it covers.
func SummaryID(conversationID string, level, startTurnIndex, endTurnIndex int) string {
	return DeterministicUUID("summary", conversationID, strconv.Itoa(level), strconv.Itoa(startTurnIndex), strconv.Itoa(endTurnIndex))
}
