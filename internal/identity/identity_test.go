package identity

import (
	"testing"

	"github.com/google/uuid"
)

func TestDeterministicUUID_Stable(t *testing.T) {
	a := DeterministicUUID("message", "conv-1", "0", "user")
	b := DeterministicUUID("message", "conv-1", "0", "user")
	if a != b {
		t.Fatalf("expected stable id, got %q vs %q", a, b)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("expected valid uuid, got %q: %v", a, err)
	}
}

func TestDeterministicUUID_DistinctInputsDiffer(t *testing.T) {
	a := DeterministicUUID("message", "conv-1", "0", "user")
	b := DeterministicUUID("message", "conv-1", "1", "user")
	if a == b {
		t.Fatalf("expected distinct ids for distinct ordinals")
	}
}

func TestDeterministicUUID_NoFieldConcatenationCollision(t *testing.T) {
	a := DeterministicUUID("ab", "c")
	b := DeterministicUUID("a", "bc")
	if a == b {
		t.Fatalf("expected separator to prevent field concatenation collisions")
	}
}

func TestMessageIDIsIdempotent(t *testing.T) {
	id1 := MessageID("conv-1", 3, "assistant")
	id2 := MessageID("conv-1", 3, "assistant")
	if id1 != id2 {
		t.Fatalf("MessageID must be idempotent: %q vs %q", id1, id2)
	}
}

func TestRandomUUIDIsNotStable(t *testing.T) {
	a := RandomUUID()
	b := RandomUUID()
	if a == b {
		t.Fatalf("expected distinct random uuids")
	}
}
