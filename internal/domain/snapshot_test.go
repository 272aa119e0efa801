package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestSnapshotCanonicalText(t *testing.T) {
	entityID := uuid.MustParse("123e4567-e89b-12d3-a456-426614174000")
	snapshot := NewSnapshot("animal", entityID, 3, map[string]any{
		"name": "Turtle",
		"tags": []any{"shell", "slow"},
		"meta": map[string]any{
			"legs": float64(4),
		},
	})

	lines, err := snapshot.CanonicalText()
	if err != nil {
		t.Fatalf("unexpected error generating canonical text: %v", err)
	}

	expected := []string{
		"EntityType: animal",
		"EntityID: 123e4567-e89b-12d3-a456-426614174000",
		"Tick: 3",
		"Fields:",
		"  meta.legs: 4",
		"  name: \"Turtle\"",
		"  tags[0]: \"shell\"",
		"  tags[1]: \"slow\"",
	}

	if len(lines) != len(expected) {
		t.Fatalf("expected %d canonical lines, got %d\n%v", len(expected), len(lines), lines)
	}

	for idx, line := range expected {
		if lines[idx] != line {
			t.Errorf("line %d mismatch: expected %q got %q", idx, line, lines[idx])
		}
	}
}

func TestSnapshotCanonicalTextEmpty(t *testing.T) {
	lines, err := NewSnapshot("animal", uuid.Nil, 0, nil).CanonicalText()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lines[len(lines)-1] != "  (empty)" {
		t.Fatalf("expected empty marker, got %v", lines)
	}
}

func TestDiffSnapshots(t *testing.T) {
	entityID := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeffffffff")

	base := NewSnapshot("animal", entityID, 1, map[string]any{
		"name":  "Turtle",
		"color": "green",
	})
	target := NewSnapshot("animal", entityID, 2, map[string]any{
		"name":  "Turtle",
		"color": "gold",
	})

	diff, err := DiffSnapshots("tick 1", &base, "tick 2", &target)
	if err != nil {
		t.Fatalf("unexpected diff error: %v", err)
	}

	if !strings.HasPrefix(diff, "--- tick 1\n+++ tick 2\n") {
		t.Errorf("diff missing labels: %s", diff)
	}
	if !strings.Contains(diff, "-  color: \"green\"") {
		t.Errorf("diff missing base color: %s", diff)
	}
	if !strings.Contains(diff, "+  color: \"gold\"") {
		t.Errorf("diff missing target color: %s", diff)
	}
	if !strings.Contains(diff, "   name: \"Turtle\"") {
		t.Errorf("diff should keep unchanged name as context: %s", diff)
	}
}

func TestIntervalContains(t *testing.T) {
	end := int64(3)
	closed := Interval{StartTick: 1, EndTick: &end}
	if !closed.ContainsTick(1) || !closed.ContainsTick(2) {
		t.Fatalf("expected [1,3) to contain 1 and 2")
	}
	if closed.ContainsTick(3) || closed.ContainsTick(0) {
		t.Fatalf("expected [1,3) to exclude 0 and 3")
	}

	open := Interval{StartTick: 3}
	if !open.Open() || !open.ContainsTick(100) {
		t.Fatalf("expected open interval to contain every later tick")
	}
}
