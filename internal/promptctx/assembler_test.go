package promptctx

import (
	"context"
	"strings"
	"testing"

	"github.com/reeftutor/reef/internal/session"
	"github.com/reeftutor/reef/internal/store"
)

func TestBuildReturnsNoSectionsWithoutAnyState(t *testing.T) {
	a := NewAssembler(store.NewInMemoryStore(), NewEraseSnapshots())
	sections, err := a.Build(context.Background(), session.Snapshot{SessionID: "s1"}, 1)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(sections) != 0 {
		t.Fatalf("expected no sections, got %d", len(sections))
	}
}

func TestBuildIncludesTranscriptionProblemAnswerKeyAndHistory(t *testing.T) {
	s := store.NewInMemoryStore()
	ctx := context.Background()

	s.SeedQuestion(store.Question{
		DocumentRef: "algebra-1", QuestionNumber: 3, Stem: "Solve for x.",
		Parts: []store.QuestionPart{
			{Label: "a", Text: "2x + 4 = 10"},
			{Label: "b", Text: "3x - 1 = 8"},
			{Label: "c", Text: "x/2 = 9"},
		},
	})
	s.SeedAnswerKey(store.AnswerKey{
		DocumentRef: "algebra-1", QuestionNumber: 3,
		Parts: []store.AnswerKeyPart{
			{Label: "a", Answer: "x = 3"},
			{Label: "b", Answer: "x = 3"},
			{Label: "c", Answer: "x = 18"},
		},
	})
	if err := s.UpsertPageTranscription(ctx, store.PageTranscription{SessionID: "s1", Page: 1, Text: "2x + 4 = 10\n2x = 6"}); err != nil {
		t.Fatalf("UpsertPageTranscription() error = %v", err)
	}
	if err := s.InsertReasoningLog(ctx, store.ReasoningLog{SessionID: "s1", Page: 1, Action: "silent", Message: "making progress"}); err != nil {
		t.Fatalf("InsertReasoningLog() error = %v", err)
	}

	snap := session.Snapshot{SessionID: "s1", DocumentRef: "algebra-1", QuestionNumber: 3, ActivePart: "b"}
	a := NewAssembler(s, NewEraseSnapshots())
	sections, err := a.Build(ctx, snap, 1)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	titles := make([]string, len(sections))
	for i, sec := range sections {
		titles[i] = sec.Title
	}
	want := []string{"Student's Current Work", "Original Problem (3)", "Answer Key (Part b)", "Previous Parts", "Recent Tutor History"}
	for _, w := range want {
		found := false
		for _, got := range titles {
			if got == w {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("missing section %q, got titles %v", w, titles)
		}
	}

	flattened := Flatten(sections)
	if strings.Contains(flattened, "x/2 = 9") {
		t.Fatalf("expected part (c) to be scoped out when active part is (b):\n%s", flattened)
	}
	if !strings.Contains(flattened, "2x + 4 = 10") {
		t.Fatalf("expected earlier part (a) problem text to still be present:\n%s", flattened)
	}

	var previousParts string
	for _, sec := range sections {
		if sec.Title == "Previous Parts" {
			previousParts = sec.Content
		}
	}
	if !strings.Contains(previousParts, "a:") {
		t.Fatalf("expected Previous Parts section to mention part a, got %q", previousParts)
	}
}

func TestBuildIncludesRecentEraseSnapshots(t *testing.T) {
	s := store.NewInMemoryStore()
	erases := NewEraseSnapshots()
	erases.Capture("s1", 1, "x = 5 (wrong path)")

	a := NewAssembler(s, erases)
	sections, err := a.Build(context.Background(), session.Snapshot{SessionID: "s1"}, 1)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	found := false
	for _, sec := range sections {
		if sec.Title == "Recently Erased Work" && strings.Contains(sec.Content, "x = 5 (wrong path)") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected erase snapshot section, got %v", sections)
	}
}

func TestEraseSnapshotsRingCapacity(t *testing.T) {
	e := NewEraseSnapshots()
	e.Capture("s1", 1, "attempt 1")
	e.Capture("s1", 1, "attempt 2")
	e.Capture("s1", 1, "attempt 3")
	e.Capture("s1", 1, "attempt 4")

	recent := e.Recent("s1", 1)
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}
	if recent[0] != "attempt 2" {
		t.Fatalf("expected oldest entry evicted, got %v", recent)
	}
}
