// Package promptctx assembles the reasoning prompt context: current
// transcribed work, recently erased work, the scoped problem statement
// and answer key, attached figures, and recent tutor history, all
// reshaped around the store.Store boundary.
package promptctx

import (
	"context"
	"fmt"
	"strings"

	"github.com/reeftutor/reef/internal/session"
	"github.com/reeftutor/reef/internal/store"
)

// historyDepth is how many recent reasoning decisions are surfaced, so the
// model can avoid repeating itself or re-flagging an already-acknowledged
// error.
const historyDepth = 5

// Section is one titled block of assembled context, used both for the
// flattened prompt string and for the debug/preview endpoint that shows
// reviewers what the model saw.
type Section struct {
	Title   string
	Content string
}

// Assembler builds reasoning context from persisted state plus the
// in-memory erase-snapshot ring.
type Assembler struct {
	store  store.Store
	erases *EraseSnapshots
}

func NewAssembler(s store.Store, erases *EraseSnapshots) *Assembler {
	return &Assembler{store: s, erases: erases}
}

// Build assembles context sections for (session, page). An empty result
// (no sections) means there is nothing yet to reason about — callers
// should treat that as "stay silent", mirroring build_context's
// empty-string short circuit.
func (a *Assembler) Build(ctx context.Context, snap session.Snapshot, page int) ([]Section, error) {
	var sections []Section

	tx, ok, err := a.store.GetPageTranscription(ctx, snap.SessionID, page)
	if err != nil {
		return nil, fmt.Errorf("load page transcription: %w", err)
	}
	if ok && tx.Text != "" {
		sections = append(sections, Section{Title: "Student's Current Work", Content: tx.Text})
	}

	if a.erases != nil {
		if recent := a.erases.Recent(snap.SessionID, page); len(recent) > 0 {
			sections = append(sections, Section{
				Title:   "Recently Erased Work",
				Content: strings.Join(recent, "\n---\n"),
			})
		}
	}

	docRef, questionNumber := snap.DocumentRef, snap.QuestionNumber
	if docRef == "" || questionNumber == 0 {
		cached, ok, err := a.store.GetSessionQuestionCache(ctx, snap.SessionID)
		if err != nil {
			return nil, fmt.Errorf("load session question cache: %w", err)
		}
		if ok {
			docRef, questionNumber = cached.DocumentRef, cached.QuestionNumber
		}
	}

	if docRef != "" && questionNumber != 0 {
		question, ok, err := a.store.GetQuestion(ctx, docRef, questionNumber)
		if err != nil {
			return nil, fmt.Errorf("load question: %w", err)
		}
		if ok {
			sections = append(sections, Section{
				Title:   fmt.Sprintf("Original Problem (%d)", question.QuestionNumber),
				Content: scopedProblemText(question, snap.ActivePart),
			})

			answerKey, ok, err := a.store.GetAnswerKey(ctx, docRef, questionNumber)
			if err != nil {
				return nil, fmt.Errorf("load answer key: %w", err)
			}
			if ok {
				sections = append(sections, scopedAnswerKeySections(answerKey, snap.ActivePart)...)
			}

			figures, err := a.store.GetQuestionFigures(ctx, docRef, questionNumber)
			if err != nil {
				return nil, fmt.Errorf("load question figures: %w", err)
			}
			for _, fig := range figures {
				if fig.Caption != "" {
					sections = append(sections, Section{Title: "Reference Figure", Content: fig.Caption})
				}
			}
		}
	}

	history, err := a.store.RecentReasoningLogs(ctx, snap.SessionID, page, historyDepth)
	if err != nil {
		return nil, fmt.Errorf("load reasoning history: %w", err)
	}
	if len(history) > 0 {
		lines := make([]string, 0, len(history))
		for _, h := range history {
			lines = append(lines, fmt.Sprintf("  [%s] %s", h.Action, h.Message))
		}
		sections = append(sections, Section{Title: "Recent Tutor History", Content: strings.Join(lines, "\n")})

		last := history[len(history)-1]
		if last.Action == "speak" && last.ErrorType != "" {
			sections = append(sections, Section{
				Title: "Do Not Repeat Yourself",
				Content: fmt.Sprintf(
					"You already flagged an error last turn. Verify whether it is now fixed before flagging it again.\nPrevious message: %s\nYour prior reasoning: %s",
					last.Message, last.InternalReasoning,
				),
			})
		}
	}

	return sections, nil
}

// Flatten renders sections as the single prompt string sent to the model.
func Flatten(sections []Section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		parts = append(parts, fmt.Sprintf("## %s\n%s", s.Title, s.Content))
	}
	return strings.Join(parts, "\n\n")
}

// questionPartIndex returns the slice position of the part labeled
// activePart, or -1 if activePart is empty or not found. Parts carry no
// explicit order field, so "up to and including the active part" is
// computed from slice position.
func questionPartIndex(parts []store.QuestionPart, activePart string) int {
	if activePart == "" {
		return -1
	}
	for i, p := range parts {
		if strings.EqualFold(p.Label, activePart) {
			return i
		}
	}
	return -1
}

func answerKeyPartIndex(parts []store.AnswerKeyPart, activePart string) int {
	if activePart == "" {
		return -1
	}
	for i, p := range parts {
		if strings.EqualFold(p.Label, activePart) {
			return i
		}
	}
	return -1
}

// scopedProblemText narrows a question's parts to those up to and including
// the active one when set, so a student working on part b still sees part
// a's statement; with no active part it lists every part.
func scopedProblemText(q store.Question, activePart string) string {
	limit := questionPartIndex(q.Parts, activePart)
	lines := []string{q.Stem}
	for i, p := range q.Parts {
		if limit >= 0 && i > limit {
			continue
		}
		lines = append(lines, fmt.Sprintf("  (%s) %s", p.Label, p.Text))
	}
	return strings.Join(lines, "\n")
}

// scopedAnswerKeySections splits the answer key around the active part: with
// no active part, every part's answer is surfaced in one "Answer Key"
// section; with an active part set, its answer gets its own section and
// any earlier parts' answers move to a separate "Previous Parts" section so
// the model can reference what was already solved without conflating it
// with the part currently under review.
func scopedAnswerKeySections(ak store.AnswerKey, activePart string) []Section {
	limit := answerKeyPartIndex(ak.Parts, activePart)
	if limit < 0 {
		if text := answerKeyLines(ak.Parts); text != "" {
			return []Section{{Title: "Answer Key", Content: text}}
		}
		return nil
	}

	var sections []Section
	if text := answerKeyLines(ak.Parts[limit : limit+1]); text != "" {
		sections = append(sections, Section{
			Title:   fmt.Sprintf("Answer Key (Part %s)", ak.Parts[limit].Label),
			Content: text,
		})
	}
	if limit > 0 {
		if text := answerKeyLines(ak.Parts[:limit]); text != "" {
			sections = append(sections, Section{Title: "Previous Parts", Content: text})
		}
	}
	return sections
}

func answerKeyLines(parts []store.AnswerKeyPart) string {
	var lines []string
	for _, p := range parts {
		label := p.Label
		if label == "" {
			label = "Main"
		}
		lines = append(lines, fmt.Sprintf("  %s: %s", label, p.Answer))
	}
	return strings.Join(lines, "\n")
}
