package service

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/validation"
)

// grade is the outcome of grading a set of selected questions
type grade struct {
	Score        int
	TotalPoints  int
	CorrectCount int
	Percentage   float64
}

// gradeSession grades answers against the selected questions. Display indices are
// mapped back to original option positions through the recorded permutations.
// Selected ids whose question no longer exists are skipped.
func gradeSession(selected []string, questions map[string]*domain.Question, perms map[string][]int, answers map[string]json.RawMessage) (grade, error) {
	var g grade
	for _, qid := range selected {
		q, ok := questions[qid]
		if !ok {
			continue
		}
		g.TotalPoints += q.Points
		correct, err := gradeQuestion(q, perms[qid], answers[qid])
		if err != nil {
			return grade{}, errors.Wrapf(domain.ErrInvalidAnswer, "question %s: %v", qid, err)
		}
		if correct {
			g.Score += q.Points
			g.CorrectCount++
		}
	}
	g.Percentage = percentage(g.Score, g.TotalPoints)
	return g, nil
}

// totalPoints sums the points of the selected questions that still exist
func totalPoints(selected []string, questions map[string]*domain.Question) int {
	total := 0
	for _, qid := range selected {
		if q, ok := questions[qid]; ok {
			total += q.Points
		}
	}
	return total
}

// passes compares score/total against a percent threshold without rounding
func (g grade) passes(passingScore int) bool {
	if g.TotalPoints == 0 {
		return passingScore <= 0
	}
	return int64(g.Score)*100 >= int64(passingScore)*int64(g.TotalPoints)
}

func gradeQuestion(q *domain.Question, perm []int, raw json.RawMessage) (bool, error) {
	switch q.QuestionType {
	case domain.SingleChoice, domain.TrueFalse:
		picked, err := validation.ChoiceIndices(raw)
		if err != nil {
			return false, err
		}
		if len(picked) != 1 {
			return false, nil
		}
		orig, ok := original(perm, picked[0], len(q.Options))
		return ok && q.Options[orig].IsCorrect, nil
	case domain.MultipleChoice:
		picked, err := validation.ChoiceIndices(raw)
		if err != nil {
			return false, err
		}
		if len(picked) == 0 {
			return false, nil
		}
		chosen := make(map[int]bool, len(picked))
		for _, d := range picked {
			orig, ok := original(perm, d, len(q.Options))
			if !ok {
				return false, nil
			}
			chosen[orig] = true
		}
		for i, o := range q.Options {
			if o.IsCorrect != chosen[i] {
				return false, nil
			}
		}
		return true, nil
	case domain.TextInput:
		text, err := validation.TextAnswer(raw)
		if err != nil {
			return false, err
		}
		if q.CorrectAnswer == nil || len(raw) == 0 {
			return false, nil
		}
		return validation.SameAnswer(text, *q.CorrectAnswer), nil
	}
	return false, errors.Errorf("unknown question type %q", q.QuestionType)
}

// original maps a display index to the original option index
func original(perm []int, display, n int) (int, bool) {
	if display < 0 || display >= n {
		return 0, false
	}
	if len(perm) != n {
		return display, true
	}
	orig := perm[display]
	if orig < 0 || orig >= n {
		return 0, false
	}
	return orig, true
}

func percentage(score, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(10000*float64(score)/float64(total)) / 100
}
