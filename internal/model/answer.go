package model

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// AnswerKind tags the shape of an answer value.
type AnswerKind string

const (
	// AnswerKindText is used by single-choice, true/false and essay questions.
	AnswerKindText AnswerKind = "text"
	// AnswerKindChoices is used by multiple-choice questions.
	AnswerKindChoices AnswerKind = "choices"
)

// AnswerValue is a tagged variant: a free-form/option string or a set of
// selected options. Keeping the two shapes behind one type prevents
// multiple-choice and single-choice comparison logic from being confused.
type AnswerValue struct {
	Kind    AnswerKind `json:"kind"`
	Text    string     `json:"text,omitempty"`
	Choices []string   `json:"choices,omitempty"`
}

// Text builds a text-kind answer value.
func Text(s string) AnswerValue {
	return AnswerValue{Kind: AnswerKindText, Text: s}
}

// Choices builds a choices-kind answer value. The selection is stored as a
// normalized set (deduplicated, sorted) so equality is exact-set equality.
func Choices(opts ...string) AnswerValue {
	return AnswerValue{Kind: AnswerKindChoices, Choices: normalizeChoices(opts)}
}

func normalizeChoices(opts []string) []string {
	seen := make(map[string]struct{}, len(opts))
	normalized := make([]string, 0, len(opts))
	for _, o := range opts {
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		normalized = append(normalized, o)
	}
	sort.Strings(normalized)
	return normalized
}

// UnmarshalJSON normalizes the choice set on decode so values arriving from
// the wire compare the same way as values built via Choices. Clients send
// selections in click order and may repeat an option.
func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	type alias AnswerValue
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Kind == AnswerKindChoices && len(raw.Choices) > 0 {
		raw.Choices = normalizeChoices(raw.Choices)
	}
	*v = AnswerValue(raw)
	return nil
}

// IsZero reports whether the value carries no answer at all.
func (v AnswerValue) IsZero() bool {
	switch v.Kind {
	case AnswerKindText:
		return v.Text == ""
	case AnswerKindChoices:
		return len(v.Choices) == 0
	default:
		return true
	}
}

// Equal compares two answer values. Choices compare as sets.
func (v AnswerValue) Equal(o AnswerValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind == AnswerKindText {
		return v.Text == o.Text
	}
	if len(v.Choices) != len(o.Choices) {
		return false
	}
	for i := range v.Choices {
		if v.Choices[i] != o.Choices[i] {
			return false
		}
	}
	return true
}

// SaveState tracks the durability of a locally-captured answer. The local
// value is always the UI's source of truth; this is only an indicator.
type SaveState string

const (
	SaveStateDirty  SaveState = "DIRTY"
	SaveStateSaving SaveState = "SAVING"
	SaveStateSaved  SaveState = "SAVED"
	SaveStateFailed SaveState = "FAILED"
)

// Settled reports whether no save work remains for this state.
func (s SaveState) Settled() bool {
	return s == SaveStateSaved || s == SaveStateFailed
}

// UserAnswer is the current answer for one question within a session.
// Sequence increases monotonically per question and resolves out-of-order
// save delivery: last sequence wins, never last arrival.
type UserAnswer struct {
	QuestionID uuid.UUID   `json:"question_id"`
	Value      AnswerValue `json:"value"`
	Sequence   uint64      `json:"sequence"`
	SavedAt    *time.Time  `json:"saved_at,omitempty"`
	SaveState  SaveState   `json:"save_state"`
}

// Answered reports whether the answer carries a non-empty value.
func (a UserAnswer) Answered() bool {
	return !a.Value.IsZero()
}
