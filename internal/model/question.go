package model

// OptionCount is the fixed number of options every question carries.
const OptionCount = 4

// Unanswered marks a presented question without a recorded answer.
const Unanswered = -1

// Question represents a single multiple-choice question.
type Question struct {
	Text    string              `json:"text"`
	Options [OptionCount]string `json:"options"`
}

// ExamPaper is an ordered question set. Immutable once built.
type ExamPaper struct {
	Questions []Question `json:"questions"`
}

// Len returns the number of questions on the paper.
func (p *ExamPaper) Len() int {
	return len(p.Questions)
}

// ShuffleMapping translates presented positions back to canonical indices.
//   - QuestionOrder[p] is the canonical question shown at presented position p.
//   - OptionOrder[p][l] is the canonical option shown as letter l (A=0) at p.
//
// Generated once per exam load and never changed for the session's lifetime.
type ShuffleMapping struct {
	QuestionOrder []int
	OptionOrder   [][OptionCount]int
}

// CanonicalQuestion returns the canonical question index at a presented position.
func (m ShuffleMapping) CanonicalQuestion(position int) int {
	return m.QuestionOrder[position]
}

// Resolve returns the canonical option index for a presented option at a
// presented position.
func (m ShuffleMapping) Resolve(position, presentedOption int) int {
	return m.OptionOrder[position][presentedOption]
}
