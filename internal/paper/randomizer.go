package paper

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-client/internal/model"
)

// Randomizer shuffles question and option order. It is safe for concurrent
// use; each call draws a fresh permutation from the same source.
type Randomizer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomizer creates a Randomizer over src. A nil src seeds a PCG from
// the runtime's entropy, so every exam load gets a different order.
func NewRandomizer(src rand.Source) *Randomizer {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Randomizer{rng: rand.New(src)}
}

// Shuffle returns the paper in presented order together with the mapping
// back to canonical indices. The input paper is not modified.
func (r *Randomizer) Shuffle(p *model.ExamPaper) (*model.ExamPaper, model.ShuffleMapping) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := p.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	r.rng.Shuffle(n, func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})

	mapping := model.ShuffleMapping{
		QuestionOrder: order,
		OptionOrder:   make([][model.OptionCount]int, n),
	}
	presented := &model.ExamPaper{Questions: make([]model.Question, n)}

	for pos, canonical := range order {
		src := p.Questions[canonical]

		opts := [model.OptionCount]int{0, 1, 2, 3}
		r.rng.Shuffle(model.OptionCount, func(i, j int) {
			opts[i], opts[j] = opts[j], opts[i]
		})

		q := model.Question{Text: src.Text}
		for letter, canonicalOpt := range opts {
			q.Options[letter] = src.Options[canonicalOpt]
		}
		presented.Questions[pos] = q
		mapping.OptionOrder[pos] = opts
	}

	return presented, mapping
}

// Prepare parses plaintext and shuffles it into a new ExamSession.
// Skipped records are returned for the caller to report.
func Prepare(examID, text string, r *Randomizer, duration time.Duration) (*model.ExamSession, []SkippedRecord, error) {
	parsed, skipped, err := Parse(text)
	if err != nil {
		return nil, skipped, err
	}

	presented, mapping := r.Shuffle(parsed)

	return &model.ExamSession{
		ID:        uuid.New(),
		ExamID:    examID,
		Paper:     *presented,
		Mapping:   mapping,
		Duration:  duration,
		CreatedAt: time.Now(),
	}, skipped, nil
}
