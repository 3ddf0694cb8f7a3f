package ensemble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"

	"github.com/mahirjain10/brainscan-workers/internal/retry"
	"github.com/mahirjain10/brainscan-workers/internal/types"
)

const (
	StageGate  = "gate"
	StageClass = "class"

	RecommendTumor   = "Refer to a specialist and perform additional evaluation"
	RecommendRoutine = "Continue routine follow-up"
)

var (
	ErrNoModels      = errors.New("ensemble needs at least one binary and one multiclass model")
	ErrInvalidLabels = errors.New("invalid label set")
)

// StageError is returned when every model of a required stage failed.
// Network is true when each failure was a transient error that exhausted its
// retries.
type StageError struct {
	Stage   string
	Network bool
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("all models failed in %s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Ensemble runs the gate and class stages over a fixed, read-only model pool.
type Ensemble struct {
	labels     []string
	negative   string
	binary     []Model
	multiclass []Model
	pool       *ants.Pool
	policy     retry.Policy
}

// New builds an ensemble. pool is shared across calls and owned by the
// caller.
func New(labels []string, negativeLabel string, models []Model, pool *ants.Pool, policy retry.Policy) (*Ensemble, error) {
	if len(labels) == 0 || indexOf(labels, negativeLabel) < 0 {
		return nil, fmt.Errorf("%w: negative label %q must be one of %v", ErrInvalidLabels, negativeLabel, labels)
	}
	if pool == nil {
		return nil, errors.New("ensemble: worker pool is required")
	}
	e := &Ensemble{
		labels:   append([]string(nil), labels...),
		negative: negativeLabel,
		pool:     pool,
		policy:   policy,
	}
	for _, m := range models {
		switch m.Head() {
		case HeadBinary:
			e.binary = append(e.binary, m)
		case HeadMulticlass:
			e.multiclass = append(e.multiclass, m)
		default:
			return nil, fmt.Errorf("ensemble: model %q has unknown head %q", m.Name(), m.Head())
		}
	}
	if len(e.binary) == 0 || len(e.multiclass) == 0 {
		return nil, ErrNoModels
	}
	return e, nil
}

func (e *Ensemble) Labels() []string {
	return e.labels
}

type modelResult struct {
	model    Model
	pred     Prediction
	attempts []types.Attempt
	err      error
}

// Classify runs the gate stage and, when a tumor is indicated, the class
// stage. Attempts from every model call are returned even on failure.
func (e *Ensemble) Classify(ctx context.Context, in Input) (types.TumorAnalysis, []types.Attempt, error) {
	var attempts []types.Attempt

	gateResults := e.runStage(ctx, e.binary, in)
	var scores []float64
	var breakdown []types.ModelVerdict
	for _, r := range gateResults {
		attempts = append(attempts, r.attempts...)
		v := types.ModelVerdict{Model: r.model.Name(), Head: HeadBinary}
		if r.err != nil {
			v.Error = r.err.Error()
		} else {
			v.Score = r.pred.Score
			scores = append(scores, r.pred.Score)
		}
		breakdown = append(breakdown, v)
	}
	if len(scores) == 0 {
		return types.TumorAnalysis{}, attempts, stageError(StageGate, gateResults)
	}

	mean, positive, err := Gate(scores)
	if err != nil {
		return types.TumorAnalysis{}, attempts, err
	}
	log.Debug().Float64("mean_score", mean).Bool("tumor", positive).Int("models", len(scores)).Msg("Gate stage done")

	if !positive {
		return types.TumorAnalysis{
			EsTumor:        false,
			PredictedClass: e.negative,
			Confidence:     clamp01(mean),
			Probabilities:  map[string]float64{e.negative: clamp01(1 - mean)},
			Recommendation: RecommendRoutine,
			MeanScore:      mean,
			Breakdown:      breakdown,
		}, attempts, nil
	}

	classResults := e.runStage(ctx, e.multiclass, in)
	var vectors [][]float64
	var voters []int
	for _, r := range classResults {
		attempts = append(attempts, r.attempts...)
		v := types.ModelVerdict{Model: r.model.Name(), Head: HeadMulticlass}
		if r.err != nil {
			v.Error = r.err.Error()
		} else {
			v.Probabilities = r.pred.Probabilities
			vectors = append(vectors, r.pred.Probabilities)
			voters = append(voters, len(breakdown))
		}
		breakdown = append(breakdown, v)
	}
	if len(vectors) == 0 {
		return types.TumorAnalysis{}, attempts, stageError(StageClass, classResults)
	}

	vote, err := Vote(len(e.labels), vectors)
	if err != nil {
		return types.TumorAnalysis{}, attempts, fmt.Errorf("class stage: %w", err)
	}
	for i, idx := range voters {
		breakdown[idx].Vote = e.labels[vote.Votes[i]]
	}

	probs := make(map[string]float64, len(e.labels))
	for i, l := range e.labels {
		probs[l] = clamp01(vote.Mean[i])
	}
	winner := e.labels[vote.Winner]
	tumor := winner != e.negative
	recommendation := RecommendRoutine
	if tumor {
		recommendation = RecommendTumor
	}

	log.Debug().Str("class", winner).Float64("confidence", vote.Confidence).Ints("counts", vote.Counts).Msg("Class stage done")
	return types.TumorAnalysis{
		EsTumor:        tumor,
		PredictedClass: winner,
		Confidence:     vote.Confidence,
		Probabilities:  probs,
		Recommendation: recommendation,
		MeanScore:      mean,
		Breakdown:      breakdown,
	}, attempts, nil
}

// runStage calls every model concurrently on the shared pool. Results keep
// the model order.
func (e *Ensemble) runStage(ctx context.Context, models []Model, in Input) []modelResult {
	results := make([]modelResult, len(models))
	var wg sync.WaitGroup
	for i, m := range models {
		results[i].model = m
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i].attempts, results[i].pred, results[i].err = e.callModel(ctx, m, in)
		}
		if err := e.pool.Submit(task); err != nil {
			wg.Done()
			results[i].err = fmt.Errorf("submit %s: %w", m.Name(), err)
		}
	}
	wg.Wait()
	return results
}

func (e *Ensemble) callModel(ctx context.Context, m Model, in Input) ([]types.Attempt, Prediction, error) {
	policy := e.policy
	if t, ok := m.(Timeouter); ok && t.Timeout() > 0 {
		policy.Timeout = t.Timeout()
	}

	var pred Prediction
	attempts, err := retry.Do(ctx, policy, "predict:"+m.Name(), func(ctx context.Context) error {
		p, err := m.Predict(ctx, in)
		if err != nil {
			return err
		}
		pred = p
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("model", m.Name()).Msg("Model excluded from ensemble")
		return attempts, Prediction{}, err
	}
	if m.Head() == HeadMulticlass && len(pred.Probabilities) != len(e.labels) {
		err := fmt.Errorf("%s: got %d probabilities, want %d", m.Name(), len(pred.Probabilities), len(e.labels))
		return attempts, Prediction{}, err
	}
	return attempts, pred, nil
}

func stageError(stage string, results []modelResult) error {
	network := true
	var last error
	for _, r := range results {
		if r.err == nil {
			continue
		}
		last = r.err
		if !retry.IsExhausted(r.err) {
			network = false
		}
	}
	if last == nil {
		last = ErrNoModels
		network = false
	}
	return &StageError{Stage: stage, Network: network, Err: last}
}
