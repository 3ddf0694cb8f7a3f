package ensemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	A = iota
	B
	C
	D
)

func TestGate(t *testing.T) {
	tests := []struct {
		name     string
		scores   []float64
		wantMean float64
		wantPos  bool
	}{
		{"all low", []float64{0.2, 0.3, 0.1}, 0.2, false},
		{"exactly threshold", []float64{0.5}, 0.5, true},
		{"mixed above", []float64{0.9, 0.4, 0.5}, 0.6, true},
		{"clamped", []float64{1.5}, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean, pos, err := Gate(tt.scores)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantMean, mean, 1e-9)
			assert.Equal(t, tt.wantPos, pos)
		})
	}

	_, _, err := Gate(nil)
	assert.ErrorIs(t, err, ErrNoVotes)
}

func TestVote_Majority(t *testing.T) {
	res, err := Vote(4, [][]float64{
		{0.7, 0.1, 0.1, 0.1},
		{0.6, 0.2, 0.1, 0.1},
		{0.1, 0.8, 0.05, 0.05},
	})
	require.NoError(t, err)

	assert.Equal(t, A, res.Winner)
	assert.Equal(t, []int{A, A, B}, res.Votes)
	assert.Equal(t, []int{2, 1, 0, 0}, res.Counts)
	assert.InDelta(t, 0.65, res.Confidence, 1e-9)
}

func TestVote_TieBrokenByMeanProbability(t *testing.T) {
	// One vote each for A and B. A's mean over both voters is 0.6, B's 0.55.
	res, err := Vote(4, [][]float64{
		{0.9, 0.1, 0, 0},
		{0.3, 1.0, 0, 0},
	})
	require.NoError(t, err)
	assert.Equal(t, A, res.Winner)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)

	// Same shape with B ahead on mean probability.
	res, err = Vote(4, [][]float64{
		{0.5, 0.4, 0.1, 0},
		{0.1, 0.9, 0, 0},
	})
	require.NoError(t, err)
	assert.Equal(t, B, res.Winner)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
}

func TestVote_FullTieGoesToLowestIndex(t *testing.T) {
	res, err := Vote(4, [][]float64{
		{0.6, 0.4, 0, 0},
		{0.4, 0.6, 0, 0},
	})
	require.NoError(t, err)
	assert.Equal(t, A, res.Winner)

	res, err = Vote(4, [][]float64{
		{0, 0, 0.6, 0.4},
		{0, 0, 0.4, 0.6},
	})
	require.NoError(t, err)
	assert.Equal(t, C, res.Winner)
}

func TestVote_TieWithMinorityVoter(t *testing.T) {
	res, err := Vote(4, [][]float64{
		{0.9, 0.1, 0, 0},
		{0.8, 0.2, 0, 0},
		{0.4, 0.6, 0, 0},
		{0.45, 0.55, 0, 0},
		{0, 0.49, 0.51, 0},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{A, A, B, B, C}, res.Votes)
	assert.Equal(t, A, res.Winner)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)
}

func TestVote_Errors(t *testing.T) {
	_, err := Vote(4, nil)
	assert.ErrorIs(t, err, ErrNoVotes)

	_, err = Vote(4, [][]float64{{1, 0}})
	assert.Error(t, err)

	_, err = Vote(0, [][]float64{{1}})
	assert.Error(t, err)
}

func TestArgmaxLowestIndexOnTie(t *testing.T) {
	assert.Equal(t, 1, argmax([]float64{0.1, 0.45, 0.45}))
	assert.Equal(t, 0, argmax([]float64{0.25, 0.25, 0.25, 0.25}))
}
