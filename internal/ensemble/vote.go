package ensemble

import (
	"errors"
	"fmt"
	"math"
)

// GateThreshold is the mean binary score at or above which a tumor is
// considered present.
const GateThreshold = 0.5

const epsilon = 1e-9

var ErrNoVotes = errors.New("no votes to aggregate")

// Gate averages binary scores and reports whether the mean clears the
// threshold.
func Gate(scores []float64) (mean float64, positive bool, err error) {
	if len(scores) == 0 {
		return 0, false, ErrNoVotes
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean = clamp01(sum / float64(len(scores)))
	return mean, mean >= GateThreshold, nil
}

// VoteResult is the outcome of the class stage vote.
type VoteResult struct {
	Winner     int
	Confidence float64
	Votes      []int
	Counts     []int
	Mean       []float64
}

// Vote casts one vote per probability vector (its argmax) and returns the
// mode. Ties on vote count go to the class with the higher mean probability
// across the models that voted for any tied class, then to the lowest label
// index. Confidence is the mean winning-class probability over the models
// that voted for the winner.
func Vote(numLabels int, vectors [][]float64) (VoteResult, error) {
	if numLabels <= 0 {
		return VoteResult{}, fmt.Errorf("vote: label set is empty")
	}
	if len(vectors) == 0 {
		return VoteResult{}, ErrNoVotes
	}

	res := VoteResult{
		Votes:  make([]int, len(vectors)),
		Counts: make([]int, numLabels),
		Mean:   make([]float64, numLabels),
	}
	for i, vec := range vectors {
		if len(vec) != numLabels {
			return VoteResult{}, fmt.Errorf("vote: vector %d has %d entries, want %d", i, len(vec), numLabels)
		}
		v := argmax(vec)
		res.Votes[i] = v
		res.Counts[v]++
		for c, p := range vec {
			res.Mean[c] += p
		}
	}
	for c := range res.Mean {
		res.Mean[c] /= float64(len(vectors))
	}

	maxCount := 0
	for _, n := range res.Counts {
		if n > maxCount {
			maxCount = n
		}
	}
	tied := make(map[int]bool)
	for c, n := range res.Counts {
		if n == maxCount {
			tied[c] = true
		}
	}

	winner := -1
	if len(tied) == 1 {
		for c := range tied {
			winner = c
		}
	} else {
		// Mean probability of each tied class over the models whose vote
		// landed on any tied class.
		best := math.Inf(-1)
		for c := 0; c < numLabels; c++ {
			if !tied[c] {
				continue
			}
			var sum float64
			var n int
			for i, vec := range vectors {
				if tied[res.Votes[i]] {
					sum += vec[c]
					n++
				}
			}
			mean := sum / float64(n)
			if mean > best+epsilon {
				best = mean
				winner = c
			}
		}
	}

	var sum float64
	var n int
	for i, vec := range vectors {
		if res.Votes[i] == winner {
			sum += vec[winner]
			n++
		}
	}
	res.Winner = winner
	res.Confidence = clamp01(sum / float64(n))
	return res, nil
}

// argmax returns the index of the largest entry, lowest index on ties.
func argmax(vec []float64) int {
	best := 0
	for i := 1; i < len(vec); i++ {
		if vec[i] > vec[best]+epsilon {
			best = i
		}
	}
	return best
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
