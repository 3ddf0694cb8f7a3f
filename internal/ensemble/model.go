package ensemble

import (
	"context"
	"time"
)

// Model heads.
const (
	HeadBinary     = "binary"
	HeadMulticlass = "multiclass"
)

// Input is the image handed to every model in the pool.
type Input struct {
	Data     []byte
	Filename string
	MimeType string
}

// Prediction is one model's output. Binary heads fill Score, multiclass heads
// fill Probabilities in label order.
type Prediction struct {
	Score         float64
	Probabilities []float64
}

// Model is a single independently trained classifier. Implementations must
// be safe for concurrent use.
type Model interface {
	Name() string
	Head() string
	Predict(ctx context.Context, in Input) (Prediction, error)
}

// Timeouter is implemented by models that need their own per-call deadline.
type Timeouter interface {
	Timeout() time.Duration
}
