package validator

import "context"

// Request is a single yes/no question about an image.
type Request struct {
	Image        []byte
	MimeType     string
	SystemPrompt string
	Question     string
}

// Answer is what a vision capability returned. Verdict is set only when the
// provider produced a structured yes/no; Text always carries the raw reply.
type Answer struct {
	Text        string
	Verdict     *bool
	Description string
}

// Vision is a multimodal model that can answer questions about an image.
type Vision interface {
	Name() string
	Ask(ctx context.Context, req Request) (Answer, error)
}
