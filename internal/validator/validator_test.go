package validator

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/mahirjain10/brainscan-workers/internal/retry"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeVision struct {
	answer Answer
	err    error
	block  bool
	got    Request
	calls  int
}

func (f *fakeVision) Name() string { return "fake" }

func (f *fakeVision) Ask(ctx context.Context, req Request) (Answer, error) {
	f.calls++
	f.got = req
	if f.block {
		<-ctx.Done()
		return Answer{}, ctx.Err()
	}
	return f.answer, f.err
}

func boolPtr(b bool) *bool { return &b }

func TestValidate_StructuredVerdictWins(t *testing.T) {
	vision := &fakeVision{answer: Answer{Text: `{"is_brain_scan":true}`, Verdict: boolPtr(true), Description: "Axial brain CT"}}
	v := New(vision)

	res, err := v.Validate(context.Background(), pngBytes(t, 64, 64), "image/png")

	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.True(t, res.Structured)
	assert.False(t, res.ValidationError)
	assert.Equal(t, "Axial brain CT", res.Description)
	assert.Equal(t, "image/jpeg", vision.got.MimeType)
	assert.Equal(t, DefaultQuestion, vision.got.Question)
	assert.Equal(t, DefaultSystemPrompt, vision.got.SystemPrompt)
}

func TestValidate_TextFallback(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"SÍ", true},
		{"No, esto no es una tomografía", false},
		{"Yes, normal brain CT", false},
	}
	for _, tt := range tests {
		v := New(&fakeVision{answer: Answer{Text: tt.text}})
		res, err := v.Validate(context.Background(), pngBytes(t, 16, 16), "image/png")
		require.NoError(t, err)
		assert.Equal(t, tt.want, res.IsValid, tt.text)
		assert.False(t, res.Structured)
		assert.Equal(t, tt.text, res.Description)
		assert.Equal(t, tt.text, res.RawResponse)
	}
}

func TestValidate_Timeout(t *testing.T) {
	v := New(&fakeVision{block: true}, WithTimeout(20*time.Millisecond))

	res, err := v.Validate(context.Background(), pngBytes(t, 16, 16), "image/png")

	require.ErrorIs(t, err, ErrTimedOut)
	assert.False(t, res.IsValid)
	assert.True(t, res.ValidationError)
}

func TestValidate_AdapterError(t *testing.T) {
	cause := &retry.StatusError{Code: 503, Body: "overloaded"}
	v := New(&fakeVision{err: cause})

	res, err := v.Validate(context.Background(), pngBytes(t, 16, 16), "image/png")

	require.ErrorIs(t, err, ErrAdapter)
	assert.False(t, res.IsValid)
	assert.True(t, res.ValidationError)

	var statusErr *retry.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.True(t, retry.IsTransient(context.Background(), err))
}

func TestValidate_UndecodableIsRejected(t *testing.T) {
	vision := &fakeVision{answer: Answer{Text: "YES"}}
	v := New(vision)

	res, err := v.Validate(context.Background(), []byte("DICM not really an image"), "application/dicom")

	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.False(t, res.ValidationError)
	assert.Equal(t, 0, vision.calls)
}

func TestPreprocess_FitsLongSide(t *testing.T) {
	prepared, err := Preprocess(pngBytes(t, 2048, 512))
	require.NoError(t, err)

	assert.Equal(t, "image/jpeg", prepared.MimeType)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(prepared.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, MaxSide, cfg.Width)
	assert.Equal(t, 256, cfg.Height)
}

func TestPreprocess_SmallImageKeepsSize(t *testing.T) {
	prepared, err := Preprocess(pngBytes(t, 100, 80))
	require.NoError(t, err)
	w, h, err := Dimensions(prepared.Data)
	require.NoError(t, err)
	assert.Equal(t, 100, w)
	assert.Equal(t, 80, h)
}

func TestDimensions(t *testing.T) {
	w, h, err := Dimensions(pngBytes(t, 30, 20))
	require.NoError(t, err)
	assert.Equal(t, 30, w)
	assert.Equal(t, 20, h)

	_, _, err = Dimensions([]byte("nope"))
	assert.ErrorIs(t, err, ErrUndecodable)
}

type fakeLLM struct {
	reply    string
	messages []llms.MessageContent
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return f.reply, nil
}

func TestLangchainVision_SendsImageAndPrompt(t *testing.T) {
	llm := &fakeLLM{reply: "  YES \n"}
	vision := NewLangchainVision(llm, "fake/llm")

	ans, err := vision.Ask(context.Background(), Request{
		Image:        []byte{1, 2, 3},
		MimeType:     "image/jpeg",
		SystemPrompt: "sys",
		Question:     "q?",
	})

	require.NoError(t, err)
	assert.Equal(t, "YES", ans.Text)
	assert.Nil(t, ans.Verdict)
	require.Len(t, llm.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, llm.messages[0].Role)
	require.Len(t, llm.messages[1].Parts, 2)
	assert.Equal(t, llms.BinaryPart("image/jpeg", []byte{1, 2, 3}), llm.messages[1].Parts[0])
	assert.Equal(t, llms.TextPart("q?"), llm.messages[1].Parts[1])
}

func TestLangchainVision_EmptyReply(t *testing.T) {
	vision := NewLangchainVision(&fakeLLM{reply: "   "}, "fake/llm")
	_, err := vision.Ask(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
