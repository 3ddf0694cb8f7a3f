package ensemble

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/mahirjain10/brainscan-workers/internal/retry"
)

const (
	maxErrorBody    = 512
	maxResponseBody = 1 << 20
)

var ErrModelReportedError = errors.New("model reported an error")

// predictResponse is the prediction service reply. Probabilities is optional
// and keyed by label.
type predictResponse struct {
	Status         string             `json:"status"`
	Prediction     string             `json:"prediction"`
	MeanScore      *float64           `json:"mean_score,omitempty"`
	ProcessingTime *float64           `json:"processing_time,omitempty"`
	Error          string             `json:"error,omitempty"`
	Probabilities  map[string]float64 `json:"probabilities,omitempty"`
}

// RemoteModel calls a prediction service over HTTP with a multipart "image"
// field.
type RemoteModel struct {
	name    string
	head    string
	url     string
	labels  []string
	timeout time.Duration
	client  *http.Client
}

func NewRemoteModel(name, head, url string, labels []string, timeout time.Duration, client *http.Client) *RemoteModel {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteModel{
		name:    name,
		head:    head,
		url:     url,
		labels:  labels,
		timeout: timeout,
		client:  client,
	}
}

func (m *RemoteModel) Name() string           { return m.name }
func (m *RemoteModel) Head() string           { return m.head }
func (m *RemoteModel) Timeout() time.Duration { return m.timeout }

func (m *RemoteModel) Predict(ctx context.Context, in Input) (Prediction, error) {
	body, contentType, err := encodeImage(in)
	if err != nil {
		return Prediction{}, retry.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, body)
	if err != nil {
		return Prediction{}, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("%s: %w", m.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Prediction{}, fmt.Errorf("%s: read response: %w", m.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Prediction{}, fmt.Errorf("%s: %w", m.name, &retry.StatusError{Code: resp.StatusCode, Body: truncate(string(raw))})
	}

	var pr predictResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return Prediction{}, retry.Permanent(fmt.Errorf("%s: decode response: %w", m.name, err))
	}
	if !strings.EqualFold(pr.Status, "success") {
		detail := pr.Error
		if detail == "" {
			detail = "status " + pr.Status
		}
		return Prediction{}, retry.Permanent(fmt.Errorf("%s: %w: %s", m.name, ErrModelReportedError, detail))
	}

	pred, err := m.parse(pr)
	if err != nil {
		return Prediction{}, retry.Permanent(fmt.Errorf("%s: %w", m.name, err))
	}
	return pred, nil
}

func (m *RemoteModel) parse(pr predictResponse) (Prediction, error) {
	switch m.head {
	case HeadBinary:
		if pr.MeanScore != nil {
			return Prediction{Score: clamp01(*pr.MeanScore)}, nil
		}
		switch strings.ToLower(strings.TrimSpace(pr.Prediction)) {
		case "yes", "sí", "si", "tumor":
			return Prediction{Score: 1}, nil
		case "no", "no_tumor":
			return Prediction{Score: 0}, nil
		}
		return Prediction{}, fmt.Errorf("binary prediction %q without mean_score", pr.Prediction)

	case HeadMulticlass:
		if len(pr.Probabilities) > 0 {
			vec := make([]float64, len(m.labels))
			for i, l := range m.labels {
				vec[i] = clamp01(pr.Probabilities[l])
			}
			return Prediction{Probabilities: vec}, nil
		}
		idx := indexOf(m.labels, pr.Prediction)
		if idx < 0 {
			return Prediction{}, fmt.Errorf("prediction %q is not in the label set", pr.Prediction)
		}
		return Prediction{Probabilities: spread(len(m.labels), idx, pr.MeanScore)}, nil
	}
	return Prediction{}, fmt.Errorf("unknown head %q", m.head)
}

// spread builds a probability vector that puts score on idx and divides the
// remainder evenly.
func spread(n, idx int, score *float64) []float64 {
	p := 1.0
	if score != nil {
		p = clamp01(*score)
	}
	vec := make([]float64, n)
	rest := 0.0
	if n > 1 {
		rest = (1 - p) / float64(n-1)
	}
	for i := range vec {
		vec[i] = rest
	}
	vec[idx] = p
	return vec
}

func encodeImage(in Input) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := in.Filename
	if filename == "" {
		filename = "image"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, escapeQuotes(filename)))
	if in.MimeType != "" {
		h.Set("Content-Type", in.MimeType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(in.Data); err != nil {
		return nil, "", fmt.Errorf("write image part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func indexOf(labels []string, label string) int {
	for i, l := range labels {
		if strings.EqualFold(l, strings.TrimSpace(label)) {
			return i
		}
	}
	return -1
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody] + "..."
}
