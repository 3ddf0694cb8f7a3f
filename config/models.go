package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Model heads.
const (
	HeadBinary     = "binary"
	HeadMulticlass = "multiclass"
)

// DefaultLabels is the classification label set, in tie-break order.
var DefaultLabels = []string{"glioma", "meningioma", "no_tumor", "pituitary"}

const DefaultNegativeLabel = "no_tumor"

// ModelPool describes the ensemble loaded once per worker process.
type ModelPool struct {
	Labels        []string      `yaml:"labels"`
	NegativeLabel string        `yaml:"negative_label"`
	Models        []ModelConfig `yaml:"models"`
}

type ModelConfig struct {
	Name    string        `yaml:"name"`
	Head    string        `yaml:"head"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoadModelPool reads and validates a YAML model pool file.
func LoadModelPool(path string) (*ModelPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model pool %s: %w", path, err)
	}
	return ParseModelPool(data)
}

func ParseModelPool(data []byte) (*ModelPool, error) {
	var pool ModelPool
	if err := yaml.Unmarshal(data, &pool); err != nil {
		return nil, fmt.Errorf("parse model pool: %w", err)
	}
	if len(pool.Labels) == 0 {
		pool.Labels = append([]string(nil), DefaultLabels...)
	}
	if pool.NegativeLabel == "" {
		pool.NegativeLabel = DefaultNegativeLabel
	}
	if err := pool.Validate(); err != nil {
		return nil, err
	}
	return &pool, nil
}

func (p *ModelPool) Validate() error {
	seen := make(map[string]bool, len(p.Labels))
	for _, l := range p.Labels {
		if l == "" {
			return fmt.Errorf("model pool: empty label")
		}
		if seen[l] {
			return fmt.Errorf("model pool: duplicate label %q", l)
		}
		seen[l] = true
	}
	if !seen[p.NegativeLabel] {
		return fmt.Errorf("model pool: negative label %q is not in the label set", p.NegativeLabel)
	}

	var binary, multiclass int
	names := make(map[string]bool, len(p.Models))
	for i, m := range p.Models {
		if m.Name == "" {
			return fmt.Errorf("model pool: model %d has no name", i)
		}
		if names[m.Name] {
			return fmt.Errorf("model pool: duplicate model name %q", m.Name)
		}
		names[m.Name] = true
		if m.URL == "" {
			return fmt.Errorf("model pool: model %q has no url", m.Name)
		}
		switch m.Head {
		case HeadBinary:
			binary++
		case HeadMulticlass:
			multiclass++
		default:
			return fmt.Errorf("model pool: model %q has unknown head %q", m.Name, m.Head)
		}
	}
	if binary == 0 || multiclass == 0 {
		return fmt.Errorf("model pool: need at least one binary and one multiclass model, got %d and %d", binary, multiclass)
	}
	return nil
}

// Names lists the configured model names.
func (p *ModelPool) Names() []string {
	out := make([]string, 0, len(p.Models))
	for _, m := range p.Models {
		out = append(out, m.Name+"("+m.Head+")")
	}
	return out
}
