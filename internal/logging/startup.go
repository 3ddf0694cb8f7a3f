package logging

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects the resources and settings a process was started
// with and emits them as a single structured event.
type StartupLogger struct {
	name      string
	startedAt time.Time

	queues    map[string]string
	tables    map[string]string
	buckets   map[string]string
	config    map[string]string
	modelPool []string
}

func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:      name,
		startedAt: time.Now(),
		queues:    make(map[string]string),
		tables:    make(map[string]string),
		buckets:   make(map[string]string),
		config:    make(map[string]string),
	}
}

func (s *StartupLogger) Queue(role, name string) *StartupLogger {
	if name != "" {
		s.queues[role] = name
	}
	return s
}

func (s *StartupLogger) Table(role, name string) *StartupLogger {
	if name != "" {
		s.tables[role] = name
	}
	return s
}

func (s *StartupLogger) Bucket(role, name string) *StartupLogger {
	if name != "" {
		s.buckets[role] = name
	}
	return s
}

func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

func (s *StartupLogger) Models(names ...string) *StartupLogger {
	s.modelPool = append(s.modelPool, names...)
	return s
}

// Log emits the startup event at info level.
func (s *StartupLogger) Log() {
	event := log.Info().
		Str("process", s.name).
		Str("goVersion", runtime.Version()).
		Dur("initDuration", time.Since(s.startedAt))

	event = addDict(event, "queues", s.queues)
	event = addDict(event, "tables", s.tables)
	event = addDict(event, "buckets", s.buckets)
	event = addDict(event, "config", s.config)
	if len(s.modelPool) > 0 {
		event = event.Strs("models", s.modelPool)
	}
	event.Msg("Startup configuration")
}

func addDict(event *zerolog.Event, key string, values map[string]string) *zerolog.Event {
	if len(values) == 0 {
		return event
	}
	d := zerolog.Dict()
	for k, v := range values {
		d = d.Str(k, v)
	}
	return event.Dict(key, d)
}
