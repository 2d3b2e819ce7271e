package plan

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"datum-hq/soe/pkg/events"
)

// Observer is told about plan state transitions and edits. It must not
// influence them.
type Observer interface {
	ObservePlanTransition(action string, from, to string)
	ObservePlanEdit(overrides int)
}

// Option configures a Deriver or a Governor.
type Option func(*options)

type options struct {
	clock    func() time.Time
	newID    func() string
	logger   *slog.Logger
	recorder events.Recorder
	observer Observer
}

// WithClock sets the time source. Default: time.Now.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithIDGenerator sets how plan lineage ids and lock ids are minted.
// Default: random UUIDs.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRecorder sets where audit events go. Default: events.Discard.
func WithRecorder(r events.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithObserver sets the transition observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

func newOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.recorder == nil {
		o.recorder = events.Discard
	}
	return o
}

func (o options) withComponent(name string) options {
	o.logger = o.logger.With("component", name)
	return o
}
