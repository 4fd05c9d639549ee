package session

import (
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/smnsjas/go-wmicore/native"
	"github.com/smnsjas/go-wmicore/timeout"
	"github.com/smnsjas/go-wmicore/wmierr"
)

// TracerName is the instrumentation name of the default tracer.
const TracerName = "github.com/smnsjas/go-wmicore/session"

// Option configures a Session or a Registry.
type Option func(*config)

type config struct {
	user      string
	secret    []byte
	hasSecret bool
	logger    *slog.Logger
	tracer    trace.Tracer
	apartment *native.Apartment
	clock     timeout.Clock
}

// WithCredentials sets the user and secret used to connect. The user may
// be written as domain\user or user@domain. The secret is copied.
func WithCredentials(user string, secret []byte) Option {
	return func(c *config) {
		c.user = user
		c.secret = append([]byte(nil), secret...)
		c.hasSecret = secret != nil
	}
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithTracer sets the tracer used for connect, query and method spans.
// The default is a no-op tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *config) {
		c.tracer = tracer
	}
}

// WithApartment sets the protocol library and its per-thread state.
// The default is the platform library shared by the whole process.
func WithApartment(apt *native.Apartment) Option {
	return func(c *config) {
		c.apartment = apt
	}
}

// WithNative is shorthand for WithApartment(native.NewApartment(n)).
func WithNative(n native.Native) Option {
	return WithApartment(native.NewApartment(n))
}

// WithClock sets the clock used for query time budgets.
func WithClock(clock timeout.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

func newConfig(opts []Option) *config {
	c := &config{}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.tracer == nil {
		c.tracer = noop.NewTracerProvider().Tracer(TracerName)
	}
	if c.clock == nil {
		c.clock = timeout.SystemClock{}
	}
	return c
}

func (c *config) hasCredentials() bool {
	return c.user != "" || c.hasSecret
}

func (c *config) resolveApartment() (*native.Apartment, error) {
	if c.apartment != nil {
		return c.apartment, nil
	}
	return DefaultApartment()
}

var (
	defaultOnce sync.Once
	defaultApt  *native.Apartment
	defaultErr  error
)

// DefaultApartment returns the process-wide platform library.
func DefaultApartment() (*native.Apartment, error) {
	defaultOnce.Do(func() {
		n, err := native.Open()
		if err != nil {
			defaultErr = wmierr.Wrap(wmierr.KindIllegalState, "Open", err)
			return
		}
		defaultApt = native.NewApartment(n)
	})
	return defaultApt, defaultErr
}
