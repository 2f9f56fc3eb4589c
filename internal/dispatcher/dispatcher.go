// Package dispatcher routes decoded producer commands to their handlers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/scenecast/scenecast/internal/protocol"
)

const instrumentationName = "github.com/scenecast/scenecast/internal/dispatcher"

// HandlerFunc applies a command and returns an optional reply.
type HandlerFunc func(protocol.Command) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	logged bool
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// ErrUnhandled is returned for a command type without a registered handler.
var ErrUnhandled = errors.New("no handler registered")

// Dispatcher routes commands to registered handlers. It is not safe for
// concurrent use; the viewer loop owns it.
type Dispatcher struct {
	handlers map[protocol.Type]HandlerFunc
	logger   Logger
	after    []func(protocol.Command)

	// OTEL metrics
	processed metric.Int64Counter
	failed    metric.Int64Counter
	invalid   metric.Int64Counter
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[protocol.Type]HandlerFunc),
		logger:   logger,
	}

	m := otel.Meter(instrumentationName)

	var err error

	d.processed, err = m.Int64Counter(
		"dispatcher.commands.processed",
		metric.WithDescription("Total commands applied"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"dispatcher.commands.failed",
		metric.WithDescription("Total commands whose handler returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	d.invalid, err = m.Int64Counter(
		"dispatcher.messages.invalid",
		metric.WithDescription("Total inbound messages that did not decode to a command"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating invalid counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given command type with optional configuration.
func (d *Dispatcher) Register(typ protocol.Type, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.logged {
		handler = d.withLogging(typ, handler)
	}

	d.handlers[typ] = handler
}

// AfterEach registers fn to run after every dispatched command, whether
// or not its handler failed. The viewer uses it to mark the frame dirty.
func (d *Dispatcher) AfterEach(fn func(protocol.Command)) {
	d.after = append(d.after, fn)
}

// Dispatch routes a command to its registered handler.
func (d *Dispatcher) Dispatch(cmd protocol.Command) (any, error) {
	h, ok := d.handlers[cmd.Type()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnhandled, cmd.Type())
	}

	result, err := h(cmd)

	attrs := metric.WithAttributes(attribute.String("command", string(cmd.Type())))
	d.processed.Add(context.Background(), 1, attrs)
	if err != nil {
		d.failed.Add(context.Background(), 1, attrs)
	}
	for _, fn := range d.after {
		fn(cmd)
	}
	return result, err
}

// DispatchMessage decodes one wire message and dispatches it.
func (d *Dispatcher) DispatchMessage(data []byte) (any, error) {
	cmd, err := protocol.Decode(data)
	if err != nil {
		d.invalid.Add(context.Background(), 1)
		d.logger.Error("dropping message", "bytes", len(data), "error", err)
		return nil, err
	}
	return d.Dispatch(cmd)
}

// HasHandler returns true if a handler is registered for the command type.
func (d *Dispatcher) HasHandler(typ protocol.Type) bool {
	_, ok := d.handlers[typ]
	return ok
}

func (d *Dispatcher) withLogging(typ protocol.Type, h HandlerFunc) HandlerFunc {
	return func(cmd protocol.Command) (any, error) {
		start := time.Now()
		d.logger.Debug("handling command", "command", typ)

		result, err := h(cmd)

		if err != nil {
			d.logger.Error("command failed", "command", typ, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("command complete", "command", typ, "duration", time.Since(start))
		}

		return result, err
	}
}
