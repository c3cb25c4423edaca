// Package debateflow provides a top-level convenience entry point for
// running a debate with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/debateflow"
//
//	state, err := debateflow.Run(ctx, "Should cities ban private cars?",
//		debateflow.WithAgent("sato", "A pragmatic urban planner."),
//		debateflow.WithAgent("mori", "A civil-liberties advocate."),
//		debateflow.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	)
//
// Everything here is a thin wrapper over [config], [gateway] and
// [scheduler]; use those packages directly when you need checkpointing,
// the HTTP surface, or a custom gateway.
package debateflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/debateflow/config"
	"github.com/BaSui01/debateflow/gateway"
	"github.com/BaSui01/debateflow/scheduler"
	"github.com/BaSui01/debateflow/types"
)

// Option configures the debate started by [Run].
type Option func(*runOptions)

type runOptions struct {
	cfg     *config.Config
	logger  *zap.Logger
	gw      gateway.Gateway
	onEvent func(types.Event)
}

// WithAgent adds a participant with the given name and persona.
func WithAgent(name, persona string) Option {
	return func(o *runOptions) {
		o.cfg.Agents = append(o.cfg.Agents, config.AgentConfig{Name: name, Persona: persona})
	}
}

// WithMaxTurns overrides the hard turn cap.
func WithMaxTurns(n int) Option {
	return func(o *runOptions) { o.cfg.Run.MaxTurns = n }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *runOptions) { o.cfg.Gateway.Model = model }
}

// WithAPIKey sets the gateway API key.
func WithAPIKey(key string) Option {
	return func(o *runOptions) { o.cfg.Gateway.APIKey = key }
}

// WithBaseURL points the gateway at a non-default endpoint.
func WithBaseURL(url string) Option {
	return func(o *runOptions) { o.cfg.Gateway.BaseURL = url }
}

// WithConfig replaces the entire default configuration. Apply it before
// any option that mutates individual fields.
func WithConfig(cfg config.Config) Option {
	return func(o *runOptions) { o.cfg = &cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *runOptions) { o.logger = logger }
}

// WithGateway swaps in a pre-built gateway, mainly for tests.
func WithGateway(gw gateway.Gateway) Option {
	return func(o *runOptions) { o.gw = gw }
}

// WithEventHandler registers a callback invoked for every run event.
func WithEventHandler(fn func(types.Event)) Option {
	return func(o *runOptions) { o.onEvent = fn }
}

// Run executes a full debate on the topic and returns the final state,
// including the synthesized conclusion. It blocks until the debate
// terminates or ctx is cancelled.
func Run(ctx context.Context, topic string, opts ...Option) (*types.ConversationState, error) {
	o := &runOptions{cfg: config.DefaultConfig()}
	for _, opt := range opts {
		opt(o)
	}
	o.cfg.Run.Topic = topic

	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gw := o.gw
	if gw == nil {
		gw = gateway.NewClient(o.cfg.Gateway, logger)
	}

	sched, err := scheduler.New(o.cfg, gw, logger)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sched.Events() {
			if o.onEvent != nil {
				o.onEvent(ev)
			}
		}
	}()

	state, err := sched.Run(ctx)
	<-done
	return state, err
}
