// Package pipeline drives resolution, cleanup and rendering for every
// project entry, once or continuously under file-system change.
//
// In watch mode one goroutine consumes the watcher hub's events and handles
// each to completion before taking the next, so entry state needs no
// locking. Any error ends the watch session.
package pipeline

import (
	"context"

	"github.com/conneroisu/pig/internal/config"
	"github.com/conneroisu/pig/internal/document"
	pigerrors "github.com/conneroisu/pig/internal/errors"
	"github.com/conneroisu/pig/internal/logging"
	"github.com/conneroisu/pig/internal/notify"
	"github.com/conneroisu/pig/internal/reconciler"
	"github.com/conneroisu/pig/internal/renderer"
	"github.com/conneroisu/pig/internal/resolver"
	"github.com/conneroisu/pig/internal/watcher"
)

// ConfigLoader loads the project configuration from scratch.
type ConfigLoader func() (*config.Config, error)

// Notifier receives a message after each regeneration in watch mode.
type Notifier interface {
	Broadcast(ctx context.Context, msg notify.Message)
}

// EntryState is what the pipeline remembers about one entry between events.
type EntryState struct {
	Entry        config.Entry
	Dependencies []string
	Document     *document.Node
	Templates    []string
}

// Pipeline owns the configuration, per-entry state and watches.
type Pipeline struct {
	load     ConfigLoader
	logger   logging.Logger
	notifier Notifier

	cfg        *config.Config
	states     []*EntryState
	renderer   *renderer.Renderer
	reconciler *reconciler.Reconciler

	hub     *watcher.Hub
	schemas []*watcher.Handle
	inputs  []*watcher.Handle
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithNotifier publishes regeneration messages to n in watch mode.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) {
		p.notifier = n
	}
}

// New creates a pipeline reading its configuration through load.
func New(load ConfigLoader, opts ...Option) *Pipeline {
	p := &Pipeline{load: load, logger: logging.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("pipeline")
	return p
}

// States returns the current per-entry state.
func (p *Pipeline) States() []*EntryState {
	return p.states
}

// Config returns the configuration of the current session.
func (p *Pipeline) Config() *config.Config {
	return p.cfg
}

// Run resolves every entry, relocates stale output and renders once.
func (p *Pipeline) Run(ctx context.Context) error {
	perf := logging.StartOperation(p.logger, "run")

	if err := p.prepare(ctx); err != nil {
		perf.EndWithError(ctx, err)
		return err
	}
	if err := p.reconcile(ctx); err != nil {
		perf.EndWithError(ctx, err)
		return err
	}
	for i := range p.states {
		if err := p.render(ctx, i); err != nil {
			perf.EndWithError(ctx, err)
			return err
		}
	}

	perf.End(ctx, "entries", len(p.states))
	return nil
}

// Clean relocates stale output without resolving or rendering anything.
func (p *Pipeline) Clean(ctx context.Context) (*reconciler.Report, error) {
	cfg, err := p.load()
	if err != nil {
		return nil, err
	}
	p.configure(cfg)

	for _, e := range cfg.Entries {
		names, err := renderer.Templates(e.Input, cfg.Settings.TemplateSuffix)
		if err != nil {
			return nil, err
		}
		p.states = append(p.states, &EntryState{Entry: e, Templates: names})
	}
	return p.reconciler.Reconcile(ctx, p.reconcilerEntries())
}

// Watch runs the startup sequence and then handles change events until ctx
// is done or an error occurs. A config change restarts from scratch.
func (p *Pipeline) Watch(ctx context.Context) error {
	for {
		reload, err := p.session(ctx)
		p.stop()
		if err != nil {
			pigerrors.Report(ctx, p.logger, err)
			return err
		}
		if !reload {
			return nil
		}
		p.logger.Info(ctx, "Configuration changed, reloading")
	}
}

// session runs one watch session. It reports whether the config changed.
func (p *Pipeline) session(ctx context.Context) (bool, error) {
	if err := p.prepare(ctx); err != nil {
		return false, err
	}
	if err := p.watchAll(); err != nil {
		return false, err
	}
	if err := p.reconcile(ctx); err != nil {
		return false, err
	}
	for i := range p.states {
		if err := p.render(ctx, i); err != nil {
			return false, err
		}
	}
	p.publish(ctx, notify.TypeReady, -1)

	p.logger.Info(ctx, "Watching for changes", "entries", len(p.states), "config", p.cfg.File())

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case err := <-p.hub.Errors():
			return false, err
		case event := <-p.hub.Events():
			p.logger.Debug(ctx, "Change detected", "kind", event.Source.Kind.String(), "entry", event.Source.Entry, "path", event.Path)

			var err error
			switch event.Source.Kind {
			case watcher.KindConfig:
				return true, nil
			case watcher.KindSchema:
				err = p.onSchema(ctx, event.Source.Entry)
			case watcher.KindInput:
				err = p.onInput(ctx, event.Source.Entry)
			}
			if err != nil {
				return false, err
			}
		}
	}
}

// prepare loads the config, resolves every entry and enumerates its
// templates.
func (p *Pipeline) prepare(ctx context.Context) error {
	cfg, err := p.load()
	if err != nil {
		return err
	}
	p.configure(cfg)

	for _, e := range cfg.Entries {
		state := &EntryState{Entry: e}
		if err := p.resolve(ctx, state); err != nil {
			return err
		}
		if err := p.enumerate(state); err != nil {
			return err
		}
		p.states = append(p.states, state)
	}
	return nil
}

func (p *Pipeline) configure(cfg *config.Config) {
	p.cfg = cfg
	p.states = nil
	p.renderer = renderer.New(cfg.Settings.TemplateSuffix, p.logger)
	p.reconciler = reconciler.New(cfg.Dir(), cfg.Settings.TemplateSuffix, p.logger)
}

// watchAll registers the config, schema dependency and input watches.
func (p *Pipeline) watchAll() error {
	p.hub = watcher.NewHub(p.cfg.Settings.PollInterval, p.logger)

	handle, err := p.hub.NewHandle(watcher.Source{Kind: watcher.KindConfig})
	if err != nil {
		return err
	}
	if err := handle.Watch(p.cfg.File()); err != nil {
		return err
	}

	p.schemas = make([]*watcher.Handle, len(p.states))
	p.inputs = make([]*watcher.Handle, len(p.states))
	for i, state := range p.states {
		if p.schemas[i], err = p.hub.NewHandle(watcher.Source{Kind: watcher.KindSchema, Entry: i}); err != nil {
			return err
		}
		if err := p.watchDependencies(i); err != nil {
			return err
		}

		if p.inputs[i], err = p.hub.NewHandle(watcher.Source{Kind: watcher.KindInput, Entry: i}); err != nil {
			return err
		}
		if err := p.inputs[i].Watch(state.Entry.Input); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) watchDependencies(i int) error {
	for _, dep := range p.states[i].Dependencies {
		if err := p.schemas[i].Watch(dep); err != nil {
			return err
		}
	}
	return nil
}

// stop releases every watch of the current session.
func (p *Pipeline) stop() {
	if p.hub != nil {
		if err := p.hub.Close(); err != nil {
			p.logger.Warn(context.Background(), err, "Failed to release watches")
		}
	}
	p.hub, p.schemas, p.inputs = nil, nil, nil
}

// onSchema re-resolves entry i after one of its schema files changed.
func (p *Pipeline) onSchema(ctx context.Context, i int) error {
	if err := p.checkEntry(i); err != nil {
		return err
	}
	if err := p.schemas[i].UnwatchAll(); err != nil {
		return err
	}
	if err := p.resolve(ctx, p.states[i]); err != nil {
		return err
	}
	if err := p.watchDependencies(i); err != nil {
		return err
	}
	if err := p.reconcile(ctx); err != nil {
		return err
	}
	if err := p.render(ctx, i); err != nil {
		return err
	}
	p.publish(ctx, notify.TypeSchema, i)
	return nil
}

// onInput re-enumerates entry i's templates and renders them against the
// document already resolved.
func (p *Pipeline) onInput(ctx context.Context, i int) error {
	if err := p.checkEntry(i); err != nil {
		return err
	}
	if err := p.enumerate(p.states[i]); err != nil {
		return err
	}
	if err := p.reconcile(ctx); err != nil {
		return err
	}
	if err := p.render(ctx, i); err != nil {
		return err
	}
	p.publish(ctx, notify.TypeInput, i)
	return nil
}

func (p *Pipeline) checkEntry(i int) error {
	if i < 0 || i >= len(p.states) {
		return pigerrors.NewInternalError("event for unknown entry", nil).WithContext("entry", i)
	}
	return nil
}

// resolve resolves the entry's schema and writes its context snapshots.
func (p *Pipeline) resolve(ctx context.Context, state *EntryState) error {
	result, err := resolver.New(state.Entry.Schema,
		resolver.WithLogger(p.logger),
		resolver.WithValidation(p.cfg.Settings.Validate),
	).Resolve(ctx)
	if err != nil {
		return err
	}
	state.Dependencies = result.Dependencies
	state.Document = result.Document

	return renderer.WriteSnapshots(state.Entry.Output, state.Document)
}

func (p *Pipeline) enumerate(state *EntryState) error {
	names, err := renderer.Templates(state.Entry.Input, p.cfg.Settings.TemplateSuffix)
	if err != nil {
		return err
	}
	state.Templates = names
	return nil
}

func (p *Pipeline) reconcile(ctx context.Context) error {
	_, err := p.reconciler.Reconcile(ctx, p.reconcilerEntries())
	return err
}

func (p *Pipeline) reconcilerEntries() []reconciler.Entry {
	entries := make([]reconciler.Entry, len(p.states))
	for i, state := range p.states {
		entries[i] = reconciler.Entry{Output: state.Entry.Output, Templates: state.Templates}
	}
	return entries
}

func (p *Pipeline) render(ctx context.Context, i int) error {
	state := p.states[i]
	return p.renderer.Render(ctx, state.Entry, state.Templates, state.Document)
}

func (p *Pipeline) publish(ctx context.Context, kind string, i int) {
	if p.notifier == nil {
		return
	}
	msg := notify.Message{Type: kind, Entry: i}
	if i >= 0 {
		state := p.states[i]
		for _, name := range state.Templates {
			msg.Files = append(msg.Files, renderer.OutputPath(state.Entry.Output, name, p.cfg.Settings.TemplateSuffix))
		}
	}
	p.notifier.Broadcast(ctx, msg)
}
