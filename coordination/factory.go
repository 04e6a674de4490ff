package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/vinayprograms/swarmkit/bus"
	"github.com/vinayprograms/swarmkit/config"
	"github.com/vinayprograms/swarmkit/errors"
	"github.com/vinayprograms/swarmkit/index"
	"github.com/vinayprograms/swarmkit/logging"
	"github.com/vinayprograms/swarmkit/notify"
	"github.com/vinayprograms/swarmkit/policy"
	"github.com/vinayprograms/swarmkit/shutdown"
	"github.com/vinayprograms/swarmkit/swarm"
	"github.com/vinayprograms/swarmkit/telemetry"
)

// FactoryConfig configures a Factory.
type FactoryConfig struct {
	// Logger is shared by every system. Defaults to a discarding logger.
	Logger *logging.Logger

	// Tracer defaults to the global tracer.
	Tracer *telemetry.Tracer
}

// System is one wired bus, coordinator and policy engine.
type System struct {
	ID          string
	Bus         *bus.Bus
	Coordinator *swarm.Coordinator
	Engine      *policy.Engine

	// Index is nil unless the system was created with WithIndex.
	Index *index.Index

	Created time.Time
}

// Status aggregates the diagnostics of one system.
type Status struct {
	ID              string        `json:"id"`
	Created         time.Time     `json:"created"`
	Uptime          time.Duration `json:"uptime"`
	Bus             bus.Stats     `json:"bus"`
	Metrics         swarm.Metrics `json:"metrics"`
	Policies        policy.Status `json:"policies"`
	IndexedMessages uint64        `json:"indexed_messages,omitempty"`
}

// EventType identifies a factory notification.
type EventType string

const (
	EventSystemCreated   EventType = "system_created"
	EventSystemDestroyed EventType = "system_destroyed"
)

// Event is a notification emitted by a Factory.
type Event struct {
	Type     EventType
	SystemID string
	Time     time.Time
}

// Factory creates, tracks and destroys systems. It is safe for concurrent use.
type Factory struct {
	logger *logging.Logger
	tracer *telemetry.Tracer
	events *notify.Broadcaster[Event]

	mu      sync.RWMutex
	systems map[string]*System
	order   []string
}

// NewFactory creates an empty factory.
func NewFactory(cfg FactoryConfig) *Factory {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.GetTracer()
	}
	return &Factory{
		logger:  logger,
		tracer:  tracer,
		events:  notify.New[Event](notify.DefaultBuffer),
		systems: make(map[string]*System),
	}
}

// systemOptions collects CreateSystem options.
type systemOptions struct {
	historyCapacity int
	tickInterval    time.Duration
	autoStart       bool
	rules           []policy.RuleSpec
	policies        []policy.Policy
	index           bool
	indexPath       string
}

// Option configures a system at creation.
type Option func(*systemOptions)

// WithHistoryCapacity bounds the bus history.
func WithHistoryCapacity(n int) Option {
	return func(o *systemOptions) { o.historyCapacity = n }
}

// WithTickInterval sets the coordinator's default tick interval.
func WithTickInterval(d time.Duration) Option {
	return func(o *systemOptions) { o.tickInterval = d }
}

// WithAutoStart starts the coordinator as soon as the system exists.
func WithAutoStart() Option {
	return func(o *systemOptions) { o.autoStart = true }
}

// WithRules registers declarative rules on the engine.
func WithRules(specs ...policy.RuleSpec) Option {
	return func(o *systemOptions) { o.rules = append(o.rules, specs...) }
}

// WithPolicies registers policies on the engine.
func WithPolicies(policies ...policy.Policy) Option {
	return func(o *systemOptions) { o.policies = append(o.policies, policies...) }
}

// WithIndex attaches a search index to the bus. An empty path keeps the
// index in memory.
func WithIndex(path string) Option {
	return func(o *systemOptions) {
		o.index = true
		o.indexPath = path
	}
}

// CreateSystem builds and stores a new system. It fails with ALREADY_EXISTS
// if id is taken and INVALID_INPUT if id is empty.
func (f *Factory) CreateSystem(id string, opts ...Option) (*System, error) {
	if id == "" {
		return nil, errors.InvalidInput("system id must not be empty")
	}
	var o systemOptions
	for _, opt := range opts {
		opt(&o)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.systems[id]; exists {
		return nil, errors.AlreadyExists("system", id, errors.WithSystemID(id))
	}

	sys, err := f.build(id, o)
	if err != nil {
		return nil, err
	}

	f.systems[id] = sys
	f.order = append(f.order, id)

	if o.autoStart {
		sys.Coordinator.Start(0)
	}

	f.logger.WithComponent("coordination").SystemCreated(id)
	f.events.Emit(Event{Type: EventSystemCreated, SystemID: id, Time: sys.Created})
	return sys, nil
}

// build wires the components of one system. On error nothing is left open.
func (f *Factory) build(id string, o systemOptions) (*System, error) {
	b := bus.New(bus.Config{
		HistoryCapacity: o.historyCapacity,
		Logger:          f.logger.WithSystem(id),
		Tracer:          f.tracer,
	})
	coord := swarm.New(id, b, swarm.Config{
		Interval: o.tickInterval,
		Logger:   f.logger,
		Tracer:   f.tracer,
	})
	engine := policy.NewEngine(id, b, coord.Registry(), policy.EngineConfig{
		Logger: f.logger,
		Tracer: f.tracer,
	})

	sys := &System{
		ID:          id,
		Bus:         b,
		Coordinator: coord,
		Engine:      engine,
		Created:     time.Now(),
	}

	fail := func(err error) (*System, error) {
		sys.close(f.logger)
		return nil, errors.Wrapf(err, "create system %s", id)
	}

	if err := engine.RegisterRules(o.rules); err != nil {
		return fail(err)
	}
	for _, p := range o.policies {
		if err := engine.Register(p); err != nil {
			return fail(err)
		}
	}

	if o.index {
		idx, err := index.New(index.Config{Path: o.indexPath, Logger: f.logger.WithSystem(id)})
		if err != nil {
			return fail(err)
		}
		idx.Attach(b)
		sys.Index = idx
	}

	return sys, nil
}

// CreateSystemFromConfig creates a system from a loaded config.
func (f *Factory) CreateSystemFromConfig(id string, cfg *config.Config) (*System, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput(err.Error(), errors.WithSystemID(id), errors.WithCause(err))
	}

	opts := []Option{
		WithHistoryCapacity(cfg.BusSettings().HistoryCapacity),
		WithTickInterval(cfg.CoordinatorSettings().Interval),
		WithRules(cfg.Rules...),
	}
	if cfg.Coordinator.AutoStart {
		opts = append(opts, WithAutoStart())
	}
	if cfg.Index.Enabled {
		opts = append(opts, WithIndex(cfg.Index.Path))
	}
	return f.CreateSystem(id, opts...)
}

// System returns a system by id.
func (f *Factory) System(id string) (*System, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	sys, ok := f.systems[id]
	return sys, ok
}

// DestroySystem stops the system's coordinator and releases all of its
// components. Unknown ids are ignored.
func (f *Factory) DestroySystem(id string) {
	f.mu.Lock()
	sys, ok := f.systems[id]
	if !ok {
		f.mu.Unlock()
		return
	}
	delete(f.systems, id)
	for i, oid := range f.order {
		if oid == id {
			f.order = append(f.order[:i:i], f.order[i+1:]...)
			break
		}
	}
	f.mu.Unlock()

	if err := sys.close(f.logger); err != nil {
		f.logger.WithComponent("coordination").WithSystem(id).Error("destroy_incomplete", map[string]interface{}{
			"error": err.Error(),
		})
	}
	f.logger.WithComponent("coordination").SystemDestroyed(id, time.Since(sys.Created))
	f.events.Emit(Event{Type: EventSystemDestroyed, SystemID: id, Time: time.Now()})
}

// close tears components down phase by phase: stop ticking, detach bus
// subscribers, then release the bus.
func (s *System) close(logger *logging.Logger) error {
	seq := shutdown.NewSequence(shutdown.Config{Logger: logger.WithSystem(s.ID)})
	seq.RegisterFunc("coordinator.stop", shutdown.PhaseStop, func(ctx context.Context) error {
		s.Coordinator.Stop()
		return nil
	})
	seq.RegisterFunc("engine", shutdown.PhaseDetach, func(ctx context.Context) error {
		return s.Engine.Close()
	})
	if s.Index != nil {
		seq.RegisterFunc("index", shutdown.PhaseDetach, func(ctx context.Context) error {
			return s.Index.Close()
		})
	}
	seq.RegisterFunc("coordinator", shutdown.PhaseRelease, func(ctx context.Context) error {
		return s.Coordinator.Close()
	})
	seq.RegisterFunc("bus", shutdown.PhaseRelease, func(ctx context.Context) error {
		return s.Bus.Close()
	})
	return seq.ShutdownWithTimeout(0)
}

// Systems returns system ids in creation order.
func (f *Factory) Systems() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.order...)
}

// AllSystems returns the status of every system.
func (f *Factory) AllSystems() map[string]Status {
	f.mu.RLock()
	systems := make([]*System, 0, len(f.order))
	for _, id := range f.order {
		systems = append(systems, f.systems[id])
	}
	f.mu.RUnlock()

	out := make(map[string]Status, len(systems))
	for _, sys := range systems {
		out[sys.ID] = sys.Status()
	}
	return out
}

// SystemStatus returns the status of one system, or NOT_FOUND.
func (f *Factory) SystemStatus(id string) (Status, error) {
	sys, ok := f.System(id)
	if !ok {
		return Status{}, errors.NotFound("system", id, errors.WithSystemID(id))
	}
	return sys.Status(), nil
}

// Status aggregates bus, coordinator and engine diagnostics.
func (s *System) Status() Status {
	st := Status{
		ID:       s.ID,
		Created:  s.Created,
		Uptime:   time.Since(s.Created),
		Bus:      s.Bus.Statistics(),
		Metrics:  s.Coordinator.Metrics(),
		Policies: s.Engine.Status(),
	}
	if s.Index != nil {
		st.IndexedMessages, _ = s.Index.Count()
	}
	return st
}

// Watch returns a channel of factory notifications and a cancel function.
func (f *Factory) Watch() (<-chan Event, func()) {
	return f.events.Watch()
}

// Close destroys every system.
func (f *Factory) Close() error {
	for _, id := range f.Systems() {
		f.DestroySystem(id)
	}
	f.events.Close()
	return nil
}

// --- Process-wide factory ---

var (
	defaultMu      sync.Mutex
	defaultFactory *Factory
)

// Init replaces the process-wide factory, destroying every system the
// previous one held, and returns the new factory.
func Init(cfg FactoryConfig) *Factory {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultFactory != nil {
		defaultFactory.Close()
	}
	defaultFactory = NewFactory(cfg)
	return defaultFactory
}

// Default returns the process-wide factory, initializing it with a zero
// config if Init was never called.
func Default() *Factory {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultFactory == nil {
		defaultFactory = NewFactory(FactoryConfig{})
	}
	return defaultFactory
}
