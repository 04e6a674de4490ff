package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/vinayprograms/swarmkit/logging"
)

// Sequence runs registered handlers phase by phase. Handlers in the same
// phase run concurrently; a failing or panicking handler does not stop the
// rest.
type Sequence struct {
	config Config
	logger *logging.Logger

	mu       sync.Mutex
	handlers []registration
	begun    atomic.Bool
	started  chan struct{}
	done     chan struct{}
	err      error
	result   *Result
}

// NewSequence creates an empty sequence.
func NewSequence(cfg Config) *Sequence {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Sequence{
		config:  cfg,
		logger:  logger.WithComponent("shutdown"),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Register adds a handler to a phase.
func (s *Sequence) Register(name string, phase int, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, registration{name: name, handler: handler, phase: phase})
}

// RegisterFunc adds a function to a phase.
func (s *Sequence) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) {
	s.Register(name, phase, Func(fn))
}

// Shutdown runs every handler once. A call made while another is in
// progress returns ErrAlreadyShutdown; calls after completion return the
// first call's error.
func (s *Sequence) Shutdown(ctx context.Context) error {
	if !s.begun.CompareAndSwap(false, true) {
		select {
		case <-s.done:
			return s.err
		default:
			return ErrAlreadyShutdown
		}
	}
	close(s.started)
	s.err = s.run(ctx)
	close(s.done)
	return s.err
}

// ShutdownWithTimeout runs Shutdown bounded by timeout, or Config.Timeout
// when timeout is zero.
func (s *Sequence) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.config.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// HandleSignals shuts down on SIGTERM or SIGINT. The returned function stops
// listening.
func (s *Sequence) HandleSignals() func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	stop := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info("signal", map[string]interface{}{"signal": sig.String()})
			s.ShutdownWithTimeout(0)
		case <-stop:
		case <-s.started:
		}
	}()

	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() {
			signal.Stop(sigCh)
			close(stop)
		})
	}
}

// Done is closed when shutdown completes.
func (s *Sequence) Done() <-chan struct{} {
	return s.done
}

// Err returns the shutdown error once Done is closed.
func (s *Sequence) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Result returns the detailed outcome once Done is closed, or nil.
func (s *Sequence) Result() *Result {
	select {
	case <-s.done:
		return s.result
	default:
		return nil
	}
}

func (s *Sequence) run(ctx context.Context) error {
	start := time.Now()

	s.mu.Lock()
	handlers := make([]registration, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &Result{Results: make([]HandlerResult, 0, len(handlers))}
	defer func() {
		result.TotalDuration = time.Since(start)
		s.result = result
	}()

	var failed []string
	for _, group := range groupByPhase(handlers) {
		if ctx.Err() != nil {
			result.Err = ErrTimeout
			return ErrTimeout
		}
		for _, hr := range s.runPhase(ctx, group) {
			result.Results = append(result.Results, hr)
			if hr.Err != nil {
				failed = append(failed, hr.Name)
				s.logger.Error("handler_failed", map[string]interface{}{
					"handler": hr.Name,
					"phase":   hr.Phase,
					"error":   hr.Err.Error(),
				})
			}
		}
	}

	if len(failed) > 0 {
		result.Err = fmt.Errorf("%w: %s", ErrHandlerFailed, strings.Join(failed, ", "))
	}
	return result.Err
}

func (s *Sequence) runPhase(ctx context.Context, group []registration) []HandlerResult {
	results := make([]HandlerResult, len(group))
	var wg sync.WaitGroup

	for i, reg := range group {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()

			start := time.Now()
			err := call(ctx, r.handler)
			hr := HandlerResult{
				Name:     r.name,
				Phase:    r.phase,
				Duration: time.Since(start),
				Err:      err,
			}
			results[idx] = hr

			if s.config.OnProgress != nil {
				s.config.OnProgress(hr)
			}
		}(i, reg)
	}

	wg.Wait()
	return results
}

func call(ctx context.Context, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.OnShutdown(ctx)
}

// groupByPhase splits phase-sorted handlers into runs of equal phase.
func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for i, h := range handlers {
		if i == 0 || h.phase != handlers[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], h)
	}
	return groups
}
