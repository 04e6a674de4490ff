// Package shutdown runs ordered teardown of coordination components.
//
// Handlers are registered with a phase. Phases run in ascending order and
// handlers sharing a phase run concurrently:
//
//	seq := shutdown.NewSequence(shutdown.DefaultConfig())
//	seq.RegisterFunc("coordinator", shutdown.PhaseStop, stopTicking)
//	seq.RegisterFunc("engine", shutdown.PhaseDetach, closeEngine)
//	seq.RegisterFunc("index", shutdown.PhaseDetach, closeIndex)
//	seq.RegisterFunc("bus", shutdown.PhaseRelease, closeBus)
//
//	stop := seq.HandleSignals() // SIGTERM, SIGINT
//	defer stop()
//
//	<-seq.Done()
//
// Shutdown runs at most once. Every handler runs even if an earlier one
// failed or panicked; the returned error wraps ErrHandlerFailed and names
// the failing handlers.
package shutdown
