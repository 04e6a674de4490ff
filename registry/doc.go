// Package registry provides agent registration and capability lookup for
// swarm coordination.
//
// # Basic Usage
//
// Build agents from Func or by embedding Base:
//
//	writer := registry.NewFunc("writer", "Writer", []string{"doc"},
//	    func(ctx context.Context, m *bus.Message) (*bus.Message, error) {
//	        return nil, nil
//	    })
//
//	reg := registry.New()
//	if err := reg.Register(writer); errors.Is(err, errors.ErrCodeDuplicateID) {
//	    // id taken
//	}
//
// Route by capability:
//
//	agent, ok := reg.FindByCapability("doc")
//	// the earliest registered agent wins
//
// Watch for changes:
//
//	events, cancel := reg.Watch()
//	defer cancel()
//	for event := range events {
//	    fmt.Printf("%s: %s\n", event.Type, event.Agent.ID)
//	}
package registry
