// Package coordination assembles coordination systems and keeps the
// process-wide table of them.
//
// A system is one bus, one swarm coordinator and one policy engine wired
// together: the engine subscribes to the system's bus and reads agents from
// the system's coordinator. Systems never share components.
//
// # Usage
//
//	factory := coordination.Init(coordination.FactoryConfig{Logger: logging.New()})
//	sys, err := factory.CreateSystem("research", coordination.WithAutoStart())
//	if err != nil {
//	    return err
//	}
//	defer factory.DestroySystem("research")
//
//	sys.Coordinator.RegisterAgent(writer)
//	sys.Bus.Publish(ctx, bus.Message{Type: "write", Sender: "planner"})
//
//	status, err := factory.SystemStatus("research")
//
// Every component has its own notification channel; watching one system
// never observes another.
package coordination
