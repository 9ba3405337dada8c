// Package acquire reads the current state of a machine through an ordered
// list of interchangeable strategies.
//
// Each Strategy knows one way to get a machine's state: the live line
// protocol snapshot held by the shdr registry, or a helper agent that
// serves its latest line over HTTP. A Chain tries its strategies in order
// and returns the first success. Callers depend only on Strategy and never
// on a concrete implementation.
//
// Usage:
//
//	chain, err := acquire.NewChain("M01",
//	    acquire.NewLineStrategy("M01", registry),
//	    acquire.NewAgentStrategy(acquire.AgentConfig{MachineID: "M01", URL: "http://127.0.0.1:5000"}),
//	)
//	res, err := chain.Attempt(ctx)
package acquire
