// Package conductor wires a chain of proxy components between an editor
// and a terminal agent, and runs it until the editor disconnects, a
// component crashes, or the conductor is asked to shut down.
package conductor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"conductor/internal/chain"
	"conductor/internal/pacp/framer"
	"conductor/internal/research"
	"conductor/internal/statusd"
	"conductor/pkg/logger"
)

// StatusKind is the conductor's final outcome (§7).
type StatusKind int

const (
	StatusCleanExit StatusKind = iota
	StatusEditorDisconnect
	StatusComponentCrash
	StatusProtocolError
)

func (k StatusKind) String() string {
	switch k {
	case StatusCleanExit:
		return "clean-exit"
	case StatusEditorDisconnect:
		return "editor-disconnect"
	case StatusComponentCrash:
		return "component-crash"
	case StatusProtocolError:
		return "protocol-error"
	default:
		return "unknown"
	}
}

// RunStatus is the conductor's final, single report of how the chain
// ended.
type RunStatus struct {
	Kind        StatusKind
	ComponentID string
	ExitCode    int
	Details     string

	// BridgeActivationRequired is set if any link's capability rewriter
	// saw an initialize result asking for MCP-over-ACP bridging it
	// could not itself satisfy (§9: detection only, no activation).
	BridgeActivationRequired bool
}

// Conductor owns one running chain.
type Conductor struct {
	specs []chain.ComponentSpec
	grace time.Duration
	hub   *statusd.Hub

	mu    sync.Mutex
	links []*chain.Link
}

// Snapshot implements statusd.Inspector, reporting every link's
// point-in-time pending-request counts for the status server's /chain
// endpoint.
func (c *Conductor) Snapshot() statusd.ChainSnapshot {
	c.mu.Lock()
	links := append([]*chain.Link(nil), c.links...)
	c.mu.Unlock()

	snapshot := statusd.ChainSnapshot{Links: make([]statusd.LinkSnapshot, 0, len(links))}
	for _, l := range links {
		down, up := l.PendingCounts()
		snapshot.Links = append(snapshot.Links, statusd.LinkSnapshot{
			ComponentID: l.ID,
			Position:    l.Position.String(),
			DownPending: down,
			UpPending:   up,
		})
	}
	return snapshot
}

// SetHub wires an observability hub; once set, the conductor broadcasts
// link-started, component-exited, and chain-shutdown events to it as
// they occur. Optional: a nil hub (the default) disables broadcasting.
func (c *Conductor) SetHub(hub *statusd.Hub) {
	c.hub = hub
}

func (c *Conductor) emit(event statusd.Event) {
	if c.hub != nil {
		c.hub.Broadcast(event)
	}
}

// New creates a Conductor for the given ordered component specs (the
// last of which must be PositionTerminal) with the given shutdown grace
// period.
func New(specs []chain.ComponentSpec, grace time.Duration) (*Conductor, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("conductor: at least one component is required")
	}
	for i, s := range specs {
		isLast := i == len(specs)-1
		if isLast && s.Position != chain.PositionTerminal {
			return nil, fmt.Errorf("conductor: last component %q must be terminal", s.ID)
		}
		if !isLast && s.Position == chain.PositionTerminal {
			return nil, fmt.Errorf("conductor: only the last component may be terminal, got %q", s.ID)
		}
	}
	return &Conductor{specs: specs, grace: grace}, nil
}

// Run spawns every component in order, wires a Link per component
// chained predecessor-to-successor starting from editorIn/editorOut,
// and blocks until the chain ends.
func (c *Conductor) Run(ctx context.Context, editorIn io.Reader, editorOut io.Writer) RunStatus {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	crashCh := make(chan RunStatus, 1)
	var crashOnce sync.Once
	reportCrash := func(s RunStatus) {
		crashOnce.Do(func() { crashCh <- s })
	}

	var predIn chain.PredReader = framer.NewReader(editorIn)
	var predOut chain.PredWriter = framer.NewWriter(editorOut)

	var wg sync.WaitGroup
	bridgeFlag := false
	var bridgeMu sync.Mutex

	for i, spec := range c.specs {
		comp, err := c.startComponent(spec)
		if err != nil {
			cancel()
			c.shutdownAll(context.Background())
			return RunStatus{Kind: StatusProtocolError, ComponentID: spec.ID, Details: err.Error()}
		}

		link := chain.NewLink(spec, comp, predIn, predOut)
		link.OnCrash(func(id string, status chain.ExitStatus) {
			details := ""
			if status.Err != nil {
				details = status.Err.Error()
			}
			reportCrash(RunStatus{
				Kind:        StatusComponentCrash,
				ComponentID: id,
				ExitCode:    status.ExitCode,
				Details:     details,
			})
			c.emit(statusd.Event{Type: statusd.EventComponentExited, Data: map[string]any{
				"component_id": id, "exit_code": status.ExitCode, "details": details,
			}})
			cancel()
		})

		c.mu.Lock()
		c.links = append(c.links, link)
		c.mu.Unlock()

		// Every link but the terminal one has a successor: attach the
		// in-memory queue before starting the link, so the next
		// iteration's predecessor is this link's successor queue
		// rather than an alias of this component's own physical
		// stdio (each component's stdin/stdout belongs to exactly one
		// link).
		if i < len(c.specs)-1 {
			predIn, predOut = link.AttachSuccessor()
		}

		wg.Add(1)
		go func(l *chain.Link, idx int) {
			defer wg.Done()
			l.Run(ctx)
			bridgeMu.Lock()
			if l.BridgeActivationRequired() {
				bridgeFlag = true
			}
			bridgeMu.Unlock()
		}(link, i)

		logger.Infof("conductor: started component %s (%s) at position %d", spec.ID, spec.Position, i)
		c.emit(statusd.Event{Type: statusd.EventLinkStarted, Data: map[string]any{
			"component_id": spec.ID, "position": spec.Position.String(), "index": i,
		}})
	}

	select {
	case <-ctx.Done():
	case s := <-crashCh:
		c.emit(statusd.Event{Type: statusd.EventChainShutdown, Data: s})
		c.shutdownAll(context.Background())
		wg.Wait()
		return s
	}

	c.emit(statusd.Event{Type: statusd.EventChainShutdown, Data: nil})
	c.shutdownAll(context.Background())
	wg.Wait()

	select {
	case s := <-crashCh:
		return s
	default:
	}

	bridgeMu.Lock()
	defer bridgeMu.Unlock()
	if bridgeFlag {
		c.emit(statusd.Event{Type: statusd.EventBridgeActivation, Data: nil})
	}
	return RunStatus{Kind: StatusEditorDisconnect, BridgeActivationRequired: bridgeFlag}
}

// startComponent spawns a real subprocess, except for a spec whose
// Command is the reserved research.BuiltinCommand ("internal:research"),
// which runs the in-process reference component instead.
func (c *Conductor) startComponent(spec chain.ComponentSpec) (chain.Component, error) {
	if spec.Command == research.BuiltinCommand {
		pc, driverIn, driverOut := chain.NewPipeComponent(spec.ID)
		go func() {
			status := research.Run(context.Background(), driverIn, driverOut)
			pc.Finish(chain.ExitStatus{Err: status})
		}()
		return pc, nil
	}
	return chain.Spawn(spec)
}

// shutdownAll asks every started link to shut its component down,
// waiting up to the conductor's grace period each.
func (c *Conductor) shutdownAll(ctx context.Context) {
	c.mu.Lock()
	links := append([]*chain.Link(nil), c.links...)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, l := range links {
		wg.Add(1)
		go func(l *chain.Link) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, c.grace+time.Second)
			defer cancel()
			if err := l.Shutdown(sctx, c.grace); err != nil {
				logger.Warnf("conductor: shutdown of %s: %v", l.ID, err)
			}
		}(l)
	}
	wg.Wait()
}
