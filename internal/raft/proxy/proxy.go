package proxy

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/yangcancai/ra/internal/raft"
)

// ErrStopped is returned by Forward after the proxy has terminated.
var ErrStopped = errors.New("proxy stopped")

// Config configures a replication proxy.
type Config struct {
	// Transport carries the append-entries calls to peers.
	Transport raft.Transport

	// Interval is the coalescing interval for non-urgent batches, normally the
	// leader's broadcast time.
	Interval time.Duration

	// OnExit is invoked exactly once if the proxy terminates for any reason other
	// than an orderly Stop. The parent driver turns it into a child-died event.
	OnExit func(err error)

	// OnResponse receives every append-entries response from a peer. The parent
	// driver feeds them back to the decision core.
	OnResponse func(resp *raft.AppendEntriesResponse)
}

type batchMsg struct {
	urgent bool
	rpcs   []raft.RPC
}

type stopReq struct {
	reason string
	done   chan struct{}
}

// Proxy is the replication sub-driver. It owns the pacing of append-entries traffic on
// the leader's behalf: non-urgent batches are coalesced per peer and flushed once per
// interval, urgent batches go out immediately. It runs as its own goroutine so a slow
// peer never blocks the role driver.
type Proxy struct {
	cfg    Config
	in     chan batchMsg
	stopCh chan stopReq
	killCh chan error
	doneCh chan struct{}
}

// Start launches the proxy goroutine.
func Start(cfg Config) *Proxy {
	p := &Proxy{
		cfg:    cfg,
		in:     make(chan batchMsg, 16),
		stopCh: make(chan stopReq, 1),
		killCh: make(chan error, 1),
		doneCh: make(chan struct{}),
	}
	go p.run()
	return p
}

// Forward hands a batch to the proxy. Urgent batches bypass coalescing.
func (p *Proxy) Forward(urgent bool, rpcs []raft.RPC) error {
	select {
	case <-p.doneCh:
		return ErrStopped
	case p.in <- batchMsg{urgent: urgent, rpcs: rpcs}:
		return nil
	}
}

// Stop shuts the proxy down, waiting up to grace for the goroutine to flush and exit.
// An orderly stop does not trigger OnExit.
func (p *Proxy) Stop(reason string, grace time.Duration) {
	req := stopReq{reason: reason, done: make(chan struct{})}
	select {
	case <-p.doneCh:
		return
	case p.stopCh <- req:
	}

	select {
	case <-req.done:
	case <-time.After(grace):
		log.Printf("[PROXY] Stop (%s) grace of %v elapsed before drain completed", reason, grace)
	}
}

// Kill terminates the proxy abnormally, as a crashed sub-driver would. OnExit fires.
func (p *Proxy) Kill(err error) {
	select {
	case <-p.doneCh:
	case p.killCh <- err:
	}
}

// Alive reports whether the proxy goroutine is still running.
func (p *Proxy) Alive() bool {
	select {
	case <-p.doneCh:
		return false
	default:
		return true
	}
}

func (p *Proxy) run() {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Latest non-urgent request per peer; an interval flush sends each at most once.
	pending := make(map[raft.NodeID]*raft.AppendEntriesRequest)

	for {
		select {
		case b := <-p.in:
			if b.urgent {
				p.send(b.rpcs)
				continue
			}
			for _, rpc := range b.rpcs {
				pending[rpc.To] = rpc.Req
			}

		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]raft.RPC, 0, len(pending))
			for to, req := range pending {
				batch = append(batch, raft.RPC{To: to, Req: req})
			}
			pending = make(map[raft.NodeID]*raft.AppendEntriesRequest)
			p.send(batch)

		case req := <-p.stopCh:
			// Drain what was coalesced but not yet sent before exiting.
			if len(pending) > 0 {
				batch := make([]raft.RPC, 0, len(pending))
				for to, r := range pending {
					batch = append(batch, raft.RPC{To: to, Req: r})
				}
				p.send(batch)
			}
			close(p.doneCh)
			close(req.done)
			return

		case err := <-p.killCh:
			close(p.doneCh)
			if p.cfg.OnExit != nil {
				p.cfg.OnExit(err)
			}
			return
		}
	}
}

// send delivers one batch sequentially, preserving per-peer ordering. Unreachable
// peers are expected during partitions and only logged.
func (p *Proxy) send(rpcs []raft.RPC) {
	for _, rpc := range rpcs {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Interval)
		resp, err := p.cfg.Transport.AppendEntries(ctx, rpc.To, rpc.Req)
		cancel()

		if err != nil {
			log.Printf("[PROXY] AppendEntries to %s failed: %v", rpc.To, err)
			continue
		}
		if p.cfg.OnResponse != nil {
			p.cfg.OnResponse(resp)
		}
	}
}
