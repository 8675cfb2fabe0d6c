package driver

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/yangcancai/ra/internal/raft"
)

// outMsg is one fire-and-forget message queued for the outbox sender.
type outMsg struct {
	to  raft.NodeID
	msg any
}

// applyEffects folds over the effects emitted for one event, in emission order,
// mutating the driver state and collecting the deferred reply actions. Replies are
// deferred so they are issued only after every effect of the triggering event has
// been applied; everything else happens inline, without yielding the dispatch loop.
func (d *Driver) applyEffects(env envelope, effects []raft.Effect) []func() {
	var deferred []func()

	if d.metrics != nil {
		d.metrics.RecordEffects(len(effects))
	}

	for _, effect := range effects {
		switch e := effect.(type) {
		case raft.NextEvent:
			// Delivered ahead of other pending inbound events, as a fresh iteration
			// of the dispatch loop, preserving the event's own class and handle.
			d.injected = append(d.injected, envelope{
				class: e.Class,
				event: e.Event,
				reply: replyHandleOf(e.Event),
			})

		case raft.SendMsg:
			// Queued on the outbox so messages to peers leave in emission order
			// without blocking the dispatch loop. A full outbox drops, as a lossy
			// transport would.
			select {
			case d.outbox <- outMsg{to: e.To, msg: e.Msg}:
			default:
				log.Printf("[DRIVER-%s] Outbox full, dropping message to %s", d.cfg.ID, e.To)
			}

		case raft.Notify:
			if e.To != nil {
				select {
				case e.To <- e.Reply:
				default:
					log.Printf("[DRIVER-%s] Notify target full, dropping consensus notification %q",
						d.cfg.ID, e.Reply.Correlation)
				}
			}
			d.bus.Consensus.Publish(e.Reply)

		case raft.ReplyEffect:
			target := e.To
			if target == nil {
				// A bare reply is only meaningful while handling a call. Anything
				// else means the decision core emitted a reply it had no caller
				// for, which is a core bug the driver must not paper over.
				if env.class != raft.Call || env.reply == nil {
					panic(fmt.Sprintf("driver %s: reply effect without a call context (event class %v)",
						d.cfg.ID, env.class))
				}
				target = env.reply
			}
			reply := e.Reply
			deferred = append(deferred, func() {
				target.Send(reply)
			})

		case raft.SendVoteRequests:
			for _, vr := range e.Requests {
				go d.voteRequestTask(vr)
			}

		case raft.SendRPCs:
			d.forwardRPCs(e.Urgent, e.Batch)

		case raft.ReleaseCursor:
			d.state = d.machine.MaybeSnapshot(e.Index, d.state)

		case raft.SnapshotPoint:
			d.state = d.machine.RecordSnapshotPoint(e.Index, d.state)

		case raft.ScheduleSync:
			d.scheduleSync()

		default:
			panic(fmt.Sprintf("driver %s: unknown effect %T", d.cfg.ID, effect))
		}
	}

	return deferred
}

// replyHandleOf extracts the reply handle carried inside an event, for injected call
// events that must keep their caller bound.
func replyHandleOf(event raft.Event) *raft.ReplyTo {
	if cmd, ok := event.(raft.Command); ok {
		return cmd.From
	}
	return nil
}

// forwardRPCs routes a batch to the replication proxy, creating it on first use.
func (d *Driver) forwardRPCs(urgent bool, batch []raft.RPC) {
	if d.proxy == nil || !d.proxy.Alive() {
		d.proxy = d.startProxy()
	}
	if err := d.proxy.Forward(urgent, batch); err != nil {
		log.Printf("[DRIVER-%s] Failed forwarding batch to proxy: %v", d.cfg.ID, err)
	}
}

// voteRequestTask is the transient task spawned per peer for a send_vote_requests
// effect. It performs one synchronous vote call with a short absolute timeout and
// casts whatever it got back, a timeout included, as a vote result.
func (d *Driver) voteRequestTask(vr raft.VoteRequestTo) {
	ctx, cancel := context.WithTimeout(context.Background(), VoteRPCTimeout)
	defer cancel()

	resp, err := d.transport.RequestVote(ctx, vr.To, vr.Req)
	d.cast(raft.VoteResult{From: vr.To, Resp: resp, Err: err})
}

// sendOutboxJob drains the outbox sequentially, preserving the order in which
// send_msg effects were emitted. It should be called as a goroutine.
func (d *Driver) sendOutboxJob() {
	for {
		select {
		case m := <-d.outbox:
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := d.transport.SendMessage(ctx, m.to, m.msg); err != nil {
				log.Printf("[DRIVER-%s] Failed sending message to %s: %v", d.cfg.ID, m.to, err)
			}
			cancel()
		case <-d.stopCh:
			return
		}
	}
}
