package driver

import (
	"log"
	"time"

	"github.com/yangcancai/ra/internal/raft"
)

// trackElectionTimeoutJob forwards election timer expirations into the mailbox. It
// should be called as a goroutine and exits on driver shutdown to prevent goroutine
// leakage.
//
// NOTE: the dispatch loop re-arms the timer after every event handled in Follower or
// Candidate; until then this job blocks on the drained timer channel.
func (d *Driver) trackElectionTimeoutJob() {
	for {
		select {
		case <-d.electionTimer.C:
			d.info(raft.ElectionTimeout{})
		case <-d.stopCh:
			d.electionTimer.Stop()
			return
		}
	}
}

// rearmElectionTimer resets the election timer with a fresh randomized timeout for
// the current role. The timer is state-scoped: a leader stops it instead.
func (d *Driver) rearmElectionTimer() {
	var timeout time.Duration
	switch d.role {
	case raft.Follower:
		timeout = raft.FollowerTimeout(d.rng, d.cfg.BroadcastTime)
	case raft.Candidate:
		timeout = raft.CandidateTimeout(d.rng, d.cfg.BroadcastTime)
	default:
		return
	}

	d.electionTimer.Reset(timeout)
	if d.metrics != nil {
		d.metrics.RecordElectionReset()
	}
}

// scheduleSync arms the one-shot sync timer unless it is already armed. The flag is
// cleared when the tick is dequeued, just before the pseudo-event reaches the
// decision core.
func (d *Driver) scheduleSync() {
	if d.syncScheduled {
		return
	}
	d.syncScheduled = true

	d.syncTimer = time.AfterFunc(d.cfg.SyncInterval, func() {
		d.cast(raft.SyncTick{})
	})

	if d.cfg.SyncInterval > time.Second {
		// A sync interval this large defeats batching; worth noticing in the logs.
		log.Printf("[DRIVER-%s] Unusually large sync interval %v", d.cfg.ID, d.cfg.SyncInterval)
	}
}
