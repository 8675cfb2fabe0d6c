package raft

import (
	"math/rand"
	"time"
)

// FollowerTimeout generates a randomly chosen election timeout for a follower:
// uniform in [2T, 5T) where T is the broadcast time. A follower that receives no
// communications from a Leader over this period assumes no viable Leader exists and
// initiates an election, as defined in Section 5.2 from the
// [Raft paper](https://raft.github.io/raft.pdf).
func FollowerTimeout(rng *rand.Rand, broadcastTime time.Duration) time.Duration {
	return 2*broadcastTime + time.Duration(rng.Int63n(int64(3*broadcastTime)))
}

// CandidateTimeout generates a randomly chosen election timeout for a candidate:
// uniform in [2T, 7T). The wider range reduces repeated split votes between
// candidates that timed out together.
func CandidateTimeout(rng *rand.Rand, broadcastTime time.Duration) time.Duration {
	return 2*broadcastTime + time.Duration(rng.Int63n(int64(5*broadcastTime)))
}
