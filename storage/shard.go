package storage

// gate limits how many concurrent operations may use a shard's connection
// pool at once. Adapted from bendo's util.Gate (a buffered-channel
// semaphore); spec §5 calls for database connection pools that are "per
// shard and bounded".
type gate chan struct{}

func newGate(n int) gate {
	if n <= 0 {
		n = 1
	}
	return make(gate, n)
}

func (g gate) enter() { g <- struct{}{} }
func (g gate) leave() { <-g }

// shardFor returns the shard index that owns userID, mirroring
// config.ShardFor but kept local so storage has no dependency on config.
func shardFor(userID int64, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	m := userID % int64(numShards)
	if m < 0 {
		m += int64(numShards)
	}
	return int(m)
}
