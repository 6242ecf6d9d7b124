package worker

import "sync"

// Counters accumulates run-wide totals shared by every worker loop. Guarded by one mutex, the same shape the
// teacher applies to its own aggregate request/response stats.
type Counters struct {
	mu sync.Mutex

	processed int64
	success   int64
	failed    int64
	retry     int64
	badAd     int64
	bytesIn   int64
	bytesOut  int64
}

func (c *Counters) incProcessed() { c.mu.Lock(); c.processed++; c.mu.Unlock() }
func (c *Counters) incSuccess()   { c.mu.Lock(); c.success++; c.mu.Unlock() }
func (c *Counters) incFailed()    { c.mu.Lock(); c.failed++; c.mu.Unlock() }
func (c *Counters) incRetry()     { c.mu.Lock(); c.retry++; c.mu.Unlock() }
func (c *Counters) incBadAd()     { c.mu.Lock(); c.badAd++; c.mu.Unlock() }

func (c *Counters) addBytes(in, out int64) {
	c.mu.Lock()
	c.bytesIn += in
	c.bytesOut += out
	c.mu.Unlock()
}

// Snapshot is an immutable copy of Counters' values, safe to read or log
// without holding any lock.
type Snapshot struct {
	Processed int64
	Success   int64
	Failed    int64
	Retry     int64
	BadAd     int64
	BytesIn   int64
	BytesOut  int64
}

// Snapshot returns a copy of the current totals.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Processed: c.processed,
		Success:   c.success,
		Failed:    c.failed,
		Retry:     c.retry,
		BadAd:     c.badAd,
		BytesIn:   c.bytesIn,
		BytesOut:  c.bytesOut,
	}
}
