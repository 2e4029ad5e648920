package raptor

import "time"

// Timer accumulates wall-clock time across start/stop intervals.
// A Timer is not safe for concurrent use: parallel code keeps one Timer per
// worker and merges them with Add after the join barrier.
type Timer struct {
	total time.Duration
	start time.Time
}

// Start begins an interval.
func (t *Timer) Start() { t.start = time.Now() }

// Stop ends the current interval and accumulates it.
func (t *Timer) Stop() { t.total += time.Since(t.start) }

// Add merges another timer's accumulated time into t.
func (t *Timer) Add(other *Timer) { t.total += other.total }

// Total returns the accumulated duration.
func (t *Timer) Total() time.Duration { return t.total }

// Timings collects the diagnostic timers of one run. Each parallel worker
// accumulates into its own Timings instance; the per-worker instances are
// merged once after the parallel region has joined.
type Timings struct {
	ReadInput   Timer // query/bin file IO
	ComputeHash Timer // minimizer computation
	QueryIndex  Timer // filter counting
	WriteOutput Timer // result formatting and sink writes
}

// Merge folds other into t.
func (t *Timings) Merge(other *Timings) {
	t.ReadInput.Add(&other.ReadInput)
	t.ComputeHash.Add(&other.ComputeHash)
	t.QueryIndex.Add(&other.QueryIndex)
	t.WriteOutput.Add(&other.WriteOutput)
}
