package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingJob struct {
	name     string
	interval time.Duration
	runs     int32
}

func (j *countingJob) Name() string            { return j.name }
func (j *countingJob) Interval() time.Duration { return j.interval }
func (j *countingJob) Run(context.Context) error {
	atomic.AddInt32(&j.runs, 1)
	return nil
}

type staticGate struct{ leader atomic.Bool }

func (g *staticGate) IsLeader() bool { return g.leader.Load() }

func TestManager_RunsJobImmediatelyAndOnTicks(t *testing.T) {
	m := NewManager(context.Background(), nil)
	job := &countingJob{name: "sweep", interval: 20 * time.Millisecond}
	m.Register(job)

	m.Start()
	defer func() {
		m.Stop()
		m.Wait()
	}()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&job.runs) >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestManager_GateBlocksFollowers(t *testing.T) {
	gate := &staticGate{}
	m := NewManager(context.Background(), gate)
	job := &countingJob{name: "sweep", interval: 10 * time.Millisecond}
	m.Register(job)

	m.Start()
	defer func() {
		m.Stop()
		m.Wait()
	}()

	// Not leading: the ticker keeps firing but nothing runs.
	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&job.runs))

	// Gaining the lease starts work within one interval, without restart.
	gate.leader.Store(true)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&job.runs) >= 1
	}, time.Second, 5*time.Millisecond)

	// Losing the lease stops scheduling again.
	gate.leader.Store(false)
	time.Sleep(30 * time.Millisecond)
	base := atomic.LoadInt32(&job.runs)
	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, base, atomic.LoadInt32(&job.runs))
}

func TestManager_StopEndsJobs(t *testing.T) {
	m := NewManager(context.Background(), nil)
	job := &countingJob{name: "sweep", interval: 10 * time.Millisecond}
	m.Register(job)

	m.Start()
	m.Stop()
	m.Wait()

	base := atomic.LoadInt32(&job.runs)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, base, atomic.LoadInt32(&job.runs))
}

func TestManager_StartIsIdempotent(t *testing.T) {
	m := NewManager(context.Background(), nil)
	job := &countingJob{name: "sweep", interval: time.Hour}
	m.Register(job)

	m.Start()
	m.Start()
	m.Stop()
	m.Wait()

	// A double Start must not double-run the immediate execution.
	assert.LessOrEqual(t, atomic.LoadInt32(&job.runs), int32(1))
}
