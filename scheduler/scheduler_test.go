package scheduler

import (
	"testing"
	"time"

	"github.com/jobmq/jobmq/config"
	"github.com/jobmq/jobmq/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSocket struct {
	sent [][]string
}

func (s *fakeSocket) SendMessage(frames [][]byte) error {
	s.sent = append(s.sent, protocol.FramesToStrings(frames))
	return nil
}

func (s *fakeSocket) RecvMessage() ([][]byte, error) {
	return nil, nil
}

type fakeClock struct {
	m time.Duration
	w time.Time
}

func (c *fakeClock) Monotonic() time.Duration { return c.m }
func (c *fakeClock) Wall() time.Time          { return c.w }

func byCommand(frames [][]string, command string) (out [][]string) {
	for _, f := range frames {
		if len(f) > 2 && f[2] == command {
			out = append(out, f)
		}
	}
	return
}

func newTestRuntime(t *testing.T, jobs []config.CronJob) (*Runtime, *fakeSocket, *fakeClock) {
	t.Helper()

	cfg := config.Default()
	cfg.CronJobs = jobs

	clock := &fakeClock{w: time.Date(2017, 7, 14, 2, 40, 0, 0, time.UTC)}
	runtime, err := newRuntime(cfg, "tcp://localhost:47290", clock)
	require.NoError(t, err)

	conn := &fakeSocket{}
	runtime.conn = conn

	return runtime, conn, clock
}

func scheduleMsg(msgid, queue, interval, payload string) []string {
	return protocol.PeerFrames(&protocol.Message{
		Command: protocol.CmdSchedule,
		ID:      msgid,
		Body:    []string{queue, interval, payload},
	})
}

func TestLoadCronJobs(t *testing.T) {
	runtime, _, clock := newTestRuntime(t, []config.CronJob{
		{Schedule: "* * * * *", Queue: "default", Payload: "tick"},
		{Schedule: "0 3 * * *", Queue: "nightly", Payload: "report"},
	})

	assert.Equal(t, 2, runtime.CronJobCount())
	for _, job := range runtime.cronJobs {
		assert.True(t, job.nextFire.After(clock.w), "first fire must be strictly in the future")
	}
}

func TestLoadCronJobsRejectsBadExpression(t *testing.T) {
	cfg := config.Default()
	cfg.CronJobs = []config.CronJob{{Schedule: "not a cron", Queue: "default"}}

	_, err := newRuntime(cfg, "tcp://localhost:47290", &fakeClock{w: time.Now()})
	assert.Error(t, err)
}

func TestCronJobFires(t *testing.T) {
	runtime, conn, clock := newTestRuntime(t, []config.CronJob{
		{Schedule: "* * * * *", Queue: "default", Payload: "tick"},
	})

	firstFire := runtime.cronJobs[0].nextFire

	// Nothing fires before the scheduled instant.
	runtime.tick(clock.w, clock.m)
	assert.Empty(t, byCommand(conn.sent, protocol.CmdRequest))

	clock.w = firstFire
	runtime.tick(clock.w, clock.m)

	requests := byCommand(conn.sent, protocol.CmdRequest)
	require.Len(t, requests, 1)
	assert.Equal(t, "default", requests[0][4])
	assert.Equal(t, "tick", requests[0][5])

	// The next fire advances strictly past the current instant.
	assert.True(t, runtime.cronJobs[0].nextFire.After(clock.w))
}

func TestCronJobNoStormAfterWallClockStep(t *testing.T) {
	runtime, conn, clock := newTestRuntime(t, []config.CronJob{
		{Schedule: "* * * * *", Queue: "default", Payload: "tick"},
	})

	clock.w = runtime.cronJobs[0].nextFire
	runtime.tick(clock.w, clock.m)
	require.Len(t, byCommand(conn.sent, protocol.CmdRequest), 1)

	// A wall-clock step backward must not refire the job.
	clock.w = clock.w.Add(-time.Hour)
	runtime.tick(clock.w, clock.m)
	assert.Len(t, byCommand(conn.sent, protocol.CmdRequest), 1)
}

func TestScheduleRegistersIntervalJob(t *testing.T) {
	runtime, conn, clock := newTestRuntime(t, nil)
	clock.m = 100 * time.Second

	runtime.handleMessage(scheduleMsg("job-1", "default", "10", "payload"))

	assert.Equal(t, 1, runtime.IntervalJobCount())

	// One immediate fire on registration.
	requests := byCommand(conn.sent, protocol.CmdRequest)
	require.Len(t, requests, 1)
	assert.Equal(t, "default", requests[0][4])
	assert.Equal(t, "payload", requests[0][5])

	// The first scheduled fire lands one interval later.
	assert.Equal(t, 110*time.Second, runtime.intervalJobs[0].nextFire)
}

func TestIntervalJobFiresOnInterval(t *testing.T) {
	runtime, conn, clock := newTestRuntime(t, nil)

	runtime.handleMessage(scheduleMsg("job-1", "default", "10", "payload"))
	require.Len(t, byCommand(conn.sent, protocol.CmdRequest), 1)

	clock.m = 9 * time.Second
	runtime.tick(clock.w, clock.m)
	assert.Len(t, byCommand(conn.sent, protocol.CmdRequest), 1)

	clock.m = 10 * time.Second
	runtime.tick(clock.w, clock.m)
	assert.Len(t, byCommand(conn.sent, protocol.CmdRequest), 2)

	// Successive fires derive from the previous instant, not from a
	// catch-up against elapsed time.
	clock.m = 35 * time.Second
	runtime.tick(clock.w, clock.m)
	assert.Len(t, byCommand(conn.sent, protocol.CmdRequest), 3)
	assert.Equal(t, 30*time.Second, runtime.intervalJobs[0].nextFire)
}

func TestScheduleWithInvalidIntervalIgnored(t *testing.T) {
	runtime, conn, _ := newTestRuntime(t, nil)

	runtime.handleMessage(scheduleMsg("job-1", "default", "abc", "payload"))
	runtime.handleMessage(scheduleMsg("job-2", "default", "0", "payload"))

	assert.Equal(t, 0, runtime.IntervalJobCount())
	assert.Empty(t, byCommand(conn.sent, protocol.CmdRequest))
}

func TestUnscheduleRemovesIntervalJob(t *testing.T) {
	runtime, conn, clock := newTestRuntime(t, nil)

	runtime.handleMessage(scheduleMsg("job-1", "default", "10", "payload"))
	require.Equal(t, 1, runtime.IntervalJobCount())

	runtime.handleMessage(protocol.PeerFrames(&protocol.Message{
		Command: protocol.CmdUnschedule,
		ID:      protocol.NewMessageID(),
		Body:    []string{"job-1"},
	}))

	assert.Equal(t, 0, runtime.IntervalJobCount())

	clock.m = time.Hour
	runtime.tick(clock.w, clock.m)
	assert.Len(t, byCommand(conn.sent, protocol.CmdRequest), 1)
}

func TestUnscheduleUnknownHandle(t *testing.T) {
	runtime, _, _ := newTestRuntime(t, nil)

	runtime.handleMessage(protocol.PeerFrames(&protocol.Message{
		Command: protocol.CmdUnschedule,
		ID:      protocol.NewMessageID(),
		Body:    []string{"nope"},
	}))

	assert.Equal(t, 0, runtime.IntervalJobCount())
}

func TestDisconnectStopsRuntime(t *testing.T) {
	runtime, _, _ := newTestRuntime(t, nil)

	runtime.handleMessage(protocol.PeerFrames(&protocol.Message{
		Command: protocol.CmdDisconnect,
		ID:      protocol.NewMessageID(),
	}))

	assert.True(t, runtime.receivedDisconnect)
}

func TestInvalidMessageIgnored(t *testing.T) {
	runtime, conn, _ := newTestRuntime(t, nil)

	runtime.handleMessage([]string{"garbage"})

	assert.Empty(t, conn.sent)
}

func TestIntervalIterDrift(t *testing.T) {
	iter := newIntervalIter(5*time.Second, 10*time.Second)

	assert.Equal(t, 15*time.Second, iter.Next())
	assert.Equal(t, 25*time.Second, iter.Next())
	assert.Equal(t, 35*time.Second, iter.Next())
}
