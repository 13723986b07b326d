package broker

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// schedulerRecord tracks one registered scheduler's liveness.
type schedulerRecord struct {
	lastHeartbeat time.Duration
}

// SchedulerRegistry tracks known schedulers and the round-robin order used
// to dispatch SCHEDULE commands.
type SchedulerRegistry struct {
	schedulers map[string]*schedulerRecord
	order      []string

	timeout      time.Duration
	cleanupEvery time.Duration
	lastCleanup  time.Duration
}

// NewSchedulerRegistry creates an empty registry with the given liveness
// timeout and minimum sweep spacing.
func NewSchedulerRegistry(timeout, cleanupEvery time.Duration) *SchedulerRegistry {
	return &SchedulerRegistry{
		schedulers:   make(map[string]*schedulerRecord),
		timeout:      timeout,
		cleanupEvery: cleanupEvery,
	}
}

// Add registers a scheduler and appends it to the dispatch order. Adding an
// already-known scheduler refreshes its liveness without duplicating it in
// the order.
func (r *SchedulerRegistry) Add(id string, now time.Duration) {
	if _, ok := r.schedulers[id]; ok {
		r.schedulers[id].lastHeartbeat = now
		return
	}

	r.schedulers[id] = &schedulerRecord{lastHeartbeat: now}
	r.order = append(r.order, id)

	log.WithFields(log.Fields{"scheduler": id}).Debug("registering scheduler")
}

// Known reports whether the scheduler is registered.
func (r *SchedulerRegistry) Known(id string) bool {
	_, ok := r.schedulers[id]
	return ok
}

// Touch updates the scheduler's liveness instant.
func (r *SchedulerRegistry) Touch(id string, now time.Duration) {
	if record, ok := r.schedulers[id]; ok {
		record.lastHeartbeat = now
	}
}

// Next returns the scheduler at the front of the dispatch order and rotates
// it to the back. Returns false when no schedulers are registered.
func (r *SchedulerRegistry) Next() (string, bool) {
	if len(r.order) == 0 {
		return "", false
	}

	id := r.order[0]
	r.order = append(r.order[1:], id)

	return id, true
}

// All returns a snapshot of the registered schedulers in dispatch order.
func (r *SchedulerRegistry) All() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered schedulers.
func (r *SchedulerRegistry) Len() int {
	return len(r.order)
}

// Remove deletes a scheduler from both the record map and the dispatch
// order.
func (r *SchedulerRegistry) Remove(id string) {
	if _, ok := r.schedulers[id]; !ok {
		return
	}

	delete(r.schedulers, id)
	for i, entry := range r.order {
		if entry == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Sweep removes every scheduler silent for the liveness timeout, at most
// once per cleanup interval. The removed identities are returned.
func (r *SchedulerRegistry) Sweep(now time.Duration) []string {
	if now-r.lastCleanup < r.cleanupEvery {
		return nil
	}
	r.lastCleanup = now

	var removed []string
	for id, record := range r.schedulers {
		silence := now - record.lastHeartbeat
		if silence >= r.timeout {
			log.WithFields(log.Fields{
				"scheduler": id,
				"silence":   silence,
			}).Info("no heartbeat from scheduler, removing")
			removed = append(removed, id)
		}
	}

	for _, id := range removed {
		r.Remove(id)
	}

	return removed
}
