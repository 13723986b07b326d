// Package broker implements the routing core of the bus: the worker and
// scheduler registries, the waiting-message buffer, and the event loop that
// binds them.
package broker

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// Availability list lookup results.
var (
	errUnknownQueue = errors.New("queue has no availability list")
	errEmptyQueue   = errors.New("no available workers")
)

// workerRecord tracks one registered worker: the queues it serves and the
// monotonic instant of its last message.
type workerRecord struct {
	queues        []string
	lastHeartbeat time.Duration
}

// WorkerRegistry tracks known workers and their per-queue availability
// lists. Each list is an ordered multiset of worker identities, one entry
// per free slot; a worker with N free slots appears N times.
type WorkerRegistry struct {
	workers map[string]*workerRecord
	queues  map[string][]string

	timeout      time.Duration
	cleanupEvery time.Duration
	lastCleanup  time.Duration
}

// NewWorkerRegistry creates an empty registry with the given liveness
// timeout and minimum sweep spacing.
func NewWorkerRegistry(timeout, cleanupEvery time.Duration) *WorkerRegistry {
	return &WorkerRegistry{
		workers:      make(map[string]*workerRecord),
		queues:       make(map[string][]string),
		timeout:      timeout,
		cleanupEvery: cleanupEvery,
	}
}

// Add creates or replaces the record for a worker. The queue's availability
// list is registered immediately so requests for it buffer rather than
// drop, but the worker does not enter the list until its first READY.
func (r *WorkerRegistry) Add(id, queue string, now time.Duration) {
	// A re-announcing worker starts over: any slots it still held in its
	// previous queues are scrubbed.
	if record, ok := r.workers[id]; ok {
		for _, q := range record.queues {
			r.queues[q] = scrub(r.queues[q], id)
		}
	}

	r.workers[id] = &workerRecord{
		queues:        []string{queue},
		lastHeartbeat: now,
	}
	if _, ok := r.queues[queue]; !ok {
		r.queues[queue] = nil
	}

	log.WithFields(log.Fields{
		"worker": id,
		"queue":  queue,
	}).Debug("registering worker")
}

// Known reports whether the worker is registered.
func (r *WorkerRegistry) Known(id string) bool {
	_, ok := r.workers[id]
	return ok
}

// Touch updates the worker's liveness instant. Any message from a known
// worker counts as a heartbeat.
func (r *WorkerRegistry) Touch(id string, now time.Duration) {
	if record, ok := r.workers[id]; ok {
		record.lastHeartbeat = now
	}
}

// Queues returns the queues the worker is a member of, in registration
// order. Nil for unknown workers.
func (r *WorkerRegistry) Queues(id string) []string {
	if record, ok := r.workers[id]; ok {
		return record.queues
	}
	return nil
}

// All returns the identities of every registered worker.
func (r *WorkerRegistry) All() []string {
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of registered workers.
func (r *WorkerRegistry) Len() int {
	return len(r.workers)
}

// Requeue appends the worker to the availability list of each of its
// queues, creating lists on first use. Duplicate entries are intentional:
// one entry per free slot.
func (r *WorkerRegistry) Requeue(id string) {
	record, ok := r.workers[id]
	if !ok {
		return
	}

	for _, queue := range record.queues {
		r.queues[queue] = append(r.queues[queue], id)
	}

	log.WithFields(log.Fields{
		"worker": id,
		"queues": record.queues,
	}).Debug("requeueing worker")
}

// PopAvailable pops the least recently used worker from a queue's
// availability list. It returns errUnknownQueue when the queue has never
// been seen and errEmptyQueue when the list exists but holds no slots.
func (r *WorkerRegistry) PopAvailable(queue string) (string, error) {
	list, ok := r.queues[queue]
	if !ok {
		return "", errUnknownQueue
	}
	if len(list) == 0 {
		return "", errEmptyQueue
	}

	id := list[0]
	r.queues[queue] = list[1:]

	return id, nil
}

// Available returns the number of free slots in a queue.
func (r *WorkerRegistry) Available(queue string) int {
	return len(r.queues[queue])
}

// Remove deletes a worker and scrubs every availability list of all of its
// occurrences. The lists themselves stay registered so later requests for
// those queues buffer instead of dropping.
func (r *WorkerRegistry) Remove(id string) {
	record, ok := r.workers[id]
	if !ok {
		return
	}

	for _, queue := range record.queues {
		r.queues[queue] = scrub(r.queues[queue], id)
	}

	delete(r.workers, id)
}

// Sweep removes every worker silent for the liveness timeout. It runs at
// most once per cleanup interval; calls in between are no-ops. The removed
// identities are returned.
func (r *WorkerRegistry) Sweep(now time.Duration) []string {
	if now-r.lastCleanup < r.cleanupEvery {
		return nil
	}
	r.lastCleanup = now

	var removed []string
	for id, record := range r.workers {
		silence := now - record.lastHeartbeat
		if silence >= r.timeout {
			log.WithFields(log.Fields{
				"worker":  id,
				"silence": silence,
			}).Info("no messages from worker, removing")
			removed = append(removed, id)
		}
	}

	for _, id := range removed {
		r.Remove(id)
	}

	return removed
}

func scrub(list []string, id string) []string {
	out := list[:0]
	for _, entry := range list {
		if entry != id {
			out = append(out, entry)
		}
	}
	return out
}
