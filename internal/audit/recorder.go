// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/oops"
)

// Store persists audit events.
type Store interface {
	// Append writes a single event.
	Append(ctx context.Context, event Event) error

	// Search returns events matching the query, newest first.
	Search(ctx context.Context, q Query) ([]Event, error)

	// Close releases store resources.
	Close() error
}

var (
	channelFullCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campusgate_audit_channel_full_total",
		Help: "Total number of times the async audit channel was full",
	})

	failuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusgate_audit_failures_total",
		Help: "Total number of audit recording failures",
	}, []string{"reason"})

	walEntriesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campusgate_audit_wal_entries",
		Help: "Current number of entries in the audit WAL",
	})
)

// writeTimeout bounds each store write made by the consumer goroutine.
const writeTimeout = 5 * time.Second

// Recorder appends events to the store without ever blocking or failing the
// triggering action. Persist failures are surfaced to operational logging and
// spilled to a local JSONL WAL that is replayed on the next startup.
type Recorder struct {
	store    Store
	walPath  string
	walFile  *os.File
	walMu    sync.Mutex
	events   chan Event
	stopChan chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewRecorder creates a Recorder writing to store, with walPath as the
// fallback spill file for events the store rejects.
func NewRecorder(store Store, walPath string, logger *slog.Logger) (*Recorder, error) {
	if store == nil {
		return nil, oops.Errorf("audit store is required")
	}
	if walPath == "" {
		return nil, oops.Errorf("audit WAL path is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := &Recorder{
		store:    store,
		walPath:  walPath,
		events:   make(chan Event, 1000),
		stopChan: make(chan struct{}),
		logger:   logger,
	}

	r.wg.Add(1)
	go r.consume()

	return r, nil
}

// Record queues an event for persistence. It returns immediately; the caller
// never observes audit failures. A full queue drops the event and counts it.
func (r *Recorder) Record(_ context.Context, event Event) {
	select {
	case r.events <- event:
	case <-r.stopChan:
		// Shutting down: write through synchronously so late events are not lost.
		r.persist(event)
	default:
		channelFullCounter.Inc()
		failuresCounter.WithLabelValues("channel_full").Inc()
		r.logger.Error("audit event dropped: channel full",
			"action", event.Action,
			"username", event.Username,
		)
	}
}

// consume drains the event channel until Close.
func (r *Recorder) consume() {
	defer r.wg.Done()

	for {
		select {
		case event := <-r.events:
			r.persist(event)
		case <-r.stopChan:
			for {
				select {
				case event := <-r.events:
					r.persist(event)
				default:
					return
				}
			}
		}
	}
}

// persist writes one event to the store, spilling to the WAL on failure.
func (r *Recorder) persist(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.Append(ctx, event); err != nil {
		if walErr := r.writeToWAL(event); walErr != nil {
			r.logger.Error("audit write failed: both store and WAL failed",
				"store_error", err,
				"wal_error", walErr,
				"action", event.Action,
				"username", event.Username,
			)
			failuresCounter.WithLabelValues("wal_failed").Inc()
			return
		}
		r.logger.Warn("audit store write failed, spilled to WAL",
			"error", err,
			"action", event.Action,
		)
		failuresCounter.WithLabelValues("store_write_failed").Inc()
	}
}

// writeToWAL appends an event to the JSONL spill file.
func (r *Recorder) writeToWAL(event Event) error {
	r.walMu.Lock()
	defer r.walMu.Unlock()

	if r.walFile == nil {
		file, err := os.OpenFile(r.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY|os.O_SYNC, 0o600)
		if err != nil {
			return oops.With("path", r.walPath).Wrap(err)
		}
		r.walFile = file
	}

	data, err := json.Marshal(event)
	if err != nil {
		return oops.Wrap(err)
	}

	if _, err := fmt.Fprintf(r.walFile, "%s\n", data); err != nil {
		return oops.Wrap(err)
	}

	walEntriesGauge.Inc()
	return nil
}

// ReplayWAL writes any spilled events back to the store. Entries the store
// accepts are removed; entries it still rejects are kept in the WAL for the
// next startup. Corrupt lines are dropped after logging, nothing can replay
// them. Called once at startup before the recorder accepts traffic.
func (r *Recorder) ReplayWAL(ctx context.Context) error {
	r.walMu.Lock()
	defer r.walMu.Unlock()

	if _, err := os.Stat(r.walPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(r.walPath)
	if err != nil {
		return oops.With("path", r.walPath).Wrap(err)
	}
	if len(data) == 0 {
		return nil
	}

	replayed := 0
	var retained []string
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			r.logger.Error("failed to unmarshal WAL entry", "error", err)
			failuresCounter.WithLabelValues("wal_unmarshal_failed").Inc()
			continue
		}

		if err := r.store.Append(ctx, event); err != nil {
			r.logger.Error("failed to replay WAL entry, retaining", "error", err, "action", event.Action)
			failuresCounter.WithLabelValues("wal_replay_failed").Inc()
			retained = append(retained, line)
			continue
		}
		replayed++
	}

	if err := r.rewriteWAL(retained); err != nil {
		return err
	}

	walEntriesGauge.Set(float64(len(retained)))
	r.logger.Info("replayed audit WAL entries", "count", replayed, "retained", len(retained))
	return nil
}

// rewriteWAL replaces the WAL contents with the given lines. Caller holds
// walMu.
func (r *Recorder) rewriteWAL(lines []string) error {
	if len(lines) == 0 {
		if err := os.Truncate(r.walPath, 0); err != nil {
			return oops.With("path", r.walPath).Wrap(err)
		}
		return nil
	}

	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(r.walPath, []byte(content), 0o600); err != nil {
		return oops.With("path", r.walPath).Wrap(err)
	}
	return nil
}

// Close drains queued events and shuts the recorder down.
func (r *Recorder) Close() error {
	close(r.stopChan)
	r.wg.Wait()

	r.walMu.Lock()
	defer r.walMu.Unlock()
	if r.walFile != nil {
		if err := r.walFile.Close(); err != nil {
			return oops.Wrap(err)
		}
		r.walFile = nil
	}
	return nil
}

// Compile-time interface check.
var _ Sink = (*Recorder)(nil)
