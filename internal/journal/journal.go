package journal

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mobarena-server/internal/config"
	"mobarena-server/internal/state"
)

// Diagnostic kinds.
const (
	DiagStaleAttack     = "stale_attack"
	DiagProtocolDesync  = "protocol_desync"
	DiagAgentPanic      = "agent_panic"
	DiagSessionFinished = "session_finished"
)

type entry struct {
	resolution *ResolutionRow
	diagnostic *DiagnosticRow
}

// Journal persists combat history with batched background writes. Record
// calls never block the game loop: when the queue is full the entry is
// dropped and counted.
type Journal struct {
	db      *DB
	entries chan entry
	stop    chan struct{}
	wg      sync.WaitGroup
	log     *zap.Logger

	batchSize     int
	flushInterval time.Duration

	mu         sync.RWMutex
	dropped    uint64
	written    uint64
	sessions   int
	spectators int
	stopOnce   sync.Once
}

// New starts the background writer. db may be nil, in which case entries are
// accepted and discarded.
func New(db *DB, cfg config.JournalConfig, log *zap.Logger) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	j := &Journal{
		db:            db,
		entries:       make(chan entry, cfg.QueueSize),
		stop:          make(chan struct{}),
		log:           log,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
	}
	j.wg.Add(1)
	go j.writer()
	return j
}

// Attach subscribes the journal to a session's event bus.
func (j *Journal) Attach(sessionID string, bus *state.Bus) {
	state.Subscribe(bus, func(ev state.AttackResolved) {
		j.RecordResolution(sessionID, ev)
		if ev.Stale {
			j.RecordDiagnostic(sessionID, DiagStaleAttack,
				fmt.Sprintf("agent %d resolved %s after commit", ev.Agent, ev.ResolvedAt.Sub(ev.CommittedAt)), ev.ResolvedAt)
		}
	})
	state.Subscribe(bus, func(ev state.ProtocolDesynced) {
		j.RecordDiagnostic(sessionID, DiagProtocolDesync, ev.Err.Error(), ev.At)
	})
}

func (j *Journal) RecordResolution(sessionID string, ev state.AttackResolved) {
	j.enqueue(entry{resolution: &ResolutionRow{
		SessionID:   sessionID,
		AgentID:     uint32(ev.Agent),
		Variant:     ev.Variant,
		Damage:      ev.Damage,
		Applied:     ev.Applied,
		Stale:       ev.Stale,
		CommittedAt: ev.CommittedAt,
		ResolvedAt:  ev.ResolvedAt,
	}})
}

func (j *Journal) RecordDiagnostic(sessionID, kind, message string, at time.Time) {
	j.enqueue(entry{diagnostic: &DiagnosticRow{
		SessionID: sessionID,
		Kind:      kind,
		Message:   message,
		At:        at,
	}})
}

func (j *Journal) enqueue(e entry) {
	select {
	case j.entries <- e:
	default:
		j.mu.Lock()
		j.dropped++
		j.mu.Unlock()
	}
}

// SetActiveSessions updates the live session count.
func (j *Journal) SetActiveSessions(n int) {
	j.mu.Lock()
	j.sessions = n
	j.mu.Unlock()
}

// SetSpectators updates the live spectator count.
func (j *Journal) SetSpectators(n int) {
	j.mu.Lock()
	j.spectators = n
	j.mu.Unlock()
}

// Metrics is a snapshot of the journal's live counters.
type Metrics struct {
	Sessions   int    `json:"sessions"`
	Spectators int    `json:"spectators"`
	Written    uint64 `json:"written"`
	Dropped    uint64 `json:"dropped"`
}

func (j *Journal) Metrics() Metrics {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Metrics{
		Sessions:   j.sessions,
		Spectators: j.spectators,
		Written:    j.written,
		Dropped:    j.dropped,
	}
}

// DB returns the backing database, or nil.
func (j *Journal) DB() *DB { return j.db }

// Stop drains the queue, writes what is left and waits for the writer.
func (j *Journal) Stop() {
	j.stopOnce.Do(func() {
		close(j.stop)
		j.wg.Wait()
	})
}

func (j *Journal) writer() {
	defer j.wg.Done()

	batch := make([]entry, 0, j.batchSize)
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-j.entries:
			batch = append(batch, e)
			if len(batch) >= j.batchSize {
				j.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				j.flush(batch)
				batch = batch[:0]
			}
		case <-j.stop:
		drain:
			for {
				select {
				case e := <-j.entries:
					batch = append(batch, e)
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				j.flush(batch)
			}
			return
		}
	}
}

func (j *Journal) flush(batch []entry) {
	if j.db == nil || len(batch) == 0 {
		return
	}
	tx, err := j.db.conn.Begin()
	if err != nil {
		j.log.Error("journal: begin tx", zap.Error(err))
		return
	}
	defer tx.Rollback()

	resStmt, err := tx.Prepare(`INSERT INTO attack_resolutions
		(session_id, agent_id, variant, damage, applied, stale, committed_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		j.log.Error("journal: prepare resolutions", zap.Error(err))
		return
	}
	defer resStmt.Close()

	diagStmt, err := tx.Prepare(`INSERT INTO diagnostics (session_id, kind, message, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		j.log.Error("journal: prepare diagnostics", zap.Error(err))
		return
	}
	defer diagStmt.Close()

	written := 0
	for _, e := range batch {
		switch {
		case e.resolution != nil:
			r := e.resolution
			_, err = resStmt.Exec(r.SessionID, r.AgentID, r.Variant, r.Damage, r.Applied, r.Stale,
				r.CommittedAt.UTC().Format(time.RFC3339Nano), r.ResolvedAt.UTC().Format(time.RFC3339Nano))
		case e.diagnostic != nil:
			d := e.diagnostic
			_, err = diagStmt.Exec(d.SessionID, d.Kind, d.Message, d.At.UTC().Format(time.RFC3339Nano))
		default:
			continue
		}
		if err != nil {
			j.log.Warn("journal: insert", zap.Error(err))
			continue
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		j.log.Error("journal: commit", zap.Error(err))
		return
	}

	j.mu.Lock()
	j.written += uint64(written)
	j.mu.Unlock()
}
