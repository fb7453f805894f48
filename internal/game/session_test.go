package game

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"mobarena-server/internal/agent"
	"mobarena-server/internal/config"
	"mobarena-server/internal/journal"
	"mobarena-server/internal/protocol"
)

func newTestManager(t *testing.T, j *journal.Journal) *SessionManager {
	t.Helper()
	cfg := testConfig(config.MobSpawn{Variant: "default", X: 6, Y: 0})
	cfg.Server.TickRate = 5 * time.Millisecond
	variants, err := agent.LoadVariants("")
	if err != nil {
		t.Fatal(err)
	}
	sm := NewSessionManager(context.Background(), cfg, variants, j, nil)
	t.Cleanup(sm.Close)
	return sm
}

func TestSessionCreateAndList(t *testing.T) {
	sm := newTestManager(t, nil)

	first, err := sm.Create("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := uuid.Parse(first.ID); err != nil {
		t.Errorf("session id should be a UUID: %v", err)
	}
	if _, err := sm.Create("beta"); err != nil {
		t.Fatal(err)
	}

	if sm.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", sm.Len())
	}
	if sm.Get(first.ID) != first {
		t.Error("Get should return the created session")
	}
	list := sm.List()
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "beta" {
		t.Errorf("expected sessions oldest first, got %+v", list)
	}
}

func TestSessionStop(t *testing.T) {
	sm := newTestManager(t, nil)
	sess, err := sm.Create("gone")
	if err != nil {
		t.Fatal(err)
	}

	if !sm.Stop(sess.ID) {
		t.Fatal("stop should find the session")
	}
	select {
	case <-sess.Done():
	default:
		t.Fatal("stop should wait for the loop")
	}
	if sess.Err() != nil {
		t.Errorf("stopped session should end cleanly, got %v", sess.Err())
	}
	if sm.Get(sess.ID) != nil || sm.Len() != 0 {
		t.Error("stopped session should be removed")
	}
	if sm.Stop(sess.ID) {
		t.Error("stopping twice should report not found")
	}
}

func TestSessionStopNotifiesViewers(t *testing.T) {
	sm := newTestManager(t, nil)
	sess, _ := sm.Create("watched")
	mock := &mockBroadcaster{}
	if err := sess.Game.AddViewer("v", mock); err != nil {
		t.Fatal(err)
	}
	sm.Stop(sess.ID)

	mock.mu.Lock()
	defer mock.mu.Unlock()
	if len(mock.messages) == 0 {
		t.Fatal("expected an ended message")
	}
	env, ok := mock.messages[len(mock.messages)-1].(protocol.Envelope)
	if !ok || env.T != protocol.MsgEnded {
		t.Fatalf("expected ended envelope, got %+v", env)
	}
	if ended := env.Data.(protocol.EndedMsg); ended.Reason != "stopped" {
		t.Errorf("expected reason stopped, got %q", ended.Reason)
	}
}

func TestSessionJournaled(t *testing.T) {
	db, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	j := journal.New(db, config.JournalConfig{QueueSize: 64, BatchSize: 8, FlushInterval: 10 * time.Millisecond}, nil)

	sm := newTestManager(t, j)
	sess, err := sm.Create("logged")
	if err != nil {
		t.Fatal(err)
	}
	if m := j.Metrics(); m.Sessions != 1 {
		t.Errorf("expected 1 active session, got %d", m.Sessions)
	}
	sm.Stop(sess.ID)
	j.Stop()

	diags, err := db.Diagnostics(sess.ID, 100)
	if err != nil || len(diags) == 0 {
		t.Fatalf("diagnostics: %v %v", diags, err)
	}
	last := diags[len(diags)-1]
	if last.Kind != journal.DiagSessionFinished || last.Message != "stopped" {
		t.Errorf("expected a finished diagnostic last, got %+v", diags)
	}
	if m := j.Metrics(); m.Sessions != 0 {
		t.Errorf("expected no active sessions, got %d", m.Sessions)
	}
}
