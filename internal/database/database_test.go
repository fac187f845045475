package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dialcore/dialcore/internal/call"
	"github.com/dialcore/dialcore/internal/database/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAndMigrate(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	// Verify database file was created.
	dbPath := filepath.Join(dir, "dialcore.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}

	// Verify WAL mode is active.
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	// Verify all tables exist.
	tables := []string{
		"schema_migrations", "virtual_numbers", "agents", "ivr_flows", "call_records",
	}
	for _, table := range tables {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Errorf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s not found", table)
		}
	}

	// Opening again must be a no-op, not a re-migration failure.
	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	db2.Close()
}

func TestVirtualNumberRepository(t *testing.T) {
	db := testDB(t)
	repo := NewVirtualNumberRepository(db)
	ctx := context.Background()

	vn := &models.VirtualNumber{
		Number:     "+15550100",
		RouteType:  "agent",
		RouteTo:    "agent-1",
		Department: "sales",
		Active:     true,
	}
	if err := repo.Create(ctx, vn); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if vn.ID == 0 {
		t.Error("Create() did not set ID")
	}

	got, err := repo.GetByNumber(ctx, "+15550100")
	if err != nil {
		t.Fatalf("GetByNumber() error: %v", err)
	}
	if got == nil || got.RouteTo != "agent-1" || !got.Active {
		t.Errorf("GetByNumber() = %+v", got)
	}

	missing, err := repo.GetByNumber(ctx, "+15559999")
	if err != nil {
		t.Fatalf("GetByNumber(missing) error: %v", err)
	}
	if missing != nil {
		t.Errorf("GetByNumber(missing) = %+v, want nil", missing)
	}

	vn.RouteType = "flow"
	vn.RouteTo = "flow-1"
	vn.Active = false
	if err := repo.Update(ctx, vn); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	got, err = repo.GetByID(ctx, vn.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.RouteType != "flow" || got.RouteTo != "flow-1" || got.Active {
		t.Errorf("after Update: %+v", got)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List() len = %d, want 1", len(list))
	}

	if err := repo.Delete(ctx, vn.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	got, err = repo.GetByID(ctx, vn.ID)
	if err != nil {
		t.Fatalf("GetByID() after delete error: %v", err)
	}
	if got != nil {
		t.Error("record still present after Delete()")
	}
}

func TestVirtualNumberUniqueConstraint(t *testing.T) {
	db := testDB(t)
	repo := NewVirtualNumberRepository(db)
	ctx := context.Background()

	vn := &models.VirtualNumber{Number: "+15550100", RouteType: "agent", RouteTo: "a", Active: true}
	if err := repo.Create(ctx, vn); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	dup := &models.VirtualNumber{Number: "+15550100", RouteType: "agent", RouteTo: "b", Active: true}
	if err := repo.Create(ctx, dup); err == nil {
		t.Error("Create() accepted a duplicate number")
	}
}

func TestAgentRepository(t *testing.T) {
	db := testDB(t)
	repo := NewAgentRepository(db)
	ctx := context.Background()

	agent := &models.Agent{
		AgentID:    "agent-1",
		Name:       "Dana",
		Email:      "dana@example.com",
		Extension:  "101",
		Status:     "offline",
		Department: "support",
	}
	if err := repo.Create(ctx, agent); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := repo.SetStatus(ctx, "agent-1", "available"); err != nil {
		t.Fatalf("SetStatus() error: %v", err)
	}
	got, err := repo.GetByAgentID(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetByAgentID() error: %v", err)
	}
	if got.Status != "available" {
		t.Errorf("status = %q, want available", got.Status)
	}

	if err := repo.SetStatus(ctx, "ghost", "busy"); err == nil {
		t.Error("SetStatus() accepted an unknown agent")
	}

	busy := &models.Agent{AgentID: "agent-2", Name: "Sam", Status: "busy"}
	if err := repo.Create(ctx, busy); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus() error: %v", err)
	}
	if counts["available"] != 1 || counts["busy"] != 1 {
		t.Errorf("CountByStatus() = %v", counts)
	}
}

func TestIVRFlowRepository(t *testing.T) {
	db := testDB(t)
	repo := NewIVRFlowRepository(db)
	ctx := context.Background()

	f := &models.IVRFlow{
		FlowID:     "flow-1",
		Name:       "Support Line",
		Definition: `{"id":"flow-1","nodes":[]}`,
	}
	if err := repo.Create(ctx, f); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := repo.GetByFlowID(ctx, "flow-1")
	if err != nil {
		t.Fatalf("GetByFlowID() error: %v", err)
	}
	if got == nil || got.Name != "Support Line" {
		t.Errorf("GetByFlowID() = %+v", got)
	}

	f.Definition = `{"id":"flow-1","nodes":[{"id":"a","type":"prompt","message":"hi"}]}`
	if err := repo.Update(ctx, f); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	got, _ = repo.GetByID(ctx, f.ID)
	if got.Definition != f.Definition {
		t.Error("Update() did not replace definition")
	}
}

func startedSession(id string, startedAt time.Time) call.Session {
	return call.Session{
		ID:        id,
		From:      "+15550100",
		To:        "+15550200",
		Direction: call.DirectionInbound,
		State:     call.StateRinging,
		StartedAt: startedAt,
	}
}

func TestCallRecordAppendAndFinalize(t *testing.T) {
	db := testDB(t)
	repo := NewCallRecordRepository(db)
	ctx := context.Background()

	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	s := startedSession("call-1", started)
	if err := repo.Append(ctx, s); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	rec, err := repo.GetByCallID(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetByCallID() error: %v", err)
	}
	if rec == nil || rec.State != "ringing" || rec.EndedAt != nil {
		t.Fatalf("in-flight record = %+v", rec)
	}

	ended := started.Add(42 * time.Second)
	s.State = call.StateCompleted
	s.EndedAt = &ended
	s.DurationSeconds = 42
	s.RecordingRef = "recording_abc.mp3"
	if err := repo.Finalize(ctx, s); err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}

	rec, err = repo.GetByCallID(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetByCallID() error: %v", err)
	}
	if rec.State != "completed" || rec.DurationSeconds != 42 {
		t.Errorf("finalized record = %+v", rec)
	}
	if rec.EndedAt == nil || rec.RecordingRef == nil || *rec.RecordingRef != "recording_abc.mp3" {
		t.Errorf("finalized record fields = %+v", rec)
	}
}

func TestCallRecordFinalizeUnknownCall(t *testing.T) {
	db := testDB(t)
	repo := NewCallRecordRepository(db)

	s := startedSession("ghost", time.Now().UTC())
	s.State = call.StateCompleted
	if err := repo.Finalize(context.Background(), s); err == nil {
		t.Error("Finalize() accepted an unknown call id")
	}
}

func seedCallRecords(t *testing.T, repo CallRecordRepository) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	fixtures := []struct {
		id       string
		state    call.State
		duration int
		offset   time.Duration
	}{
		{"c1", call.StateCompleted, 60, 0},
		{"c2", call.StateCompleted, 120, time.Hour},
		{"c3", call.StateMissed, 0, 2 * time.Hour},
		{"c4", call.StateFailed, 0, 3 * time.Hour},
		{"c5", call.StateCompleted, 30, 48 * time.Hour},
	}
	for _, fx := range fixtures {
		s := startedSession(fx.id, base.Add(fx.offset))
		if err := repo.Append(ctx, s); err != nil {
			t.Fatalf("Append(%s) error: %v", fx.id, err)
		}
		ended := s.StartedAt.Add(time.Duration(fx.duration) * time.Second)
		s.State = fx.state
		s.EndedAt = &ended
		s.DurationSeconds = fx.duration
		if err := repo.Finalize(ctx, s); err != nil {
			t.Fatalf("Finalize(%s) error: %v", fx.id, err)
		}
	}
}

func TestCallRecordListFilters(t *testing.T) {
	db := testDB(t)
	repo := NewCallRecordRepository(db)
	seedCallRecords(t, repo)
	ctx := context.Background()

	all, total, err := repo.List(ctx, models.CallRecordFilter{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if total != 5 || len(all) != 5 {
		t.Fatalf("List() total = %d len = %d, want 5", total, len(all))
	}
	// Newest first.
	if all[0].CallID != "c5" {
		t.Errorf("first record = %s, want c5", all[0].CallID)
	}

	missed, total, err := repo.List(ctx, models.CallRecordFilter{State: "missed"})
	if err != nil {
		t.Fatalf("List(missed) error: %v", err)
	}
	if total != 1 || missed[0].CallID != "c3" {
		t.Errorf("List(missed) = %v total %d", missed, total)
	}

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 1, 23, 59, 59, 0, time.UTC)
	dayOne, total, err := repo.List(ctx, models.CallRecordFilter{StartDate: &start, EndDate: &end})
	if err != nil {
		t.Fatalf("List(range) error: %v", err)
	}
	if total != 4 || len(dayOne) != 4 {
		t.Errorf("List(range) total = %d len = %d, want 4", total, len(dayOne))
	}

	page, total, err := repo.List(ctx, models.CallRecordFilter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("List(page) error: %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Errorf("List(page) total = %d len = %d, want 5/2", total, len(page))
	}
}

func TestCallRecordSummary(t *testing.T) {
	db := testDB(t)
	repo := NewCallRecordRepository(db)
	seedCallRecords(t, repo)

	s, err := repo.Summary(context.Background(), models.CallRecordFilter{})
	if err != nil {
		t.Fatalf("Summary() error: %v", err)
	}
	if s.TotalCalls != 5 || s.Answered != 3 || s.Missed != 1 || s.Failed != 1 {
		t.Errorf("Summary() = %+v", s)
	}
	// (60 + 120 + 30) / 3 completed calls.
	if s.AvgDurationSecs != 70 {
		t.Errorf("AvgDurationSecs = %v, want 70", s.AvgDurationSecs)
	}
}

func TestCallRecordCounts(t *testing.T) {
	db := testDB(t)
	repo := NewCallRecordRepository(db)
	seedCallRecords(t, repo)
	ctx := context.Background()

	// c5 starts 48h after the others.
	cutoff := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	n, err := repo.CountSince(ctx, cutoff)
	if err != nil {
		t.Fatalf("CountSince() error: %v", err)
	}
	if n != 1 {
		t.Errorf("CountSince() = %d, want 1", n)
	}

	byState, err := repo.CountByState(ctx)
	if err != nil {
		t.Fatalf("CountByState() error: %v", err)
	}
	if byState["completed"] != 3 || byState["missed"] != 1 || byState["failed"] != 1 {
		t.Errorf("CountByState() = %v", byState)
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}

	ok, err := CheckPassword("correct horse battery staple", hash)
	if err != nil {
		t.Fatalf("CheckPassword() error: %v", err)
	}
	if !ok {
		t.Error("CheckPassword() rejected the right password")
	}

	ok, err = CheckPassword("wrong", hash)
	if err != nil {
		t.Fatalf("CheckPassword() error: %v", err)
	}
	if ok {
		t.Error("CheckPassword() accepted the wrong password")
	}

	if _, err := CheckPassword("x", "not-a-hash"); err == nil {
		t.Error("CheckPassword() accepted a malformed hash")
	}
}
