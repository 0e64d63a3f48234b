package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/openfroyo/synth/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createPass(t *testing.T, store *SQLiteStore, id string, startedAt time.Time) {
	t.Helper()
	err := store.CreatePass(context.Background(), &Pass{
		ID:        id,
		Project:   "mail",
		Status:    PassStatusRunning,
		StartedAt: startedAt,
	})
	if err != nil {
		t.Fatalf("failed to create pass: %v", err)
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	if _, err := NewSQLiteStore(Config{}); !engine.IsConfiguration(err) {
		t.Errorf("expected configuration error for empty path, got %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"passes", "mutations", "lookups"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// running again is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestStoreOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".synth", "history.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	createPass(t, store, "p1", time.Now())
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetPass(ctx, "p1"); err != nil {
		t.Errorf("expected pass to survive reopen: %v", err)
	}
}

func TestPassLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	createPass(t, store, "p1", started)

	pass, err := store.GetPass(ctx, "p1")
	if err != nil {
		t.Fatalf("failed to get pass: %v", err)
	}
	if pass.Status != PassStatusRunning || pass.CompletedAt != nil {
		t.Errorf("unexpected running pass: %+v", pass)
	}
	if !pass.StartedAt.Equal(started) {
		t.Errorf("unexpected start time: %s", pass.StartedAt)
	}

	msg := "policy deprecated-runtime failed"
	err = store.CompletePass(ctx, "p1", PassSummary{
		Status:       PassStatusFailed,
		Nodes:        5,
		Mutations:    1,
		Violations:   1,
		Error:        &msg,
		OutputDigest: "abc",
	})
	if err != nil {
		t.Fatalf("failed to complete pass: %v", err)
	}

	pass, err = store.GetPass(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	want := &Pass{
		ID:           "p1",
		Project:      "mail",
		Status:       PassStatusFailed,
		Nodes:        5,
		Mutations:    1,
		Violations:   1,
		Error:        &msg,
		OutputDigest: "abc",
	}
	opts := cmpopts.IgnoreFields(Pass{}, "StartedAt", "CompletedAt")
	if diff := cmp.Diff(want, pass, opts); diff != "" {
		t.Errorf("pass mismatch (-want +got):\n%s", diff)
	}
	if pass.CompletedAt == nil {
		t.Error("expected completion time")
	}

	if err := store.CompletePass(ctx, "missing", PassSummary{Status: PassStatusCompleted}); !engine.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := store.GetPass(ctx, "missing"); !engine.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestListPassesNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"p1", "p2", "p3"} {
		createPass(t, store, id, base.Add(time.Duration(i)*time.Minute))
	}

	passes, err := store.ListPasses(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list passes: %v", err)
	}
	var ids []string
	for _, p := range passes {
		ids = append(ids, p.ID)
	}
	if diff := cmp.Diff([]string{"p3", "p2"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}

	passes, err = store.ListPasses(ctx, 10, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(passes) != 1 || passes[0].ID != "p1" {
		t.Errorf("unexpected second page: %+v", passes)
	}
}

func TestMutationsAndLookups(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createPass(t, store, "p1", time.Now())

	mutations := []Mutation{
		{Visitor: "runtime:nodejs20.x", NodePath: "App/Stack/RuleSet/DropSpam/Function", Role: "ManagedRuleSet", Rule: "runtime", Property: "Runtime", OldValue: `"nodejs16.x"`, NewValue: `"nodejs20.x"`},
		{Visitor: "memory", NodePath: "App/Stack/RuleSet/DropSpam/Function", Role: "ManagedRuleSet", Rule: "memory", Property: "MemorySize", OldValue: `null`, NewValue: `256`},
	}
	if err := store.RecordMutations(ctx, "p1", mutations); err != nil {
		t.Fatalf("failed to record mutations: %v", err)
	}

	got, err := store.ListMutations(ctx, "p1")
	if err != nil {
		t.Fatalf("failed to list mutations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 mutations, got %d", len(got))
	}
	if got[0].Seq != 0 || got[1].Seq != 1 || got[1].Property != "MemorySize" {
		t.Errorf("unexpected order: %+v %+v", got[0], got[1])
	}

	value := `"nodejs20.x"`
	lookups := []Lookup{
		{Name: "runtime", Kind: "ssm", QueryKey: "k1", Outcome: "success", Value: &value, DurationMS: 12},
		{Name: "azs", Kind: "availability-zones", QueryKey: "k2", Outcome: "transient_failure", Diagnostic: "throttled", Cached: true},
	}
	if err := store.RecordLookups(ctx, "p1", lookups); err != nil {
		t.Fatalf("failed to record lookups: %v", err)
	}

	gotLookups, err := store.ListLookups(ctx, "p1")
	if err != nil {
		t.Fatalf("failed to list lookups: %v", err)
	}
	want := []*Lookup{
		{Name: "azs", Kind: "availability-zones", QueryKey: "k2", Outcome: "transient_failure", Diagnostic: "throttled", Cached: true},
		{Name: "runtime", Kind: "ssm", QueryKey: "k1", Outcome: "success", Value: &value, DurationMS: 12},
	}
	if diff := cmp.Diff(want, gotLookups, cmpopts.IgnoreFields(Lookup{}, "ID", "PassID")); diff != "" {
		t.Errorf("lookups mismatch (-want +got):\n%s", diff)
	}

	// records of an unknown pass violate the foreign key
	if err := store.RecordLookups(ctx, "missing", lookups[:1]); err == nil {
		t.Error("expected foreign key violation")
	}

	if err := store.DeletePass(ctx, "p1"); err != nil {
		t.Fatalf("failed to delete pass: %v", err)
	}
	remaining, err := store.ListMutations(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected cascade delete, got %d mutations", len(remaining))
	}
}
