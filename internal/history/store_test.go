package history

import "testing"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)

	entries := []Entry{
		{ModuleUUID: "mod-1", ModuleIndex: 0, Iteration: 0, Outcome: OutcomeSuccess, CPUTimeUS: 1000},
		{ModuleUUID: "mod-1", ModuleIndex: 0, Iteration: 1, Outcome: OutcomeFailureTimeout, Detail: "deadline exceeded", CPUTimeUS: 2000},
		{ModuleUUID: "mod-2", ModuleIndex: 1, Iteration: 0, Outcome: OutcomeFailureExit, Detail: "11", CPUTimeUS: 500},
	}
	for _, e := range entries {
		if err := s.Record(e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := s.Recent("mod-1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 rows for mod-1, got %d", len(recent))
	}
	if recent[0].Iteration != 1 || recent[0].Outcome != OutcomeFailureTimeout {
		t.Errorf("newest-first row = %+v", recent[0])
	}
	if recent[0].Detail != "deadline exceeded" {
		t.Errorf("Detail = %q", recent[0].Detail)
	}
	if recent[1].Outcome != OutcomeSuccess {
		t.Errorf("oldest row outcome = %q", recent[1].Outcome)
	}
}

func TestRecentEmptyForUnknownModule(t *testing.T) {
	s := openTestStore(t)
	recent, err := s.Recent("no-such-module", 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("expected no rows, got %d", len(recent))
	}
}

func TestMigrationIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
