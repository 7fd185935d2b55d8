package watermark

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// openStores returns one of each backend rooted in a temp dir.
func openStores(t *testing.T) map[string]Store {
	t.Helper()

	dir := t.TempDir()
	sqliteStore, err := NewSQLiteStore(filepath.Join(dir, "watermarks.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{
		"file":   NewFileStore(filepath.Join(dir, "watermarks.txt")),
		"sqlite": sqliteStore,
	}
}

func TestGetUnknownTableReturnsSentinel(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ts, err := store.Get("never_migrated")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !IsSentinel(ts) {
				t.Errorf("Get on unknown table = %v, want sentinel", ts)
			}
		})
	}
}

func TestLastWriteWins(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 12, 30, 0, 0, time.UTC)
	t3 := time.Date(2024, 3, 1, 6, 15, 45, 0, time.UTC)

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, ts := range []time.Time{t1, t2, t3} {
				if err := store.Set("fact_sales", ts); err != nil {
					t.Fatalf("Set: %v", err)
				}
			}
			if err := store.Set("fact_inventory", t1); err != nil {
				t.Fatalf("Set: %v", err)
			}

			got, err := store.Get("fact_sales")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !got.Equal(t3) {
				t.Errorf("Get(fact_sales) = %v, want %v", got, t3)
			}

			got, err = store.Get("fact_inventory")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !got.Equal(t1) {
				t.Errorf("Get(fact_inventory) = %v, want %v", got, t1)
			}
		})
	}
}

func TestList(t *testing.T) {
	t1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Set("a", t1); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := store.Set("b", t1); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := store.Set("b", t2); err != nil {
				t.Fatalf("Set: %v", err)
			}

			marks, err := store.List()
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(marks) != 2 {
				t.Fatalf("List returned %d entries, want 2", len(marks))
			}
			if !marks["a"].Equal(t1) || !marks["b"].Equal(t2) {
				t.Errorf("List = %v", marks)
			}
		})
	}
}

func TestFileStoreSkipsTornTrailingRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watermarks.txt")
	store := NewFileStore(path)

	good := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	if err := store.Set("fact_sales", good); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Simulate a crash mid-append: a record cut off inside the timestamp.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("fact_sales=2024-05-01T1"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := store.Get("fact_sales")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Equal(good) {
		t.Errorf("Get after torn append = %v, want %v", got, good)
	}
}

func TestFileStoreSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watermarks.txt")

	content := "garbage line\n" +
		"=2024-01-01T00:00:00Z\n" +
		"fact_sales=not-a-timestamp\n" +
		"fact_sales=2024-01-15T08:00:00Z\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(path)
	got, err := store.Get("fact_sales")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Get = %v, want %v", got, want)
	}
}

func TestFileStoreReadsLegacyBareTimestamps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watermarks.txt")
	if err := os.WriteFile(path, []byte("dim_customer=2023-11-20T14:05:00\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(path)
	got, err := store.Get("dim_customer")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := time.Date(2023, 11, 20, 14, 5, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Get = %v, want %v", got, want)
	}
}

func TestFileStoreRejectsUnsafeTableNames(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "watermarks.txt"))
	for _, name := range []string{"a=b", "a\nb"} {
		if err := store.Set(name, time.Now()); err == nil {
			t.Errorf("Set(%q) should fail", name)
		}
	}
}

func TestSentinelValue(t *testing.T) {
	want := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	if !Sentinel.Equal(want) {
		t.Errorf("Sentinel = %v, want %v", Sentinel, want)
	}
}
