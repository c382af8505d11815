package profiles

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/campussublets/subletd/internal/remote"
	"github.com/campussublets/subletd/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type mockFetcher struct {
	mu       sync.Mutex
	profiles map[string]*remote.Profile
	err      error
	calls    int
}

func (m *mockFetcher) GetProfile(_ context.Context, id string) (*remote.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if p, ok := m.profiles[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, remote.ErrNotFound
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestGetCachesAndWritesThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := testDB(t)
	fetcher := &mockFetcher{profiles: map[string]*remote.Profile{
		"u1": {ID: "u1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@uni.edu"},
	}}
	c := NewCache(ctx, db, fetcher, nil)

	p, err := c.Get(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if p.FirstName != "Ada" {
		t.Errorf("first name = %q, want Ada", p.FirstName)
	}

	// Second call is served from memory.
	if _, err := c.Get(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if got := fetcher.callCount(); got != 1 {
		t.Errorf("remote calls = %d, want 1", got)
	}

	// Write-through makes the profile survive a fresh cache.
	stored, err := db.GetProfile("u1")
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil || stored.Email != "ada@uni.edu" {
		t.Errorf("persisted profile = %+v", stored)
	}
}

func TestGetFallsBackToPersistentCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := testDB(t)
	seed := store.Profile{ID: "u1", FirstName: "Ada", Email: "ada@uni.edu", CachedAt: 1000}
	if err := db.UpsertProfile(&seed); err != nil {
		t.Fatal(err)
	}
	fetcher := &mockFetcher{err: errors.New("backend down")}
	c := NewCache(ctx, db, fetcher, nil)

	p, err := c.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("stale fallback should succeed, got %v", err)
	}
	if p.FirstName != "Ada" {
		t.Errorf("first name = %q, want Ada", p.FirstName)
	}

	// Unknown user with the backend down is a hard miss.
	if _, err := c.Get(ctx, "u2"); err == nil {
		t.Error("expected an error for an unknown user")
	}
}

func TestDisplayName(t *testing.T) {
	cases := []struct {
		name    string
		profile store.Profile
		want    string
	}{
		{"full name", store.Profile{FirstName: "Ada", LastName: "Lovelace", Email: "ada@uni.edu"}, "Ada Lovelace"},
		{"first only", store.Profile{FirstName: "Ada"}, "Ada"},
		{"email local part", store.Profile{Email: "ada.lovelace@uni.edu"}, "ada.lovelace"},
		{"nothing", store.Profile{}, "u1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := displayName(tc.profile, "u1"); got != tc.want {
				t.Errorf("displayName = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestInitials(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Ada Lovelace", "AL"},
		{"ada", "A"},
		{"Anne Marie Smith", "AS"},
		{"", "?"},
	}
	for _, tc := range cases {
		if got := Initials(tc.in); got != tc.want {
			t.Errorf("Initials(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
