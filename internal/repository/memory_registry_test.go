package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const (
	deviceA = "3f1b6a52-8c1e-4c52-9a57-0d7e6f1a2b3c"
	deviceB = "9b2f4d1e-5a6c-4e7f-8a9b-1c2d3e4f5a6b"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(ttl time.Duration) (*MemoryRegistry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	r := NewMemoryRegistry(ttl)
	r.now = clock.Now
	return r, clock
}

func TestMemoryRegistrySessionLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("create then get", func(t *testing.T) {
		r, clock := newTestRegistry(time.Hour)
		created, err := r.CreateOrRefresh(ctx, deviceA, "specific.one")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if created.Channel != "specific.one" || created.Alias != "" {
			t.Fatalf("unexpected session: %+v", created)
		}
		if !created.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
			t.Fatalf("expected expiry now+ttl, got %v", created.ExpiresAt)
		}
		got, err := r.Get(ctx, deviceA)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.ID != deviceA || got.Channel != "specific.one" {
			t.Fatalf("unexpected session: %+v", got)
		}
	})

	t.Run("refresh keeps created_at and alias", func(t *testing.T) {
		r, clock := newTestRegistry(time.Hour)
		first, _ := r.CreateOrRefresh(ctx, deviceA, "specific.one")
		if _, err := r.Claim(ctx, deviceA, "marcus.linq", ClaimReplace); err != nil {
			t.Fatalf("claim: %v", err)
		}
		clock.Advance(10 * time.Minute)
		second, err := r.CreateOrRefresh(ctx, deviceA, "specific.two")
		if err != nil {
			t.Fatalf("refresh: %v", err)
		}
		if !second.CreatedAt.Equal(first.CreatedAt) {
			t.Fatalf("created_at changed: %v -> %v", first.CreatedAt, second.CreatedAt)
		}
		if second.Alias != "marcus.linq" || second.Channel != "specific.two" {
			t.Fatalf("unexpected refreshed session: %+v", second)
		}
		if !second.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
			t.Fatalf("expiry not extended: %v", second.ExpiresAt)
		}
	})

	t.Run("missing session", func(t *testing.T) {
		r, _ := newTestRegistry(time.Hour)
		if _, err := r.Get(ctx, deviceA); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
		if err := r.TouchTTL(ctx, deviceA); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound on touch, got %v", err)
		}
		if err := r.JoinGroup(ctx, deviceA, "broadcast"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound on join, got %v", err)
		}
	})

	t.Run("groups are sorted and unique", func(t *testing.T) {
		r, _ := newTestRegistry(time.Hour)
		_, _ = r.CreateOrRefresh(ctx, deviceA, "specific.one")
		for _, g := range []string{"zeta", "broadcast", "zeta"} {
			if err := r.JoinGroup(ctx, deviceA, g); err != nil {
				t.Fatalf("join %s: %v", g, err)
			}
		}
		got, _ := r.Get(ctx, deviceA)
		if len(got.Groups) != 2 || got.Groups[0] != "broadcast" || got.Groups[1] != "zeta" {
			t.Fatalf("unexpected groups: %v", got.Groups)
		}
	})

	t.Run("delete releases alias", func(t *testing.T) {
		r, _ := newTestRegistry(time.Hour)
		_, _ = r.CreateOrRefresh(ctx, deviceA, "specific.one")
		_, _ = r.Claim(ctx, deviceA, "marcus.linq", ClaimReplace)
		if err := r.Delete(ctx, deviceA); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if owner, _ := r.SessionOf(ctx, "marcus.linq"); owner != "" {
			t.Fatalf("expected alias released, owner=%q", owner)
		}
		if err := r.Delete(ctx, deviceA); err != nil {
			t.Fatalf("second delete should be a no-op, got %v", err)
		}
	})
}

func TestMemoryRegistryExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("expired session reads as missing and frees alias", func(t *testing.T) {
		r, clock := newTestRegistry(time.Hour)
		_, _ = r.CreateOrRefresh(ctx, deviceA, "specific.one")
		_, _ = r.Claim(ctx, deviceA, "marcus.linq", ClaimReplace)
		clock.Advance(time.Hour + time.Second)

		if _, err := r.Get(ctx, deviceA); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected expired session to be missing, got %v", err)
		}
		if owner, _ := r.SessionOf(ctx, "marcus.linq"); owner != "" {
			t.Fatalf("expected alias freed, owner=%q", owner)
		}
	})

	t.Run("touch extends expiry", func(t *testing.T) {
		r, clock := newTestRegistry(time.Hour)
		_, _ = r.CreateOrRefresh(ctx, deviceA, "specific.one")
		clock.Advance(50 * time.Minute)
		if err := r.TouchTTL(ctx, deviceA); err != nil {
			t.Fatalf("touch: %v", err)
		}
		clock.Advance(50 * time.Minute)
		if _, err := r.Get(ctx, deviceA); err != nil {
			t.Fatalf("expected session alive after touch, got %v", err)
		}
	})

	t.Run("stale owner does not block claim", func(t *testing.T) {
		r, clock := newTestRegistry(time.Hour)
		_, _ = r.CreateOrRefresh(ctx, deviceA, "specific.one")
		_, _ = r.Claim(ctx, deviceA, "marcus.linq", ClaimReplace)
		clock.Advance(2 * time.Hour)
		_, _ = r.CreateOrRefresh(ctx, deviceB, "specific.two")

		outcome, err := r.Claim(ctx, deviceB, "marcus.linq", ClaimReplace)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if outcome != ClaimAccepted {
			t.Fatalf("expected accepted, got %s", outcome)
		}
	})

	t.Run("sweep removes expired", func(t *testing.T) {
		r, clock := newTestRegistry(time.Hour)
		_, _ = r.CreateOrRefresh(ctx, deviceA, "specific.one")
		clock.Advance(30 * time.Minute)
		_, _ = r.CreateOrRefresh(ctx, deviceB, "specific.two")
		clock.Advance(45 * time.Minute)

		if removed := r.Sweep(clock.Now()); removed != 1 {
			t.Fatalf("expected 1 removed, got %d", removed)
		}
		if _, err := r.Get(ctx, deviceB); err != nil {
			t.Fatalf("expected deviceB alive, got %v", err)
		}
	})

	t.Run("sweeper stops on cancel", func(t *testing.T) {
		r, _ := newTestRegistry(time.Hour)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- r.RunSweeper(ctx, time.Millisecond, nil) }()
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("sweeper did not stop")
		}
	})
}

func TestMemoryRegistryClaim(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		setup  func(r *MemoryRegistry)
		id     string
		alias  string
		mode   ClaimMode
		expect ClaimOutcome
	}{
		{
			name:   "session missing",
			setup:  func(r *MemoryRegistry) {},
			id:     deviceA,
			alias:  "marcus.linq",
			expect: ClaimSessionMissing,
		},
		{
			name: "accepted",
			setup: func(r *MemoryRegistry) {
				_, _ = r.CreateOrRefresh(ctx, deviceA, "specific.one")
			},
			id:     deviceA,
			alias:  "marcus.linq",
			expect: ClaimAccepted,
		},
		{
			name: "already yours",
			setup: func(r *MemoryRegistry) {
				_, _ = r.CreateOrRefresh(ctx, deviceA, "specific.one")
				_, _ = r.Claim(ctx, deviceA, "marcus.linq", ClaimReplace)
			},
			id:     deviceA,
			alias:  "marcus.linq",
			expect: ClaimAlreadyYours,
		},
		{
			name: "taken by another live session",
			setup: func(r *MemoryRegistry) {
				_, _ = r.CreateOrRefresh(ctx, deviceA, "specific.one")
				_, _ = r.CreateOrRefresh(ctx, deviceB, "specific.two")
				_, _ = r.Claim(ctx, deviceA, "marcus.linq", ClaimReplace)
			},
			id:     deviceB,
			alias:  "marcus.linq",
			expect: ClaimTaken,
		},
		{
			name: "already paired in unaliased mode",
			setup: func(r *MemoryRegistry) {
				_, _ = r.CreateOrRefresh(ctx, deviceA, "specific.one")
				_, _ = r.Claim(ctx, deviceA, "marcus.linq", ClaimReplace)
			},
			id:     deviceA,
			alias:  "other.linq",
			mode:   ClaimIfUnaliased,
			expect: ClaimAlreadyPaired,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := newTestRegistry(time.Hour)
			tc.setup(r)
			got, err := r.Claim(ctx, tc.id, tc.alias, tc.mode)
			if err != nil {
				t.Fatalf("claim: %v", err)
			}
			if got != tc.expect {
				t.Fatalf("expected %s, got %s", tc.expect, got)
			}
		})
	}

	t.Run("replace frees previous alias", func(t *testing.T) {
		r, _ := newTestRegistry(time.Hour)
		_, _ = r.CreateOrRefresh(ctx, deviceA, "specific.one")
		_, _ = r.Claim(ctx, deviceA, "first.linq", ClaimReplace)
		if outcome, _ := r.Claim(ctx, deviceA, "second.linq", ClaimReplace); outcome != ClaimAccepted {
			t.Fatalf("expected accepted, got %s", outcome)
		}
		if owner, _ := r.SessionOf(ctx, "first.linq"); owner != "" {
			t.Fatalf("expected first alias freed, owner=%q", owner)
		}
		if alias, _ := r.AliasOf(ctx, deviceA); alias != "second.linq" {
			t.Fatalf("expected second.linq, got %q", alias)
		}
	})

	t.Run("concurrent claims yield one owner", func(t *testing.T) {
		r, _ := newTestRegistry(time.Hour)
		_, _ = r.CreateOrRefresh(ctx, deviceA, "specific.one")
		_, _ = r.CreateOrRefresh(ctx, deviceB, "specific.two")

		var wg sync.WaitGroup
		results := make([]ClaimOutcome, 2)
		for i, id := range []string{deviceA, deviceB} {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				results[i], _ = r.Claim(ctx, id, "marcus.linq", ClaimReplace)
			}(i, id)
		}
		wg.Wait()

		accepted := 0
		for _, outcome := range results {
			switch outcome {
			case ClaimAccepted:
				accepted++
			case ClaimTaken:
			default:
				t.Fatalf("unexpected outcome %s", outcome)
			}
		}
		if accepted != 1 {
			t.Fatalf("expected exactly one accepted claim, got %d", accepted)
		}
	})
}

func TestMemoryRegistryDeleteIfAddress(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(time.Hour)
	_, _ = r.CreateOrRefresh(ctx, deviceA, "specific.old")
	_, _ = r.CreateOrRefresh(ctx, deviceA, "specific.new")

	removed, err := r.DeleteIfAddress(ctx, deviceA, "specific.old")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed {
		t.Fatalf("stale address must not delete the session")
	}
	if _, err := r.Get(ctx, deviceA); err != nil {
		t.Fatalf("expected session to survive, got %v", err)
	}

	removed, err = r.DeleteIfAddress(ctx, deviceA, "specific.new")
	if err != nil || !removed {
		t.Fatalf("expected removal by current address, removed=%v err=%v", removed, err)
	}
}
