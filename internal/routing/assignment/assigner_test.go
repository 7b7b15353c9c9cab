package assignment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/ports"
	"inbox_routing_backend/internal/routing/routingtest"
	"inbox_routing_backend/platform/apperr"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func handlers(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func TestNext(t *testing.T) {
	pool := handlers(3)
	stranger := uuid.New()

	if got := Next(nil, pool); got != pool[0] {
		t.Fatal("no previous must start at the first handler")
	}
	if got := Next(&pool[0], pool); got != pool[1] {
		t.Fatal("must advance to the following handler")
	}
	if got := Next(&pool[2], pool); got != pool[0] {
		t.Fatal("must wrap around")
	}
	if got := Next(&stranger, pool); got != pool[0] {
		t.Fatal("unknown previous must reset to the first handler")
	}
}

func TestAssignIsFairInListOrder(t *testing.T) {
	ctx := context.Background()
	a := New(NewMemoryStore(), nil)
	tenant, channel := uuid.New(), uuid.New()
	pool := handlers(4)

	for round := 0; round < 2; round++ {
		for i, want := range pool {
			got, err := a.Assign(ctx, tenant, channel, pool)
			if err != nil {
				t.Fatalf("assign: %v", err)
			}
			if got != want {
				t.Fatalf("round %d pick %d = %s, want %s", round, i, got, want)
			}
		}
	}
}

func TestAssignStartsAfterRecordedMarker(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenant, channel := uuid.New(), uuid.New()
	pool := handlers(3)
	_ = store.ResetMarker(ctx, domain.Marker{TenantID: tenant, ChannelID: channel, HandlerID: pool[1]})

	got, err := New(store, nil).Assign(ctx, tenant, channel, pool)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got != pool[2] {
		t.Fatal("rotation must continue after the recorded handler")
	}
}

func TestAssignResetsWhenPreviousLeavesPool(t *testing.T) {
	ctx := context.Background()
	a := New(NewMemoryStore(), nil)
	tenant, channel := uuid.New(), uuid.New()
	pool := handlers(3)

	if _, err := a.Assign(ctx, tenant, channel, pool); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Assign(ctx, tenant, channel, pool); err != nil {
		t.Fatal(err)
	}
	// pool[1] was last picked; remove it.
	shrunk := []uuid.UUID{pool[0], pool[2]}
	got, err := a.Assign(ctx, tenant, channel, shrunk)
	if err != nil {
		t.Fatal(err)
	}
	if got != pool[0] {
		t.Fatalf("expected reset to first handler, got neighbour")
	}
}

func TestAssignScopesMarkersPerTenantAndChannel(t *testing.T) {
	ctx := context.Background()
	a := New(NewMemoryStore(), nil)
	pool := handlers(2)
	tenantA, tenantB, channel := uuid.New(), uuid.New(), uuid.New()

	first, _ := a.Assign(ctx, tenantA, channel, pool)
	second, _ := a.Assign(ctx, tenantB, channel, pool)
	if first != pool[0] || second != pool[0] {
		t.Fatal("each tenant must have its own rotation")
	}
	other, _ := a.Assign(ctx, tenantA, uuid.New(), pool)
	if other != pool[0] {
		t.Fatal("each channel must have its own rotation")
	}
}

func TestAssignEmptyPool(t *testing.T) {
	_, err := New(NewMemoryStore(), nil).Assign(context.Background(), uuid.New(), uuid.New(), nil)
	if !errors.Is(err, domain.ErrNoEligibleHandlers) {
		t.Fatalf("expected ErrNoEligibleHandlers, got %v", err)
	}
}

func TestAssignConcurrentPicksAreDistinct(t *testing.T) {
	ctx := context.Background()
	a := New(NewMemoryStore(), nil, WithMaxAttempts(1000))
	tenant, channel := uuid.New(), uuid.New()
	pool := handlers(8)

	var mu sync.Mutex
	seen := make(map[uuid.UUID]int)
	var wg sync.WaitGroup
	for i := 0; i < len(pool); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := a.Assign(ctx, tenant, channel, pool)
			if err != nil {
				t.Errorf("assign: %v", err)
				return
			}
			mu.Lock()
			seen[got]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != len(pool) {
		t.Fatalf("expected %d distinct handlers, got %d", len(pool), len(seen))
	}
}

type contendedStore struct {
	*MemoryStore
}

func (contendedStore) CompareAndSwapMarker(context.Context, uuid.UUID, uuid.UUID, *uuid.UUID, uuid.UUID, time.Time) (bool, error) {
	return false, nil
}

func TestAssignGivesUpUnderContention(t *testing.T) {
	a := New(contendedStore{NewMemoryStore()}, nil, WithMaxAttempts(3))
	_, err := a.Assign(context.Background(), uuid.New(), uuid.New(), handlers(2))
	if !apperr.Is(err, apperr.KindTransactionFailed) {
		t.Fatalf("expected transaction failure, got %v", err)
	}
}

func TestRedisStoreRotation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	a := New(NewRedisStore(client), nil, WithClock(func() time.Time { return at }))
	tenant, channel := uuid.New(), uuid.New()
	pool := handlers(3)

	for i := 0; i < 4; i++ {
		got, err := a.Assign(ctx, tenant, channel, pool)
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
		if want := pool[i%3]; got != want {
			t.Fatalf("pick %d = %s, want %s", i, got, want)
		}
	}

	marker, err := NewRedisStore(client).GetMarker(ctx, tenant, channel)
	if err != nil || marker == nil {
		t.Fatalf("marker missing: %v", err)
	}
	if marker.HandlerID != pool[0] || !marker.AssignedAt.Equal(at) {
		t.Fatalf("unexpected marker %+v", marker)
	}
}

func TestRedisStoreCompareAndSwap(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewRedisStore(client)
	tenant, channel := uuid.New(), uuid.New()
	first, second := uuid.New(), uuid.New()
	now := time.Now()

	ok, err := store.CompareAndSwapMarker(ctx, tenant, channel, nil, first, now)
	if err != nil || !ok {
		t.Fatalf("initial swap: ok=%v err=%v", ok, err)
	}
	ok, _ = store.CompareAndSwapMarker(ctx, tenant, channel, nil, second, now)
	if ok {
		t.Fatal("absent expectation must fail once a marker exists")
	}
	ok, _ = store.CompareAndSwapMarker(ctx, tenant, channel, &second, first, now)
	if ok {
		t.Fatal("stale expectation must fail")
	}
	ok, _ = store.CompareAndSwapMarker(ctx, tenant, channel, &first, second, now)
	if !ok {
		t.Fatal("matching expectation must succeed")
	}
}

func TestAssignInTxRevertsMarkerOnRollback(t *testing.T) {
	ctx := context.Background()
	store := routingtest.NewMemory()
	markers := NewMemoryStore()
	a := New(markers, nil)
	tenant, channel := uuid.New(), uuid.New()
	pool := handlers(3)

	if _, err := a.Assign(ctx, tenant, channel, pool); err != nil {
		t.Fatalf("assign: %v", err)
	}

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx ports.Store) error {
		got, err := a.AssignInTx(ctx, tx, tenant, channel, pool)
		if err != nil {
			return err
		}
		if got != pool[1] {
			t.Fatalf("pick in tx = %s, want second handler", got)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}

	marker, _ := markers.GetMarker(ctx, tenant, channel)
	if marker == nil || marker.HandlerID != pool[0] {
		t.Fatalf("marker = %+v, want first handler restored", marker)
	}
	if got, _ := a.Assign(ctx, tenant, channel, pool); got != pool[1] {
		t.Fatalf("next pick = %s, want second handler", got)
	}
}

func TestAssignInTxRollbackOnFreshChannelClearsMarker(t *testing.T) {
	ctx := context.Background()
	store := routingtest.NewMemory()
	store.FailCommit = true
	markers := NewMemoryStore()
	a := New(markers, nil)
	tenant, channel := uuid.New(), uuid.New()
	pool := handlers(2)

	err := store.WithinTx(ctx, func(tx ports.Store) error {
		_, err := a.AssignInTx(ctx, tx, tenant, channel, pool)
		return err
	})
	if !apperr.Is(err, apperr.KindTransactionFailed) {
		t.Fatalf("err = %v, want transaction failure", err)
	}
	if marker, _ := markers.GetMarker(ctx, tenant, channel); marker != nil {
		t.Fatalf("marker = %+v, want none", marker)
	}
}

func TestAssignInTxKeepsMarkerMovedByLaterPick(t *testing.T) {
	ctx := context.Background()
	store := routingtest.NewMemory()
	markers := NewMemoryStore()
	a := New(markers, nil)
	tenant, channel := uuid.New(), uuid.New()
	pool := handlers(3)

	_ = store.WithinTx(ctx, func(tx ports.Store) error {
		if _, err := a.AssignInTx(ctx, tx, tenant, channel, pool); err != nil {
			return err
		}
		if _, err := a.Assign(ctx, tenant, channel, pool); err != nil {
			return err
		}
		return errors.New("boom")
	})

	marker, _ := markers.GetMarker(ctx, tenant, channel)
	if marker == nil || marker.HandlerID != pool[1] {
		t.Fatalf("marker = %+v, want the later pick kept", marker)
	}
}

func TestRedisStoreRevertMarker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewRedisStore(client)
	tenant, channel := uuid.New(), uuid.New()
	first, second := uuid.New(), uuid.New()
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	if ok, err := store.CompareAndSwapMarker(ctx, tenant, channel, nil, first, at); err != nil || !ok {
		t.Fatalf("initial swap: ok=%v err=%v", ok, err)
	}
	previous, _ := store.GetMarker(ctx, tenant, channel)
	if ok, _ := store.CompareAndSwapMarker(ctx, tenant, channel, &first, second, at.Add(time.Minute)); !ok {
		t.Fatal("swap to second failed")
	}

	if ok, _ := store.RevertMarker(ctx, tenant, channel, first, previous); ok {
		t.Fatal("revert from a handler the marker no longer holds must fail")
	}
	ok, err := store.RevertMarker(ctx, tenant, channel, second, previous)
	if err != nil || !ok {
		t.Fatalf("revert: ok=%v err=%v", ok, err)
	}
	marker, _ := store.GetMarker(ctx, tenant, channel)
	if marker == nil || marker.HandlerID != first || !marker.AssignedAt.Equal(at) {
		t.Fatalf("marker = %+v, want first restored", marker)
	}

	if ok, _ := store.RevertMarker(ctx, tenant, channel, first, nil); !ok {
		t.Fatal("revert to nothing must succeed")
	}
	if marker, _ := store.GetMarker(ctx, tenant, channel); marker != nil {
		t.Fatalf("marker = %+v, want none", marker)
	}
}
