package memory

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/vuittont60/scope/internal/solana"
	"github.com/vuittont60/scope/internal/storage"
)

func addr(b byte) solana.Pubkey {
	var pk solana.Pubkey
	pk[0] = b
	return pk
}

func TestAccountStore_PutAndGet(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()

	info := &solana.AccountInfo{Lamports: 10, Owner: addr(9), Data: []byte{1, 2}}
	if err := store.Put(ctx, addr(1), info); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, addr(1))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Lamports != 10 || got.Owner != addr(9) || len(got.Data) != 2 {
		t.Errorf("unexpected account: %+v", got)
	}

	// Returned copies must not alias stored data
	got.Data[0] = 99
	again, _ := store.Get(ctx, addr(1))
	if again.Data[0] != 1 {
		t.Error("Get returned aliased data")
	}
}

func TestAccountStore_NotFound(t *testing.T) {
	store := NewAccountStore()

	_, err := store.Get(context.Background(), addr(1))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	many, err := store.GetMany(context.Background(), []solana.Pubkey{addr(1), addr(2)})
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}
	if many[0] != nil || many[1] != nil {
		t.Errorf("expected nil entries, got %+v", many)
	}
}

func TestAccountStore_UpdateCommitsAll(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()
	store.Put(ctx, addr(1), &solana.AccountInfo{Data: []byte{0}})

	err := store.Update(ctx, []solana.Pubkey{addr(1), addr(2)}, func(loaded storage.AccountWrites) (storage.AccountWrites, error) {
		if _, ok := loaded[addr(2)]; ok {
			t.Error("missing account must not be loaded")
		}
		a := loaded[addr(1)]
		a.Data[0] = 7
		return storage.AccountWrites{
			addr(1): a,
			addr(2): {Lamports: 1, Data: []byte{8}},
		}, nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	a, _ := store.Get(ctx, addr(1))
	b, _ := store.Get(ctx, addr(2))
	if a.Data[0] != 7 || b == nil || b.Data[0] != 8 {
		t.Errorf("writes not committed: %+v %+v", a, b)
	}
}

func TestAccountStore_UpdateFailureWritesNothing(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()
	store.Put(ctx, addr(1), &solana.AccountInfo{Data: []byte{0}})

	boom := errors.New("boom")
	err := store.Update(ctx, []solana.Pubkey{addr(1)}, func(loaded storage.AccountWrites) (storage.AccountWrites, error) {
		loaded[addr(1)].Data[0] = 5
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	a, _ := store.Get(ctx, addr(1))
	if a.Data[0] != 0 {
		t.Errorf("failed update leaked a write: %v", a.Data)
	}
}

func TestAccountStore_UpdateRejectsUnlockedWrite(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()

	err := store.Update(ctx, []solana.Pubkey{addr(1)}, func(storage.AccountWrites) (storage.AccountWrites, error) {
		return storage.AccountWrites{addr(2): {Data: []byte{1}}}, nil
	})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := store.Get(ctx, addr(2)); !errors.Is(err, storage.ErrNotFound) {
		t.Error("unlocked account must not be written")
	}
}

func TestAccountStore_ConcurrentUpdatesSerialize(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()
	store.Put(ctx, addr(1), &solana.AccountInfo{Data: make([]byte, 8)})

	const workers = 20
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			// Alternate lock order in the request; the store sorts it
			keys := []solana.Pubkey{addr(1), addr(byte(2 + w%2))}
			if w%2 == 0 {
				keys[0], keys[1] = keys[1], keys[0]
			}
			for i := 0; i < perWorker; i++ {
				err := store.Update(ctx, keys, func(loaded storage.AccountWrites) (storage.AccountWrites, error) {
					a := loaded[addr(1)]
					n := binary.LittleEndian.Uint64(a.Data)
					binary.LittleEndian.PutUint64(a.Data, n+1)
					return storage.AccountWrites{addr(1): a}, nil
				})
				if err != nil {
					t.Errorf("Update failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	a, _ := store.Get(ctx, addr(1))
	if got := binary.LittleEndian.Uint64(a.Data); got != workers*perWorker {
		t.Errorf("lost updates: got %d, want %d", got, workers*perWorker)
	}
}

func TestAccountStore_UpdateCancelledContext(t *testing.T) {
	store := NewAccountStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.Update(ctx, []solana.Pubkey{addr(1)}, func(storage.AccountWrites) (storage.AccountWrites, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("fn must not run on a cancelled context")
	}
}
