package postgres

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vuittont60/scope/internal/solana"
	"github.com/vuittont60/scope/internal/storage"
)

func testAddr(b byte) solana.Pubkey {
	var pk solana.Pubkey
	pk[0] = b
	pk[31] = b
	return pk
}

func TestAccountStore_PutAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewAccountStore(pool)
	ctx := context.Background()

	info := &solana.AccountInfo{
		Lamports:   1_000_000,
		Owner:      testAddr(9),
		Data:       []byte{1, 2, 3},
		Executable: true,
		RentEpoch:  7,
	}
	require.NoError(t, store.Put(ctx, testAddr(1), info))

	got, err := store.Get(ctx, testAddr(1))
	require.NoError(t, err)
	assert.Equal(t, info.Lamports, got.Lamports)
	assert.Equal(t, info.Owner, got.Owner)
	assert.Equal(t, info.Data, got.Data)
	assert.True(t, got.Executable)
	assert.Equal(t, uint64(7), got.RentEpoch)

	// Put replaces
	info.Data = []byte{4}
	require.NoError(t, store.Put(ctx, testAddr(1), info))
	got, err = store.Get(ctx, testAddr(1))
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, got.Data)
}

func TestAccountStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewAccountStore(pool)
	ctx := context.Background()

	_, err := store.Get(ctx, testAddr(1))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Put(ctx, testAddr(2), &solana.AccountInfo{Owner: testAddr(9)}))

	many, err := store.GetMany(ctx, []solana.Pubkey{testAddr(1), testAddr(2)})
	require.NoError(t, err)
	require.Len(t, many, 2)
	assert.Nil(t, many[0])
	require.NotNil(t, many[1])
	assert.Equal(t, testAddr(9), many[1].Owner)
}

func TestAccountStore_UpdateAtomic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewAccountStore(pool)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, testAddr(1), &solana.AccountInfo{Owner: testAddr(9), Data: []byte{0}}))

	boom := errors.New("boom")
	err := store.Update(ctx, []solana.Pubkey{testAddr(1), testAddr(2)}, func(loaded storage.AccountWrites) (storage.AccountWrites, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	err = store.Update(ctx, []solana.Pubkey{testAddr(2), testAddr(1)}, func(loaded storage.AccountWrites) (storage.AccountWrites, error) {
		require.Contains(t, loaded, testAddr(1))
		require.NotContains(t, loaded, testAddr(2))
		a := loaded[testAddr(1)]
		a.Data = []byte{5}
		return storage.AccountWrites{
			testAddr(1): a,
			testAddr(2): {Owner: testAddr(9), Data: []byte{6}},
		}, nil
	})
	require.NoError(t, err)

	many, err := store.GetMany(ctx, []solana.Pubkey{testAddr(1), testAddr(2)})
	require.NoError(t, err)
	assert.Equal(t, []byte{5}, many[0].Data)
	assert.Equal(t, []byte{6}, many[1].Data)

	// Writes outside the locked set roll back the whole update
	err = store.Update(ctx, []solana.Pubkey{testAddr(1)}, func(loaded storage.AccountWrites) (storage.AccountWrites, error) {
		return storage.AccountWrites{
			testAddr(1): {Owner: testAddr(9), Data: []byte{9}},
			testAddr(3): {Owner: testAddr(9)},
		}, nil
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	got, err := store.Get(ctx, testAddr(1))
	require.NoError(t, err)
	assert.Equal(t, []byte{5}, got.Data)
}

func TestAccountStore_ConcurrentUpdates(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewAccountStore(pool)
	ctx := context.Background()

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				err := store.Update(ctx, []solana.Pubkey{testAddr(1)}, func(loaded storage.AccountWrites) (storage.AccountWrites, error) {
					a, ok := loaded[testAddr(1)]
					if !ok {
						a = &solana.AccountInfo{Owner: testAddr(9), Data: make([]byte, 8)}
					}
					n := binary.LittleEndian.Uint64(a.Data)
					binary.LittleEndian.PutUint64(a.Data, n+1)
					return storage.AccountWrites{testAddr(1): a}, nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, testAddr(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(workers*perWorker), binary.LittleEndian.Uint64(got.Data))
}
