package redis

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
)

func TestKeyLayout(t *testing.T) {
	s := New(nil, storage.Runtime{}, "")
	assert.Equal(t, "lockswap:obj:abc", s.objectKey("abc"))
	assert.Equal(t, "lockswap:kind:escrow", s.kindKey(ledger.KindEscrow))
	assert.Equal(t, "lockswap:owner:account:alice", s.ownerKey(ledger.AccountOwner("alice")))
	assert.Equal(t, "lockswap:owner:shared", s.ownerKey(ledger.SharedOwner()))

	custom := New(nil, storage.Runtime{}, "test")
	assert.Equal(t, "test:obj:abc", custom.objectKey("abc"))
}

func TestDecodeObjectRejectsGarbage(t *testing.T) {
	_, err := decodeObject([]byte("not-json"))
	require.Error(t, err)
}

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	prefix := "lockswap-test:" + t.Name()
	ctx := context.Background()
	keys, err := client.Keys(ctx, prefix+":*").Result()
	require.NoError(t, err)
	if len(keys) > 0 {
		require.NoError(t, client.Del(ctx, keys...).Err())
	}
	return New(client, storage.Runtime{}, prefix)
}

func TestStoreIntegration(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	var id ledger.ID
	_, err := s.Execute(ctx, "alice", func(tx storage.Tx) error {
		var err error
		if id, err = tx.NewID(); err != nil {
			return err
		}
		return tx.Create(ledger.Object{ID: id, Kind: ledger.KindItem, Owner: ledger.AccountOwner("alice")})
	})
	require.NoError(t, err)

	_, err = s.Execute(ctx, "alice", func(tx storage.Tx) error { return tx.Transfer(id, "bob") })
	require.NoError(t, err)

	owned, err := s.ListOwned(ctx, ledger.AccountOwner("bob"))
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, uint64(2), owned[0].Version)

	alice, err := s.ListOwned(ctx, ledger.AccountOwner("alice"))
	require.NoError(t, err)
	assert.Empty(t, alice)
}

func TestConcurrentDestroyHasOneWinner(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	var id ledger.ID
	_, err := s.Execute(ctx, "alice", func(tx storage.Tx) error {
		var err error
		if id, err = tx.NewID(); err != nil {
			return err
		}
		return tx.Create(ledger.Object{ID: id, Kind: ledger.KindKey, Owner: ledger.AccountOwner("alice")})
	})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		notFound int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Execute(ctx, "alice", func(tx storage.Tx) error { return tx.Destroy(id) })
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrConflict):
				notFound++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 7, notFound)
}
