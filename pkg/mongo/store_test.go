package mongo_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	driver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/sessionstate/pkg/kv"
	"github.com/dmitrymomot/sessionstate/pkg/kv/kvtest"
	"github.com/dmitrymomot/sessionstate/pkg/mongo"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// database skips the test when MONGODB_TEST_URL is unset and drops the
// database once the test finishes.
func database(t *testing.T) *driver.Database {
	t.Helper()

	url := os.Getenv("MONGODB_TEST_URL")
	if url == "" {
		t.Skip("MONGODB_TEST_URL is not set")
	}

	ctx := context.Background()
	client, err := mongo.New(ctx, mongo.Config{
		ConnectionURL:  url,
		ConnectTimeout: 5 * time.Second,
		MaxPoolSize:    10,
		RetryAttempts:  1,
		RetryWrites:    true,
		RetryReads:     true,
	})
	require.NoError(t, err)

	db := client.Database(fmt.Sprintf("sessionstate_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	return db
}

func TestMongoStore_Contract(t *testing.T) {
	db := database(t)
	c := &clock{now: time.Now()}

	kvtest.RunStoreContract(t, kvtest.Harness{
		New: func(t *testing.T) kv.Store {
			return mongo.NewStore(db, "", mongo.WithClock(c.Now))
		},
		Advance: func(t *testing.T, d time.Duration) { c.Advance(d) },
	})
}

func TestMongoStore_EnsureIndexes(t *testing.T) {
	db := database(t)
	store := mongo.NewStore(db, "indexed")
	ctx := context.Background()

	require.NoError(t, store.EnsureIndexes(ctx))
	require.NoError(t, store.EnsureIndexes(ctx), "index creation must be idempotent")

	specs, err := store.Collection().Indexes().ListSpecifications(ctx)
	require.NoError(t, err)

	var found bool
	for _, spec := range specs {
		if spec.Name == "expires_at_ttl" {
			found = true
			require.NotNil(t, spec.ExpireAfterSeconds)
			assert.Equal(t, int32(0), *spec.ExpireAfterSeconds)
		}
	}
	assert.True(t, found)
}

func TestMongoStore_InsertTakesOverExpired(t *testing.T) {
	db := database(t)
	c := &clock{now: time.Now()}
	store := mongo.NewStore(db, "takeover", mongo.WithClock(c.Now))
	ctx := context.Background()

	v1, err := store.Insert(ctx, "k", []byte("old"), time.Second)
	require.NoError(t, err)

	c.Advance(time.Minute)
	v2, err := store.Insert(ctx, "k", []byte("new"), time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	item, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), item.Value)
}

func TestHealthcheck(t *testing.T) {
	db := database(t)
	assert.NoError(t, mongo.Healthcheck(db.Client())(context.Background()))
}
