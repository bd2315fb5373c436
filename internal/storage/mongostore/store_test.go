package mongostore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"studyhub/internal/presence"
	"studyhub/internal/stats"
)

// newTestStore connects to STUDYHUB_TEST_MONGO_URI and drops its scratch
// database afterwards. Tests are skipped when the variable is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("STUDYHUB_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("STUDYHUB_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := Connect(ctx, uri, "studyhub_test_"+primitive.NewObjectID().Hex())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = store.db.Drop(ctx)
		_ = store.Close(ctx)
	})
	return store
}

func TestToDocRoundTripsCounters(t *testing.T) {
	day := time.Date(2024, time.May, 13, 0, 0, 0, 0, time.UTC)
	oid := primitive.NewObjectID()
	rec := stats.Record{ID: oid.Hex(), Total: 9, Today: stats.Today{Total: 2, Date: day}, Week: 4, Month: 6}

	doc := toDoc(rec)
	doc.ID = oid

	assert.Equal(t, rec, fromDoc(doc))
}

func TestUpdateWithForeignIDIsNotFound(t *testing.T) {
	store := &Store{}
	_, err := store.UpdateStatistics(context.Background(), stats.Record{ID: "42"})
	assert.True(t, errors.Is(err, stats.ErrNotFound))
}

func TestGetUserByNonObjectIDIsUnknown(t *testing.T) {
	store := &Store{}
	user, err := store.GetUserByID(context.Background(), "not-an-object-id")
	assert.NoError(t, err)
	assert.Nil(t, user)
}

func TestConnectFailsWhenServerUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store, err := Connect(ctx, "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200&connectTimeoutMS=200", "studyhub_test")
	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateUser(ctx, presence.User{Name: "Alice", UserCode: "S001", Role: "student"})
	require.NoError(t, err)

	user, err := store.GetUserByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, "S001", user.UserCode)

	missing, err := store.GetUserByID(ctx, primitive.NewObjectID().Hex())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStatistics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	empty, err := store.ReadStatistics(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)

	day := time.Date(2024, time.May, 13, 0, 0, 0, 0, time.UTC)
	created, err := store.CreateStatistics(ctx, stats.Record{Today: stats.Today{Date: day}})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	created.Total, created.Week = 3, 2
	updated, err := store.UpdateStatistics(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated.Total)

	got, err := store.ReadStatistics(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, int64(2), got.Week)
	assert.True(t, got.Today.Date.Equal(day))

	_, err = store.UpdateStatistics(ctx, stats.Record{ID: primitive.NewObjectID().Hex()})
	assert.ErrorIs(t, err, stats.ErrNotFound)
}
