package registry

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/models"
)

func createCachedRegistry(t *testing.T) (*CachedRegistry, sqlmock.Sqlmock, *miniredis.Miniredis) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := NewPostgres(db, logger.NewTestLogger(t))
	return NewCached(store, rdb, logger.NewTestLogger(t)), mock, mr
}

func TestCachedRegistry_EmptySelectorHitsCacheSecondTime(t *testing.T) {
	reg, mock, mr := createCachedRegistry(t)
	rows, _ := subscriberRows(t)

	// only one store query expected for two lookups
	mock.ExpectQuery(`WHERE status = \$1 ORDER BY created_at`).
		WithArgs(models.StatusActive).
		WillReturnRows(rows)

	first, err := reg.FindActiveBySelector(context.Background(), models.Selector{})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, mr.Exists(activeSetKey))

	second, err := reg.FindActiveBySelector(context.Background(), models.Selector{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedRegistry_FilteredSelectorBypassesCache(t *testing.T) {
	reg, mock, mr := createCachedRegistry(t)
	rows, _ := subscriberRows(t)

	mock.ExpectQuery(`AND tags && \$2`).
		WillReturnRows(rows)

	_, err := reg.FindActiveBySelector(context.Background(), models.Selector{Tags: []string{"news"}})
	require.NoError(t, err)
	assert.False(t, mr.Exists(activeSetKey))
}

func TestCachedRegistry_WritesInvalidateSnapshot(t *testing.T) {
	reg, mock, mr := createCachedRegistry(t)

	require.NoError(t, mr.Set(activeSetKey, "[]"))

	mock.ExpectExec(`UPDATE subscriptions SET status = \$2 WHERE id = \$1`).
		WithArgs("sub-1", models.StatusInactive).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, reg.SetStatus(context.Background(), "sub-1", models.StatusInactive))
	assert.False(t, mr.Exists(activeSetKey))
}

func TestCachedRegistry_UnsubscribeIssuesExactlyOneDel(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rdb, redisMock := redismock.NewClientMock()
	reg := NewCached(NewPostgres(db, logger.NewNoOpLogger()), rdb, logger.NewNoOpLogger())

	mock.ExpectExec(`WHERE endpoint = \$1`).
		WithArgs("https://push.example.com/send/abc", models.StatusUnsubscribed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	redisMock.ExpectDel(activeSetKey).SetVal(1)

	require.NoError(t, reg.Unsubscribe(context.Background(), "https://push.example.com/send/abc"))
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestCachedRegistry_CorruptEntryFallsBackToStore(t *testing.T) {
	reg, mock, mr := createCachedRegistry(t)
	rows, _ := subscriberRows(t)

	require.NoError(t, mr.Set(activeSetKey, "{not json"))

	mock.ExpectQuery(`WHERE status = \$1 ORDER BY created_at`).
		WithArgs(models.StatusActive).
		WillReturnRows(rows)

	subs, err := reg.FindActiveBySelector(context.Background(), models.Selector{})
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestCachedRegistry_RedisDownDegradesToStore(t *testing.T) {
	reg, mock, mr := createCachedRegistry(t)
	rows, _ := subscriberRows(t)
	mr.Close()

	mock.ExpectQuery(`WHERE status = \$1 ORDER BY created_at`).
		WithArgs(models.StatusActive).
		WillReturnRows(rows)

	subs, err := reg.FindActiveBySelector(context.Background(), models.Selector{})
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}
