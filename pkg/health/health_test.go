package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct {
	err   error
	stats sql.DBStats
}

func (f fakeDB) Health(context.Context) error { return f.err }
func (f fakeDB) Stats() sql.DBStats           { return f.stats }

type fakeRedis struct{ err error }

func (f fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal("PONG")
	}
	return cmd
}

func (f fakeRedis) PoolStats() *redis.PoolStats { return &redis.PoolStats{TotalConns: 2, IdleConns: 1} }

func serve(t *testing.T, s *Service) (int, HealthResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", s.Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestService_AllHealthy(t *testing.T) {
	s := NewService(nil, 0)
	s.RegisterChecker("database", NewDatabaseChecker(fakeDB{stats: sql.DBStats{MaxOpenConnections: 10, OpenConnections: 1}}, "database"))
	s.RegisterChecker("redis", NewRedisChecker(fakeRedis{}, "redis"))

	code, body := serve(t, s)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, body.Status)
	assert.Equal(t, "2", body.Checks["redis"].Metadata["total_connections"])
}

func TestService_DatabaseDownIsUnhealthy(t *testing.T) {
	s := NewService(nil, 0)
	s.RegisterChecker("database", NewDatabaseChecker(fakeDB{err: errors.New("connection refused")}, "database"))
	s.RegisterChecker("redis", NewRedisChecker(fakeRedis{}, "redis"))

	code, body := serve(t, s)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, body.Status)
	assert.Equal(t, "connection refused", body.Checks["database"].Error)
}

func TestService_RedisDownIsDegraded(t *testing.T) {
	s := NewService(nil, 0)
	s.RegisterChecker("database", NewDatabaseChecker(fakeDB{}, "database"))
	s.RegisterChecker("redis", NewRedisChecker(fakeRedis{err: errors.New("i/o timeout")}, "redis"))

	code, body := serve(t, s)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, body.Status)
	assert.Equal(t, StatusDegraded, body.Checks["redis"].Status)
}

func TestDatabaseChecker_PoolPressure(t *testing.T) {
	check := NewDatabaseChecker(fakeDB{stats: sql.DBStats{MaxOpenConnections: 10, InUse: 9}}, "database").
		Check(context.Background())
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Equal(t, "9", check.Metadata["in_use"])

	// Exactly 80% in use, or an unbounded pool, is still healthy.
	check = NewDatabaseChecker(fakeDB{stats: sql.DBStats{MaxOpenConnections: 10, InUse: 8}}, "database").
		Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
	check = NewDatabaseChecker(fakeDB{stats: sql.DBStats{InUse: 50}}, "database").Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)

	check = NewDatabaseChecker(nil, "database").Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Equal(t, "database connection is nil", check.Error)
}

func TestCustomChecker(t *testing.T) {
	check := NewCustomChecker("scheduler", func(context.Context) (Status, string, error) {
		return "", "", errors.New("not running")
	}).Check(context.Background())

	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Equal(t, "not running", check.Error)
}
