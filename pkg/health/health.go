// Package health aggregates component checks into one status for /health.
package health

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/NikhilSetiya/servermon/pkg/logging"
)

// Status of one component or of the whole service
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check is the outcome of one checker run
type Check struct {
	Name      string            `json:"name"`
	Status    Status            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// HealthResponse is the /health body
type HealthResponse struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Duration  time.Duration     `json:"duration"`
	Checks    map[string]*Check `json:"checks"`
}

// Checker reports the state of one component
type Checker interface {
	Check(ctx context.Context) *Check
}

// probe is the body of a checker; the wrapper fills in name and timing.
type probe func(ctx context.Context) (Status, string, map[string]string, error)

type checker struct {
	name  string
	probe probe
}

func (c checker) Check(ctx context.Context) *Check {
	start := time.Now()
	status, message, metadata, err := c.probe(ctx)
	check := &Check{
		Name:      c.name,
		Status:    status,
		Message:   message,
		Metadata:  metadata,
		Timestamp: start,
		Duration:  time.Since(start),
	}
	if err != nil {
		check.Error = err.Error()
		if check.Status == "" {
			check.Status = StatusUnhealthy
		}
	}
	return check
}

// Service runs registered checkers concurrently
type Service struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	logger   *logging.Logger
	timeout  time.Duration
}

// NewService creates a health service. A zero timeout means five seconds.
func NewService(logger *logging.Logger, timeout time.Duration) *Service {
	if logger == nil {
		logger = logging.GetLogger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{checkers: make(map[string]Checker), logger: logger, timeout: timeout}
}

// RegisterChecker adds or replaces the checker for name
func (s *Service) RegisterChecker(name string, c Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = c
}

// CheckHealth runs every checker. One unhealthy component makes the service
// unhealthy; a degraded one only degrades it.
func (s *Service) CheckHealth(ctx context.Context) *HealthResponse {
	start := time.Now()

	s.mu.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, c := range s.checkers {
		checkers[name] = c
	}
	s.mu.RUnlock()

	resp := &HealthResponse{Status: StatusHealthy, Checks: make(map[string]*Check, len(checkers))}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, c := range checkers {
		wg.Add(1)
		go func(name string, c Checker) {
			defer wg.Done()
			check := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			resp.Checks[name] = check
			switch check.Status {
			case StatusUnhealthy:
				resp.Status = StatusUnhealthy
				s.logger.Warn("Health check failed", "check", name, "error", check.Error)
			case StatusDegraded:
				if resp.Status == StatusHealthy {
					resp.Status = StatusDegraded
				}
			}
		}(name, c)
	}
	wg.Wait()

	resp.Timestamp = time.Now()
	resp.Duration = time.Since(start)
	return resp
}

// Handler serves /health. Only unhealthy answers 503.
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
		defer cancel()

		resp := s.CheckHealth(ctx)
		code := http.StatusOK
		if resp.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	}
}

// LivenessHandler answers 200 while the process serves requests
func (s *Service) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive", "timestamp": time.Now()})
	}
}

// Database is satisfied by *database.DB
type Database interface {
	Health(ctx context.Context) error
	Stats() sql.DBStats
}

// NewDatabaseChecker pings the sample and alert store. More than 80% of a
// bounded pool in use reports degraded.
func NewDatabaseChecker(db Database, name string) Checker {
	return checker{name: name, probe: func(ctx context.Context) (Status, string, map[string]string, error) {
		if db == nil {
			return StatusUnhealthy, "", nil, errNilClient("database")
		}
		if err := db.Health(ctx); err != nil {
			return StatusUnhealthy, "", nil, err
		}

		stats := db.Stats()
		metadata := map[string]string{
			"open_connections": strconv.Itoa(stats.OpenConnections),
			"in_use":           strconv.Itoa(stats.InUse),
			"idle_connections": strconv.Itoa(stats.Idle),
			"max_connections":  strconv.Itoa(stats.MaxOpenConnections),
		}
		if stats.MaxOpenConnections > 0 && stats.InUse*5 > stats.MaxOpenConnections*4 {
			return StatusDegraded, "database connection pool is running low", metadata, nil
		}
		return StatusHealthy, "database is healthy", metadata, nil
	}}
}

// Redis is satisfied by *redis.Client
type Redis interface {
	Ping(ctx context.Context) *redis.StatusCmd
	PoolStats() *redis.PoolStats
}

// NewRedisChecker pings Redis. Redis only backs the sample cache and
// pub/sub, so any failure reports degraded.
func NewRedisChecker(client Redis, name string) Checker {
	return checker{name: name, probe: func(ctx context.Context) (Status, string, map[string]string, error) {
		if client == nil {
			return StatusDegraded, "", nil, errNilClient("redis")
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return StatusDegraded, "", nil, err
		}
		stats := client.PoolStats()
		return StatusHealthy, "redis is healthy", map[string]string{
			"total_connections": strconv.FormatUint(uint64(stats.TotalConns), 10),
			"idle_connections":  strconv.FormatUint(uint64(stats.IdleConns), 10),
		}, nil
	}}
}

// NewCustomChecker wraps fn. An error without a status counts as unhealthy.
func NewCustomChecker(name string, fn func(ctx context.Context) (Status, string, error)) Checker {
	return checker{name: name, probe: func(ctx context.Context) (Status, string, map[string]string, error) {
		status, message, err := fn(ctx)
		return status, message, nil, err
	}}
}

type errNilClient string

func (e errNilClient) Error() string { return string(e) + " connection is nil" }
