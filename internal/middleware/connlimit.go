package middleware

import (
	"context"
	"log"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ConnLimiter wraps a net.Listener to limit concurrent connections
type ConnLimiter struct {
	net.Listener
	maxConnections int64
	currentConns   int64
	totalAccepted  int64
	totalRejected  int64
	sem            *semaphore.Weighted
}

// NewConnLimiter creates a connection-limited listener
func NewConnLimiter(listener net.Listener, maxConnections int) *ConnLimiter {
	if maxConnections <= 0 {
		maxConnections = 1000 // Default to 1000 concurrent connections
	}

	log.Printf("Connection limiter configured: max connections=%d", maxConnections)

	return &ConnLimiter{
		Listener:       listener,
		maxConnections: int64(maxConnections),
		sem:            semaphore.NewWeighted(int64(maxConnections)),
	}
}

// Accept waits for and returns the next connection, respecting the limit
func (cl *ConnLimiter) Accept() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cl.sem.Acquire(ctx, 1); err != nil {
		// Timed out waiting for a slot, but we still need to accept the connection to reject it properly
		conn, err := cl.Listener.Accept()
		if err != nil {
			return nil, err
		}
		// Close the connection immediately - we're at capacity
		atomic.AddInt64(&cl.totalRejected, 1)
		conn.Close()
		return cl.Accept() // Try again
	}

	conn, err := cl.Listener.Accept()
	if err != nil {
		cl.sem.Release(1)
		return nil, err
	}

	atomic.AddInt64(&cl.currentConns, 1)
	atomic.AddInt64(&cl.totalAccepted, 1)

	return &limitedConn{
		Conn:    conn,
		limiter: cl,
	}, nil
}

// Stats returns connection limiter statistics
func (cl *ConnLimiter) Stats() map[string]int64 {
	return map[string]int64{
		"current":  atomic.LoadInt64(&cl.currentConns),
		"max":      cl.maxConnections,
		"accepted": atomic.LoadInt64(&cl.totalAccepted),
		"rejected": atomic.LoadInt64(&cl.totalRejected),
	}
}

// CurrentConnections returns the current number of active connections
func (cl *ConnLimiter) CurrentConnections() int64 {
	return atomic.LoadInt64(&cl.currentConns)
}

// limitedConn wraps a net.Conn to track when it's closed
type limitedConn struct {
	net.Conn
	limiter *ConnLimiter
	closed  int32
}

// Close releases the connection slot back to the limiter
func (c *limitedConn) Close() error {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		atomic.AddInt64(&c.limiter.currentConns, -1)
		c.limiter.sem.Release(1)
	}
	return c.Conn.Close()
}

// DefaultMaxConnections returns the default max connections from the
// MAX_CONNECTIONS environment variable (1000 when unset). The server does
// not call it: cmd/server takes the accept-side bound from
// gateway.max_concurrent_conns in the config.
func DefaultMaxConnections() int {
	return getEnvInt("MAX_CONNECTIONS", 1000)
}

// getEnvInt gets an int from an environment variable or returns a default.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("Warning: invalid value for %s, using default %d", key, defaultVal)
		return defaultVal
	}
	return i
}
