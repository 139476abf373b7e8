// Package redistest implements support code for testing with Redis.
package redistest

import (
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/google/uuid"
)

// RedisCredentials holds the credentials for connecting to Redis.
type RedisCredentials struct {
	Username string
	Password string
	IP       string
}

// GetCredentials gets the Redis credentials from environment variables.
func GetCredentials() (rc RedisCredentials, ok bool) {
	u := os.Getenv("REDIS_USER")
	p := os.Getenv("REDIS_PASS")
	i := os.Getenv("REDIS_IP")
	if len(i) > 0 {
		return RedisCredentials{
			Username: u,
			Password: p,
			IP:       i,
		}, true
	}
	return RedisCredentials{}, false
}

// Connect connects to a real Redis and returns the Client object. The test is
// skipped when no credentials are configured.
func Connect(t *testing.T) *redis.Client {
	creds, ok := GetCredentials()
	if !ok {
		t.Skip("Missing Redis credentials")
	}
	return NewClient(creds.IP, creds.Password)
}

// Fake starts an in-process Redis that lives as long as the test and returns
// a client connected to it.
func Fake(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	s := miniredis.RunT(t)
	return s, NewClient(s.Addr(), "")
}

// Key returns a key unique to the test, safe to use on a shared server.
func Key(t *testing.T) string {
	return "mqflow-test:" + t.Name() + ":" + uuid.NewString()
}

// NewClient returns a client for the Redis at addr.
func NewClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		MaxRetries:   3,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}
