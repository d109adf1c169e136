package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClientParsesRedisURL(t *testing.T) {
	c := NewClient("redis://example.com:6380/2")
	opts := c.client.Options()
	assert.Equal(t, "example.com:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
}

func TestNewClientAcceptsHostPort(t *testing.T) {
	c := NewClient("redis-cache:6400")
	assert.Equal(t, "redis-cache:6400", c.client.Options().Addr)
}

func TestNewClientDefaultsToLocalhost(t *testing.T) {
	c := NewClient("")
	assert.Equal(t, "localhost:6379", c.client.Options().Addr)
}
