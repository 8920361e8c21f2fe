package notifyapi

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// Config holds transport settings for one target host.
type Config struct {
	Host               string
	Port               int
	Path               string
	RequestTimeout     time.Duration
	PollRequestTimeout time.Duration // GET /notification/:id only
	MaxRetries         int           // extra attempts for GETs on connection errors
	RatePerSec         float64       // <= 0 disables pacing
}

// DefaultConfig returns the settings the notify service is checked with.
func DefaultConfig(host string) Config {
	return Config{
		Host:               host,
		Port:               7777,
		Path:               "/api/",
		RequestTimeout:     time.Second,
		PollRequestTimeout: 500 * time.Millisecond,
		MaxRetries:         1,
		RatePerSec:         50,
	}
}

// BaseURL returns the API root, always ending in a slash.
func (c Config) BaseURL() string {
	path := c.Path
	if path == "" || path[len(path)-1] != '/' {
		path += "/"
	}
	if path[0] != '/' {
		path = "/" + path
	}
	u := url.URL{Scheme: "http", Host: net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), Path: path}
	return u.String()
}

// Endpoint resolves a relative API path against BaseURL.
func (c Config) Endpoint(rel string) string {
	return c.BaseURL() + rel
}

func (c Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("notifyapi: empty host")
	}
	if c.RequestTimeout <= 0 || c.PollRequestTimeout <= 0 {
		return fmt.Errorf("notifyapi: request timeouts must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("notifyapi: negative max retries")
	}
	return nil
}
