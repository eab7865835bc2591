package estimator

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const unixScheme = "unix://"

// SharedContext pools connections to estimator services. One context is
// created per process and handed to every corpus manager that talks to a
// service; connections are only ever added until Close tears them all down.
type SharedContext struct {
	clients map[string]*http.Client
	logger  *zap.Logger
	closed  bool
	mu      sync.Mutex
}

// NewSharedContext creates an empty connection pool.
func NewSharedContext(logger *zap.Logger) *SharedContext {
	return &SharedContext{
		clients: make(map[string]*http.Client),
		logger:  logger,
	}
}

// Client returns the pooled client for a service address and the base URL
// requests should use. Addresses are "host:port", an http(s) URL, or
// "unix:///path/to/socket".
func (s *SharedContext) Client(address string) (*http.Client, string, error) {
	baseURL, dial, err := parseAddress(address)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, "", fmt.Errorf("shared estimator context is closed")
	}
	if client, ok := s.clients[address]; ok {
		return client, baseURL, nil
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	if dial != nil {
		transport.DialContext = dial
	}
	client := &http.Client{Transport: transport}
	s.clients[address] = client

	s.logger.Debug("Opened estimator connection pool", zap.String("address", address))
	return client, baseURL, nil
}

// Close drops every pooled connection. Later Client calls fail.
func (s *SharedContext) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for address, client := range s.clients {
		client.CloseIdleConnections()
		delete(s.clients, address)
	}
	return nil
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func parseAddress(address string) (string, dialFunc, error) {
	switch {
	case address == "":
		return "", nil, fmt.Errorf("empty estimator service address")
	case strings.HasPrefix(address, unixScheme):
		socket := strings.TrimPrefix(address, unixScheme)
		if socket == "" {
			return "", nil, fmt.Errorf("invalid estimator socket address %q", address)
		}
		var dialer net.Dialer
		dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", socket)
		}
		return "http://unix", dial, nil
	case strings.HasPrefix(address, "http://"), strings.HasPrefix(address, "https://"):
		return strings.TrimSuffix(address, "/"), nil, nil
	default:
		return "http://" + address, nil, nil
	}
}
