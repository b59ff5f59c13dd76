package prober

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://fbs.example.dk/sip2", "fbs.example.dk:443"},
		{"http://fbs.example.dk/sip2", "fbs.example.dk:80"},
		{"https://fbs.example.dk:8443/", "fbs.example.dk:8443"},
		{"ftp://10.0.0.1", "10.0.0.1:80"},
	}
	for _, tt := range tests {
		got, err := Address(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := Address("not a url")
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestIsOnlineReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	assert.NoError(t, IsOnline(context.Background(), srv.URL, time.Second))
}

// TestIsOnlineClosedPort a closed port returns offline within the timeout bound
func TestIsOnlineClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	start := time.Now()
	err = IsOnline(context.Background(), "http://"+addr, time.Millisecond)
	elapsed := time.Since(start)

	var connErr *ConnectError
	require.True(t, errors.As(err, &connErr), "got %v", err)
	assert.Equal(t, addr, connErr.Addr)
	assert.Less(t, elapsed, time.Second, "probe must not hang")
}

// TestIsOnlineDeadline a listening endpoint still counts as offline once the deadline has passed
func TestIsOnlineDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	start := time.Now()
	err := IsOnline(ctx, srv.URL, time.Second)

	var connErr *ConnectError
	require.True(t, errors.As(err, &connErr), "got %v", err)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr), "got %v", err)
	assert.True(t, netErr.Timeout())
	assert.Less(t, time.Since(start), time.Second)
}

func TestIsOnlineInvalidURL(t *testing.T) {
	var connErr *ConnectError
	err := IsOnline(context.Background(), "://", time.Millisecond)
	require.True(t, errors.As(err, &connErr))
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestIsOnlineCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var connErr *ConnectError
	assert.True(t, errors.As(IsOnline(ctx, "http://127.0.0.1:1", time.Second), &connErr))
}
