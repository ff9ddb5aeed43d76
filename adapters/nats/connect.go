// Package nats stores events on a NATS JetStream stream and snapshots in a
// JetStream key/value bucket.
package nats

import (
	"os"
	"sync"

	natsgo "github.com/nats-io/nats.go"
)

// Release gives back a connection obtained from a Connector. Calling it more
// than once has no further effect.
type Release = func()

// Connector hands out a NATS connection together with its Release.
type Connector func() (*natsgo.Conn, Release, error)

// ConnectURL dials url on every call. Each connection is named "evstore"
// unless opts override it.
func ConnectURL(url string, opts ...natsgo.Option) Connector {
	return func() (*natsgo.Conn, Release, error) {
		all := append([]natsgo.Option{natsgo.Name("evstore"), natsgo.MaxReconnects(3)}, opts...)
		conn, err := natsgo.Connect(url, all...)
		if err != nil {
			return nil, nil, err
		}
		return conn, conn.Close, nil
	}
}

// ConnectFromEnv dials $NATS_URL, falling back to the client default.
func ConnectFromEnv() Connector {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = natsgo.DefaultURL
	}
	return ConnectURL(url)
}

// ReuseConnection lets every caller of the returned Connector share a single
// connection dialed through dial. The connection is closed when its last
// lease is released, and the next call dials again.
func ReuseConnection(dial Connector) Connector {
	s := &sharedConn{dial: dial}
	return s.lease
}

type sharedConn struct {
	dial Connector

	mu      sync.Mutex
	conn    *natsgo.Conn
	release Release
	leases  int
}

func (s *sharedConn) lease() (*natsgo.Conn, Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		conn, release, err := s.dial()
		if err != nil {
			return nil, nil, err
		}
		s.conn, s.release = conn, release
	}
	s.leases++
	var once sync.Once
	return s.conn, func() { once.Do(s.drop) }, nil
}

func (s *sharedConn) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leases--
	if s.leases > 0 || s.conn == nil {
		return
	}
	s.release()
	s.conn, s.release = nil, nil
}
