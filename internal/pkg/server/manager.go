// Package server runs the long-lived parts of a skyrelay process side by
// side and stops them together.
package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/skyrelay/pkg/log"
)

// Server is anything that runs until its context is done.
type Server interface {
	Start(ctx context.Context) error
}

// RunFunc adapts a function to Server.
type RunFunc func(ctx context.Context) error

func (f RunFunc) Start(ctx context.Context) error { return f(ctx) }

// Manager manages the lifecycle of a set of servers.
type Manager struct {
	servers []Server
}

// NewManager creates a manager. Nil servers are skipped.
func NewManager(servers ...Server) *Manager {
	m := &Manager{}
	for _, s := range servers {
		if s != nil {
			m.servers = append(m.servers, s)
		}
	}
	return m
}

// Add appends a server.
func (m *Manager) Add(s Server) {
	m.servers = append(m.servers, s)
}

// Start launches all servers in parallel. The first error cancels the others,
// and Start returns once all of them have stopped.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range m.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	log.Debug("All servers starting...", "count", len(m.servers))
	return g.Wait()
}
