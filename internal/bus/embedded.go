// Package bus implements the message bus half of spec §4.8: an embedded
// nats-server instance (no external broker to operate) backing both agent
// inboxes and published events, talked to over the loopback nats.go
// client. Grounded directly on ODSapper-CLIAIRMONITOR's
// cmd/cliairmonitor/main.go, which boots an in-process NATS server the
// same way for its own agent fleet.
package bus

import (
	"fmt"
	"net"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// ServerConfig controls the embedded NATS instance.
type ServerConfig struct {
	Port int // server.RANDOM_PORT (-1) lets the OS pick a free port, useful for tests
}

// EmbeddedServer wraps an in-process nats-server instance.
type EmbeddedServer struct {
	srv *natsserver.Server
}

// StartEmbedded boots the embedded server and blocks until it is ready
// for client connections.
func StartEmbedded(cfg ServerConfig) (*EmbeddedServer, error) {
	opts := &natsserver.Options{
		Host:     "127.0.0.1",
		Port:     cfg.Port,
		HTTPPort: -1, // disable the monitoring HTTP endpoint
		NoLog:    true,
		NoSigs:   true,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("bus: creating embedded NATS server: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("bus: embedded NATS server did not become ready in time")
	}
	return &EmbeddedServer{srv: srv}, nil
}

// ClientURL returns the loopback URL agents and the kernel's bus client
// connect to.
func (s *EmbeddedServer) ClientURL() string {
	port := s.srv.Addr().(*net.TCPAddr).Port
	return fmt.Sprintf("nats://127.0.0.1:%d", port)
}

// Shutdown stops the embedded server.
func (s *EmbeddedServer) Shutdown() {
	s.srv.Shutdown()
}
