package mcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/version"
)

// dialSession creates the transport for a server config and completes the
// MCP handshake.
func dialSession(ctx context.Context, cfg *config.MCPServerConfig) (*mcpsdk.ClientSession, error) {
	transport, err := newTransport(cfg.Transport)
	if err != nil {
		return nil, err
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		// Close the transport when it owns resources (stdio child process);
		// the SDK does not on every failure path.
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, err
	}
	return session, nil
}

func newTransport(cfg config.TransportConfig) (mcpsdk.Transport, error) {
	switch cfg.Type {
	case config.TransportTypeStdio:
		return newStdioTransport(cfg)
	case config.TransportTypeHTTP:
		return newHTTPTransport(cfg)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}
}

func newStdioTransport(cfg config.TransportConfig) (*mcpsdk.CommandTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("stdio transport requires command")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)

	// Inherit the parent environment plus config overrides.
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

func newHTTPTransport(cfg config.TransportConfig) (*mcpsdk.StreamableClientTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http transport requires url")
	}
	return &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}, nil
}
