package nats

import (
	"testing"

	natsgo "github.com/nats-io/nats.go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testImage = "nats:2.11-alpine"

// StartTestServer runs a throwaway JetStream server for the lifetime of t and
// returns a shared Connector to it. It skips t under -short since it needs
// docker.
func StartTestServer(t testing.TB) Connector {
	t.Helper()
	if testing.Short() {
		t.Skip("nats: test server needs docker")
	}

	ctx := t.Context()
	c, err := testcontainers.Run(ctx, testImage,
		testcontainers.WithCmd("--jetstream", "--store_dir", "/tmp/js"),
		testcontainers.WithExposedPorts("4222/tcp"),
		testcontainers.WithWaitStrategy(wait.ForLog("Server is ready")),
	)
	if c != nil {
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(c); err != nil {
				t.Logf("terminate nats: %v", err)
			}
		})
	}
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}

	url, err := c.PortEndpoint(ctx, "4222/tcp", "nats")
	if err != nil {
		t.Fatalf("nats endpoint: %v", err)
	}
	return ReuseConnection(ConnectURL(url, natsgo.Name(t.Name())))
}
