package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testImage = "nats:2.11.7-alpine"

// TestServer is a throwaway JetStream-enabled NATS server in a container.
type TestServer struct {
	container testcontainers.Container
	URL       string
}

// NewTestServer starts a server for t and terminates it when t ends.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        testImage,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          []string{"--js", "--http_port", "8222"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp").WithStartupTimeout(time.Minute),
				wait.ForHTTP("/healthz?js-enabled-only=true").WithPort("8222/tcp").WithStartupTimeout(time.Minute),
			),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start %s: %v", testImage, err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4222/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	return &TestServer{container: container, URL: URLFor(host, port.Int(), false)}
}

// Stop halts the server so connected clients observe a connection loss.
func (s *TestServer) Stop(ctx context.Context) error {
	grace := 5 * time.Second
	return s.container.Stop(ctx, &grace)
}
