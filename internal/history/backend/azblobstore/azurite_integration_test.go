//go:build integration

package azblobstore

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ikancheck/ikancheck/internal/history/backend"
	"github.com/ikancheck/ikancheck/internal/history/backend/storagetest"
)

// TestAzuriteContract runs the backend contract against the Azurite
// emulator. Requires Docker.
func TestAzuriteContract(t *testing.T) {
	ctx := t.Context()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mcr.microsoft.com/azure-storage/azurite:3.34.0",
			Cmd:          []string{"azurite-blob", "--blobHost", "0.0.0.0", "--skipApiVersionCheck"},
			ExposedPorts: []string{"10000/tcp"},
			WaitingFor:   wait.ForListeningPort("10000/tcp"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	endpoint, err := container.PortEndpoint(ctx, "10000/tcp", "http")
	require.NoError(t, err)
	conn := strings.Replace(azuriteConnectionString, "http://127.0.0.1:10000", endpoint, 1)

	n := 0
	storagetest.Run(t, func(t *testing.T) backend.Backend {
		t.Helper()
		n++
		s, err := New(Config{ConnectionString: conn, Container: fmt.Sprintf("riwayat-%d", n)})
		require.NoError(t, err)
		return s
	})
}
