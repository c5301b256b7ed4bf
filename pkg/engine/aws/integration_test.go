//go:build integration

package aws

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
)

// TestNewClient_Integration points the session at LocalStack through
// AWS_ENDPOINT_URL and resolves the caller account.
// Requires Docker.
func TestNewClient_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := localstack.Run(ctx, "localstack/localstack:3.0")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "start LocalStack")

	endpoint, err := container.PortEndpoint(ctx, "4566/tcp", "http")
	require.NoError(t, err)

	t.Setenv("AWS_ENDPOINT_URL", endpoint)
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	client, err := NewClient(ctx, "us-east-1", "", true, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	account, err := client.VerifyIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "000000000000", account)

	regional := client.GetConfigForRegion("eu-west-1")
	assert.Equal(t, "eu-west-1", regional.Region)
	assert.Equal(t, "us-east-1", client.Config.Region)
}
