package nats

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Publish(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if os.Getenv("INTEGRATION_TEST") != "1" || url == "" {
		t.Skip("set INTEGRATION_TEST=1 and NATS_URL to run")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := New(ctx, url)
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.IsConnected())

	require.NoError(t, c.EnsureStream(ctx, ParseStream, []string{ParseSubjects}))
	require.NoError(t, c.Publish(ctx, "parse.started", map[string]string{"operation_id": "test"}))
}
