//go:build integration

package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/avolkov/storefront/internal/domain/cart"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func sampleEntries() []cart.Entry {
	return []cart.Entry{
		{ProductID: "p1", Name: "Keyboard", UnitPrice: decimal.RequireFromString("129.99"), Quantity: 2, CountInStock: 7, Image: "/uploads/keyboard.jpg"},
		{ProductID: "p2", Name: "Mouse", UnitPrice: decimal.RequireFromString("49.50"), Quantity: 1, CountInStock: 3},
		{ProductID: "p3", Name: "Monitor", UnitPrice: decimal.RequireFromString("349.00"), Quantity: 1, CountInStock: 2},
	}
}

func TestCarts(t *testing.T) {
	ctx := context.Background()

	client, err := NewClient(ctx, startRedis(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	carts := NewCarts(client, time.Hour)

	t.Run("load missing session", func(t *testing.T) {
		entries, err := carts.Load(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("round trip preserves order", func(t *testing.T) {
		want := sampleEntries()
		require.NoError(t, carts.Save(ctx, "s1", want))

		got, err := carts.Load(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i := range want {
			assert.Equal(t, want[i].ProductID, got[i].ProductID)
			assert.Equal(t, want[i].Quantity, got[i].Quantity)
			assert.True(t, want[i].UnitPrice.Equal(got[i].UnitPrice))
		}
	})

	t.Run("save replaces previous state", func(t *testing.T) {
		require.NoError(t, carts.Save(ctx, "s2", sampleEntries()))
		require.NoError(t, carts.Save(ctx, "s2", sampleEntries()[:1]))

		got, err := carts.Load(ctx, "s2")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "p1", got[0].ProductID)
	})

	t.Run("empty save deletes", func(t *testing.T) {
		require.NoError(t, carts.Save(ctx, "s3", sampleEntries()))
		require.NoError(t, carts.Save(ctx, "s3", nil))

		got, err := carts.Load(ctx, "s3")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, carts.Save(ctx, "s4", sampleEntries()))
		require.NoError(t, carts.Delete(ctx, "s4"))
		require.NoError(t, carts.Delete(ctx, "s4"))

		got, err := carts.Load(ctx, "s4")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("persister saves through", func(t *testing.T) {
		p := carts.ForSession("s5")
		require.NoError(t, p.Save(ctx, sampleEntries()[:2]))

		got, err := carts.Load(ctx, "s5")
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("ttl is applied", func(t *testing.T) {
		require.NoError(t, carts.Save(ctx, "s6", sampleEntries()))
		ttl, err := client.TTL(ctx, cartKey("s6")).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
	})
}
