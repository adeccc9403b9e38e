//go:build integration

package postgres

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

	"github.com/avolkov/storefront/internal/domain/product"
)

// startPostgres runs a disposable postgres container and returns a DSN
// pointing at it.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "storefront",
				"POSTGRES_PASSWORD": "storefront",
				"POSTGRES_DB":       "storefront",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://storefront:storefront@%s:%s/storefront?sslmode=disable", host, port.Port())
}

func seedProducts(t *testing.T, repo *ProductRepository, products []product.Product) {
	t.Helper()
	const insertSQL = `INSERT INTO products (id, name, description, price, count_in_stock, image)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for _, p := range products {
		_, err := repo.pool.Exec(context.Background(), insertSQL,
			p.ID, p.Name, p.Description, p.Price, p.CountInStock, p.Image)
		require.NoError(t, err)
	}
}

func TestProductRepository(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, RunMigrations(ctx, pool))

	repo := NewProductRepository(pool)
	seedProducts(t, repo, []product.Product{
		{ID: "p1", Name: "Keyboard", Description: "Mechanical", Price: decimal.RequireFromString("129.99"), CountInStock: 7, Image: "/uploads/keyboard.jpg"},
		{ID: "p2", Name: "Mouse", Price: decimal.RequireFromString("49.50"), CountInStock: 0, Image: "/uploads/mouse.jpg"},
		{ID: "p3", Name: "Monitor", Price: decimal.RequireFromString("349.00"), CountInStock: 2, Image: "/uploads/monitor.jpg"},
	})

	t.Run("list", func(t *testing.T) {
		got, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "p1", got[0].ID)
		assert.True(t, got[0].Price.Equal(decimal.RequireFromString("129.99")),
			"price survives the round trip exactly, got %s", got[0].Price)
		assert.Equal(t, 7, got[0].CountInStock)
	})

	t.Run("get by id", func(t *testing.T) {
		p, err := repo.GetByID(ctx, "p2")
		require.NoError(t, err)
		assert.Equal(t, "Mouse", p.Name)
		assert.False(t, p.InStock())
	})

	t.Run("get by id not found", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "nope")
		assert.ErrorIs(t, err, product.ErrNotFound)
	})

	t.Run("get by ids", func(t *testing.T) {
		got, err := repo.GetByIDs(ctx, []string{"p1", "p3", "gone"})
		require.NoError(t, err)
		require.Len(t, got, 2, "missing ids are absent, not errors")
	})

	t.Run("get by ids empty", func(t *testing.T) {
		got, err := repo.GetByIDs(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("migrations are idempotent", func(t *testing.T) {
		require.NoError(t, RunMigrations(ctx, pool))
	})
}
