package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cimillas/orderhook/internal/app"
	"github.com/cimillas/orderhook/internal/domain"
	"github.com/cimillas/orderhook/internal/testutil"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentStore(t *testing.T) {
	pool := testutil.NewTestPool(t)
	store := NewDocumentStore(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	orderID := domain.StringAttribute{Key: "orderId", Size: 255, Required: true}
	unique := domain.Index{Key: "orderId_unique", Unique: true, Attributes: []string{"orderId"}}

	t.Run("GetDatabase reports ErrNotFound before creation", func(t *testing.T) {
		ctx := context.Background()
		dbID := testutil.NewDatabaseID(t, pool)

		_, err := store.GetDatabase(ctx, dbID)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("create calls report already exists on repeat", func(t *testing.T) {
		ctx := context.Background()
		dbID := testutil.NewDatabaseID(t, pool)

		outcome, err := store.CreateDatabase(ctx, dbID, "Orders Database")
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeCreated, outcome)
		outcome, err = store.CreateDatabase(ctx, dbID, "Orders Database")
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeAlreadyExists, outcome)

		name, err := store.GetDatabase(ctx, dbID)
		require.NoError(t, err)
		assert.Equal(t, "Orders Database", name)

		outcome, err = store.CreateCollection(ctx, dbID, "orders", "Orders Collection", true)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeCreated, outcome)
		outcome, err = store.CreateCollection(ctx, dbID, "orders", "Orders Collection", true)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeAlreadyExists, outcome)

		outcome, err = store.CreateStringAttribute(ctx, dbID, "orders", orderID)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeCreated, outcome)
		outcome, err = store.CreateStringAttribute(ctx, dbID, "orders", orderID)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeAlreadyExists, outcome)

		outcome, err = store.CreateIndex(ctx, dbID, "orders", unique)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeCreated, outcome)
		outcome, err = store.CreateIndex(ctx, dbID, "orders", unique)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeAlreadyExists, outcome)
	})

	t.Run("attribute with a different size is a schema conflict", func(t *testing.T) {
		ctx := context.Background()
		dbID := testutil.NewDatabaseID(t, pool)
		mustCollection(t, store, dbID, "orders")

		_, err := store.CreateStringAttribute(ctx, dbID, "orders", orderID)
		require.NoError(t, err)

		_, err = store.CreateStringAttribute(ctx, dbID, "orders", domain.StringAttribute{Key: "orderId", Size: 64, Required: true})
		require.ErrorIs(t, err, domain.ErrSchemaConflict)
	})

	t.Run("lookups report a collection without its index", func(t *testing.T) {
		ctx := context.Background()
		dbID := testutil.NewDatabaseID(t, pool)
		mustCollection(t, store, dbID, "orders")

		_, err := store.GetAttribute(ctx, dbID, "orders", "orderId")
		require.ErrorIs(t, err, domain.ErrNotFound)
		_, err = store.GetIndex(ctx, dbID, "orders", "orderId_unique")
		require.ErrorIs(t, err, domain.ErrNotFound)

		_, err = store.CreateStringAttribute(ctx, dbID, "orders", orderID)
		require.NoError(t, err)
		attr, err := store.GetAttribute(ctx, dbID, "orders", "orderId")
		require.NoError(t, err)
		assert.Equal(t, orderID, attr)
		_, err = store.GetIndex(ctx, dbID, "orders", "orderId_unique")
		require.ErrorIs(t, err, domain.ErrNotFound)

		_, err = store.CreateIndex(ctx, dbID, "orders", unique)
		require.NoError(t, err)
		idx, err := store.GetIndex(ctx, dbID, "orders", "orderId_unique")
		require.NoError(t, err)
		assert.Equal(t, unique, idx)
	})

	t.Run("required attribute on a populated collection is a schema conflict", func(t *testing.T) {
		ctx := context.Background()
		dbID := testutil.NewDatabaseID(t, pool)
		mustCollection(t, store, dbID, "orders")
		_, err := store.CreateDocument(ctx, dbID, "orders", domain.Document{ID: "doc-1", Data: map[string]any{}})
		require.NoError(t, err)

		_, err = store.CreateStringAttribute(ctx, dbID, "orders", domain.StringAttribute{Key: "userId", Size: 255, Required: true})
		require.ErrorIs(t, err, domain.ErrSchemaConflict)
		assert.NotErrorIs(t, err, domain.ErrValidationFailed)
	})

	t.Run("non-unique index under the same key is a schema conflict", func(t *testing.T) {
		ctx := context.Background()
		dbID := testutil.NewDatabaseID(t, pool)
		mustCollection(t, store, dbID, "orders")
		_, err := store.CreateStringAttribute(ctx, dbID, "orders", orderID)
		require.NoError(t, err)

		plain := unique
		plain.Unique = false
		_, err = store.CreateIndex(ctx, dbID, "orders", plain)
		require.NoError(t, err)

		_, err = store.CreateIndex(ctx, dbID, "orders", unique)
		require.ErrorIs(t, err, domain.ErrSchemaConflict)
	})

	t.Run("collection in a missing database fails", func(t *testing.T) {
		ctx := context.Background()
		dbID := testutil.NewDatabaseID(t, pool)

		_, err := store.CreateCollection(ctx, dbID, "orders", "Orders Collection", true)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("invalid ids are rejected before reaching the database", func(t *testing.T) {
		ctx := context.Background()

		_, err := store.CreateDatabase(ctx, `bad"; DROP`, "x")
		require.ErrorIs(t, err, domain.ErrValidationFailed)
		_, err = store.CreateStringAttribute(ctx, "db", "orders", domain.StringAttribute{Key: "_id", Size: 10})
		require.ErrorIs(t, err, domain.ErrValidationFailed)
	})

	t.Run("duplicate document by unique attribute resolves to the first", func(t *testing.T) {
		ctx := context.Background()
		dbID := testutil.NewDatabaseID(t, pool)
		mustCollection(t, store, dbID, "orders")
		_, err := store.CreateStringAttribute(ctx, dbID, "orders", orderID)
		require.NoError(t, err)
		_, err = store.CreateIndex(ctx, dbID, "orders", unique)
		require.NoError(t, err)

		first := domain.Document{
			ID:         "doc-1",
			Attributes: map[string]string{"orderId": "cs_test_1"},
			Data:       map[string]any{"orderId": "cs_test_1", "totalAmount": "20.00"},
		}
		outcome, err := store.CreateDocument(ctx, dbID, "orders", first)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeCreated, outcome)

		second := first
		second.ID = "doc-2"
		outcome, err = store.CreateDocument(ctx, dbID, "orders", second)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeAlreadyExists, outcome)

		id, err := store.FindDocumentID(ctx, dbID, "orders", "orderId", "cs_test_1")
		require.NoError(t, err)
		assert.Equal(t, "doc-1", id)

		var count int
		table := pgx.Identifier{dbID, "orders"}.Sanitize()
		require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count))
		assert.Equal(t, 1, count)

		var total string
		require.NoError(t, pool.QueryRow(ctx, "SELECT _data->>'totalAmount' FROM "+table).Scan(&total))
		assert.Equal(t, "20.00", total)
	})

	t.Run("unique index over duplicate rows is a schema conflict", func(t *testing.T) {
		ctx := context.Background()
		dbID := testutil.NewDatabaseID(t, pool)
		mustCollection(t, store, dbID, "orders")
		_, err := store.CreateStringAttribute(ctx, dbID, "orders", orderID)
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			_, err := store.CreateDocument(ctx, dbID, "orders", domain.Document{
				ID:         fmt.Sprintf("doc-%d", i),
				Attributes: map[string]string{"orderId": "same"},
				Data:       map[string]any{},
			})
			require.NoError(t, err)
		}

		_, err = store.CreateIndex(ctx, dbID, "orders", unique)
		require.ErrorIs(t, err, domain.ErrSchemaConflict)
	})

	t.Run("racing database creators both succeed", func(t *testing.T) {
		ctx := context.Background()
		dbID := testutil.NewDatabaseID(t, pool)

		var wg sync.WaitGroup
		errs := make([]error, 4)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = store.CreateDatabase(ctx, dbID, "Orders Database")
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}
	})

	t.Run("racing namespace provisioners converge", func(t *testing.T) {
		ctx := context.Background()
		dbID := testutil.NewDatabaseID(t, pool)
		provisioner := app.NewProvisioner(store)

		var wg sync.WaitGroup
		errs := make([]error, 6)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = provisioner.EnsureNamespace(ctx, dbID, "orders")
			}(i)
		}
		wg.Wait()
		for i, err := range errs {
			require.NoError(t, err, "provisioner %d", i)
		}

		ok, err := provisioner.NamespaceExists(ctx, dbID, "orders")
		require.NoError(t, err)
		assert.True(t, ok)

		for _, want := range app.RequiredAttributes {
			got, err := store.GetAttribute(ctx, dbID, "orders", want.Key)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
		idx, err := store.GetIndex(ctx, dbID, "orders", "orderId_unique")
		require.NoError(t, err)
		assert.True(t, idx.Unique)
		assert.Equal(t, []string{"orderId"}, idx.Attributes)

		var collections int
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM docstore_collections WHERE database_id = $1`, dbID).Scan(&collections))
		assert.Equal(t, 1, collections)
	})
}

func mustCollection(t *testing.T, store *DocumentStore, dbID, collectionID string) {
	t.Helper()
	ctx := context.Background()
	_, err := store.CreateDatabase(ctx, dbID, "Orders Database")
	require.NoError(t, err)
	_, err = store.CreateCollection(ctx, dbID, collectionID, "Orders Collection", true)
	require.NoError(t, err)
}
