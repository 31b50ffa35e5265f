package reservation

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/fjod/go_cart/reservation-service/internal/ledger"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func TestMongoStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping MongoDB integration test in short mode")
	}
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)
	db, err := ledger.ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Client().Disconnect(ctx) })

	var n atomic.Int32
	runStoreSuite(t, func(t *testing.T) Store {
		s := NewMongoStore(db.Client().Database(fmt.Sprintf("reservations_%d", n.Add(1))))
		require.NoError(t, s.CreateIndexes(ctx))
		return s
	})
}
