package ledger

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

// testURL points at a Postgres testcontainer. It stays empty when Docker is
// unavailable or -short is set, and the tests that need it skip.
var testURL string

func TestMain(m *testing.M) {
	flag.Parse()
	os.Exit(run(m))
}

func run(m *testing.M) int {
	if testing.Short() || !isDockerAvailable() {
		return m.Run()
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("postgres"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		return 1
	}
	defer func() {
		terminateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		_ = container.Terminate(terminateCtx)
	}()

	testURL, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get connection string: %v\n", err)
		return 1
	}
	return m.Run()
}

func isDockerAvailable() bool {
	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer func(provider *testcontainers.DockerProvider) {
		_ = provider.Close()
	}(provider)
	return true
}

// newTestDB creates a fresh database with the ledger table.
func newTestDB(t *testing.T, logger *zap.Logger) *DB {
	t.Helper()
	if testURL == "" {
		t.Skip("postgres container not running (Docker unavailable or -short)")
	}
	ctx := context.Background()
	name := fmt.Sprintf("nearx_test_%d", time.Now().UnixNano())
	db, err := New(ctx, logger, testURL, name)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitLedger(ctx); err != nil {
		t.Fatalf("init ledger: %v", err)
	}
	return db
}
