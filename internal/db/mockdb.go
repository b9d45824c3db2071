package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func retry(n int, fn func() error) error {
	backoff := 200 * time.Millisecond
	var last error
	for i := 0; i < n; i++ {
		if last = fn(); last == nil {
			return nil
		}
		time.Sleep(backoff)
		if backoff < 3*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("retry: giving up after %d tries: %w", n, last)
}

// StartTestPostgres runs a throwaway PostgreSQL container with the schema
// applied. Tests using it are skipped under -short.
func StartTestPostgres(t testing.TB) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container skipped in -short mode")
	}

	// generous timeout for CI
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	t.Cleanup(cancel)

	req := tc.ContainerRequest{
		Image: "postgres:16-alpine",
		Env: map[string]string{
			"POSTGRES_USER":     "sms",
			"POSTGRES_PASSWORD": "sms",
			"POSTGRES_DB":       "sms",
		},
		ExposedPorts: []string{"5432/tcp"},
		// postgres logs readiness twice: once for the init server, once for the real one.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(120 * time.Second),
	}

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("start container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mp, err := c.MappedPort(ctx, "5432/tcp") // NOTE: must include /tcp
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://sms:sms@%s:%s/sms?sslmode=disable", host, mp.Port())

	var db *DB
	if err := retry(6, func() error {
		var err error
		db, err = Open(ctx, dsn, 4)
		return err
	}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(db.Close)

	// first heavy DDL can still race startup bits
	if err := retry(6, func() error { return db.Migrate(ctx) }); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}
