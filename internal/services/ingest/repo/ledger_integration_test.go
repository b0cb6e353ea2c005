//go:build integration_pg
// +build integration_pg

package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"nutrisage/internal/modkit/repokit"
	perr "nutrisage/internal/platform/errors"
	"nutrisage/internal/platform/store"
	"nutrisage/internal/services/ingest/domain"
)

// startPostgres launches a disposable Postgres and returns its DSN and a stop func
func startPostgres(t *testing.T) (dsn string, stop func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)

	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_DB":       "postgres",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections"),
		).WithDeadline(2 * time.Minute),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		cancel()
		t.Fatalf("start postgres: %v", err)
	}
	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(context.Background())
		cancel()
		t.Fatalf("container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = c.Terminate(context.Background())
		cancel()
		t.Fatalf("mapped port: %v", err)
	}

	dsn = fmt.Sprintf("postgres://postgres:postgres@%s:%s/postgres?sslmode=disable", host, mapped.Port())
	return dsn, func() {
		_ = c.Terminate(context.Background())
		cancel()
	}
}

func TestLedger_Integration(t *testing.T) {
	dsn, stop := startPostgres(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	s, err := store.Open(ctx, store.Config{
		AppName: "nutrisage-ledger-integration",
		PG:      store.PGConfig{Enabled: true, URL: dsn, MaxConns: 2},
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer func() { _ = s.Close(context.Background()) }()

	binder := NewPG()
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	record := func(id string, status domain.Status, rows int64, finished time.Time) {
		t.Helper()
		sum := domain.RunSummary{
			RunContext:  domain.RunContext{RunID: id, Input: "in.jsonl.gz", StartedAt: started},
			Status:      status,
			FinishedAt:  finished,
			RowsWritten: rows,
			Partitions:  []domain.PartitionStat{{Year: "2023", Country: "france", Rows: rows}},
		}
		err := repokit.WithTx(ctx, s.PG, binder, func(l domain.LedgerRepo) error {
			if err := l.EnsureSchema(ctx); err != nil {
				return err
			}
			return l.RecordRun(ctx, sum)
		})
		if err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}

	record("r1", domain.StatusFailed, 1, started.Add(time.Minute))
	record("r1", domain.StatusFinalized, 5, started.Add(2*time.Minute))
	record("r2", domain.StatusFinalized, 9, started.Add(3*time.Minute))

	l := Ledger{DB: s.PG, Binder: binder}
	got, err := l.LoadSummary(ctx, "r1")
	if err != nil || got.Status != domain.StatusFinalized || got.RowsWritten != 5 || got.Partitions[0].Country != "france" {
		t.Fatalf("r1 = %+v, %v", got, err)
	}
	latest, err := l.LoadSummary(ctx, "")
	if err != nil || latest.RunID != "r2" {
		t.Fatalf("latest = %+v, %v", latest, err)
	}
	if _, err := l.LoadSummary(ctx, "nope"); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("missing run err = %v", err)
	}

	bad := domain.RunSummary{RunContext: domain.RunContext{RunID: "r3", StartedAt: started}, Status: "paused"}
	err = repokit.WithTx(ctx, s.PG, binder, func(l domain.LedgerRepo) error { return l.RecordRun(ctx, bad) })
	if e, ok := perr.As(err); !ok || e.Code() != perr.ErrorCodeValidation || e.Field() != "status" {
		t.Fatalf("status check err = %v", err)
	}
}
