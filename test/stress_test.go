package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"signflow/auth"
	"signflow/contract"
	"signflow/logger"
	"signflow/outbox"
	"signflow/sanitize"
	"signflow/signing"
	"signflow/test/actors"
	"signflow/test/chaos"
	"signflow/test/infra"
	"signflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 60*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent signers per party")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", false, "randomly terminate database backends")
)

func TestSigningConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	rand.Seed(seed)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	var (
		pgC *infra.PGContainer
		dsn string
		err error
	)
	switch {
	case *flDSN != "":
		dsn = *flDSN
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, err := infra.Prepare(ctx, dsn)
	if err != nil {
		t.Fatalf("prepare database: %v", err)
	}
	defer pool.Close()

	logg := logger.New(8)
	contractRepo := contract.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	writer := outbox.NewWriter(3)
	transport := &actors.FlakyTransport{FailEveryN: 4}
	dispatcher := outbox.NewDispatcher(outboxRepo, transport, logg, 10, time.Second, 5*time.Second)
	coord := signing.NewCoordinator(pool, contractRepo, writer, logg, "https://stress.signflow.local", "Signflow", 5).
		WithDispatcher(dispatcher)

	seedData := mustSeed(t, ctx, pool, writer, contractRepo, coord)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	// both parties hammer the same contract concurrently
	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error {
			return actors.Signer(ctx2, coord, seedData.contractID, seedData.firstEmail, "Alice First", stop)
		})
		g.Go(func() error {
			return actors.Signer(ctx2, coord, seedData.contractID, seedData.secondEmail, "Bob Second", stop)
		})
	}
	g.Go(func() error { return actors.Resender(ctx2, coord, seedData.contractID, seedData.ownerID, stop) })
	g.Go(func() error { return actors.Completer(ctx2, coord, seedData.contractID, seedData.ownerID, stop) })
	g.Go(func() error { return actors.Sweeper(ctx2, dispatcher, stop) })
	g.Go(func() error { return actors.Expirer(ctx2, coord, stop) })

	if *flChaos {
		go chaos.TerminateRandomBackend(ctx2, pool, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	assertConverged(t, ctx, pool, dispatcher, seedData)
}

// assertConverged checks the end state: both signatures landed, the
// contract is SIGNED or COMPLETED, exactly one completed-notification set
// exists, and repeated sweeps settle every remaining entry.
func assertConverged(t *testing.T, ctx context.Context, pool *pgxpool.Pool, dispatcher *outbox.Dispatcher, s seedIDs) {
	t.Helper()

	var status string
	if err := pool.QueryRow(ctx, `SELECT status FROM contracts WHERE id=$1`, s.contractID).Scan(&status); err != nil {
		t.Fatalf("final status: %v", err)
	}
	if status != "SIGNED" && status != "COMPLETED" {
		t.Fatalf("expected SIGNED or COMPLETED, got %s", status)
	}

	var sigs int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM contract_signatures WHERE contract_id=$1`, s.contractID).Scan(&sigs); err != nil {
		t.Fatalf("count signatures: %v", err)
	}
	if sigs != 2 {
		t.Fatalf("expected 2 signature rows, got %d", sigs)
	}

	var completed int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_entries WHERE kind='CONTRACT_COMPLETED'`).Scan(&completed); err != nil {
		t.Fatalf("count completed entries: %v", err)
	}
	if completed != 2 {
		t.Fatalf("expected exactly one completed set (2 entries), got %d", completed)
	}

	// Drain: the sweep must settle everything still due.
	for i := 0; i < 50; i++ {
		dispatcher.Sweep(ctx)
		var due int
		if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_entries
			WHERE status = 'PENDING' OR (status = 'FAILED' AND next_retry_at IS NOT NULL AND next_retry_at <= now())`).Scan(&due); err != nil {
			t.Fatalf("count due entries: %v", err)
		}
		if due == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("outbox did not drain")
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	ownerID     string
	contractID  string
	firstEmail  string
	secondEmail string
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool, writer *outbox.Writer, repo *contract.Repository, coord *signing.Coordinator) seedIDs {
	t.Helper()

	authSvc := auth.NewService(pool, auth.NewRepository(pool), writer, "stress-secret", time.Hour)
	owner, err := authSvc.Register(ctx, auth.RegisterRequest{
		Email:    fmt.Sprintf("owner%d@example.com", rand.Int63()),
		Password: "stress-password",
		FullName: "Stress Owner",
	})
	if err != nil {
		t.Fatalf("seed owner: %v", err)
	}

	first, err := contract.NewPartyInfo("Alice First", "alice@example.com", "")
	if err != nil {
		t.Fatalf("first party: %v", err)
	}
	second, err := contract.NewPartyInfo("Bob Second", "bob@example.com", "")
	if err != nil {
		t.Fatalf("second party: %v", err)
	}

	creation := contract.NewCreationService(pool, repo, sanitize.New())
	ct, err := creation.Create(ctx, contract.CreateParams{
		CreatorID:   owner.ID,
		Title:       "Stress Agreement",
		Content:     "<p>Scope for {{clientName}}</p>",
		Variables:   map[string]string{"clientName": "Bob"},
		FirstParty:  first,
		SecondParty: second,
	})
	if err != nil {
		t.Fatalf("seed contract: %v", err)
	}

	if _, err := coord.SendForSigning(ctx, ct.ID, owner.ID); err != nil {
		t.Fatalf("send for signing: %v", err)
	}

	return seedIDs{
		ownerID:     owner.ID,
		contractID:  ct.ID,
		firstEmail:  first.Email,
		secondEmail: second.Email,
	}
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"contracts", `SELECT id, status, version, updated_at FROM contracts ORDER BY updated_at DESC LIMIT 20`},
		{"contract_signatures", `SELECT contract_id, signer_email, signed_at FROM contract_signatures ORDER BY signed_at DESC LIMIT 50`},
		{"outbox_entries", `SELECT id, kind, recipient_email, status, retry_count, next_retry_at FROM outbox_entries ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
