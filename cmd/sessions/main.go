// sessions is an operator tool for incident response on refresh sessions.
//
//	sessions revoke-user -user <id> [-reason text]
//	sessions inspect -token <raw refresh credential>
//	sessions history -user <id> [-limit n]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"propertyhub/backend/internal/audit"
	auditdomain "propertyhub/backend/internal/audit/domain"
	auditrepo "propertyhub/backend/internal/audit/repository"
	"propertyhub/backend/internal/config"
	"propertyhub/backend/internal/db"
	"propertyhub/backend/internal/logging"
	"propertyhub/backend/internal/security"
	"propertyhub/backend/internal/session/domain"
	sessionrepo "propertyhub/backend/internal/session/repository"
	sessionservice "propertyhub/backend/internal/session/service"
)

const usage = `usage: sessions <command> [flags]

commands:
  revoke-user  revoke every active session of a user
  inspect      show the stored session of a refresh credential
  history      list recent audit events of a user
`

type revoker interface {
	RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error)
}

type looker interface {
	Lookup(ctx context.Context, raw string) (*domain.RefreshSession, error)
}

type historyLister interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*auditdomain.AuditLog, error)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "-h" || cmd == "help" {
		fmt.Fprint(os.Stdout, usage)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, "text")
	if err != nil {
		log.Fatalf("logging: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer sqlDB.Close()
	audits := auditrepo.NewPostgresRepository(sqlDB)

	if cmd == "history" {
		if err := history(ctx, audits, args, os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	store, rdb, err := sessionrepo.OpenStore(cfg.StoreConfig(), sqlDB)
	if err != nil {
		log.Fatalf("session store: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}
	codec, err := security.NewTokenCodec(cfg.CodecConfig())
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}
	engine, err := sessionservice.New(codec, store,
		sessionservice.WithLogger(logger),
		sessionservice.WithAuditLogger(audit.NewLogger(audits, func(context.Context) string { return "cli" }, logger)),
	)
	if err != nil {
		log.Fatalf("session engine: %v", err)
	}

	switch cmd {
	case "revoke-user":
		err = revokeUser(ctx, engine, args, os.Stdout)
	case "inspect":
		err = inspect(ctx, engine, args, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func revokeUser(ctx context.Context, r revoker, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("revoke-user", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	userID := fs.String("user", "", "User id whose sessions are revoked")
	reason := fs.String("reason", "operator request", "Reason recorded in the audit log")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("revoke-user: -user is required")
	}
	n, err := r.RevokeAllForUser(ctx, *userID, *reason)
	if err != nil {
		return fmt.Errorf("revoke-user: %w", err)
	}
	fmt.Fprintf(out, "revoked %d session(s) of user %s\n", n, *userID)
	return nil
}

func inspect(ctx context.Context, l looker, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	token := fs.String("token", "", "Raw refresh credential")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token == "" {
		return errors.New("inspect: -token is required")
	}
	s, err := l.Lookup(ctx, *token)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	if s == nil {
		fmt.Fprintln(out, "no session for this credential")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "state\t%s\n", s.State())
	fmt.Fprintf(tw, "session\t%s\n", s.ID)
	fmt.Fprintf(tw, "user\t%s\n", s.UserID)
	fmt.Fprintf(tw, "issued\t%s\n", s.IssuedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(tw, "expires\t%s\n", s.ExpiresAt.UTC().Format(time.RFC3339))
	if s.RevokedAt != nil {
		fmt.Fprintf(tw, "revoked\t%s\n", s.RevokedAt.UTC().Format(time.RFC3339))
	}
	if s.ReplacedBy != nil {
		fmt.Fprintf(tw, "replaced_by\t%s\n", *s.ReplacedBy)
	}
	if s.Client.IP != "" || s.Client.UserAgent != "" {
		fmt.Fprintf(tw, "client\t%s %s\n", s.Client.IP, s.Client.UserAgent)
	}
	return tw.Flush()
}

func history(ctx context.Context, h historyLister, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	userID := fs.String("user", "", "User id")
	limit := fs.Int("limit", 20, "Maximum number of events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("history: -user is required")
	}
	logs, err := h.ListByUser(ctx, *userID, *limit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, a := range logs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.CreatedAt.UTC().Format(time.RFC3339), a.Action, a.IP, a.Metadata)
	}
	return tw.Flush()
}
