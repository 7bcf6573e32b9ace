package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/agrohub/agrohub/cmd/manage/cli"
	"github.com/agrohub/agrohub/internal/app"
	"github.com/agrohub/agrohub/internal/platform/db"
	"github.com/agrohub/agrohub/internal/shared"
	"github.com/agrohub/agrohub/internal/users"
	"github.com/agrohub/agrohub/jobs"
	"github.com/agrohub/agrohub/migrations"
)

const usage = `usage: manage <command> [flags]

commands:
  migrate       apply the database schema
  createadmin   create the first superuser
  jobs          trigger background jobs or inspect the queue
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping manage command")
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[0] {
	case "migrate":
		return migrate(ctx, stdout, stderr)
	case "createadmin":
		return createAdmin(ctx, args[1:], stdout, stderr)
	case "jobs":
		return jobsCommand(ctx, args[1:], stdout, stderr)
	case "-h", "--help", "help":
		_, _ = fmt.Fprint(stdout, usage)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "manage: unknown command %q\n\n%s", args[0], usage)
		return 2
	}
}

func migrate(ctx context.Context, stdout, stderr io.Writer) int {
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate: load config: %v\n", err)
		return 1
	}
	pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: 2})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate: %v\n", err)
		return 1
	}
	defer pool.Close()

	applied, err := migrations.Apply(ctx, pool)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate: %v\n", err)
		return 1
	}
	for _, name := range applied {
		_, _ = fmt.Fprintf(stdout, "applied %s\n", name)
	}
	return 0
}

func createAdmin(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("createadmin", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := cli.CreateAdminOptions{Stdout: stdout, Stderr: stderr}
	fs.StringVar(&opts.Username, "username", "", "username of the superuser (required)")
	fs.StringVar(&opts.Email, "email", "", "email address (required)")
	fs.StringVar(&opts.Password, "password", "", "password, at least 8 characters (required)")
	fs.StringVar(&opts.FirstName, "first-name", "", "given name")
	fs.StringVar(&opts.LastName, "last-name", "", "family name")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "createadmin: load config: %v\n", err)
		return 1
	}
	pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: 2})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "createadmin: %v\n", err)
		return 1
	}
	defer pool.Close()

	helper, err := cli.NewAdminCLI(users.NewService(users.NewRepository(pool)), shared.NewAuditLogger(pool))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "createadmin: %v\n", err)
		return 1
	}
	return helper.CreateAdminCommand(ctx, opts)
}

// jobsHelper is the part of cli.JobsCLI the jobs subcommands use.
type jobsHelper interface {
	Trigger(ctx context.Context, name, message string) (*asynq.TaskInfo, error)
	InspectQueues(ctx context.Context) ([]jobs.QueueHealth, error)
	Close() error
}

var newJobsHelper = func(cfg *app.Config) jobsHelper {
	return cli.NewJobsCLI(cfg.RedisOptions())
}

const jobsUsage = "usage: manage jobs trigger <purge_sessions|broadcast> [--message text] | stats"

func jobsCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || (args[0] == "trigger" && len(args) < 2) {
		_, _ = fmt.Fprintln(stderr, jobsUsage)
		return 2
	}

	var name, message string
	switch args[0] {
	case "trigger":
		name = args[1]
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		fs.SetOutput(stderr)
		fs.StringVar(&message, "message", "", "announcement text for broadcast")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		if fs.NArg() > 0 {
			_, _ = fmt.Fprintf(stderr, "jobs: unexpected argument %q\n%s\n", fs.Arg(0), jobsUsage)
			return 2
		}
	case "stats":
	default:
		_, _ = fmt.Fprintf(stderr, "jobs: unknown subcommand %q\n%s\n", args[0], jobsUsage)
		return 2
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs: load config: %v\n", err)
		return 1
	}
	helper := newJobsHelper(cfg)
	defer func() {
		if err := helper.Close(); err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs: close: %v\n", err)
		}
	}()

	if name != "" {
		info, err := helper.Trigger(ctx, name, message)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "enqueued %s as %s on queue %s\n", info.Type, info.ID, info.Queue)
		return 0
	}

	queues, err := helper.InspectQueues(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs: %v\n", err)
		return 1
	}
	for _, q := range queues {
		_, _ = fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d failed=%d paused=%t\n",
			q.Queue, q.Pending, q.Active, q.Scheduled, q.Retry, q.Failed, q.Paused)
	}
	return 0
}
