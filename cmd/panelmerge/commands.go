package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/khg9859/Eternal/internal/blob"
	"github.com/khg9859/Eternal/internal/config"
	"github.com/khg9859/Eternal/internal/ingest"
	"github.com/khg9859/Eternal/internal/metrics"
	"github.com/khg9859/Eternal/internal/profile"
	"github.com/khg9859/Eternal/internal/store"
	"github.com/khg9859/Eternal/internal/store/postgres"
	"github.com/khg9859/Eternal/internal/store/sqlite"
	"github.com/khg9859/Eternal/internal/web"
)

// openStore connects to the configured backend and applies migrations.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (a *app) orchestrator(ctx context.Context, st store.Store, m *metrics.Metrics, skipUnchanged bool) (*ingest.Orchestrator, error) {
	opener, err := blob.Open(ctx, a.cfg.Input)
	if err != nil {
		return nil, err
	}
	return ingest.New(st, opener, ingest.Options{
		BatchSize:     a.cfg.Ingest.BatchSize,
		SkipUnchanged: skipUnchanged,
		Timeout:       a.cfg.Ingest.Timeout,
		Metrics:       m,
	}), nil
}

func (a *app) ingestCommand(c *cli.Context) error {
	ctx, stop := signalContext(c.Context)
	defer stop()

	st, err := openStore(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New()
	skip := a.cfg.Ingest.SkipUnchanged || c.Bool("skip-unchanged")
	orch, err := a.orchestrator(ctx, st, m, skip)
	if err != nil {
		return err
	}

	plan, err := orch.Plan(ctx, c.StringSlice("source"))
	if err != nil {
		return err
	}
	slog.Info("ingest starting", "sources", len(plan.Sources), "skip_unchanged", skip)

	report, runErr := orch.Run(ctx, plan)
	printRuns(c, report.Runs)

	if err := m.Push(context.WithoutCancel(ctx), a.cfg.Metrics.PushURL, a.cfg.Metrics.Job); err != nil {
		slog.Warn("metrics push failed", "error", err)
	}
	if runErr != nil {
		return runErr
	}
	return report.Err()
}

func (a *app) sourcesCommand(c *cli.Context) error {
	ctx := c.Context
	st, err := openStore(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	orch, err := a.orchestrator(ctx, st, nil, false)
	if err != nil {
		return err
	}
	plan, err := orch.Plan(ctx, c.StringSlice("source"))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tKIND\tPREFIX\tDATA\tCODEBOOK")
	for _, p := range plan.Sources {
		data := p.DataKey
		if data == "" {
			data = "(missing " + p.Source.DataFile + ")"
		}
		codebook := p.CodebookKey
		if codebook == "" {
			codebook = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID(), p.Source.Name, p.Prefix, data, codebook)
	}
	return tw.Flush()
}

func (a *app) serveCommand(c *cli.Context) error {
	ctx, stop := signalContext(c.Context)
	defer stop()

	st, err := openStore(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	server := web.NewServer(st, metrics.New(), a.cfg.Server, a.cfg.Security)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (a *app) profilesCommand(c *cli.Context) error {
	ctx, stop := signalContext(c.Context)
	defer stop()

	st, err := openStore(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New()
	res, err := profile.New(st, c.Int("batch-size"), slog.Default()).Build(ctx)
	if err != nil {
		return err
	}
	m.AddProfiles(res.Profiles)
	fmt.Fprintf(c.App.Writer, "profiles: %d written, %d vectors averaged, %d skipped\n",
		res.Profiles, res.Vectors, res.Skipped)

	if err := m.Push(ctx, a.cfg.Metrics.PushURL, a.cfg.Metrics.Job); err != nil {
		slog.Warn("metrics push failed", "error", err)
	}
	return nil
}

func (a *app) resetCommand(c *cli.Context) error {
	if !c.Bool("yes") {
		return errors.New("reset drops every panel table; pass --yes to confirm")
	}
	ctx := c.Context
	st, err := openStore(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.DropAll(ctx); err != nil {
		return err
	}
	slog.Warn("all panel tables dropped", "tables", store.Tables)
	fmt.Fprintf(c.App.Writer, "dropped %d tables\n", len(store.Tables))
	return nil
}

func printRuns(c *cli.Context, runs []store.Run) {
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tPREFIX\tSTATE\tRESPONDENTS\tCODEBOOKS\tANSWERS\tSKIPPED\tERROR")
	for _, r := range runs {
		state := string(r.State)
		if r.FailedPhase != "" {
			state += "/" + string(r.FailedPhase)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.Source, r.Prefix, state, r.Respondents, r.Codebooks, r.Answers, r.SkippedRows, r.Error)
	}
	tw.Flush()
}
