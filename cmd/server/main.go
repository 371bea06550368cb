// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/tomtom215/drivebackup/internal/api"
	"github.com/tomtom215/drivebackup/internal/archive"
	"github.com/tomtom215/drivebackup/internal/auth"
	"github.com/tomtom215/drivebackup/internal/authz"
	"github.com/tomtom215/drivebackup/internal/backup"
	"github.com/tomtom215/drivebackup/internal/config"
	"github.com/tomtom215/drivebackup/internal/drive"
	"github.com/tomtom215/drivebackup/internal/lock"
	"github.com/tomtom215/drivebackup/internal/logging"
	"github.com/tomtom215/drivebackup/internal/metrics"
	"github.com/tomtom215/drivebackup/internal/models"
	"github.com/tomtom215/drivebackup/internal/paths"
	"github.com/tomtom215/drivebackup/internal/retention"
	"github.com/tomtom215/drivebackup/internal/settings"
	"github.com/tomtom215/drivebackup/internal/supervisor"
	"github.com/tomtom215/drivebackup/internal/supervisor/services"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// lockKey is the settings key of the cooperative backup lock.
const lockKey = "lock/backup"

// app holds the wired components shared by every run mode.
type app struct {
	cfg        *config.Config
	store      *settings.Store
	controller *backup.Controller
	scheduler  *backup.Scheduler
	oauth      api.OAuthService
}

func main() {
	issueToken := flag.String("issue-token", "", "print a signed API token for the given scope (trigger or admin) and exit")
	once := flag.Bool("run-once", false, "resume the pending backup job, or start a new one, and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.Caller = cfg.Logging.Caller
	logging.Init(logCfg)

	if *issueToken != "" {
		if err := printToken(cfg, *issueToken); err != nil {
			logging.Fatal().Err(err).Msg("Failed to issue token")
		}
		return
	}

	logging.Info().
		Str("version", version).
		Str("base_dir", cfg.Backup.BaseDir).
		Str("frequency", cfg.Backup.Frequency).
		Bool("remote_configured", cfg.RemoteConfigured()).
		Msg("Starting Drivebackup")
	metrics.SetAppInfo(version, runtime.Version())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing settings store")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if *once {
		code := runOnce(ctx, a.controller)
		cancel()
		if closeErr := a.store.Close(); closeErr != nil {
			logging.Error().Err(closeErr).Msg("Error closing settings store")
		}
		os.Exit(code)
	}

	a.serve(ctx)
	logging.Info().Msg("Application stopped gracefully")
}

// newApp opens the settings store and wires the backup pipeline. The remote
// side is only built when OAuth client credentials are configured; otherwise
// jobs stop after the local archive.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := settings.Open(settings.Options{
		Path:     cfg.StorePath(),
		InMemory: cfg.Store.InMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}
	logging.Info().Str("path", cfg.StorePath()).Msg("Settings store opened")

	deps := backup.Dependencies{
		Config:   cfg,
		Store:    store,
		Lock:     lock.New(store, lockKey),
		Resolver: paths.NewResolver(cfg.Backup.BaseDir, cfg.Backup.SourcePaths, cfg.DumpPath()),
		Dumper:   archive.NewDumper(cfg.Dump.Command, cfg.Dump.Args, cfg.DumpPath()),
		Archiver: archive.NewBuilder(),
		Notifier: backup.NewNotifier(cfg.Notify),
	}

	a := &app{cfg: cfg, store: store}

	// Interfaces stay nil, not typed-nil, when the remote side is off.
	var remote retention.RemoteDeleter
	if cfg.RemoteConfigured() {
		oauthMgr, client, err := newRemote(ctx, cfg, store)
		if err != nil {
			_ = store.Close() //nolint:errcheck // Already failing
			return nil, err
		}
		deps.Uploader = client
		deps.Auth = oauthMgr
		remote = client
		a.oauth = oauthMgr
	} else {
		logging.Warn().Msg("OAuth client credentials not set - archives are kept locally only")
	}

	deps.Purger = retention.NewManager(retention.Policy{
		LocalNumber: cfg.Backup.LocalNumber,
		DriveNumber: cfg.Backup.DriveNumber,
	}, remote)

	controller, err := backup.NewController(deps)
	if err != nil {
		_ = store.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("create backup controller: %w", err)
	}

	scheduler := backup.NewScheduler(controller, cfg.ScheduleInterval(), cfg.Backup.RetryDelay)
	controller.SetRetryScheduler(scheduler)

	a.controller = controller
	a.scheduler = scheduler
	return a, nil
}

// newRemote builds the OAuth manager and the upload client that rides on its
// authorized HTTP client.
func newRemote(ctx context.Context, cfg *config.Config, store *settings.Store) (*auth.Manager, *drive.Client, error) {
	var enc *config.CredentialEncryptor
	if cfg.Security.JWTSecret != "" {
		var err error
		enc, err = config.NewCredentialEncryptor(cfg.Security.JWTSecret)
		if err != nil {
			return nil, nil, fmt.Errorf("create credential encryptor: %w", err)
		}
	} else {
		logging.Warn().Msg("JWT_SECRET not set - the stored refresh token is not encrypted")
	}

	oauthMgr, err := auth.NewManager(ctx, cfg.OAuth, store, enc, &http.Client{Timeout: cfg.Drive.RequestTimeout})
	if err != nil {
		return nil, nil, fmt.Errorf("create OAuth manager: %w", err)
	}
	if !oauthMgr.Authorized() {
		logging.Warn().Msg("Remote store not authorized yet - visit /api/v1/oauth/authorize with an admin token")
	}

	records := drive.NewResumeStore(store, cfg.Backup.LockTTL)
	client := drive.NewClient(cfg.Drive, oauthMgr.HTTPClient(), records)
	logging.Info().
		Str("folder_id", cfg.Drive.FolderID).
		Float64("chunk_size_mib", cfg.Drive.ChunkSizeMiB).
		Dur("time_limit", cfg.Drive.TimeLimit).
		Msg("Remote upload client configured")
	return oauthMgr, client, nil
}

// runOnce continues the newest pending job, which is how a suspended upload
// makes progress on cron-driven hosts, and starts a new job only when nothing
// is pending. The outcome is mapped to an exit code.
func runOnce(ctx context.Context, runner backup.JobRunner) int {
	quiet := backup.ReporterFunc(func(models.LogEntry) {})

	res, err := runner.RetryScan(ctx, quiet)
	if errors.Is(err, backup.ErrNothingToRetry) {
		res, err = runner.RunJob(ctx, "", quiet)
	}
	if err != nil {
		logging.Error().Err(err).Msg("Backup job did not run")
		return 1
	}

	event := logging.Info()
	if res.Outcome == backup.OutcomeFailed {
		event = logging.Error().Err(res.Err)
	}
	if res.Job != nil {
		event = event.Str("job_id", res.Job.ID)
	}
	event.Str("outcome", string(res.Outcome)).Msg("Backup job finished")

	return exitCode(res.Outcome)
}

// exitCode is 0 for every outcome that leaves nothing for the operator to do.
// A suspended or rescheduled job is picked up by the next invocation.
func exitCode(outcome backup.Outcome) int {
	if outcome == backup.OutcomeFailed {
		return 1
	}
	return 0
}

// serve runs the supervisor tree until ctx is cancelled.
func (a *app) serve(ctx context.Context) {
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  a.cfg.Server.ShutdownTimeout + 5*time.Second,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddBackupService(services.NewBackupSchedulerService(a.scheduler))
	tree.AddBackupService(services.NewStoreGCService(a.store, a.cfg.Store.GCInterval))

	if a.cfg.Server.Enabled {
		handler, err := a.httpHandler()
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize HTTP API")
		}
		server := services.NewHTTPServer(a.cfg.Server, handler)
		tree.AddAPIService(services.NewHTTPServerService(server, a.cfg.Server.ShutdownTimeout))
	} else {
		logging.Info().Msg("HTTP API disabled (API_ENABLED=false)")
	}

	if next := a.scheduler.NextRun(); next != nil {
		logging.Info().Time("next_run", *next).Msg("Scheduled backups enabled")
	}

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport() //nolint:errcheck // Report is best effort
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}
}

// httpHandler builds the API router. Trigger tokens are signed with the
// JWT secret, so the API refuses to start without one. A configured policy
// file that cannot be loaded is fatal too.
func (a *app) httpHandler() (http.Handler, error) {
	triggers, err := auth.NewTriggerManager(&a.cfg.Security)
	if err != nil {
		return nil, err
	}
	enforcer, err := authz.NewEnforcer(&authz.EnforcerConfig{PolicyPath: a.cfg.Security.PolicyPath})
	if err != nil {
		return nil, err
	}
	handler := api.NewHandler(a.controller, a.scheduler, a.oauth, version)
	mw := api.NewChiMiddleware(api.ChiMiddlewareConfigFromSecurity(a.cfg.Security))
	return api.NewRouter(handler, triggers, enforcer, mw).SetupChi(), nil
}

// printToken writes a signed token for scope to stdout.
func printToken(cfg *config.Config, scope string) error {
	triggers, err := auth.NewTriggerManager(&cfg.Security)
	if err != nil {
		return err
	}
	token, err := triggers.GenerateToken("cli", scope)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
