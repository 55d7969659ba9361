package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/proctor/internal/export"
	"github.com/pavelanni/proctor/internal/handler"
	appI18n "github.com/pavelanni/proctor/internal/i18n"
	"github.com/pavelanni/proctor/internal/live"
	"github.com/pavelanni/proctor/internal/llm"
	"github.com/pavelanni/proctor/internal/metrics"
	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/proctor"
	"github.com/pavelanni/proctor/internal/store"
	"github.com/pavelanni/proctor/internal/tracker"
	"github.com/pavelanni/proctor/internal/video"
	"github.com/pavelanni/proctor/internal/viva"
)

func main() {
	// A missing .env file is fine; the environment is used as is.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "proctor",
		Short: "Online exam proctoring server",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `proctor --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "proctor.db", "SQLite database path")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for LLM (viva generation and style analysis are off without one)")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.StringP("lang", "l", "en", "Default language for student messages (en, ru)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /proctor)")
	f.String("redis-url", "", "Redis URL for shared suspicion state (in-memory when empty)")
	f.Duration("tracker-idle", 3*time.Hour, "Drop suspicion state of sessions idle this long")
	f.String("video-dir", "exam_videos", "Directory for master video recordings")
	f.String("video-s3-bucket", "", "Store video chunks in this S3 bucket instead of video-dir")
	f.String("video-s3-prefix", "exam_videos", "Key prefix for video chunks in S3")
	f.String("aws-region", "us-east-1", "AWS region of the video bucket")
	f.Float64("viva-score-threshold", 3.0, "Cumulative suspicion score that triggers a viva")
	f.Int("viva-flag-threshold", 3, "Number of flagged events that triggers a viva")
	f.Bool("viva-retry-failed", false, "Allow another viva after a failed generation attempt")
	f.Int("viva-workers", 4, "Background workers generating vivas")
	f.Int("viva-queue", 64, "Pending viva requests before new ones are dropped")
	f.StringSlice("allowed-origins", nil, "Extra browser origins allowed to open the live channel (same host is always allowed)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set PROCTOR_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export scored exam events as gzip-compressed JSON lines",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "proctor.db", "SQLite database path")
	f.String("exam-id", "", "Export only this exam (all exams when empty)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("PROCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("proctor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/proctor")
	v.AddConfigPath("/etc/proctor")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	policy := tracker.Policy{
		Thresholds: tracker.Thresholds{
			Score: v.GetFloat64("viva-score-threshold"),
			Flags: v.GetInt("viva-flag-threshold"),
		},
		RetryFailedViva: v.GetBool("viva-retry-failed"),
	}
	trk, err := newTracker(ctx, v, policy)
	if err != nil {
		return err
	}

	sink, err := newVideoSink(ctx, v)
	if err != nil {
		return err
	}

	llmClient := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
	if v.GetString("llm-key") == "" {
		slog.Warn("no LLM key configured, vivas and style analysis are disabled")
	}

	svc := proctor.NewService(db, db, trk, sink)
	hub := live.NewHub(svc, live.WithAllowedOrigins(v.GetStringSlice("allowed-origins")...))
	orch := viva.New(trk, db, llmClient, db, hub,
		viva.WithWorkers(v.GetInt("viva-workers")),
		viva.WithQueueSize(v.GetInt("viva-queue")),
		viva.WithInstructions(appI18n.T(appI18n.Context(lang), "VivaInstructions")),
		viva.WithObserver(func(res viva.Result) {
			metrics.VivaOutcomes.WithLabelValues(string(res.Outcome)).Inc()
		}),
	)
	svc.Wire(hub, orch)

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	h := handler.New(db, llmClient, trk, hub, model.Config{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		Lang:          lang,
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	if basePath != "" {
		r.Route(basePath, h.Routes)
	} else {
		h.Routes(r)
	}

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go cleanupAuthSessions(ctx, db)
	if mem, ok := trk.(*tracker.Memory); ok {
		go mem.RunSweeper(ctx, 10*time.Minute, v.GetDuration("tracker-idle"))
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"model", v.GetString("llm-model"),
			"llm_url", v.GetString("llm-url"),
			"lang", lang,
			"base_path", basePath,
			"score_threshold", policy.Thresholds.Score,
			"flag_threshold", policy.Thresholds.Flags,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	// Hijacked WebSocket connections are not tracked by Shutdown.
	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	orch.Close()
	h.Wait()
	slog.Info("shutdown complete")
	return nil
}

func newTracker(ctx context.Context, v *viper.Viper, p tracker.Policy) (tracker.Tracker, error) {
	url := v.GetString("redis-url")
	if url == "" {
		slog.Info("using in-memory suspicion tracker")
		return tracker.NewMemory(p), nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	slog.Info("using redis suspicion tracker", "addr", opts.Addr)
	return tracker.NewRedis(rdb, p, v.GetDuration("tracker-idle")), nil
}

func newVideoSink(ctx context.Context, v *viper.Viper) (video.Sink, error) {
	bucket := v.GetString("video-s3-bucket")
	if bucket == "" {
		dir := v.GetString("video-dir")
		slog.Info("storing video on disk", "dir", dir)
		return video.NewFileSink(dir), nil
	}
	sink, err := video.NewS3Sink(ctx, v.GetString("aws-region"), bucket, v.GetString("video-s3-prefix"))
	if err != nil {
		return nil, fmt.Errorf("create S3 video sink: %w", err)
	}
	slog.Info("storing video in S3", "bucket", bucket, "prefix", v.GetString("video-s3-prefix"))
	return sink, nil
}

func cleanupAuthSessions(ctx context.Context, db *store.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.CleanupExpiredSessions(ctx); err != nil {
				slog.Warn("cleanup expired auth sessions", "error", err)
			}
		}
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := export.Write(cmd.Context(), db, v.GetString("exam-id"), w); err != nil {
		return err
	}
	return nil
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or PROCTOR_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
