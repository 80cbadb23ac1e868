package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/gradebook/internal/assets"
	"github.com/pavelanni/gradebook/internal/commentary"
	"github.com/pavelanni/gradebook/internal/handler"
	appI18n "github.com/pavelanni/gradebook/internal/i18n"
	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/results"
	"github.com/pavelanni/gradebook/internal/scoring"
	"github.com/pavelanni/gradebook/internal/store"
	"github.com/pavelanni/gradebook/internal/upstream"
)

//go:generate templ generate

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gradebook",
		Short: "School result computation and report cards",
	}

	serve := serveCmd()
	root.AddCommand(
		serve,
		importCmd(),
		pullCmd(),
		rankCmd(),
		publishCmd(true),
		publishCmd(false),
		exportCmd(),
		reportCmd(),
		scaleCmd(),
	)

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `gradebook --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// commonFlags registers the flags every command shares.
func commonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "gradebook.db", "SQLite database path")
	f.String("school", "default", "School ID used for classes not yet pulled from the API")
	f.String("scheme", "100", "Default score scheme for schools without one (100, 160)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func upstreamFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("api-url", "", "Result-data API base URL (empty disables remote data and images)")
	f.String("api-token", "", "Bearer token for the result-data API")
	f.Duration("api-timeout", 15*time.Second, "Result-data API request timeout")
}

func classFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("class", "", "Class ID (required)")
	f.String("term", "", "Term ID (required)")
	_ = cmd.MarkFlagRequired("class")
	_ = cmd.MarkFlagRequired("term")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and report server",
		RunE:  runServe,
	}
	commonFlags(cmd)
	upstreamFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Report language (en, fr)")
	f.String("layout", "standard", "Default report layout (standard, terminal)")
	f.String("strategy", "rows", "Default pagination strategy (rows, slice)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /school)")
	f.String("token", "", "Bearer token required by write endpoints (empty disables the check)")
	f.String("llm-url", "", "OpenAI-compatible API base URL (empty disables comment drafts)")
	f.String("llm-key", "", "API key for the LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("tone", string(commentary.ToneWarm), "Comment draft tone (warm, formal)")
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

	v.SetEnvPrefix("GRADEBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("gradebook")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/gradebook")
	v.AddConfigPath("/etc/gradebook")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// schemePreset returns the named built-in score scheme.
func schemePreset(name string) (scoring.Scheme, error) {
	switch strings.TrimSpace(name) {
	case "", "100":
		return scoring.Scheme100, nil
	case "160":
		return scoring.Scheme160, nil
	}
	return scoring.Scheme{}, fmt.Errorf("unknown score scheme %q (want 100 or 160)", name)
}

// env is what every command opens: the store, the optional API client and
// the results service on top of them.
type env struct {
	v        *viper.Viper
	db       *store.Store
	api      *upstream.Client // nil without --api-url
	results  *results.Service
	schoolID string
}

func openEnv(cmd *cobra.Command) (*env, error) {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	scheme, err := schemePreset(v.GetString("scheme"))
	if err != nil {
		return nil, err
	}
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	e := &env{v: v, db: db, schoolID: v.GetString("school")}
	var images *assets.Loader
	if apiURL := v.GetString("api-url"); apiURL != "" {
		e.api, err = upstream.New(apiURL, v.GetString("api-token"), v.GetDuration("api-timeout"))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create API client: %w", err)
		}
		images = assets.NewLoader(e.api)
	}
	e.results = results.New(db, images, e.schoolID, scheme)
	return e, nil
}

func (e *env) Close() error {
	return e.db.Close()
}

func runServe(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	v := e.v

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	var drafter handler.Drafter
	if llmURL := v.GetString("llm-url"); llmURL != "" {
		tone := strings.ToLower(strings.TrimSpace(v.GetString("tone")))
		if !commentary.IsValidTone(tone) {
			slog.Warn("invalid tone, using warm", "tone", tone)
			tone = string(commentary.ToneWarm)
		}
		drafter = commentary.New(llmURL, v.GetString("llm-key"), v.GetString("llm-model"), commentary.Tone(tone))
		slog.Info("comment drafts enabled", "url", llmURL, "model", v.GetString("llm-model"), "tone", tone)
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	cfg := model.Config{
		SchoolID:  e.schoolID,
		Layout:    v.GetString("layout"),
		Strategy:  v.GetString("strategy"),
		BasePath:  basePath,
		Lang:      lang,
		AssetsURL: v.GetString("api-url"),
		APIToken:  v.GetString("token"),
	}
	h, err := handler.New(e.db, e.results, drafter, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"school", e.schoolID,
		"lang", lang,
		"layout", cfg.Layout,
		"strategy", cfg.Strategy,
		"api_url", cfg.AssetsURL,
		"base_path", basePath,
		"write_token", cfg.APIToken != "",
	)
	return http.ListenAndServe(addr, r)
}
