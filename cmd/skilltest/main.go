package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crewhall/skilltest/internal/engine"
	"github.com/crewhall/skilltest/internal/handler"
	"github.com/crewhall/skilltest/internal/model"
	"github.com/crewhall/skilltest/internal/notify"
	"github.com/crewhall/skilltest/internal/store"
	"github.com/crewhall/skilltest/internal/template"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "skilltest",
		Short: "Field skill test evaluation engine and server",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `skilltest --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP test server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "skilltest.db", "SQLite database path")
	f.StringSliceP("templates", "t", nil, "Paths to template JSON files (repeatable)")
	f.Int("passfail-weight", 1, "Point weight of each critical pass/fail criterion in the overall score")
	f.Duration("tick-interval", time.Second, "Session timer tick interval")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export test results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "skilltest.db", "SQLite database path")
	f.String("event-id", "", "Event identifier for output (required)")
	f.String("station", "", "Station or drill ground name for output (required)")
	f.String("date", "", "Event date in YYYY-MM-DD format (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("event-id")
	_ = cmd.MarkFlagRequired("station")
	_ = cmd.MarkFlagRequired("date")

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

	v.SetEnvPrefix("SKILLTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("skilltest")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/skilltest")
	v.AddConfigPath("/etc/skilltest")
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

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Load templates from all specified files.
	if err := loadTemplates(db, v.GetStringSlice("templates")); err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	m := engine.NewManager(db, db, notify.LogNotifier{})
	m.Strategy = engine.PointsStrategy{PassFailWeight: v.GetInt("passfail-weight")}
	m.TickInterval = v.GetDuration("tick-interval")
	defer m.Close()

	h := handler.New(m, db)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"passfail_weight", v.GetInt("passfail-weight"),
		"tick_interval", v.GetDuration("tick-interval"),
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	results, err := db.ExportAllTests()
	if err != nil {
		return fmt.Errorf("export tests: %w", err)
	}

	export := model.TestExport{
		EventID:  v.GetString("event-id"),
		Station:  v.GetString("station"),
		Date:     v.GetString("date"),
		NumTests: len(results),
		Results:  results,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

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

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

// loadTemplates imports template files, skipping unchanged ones and refusing
// changed ones so tests created against the original definition keep
// working.
func loadTemplates(db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}

		if storedHash == hash {
			slog.Info("template file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("template file changed since last import, skipping to avoid breaking existing tests",
				"path", path)
			continue
		}

		tpl, err := template.Parse(data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		id, err := db.SaveTemplate(tpl)
		if err != nil {
			return fmt.Errorf("save template from %s: %w", path, err)
		}

		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported template", "path", path, "id", id, "name", tpl.Name)
	}

	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
