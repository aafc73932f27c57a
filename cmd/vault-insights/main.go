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
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vaultinsights/internal/app"
	"vaultinsights/internal/config"
	"vaultinsights/internal/history"
	"vaultinsights/internal/logging"
	"vaultinsights/internal/render"
	"vaultinsights/internal/server"
)

var rootCmd = newRootCmd()

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	config.InitEnv(viper.GetViper())
}

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, "error:", err)
	if errors.Is(err, config.ErrInvalidCredentials) {
		fmt.Fprintln(w)
		fmt.Fprintln(w, config.Help(configPath()))
	}
}

func newRootCmd() *cobra.Command {
	var projects []string
	var noHistory bool
	cmd := &cobra.Command{
		Use:   "vault-insights",
		Short: "What has been happening with your projects these days? Time to figure it out!",
		Long: `vault-insights fetches projects from the vault, looks at the latest status
comment of each one and splits them into OUTDATED and UPDATED tables.

Credentials live in ~/.config/vault-insights (TOML: key, token, vault_url) or in
VAULT_INSIGHTS_KEY, VAULT_INSIGHTS_TOKEN and VAULT_INSIGHTS_VAULT_URL.`,
		Example:       "  vault-insights --projects 12,40,41 --since-days-ago 7",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(viper.GetString("log_level"), cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, projects, noHistory)
		},
	}
	addPersistentFlags(cmd)
	cmd.Flags().StringSliceVarP(&projects, "projects", "p", nil, "project IDs from the vault (comma separated or repeated)")
	cmd.Flags().IntP("since-days-ago", "s", config.DefaultSinceDays, "fetch projects updated since the amount of days specified")
	cmd.Flags().IntP("concurrency", "c", config.DefaultConcurrency, "maximum number of requests in flight")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record this run in the history database")
	_ = viper.BindPFlag("since_days_ago", cmd.Flags().Lookup("since-days-ago"))
	_ = viper.BindPFlag("concurrency", cmd.Flags().Lookup("concurrency"))

	cmd.AddCommand(configCmd())
	cmd.AddCommand(historyCmd())
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(tokenCmd())
	return cmd
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "config file (default ~/.config/vault-insights)")
	cmd.PersistentFlags().StringP("output", "o", render.FormatTable, "output format: table, json or yaml")
	cmd.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn or error")
	cmd.PersistentFlags().String("history-db", "", "history database path")
	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("output", cmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("history_db", cmd.PersistentFlags().Lookup("history-db"))
}

func runReport(cmd *cobra.Command, projects []string, noHistory bool) error {
	ids, err := app.ParseProjectIDs(projects)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("--projects required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx := cmd.Context()
	var recorder app.Recorder
	if !noHistory {
		store, err := history.Open(ctx, cfg.HistoryDB)
		if err != nil {
			slog.Warn("run history disabled", "path", cfg.HistoryDB, "error", err)
		} else {
			defer store.Close()
			recorder = store
		}
	}
	runner, err := app.New(cfg, recorder, slog.Default())
	if err != nil {
		return err
	}
	rep, err := runner.Run(ctx, app.Options{
		ProjectIDs:   ids,
		SinceDaysAgo: cfg.SinceDaysAgo,
		Concurrency:  cfg.Concurrency,
	})
	if err != nil {
		return err
	}
	return render.Report(cmd.OutOrStdout(), rep, viper.GetString("output"))
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Inspect or create the configuration file"}
	cfgCmd.AddCommand(configShowCmd())
	cfgCmd.AddCommand(configValidateCmd())
	cfgCmd.AddCommand(configInitCmd())
	return cfgCmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (token redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetString("output") == render.FormatJSON {
				return render.JSON(cmd.OutOrStdout(), cfg.Redacted())
			}
			out, err := cfg.ToYAML()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that key, token and vault_url are set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok (%s)\n", configPath())
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration template",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s; fill in key, token and vault_url\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func historyCmd() *cobra.Command {
	h := &cobra.Command{Use: "history", Short: "Show previously recorded runs"}
	h.AddCommand(historyListCmd())
	h.AddCommand(historyShowCmd())
	return h
}

func historyListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd.Context(), func(ctx context.Context, store *history.Store) error {
				runs, err := store.List(ctx, limit)
				if err != nil {
					return err
				}
				switch viper.GetString("output") {
				case render.FormatJSON:
					return render.JSON(cmd.OutOrStdout(), runs)
				case render.FormatYAML:
					return render.YAML(cmd.OutOrStdout(), runs)
				}
				render.Runs(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs")
	return cmd
}

func historyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the tables of one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd.Context(), func(ctx context.Context, store *history.Store) error {
				run, err := store.Get(ctx, args[0])
				if err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				switch viper.GetString("output") {
				case render.FormatJSON:
					return render.JSON(cmd.OutOrStdout(), run)
				case render.FormatYAML:
					return render.YAML(cmd.OutOrStdout(), run)
				}
				return render.Tables(cmd.OutOrStdout(), app.ReportFromRun(run))
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cmd.Context(), cfg.HistoryDB)
			if err != nil {
				return err
			}
			defer store.Close()
			runner, err := app.New(cfg, store, slog.Default())
			if err != nil {
				return err
			}
			handler, err := server.New(server.Config{
				Reporter:     runner,
				Runs:         store,
				BasePath:     basePath,
				Auth:         server.AuthConfig{JWTSecret: viper.GetString("jwt_secret")},
				SinceDaysAgo: cfg.SinceDaysAgo,
				Concurrency:  cfg.Concurrency,
				Logger:       slog.Default(),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			if viper.GetString("jwt_secret") == "" {
				slog.Warn("serving without authentication; set VAULT_INSIGHTS_JWT_SECRET to require bearer tokens")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving vault-insights API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the serve API",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt_secret"), subject, ttl, time.Now())
			if err != nil {
				return fmt.Errorf("%w (set VAULT_INSIGHTS_JWT_SECRET)", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

// --- helpers ---

func configPath() string {
	if p := viper.GetString("config"); p != "" {
		return p
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper(), configPath())
}

func withHistory(ctx context.Context, fn func(context.Context, *history.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := history.Open(ctx, cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}
