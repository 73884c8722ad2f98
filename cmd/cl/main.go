package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"cadreline/internal/app"
	"cadreline/internal/config"
	"cadreline/internal/db"
	"cadreline/internal/domain"
	"cadreline/internal/repo"
	"cadreline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Cadreline CLI",
	Long: `Cadreline keeps an organisation's unit tree, who sits where, and the staffing plans that change it.
Core concepts:
- Units: the org tree (branches, departments, teams). Units can be moved, reordered, deactivated.
- Cadres: people on the roster. A cadre holds at most one ACTIVE primary membership.
- Memberships: the ledger of who holds which role at which unit, with start and end dates.
- Conflicts and risk tags: pairs of cadres who should not work together, and per-cadre risk flags.
- Plans: batches of ASSIGN / REMOVE / TRANSFER moves that go DRAFT -> SUBMITTED -> APPROVED -> APPLIED.
  Every transition re-validates the whole plan against the live ledger; apply is all-or-nothing.
- Audit log: every change is recorded, view with 'cl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CADRELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.Bool("json", false, "output JSON")
	pf.String("actor-id", "local-user", "actor identifier recorded in the audit log")
	pf.String("log-level", "", "override log.level")
	pf.String("audit-mode", "", "override audit.mode (all, db, log, off)")
	pf.Bool("block-high-severity", false, "treat HIGH conflicts at a target unit as violations")
	pf.String("jwt-secret", "", "HS256 secret for bearer tokens (serve, token)")
	for _, name := range []string{"workspace", "json", "actor-id", "log-level", "audit-mode", "block-high-severity", "jwt-secret"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(unitCmd())
	rootCmd.AddCommand(cadreCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(conflictCmd())
	rootCmd.AddCommand(riskCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

// configOverrides maps flags and CADRELINE_* variables onto the loaded config.
func configOverrides(cfg *config.Config) {
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := viper.GetString("audit-mode"); v != "" {
		cfg.Audit.Mode = v
	}
	if viper.IsSet("block-high-severity") && viper.GetBool("block-high-severity") {
		cfg.Policy.BlockHighSeverityConflicts = true
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), configOverrides)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			a.Log.Warn("close workspace", zap.Error(err))
		}
	}()
	return fn(ctx, a)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in cadreline.yml in the workspace: conflict policy, retry, audit routing, logging and server settings.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default cadreline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			configOverrides(cfg)
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate cadreline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				configOverrides(cfg)
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				res := map[string]any{"ok": err == nil}
				if err != nil {
					res["error"] = err.Error()
				}
				return printJSON(res)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Read the audit log",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evts, err := a.Engine.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable("ID", "Time", "Actor", "Action", "Target", "Context")
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.TS, e.ActorID, e.Action, e.TargetType + ":" + e.TargetID, e.Context})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Action, "action", "", "action filter")
	cmd.Flags().StringVar(&f.TargetType, "target-type", "", "target type filter")
	cmd.Flags().StringVar(&f.TargetID, "target-id", "", "target id filter")
	cmd.Flags().StringVar(&f.ActorID, "actor", "", "actor filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:        viper.GetString("jwt-secret"),
					AllowActorHeader: a.Config.Server.AllowActorHeader,
					Logger:           a.Log.Named("auth"),
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowActorHeader {
					return errors.New("CADRELINE_JWT_SECRET is required when server.allow_actor_header is false")
				}
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg, Log: a.Log.Named("http")})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info("serving cadreline API", zap.String("addr", addr), zap.String("base_path", basePath))
				fmt.Printf("Serving Cadreline API on http://%s%s (OpenAPI at /openapi.json, docs at /docs, metrics at /metrics)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	return cmd
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for --actor-id signed with the JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return errors.New("CADRELINE_JWT_SECRET is required")
			}
			tok, err := server.IssueToken(secret, actorID())
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

// printRecord renders one object as a field/value table, or JSON with --json.
func printRecord(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		fmt.Println(string(b))
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := newTable("Field", "Value")
	for _, k := range keys {
		tw.AppendRow(table.Row{k, fields[k]})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printViolations(vs []domain.Violation) {
	if len(vs) == 0 {
		fmt.Println("no violations")
		return
	}
	tw := newTable("Seq", "Move", "Cadre", "Code", "Message")
	for _, v := range vs {
		tw.AppendRow(table.Row{v.Seq, v.MoveID, v.CadreID, v.Code, v.Message})
	}
	tw.Render()
}

// reportErr prints violation tables for failed plan transitions before returning err.
func reportErr(err error) error {
	var vf *domain.ValidationFailedError
	if errors.As(err, &vf) && !viper.GetBool("json") {
		printViolations(vf.Violations)
	}
	return err
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
