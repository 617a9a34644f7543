package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"labelflow/internal/app"
	"labelflow/internal/config"
	"labelflow/internal/db"
	"labelflow/internal/domain"
	"labelflow/internal/engine"
	"labelflow/internal/lifecycle"
	"labelflow/internal/repo"
	"labelflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "lf",
	Short: "Labelflow CLI",
	Long: `Labelflow coordinates data labeling projects between submitters, labelers and validators.
- Workspace: the .labelflow directory with the SQLite database, next to an optional labelflow.yml.
- Project: a batch of files moving Task Listed -> Labeling Started -> ... -> Completed; progress follows the status in steps of ten.
- Labelers claim and submit; validators claim, send back or finalize; the submitter completes and leaves feedback.
- Tasks: reference questions with an image; reviewers answer yes or no with a reason.
- Event log: every change is recorded, view with 'lf log tail'.`,
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
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}
	viper.SetEnvPrefix("LABELFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "", "acting user id")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("offline", false, "skip redis, nats and tracing")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("offline", rootCmd.PersistentFlags().Lookup("offline"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sc := &a.Config.Server
				if basePath != "" {
					sc.BasePath = basePath
				}
				if secret := viper.GetString("jwt-secret"); secret != "" {
					sc.JWTSecret = secret
				}
				if sc.JWTSecret == "" && !sc.AllowHeaderIdentity {
					return fmt.Errorf("LABELFLOW_JWT_SECRET (or server.jwt_secret) is required for bearer auth")
				}
				if addr == "" {
					addr = sc.Addr
				}
				fmt.Printf("Serving Labelflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, sc.BasePath, sc.BasePath)
				return a.ListenAndServe(ctx, addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := actorID()
			if err != nil {
				return err
			}
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				cfg, err := config.Load(viper.GetString("workspace"))
				if err != nil {
					return err
				}
				secret = cfg.Server.JWTSecret
			}
			token, err := server.SignToken(secret, userID, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": token, "user_id": userID, "expires_in": ttl.String()})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect labelflow.yml",
		Long:  "labelflow.yml lives in the workspace. Missing keys fall back to defaults; 'lf config show --default' prints the template.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	var showDefault bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showDefault {
				fmt.Print(config.GenerateDefault())
				return nil
			}
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	cmd.Flags().BoolVar(&showDefault, "default", false, "print the default template")
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate labelflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				msg := ""
				if err != nil {
					msg = err.Error()
				}
				return printJSON(map[string]any{"ok": err == nil, "error": msg, "path": config.Path(viper.GetString("workspace"))})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every project transition, task response and profile change, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printEvents(items)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind (project, task, user)")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	return app.NewLogger(os.Stderr, level)
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Build(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Logger:    logger(),
		Offline:   viper.GetBool("offline"),
	})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

func actorID() (string, error) {
	id := strings.TrimSpace(viper.GetString("user-id"))
	if id == "" {
		return "", fmt.Errorf("--user-id (or LABELFLOW_USER_ID) required")
	}
	return id, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printProjects(items []domain.Project) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Status", "Progress", "Priority", "Submitter", "Labelers", "Validators", "Version"})
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Name, p.Status, fmt.Sprintf("%d%%", p.Progress), p.Priority, p.Submitter,
			strings.Join(p.Labelers, ","), strings.Join(p.Validators, ","), p.Version})
	}
	tw.Render()
}

func printProject(p domain.Project) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"ID", p.ID},
		{"Name", p.Name},
		{"Status", p.Status},
		{"Progress", fmt.Sprintf("%d%%", p.Progress)},
		{"Next", strings.Join(successorLabels(p.Status), ", ")},
		{"Priority", p.Priority},
		{"Submitter", p.Submitter},
		{"Labelers", strings.Join(p.Labelers, ", ")},
		{"Validators", strings.Join(p.Validators, ", ")},
		{"Files", len(p.FileIDs)},
		{"Labelled", len(p.LabelledFileIDs)},
		{"Validated", len(p.ValidatedFileIDs)},
		{"Last activity", p.LastActivity},
		{"Version", p.Version},
	})
	tw.Render()
	return nil
}

func successorLabels(status string) []string {
	s, err := lifecycle.ParseStatus(status)
	if err != nil {
		return nil
	}
	var out []string
	for _, next := range lifecycle.Successors(s) {
		out = append(out, next.String())
	}
	return out
}

func printEvents(items []domain.Event) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
	for _, evt := range items {
		tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
	}
	tw.Render()
}
