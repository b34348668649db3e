package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"openeconomy/internal/app"
	"openeconomy/internal/config"
	"openeconomy/internal/domain"
	"openeconomy/internal/export"
	"openeconomy/internal/metrics"
	"openeconomy/internal/record"
	"openeconomy/internal/repo"
	"openeconomy/internal/scenario"
	"openeconomy/internal/server"
)

var (
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "oe",
	Short: "OpenEconomy CLI",
	Long: `OpenEconomy applies rules to an economic state under constraints and keeps an
explainable record of every attempt.
- Scenario: a YAML file with the model catalog, an initial state and the acts to run.
- Rule: a formula that turns the current state into the next one.
- Constraint: a check evaluated before a rule; any failing constraint blocks the act and leaves state untouched.
- Record: one entry per act, stored by id. Explanations always use the current labels, so 'oe rename' relabels past runs too.
- Event log: run.recorded, label.renamed and run.exported, view with 'oe log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadOptional(viper.GetString("workspace"))
		if err != nil {
			return err
		}
		if lvl := viper.GetString("log-level"); lvl != "" {
			loaded.Log.Level = lvl
		}
		if secret := viper.GetString("jwt-secret"); secret != "" {
			loaded.Auth.JWTSecret = secret
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		l, err := newLogger(cfg.Log.Level)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("OE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", app.DefaultActor, "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides openeconomy.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindEnv("jwt-secret")
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(explainCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(renameCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(scenarioCmd())
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	zc.Encoding = "console"
	zc.EncoderConfig.TimeKey = ""
	return zc.Build()
}

func runCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a scenario and store the run",
		Long:  "Runs every act of the scenario in order, threading state from one act to the next. A run that fails (unknown rule, formula error) is not stored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Execute(ctx, data, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": res.Run, "record": res.Record})
				}
				fmt.Printf("run %s (%s): %d entries, %d blocked\n", res.Run.ID, res.Run.Scenario, res.Run.EntryCount, res.Run.BlockedCount)
				printEntries(res.Record.Entries())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "scenario file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runsCmd() *cobra.Command {
	runs := &cobra.Command{
		Use:   "runs",
		Short: "Stored runs",
	}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Repo.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Scenario", "Entries", "Blocked", "Created"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Scenario, r.EntryCount, r.BlockedCount, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "number of runs")
	runs.AddCommand(list)
	return runs
}

func explainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain <run|latest> [entry]",
		Short: "Explain a run, or one entry of it, with current labels",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				loaded, err := loadRun(ctx, ws, args[0])
				if err != nil {
					return err
				}
				if len(args) == 2 {
					text, err := loaded.View().ExplainEntry(args[1])
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(map[string]string{"entry_id": args[1], "text": text})
					}
					fmt.Println(text)
					return nil
				}
				if viper.GetBool("json") {
					return printJSON(loaded.Record)
				}
				fmt.Println(loaded.Record.HumanReadable(loaded.Spec))
				return nil
			})
		},
	}
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <run|latest>",
		Short: "Intermediate quantities, blocked acts and trade-offs of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				loaded, err := loadRun(ctx, ws, args[0])
				if err != nil {
					return err
				}
				report := loaded.View().Report()
				if viper.GetBool("json") {
					return printJSON(report)
				}
				iq := table.NewWriter()
				iq.SetOutputMirror(os.Stdout)
				iq.SetTitle("Intermediate quantities")
				iq.AppendHeader(table.Row{"Entry", "Rule", "Key", "Value"})
				for _, q := range report.IntermediateQuantities {
					for _, key := range q.Intermediate.Keys() {
						iq.AppendRow(table.Row{q.EntryID, q.Rule, key, q.Intermediate[key]})
					}
				}
				iq.Render()

				blocked := table.NewWriter()
				blocked.SetOutputMirror(os.Stdout)
				blocked.SetTitle("Blocked acts")
				blocked.AppendHeader(table.Row{"Entry", "Act", "Rule", "Blocked by", "Reasons"})
				for _, b := range report.BlockedActs {
					blocked.AppendRow(table.Row{b.EntryID, b.Act, b.Rule, strings.Join(b.BlockedBy, ", "), strings.Join(b.Reasons, "; ")})
				}
				blocked.Render()

				if len(report.TradeOffs) > 0 {
					fmt.Println("Trade-offs:")
					for _, t := range report.TradeOffs {
						fmt.Println("  - " + t)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func renameCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "rename <parameter|rule|constraint|metric> <id> <label>",
		Short: "Relabel a catalog item for every stored run",
		Long:  "Renames keep ids stable: stored entries reference ids only, so every later explanation of any run shows the new label. The id must exist in the registry of --run (the latest run by default).",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				override, err := ws.Rename(ctx, runID, domain.ReferenceKind(args[0]), args[1], args[2], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(override)
				}
				fmt.Printf("%s %s is now %q\n", override.Kind, override.ID, override.Label)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run whose registry validates the id")
	return cmd
}

func exportCmd() *cobra.Command {
	var dir string
	var toS3 bool
	var bucket, prefix string
	cmd := &cobra.Command{
		Use:   "export <run|latest>",
		Short: "Write a run's record, text and report to a directory or S3",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (dir != "") == toS3 {
				return errors.New("exactly one of --dir or --s3 is required")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				var sink export.Sink = export.FSSink{Dir: dir}
				if toS3 {
					s3cfg := cfg.Export.S3
					if bucket != "" {
						s3cfg.Bucket = bucket
					}
					if prefix != "" {
						s3cfg.Prefix = prefix
					}
					s3sink, err := export.NewS3Sink(ctx, s3cfg)
					if err != nil {
						return err
					}
					sink = s3sink
				}
				runID := args[0]
				if runID == "latest" {
					latest, err := ws.Latest(ctx)
					if err != nil {
						return err
					}
					runID = latest.Run.ID
				}
				keys, err := ws.Export(ctx, runID, sink, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"location": export.Location(sink), "keys": keys})
				}
				for _, k := range keys {
					fmt.Printf("%s/%s\n", strings.TrimRight(export.Location(sink), "/"), k)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "export directory")
	cmd.Flags().BoolVar(&toS3, "s3", false, "export to the bucket in openeconomy.yml")
	cmd.Flags().StringVar(&bucket, "bucket", "", "override export.s3.bucket")
	cmd.Flags().StringVar(&prefix, "prefix", "", "override export.s3.prefix")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Everything that changed the workspace: recorded runs, renames and exports.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				events, err := ws.Repo.LatestEvents(ctx, n, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			ctx := cmd.Context()
			ws, err := app.Open(ctx, viper.GetString("workspace"), logger)
			if err != nil {
				return err
			}
			defer ws.Close()
			collector := metrics.New()
			ws.Observer = collector

			if cfg.Auth.JWTSecret == "" {
				logger.Warn("no jwt secret configured; serving a read-only API")
			}
			handler, err := server.New(server.Config{
				Workspace: ws,
				Metrics:   collector,
				BasePath:  basePath,
				Auth:      server.AuthConfig{JWTSecret: cfg.Auth.JWTSecret},
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			server.NewWebhookDispatcher(ws.Repo, cfg.Webhooks, logger).Start(ctx)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving OpenEconomy API", zap.String("addr", addr), zap.String("base_path", basePath))
			fmt.Printf("Serving OpenEconomy API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var perms []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		Long:  "Signs an HS256 token for --actor-id with the configured auth.jwt_secret (or OE_JWT_SECRET). Grant registry.write to allow renames and runs.write to allow executing scenarios.",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(cfg.Auth.JWTSecret, viper.GetString("actor-id"), perms, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "permission to grant (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Workspace config (openeconomy.yml)",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default openeconomy.yml",
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
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			shown := *cfg
			if shown.Auth.JWTSecret != "" {
				shown.Auth.JWTSecret = "***"
			}
			if viper.GetBool("json") {
				return printJSON(shown)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			return enc.Encode(shown)
		},
	}
	c.AddCommand(initCmd, show)
	return c
}

func scenarioCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "scenario",
		Short: "Scenario files",
	}
	c.AddCommand(&cobra.Command{
		Use:   "example",
		Short: "Print an example scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(scenario.Example)
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Parse and compile a scenario without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := scenario.FromFile(args[0])
			if err != nil {
				return err
			}
			if _, err := s.Compile(); err != nil {
				return err
			}
			fmt.Printf("%s: %d acts OK\n", s.Name, len(s.Acts))
			return nil
		},
	})
	return c
}

// --- helpers ---

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	ws, err := app.Open(ctx, viper.GetString("workspace"), logger)
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func loadRun(ctx context.Context, ws *app.Workspace, id string) (app.LoadedRun, error) {
	if id == "latest" {
		return ws.Latest(ctx)
	}
	return ws.Load(ctx, id)
}

func printEntries(entries []record.Entry) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Entry", "Status", "Blocking", "Notes"})
	for _, e := range entries {
		tw.AppendRow(table.Row{e.ID, e.Status, strings.Join(e.ConstraintsBlocking, ", "), e.Notes})
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
