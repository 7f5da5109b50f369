package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/luno/jettison/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"acornsend/internal/acorn"
	"acornsend/internal/config"
	"acornsend/internal/db"
	"acornsend/internal/dispatch"
	"acornsend/internal/domain"
	"acornsend/internal/extract"
	"acornsend/internal/migrate"
	"acornsend/internal/repo"
	"acornsend/internal/schedule"
	"acornsend/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "acornsend",
	Short: "Acorn daily send CLI",
	Long: `acornsend runs the daily Acorn assessment send workflow.
It extracts the day's recipients, dedupes against the idempotency store,
and either previews (dry-run) or performs (confirm-send) the outbound send.
Every run leaves a summary artifact and a severity-graded triage report.`,
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
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ACORNSEND")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(probeCmd())
	rootCmd.AddCommand(purgeCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(serveCmd())
}

// withEngine opens the workspace database, applies migrations, loads config
// with env overrides, and hands a wired engine to fn.
func withEngine(ctx context.Context, fn func(context.Context, dispatch.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := loadConfig(workspace)
	if err != nil {
		return err
	}
	eng := dispatch.New(conn, cfg)
	eng.StorePath = db.Path(workspace)
	eng.Sender = acorn.New(cfg.Send.Endpoint, cfg.Send.ClinicianID, cfg.Send.Timeout.Std())
	return fn(ctx, eng)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// loadConfig reads acornsend.yml and applies environment overrides for the
// settings operators most often need to vary per deployment.
func loadConfig(workspace string) (*config.Config, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("send-endpoint"); v != "" {
		cfg.Send.Endpoint = v
	}
	if v := viper.GetString("clinician-id"); v != "" {
		cfg.Send.ClinicianID = v
	}
	if v := viper.GetString("privacy-salt"); v != "" {
		cfg.Privacy.Salt = v
	}
	if v := viper.GetString("artifact-root"); v != "" {
		cfg.Artifacts.Root = v
	}
	if v := viper.GetString("recipients-path"); v != "" {
		cfg.Recipients.Path = v
	}
	return cfg, cfg.Validate()
}

func runCmd() *cobra.Command {
	var (
		date           string
		dryRun         bool
		confirmSend    bool
		recipients     []string
		recipientsPath string
		summaryOut     string
		triageOut      string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the daily send workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun && confirmSend {
				return fmt.Errorf("--dry-run and --confirm-send are mutually exclusive")
			}
			mode := domain.ModeDryRun
			if confirmSend {
				mode = domain.ModeConfirmSend
			}
			if date == "" {
				date = time.Now().UTC().Format("2006-01-02")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, eng dispatch.Engine) error {
				if recipientsPath != "" {
					eng.Config.Recipients.Path = recipientsPath
				}
				eng.Extractor = extract.FileSource{
					Path:   eng.Config.Recipients.Path,
					Inline: recipients,
				}
				if mode == domain.ModeConfirmSend && len(recipients) == 0 {
					// Confirm-send over extracted recipients gates on source
					// session freshness. Inline recipients carry their own
					// data and need no session; dry-run never needs one.
					eng.Probe = extract.SessionProbe{
						StatePath: eng.Config.Session.StatePath,
						MaxAge:    eng.Config.Session.MaxAge.Std(),
					}
				}
				res, err := eng.Run(ctx, dispatch.RunOptions{
					AsOfDate:    date,
					Mode:        mode,
					SummaryPath: summaryOut,
					TriagePath:  triageOut,
				})
				if err != nil {
					return err
				}
				fmt.Printf("Run %s complete. disposition=%s summary=%s triage=%s\n",
					res.Run.RunID, res.Run.Disposition, res.SummaryPath, res.TriagePath)
				if res.Run.Disposition == domain.DispositionBlocked {
					return fmt.Errorf("run %s blocked; see %s", res.Run.RunID, res.TriagePath)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "target date YYYY-MM-DD (default: today UTC)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview without sending (default mode)")
	cmd.Flags().BoolVar(&confirmSend, "confirm-send", false, "perform outbound sends and write markers")
	cmd.Flags().StringArrayVar(&recipients, "recipient", nil, "inline recipient 'First Last|+15551234567' (repeatable)")
	cmd.Flags().StringVar(&recipientsPath, "recipients-path", "", "JSON recipients file (overrides config)")
	cmd.Flags().StringVar(&summaryOut, "summary-out", "", "explicit summary artifact path")
	cmd.Flags().StringVar(&triageOut, "triage-out", "", "explicit triage artifact path")
	return cmd
}

func scheduleCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the recurring daily send scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, eng dispatch.Engine) error {
				eng.Extractor = extract.FileSource{Path: eng.Config.Recipients.Path}
				job := func(ctx context.Context, asOfDate string) error {
					// Scheduled runs stay in dry-run; confirm-send is always
					// an explicit operator decision.
					_, err := eng.Run(ctx, dispatch.RunOptions{AsOfDate: asOfDate, Mode: domain.ModeDryRun})
					return err
				}
				loc, err := time.LoadLocation(eng.Config.Schedule.Timezone)
				if err != nil {
					return err
				}
				if once {
					return job(ctx, time.Now().In(loc).Format("2006-01-02"))
				}
				s := schedule.Scheduler{Spec: eng.Config.Schedule.Cron, Location: loc, Job: job}
				err = s.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run the job immediately and exit")
	return cmd
}

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check source session freshness",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := loadConfig(workspace)
			if err != nil {
				return err
			}
			p := extract.SessionProbe{StatePath: cfg.Session.StatePath, MaxAge: cfg.Session.MaxAge.Std()}
			res := p.Check()
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Valid {
				return fmt.Errorf("session invalid: %s", res.Reason)
			}
			return nil
		},
	}
}

func purgeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove run artifacts from the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := loadConfig(workspace)
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("pass --yes to remove %s", cfg.Artifacts.Root)
			}
			if err := os.RemoveAll(cfg.Artifacts.Root); err != nil {
				return err
			}
			fmt.Printf("Purged %s\n", cfg.Artifacts.Root)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm removal")
	return cmd
}

func runsCmd() *cobra.Command {
	runs := &cobra.Command{Use: "runs", Short: "Inspect run history"}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Run ID", "Mode", "Date", "Disposition", "Sent", "Skipped", "Failed"})
				for _, run := range items {
					tw.AppendRow(table.Row{
						run.RunID, run.Mode, run.AsOfDate, run.Disposition,
						run.Summary.Sent,
						run.Summary.SkippedIdempotent + run.Summary.SkippedOther,
						run.Summary.Failed,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "max runs to show")
	runs.AddCommand(list)
	return runs
}

func keysCmd() *cobra.Command {
	keys := &cobra.Command{Use: "keys", Short: "Inspect idempotency markers"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List markers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListMarkers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Status", "Run ID", "Written At"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.Key, m.Status, m.RunID, m.WrittenAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	keys.AddCommand(list)
	return keys
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only ops API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				srv := &http.Server{Addr: addr, Handler: server.New(r)}
				go func() {
					<-ctx.Done()
					shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutCtx)
				}()
				fmt.Printf("Serving ops API on http://%s\n", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
