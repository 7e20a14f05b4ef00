package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"portcall/internal/app"
	"portcall/internal/config"
	"portcall/internal/domain"
	"portcall/internal/engine"
	"portcall/internal/repo"
	"portcall/internal/server"
	"portcall/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:   "portcall",
	Short: "Port call execution CLI",
	Long: `portcall records what actually happens during a vessel's port call and keeps the day's
operation plan consistent with it.
- Visit: a planned vessel call, registered up front.
- Execution: the factual record of one visit (arrival, berth, operations, departure), coded VVEyyyynnnnnn.
- Task: a complementary activity (mooring, pilotage, ...) scheduled against an execution, coded CATEGORY[n].
- Plan: the day's operations; revising a visit runs the conflict detector and is audited.
- Event log: every accepted change, view with 'portcall log tail'.`,
	SilenceUsage: true,
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
	// .env is optional
	_ = godotenv.Load(filepath.Join(viper.GetString("workspace"), ".env"))
	viper.SetEnvPrefix("PORTCALL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/portcall.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(visitCmd())
	rootCmd.AddCommand(categoryCmd())
	rootCmd.AddCommand(executionCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and the plan mirror worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if !cmd.Flags().Changed("addr") && a.Config.Server.Addr != "" {
					addr = a.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && a.Config.Server.BasePath != "" {
					basePath = a.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath})
				if err != nil {
					return err
				}
				if !noWorker {
					go worker.NewMirror(a.Engine).Run(ctx)
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving port call API",
					zap.String("addr", addr),
					zap.String("base_path", basePath),
					zap.String("port", a.Config.Port.Code))
				fmt.Printf("Serving port call API on http://%s%s (OpenAPI at %s/openapi.json, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "do not run the plan mirror worker")
	return cmd
}

// --- visits and categories ---

func visitCmd() *cobra.Command {
	c := &cobra.Command{Use: "visit", Short: "Manage planned visits"}
	c.AddCommand(visitAddCmd())
	c.AddCommand(visitListCmd())
	return c
}

func visitAddCmd() *cobra.Command {
	var id, vessel, arrival, departure, dock string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a planned visit",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.RegisterVisitOptions{ID: id, VesselID: vessel, DockID: dock, ActorID: viper.GetString("actor-id")}
			var err error
			if opts.PlannedArrival, err = parseTime(arrival); err != nil {
				return fmt.Errorf("--arrival: %w", err)
			}
			if opts.PlannedDeparture, err = parseOptionalTime(departure); err != nil {
				return fmt.Errorf("--departure: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.RegisterVisit(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "visit id")
	cmd.Flags().StringVar(&vessel, "vessel", "", "vessel id (IMO)")
	cmd.Flags().StringVar(&arrival, "arrival", "", "planned arrival (RFC3339)")
	cmd.Flags().StringVar(&departure, "departure", "", "planned departure (RFC3339)")
	cmd.Flags().StringVar(&dock, "dock", "", "planned dock")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("vessel")
	_ = cmd.MarkFlagRequired("arrival")
	return cmd
}

func visitListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List planned visits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListVisits(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Vessel", "Planned arrival", "Planned departure", "Dock")
				for _, v := range items {
					tw.AppendRow(table.Row{v.ID, v.VesselID, v.PlannedArrival, v.PlannedDeparture, v.DockID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max visits")
	return cmd
}

func categoryCmd() *cobra.Command {
	c := &cobra.Command{Use: "category", Short: "Task categories (seeded from portcall.yml)"}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List task categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTaskCategories(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Code", "Description", "Default minutes")
				for _, c := range items {
					tw.AppendRow(table.Row{c.Code, c.Description, c.DefaultMinutes})
				}
				tw.Render()
				return nil
			})
		},
	})
	return c
}

// --- executions ---

func executionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "execution",
		Short: "Record vessel visit executions",
		Long:  "An execution is the factual record of one visit. Commands accept the execution id or its VVE code.",
	}
	c.AddCommand(executionCreateCmd())
	c.AddCommand(executionBerthCmd())
	c.AddCommand(executionOpsCmd())
	c.AddCommand(executionCompleteCmd())
	c.AddCommand(executionShowCmd())
	c.AddCommand(executionListCmd())
	c.AddCommand(executionAuditCmd())
	return c
}

func executionCreateCmd() *cobra.Command {
	var visit, arrival string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open the execution of a visit",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseTime(arrival)
			if err != nil {
				return fmt.Errorf("--arrival: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.CreateExecution(ctx, engine.CreateExecutionOptions{
					VisitID:       visit,
					ActualArrival: at,
					CreatorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(snap)
			})
		},
	}
	cmd.Flags().StringVar(&visit, "visit", "", "visit id")
	cmd.Flags().StringVar(&arrival, "arrival", "now", "actual arrival (RFC3339 or now)")
	_ = cmd.MarkFlagRequired("visit")
	return cmd
}

func executionBerthCmd() *cobra.Command {
	var at, dock, note string
	cmd := &cobra.Command{
		Use:   "berth <execution>",
		Short: "Record berth time and dock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			berth, err := parseTime(at)
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.UpdateBerthAndDock(ctx, engine.BerthDockOptions{
					ExecutionID: args[0],
					BerthTime:   berth,
					DockID:      dock,
					Note:        note,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(snap)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "now", "berth time (RFC3339 or now)")
	cmd.Flags().StringVar(&dock, "dock", "", "dock id")
	cmd.Flags().StringVar(&note, "note", "", "note")
	_ = cmd.MarkFlagRequired("dock")
	return cmd
}

func executionOpsCmd() *cobra.Command {
	var file, opID, start, end, status, note string
	cmd := &cobra.Command{
		Use:   "ops <execution>",
		Short: "Record executed operations",
		Long:  "Pass a YAML/JSON list of executed operations with --file, or a single one with --op.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ops []domain.ExecutedOperation
			switch {
			case file != "":
				if err := readYAML(file, &ops); err != nil {
					return err
				}
			case opID != "":
				op := domain.ExecutedOperation{PlannedOperationID: opID, Status: domain.OperationStatus(status), Note: note}
				var err error
				if op.ActualStart, err = parseOptionalTime(start); err != nil {
					return fmt.Errorf("--start: %w", err)
				}
				if op.ActualEnd, err = parseOptionalTime(end); err != nil {
					return fmt.Errorf("--end: %w", err)
				}
				ops = append(ops, op)
			default:
				return fmt.Errorf("--file or --op required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.UpdateExecutedOperations(ctx, engine.ExecutedOperationsOptions{
					ExecutionID: args[0],
					Operations:  ops,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(snap)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML/JSON file with executed operations")
	cmd.Flags().StringVar(&opID, "op", "", "planned operation id")
	cmd.Flags().StringVar(&start, "start", "", "actual start (RFC3339 or now)")
	cmd.Flags().StringVar(&end, "end", "", "actual end (RFC3339 or now)")
	cmd.Flags().StringVar(&status, "status", "", "started|completed|delayed (derived when empty)")
	cmd.Flags().StringVar(&note, "note", "", "note")
	return cmd
}

func executionCompleteCmd() *cobra.Command {
	var unberth, leave string
	cmd := &cobra.Command{
		Use:   "complete <code>",
		Short: "Complete an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := parseTime(unberth)
			if err != nil {
				return fmt.Errorf("--unberth: %w", err)
			}
			l, err := parseTime(leave)
			if err != nil {
				return fmt.Errorf("--leave: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.CompleteExecution(ctx, engine.CompleteExecutionOptions{
					Code:          args[0],
					UnberthTime:   u,
					LeavePortTime: l,
					ActorID:       viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(snap)
			})
		},
	}
	cmd.Flags().StringVar(&unberth, "unberth", "now", "un-berth time (RFC3339 or now)")
	cmd.Flags().StringVar(&leave, "leave", "now", "leave-port time (RFC3339 or now)")
	return cmd
}

func executionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <execution>",
		Short: "Show an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.GetExecution(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(snap)
			})
		},
	}
}

func executionListCmd() *cobra.Command {
	var f repo.ExecutionFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListExecutions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Code", "Visit", "Vessel", "Status", "Arrival", "Dock", "Ops")
				for _, x := range items {
					tw.AppendRow(table.Row{x.Code, x.VisitID, x.VesselID, x.Status, formatTime(&x.ActualArrival), x.ActualDockID, len(x.ExecutedOperations)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "InProgress|Completed")
	cmd.Flags().StringVar(&f.VesselID, "vessel", "", "vessel filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max executions")
	return cmd
}

func executionAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <execution>",
		Short: "Show the audit log of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ExecutionAudit(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("At", "Action", "Actor", "Before", "After")
				for _, a := range items {
					tw.AppendRow(table.Row{formatTime(&a.At), a.Action, a.ActorID, compactJSON(a.Before), compactJSON(a.After)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// --- tasks ---

func taskCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "task",
		Short: "Manage complementary tasks",
		Long:  "Tasks are coded CATEGORY[n] and move Scheduled -> InProgress -> Completed inside their time window.",
	}
	c.AddCommand(taskCreateCmd())
	c.AddCommand(taskUpdateCmd())
	c.AddCommand(taskStatusCmd())
	c.AddCommand(taskShowCmd())
	c.AddCommand(taskListCmd())
	return c
}

func taskCreateCmd() *cobra.Command {
	var category, staff, start, end, execution string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Schedule a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := parseTime(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			en, err := parseOptionalTime(end)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.CreateTask(ctx, engine.CreateTaskOptions{
					CategoryCode: category,
					StaffID:      staff,
					Start:        s,
					End:          en,
					ExecutionID:  execution,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(snap)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "task category code")
	cmd.Flags().StringVar(&staff, "staff", "", "responsible staff id")
	cmd.Flags().StringVar(&start, "start", "", "window start (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "window end (RFC3339, default from category)")
	cmd.Flags().StringVar(&execution, "execution", "", "execution id or code")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("execution")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var category, staff, start, end, execution string
	cmd := &cobra.Command{
		Use:   "update <code>",
		Short: "Update task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.UpdateTaskOptions{Code: args[0], ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("category") {
				opts.CategoryCode = &category
			}
			if cmd.Flags().Changed("staff") {
				opts.StaffID = &staff
			}
			if cmd.Flags().Changed("execution") {
				opts.ExecutionID = &execution
			}
			var err error
			if opts.Start, err = parseOptionalTime(start); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if opts.End, err = parseOptionalTime(end); err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(snap)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "task category code")
	cmd.Flags().StringVar(&staff, "staff", "", "responsible staff id")
	cmd.Flags().StringVar(&start, "start", "", "window start (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "window end (RFC3339)")
	cmd.Flags().StringVar(&execution, "execution", "", "execution id or code")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <code> <Scheduled|InProgress|Completed>",
		Short: "Change task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.ChangeTaskStatus(ctx, engine.ChangeTaskStatusOptions{
					Code:    args[0],
					Status:  args[1],
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(snap)
			})
		},
	}
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <code>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(snap)
			})
		},
	}
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.CategoryCode = strings.ToUpper(f.CategoryCode)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable("Code", "Status", "Staff", "Start", "End", "Execution")
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.Code, t.Status, t.StaffID, formatTime(&t.Window.Start), formatTime(&t.Window.End), t.ExecutionID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ExecutionID, "execution", "", "execution id or code")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.StaffID, "staff", "", "staff filter")
	cmd.Flags().StringVar(&f.CategoryCode, "category", "", "category filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max tasks")
	return cmd
}

// --- plans ---

func planCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "plan",
		Short: "Operation plans",
		Long:  "Plans come from the external scheduler. Revising a visit's operations runs the conflict detector; blocking conflicts reject the revision.",
	}
	c.AddCommand(planImportCmd())
	c.AddCommand(planShowCmd())
	c.AddCommand(planListCmd())
	c.AddCommand(planReviseCmd())
	c.AddCommand(planAuditCmd())
	return c
}

func planImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a plan from a YAML/JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var plan domain.PlanSnapshot
			if err := readYAML(args[0], &plan); err != nil {
				return err
			}
			if plan.Author == "" {
				plan.Author = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.ImportPlan(ctx, plan)
				if err != nil {
					return err
				}
				return printJSONOrTable(snap)
			})
		},
	}
}

func planShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <plan>",
		Short: "Show a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plan, err := e.GetPlan(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plan)
				}
				fmt.Printf("Plan %s (%s) status=%s version=%d author=%s\n", plan.ID, plan.PlanDate, plan.Status, plan.Version, plan.Author)
				printOperations(plan.Operations)
				return nil
			})
		},
	}
}

func planListCmd() *cobra.Command {
	var date string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListPlans(ctx, date, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Date", "Status", "Algorithm", "Operations", "Version")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.PlanDate, p.Status, p.Algorithm, len(p.Operations), p.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "plan date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max plans")
	return cmd
}

func planReviseCmd() *cobra.Command {
	var file, reason, status string
	var preview bool
	cmd := &cobra.Command{
		Use:   "revise <plan> <visit>",
		Short: "Replace a visit's operations",
		Long:  "Reads the replacement operations from --file (YAML/JSON list; empty list removes them). With --preview only the conflict reports are printed.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ops []domain.Operation
			if file != "" {
				if err := readYAML(file, &ops); err != nil {
					return err
				}
			}
			opts := engine.ReviseOptions{
				PlanID:     args[0],
				VisitRef:   args[1],
				Operations: ops,
				Reason:     reason,
				Author:     viper.GetString("actor-id"),
			}
			if status != "" {
				s := domain.PlanStatus(status)
				opts.Status = &s
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if preview {
					reports, err := e.PreviewRevision(ctx, opts)
					if err != nil {
						return err
					}
					return printReports(reports)
				}
				res, err := e.ReviseForVisit(ctx, opts)
				var f *domain.Failure
				if errors.As(err, &f) && f.Kind == domain.FailureBlocked {
					_ = printReports(f.Reports)
					return fmt.Errorf("revision rejected: %s", strings.Join(f.Codes, ", "))
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Plan %s revised for %s (version %d)\n", res.Plan.ID, args[1], res.Plan.Version)
				printOperations(res.Plan.Operations)
				if len(res.Warnings) > 0 {
					return printReports(res.Warnings)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML/JSON file with the replacement operations")
	cmd.Flags().StringVar(&reason, "reason", "", "reason for change")
	cmd.Flags().StringVar(&status, "status", "", "new plan status")
	cmd.Flags().BoolVar(&preview, "preview", false, "only detect conflicts")
	return cmd
}

func planAuditCmd() *cobra.Command {
	var visit string
	cmd := &cobra.Command{
		Use:   "audit <plan>",
		Short: "Show the revision log of a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.PlanAudit(ctx, args[0], visit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("At", "Visit", "Author", "Reason", "Before", "After")
				for _, a := range items {
					tw.AppendRow(table.Row{formatTime(&a.At), a.VisitRef, a.Author, a.Reason, len(a.Before), len(a.After)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&visit, "visit", "", "visit filter")
	return cmd
}

// --- log ---

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every accepted change: executions, tasks, plan imports, revisions and mirroring.",
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
				items, err := e.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Actor", "Payload")
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "portcall.yml holds the port, the task category catalog, revision rules, mirror worker and server settings.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var port string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default portcall.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(port)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "port code (UN/LOCODE)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.LoadOptional(viper.GetString("workspace"))
}

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.Context) error {
		return fn(ctx, a.Engine)
	})
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printOperations(ops []domain.Operation) {
	tw := newTable("ID", "Visit", "Dock", "Crane", "Cranes", "Start", "End", "Staff", "Executed")
	for _, op := range ops {
		tw.AppendRow(table.Row{
			op.ID, op.VisitRef, op.Dock, op.Crane,
			fmt.Sprintf("%d/%d", op.CraneCountUsed, op.TotalCranesOnDock),
			formatTime(&op.Start), formatTime(&op.End),
			strings.Join(op.Staff, ","), op.ExecutionStatus,
		})
	}
	tw.Render()
}

func printReports(reports []domain.ConflictReport) error {
	if viper.GetBool("json") {
		return printJSON(reports)
	}
	if len(reports) == 0 {
		fmt.Println("no conflicts")
		return nil
	}
	tw := newTable("Severity", "Code", "Visits", "Message")
	for _, r := range reports {
		tw.AppendRow(table.Row{r.Severity, r.Code, strings.Join(r.RelatedVisits, ","), r.Message})
	}
	tw.Render()
	return nil
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

func compactJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// readYAML decodes a YAML or JSON file; JSON is valid YAML.
func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" || s == "now" {
		return time.Now().UTC().Truncate(time.Second), nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}
