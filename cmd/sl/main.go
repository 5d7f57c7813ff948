package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"siteline/internal/app"
	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/server"
	"siteline/internal/tasktree"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Siteline CLI",
	Long: `Siteline administers construction projects and contracts.
- Workspace: a directory holding siteline.yml and the .siteline data dir.
- Project: owns a nested task tree; every task edit rewrites the whole tree.
- Progress: count-based (completed tasks / all tasks) and value-based
  (completed leaf value / project budget).
- Contract: client/contractor agreement with payments, change orders and
  frozen version snapshots.
- Event log: audit diary of every mutation, view with 'sl log tail'.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SITELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var siteID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			if existing, err := config.LoadOptional(workspace); err != nil {
				return err
			} else if existing != nil {
				return fmt.Errorf("workspace already initialized (%s)", config.Path(workspace))
			}
			if err := os.WriteFile(config.Path(workspace), []byte(config.GenerateDefault(siteID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace for site %s\n", siteID)
			return nil
		},
	}
	cmd.Flags().StringVar(&siteID, "site", "site-local", "site identifier")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectProgressCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Projects.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Start", "End", "Value", "Tasks"})
				for _, p := range items {
					total, _ := tasktree.Count(p.Tasks)
					tw.AppendRow(table.Row{p.ID, p.Title, p.StartDate.Format("2006-01-02"), p.EndDate.Format("2006-01-02"), p.Value, total})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var title, description, start, end string
	var value float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := parseDate(start)
			if err != nil {
				return fmt.Errorf("start: %w", err)
			}
			endDate, err := parseDate(end)
			if err != nil {
				return fmt.Errorf("end: %w", err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Projects.CreateProject(ctx, engine.ProjectCreateOptions{
					Title:       title,
					Description: description,
					StartDate:   startDate,
					EndDate:     endDate,
					Value:       value,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "project title")
	cmd.Flags().StringVar(&description, "description", "", "project description")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&value, "value", 0, "project budget")
	cmd.MarkFlagRequired("title")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project with its task tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Projects.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("%s  %s (%s .. %s)  budget %.2f\n", p.ID, p.Title, p.StartDate.Format("2006-01-02"), p.EndDate.Format("2006-01-02"), p.Value)
				printTaskTree(p.Tasks, "")
				return nil
			})
		},
	}
}

func printTaskTree(tasks []domain.Task, indent string) {
	for _, t := range tasks {
		fmt.Printf("%s- [%s] %s (%s, value %.2f)\n", indent, t.Status, t.Title, t.ID, t.Value)
		printTaskTree(t.SubTasks, indent+"  ")
	}
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Projects.DeleteProject(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func projectProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <project-id>",
		Short: "Show project progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rep, err := a.Projects.Progress(ctx, args[0])
				if err != nil {
					return err
				}
				valuePct, err := a.Projects.ValueProgress(ctx, args[0])
				if err != nil {
					return err
				}
				remaining, err := a.Projects.RemainingValue(ctx, args[0], "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"total_tasks":         rep.TotalTasks,
						"completed_tasks":     rep.CompletedTasks,
						"progress_percentage": rep.ProgressPercentage,
						"value_percentage":    valuePct,
						"remaining_value":     remaining,
					})
				}
				fmt.Printf("Tasks: %d/%d completed (%d%%)\n", rep.CompletedTasks, rep.TotalTasks, rep.ProgressPercentage)
				fmt.Printf("Value: %d%% of budget completed, %.2f unallocated\n", valuePct, remaining)
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage project tasks"}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskStatusCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	var projectID, parentID, title string
	var quantity, unitPrice float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task to a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				task, err := a.Projects.AddTask(ctx, projectID, parentID, engine.TaskInput{
					Title:     title,
					Quantity:  quantity,
					UnitPrice: unitPrice,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(task)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent task id (empty for root)")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().Float64Var(&quantity, "quantity", 0, "quantity")
	cmd.Flags().Float64Var(&unitPrice, "unit-price", 0, "unit price")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("title")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Update a task's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Projects.UpdateTaskStatus(ctx, projectID, args[0], domain.TaskStatus(args[1]), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.MarkFlagRequired("project")
	return cmd
}

func contractCmd() *cobra.Command {
	ctr := &cobra.Command{Use: "contract", Short: "Manage contracts"}
	ctr.AddCommand(contractListCmd())
	ctr.AddCommand(contractCreateCmd())
	ctr.AddCommand(contractShowCmd())
	ctr.AddCommand(contractStatusCmd())
	ctr.AddCommand(contractPayCmd())
	ctr.AddCommand(contractChangeCmd())
	ctr.AddCommand(contractSnapshotCmd())
	return ctr
}

func contractListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Contracts.ListContracts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Client", "Contractor", "Status", "Total", "Payments"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Client, c.Contractor, c.Status, c.TotalValue, len(c.Payments)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func contractCreateCmd() *cobra.Command {
	var client, contractor string
	var totalValue float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Contracts.CreateContract(ctx, engine.ContractCreateOptions{
					Client:     client,
					Contractor: contractor,
					TotalValue: totalValue,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	cmd.Flags().StringVar(&client, "client", "", "client name")
	cmd.Flags().StringVar(&contractor, "contractor", "", "contractor name")
	cmd.Flags().Float64Var(&totalValue, "value", 0, "total contract value")
	cmd.MarkFlagRequired("client")
	cmd.MarkFlagRequired("contractor")
	return cmd
}

func contractShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <contract-id>",
		Short: "Show a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Contracts.GetContract(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
}

func contractStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <contract-id> <status>",
		Short: "Update contract status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Contracts.UpdateStatus(ctx, args[0], domain.ContractStatus(args[1]), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
}

func contractPayCmd() *cobra.Command {
	var amount float64
	var date, note string
	cmd := &cobra.Command{
		Use:   "pay <contract-id>",
		Short: "Record a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			when := time.Now().UTC()
			if date != "" {
				parsed, err := parseDate(date)
				if err != nil {
					return err
				}
				when = parsed
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				pay, err := a.Contracts.AddPayment(ctx, args[0], amount, when, note, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(pay)
			})
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 0, "payment amount")
	cmd.Flags().StringVar(&date, "date", "", "payment date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&note, "note", "", "payment note")
	cmd.MarkFlagRequired("amount")
	return cmd
}

func contractChangeCmd() *cobra.Command {
	var description string
	var delta float64
	cmd := &cobra.Command{
		Use:   "change <contract-id>",
		Short: "Add a change order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				co, err := a.Contracts.AddChangeOrder(ctx, args[0], description, delta, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(co)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "change description")
	cmd.Flags().Float64Var(&delta, "delta", 0, "value adjustment (may be negative)")
	cmd.MarkFlagRequired("description")
	return cmd
}

func contractSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <contract-id>",
		Short: "Freeze the current contract terms as a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := a.Contracts.SnapshotVersion(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(v)
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Audit event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				page, err := a.Events.Page(ctx, limit, "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page.Data)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor"})
				for _, e := range page.Data {
					tw.AppendRow(table.Row{e.TS.Format(time.RFC3339), e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			a, err := app.New(workspace, cfg, slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := server.New(server.Config{App: a, BasePath: basePath})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Siteline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	a, err := app.New(workspace, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
