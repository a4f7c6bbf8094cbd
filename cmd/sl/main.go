package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stageline/internal/config"
	"stageline/internal/db"
	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/migrate"
	"stageline/internal/notify"
	"stageline/internal/presign"
	"stageline/internal/repo"
	"stageline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Stageline CLI",
	Long: `Stageline tracks tasks through per-project stage pipelines.
Each project owns an ordered stage registry; every task carries a progress
ledger with one row per stage it has touched. Completing a stage can advance
the task to the next registry stage automatically.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STAGELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("email", "local@stageline.dev", "actor email")
	rootCmd.PersistentFlags().String("name", "", "actor display name")
	rootCmd.PersistentFlags().String("org", "local", "org identifier")
	rootCmd.PersistentFlags().Bool("admin", true, "act as org admin")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("email", rootCmd.PersistentFlags().Lookup("email"))
	_ = viper.BindPFlag("name", rootCmd.PersistentFlags().Lookup("name"))
	_ = viper.BindPFlag("org", rootCmd.PersistentFlags().Lookup("org"))
	_ = viper.BindPFlag("admin", rootCmd.PersistentFlags().Lookup("admin"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func currentActor() domain.Actor {
	return domain.Actor{
		Email:       viper.GetString("email"),
		DisplayName: viper.GetString("name"),
		OrgID:       viper.GetString("org"),
		IsOrgAdmin:  viper.GetBool("admin"),
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default stageline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, currentActor(), engine.ProjectCreateOptions{Name: name, Description: desc})
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "project description")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projects, err := e.ListProjects(ctx, currentActor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Created"})
				for _, p := range projects {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show project with its stage registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := currentActor()
				p, err := e.GetProject(ctx, actor, args[0])
				if err != nil {
					return err
				}
				stages, err := e.ListStages(ctx, actor, p.ID)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"project": p, "stages": stages})
			})
		},
	}
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteProject(ctx, currentActor(), args[0])
			})
		},
	}
}

func stageCmd() *cobra.Command {
	stg := &cobra.Command{Use: "stage", Short: "Manage the stage registry"}
	stg.AddCommand(stageListCmd())
	stg.AddCommand(stageSetCmd())
	stg.AddCommand(stageOrderCmd())
	stg.AddCommand(stageReorderCmd())
	return stg
}

func stageListCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stages, err := e.ListStages(ctx, currentActor(), projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stages)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Order", "Name", "Owner"})
				for _, s := range stages {
					tw.AppendRow(table.Row{s.SortOrder, s.Name, s.OwnerEmail})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

func stageSetCmd() *cobra.Command {
	var projectID string
	var names []string
	var owners []string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the stage registry",
		Long:  "Replaces the registry with --stage flags in order. Owners line up positionally with --owner flags; pass empty strings to skip.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project required")
			}
			if len(names) == 0 {
				return fmt.Errorf("at least one --stage required")
			}
			var stages []domain.Stage
			for i, n := range names {
				s := domain.Stage{Name: n}
				if i < len(owners) {
					s.OwnerEmail = owners[i]
				}
				stages = append(stages, s)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				saved, err := e.ReplaceStages(ctx, currentActor(), projectID, stages)
				if err != nil {
					return err
				}
				return printJSON(saved)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringArrayVar(&names, "stage", nil, "stage name (repeatable, in order)")
	cmd.Flags().StringArrayVar(&owners, "owner", nil, "stage owner email (repeatable, positional)")
	return cmd
}

func stageOrderCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "order <name>...",
		Short: "Reorder the whole registry",
		Long:  "Takes the full list of registered stage names in the desired order and renumbers them.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stages, err := e.ReorderStages(ctx, currentActor(), projectID, args)
				if err != nil {
					return err
				}
				return printJSON(stages)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

func stageReorderCmd() *cobra.Command {
	var projectID string
	var position int
	cmd := &cobra.Command{
		Use:   "reorder <name>",
		Short: "Move a stage to a new position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stages, err := e.MoveStage(ctx, currentActor(), projectID, args[0], position)
				if err != nil {
					return err
				}
				return printJSON(stages)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().IntVar(&position, "position", 0, "zero-based target position")
	return cmd
}

func taskCmd() *cobra.Command {
	tsk := &cobra.Command{Use: "task", Short: "Manage tasks"}
	tsk.AddCommand(taskCreateCmd())
	tsk.AddCommand(taskListCmd())
	tsk.AddCommand(taskGetCmd())
	tsk.AddCommand(taskDeleteCmd())
	return tsk
}

func taskCreateCmd() *cobra.Command {
	var projectID, title, desc, stage, ownerEmail, ownerName, dueDate string
	var priority int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project required")
			}
			if title == "" {
				return fmt.Errorf("--title required")
			}
			opts := engine.TaskCreateOptions{
				ProjectID:   projectID,
				Title:       title,
				Description: desc,
				Stage:       stage,
				OwnerEmail:  ownerEmail,
				OwnerName:   ownerName,
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			if dueDate != "" {
				opts.DueDate = &dueDate
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, currentActor(), opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&desc, "description", "", "task description")
	cmd.Flags().StringVar(&stage, "stage", "", "initial stage (defaults to first registry stage)")
	cmd.Flags().StringVar(&ownerEmail, "owner-email", "", "task owner email")
	cmd.Flags().StringVar(&ownerName, "owner-name", "", "task owner name")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (YYYY-MM-DD)")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.ProjectID == "" {
				return fmt.Errorf("--project required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, currentActor(), f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Stage", "Owner"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Stage, t.OwnerEmail})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.Stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&f.OwnerEmail, "owner", "", "owner email filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get task with its ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := currentActor()
				t, err := e.GetTask(ctx, actor, args[0])
				if err != nil {
					return err
				}
				ledger, err := e.GetTaskProgress(ctx, actor, t.ID)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"task": t, "progress": ledger})
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTask(ctx, currentActor(), args[0])
			})
		},
	}
}

func progressCmd() *cobra.Command {
	prg := &cobra.Command{Use: "progress", Short: "Record and inspect stage progress"}
	prg.AddCommand(progressSetCmd())
	prg.AddCommand(progressShowCmd())
	return prg
}

func progressSetCmd() *cobra.Command {
	var stage, status, assignedTo, assignedToEmail string
	var next bool
	cmd := &cobra.Command{
		Use:   "set <task-id>",
		Short: "Record progress on a stage",
		Long:  "Upserts the ledger row for the stage. With --next and --status Done the task advances to the next registry stage.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ledger, err := e.AdvanceStage(ctx, currentActor(), engine.AdvanceOptions{
					TaskID:          args[0],
					StageName:       stage,
					Status:          status,
					AssignedTo:      assignedTo,
					AssignedToEmail: assignedToEmail,
					AdvanceToNext:   next,
				})
				if err != nil {
					return err
				}
				return printLedger(ledger)
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "stage name")
	cmd.Flags().StringVar(&status, "status", "", `status: "To Do", "In Progress" or "Done"`)
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "assignee display name")
	cmd.Flags().StringVar(&assignedToEmail, "assigned-to-email", "", "assignee email")
	cmd.Flags().BoolVar(&next, "next", false, "advance to the next stage on Done")
	return cmd
}

func progressShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show the task's progress ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ledger, err := e.GetTaskProgress(ctx, currentActor(), args[0])
				if err != nil {
					return err
				}
				return printLedger(ledger)
			})
		},
	}
}

func printLedger(ledger []domain.StageProgress) error {
	if viper.GetBool("json") {
		return printJSON(ledger)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Order", "Stage", "Status", "Assignee", "Started", "Completed"})
	for _, p := range ledger {
		started, completed := "", ""
		if p.StartedAt != nil {
			started = *p.StartedAt
		}
		if p.CompletedAt != nil {
			completed = *p.CompletedAt
		}
		tw.AppendRow(table.Row{p.SortOrder, p.StageName, p.Status, p.AssignedTo, started, completed})
	}
	tw.Render()
	return nil
}

func commentCmd() *cobra.Command {
	cmt := &cobra.Command{Use: "comment", Short: "Manage task comments"}
	var body string
	add := &cobra.Command{
		Use:   "add <task-id>",
		Short: "Add comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, currentActor(), args[0], body)
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	add.Flags().StringVar(&body, "body", "", "comment text")
	cmt.AddCommand(add)
	cmt.AddCommand(&cobra.Command{
		Use:   "list <task-id>",
		Short: "List comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				comments, err := e.ListComments(ctx, currentActor(), args[0])
				if err != nil {
					return err
				}
				return printJSON(comments)
			})
		},
	})
	return cmt
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	var n int
	var projectID, evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ListEvents(ctx, currentActor(), n, projectID, evtType)
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&projectID, "project", "", "project filter")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	lg.AddCommand(tail)
	return lg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg)

			secret := os.Getenv("STAGELINE_JWT_SECRET")
			if secret == "" {
				secret = cfg.Auth.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("STAGELINE_JWT_SECRET or auth.jwt_secret is required for bearer auth")
			}

			log := logrus.New()
			log.SetFormatter(&logrus.JSONFormatter{})

			var signer presign.Signer
			if cfg.Attachments.SigningSecret != "" {
				signer, err = presign.NewHMACSigner(cfg.Attachments.BaseURL, cfg.Attachments.SigningSecret)
				if err != nil {
					return err
				}
			}

			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, DevLogin: cfg.Auth.DevLogin},
				Signer:   signer,
				Log:      log,
			})
			if err != nil {
				return err
			}

			notify.Start(cmd.Context(), e.Repo, cfg.Webhooks, log)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Stageline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
