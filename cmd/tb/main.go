package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"termbridge/internal/config"
	"termbridge/internal/db"
	"termbridge/internal/dictionary"
	"termbridge/internal/domain"
	"termbridge/internal/engine"
	"termbridge/internal/events"
	"termbridge/internal/migrate"
	"termbridge/internal/repo"
	"termbridge/internal/server"
	"termbridge/internal/transport"
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "Termbridge CLI",
	Long: `Termbridge exchanges proposed dictionary concepts between clinical sites.
A proposer site drafts packages of concept proposals and submits them to a
reviewer site; the reviewer works each proposal to a decision (approve,
reject, return) and the proposer can amend returned ones and resubmit.
Proposals carry a uuid minted at creation; both sides reconcile on that uuid
and never on local row ids. Saves are guarded by optimistic versioning, and
every state change lands in the event log ('tb log tail').`,
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
	viper.SetEnvPrefix("TERMBRIDGE")
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
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(packageCmd())
	rootCmd.AddCommand(responseCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(dictCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage site config",
		Long:  "termbridge.yml names this site, its role (proposer, reviewer, both), the reviewer endpoint to submit to, and optional outbound webhooks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var siteID, role string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default termbridge.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(siteID, role)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&siteID, "site-id", "local", "site identifier")
	cmd.Flags().StringVar(&role, "role", config.RoleProposer, "site role (proposer, reviewer, both)")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate termbridge.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
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
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show site status",
		Long:  "Counts of packages and responses by status, the scoreboard for both sides of the exchange.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				packages, err := e.Repo.CountPackagesByStatus(ctx)
				if err != nil {
					return err
				}
				responses, err := e.Repo.CountResponsesByStatus(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"site_id":   e.SiteID,
					"packages":  packages,
					"responses": responses,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Site: %s\n", e.SiteID)
				fmt.Println("Packages:")
				for status, c := range packages {
					fmt.Printf("  %s: %d\n", status, c)
				}
				fmt.Println("Responses:")
				for status, c := range responses {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func packageCmd() *cobra.Command {
	pkg := &cobra.Command{
		Use:   "package",
		Short: "Manage proposal packages",
		Long:  "Packages group proposed concepts submitted together. They flow draft -> tbs -> submitted -> closed; a submitted package can reopen to draft to amend returned proposals.",
	}
	pkg.AddCommand(packageCreateCmd())
	pkg.AddCommand(packageListCmd())
	pkg.AddCommand(packageShowCmd())
	pkg.AddCommand(packageUpdateCmd())
	pkg.AddCommand(packageSubmitCmd())
	pkg.AddCommand(packageCloseCmd())
	pkg.AddCommand(packageReopenCmd())
	return pkg
}

func parseConceptDrafts(names []string, conceptsJSON string) ([]engine.ConceptDraft, error) {
	var drafts []engine.ConceptDraft
	for _, n := range names {
		drafts = append(drafts, engine.ConceptDraft{Name: n})
	}
	if conceptsJSON != "" {
		var extra []struct {
			ConceptUUID string `json:"concept_uuid"`
			Name        string `json:"name"`
			Comments    string `json:"comments"`
		}
		if err := json.Unmarshal([]byte(conceptsJSON), &extra); err != nil {
			return nil, fmt.Errorf("invalid --concepts-json: %w", err)
		}
		for _, c := range extra {
			drafts = append(drafts, engine.ConceptDraft{
				ConceptUUID: c.ConceptUUID,
				Name:        c.Name,
				Comments:    c.Comments,
			})
		}
	}
	return drafts, nil
}

func packageCreateCmd() *cobra.Command {
	var name, email, description, status, conceptsJSON string
	var concepts []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a proposal package",
		RunE: func(cmd *cobra.Command, args []string) error {
			drafts, err := parseConceptDrafts(concepts, conceptsJSON)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				pkg, err := e.AddPackage(ctx, viper.GetString("actor-id"), engine.PackageDraft{
					Name:        name,
					Email:       email,
					Description: description,
					Status:      domain.PackageStatus(status),
					Concepts:    drafts,
				})
				if err != nil {
					var derr *transport.Error
					if errors.As(err, &derr) {
						fmt.Printf("package %s saved but not delivered: %v\nretry with: tb package submit %s\n", pkg.ID, err, pkg.ID)
						return printJSONOrTable(pkg)
					}
					return err
				}
				return printJSONOrTable(pkg)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "proposer display name")
	cmd.Flags().StringVar(&email, "email", "", "proposer email")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "initial status (draft or tbs)")
	cmd.Flags().StringArrayVar(&concepts, "concept", []string{}, "proposed concept name (repeatable)")
	cmd.Flags().StringVar(&conceptsJSON, "concepts-json", "", "proposed concepts as JSON array")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func packageListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListPackages(ctx, repo.PackageFilters{Status: status})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Concepts", "Version", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, len(p.Concepts), p.Version, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func packageShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				pkg, err := e.Repo.GetPackage(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(pkg)
			})
		},
	}
	return cmd
}

func packageUpdateCmd() *cobra.Command {
	var name, email, description, status, conceptsJSON string
	var concepts []string
	var version int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a package",
		Long:  "Rewrites package fields at the given --version. Moving the status from draft to tbs submits the package to the reviewer after the save.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drafts, err := parseConceptDrafts(concepts, conceptsJSON)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				pkg, err := e.UpdatePackage(ctx, viper.GetString("actor-id"), args[0], engine.PackageUpdate{
					Name:        name,
					Email:       email,
					Description: description,
					Status:      domain.PackageStatus(status),
					Concepts:    drafts,
					Version:     version,
				})
				if err != nil {
					var derr *transport.Error
					if errors.As(err, &derr) {
						fmt.Printf("package %s saved but not delivered: %v\nretry with: tb package submit %s\n", pkg.ID, err, pkg.ID)
						return printJSONOrTable(pkg)
					}
					return err
				}
				return printJSONOrTable(pkg)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "proposer display name")
	cmd.Flags().StringVar(&email, "email", "", "proposer email")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringArrayVar(&concepts, "concept", []string{}, "proposed concept name (repeatable)")
	cmd.Flags().StringVar(&conceptsJSON, "concepts-json", "", "proposed concepts as JSON array")
	cmd.Flags().IntVar(&version, "version", 0, "version last read (optimistic lock)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func packageSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Send or resend a package to the reviewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				pkg, err := e.SubmitPackage(ctx, viper.GetString("actor-id"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(pkg)
			})
		},
	}
	return cmd
}

func packageCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Archive a submitted package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				pkg, err := e.ClosePackage(ctx, viper.GetString("actor-id"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(pkg)
			})
		},
	}
	return cmd
}

func packageReopenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reopen <id>",
		Short: "Reopen a submitted package as draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				pkg, err := e.ReopenPackage(ctx, viper.GetString("actor-id"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(pkg)
			})
		},
	}
	return cmd
}

func responseCmd() *cobra.Command {
	resp := &cobra.Command{
		Use:   "response",
		Short: "Inspect proposal responses",
		Long:  "Responses track incoming proposals on the reviewer side, keyed by the proposal uuid. They flow received -> under_review -> approved/rejected/returned; a returned one reopens to received when the proposer resubmits.",
	}
	resp.AddCommand(responseListCmd())
	resp.AddCommand(responseShowCmd())
	return resp
}

func responseListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListResponses(ctx, repo.ResponseFilters{Status: status})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Proposal UUID", "Name", "Status", "Source", "Version"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.ProposalUUID, r.Name, r.Status, r.SourceName, r.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func responseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				resp, err := e.Repo.GetResponse(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(resp)
			})
		},
	}
	return cmd
}

func reviewCmd() *cobra.Command {
	rev := &cobra.Command{
		Use:   "review",
		Short: "Review incoming proposals",
	}
	rev.AddCommand(reviewBeginCmd())
	rev.AddCommand(reviewDecisionCmd("approve", domain.DecisionApprove, "Approve a proposal"))
	rev.AddCommand(reviewDecisionCmd("reject", domain.DecisionReject, "Reject a proposal"))
	rev.AddCommand(reviewDecisionCmd("return", domain.DecisionReturn, "Return a proposal to the proposer"))
	return rev
}

func reviewBeginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "begin <id>",
		Short: "Mark a response under review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				resp, err := e.BeginReview(ctx, viper.GetString("actor-id"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(resp)
			})
		},
	}
	return cmd
}

func reviewDecisionCmd(use string, decision domain.Decision, short string) *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				resp, err := e.ApplyDecision(ctx, viper.GetString("actor-id"), args[0], decision, comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(resp)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	return cmd
}

func dictCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "dict",
		Short: "Manage the dictionary cache",
		Long:  "The dictionary cache holds validated concepts. Proposals may point at an existing concept by uuid; the cache answers those lookups and powers search.",
	}
	d.AddCommand(dictImportCmd())
	d.AddCommand(dictSearchCmd())
	d.AddCommand(dictShowCmd())
	return d
}

func dictImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import concepts from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var concepts []domain.Concept
			if err := json.Unmarshal(data, &concepts); err != nil {
				return fmt.Errorf("invalid concept file: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				for _, c := range concepts {
					if strings.TrimSpace(c.UUID) == "" || strings.TrimSpace(c.Name) == "" {
						return fmt.Errorf("concept needs uuid and name: %+v", c)
					}
					if err := e.Repo.UpsertConcept(ctx, c); err != nil {
						return err
					}
				}
				fmt.Printf("imported %d concepts\n", len(concepts))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to JSON array of concepts")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func dictSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search concepts by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Dict.Search(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"UUID", "Name", "Datatype"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.UUID, c.Name, c.Datatype})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max results")
	return cmd
}

func dictShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <uuid>",
		Short: "Show a concept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := e.Repo.GetConcept(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: package saves, submissions, received proposals, and review outcomes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long:  "API keys authenticate site-to-site submissions and automation. Only the hash is stored; the key value prints once at creation.",
	}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				return fmt.Errorf("--actor required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				raw := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": actor, "key": raw})
				}
				fmt.Printf("API key %s for %s\nkey (shown once): %s\n", key.ID, actor, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			e := buildEngine(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("TERMBRIDGE_JWT_SECRET"),
				AllowLegacyActorHeader: allowActorHeader,
			}
			if authCfg.JWTSecret == "" && !allowActorHeader {
				return fmt.Errorf("TERMBRIDGE_JWT_SECRET is required for bearer auth (or pass --allow-actor-header for local development)")
			}
			handler, err := server.New(server.Config{Engine: e, Site: cfg, BasePath: basePath, Auth: authCfg, Ctx: cmd.Context()})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Termbridge API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8713", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept unauthenticated X-Actor-Id (development only)")
	return cmd
}

// --- helpers ---

func buildEngine(conn *sql.DB, cfg *config.Config) *engine.Engine {
	r := repo.Repo{DB: conn}
	e := &engine.Engine{
		DB:     conn,
		Repo:   r,
		Events: events.Writer{DB: conn},
		Dict:   dictionary.Local{Repo: r},
	}
	if cfg != nil {
		e.SiteID = cfg.Site.ID
		if cfg.Site.Role != config.RoleReviewer && cfg.Reviewer.URL != "" {
			c := transport.New(cfg.Reviewer.URL, cfg.Reviewer.APIKey, cfg.Site.ID)
			if cfg.Reviewer.TimeoutSeconds > 0 {
				c.Timeout = time.Duration(cfg.Reviewer.TimeoutSeconds) * time.Second
			}
			e.Submitter = c
		}
	}
	return e
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
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
	return fn(ctx, buildEngine(conn, cfg))
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
