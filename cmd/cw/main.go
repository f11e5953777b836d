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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"crewline/internal/app"
	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/docgen"
	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/migrate"
	"crewline/internal/notify"
	"crewline/internal/repo"
	"crewline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cw",
	Short: "Crewline CLI",
	Long: `Crewline runs multi-tenant field work: work orders move through a
lifecycle (ToDo -> Assigned -> AtWork -> Done -> Pending -> Agreed, with
Issues/Fixed for rework), contractors bid on public listings, and accepting a
bid admits the contractor onto the tenant subject to seat quotas. Every
lifecycle change lands in an append-only per-work-order log.`,
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
	viper.SetEnvPrefix("CREWLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("actor-email", "", "actor email")
	rootCmd.PersistentFlags().String("actor-name", "", "actor name")
	rootCmd.PersistentFlags().String("tenant", "", "tenant id (overrides single-tenant default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-email", rootCmd.PersistentFlags().Lookup("actor-email"))
	_ = viper.BindPFlag("actor-name", rootCmd.PersistentFlags().Lookup("actor-name"))
	_ = viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
}

func registerCommands() {
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(workOrderCmd())
	rootCmd.AddCommand(bidCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func localActor() engine.Actor {
	return app.LocalActor(viper.GetString("actor-id"), viper.GetString("actor-name"), viper.GetString("actor-email"))
}

func tenantCmd() *cobra.Command {
	tenant := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	tenant.AddCommand(tenantCreateCmd())
	tenant.AddCommand(tenantListCmd())
	tenant.AddCommand(tenantShowCmd())
	tenant.AddCommand(tenantQuotaCmd())
	return tenant
}

func tenantCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				name = id
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTenant(ctx, id, name, localActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id")
	cmd.Flags().StringVar(&name, "name", "", "tenant name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func tenantListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTenants(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func tenantShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show tenant with quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenant(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				t, err := e.Repo.GetTenant(ctx, tenantID)
				if err != nil {
					return err
				}
				out := map[string]any{"tenant": t}
				if q, err := e.Repo.GetQuota(ctx, tenantID); err == nil {
					out["quota"] = q
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func tenantQuotaCmd() *cobra.Command {
	var seats, listings int
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Set tenant quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenant(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				q := domain.Quota{TenantID: tenantID, SeatsLimit: seats, PublicListingLimit: listings}
				if err := e.Repo.UpsertQuota(ctx, q); err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().IntVar(&seats, "seats", 5, "seat limit")
	cmd.Flags().IntVar(&listings, "public-listings", 3, "public listing limit")
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(userCreateCmd())
	user.AddCommand(userListCmd())
	return user
}

func userCreateCmd() *cobra.Command {
	var id, name, email, profile string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = uuid.New().String()
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u := domain.User{
					ID:          id,
					Name:        name,
					Email:       email,
					ProfileType: profile,
					CreatedAt:   time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertUser(ctx, u); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&profile, "profile", domain.ProfileStaff, "profile type (contractor, staff)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListUsers(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func workOrderCmd() *cobra.Command {
	wo := &cobra.Command{
		Use:   "workorder",
		Short: "Manage work orders",
		Long:  "Work orders carry the job: who does it, what it pays, and where it is in the lifecycle. Publish one to collect bids, assign an executor directly, or let an accepted bid do both.",
	}
	wo.AddCommand(workOrderCreateCmd())
	wo.AddCommand(workOrderListCmd())
	wo.AddCommand(workOrderGetCmd())
	wo.AddCommand(workOrderUpdateCmd())
	wo.AddCommand(workOrderPublishCmd())
	wo.AddCommand(workOrderEventsCmd())
	return wo
}

func workOrderCreateCmd() *cobra.Command {
	var opts engine.WorkOrderCreateOptions
	var budget float64
	var priority int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("budget") {
				opts.Budget = &budget
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			return withTenant(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				opts.TenantID = tenantID
				w, err := e.CreateWorkOrder(ctx, opts, localActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "work order name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (RFC 3339)")
	cmd.Flags().Float64Var(&budget, "budget", 0, "budget")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "budget currency")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workOrderListCmd() *cobra.Command {
	var f repo.WorkOrderFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenant(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				if f.TenantID == "" {
					f.TenantID = tenantID
				}
				items, err := e.Repo.ListWorkOrders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Visibility", "Public", "Executor", "Bids"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.Name, w.Status, w.Visibility, w.PublicStatus, w.ExecutorName, w.ApplicationCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.TenantID, "for-tenant", "", "tenant filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Visibility, "visibility", "", "visibility filter")
	cmd.Flags().StringVar(&f.ExecutorID, "executor-id", "", "executor filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func workOrderGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
}

func workOrderUpdateCmd() *cobra.Command {
	var change engine.Change
	var executor, status, report, name, description, due string
	var budget float64
	var priority int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a work order",
		Long:  "Applies one lifecycle change: --executor-id (empty string clears), --decision accept|reject, --status, or --report-link. Plain fields can ride along.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("executor-id") {
				change.ExecutorID = &executor
			}
			if cmd.Flags().Changed("status") {
				change.Status = &status
			}
			if cmd.Flags().Changed("report-link") {
				change.ReportLink = &report
			}
			if cmd.Flags().Changed("name") {
				change.Name = &name
			}
			if cmd.Flags().Changed("description") {
				change.Description = &description
			}
			if cmd.Flags().Changed("due") {
				change.DueDate = &due
			}
			if cmd.Flags().Changed("budget") {
				change.Budget = &budget
			}
			if cmd.Flags().Changed("priority") {
				change.Priority = &priority
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ApplyTransition(ctx, args[0], change, localActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(res.WorkOrder)
			})
		},
	}
	cmd.Flags().StringVar(&executor, "executor-id", "", "executor user id (empty clears)")
	cmd.Flags().StringVar(&change.Decision, "decision", "", "decision (accept, reject)")
	cmd.Flags().StringVar(&status, "status", "", "manual status edit")
	cmd.Flags().StringVar(&report, "report-link", "", "delivery report link")
	cmd.Flags().StringVar(&name, "name", "", "name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&due, "due", "", "due date")
	cmd.Flags().Float64Var(&budget, "budget", 0, "budget")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority")
	return cmd
}

func workOrderPublishCmd() *cobra.Command {
	var change engine.PublicationChange
	var private bool
	var publicDesc, currency string
	var budget float64
	var instantClaim bool
	cmd := &cobra.Command{
		Use:   "publish <id>",
		Short: "Publish or unpublish a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			change.Visibility = domain.VisibilityPublic
			if private {
				change.Visibility = domain.VisibilityPrivate
			}
			if cmd.Flags().Changed("public-description") {
				change.PublicDescription = &publicDesc
			}
			if cmd.Flags().Changed("budget") {
				change.Budget = &budget
			}
			if cmd.Flags().Changed("currency") {
				change.Currency = &currency
			}
			if cmd.Flags().Changed("instant-claim") {
				change.AllowInstantClaim = &instantClaim
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.SetVisibility(ctx, args[0], change, localActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().BoolVar(&private, "private", false, "unpublish instead")
	cmd.Flags().StringVar(&publicDesc, "public-description", "", "public description")
	cmd.Flags().Float64Var(&budget, "budget", 0, "listed budget")
	cmd.Flags().StringVar(&currency, "currency", "", "budget currency")
	cmd.Flags().StringSliceVar(&change.Skills, "skill", nil, "required skill (repeatable)")
	cmd.Flags().BoolVar(&instantClaim, "instant-claim", false, "allow instant claim")
	return cmd
}

func workOrderEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <id>",
		Short: "Show a work order's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
}

func bidCmd() *cobra.Command {
	bid := &cobra.Command{
		Use:   "bid",
		Short: "Manage bids",
		Long:  "Contractors bid on public work orders. Accepting a bid assigns the contractor, records the payment, and admits them onto the tenant if seat capacity allows.",
	}
	bid.AddCommand(bidSubmitCmd())
	bid.AddCommand(bidListCmd())
	bid.AddCommand(bidAcceptCmd())
	bid.AddCommand(bidRejectCmd())
	bid.AddCommand(bidWithdrawCmd())
	bid.AddCommand(bidDeleteCmd())
	return bid
}

func bidSubmitCmd() *cobra.Command {
	var sub engine.BidSubmission
	var workOrderID, contractorID string
	var eta int
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a bid",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("eta-days") {
				sub.ETADays = &eta
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.SubmitBid(ctx, workOrderID, contractorID, sub, localActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&workOrderID, "workorder", "", "work order id")
	cmd.Flags().StringVar(&contractorID, "contractor", "", "contractor user id")
	cmd.Flags().StringVar(&sub.CoverMessage, "message", "", "cover message")
	cmd.Flags().Float64Var(&sub.ProposedBudget, "budget", 0, "proposed budget")
	cmd.Flags().IntVar(&eta, "eta-days", 0, "estimated days")
	cmd.Flags().StringSliceVar(&sub.Attachments, "attachment", nil, "attachment URL (repeatable)")
	_ = cmd.MarkFlagRequired("workorder")
	_ = cmd.MarkFlagRequired("contractor")
	return cmd
}

func bidListCmd() *cobra.Command {
	var workOrderID, contractorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bids",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var items []domain.Bid
				var err error
				switch {
				case workOrderID != "":
					items, err = e.Repo.ListBidsForWorkOrder(ctx, workOrderID)
				case contractorID != "":
					items, err = e.Repo.ListBidsForContractor(ctx, contractorID)
				default:
					return fmt.Errorf("--workorder or --contractor required")
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Work order", "Contractor", "Budget", "Status"})
				for _, b := range items {
					tw.AppendRow(table.Row{b.ID, b.WorkOrderID, b.ContractorName, b.ProposedBudget, b.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workOrderID, "workorder", "", "work order id")
	cmd.Flags().StringVar(&contractorID, "contractor", "", "contractor user id")
	return cmd
}

func bidAcceptCmd() *cobra.Command {
	var workOrderID string
	cmd := &cobra.Command{
		Use:   "accept <bid-id>",
		Short: "Accept a bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AcceptBid(ctx, workOrderID, args[0], localActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&workOrderID, "workorder", "", "work order id")
	_ = cmd.MarkFlagRequired("workorder")
	return cmd
}

func bidRejectCmd() *cobra.Command {
	var workOrderID string
	cmd := &cobra.Command{
		Use:   "reject <bid-id>",
		Short: "Reject a bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.RejectBid(ctx, workOrderID, args[0], localActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&workOrderID, "workorder", "", "work order id")
	_ = cmd.MarkFlagRequired("workorder")
	return cmd
}

func bidWithdrawCmd() *cobra.Command {
	var contractorID string
	cmd := &cobra.Command{
		Use:   "withdraw <bid-id>",
		Short: "Withdraw a bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := localActor()
				if contractorID != "" {
					actor = engine.Actor{ID: contractorID, Superuser: false}
				}
				b, err := e.WithdrawBid(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&contractorID, "contractor", "", "act as this contractor")
	return cmd
}

func bidDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <bid-id>",
		Short: "Delete a bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteBid(ctx, args[0], localActor())
			})
		},
	}
}

func memberCmd() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Manage tenant members"}
	member.AddCommand(memberInviteCmd())
	member.AddCommand(memberListCmd())
	member.AddCommand(memberActivateCmd())
	member.AddCommand(memberDeactivateCmd())
	return member
}

func memberInviteCmd() *cobra.Command {
	var email, name, role string
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Invite a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			return withTenant(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				m, err := e.InviteMember(ctx, tenantID, email, name, r, localActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "member email")
	cmd.Flags().StringVar(&name, "name", "", "member name")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleViewer), "role (viewer, executor, manager, org_admin, owner)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func memberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenant(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				items, err := e.Repo.ListMemberships(ctx, tenantID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Email", "Name", "Role", "Status"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.Email, m.Name, m.Role, m.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func memberActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <email>",
		Short: "Activate a member (consumes a seat)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenant(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				m, err := e.ActivateMember(ctx, tenantID, args[0], localActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func memberDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <email>",
		Short: "Deactivate a member (frees the seat)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenant(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				m, err := e.DeactivateMember(ctx, tenantID, args[0], localActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apiKeyCreateCmd())
	key.AddCommand(apiKeyListCmd())
	key.AddCommand(apiKeyDeleteCmd())
	return key
}

func apiKeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.New().String()
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Printf("API key (store it now, it is not shown again): %s\n", raw)
				return printJSONOrTable(map[string]string{"id": key.ID, "actor_id": key.ActorID})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	logc.AddCommand(logTailCmd())
	return logc
}

func logTailCmd() *cobra.Command {
	var n int
	var after int64
	var workOrderID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.EventsAfter(ctx, n, after, workOrderID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&after, "after", 0, "only events with id greater than this")
	cmd.Flags().StringVar(&workOrderID, "workorder", "", "work order filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			e := engine.New(conn, cfg)
			e.Docs = docgen.New(cfg.Documents)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("CREWLINE_JWT_SECRET"),
				AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = cfg.Auth.JWTSecret
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CREWLINE_JWT_SECRET is required for bearer auth")
			}
			dispatcher := notify.NewDispatcher(e.Repo, cfg.Notifications)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Dispatcher: dispatcher})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
				dispatcher.Stop()
			}()
			fmt.Printf("Serving Crewline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
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

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		cfg, err := config.Load(viper.GetString("workspace"))
		if err != nil {
			return err
		}
		e := engine.New(r.DB, cfg)
		return fn(ctx, e)
	})
}

func withTenant(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		tenantID, err := app.ResolveTenant(ctx, e, viper.GetString("tenant"), localActor())
		if err != nil {
			return err
		}
		return fn(ctx, e, tenantID)
	})
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
