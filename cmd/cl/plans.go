package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cadreline/internal/app"
	"cadreline/internal/domain"
	"cadreline/internal/engine"
	"cadreline/internal/repo"
)

func planCmd() *cobra.Command {
	plan := &cobra.Command{
		Use:   "plan",
		Short: "Draft, approve and apply staffing plans",
		Long: `A plan is an ordered batch of moves:
- ASSIGN: open a primary membership at --to (cadre must have none).
- REMOVE: end the cadre's memberships at --from.
- TRANSFER: move the primary membership from --from to --to.
Moves are checked in sequence against the live ledger on submit, approve and apply.
Apply writes every move in one transaction or none of them.`,
	}
	plan.AddCommand(planCreateCmd())
	plan.AddCommand(planListCmd())
	plan.AddCommand(planShowCmd())
	plan.AddCommand(planAddMoveCmd())
	plan.AddCommand(planRemoveMoveCmd())
	plan.AddCommand(planValidateCmd())
	plan.AddCommand(planTransitionCmd("submit", "Submit a DRAFT plan for approval", func(e engine.Engine) planOp { return e.Submit }))
	plan.AddCommand(planTransitionCmd("approve", "Approve a SUBMITTED plan", func(e engine.Engine) planOp { return e.Approve }))
	plan.AddCommand(planTransitionCmd("apply", "Apply an APPROVED plan to the ledger", func(e engine.Engine) planOp { return e.Apply }))
	plan.AddCommand(planTransitionCmd("cancel", "Cancel a DRAFT or SUBMITTED plan", func(e engine.Engine) planOp { return e.Cancel }))
	plan.AddCommand(planRejectCmd())
	return plan
}

type planOp func(ctx context.Context, planID, actorID string) (domain.Plan, error)

func planCreateCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a DRAFT plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CreatePlan(ctx, engine.PlanCreateOptions{
					Title:       args[0],
					Description: description,
					ActorID:     actorID(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Println(p.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "plan description")
	return cmd
}

func planListCmd() *cobra.Command {
	var f repo.PlanFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ps, err := a.Engine.ListPlans(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ps)
				}
				tw := newTable("ID", "Title", "Status", "Created by", "Approved by", "Created")
				for _, p := range ps {
					tw.AppendRow(table.Row{p.ID, p.Title, p.Status, p.CreatedBy, stringOrEmpty(p.ApprovedBy), p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar((*string)(&f.Status), "status", "", "status filter")
	cmd.Flags().StringVar(&f.CreatedBy, "created-by", "", "creator filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func planShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show a plan and its moves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.GetPlan(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("%s  %s  [%s]  by %s\n", p.ID, p.Title, p.Status, p.CreatedBy)
				if p.RejectReason != "" {
					fmt.Println("rejected:", p.RejectReason)
				}
				printMoves(p.Moves)
				return nil
			})
		},
	}
}

func printMoves(moves []domain.Move) {
	if len(moves) == 0 {
		fmt.Println("no moves")
		return
	}
	tw := newTable("Seq", "ID", "Type", "Cadre", "From", "To", "Role", "Risk")
	for _, m := range moves {
		risk := ""
		if snap, err := engine.DecodeRiskSnapshot(m.RiskSnapshot); err == nil {
			risk = riskSummary(snap)
		}
		tw.AppendRow(table.Row{m.Seq, m.ID, m.Type, m.CadreID, stringOrEmpty(m.FromUnitID), stringOrEmpty(m.ToUnitID), m.Role, risk})
	}
	tw.Render()
}

func riskSummary(s domain.RiskSnapshot) string {
	out := ""
	if s.RiskTag != nil {
		out = fmt.Sprintf("tag %s/%s", s.RiskTag.TagType, s.RiskTag.Severity)
	}
	if n := len(s.Conflicts); n > 0 {
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("%d conflict(s) at target", n)
	}
	return out
}

func planAddMoveCmd() *cobra.Command {
	var opts engine.MoveOptions
	cmd := &cobra.Command{
		Use:   "add-move <plan-id> <cadre-id>",
		Short: "Stage a move on a DRAFT plan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.PlanID, opts.CadreID = args[0], args[1]
			opts.ActorID = actorID()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				mv, err := a.Engine.AddMove(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(mv)
				}
				printMoves([]domain.Move{mv})
				return nil
			})
		},
	}
	cmd.Flags().StringVar((*string)(&opts.Type), "type", "", "ASSIGN, REMOVE or TRANSFER")
	cmd.Flags().StringVar(&opts.FromUnitID, "from", "", "source unit (REMOVE, TRANSFER)")
	cmd.Flags().StringVar(&opts.ToUnitID, "to", "", "target unit (ASSIGN, TRANSFER)")
	cmd.Flags().StringVar((*string)(&opts.Role), "role", "", "role at the target unit")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "why the move is needed")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func planRemoveMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-move <plan-id> <move-id>",
		Short: "Drop a staged move from a DRAFT plan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.RemoveMove(ctx, args[0], args[1], actorID()); err != nil {
					return err
				}
				fmt.Println("removed", args[1])
				return nil
			})
		},
	}
}

func planValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan-id>",
		Short: "List every violation without changing the plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				err := a.Engine.Validate(ctx, args[0], actorID())
				var vf *domain.ValidationFailedError
				switch {
				case errors.As(err, &vf):
					if viper.GetBool("json") {
						if jerr := printJSON(map[string]any{"plan_id": args[0], "valid": false, "violations": vf.Violations}); jerr != nil {
							return jerr
						}
					}
					return reportErr(err)
				case err != nil:
					return err
				case viper.GetBool("json"):
					return printJSON(map[string]any{"plan_id": args[0], "valid": true, "violations": []domain.Violation{}})
				}
				printViolations(nil)
				return nil
			})
		},
	}
}

func planTransitionCmd(use, short string, pick func(engine.Engine) planOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <plan-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := pick(a.Engine)(ctx, args[0], actorID())
				if err != nil {
					return reportErr(err)
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("%s %s\n", p.ID, p.Status)
				return nil
			})
		},
	}
}

func planRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <plan-id>",
		Short: "Reject a plan that has not been applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Reject(ctx, args[0], actorID(), reason)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("%s %s\n", p.ID, p.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}
