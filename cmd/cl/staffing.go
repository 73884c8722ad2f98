package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cadreline/internal/app"
	"cadreline/internal/domain"
	"cadreline/internal/engine"
	"cadreline/internal/ledger"
	"cadreline/internal/registry"
	"cadreline/internal/repo"
)

func cadreCmd() *cobra.Command {
	cadre := &cobra.Command{
		Use:   "cadre",
		Short: "Sync and inspect roster records",
	}
	cadre.AddCommand(cadrePutCmd())
	cadre.AddCommand(cadreListCmd())
	cadre.AddCommand(cadreShowCmd())
	return cadre
}

func cadrePutCmd() *cobra.Command {
	var in engine.CadreInput
	cmd := &cobra.Command{
		Use:   "put <code> <name>",
		Short: "Create or update a cadre by code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Code, in.Name = args[0], args[1]
			in.ActorID = actorID()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.PutCadre(ctx, in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Println(c.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "roster id (default generated)")
	cmd.Flags().StringVar(&in.Gender, "gender", "", "M, F or U")
	cmd.Flags().StringVar(&in.BirthDate, "birth-date", "", "YYYY-MM-DD")
	cmd.Flags().StringVar(&in.Position, "position", "", "position title")
	cmd.Flags().StringVar(&in.Rank, "rank", "", "rank")
	cmd.Flags().StringVar((*string)(&in.Status), "status", "", "ACTIVE, TRANSFERRED, RETIRED, RESIGNED or SUSPENDED")
	return cmd
}

func cadreListCmd() *cobra.Command {
	var f repo.CadreFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cadres",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cs, err := a.Engine.ListCadres(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cs)
				}
				tw := newTable("ID", "Code", "Name", "Position", "Rank", "Status")
				for _, c := range cs {
					tw.AppendRow(table.Row{c.ID, c.Code, c.Name, c.Position, c.Rank, c.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVarP(&f.Query, "query", "q", "", "name or code substring")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	return cmd
}

func cadreShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id-or-code>",
		Short: "Show a cadre with memberships, conflicts and risk tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.GetCadre(ctx, args[0])
				if err != nil {
					return err
				}
				ms, err := a.Engine.Ledger.ListByCadre(ctx, c.ID, false)
				if err != nil {
					return err
				}
				conflicts, err := registry.CollectConflicts(a.Engine.Registry.ConflictsOf(ctx, c.ID))
				if err != nil {
					return err
				}
				tag, err := a.Engine.Registry.RiskTagOf(ctx, c.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"cadre":       c,
						"memberships": ms,
						"conflicts":   conflicts,
						"risk_tag":    tag,
					})
				}
				fmt.Printf("%s  %s (%s)  %s\n", c.ID, c.Name, c.Code, c.Status)
				printMemberships(ms)
				printConflicts(conflicts)
				if tag != nil {
					fmt.Printf("risk tag: %s %s %s\n", tag.TagType, tag.Severity, tag.Reason)
				}
				return nil
			})
		},
	}
}

func printMemberships(ms []domain.Membership) {
	tw := newTable("ID", "Cadre", "Unit", "Role", "Primary", "Start", "End", "Status")
	for _, m := range ms {
		tw.AppendRow(table.Row{m.ID, m.CadreID, m.UnitID, m.Role, m.IsPrimary, m.StartDate, stringOrEmpty(m.EndDate), m.Status})
	}
	tw.Render()
}

func printConflicts(cs []domain.Conflict) {
	if len(cs) == 0 {
		return
	}
	tw := newTable("Pair", "Other cadre", "Type", "Severity")
	for _, c := range cs {
		tw.AppendRow(table.Row{c.PairID, c.OtherCadreID, c.Type, c.Severity})
	}
	tw.Render()
}

func memberCmd() *cobra.Command {
	member := &cobra.Command{
		Use:   "member",
		Short: "Edit the membership ledger directly",
		Long:  "Direct ledger edits bypass plan approval. Staffing changes that need sign-off belong in a plan.",
	}
	member.AddCommand(memberAssignCmd())
	member.AddCommand(memberEndCmd())
	member.AddCommand(memberTransferCmd())
	member.AddCommand(memberListCmd())
	return member
}

func memberAssignCmd() *cobra.Command {
	var in ledger.AssignInput
	cmd := &cobra.Command{
		Use:   "assign <cadre-id> <unit-id>",
		Short: "Open a membership",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.CadreID, in.UnitID = args[0], args[1]
			in.ActorID = actorID()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Engine.Ledger.Assign(ctx, in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(m)
				}
				fmt.Println(m.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar((*string)(&in.Role), "role", "", "role (default MEMBER)")
	cmd.Flags().BoolVar(&in.IsPrimary, "primary", false, "make this the cadre's primary membership")
	cmd.Flags().StringVar(&in.EffectiveFrom, "from", "", "start date YYYY-MM-DD (default today)")
	return cmd
}

func memberEndCmd() *cobra.Command {
	var effective string
	cmd := &cobra.Command{
		Use:   "end <membership-id>",
		Short: "End a membership",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				date := effective
				if date == "" {
					date = a.Engine.Ledger.Today()
				}
				m, err := a.Engine.Ledger.End(ctx, args[0], date, actorID())
				if err != nil {
					return err
				}
				return printRecord(m)
			})
		},
	}
	cmd.Flags().StringVar(&effective, "to", "", "end date YYYY-MM-DD (default today)")
	return cmd
}

func memberTransferCmd() *cobra.Command {
	var in ledger.TransferInput
	cmd := &cobra.Command{
		Use:   "transfer <cadre-id> <from-unit-id> <to-unit-id>",
		Short: "Move a cadre's primary membership",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.CadreID, in.FromUnitID, in.ToUnitID = args[0], args[1], args[2]
			in.ActorID = actorID()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Engine.Ledger.Transfer(ctx, in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(m)
				}
				fmt.Println(m.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar((*string)(&in.Role), "role", "", "role at the new unit (default keeps the old role)")
	cmd.Flags().StringVar(&in.Effective, "on", "", "effective date YYYY-MM-DD (default today)")
	return cmd
}

func memberListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list <cadre-id>",
		Short: "Membership history of a cadre",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ms, err := a.Engine.Ledger.ListByCadre(ctx, args[0], activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ms)
				}
				printMemberships(ms)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "active memberships only")
	return cmd
}

func conflictCmd() *cobra.Command {
	conflict := &cobra.Command{
		Use:   "conflict",
		Short: "Manage conflict pairs",
	}
	conflict.AddCommand(conflictAddCmd())
	conflict.AddCommand(conflictListCmd())
	conflict.AddCommand(conflictDeactivateCmd())
	conflict.AddCommand(conflictOfCmd())
	return conflict
}

func conflictAddCmd() *cobra.Command {
	var in registry.ConflictInput
	cmd := &cobra.Command{
		Use:   "add <cadre-a> <cadre-b>",
		Short: "Register a conflict between two cadres",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.CadreA, in.CadreB = args[0], args[1]
			in.ActorID = actorID()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Registry.RegisterConflict(ctx, in)
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
	cmd.Flags().StringVar((*string)(&in.Type), "type", "", "WORK_CONFLICT, PERSONAL_CONFLICT or OTHER")
	cmd.Flags().StringVar((*string)(&in.Severity), "severity", "", "LOW, MEDIUM or HIGH")
	cmd.Flags().StringVar(&in.Note, "note", "", "free text")
	return cmd
}

func conflictListCmd() *cobra.Command {
	var f repo.ConflictFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conflict pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ps, err := a.Engine.Registry.ListConflicts(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ps)
				}
				tw := newTable("ID", "Cadre A", "Cadre B", "Type", "Severity", "Active", "Note")
				for _, p := range ps {
					tw.AppendRow(table.Row{p.ID, p.CadreA, p.CadreB, p.Type, p.Severity, p.Active, p.Note})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.CadreID, "cadre", "", "pairs involving this cadre")
	cmd.Flags().StringVar((*string)(&f.Severity), "severity", "", "severity filter")
	cmd.Flags().BoolVar(&f.ActiveOnly, "active", false, "active pairs only")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	return cmd
}

func conflictDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <pair-id>",
		Short: "Deactivate a conflict pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Registry.DeactivateConflict(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printRecord(p)
			})
		},
	}
}

func conflictOfCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "of <cadre-id>",
		Short: "Active conflicts of a cadre, most severe first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cs, err := registry.CollectConflicts(a.Engine.Registry.ConflictsOf(ctx, args[0]))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cs)
				}
				if len(cs) == 0 {
					fmt.Println("no active conflicts")
					return nil
				}
				printConflicts(cs)
				return nil
			})
		},
	}
}

func riskCmd() *cobra.Command {
	risk := &cobra.Command{
		Use:   "risk",
		Short: "Manage cadre risk tags",
	}
	risk.AddCommand(riskSetCmd())
	risk.AddCommand(riskShowCmd())
	risk.AddCommand(riskClearCmd())
	return risk
}

func riskSetCmd() *cobra.Command {
	var in registry.RiskTagInput
	cmd := &cobra.Command{
		Use:   "set <cadre-id>",
		Short: "Set the risk tag of a cadre",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.CadreID = args[0]
			in.ActorID = actorID()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tag, err := a.Engine.Registry.SetRiskTag(ctx, in)
				if err != nil {
					return err
				}
				return printRecord(tag)
			})
		},
	}
	cmd.Flags().StringVar((*string)(&in.TagType), "type", "", "B_KEY_PERSON, RELATIONSHIP_BAD, SENSITIVE or OTHER")
	cmd.Flags().StringVar((*string)(&in.Severity), "severity", "", "LOW, MEDIUM or HIGH")
	cmd.Flags().StringVar(&in.Reason, "reason", "", "free text")
	return cmd
}

func riskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <cadre-id>",
		Short: "Show the active risk tag of a cadre",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tag, err := a.Engine.Registry.RiskTagOf(ctx, args[0])
				if err != nil {
					return err
				}
				if tag == nil {
					if viper.GetBool("json") {
						return printJSON(nil)
					}
					fmt.Println("no active risk tag")
					return nil
				}
				return printRecord(tag)
			})
		},
	}
}

func riskClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <cadre-id>",
		Short: "Deactivate the risk tag of a cadre",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Registry.ClearRiskTag(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Println("cleared")
				return nil
			})
		},
	}
}
