package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cadreline/internal/app"
	"cadreline/internal/domain"
	"cadreline/internal/hierarchy"
	"cadreline/internal/ledger"
)

func unitCmd() *cobra.Command {
	unit := &cobra.Command{
		Use:   "unit",
		Short: "Manage the org unit tree",
	}
	unit.AddCommand(unitCreateCmd())
	unit.AddCommand(unitListCmd())
	unit.AddCommand(unitTreeCmd())
	unit.AddCommand(unitShowCmd())
	unit.AddCommand(unitAncestorsCmd())
	unit.AddCommand(unitDescendantsCmd())
	unit.AddCommand(unitMoveCmd())
	unit.AddCommand(unitReorderCmd())
	unit.AddCommand(unitActiveCmd("activate", true))
	unit.AddCommand(unitActiveCmd("deactivate", false))
	unit.AddCommand(unitDeleteCmd())
	unit.AddCommand(unitMembersCmd())
	unit.AddCommand(unitLeaderCmd())
	return unit
}

func unitCreateCmd() *cobra.Command {
	var opts hierarchy.CreateOptions
	var sortOrder int
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name = args[0]
			opts.ActorID = actorID()
			if cmd.Flags().Changed("sort-order") {
				opts.SortOrder = &sortOrder
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.Units.Create(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(u)
				}
				fmt.Println(u.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent unit id (empty creates a root)")
	cmd.Flags().StringVar(&opts.Code, "code", "", "unit code")
	cmd.Flags().StringVar((*string)(&opts.Type), "type", "", "BRANCH, DEPARTMENT, TEAM, DIVISION or OFFICE")
	cmd.Flags().IntVar(&sortOrder, "sort-order", 0, "position among siblings (default appends)")
	return cmd
}

func printUnits(units []domain.OrgUnit) {
	tw := newTable("ID", "Name", "Code", "Type", "Parent", "Order", "Active")
	for _, u := range units {
		tw.AppendRow(table.Row{u.ID, u.Name, stringOrEmpty(u.Code), u.Type, stringOrEmpty(u.ParentID), u.SortOrder, u.Active})
	}
	tw.Render()
}

func unitListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List units",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				units, err := a.Engine.Units.List(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(units)
				}
				printUnits(units)
				return nil
			})
		},
	}
}

func unitTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Show the unit tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				roots, err := a.Engine.Units.Tree(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(roots)
				}
				for _, n := range roots {
					printUnitTree(n, "", true, true)
				}
				return nil
			})
		},
	}
}

func printUnitTree(n domain.UnitNode, prefix string, last, root bool) {
	connector := "├── "
	next := prefix + "│   "
	if last {
		connector = "└── "
		next = prefix + "    "
	}
	if root {
		connector = ""
		next = ""
	}
	label := n.Name
	if n.Code != nil {
		label += " [" + *n.Code + "]"
	}
	if !n.Active {
		label += " (inactive)"
	}
	fmt.Printf("%s%s%s  %s\n", prefix, connector, label, n.ID)
	for i, c := range n.Children {
		printUnitTree(c, next, i == len(n.Children)-1, false)
	}
}

func unitShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <unit-id>",
		Short: "Show a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.Units.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printRecord(u)
			})
		},
	}
}

func unitAncestorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ancestors <unit-id>",
		Short: "List ancestors from parent to root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				units, err := a.Engine.Units.Ancestors(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(units)
				}
				printUnits(units)
				return nil
			})
		},
	}
}

func unitDescendantsCmd() *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "descendants <unit-id>",
		Short: "List descendants breadth-first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, ok := hierarchy.ParseScope(scope)
			if !ok {
				return fmt.Errorf("unknown scope %q (structural, operational)", scope)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				units, err := a.Engine.Units.Descendants(ctx, args[0], sc)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(units)
				}
				printUnits(units)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "structural", "structural or operational")
	return cmd
}

func unitMoveCmd() *cobra.Command {
	var parent string
	var position int
	cmd := &cobra.Command{
		Use:   "move <unit-id>",
		Short: "Re-parent a unit (omit --parent to make it a root)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var parentID *string
			if parent != "" {
				parentID = &parent
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.Units.Move(ctx, args[0], parentID, position, actorID())
				if err != nil {
					return err
				}
				return printRecord(u)
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "new parent unit id")
	cmd.Flags().IntVar(&position, "position", -1, "position among new siblings (-1 appends)")
	return cmd
}

func unitReorderCmd() *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "reorder <unit-id>...",
		Short: "Put the listed children of --parent first, in order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				units, err := a.Engine.Units.Reorder(ctx, parent, args, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(units)
				}
				printUnits(units)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "parent unit id (empty reorders roots)")
	return cmd
}

func unitActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <unit-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.Units.SetActive(ctx, args[0], active, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(u)
				}
				fmt.Printf("%s active=%t\n", u.ID, u.Active)
				return nil
			})
		},
	}
}

func unitDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <unit-id>",
		Short: "Delete a unit with no children and no active members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Units.Destroy(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func unitMembersCmd() *cobra.Command {
	var (
		descendants, primaryOnly bool
		search                   string
	)
	cmd := &cobra.Command{
		Use:   "members <unit-id>",
		Short: "List active members of a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ms, err := a.Engine.Ledger.Members(ctx, args[0], ledger.MemberQuery{
					IncludeDescendants: descendants,
					PrimaryOnly:        primaryOnly,
					Search:             search,
				})
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
	cmd.Flags().BoolVar(&descendants, "descendants", false, "include members of descendant units")
	cmd.Flags().BoolVar(&primaryOnly, "primary-only", false, "only primary memberships")
	cmd.Flags().StringVarP(&search, "search", "q", "", "match cadre name, code or position")
	return cmd
}

func unitLeaderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leader <unit-id> <cadre-id>",
		Short: "Make a cadre the unit's only LEADER",
		Long:  "Promotes the cadre's membership at the unit (opening a secondary one if needed) and demotes any other leader there to MEMBER.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Engine.Ledger.SetLeader(ctx, ledger.SetLeaderInput{UnitID: args[0], CadreID: args[1], ActorID: actorID()})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(m)
				}
				printMemberships([]domain.Membership{m})
				return nil
			})
		},
	}
}
