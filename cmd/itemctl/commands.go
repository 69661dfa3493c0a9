package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/basicitems/internal/config"
	"github.com/JonMunkholm/basicitems/internal/core"
	"github.com/JonMunkholm/basicitems/internal/migrations"
	"github.com/JonMunkholm/basicitems/internal/sheet"
	"github.com/JonMunkholm/basicitems/internal/store/postgres"
	"github.com/JonMunkholm/basicitems/internal/store/sqlite"
)

func newMigrateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var version int64
			switch cfg.Database.Driver {
			case config.DriverSQLite:
				st, err := sqlite.Open(ctx, cfg.Database.SQLitePath)
				if err != nil {
					return err
				}
				defer st.Close()
				if version, err = migrations.Version(ctx, st.DB(), migrations.SQLite); err != nil {
					return err
				}
			default:
				pool, err := postgres.Connect(ctx, cfg.Database.URL, postgres.PoolOptions{})
				if err != nil {
					return err
				}
				defer pool.Close()
				if err := postgres.Migrate(ctx, pool); err != nil {
					return err
				}
				if version, err = postgres.SchemaVersion(ctx, pool); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
}

func newProjectCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create and list projects",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create a project and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withService(cmd.Context(), func(svc *core.Service) error {
				p, err := svc.CreateProject(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p.ID)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withService(cmd.Context(), func(svc *core.Service) error {
				projects, err := svc.ListProjects(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME")
				for _, p := range projects {
					fmt.Fprintf(tw, "%s\t%s\n", p.ID, p.Name)
				}
				return tw.Flush()
			})
		},
	})
	return cmd
}

func projectFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "project", "p", "", "project id (required)")
	_ = cmd.MarkFlagRequired("project")
}

func parseProject(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--project: %w", err)
	}
	return id, nil
}

var errImportIncomplete = errors.New("import did not insert every row")

func newImportCmd(g *globalOptions) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "import <file.xlsx|file.csv>",
		Short: "Import items from a spreadsheet and print the row report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseProject(project)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			rows, err := sheet.Read(filepath.Base(args[0]), f)
			if err != nil {
				return err
			}

			return g.withService(cmd.Context(), func(svc *core.Service) error {
				report, err := svc.Import(cmd.Context(), projectID, rows)
				if report != nil {
					printReport(cmd.OutOrStdout(), report)
				}
				if err != nil {
					return err
				}
				if report.Status != core.ImportSuccess {
					return errImportIncomplete
				}
				return nil
			})
		},
	}
	projectFlag(cmd, &project)
	return cmd
}

func printReport(w io.Writer, r *core.ImportReport) {
	fmt.Fprintf(w, "import %s: %s, %d inserted, %d rejected\n", r.ImportID, r.Status, r.SuccessCount, len(r.Errors))
	if r.Failure != "" {
		fmt.Fprintf(w, "failure: %s\n", r.Failure)
	}
	if len(r.Errors) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tCODE\tREASON")
	for _, e := range r.Errors {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", e.Row, e.Code, e.Message)
	}
	_ = tw.Flush()
}

func newExportCmd(g *globalOptions) *cobra.Command {
	var (
		project string
		format  string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a project's items as xlsx or csv",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			projectID, err := parseProject(project)
			if err != nil {
				return err
			}
			f, err := sheet.ParseFormat(format)
			if err != nil {
				return err
			}
			if output == "" && f == sheet.FormatXLSX {
				return errors.New("--output is required for xlsx")
			}

			return g.withService(cmd.Context(), func(svc *core.Service) error {
				items, err := svc.ListItems(cmd.Context(), projectID)
				if err != nil {
					return err
				}
				if output == "" {
					return sheet.Write(cmd.OutOrStdout(), f, items)
				}
				out, err := os.Create(output)
				if err != nil {
					return err
				}
				if err := sheet.Write(out, f, items); err != nil {
					out.Close()
					return err
				}
				return out.Close()
			})
		},
	}
	projectFlag(cmd, &project)
	cmd.Flags().StringVarP(&format, "format", "f", "xlsx", "xlsx or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (csv defaults to stdout)")
	return cmd
}

func newNextCodeCmd(g *globalOptions) *cobra.Command {
	var (
		project  string
		category string
		parent   int64
	)

	cmd := &cobra.Command{
		Use:   "next-code",
		Short: "Print the code the next created item would get",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			projectID, err := parseProject(project)
			if err != nil {
				return err
			}
			var parentID *int64
			if parent > 0 {
				parentID = &parent
			}
			return g.withService(cmd.Context(), func(svc *core.Service) error {
				code, err := svc.PeekNextCode(cmd.Context(), projectID, category, parentID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), code)
				return nil
			})
		},
	}
	projectFlag(cmd, &project)
	cmd.Flags().StringVarP(&category, "category", "c", "", "category for a parent code")
	cmd.Flags().Int64Var(&parent, "parent", 0, "parent item id for a child code")
	return cmd
}
