package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jrsteele09/notifica/internal/format"
	"github.com/jrsteele09/notifica/students"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// NewStudentsCmd creates the "students" command group.
func NewStudentsCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "students",
		Aliases: []string{"alunos"},
		Short:   "Manage the student roster",
	}
	cmd.AddCommand(newStudentsListCmd(factory))
	cmd.AddCommand(newStudentsAddCmd(factory))
	cmd.AddCommand(newStudentsDeleteCmd(factory))
	cmd.AddCommand(newStudentsImportCmd(factory))
	cmd.AddCommand(newStudentsTemplateCmd())
	return cmd
}

func newStudentsListCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List students, optionally of one class",
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, _ []string) error {
			class, _ := cmd.Flags().GetString("class")
			roster, err := app.Students.List(cmd.Context(), students.ListOptions{Class: class})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(roster) == 0 {
				printMuted(out, "No students found.")
				return nil
			}
			rows := make([][]string, 0, len(roster))
			for _, st := range roster {
				rows = append(rows, []string{
					st.ID, st.Name, st.Enrollment, st.Class, st.Guardian,
					format.Phone(st.GuardianPhone), format.OrNA(st.PortalCode),
				})
			}
			renderTable(out, []string{"ID", "Nome", "Matrícula", "Turma", "Responsável", "Telefone", "Código Portal"}, rows)
			printMuted(out, "%d student(s)", len(roster))
			return nil
		}),
	}
	cmd.Flags().String("class", "", "Only students of this class (turma)")
	return cmd
}

func newStudentsAddCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a student",
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, _ []string) error {
			flag := func(name string) string {
				v, _ := cmd.Flags().GetString(name)
				return v
			}
			st, err := app.Students.Create(cmd.Context(), students.Student{
				Name:          flag("name"),
				BirthDate:     flag("birth-date"),
				Enrollment:    flag("enrollment"),
				Class:         flag("class"),
				Guardian:      flag("guardian"),
				GuardianPhone: flag("phone"),
				PortalCode:    flag("code"),
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printSuccess(out, "Student %s registered", st.Name)
			printFields(out, [][2]string{
				{"ID", st.ID},
				{"Portal code", st.PortalCode},
			})
			return nil
		}),
	}
	cmd.Flags().String("name", "", "Full name")
	cmd.Flags().String("birth-date", "", "Birth date (DD-MM-YYYY or YYYY-MM-DD)")
	cmd.Flags().String("enrollment", "", "Enrollment number (matrícula)")
	cmd.Flags().String("class", "", "Class (turma)")
	cmd.Flags().String("guardian", "", "Guardian's name")
	cmd.Flags().String("phone", "", "Guardian's phone with area code")
	cmd.Flags().String("code", "", "Portal code (default: a fresh random one)")
	return cmd
}

func newStudentsDeleteCmd(factory AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete students",
		Args:  cobra.MinimumNArgs(1),
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				if err := app.Students.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				printSuccess(out, "Student deleted")
				return nil
			}

			res := app.Students.DeleteMany(cmd.Context(), args)
			printSuccess(out, "%d student(s) deleted", len(res.Deleted))
			for _, f := range res.Failed {
				printWarning(out, "%s: %s", f.ID, callSite.ReplaceAllString(f.Err.Error(), ""))
			}
			if !res.OK() {
				return exitError(exitFailure, "%d of %d deletions failed", len(res.Failed), len(args))
			}
			return nil
		}),
	}
}

func newStudentsImportCmd(factory AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.xlsx|file.csv>",
		Short: "Import students from a spreadsheet",
		Long: "Import students from a spreadsheet with the columns " + strings.Join(students.Columns, ", ") + ". " +
			"Nothing is imported when a row is invalid; enrollments already registered are skipped.",
		Args: cobra.ExactArgs(1),
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return exitError(exitValidation, "cannot open %s: %v", args[0], err)
			}
			defer f.Close()

			out := cmd.OutOrStdout()
			res, err := app.Students.ImportFile(cmd.Context(), f, filepath.Base(args[0]))
			if res != nil {
				printSuccess(out, "%d student(s) imported", len(res.Imported))
				if len(res.Skipped) > 0 {
					printMuted(out, "%d already registered: %s", len(res.Skipped), strings.Join(res.Skipped, ", "))
				}
				for _, failure := range res.Failed {
					printWarning(out, "line %d (%s): %s", failure.Line, failure.Enrollment, callSite.ReplaceAllString(failure.Err.Error(), ""))
				}
			}
			if err != nil {
				return err
			}
			if len(res.Failed) > 0 {
				return exitError(exitFailure, "%d row(s) could not be imported", len(res.Failed))
			}
			return nil
		}),
	}
}

// newStudentsTemplateCmd needs no backend: it only writes a file.
func newStudentsTemplateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write an import template spreadsheet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			formatFlag, _ := cmd.Flags().GetString("format")
			dir, _ := cmd.Flags().GetString("dir")

			tf := students.TemplateFormat(strings.ToLower(formatFlag))
			if tf != students.TemplateXLSX && tf != students.TemplateCSV {
				return exitError(exitValidation, "unknown format %q (use xlsx or csv)", formatFlag)
			}
			path := filepath.Join(dir, students.TemplateFileName(tf, time.Now()))
			if err := writeFile(path, func(f *os.File) error { return students.WriteTemplate(f, tf) }); err != nil {
				return classify(err)
			}
			printSuccess(cmd.OutOrStdout(), "Template written to %s", path)
			return nil
		},
	}
	cmd.Flags().String("format", string(students.TemplateXLSX), "xlsx or csv")
	cmd.Flags().String("dir", ".", "Output directory")
	return cmd
}

// writeFile creates path and fills it with write, removing it on failure.
func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "[writeFile] create %s", path)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "[writeFile] close %s", path)
	}
	return nil
}

func studentLabel(st *students.Student) string {
	if st == nil {
		return format.NotAvailable
	}
	return fmt.Sprintf("%s (%s)", st.Name, st.Enrollment)
}
