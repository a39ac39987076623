package cli

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jrsteele09/notifica/dashboard"
	"github.com/jrsteele09/notifica/internal/format"
	"github.com/jrsteele09/notifica/notices"
	"github.com/jrsteele09/notifica/reports"
	"github.com/spf13/cobra"
)

// NewDashboardCmd creates the "dashboard" subcommand: totals, students on
// alert and the latest notices.
func NewDashboardCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show totals, alerts and the latest notices",
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, _ []string) error {
			ctx := cmd.Context()
			recent, _ := cmd.Flags().GetInt("recent")

			summary, err := app.Dashboard.Summary(ctx)
			if err != nil {
				return err
			}
			alerts, err := app.Dashboard.Alerts(ctx)
			if err != nil {
				return err
			}
			latest, err := app.Dashboard.Recent(ctx, recent)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printTitle(out, "Resumo")
			renderTable(out,
				[]string{"Alunos", "Notificações", "Pendentes", "Resolvidas", "Leve", "Média", "Grave"},
				[][]string{{
					strconv.Itoa(summary.Students), strconv.Itoa(summary.Notices),
					strconv.Itoa(summary.Pending), strconv.Itoa(summary.Resolved),
					strconv.Itoa(summary.Light), strconv.Itoa(summary.Medium), strconv.Itoa(summary.Severe),
				}})

			printTitle(out, "Alertas")
			if len(alerts) == 0 {
				printMuted(out, "No student has %d or more open notices.", dashboard.AlertThreshold)
			} else {
				rows := make([][]string, 0, len(alerts))
				for _, a := range alerts {
					name, class := format.NotAvailable, format.NotAvailable
					if a.Student != nil {
						name, class = a.Student.Name, a.Student.Class
					}
					rows = append(rows, []string{name, class, strconv.Itoa(a.OpenNotices)})
				}
				renderTable(out, []string{"Aluno", "Turma", "Em aberto"}, rows)
			}

			printTitle(out, "Recentes")
			if len(latest) == 0 {
				printMuted(out, "No notices yet.")
				return nil
			}
			rows := make([][]string, 0, len(latest))
			for _, r := range latest {
				name := format.NotAvailable
				if r.Student != nil {
					name = r.Student.Name
				}
				rows = append(rows, []string{format.DateTime(r.OccurredAt), name, string(r.Level), string(r.Status)})
			}
			renderTable(out, []string{"Data/Hora", "Aluno", "Nível", "Status"}, rows)
			return nil
		}),
	}
	cmd.Flags().Int("recent", dashboard.DefaultRecent, "How many recent notices to show")
	return cmd
}

// NewReportCmd creates the "report" subcommand.
func NewReportCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "report <alunos|notificacoes|consolidado>",
		Short:     "Export a report as a spreadsheet or PDF",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(reports.KindStudents), string(reports.KindNotices), string(reports.KindConsolidated)},
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, args []string) error {
			ctx := cmd.Context()
			kind, err := reports.ParseKind(args[0])
			if err != nil {
				return err
			}
			filters, err := reportFilters(cmd)
			if err != nil {
				return err
			}
			formatFlag, _ := cmd.Flags().GetString("format")
			dir, _ := cmd.Flags().GetString("dir")
			letterhead, _ := cmd.Flags().GetString("letterhead")
			ext := strings.ToLower(formatFlag)
			if ext != "xlsx" && ext != "pdf" {
				return exitError(exitValidation, "unknown format %q (use xlsx or pdf)", formatFlag)
			}

			user, err := app.Sessions.CurrentUser(ctx)
			if err != nil {
				return err
			}
			report, err := app.Reports.Build(ctx, kind, filters, reports.Author{Name: user.FullName(), Email: user.Email})
			if err != nil {
				return err
			}
			if len(report.Rows) == 0 {
				return reports.ErrEmptyReport
			}

			path := filepath.Join(dir, reports.FileName(kind, ext, app.Now()))
			err = writeFile(path, func(f *os.File) error {
				if ext == "xlsx" {
					return reports.WriteXLSX(f, report)
				}
				opts := reports.PDFOptions{}
				if letterhead != "" {
					img, err := os.Open(letterhead)
					if err != nil {
						return exitError(exitValidation, "cannot open letterhead: %v", err)
					}
					defer img.Close()
					opts.Letterhead = img
					opts.LetterheadType = imageType(letterhead)
				}
				return reports.WritePDF(f, report, opts)
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printSuccess(out, "%s written to %s", kind.Title(), path)
			for _, s := range report.Stats {
				printMuted(out, "%s: %d", s.Label, s.Value)
			}
			return nil
		}),
	}
	cmd.Flags().String("from", "", "First day, YYYY-MM-DD")
	cmd.Flags().String("to", "", "Last day, YYYY-MM-DD")
	cmd.Flags().String("class", "", "Only this class (turma)")
	cmd.Flags().String("level", "", "Only notices of this level")
	cmd.Flags().String("status", "", "Only notices with this status")
	cmd.Flags().String("format", "xlsx", "xlsx or pdf")
	cmd.Flags().String("dir", ".", "Output directory")
	cmd.Flags().String("letterhead", "", "PNG or JPG drawn behind PDF pages")
	return cmd
}

func reportFilters(cmd *cobra.Command) (reports.Filters, error) {
	var f reports.Filters
	flag := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return strings.TrimSpace(v)
	}
	var err error
	if v := flag("from"); v != "" {
		if f.From, err = reports.ParseDay(v); err != nil {
			return f, err
		}
	}
	if v := flag("to"); v != "" {
		if f.To, err = reports.ParseDay(v); err != nil {
			return f, err
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, exitError(exitValidation, "--to must not be before --from")
	}
	f.Class = flag("class")
	if v := flag("level"); v != "" {
		if f.Level, err = notices.ParseLevel(v); err != nil {
			return f, err
		}
	}
	if v := flag("status"); v != "" {
		if f.Status, err = notices.ParseStatus(v); err != nil {
			return f, err
		}
	}
	return f, nil
}

// NewPortalCmd creates the "portal" subcommand: the guardian lookup, made
// with the anon key only.
func NewPortalCmd(factory AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "portal <code>",
		Short: "Look up a student's notices by portal code",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(factory, func(cmd *cobra.Command, app *App, args []string) error {
			res, err := app.Portal.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printTitle(out, res.Student.Name)
			printFields(out, [][2]string{
				{"Matrícula", res.Student.Enrollment},
				{"Turma", res.Student.Class},
				{"Responsável", res.Student.Guardian},
				{"Notificações", strconv.Itoa(res.Stats.Total)},
				{"Pendentes", strconv.Itoa(res.Stats.Pending)},
				{"Resolvidas", strconv.Itoa(res.Stats.Resolved)},
			})
			if len(res.Notices) == 0 {
				printMuted(out, "No notices.")
				return nil
			}
			rows := make([][]string, 0, len(res.Notices))
			for _, n := range res.Notices {
				rows = append(rows, []string{
					format.DateTime(n.OccurredAt), string(n.Level), string(n.Status),
					truncate(n.Description, descriptionWidth), format.OrNA(n.PDFURL),
				})
			}
			renderTable(out, []string{"Data/Hora", "Nível", "Status", "Descrição", "Documento"}, rows)
			return nil
		}),
	}
}
