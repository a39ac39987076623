package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/internal/format"
	"github.com/jrsteele09/notifica/notices"
	"github.com/jrsteele09/notifica/students"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const descriptionWidth = 48

// NewNoticesCmd creates the "notices" command group.
func NewNoticesCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notices",
		Aliases: []string{"notificacoes"},
		Short:   "Register and follow up disciplinary notices",
	}
	cmd.AddCommand(newNoticesListCmd(factory))
	cmd.AddCommand(newNoticesAddCmd(factory))
	cmd.AddCommand(newNoticesResolveCmd(factory))
	cmd.AddCommand(newNoticesDeleteCmd(factory))
	cmd.AddCommand(newNoticesWhatsAppCmd(factory))
	cmd.AddCommand(newNoticesPDFCmd(factory))
	return cmd
}

func newNoticesListCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notices, newest first",
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, _ []string) error {
			ctx := cmd.Context()
			studentRef, _ := cmd.Flags().GetString("student")
			levelFlag, _ := cmd.Flags().GetString("level")
			statusFlag, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			opts := notices.ListOptions{Limit: limit}
			if studentRef != "" {
				st, err := resolveStudent(cmd, app, studentRef)
				if err != nil {
					return err
				}
				opts.StudentID = st.ID
			}
			if levelFlag != "" {
				level, err := notices.ParseLevel(levelFlag)
				if err != nil {
					return err
				}
				opts.Level = level
			}
			if statusFlag != "" {
				status, err := notices.ParseStatus(statusFlag)
				if err != nil {
					return err
				}
				opts.Status = status
			}

			list, err := app.Notices.List(ctx, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				printMuted(out, "No notices found.")
				return nil
			}
			roster, err := app.Students.List(ctx, students.ListOptions{})
			if err != nil {
				return err
			}
			byID := make(map[string]students.Student, len(roster))
			for _, st := range roster {
				byID[st.ID] = st
			}

			rows := make([][]string, 0, len(list))
			for _, n := range list {
				name, class := format.NotAvailable, format.NotAvailable
				if st, ok := byID[n.StudentID]; ok {
					name, class = st.Name, st.Class
				}
				rows = append(rows, []string{
					n.ID, format.DateTime(n.OccurredAt), name, class,
					string(n.Level), string(n.Status), truncate(n.Description, descriptionWidth),
				})
			}
			renderTable(out, []string{"ID", "Data/Hora", "Aluno", "Turma", "Nível", "Status", "Descrição"}, rows)
			printMuted(out, "%d notice(s)", len(list))
			return nil
		}),
	}
	cmd.Flags().String("student", "", "Student id or enrollment")
	cmd.Flags().String("level", "", "Leve, Média or Grave")
	cmd.Flags().String("status", "", "pendente, resolvido or ativo")
	cmd.Flags().Int("limit", 0, "Show at most this many notices")
	return cmd
}

func newNoticesAddCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a notice",
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, _ []string) error {
			ctx := cmd.Context()
			studentRef, _ := cmd.Flags().GetString("student")
			at, _ := cmd.Flags().GetString("at")
			levelFlag, _ := cmd.Flags().GetString("level")
			description, _ := cmd.Flags().GetString("description")
			by, _ := cmd.Flags().GetString("by")
			if studentRef == "" {
				return exitError(exitValidation, "--student is required")
			}

			st, err := resolveStudent(cmd, app, studentRef)
			if err != nil {
				return err
			}
			occurred := app.Now()
			if at != "" {
				if occurred, err = format.ParseLocalDateTime(at); err != nil {
					return exitError(exitValidation, "%s", err)
				}
			}
			if by == "" {
				user, err := app.Sessions.CurrentUser(ctx)
				if err != nil {
					return err
				}
				by = user.DisplayName()
			}

			n, err := app.Notices.Create(ctx, notices.Notice{
				StudentID:    st.ID,
				OccurredAt:   occurred,
				Level:        notices.Level(levelFlag),
				Description:  description,
				RegisteredBy: by,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printSuccess(out, "Notice registered for %s", studentLabel(st))
			printFields(out, [][2]string{
				{"ID", n.ID},
				{"Date", format.DateTime(n.OccurredAt)},
				{"Level", string(n.Level)},
				{"Status", string(n.Status)},
			})
			return nil
		}),
	}
	cmd.Flags().String("student", "", "Student id or enrollment")
	cmd.Flags().String("at", "", "When it happened, YYYY-MM-DD HH:MM (default: now)")
	cmd.Flags().String("level", "", "Leve, Média or Grave")
	cmd.Flags().String("description", "", "What happened")
	cmd.Flags().String("by", "", "Registered by (default: the signed-in user)")
	return cmd
}

func newNoticesResolveCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark a notice as resolved",
		Args:  cobra.ExactArgs(1),
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			n, err := app.Notices.SetStatus(cmd.Context(), args[0], notices.Status(status))
			if err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Notice %s is now %s", n.ID, n.Status)
			return nil
		}),
	}
	cmd.Flags().String("status", string(notices.StatusResolved), "New status")
	return cmd
}

func newNoticesDeleteCmd(factory AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a notice",
		Args:  cobra.ExactArgs(1),
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, args []string) error {
			if err := app.Notices.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Notice deleted")
			return nil
		}),
	}
}

func newNoticesWhatsAppCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whatsapp <id>",
		Short: "Compose the guardian convocation and its WhatsApp link",
		Args:  cobra.ExactArgs(1),
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, args []string) error {
			n, st, err := noticeWithStudent(cmd, app, args[0])
			if err != nil {
				return err
			}
			message, _ := cmd.Flags().GetString("message")
			if message == "" {
				message = notices.ComposeMessage(*st, *n, notices.PortalURL(app.Config.GetPublicURL()))
			}
			link, err := notices.WhatsAppLink(st.GuardianPhone, message)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printTitle(out, "Message to "+st.Guardian+" ("+format.Phone(st.GuardianPhone)+")")
			fmt.Fprintf(out, "%s\n\n", message)
			printSuccess(out, "%s", link)
			return nil
		}),
	}
	cmd.Flags().String("message", "", "Send this text instead of the standard convocation")
	return cmd
}

func newNoticesPDFCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pdf <id>",
		Short: "Generate the printable notice document",
		Args:  cobra.ExactArgs(1),
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, args []string) error {
			ctx := cmd.Context()
			dir, _ := cmd.Flags().GetString("dir")
			letterhead, _ := cmd.Flags().GetString("letterhead")
			upload, _ := cmd.Flags().GetBool("upload")

			n, st, err := noticeWithStudent(cmd, app, args[0])
			if err != nil {
				return err
			}
			opts := notices.DocumentOptions{GeneratedAt: app.Now()}
			if letterhead != "" {
				img, err := os.Open(letterhead)
				if err != nil {
					return exitError(exitValidation, "cannot open letterhead: %v", err)
				}
				defer img.Close()
				opts.Letterhead = img
				opts.LetterheadType = imageType(letterhead)
			}

			name := notices.DocumentFileName(*st, app.Now())
			path := filepath.Join(dir, name)
			if err := writeFile(path, func(f *os.File) error { return notices.RenderPDF(f, *st, *n, opts) }); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printSuccess(out, "Document written to %s", path)
			if !upload {
				return nil
			}

			f, err := os.Open(path)
			if err != nil {
				return errors.Wrap(err, "[notices pdf] reopen")
			}
			defer f.Close()
			updated, err := app.Notices.AttachDocument(ctx, n.ID, f, name)
			if err != nil {
				return err
			}
			printSuccess(out, "Uploaded: %s", updated.PDFURL)
			return nil
		}),
	}
	cmd.Flags().String("dir", ".", "Output directory")
	cmd.Flags().String("letterhead", "", "PNG or JPG drawn as page background")
	cmd.Flags().Bool("upload", false, "Also store the document and link it to the notice")
	return cmd
}

// resolveStudent finds a student by enrollment, then by id.
func resolveStudent(cmd *cobra.Command, app *App, ref string) (*students.Student, error) {
	st, err := app.Students.FindByEnrollment(cmd.Context(), ref)
	if err == nil {
		return st, nil
	}
	if !nerrors.Is(err, nerrors.ErrNotFound) {
		return nil, err
	}
	return app.Students.Get(cmd.Context(), ref)
}

func noticeWithStudent(cmd *cobra.Command, app *App, id string) (*notices.Notice, *students.Student, error) {
	n, err := app.Notices.Get(cmd.Context(), id)
	if err != nil {
		return nil, nil, err
	}
	st, err := app.Students.Get(cmd.Context(), n.StudentID)
	if err != nil {
		return nil, nil, err
	}
	return n, st, nil
}

func imageType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "JPG"
	}
	return "PNG"
}

func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
