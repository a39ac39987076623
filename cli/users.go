package cli

import (
	"strings"

	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/jrsteele09/notifica/internal/format"
	"github.com/jrsteele09/notifica/internal/utils"
	"github.com/jrsteele09/notifica/usermgmt"
	"github.com/jrsteele09/notifica/users"
	"github.com/spf13/cobra"
)

// NewUsersCmd creates the "users" command group. Every subcommand needs an
// admin session.
func NewUsersCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "users",
		Aliases: []string{"usuarios"},
		Short:   "Manage operator accounts (admins only)",
	}
	cmd.AddCommand(newUsersListCmd(factory))
	cmd.AddCommand(newUsersInviteCmd(factory))
	cmd.AddCommand(newUsersEditCmd(factory))
	cmd.AddCommand(newUsersDeleteCmd(factory))
	return cmd
}

func newUsersListCmd(factory AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, _ []string) error {
			list, err := app.Users.List(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(list))
			for i := range list {
				u := &list[i]
				rows = append(rows, []string{
					u.ID, u.Email, format.OrNA(u.FullName()), u.RoleLabel(), format.DateTime(utils.Value(u.LastSignInAt)),
				})
			}
			out := cmd.OutOrStdout()
			renderTable(out, []string{"ID", "Email", "Nome", "Perfil", "Último acesso"}, rows)
			printMuted(out, "%d account(s)", len(list))
			return nil
		}),
	}
}

func newUsersInviteCmd(factory AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "invite <email>",
		Short: "Create an operator account and email it an invite",
		Args:  cobra.ExactArgs(1),
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, args []string) error {
			u, err := app.Users.Invite(cmd.Context(), args[0], usermgmt.SetPasswordURL(app.Config.GetPublicURL()))
			if err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Invite sent to %s (id %s)", u.Email, u.ID)
			return nil
		}),
	}
}

func newUsersEditCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <id|email>",
		Short: "Change an account's name or role",
		Args:  cobra.ExactArgs(1),
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, args []string) error {
			ctx := cmd.Context()
			roleFlag, _ := cmd.Flags().GetString("role")
			var name *string
			if cmd.Flags().Changed("name") {
				v, _ := cmd.Flags().GetString("name")
				name = utils.Ptr(v)
			}
			if name == nil && roleFlag == "" {
				return exitError(exitValidation, "nothing to change, pass --name or --role")
			}

			id, err := resolveUserID(cmd, app, args[0])
			if err != nil {
				return err
			}
			u, err := app.Users.Edit(ctx, id, name, users.RoleType(strings.ToLower(roleFlag)))
			if err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "%s is now %s", userLabel(u), u.RoleLabel())
			return nil
		}),
	}
	cmd.Flags().String("name", "", "Full name")
	cmd.Flags().String("role", "", "admin or operador")
	return cmd
}

func newUsersDeleteCmd(factory AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|email>",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, args []string) error {
			id, err := resolveUserID(cmd, app, args[0])
			if err != nil {
				return err
			}
			if err := app.Users.Delete(cmd.Context(), id); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Account deleted")
			return nil
		}),
	}
}

// resolveUserID accepts an account id, or an email looked up in the
// account list.
func resolveUserID(cmd *cobra.Command, app *App, ref string) (string, error) {
	if !strings.Contains(ref, "@") {
		return ref, nil
	}
	list, err := app.Users.List(cmd.Context())
	if err != nil {
		return "", err
	}
	for _, u := range list {
		if strings.EqualFold(u.Email, strings.TrimSpace(ref)) {
			return u.ID, nil
		}
	}
	return "", nerrors.Wrapf(nerrors.ErrNotFound, "account %s", ref)
}
