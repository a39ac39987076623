package cli

import (
	"fmt"
	"strings"

	"github.com/jrsteele09/notifica/internal/format"
	"github.com/jrsteele09/notifica/users"
	"github.com/spf13/cobra"
)

// ResetPasswordPage is where password recovery links land.
const ResetPasswordPage = "/pages/redefinir-senha.html"

// NewLoginCmd creates the "login" subcommand.
func NewLoginCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: withApp(factory, func(cmd *cobra.Command, app *App, _ []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if strings.TrimSpace(email) == "" || password == "" {
				return exitError(exitValidation, "--email and --password are required")
			}

			ctx := cmd.Context()
			session, err := app.Sessions.Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := app.Sessions.MarkSessionStart(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printSuccess(out, "Signed in as %s (%s)", session.User.DisplayName(), session.User.RoleLabel())
			if session.User.FirstLogin() {
				printWarning(out, "First login: choose your password with `notifica password set`")
			}
			printMuted(out, "The session lasts %s.", app.Sessions.MaxSessionAge())
			return nil
		}),
	}
	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Account password")
	return cmd
}

// NewLogoutCmd creates the "logout" subcommand.
func NewLogoutCmd(factory AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the local session",
		RunE: withApp(factory, func(cmd *cobra.Command, app *App, _ []string) error {
			if err := app.Sessions.Logout(cmd.Context()); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Signed out")
			return nil
		}),
	}
}

// NewWhoamiCmd creates the "whoami" subcommand.
func NewWhoamiCmd(factory AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, _ []string) error {
			user, err := app.Sessions.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			fields := [][2]string{
				{"Name", user.DisplayName()},
				{"Email", user.Email},
				{"Role", user.RoleLabel()},
			}
			if user.FirstLogin() {
				fields = append(fields, [2]string{"Password", "not set yet, run `notifica password set`"})
			}
			printFields(cmd.OutOrStdout(), fields)
			return nil
		}),
	}
}

// NewPasswordCmd creates the "password" command group.
func NewPasswordCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Set, change or recover the account password",
	}
	cmd.AddCommand(newPasswordSetCmd(factory))
	cmd.AddCommand(newPasswordChangeCmd(factory))
	cmd.AddCommand(newPasswordForgotCmd(factory))
	cmd.AddCommand(newPasswordRecoverCmd(factory))
	return cmd
}

// newPasswordSetCmd is the first-login step of invited accounts. With --link
// it first adopts the session carried by the invite link.
func newPasswordSetCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Choose the password of a newly invited account",
		RunE: withApp(factory, func(cmd *cobra.Command, app *App, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			password, _ := cmd.Flags().GetString("password")
			confirm, _ := cmd.Flags().GetString("confirm")
			link, _ := cmd.Flags().GetString("link")
			if err := users.ValidateNewPassword(password, confirm); err != nil {
				return exitError(exitValidation, "%s", err)
			}

			ctx := cmd.Context()
			if link != "" {
				if _, err := app.Auth.SessionFromURL(ctx, link); err != nil {
					return err
				}
				if err := app.Sessions.MarkSessionStart(ctx); err != nil {
					return err
				}
			}
			if err := app.Sessions.CompletePasswordSetup(ctx, name, password, confirm); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Password set, welcome!")
			return nil
		}),
	}
	cmd.Flags().String("name", "", "Full name (optional)")
	cmd.Flags().String("password", "", "New password")
	cmd.Flags().String("confirm", "", "New password again")
	cmd.Flags().String("link", "", "Invite link received by email")
	return cmd
}

func newPasswordChangeCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "change",
		Short: "Change the password of the signed-in account",
		RunE: signedIn(factory, func(cmd *cobra.Command, app *App, _ []string) error {
			current, _ := cmd.Flags().GetString("current")
			password, _ := cmd.Flags().GetString("new")
			confirm, _ := cmd.Flags().GetString("confirm")
			if err := app.Sessions.ChangePassword(cmd.Context(), current, password, confirm); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Password changed")
			return nil
		}),
	}
	cmd.Flags().String("current", "", "Current password")
	cmd.Flags().String("new", "", "New password")
	cmd.Flags().String("confirm", "", "New password again")
	return cmd
}

func newPasswordForgotCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forgot",
		Short: "Email a password recovery link",
		RunE: withApp(factory, func(cmd *cobra.Command, app *App, _ []string) error {
			email, _ := cmd.Flags().GetString("email")
			if !strings.Contains(email, "@") {
				return exitError(exitValidation, "--email must be a valid address")
			}
			redirect := app.Config.GetPublicURL() + ResetPasswordPage
			if err := app.Sessions.ResetPasswordForEmail(cmd.Context(), email, redirect); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "If %s has an account, a recovery link is on its way.", strings.TrimSpace(email))
			return nil
		}),
	}
	cmd.Flags().String("email", "", "Account email")
	return cmd
}

func newPasswordRecoverCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Set a new password from a recovery link",
		RunE: withApp(factory, func(cmd *cobra.Command, app *App, _ []string) error {
			link, _ := cmd.Flags().GetString("link")
			password, _ := cmd.Flags().GetString("password")
			confirm, _ := cmd.Flags().GetString("confirm")
			if link == "" {
				return exitError(exitValidation, "--link is required")
			}
			if err := users.ValidateNewPassword(password, confirm); err != nil {
				return exitError(exitValidation, "%s", err)
			}

			ctx := cmd.Context()
			if _, err := app.Auth.SessionFromURL(ctx, link); err != nil {
				return err
			}
			if err := app.Sessions.MarkSessionStart(ctx); err != nil {
				return err
			}
			if _, err := app.Sessions.UpdatePassword(ctx, password); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Password updated at %s", format.DateTime(app.Now()))
			return nil
		}),
	}
	cmd.Flags().String("link", "", "Recovery link received by email")
	cmd.Flags().String("password", "", "New password")
	cmd.Flags().String("confirm", "", "New password again")
	return cmd
}

func userLabel(u *users.User) string {
	if u == nil {
		return format.NotAvailable
	}
	return fmt.Sprintf("%s <%s>", u.DisplayName(), u.Email)
}
