// Package cli holds the notifica commands: one per page of the school
// system, plus serve for the guardian portal.
package cli

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree. Commands get their App from factory.
func NewRootCmd(factory AppFactory) *cobra.Command {
	root := &cobra.Command{
		Use:   "notifica",
		Short: "Disciplinary notices for ETE schools",
		Long:  "Notifica keeps the student roster and disciplinary notices, prepares guardian messages and documents, and serves the guardian portal.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	root.AddCommand(NewLoginCmd(factory))
	root.AddCommand(NewLogoutCmd(factory))
	root.AddCommand(NewWhoamiCmd(factory))
	root.AddCommand(NewPasswordCmd(factory))
	root.AddCommand(NewStudentsCmd(factory))
	root.AddCommand(NewNoticesCmd(factory))
	root.AddCommand(NewDashboardCmd(factory))
	root.AddCommand(NewReportCmd(factory))
	root.AddCommand(NewPortalCmd(factory))
	root.AddCommand(NewUsersCmd(factory))
	root.AddCommand(NewServeCmd(factory))
	return root
}

// withApp builds the App, runs fn and maps its error to an exit code.
func withApp(factory AppFactory, fn func(cmd *cobra.Command, app *App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := factory(cmd)
		if err != nil {
			return classify(errors.Wrap(err, "starting"))
		}
		defer app.Close()
		return classify(fn(cmd, app, args))
	}
}

// signedIn is fn behind a live session.
func signedIn(factory AppFactory, fn func(cmd *cobra.Command, app *App, args []string) error) func(*cobra.Command, []string) error {
	return withApp(factory, func(cmd *cobra.Command, app *App, args []string) error {
		if _, err := app.Sessions.RequireSession(cmd.Context()); err != nil {
			return err
		}
		return fn(cmd, app, args)
	})
}
