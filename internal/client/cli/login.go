package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func loginCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Check credentials against the identity provider",
		Long: `Performs the password grant and reports how long the access token is valid.
Other commands log in the same way on start, using --username (or
DDICTL_USERNAME / LEXIS_USERNAME) and DDICTL_PASSWORD / LEXIS_PASSWORD,
and prompt for whatever is missing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			username, password, err := a.credentials()
			if err != nil {
				return err
			}
			cred, err := a.login(cmd.Context(), a, username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "logged in as %s, access token valid until %s\n",
				username, cred.ExpiresAt.Local().Format(time.RFC3339))
			return nil
		},
	}
}
