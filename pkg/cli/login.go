package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "login",
		Short:   "Exchange credentials for an API token",
		Example: "YOROPROBE_API_PASSWORD=... yoroprobe login --email ops@example.com",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := st.setup(cmd); err != nil {
				return err
			}
			defer st.close()

			if st.cfg.API.Email == "" || st.cfg.API.Password == "" {
				return errors.New("please provide --email and --password (or api.email/api.password)")
			}
			client, err := st.client(cmd.Context(), false)
			if err != nil {
				return err
			}
			token, err := client.Login(cmd.Context(), st.cfg.API.Email, st.cfg.API.Password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "🔑 Logged in as", st.cfg.API.Email)
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Account password (prefer YOROPROBE_API_PASSWORD)")
	bindFlag(cmd.Flags(), "email", "api.email")
	bindFlag(cmd.Flags(), "password", "api.password")
	return cmd
}
