package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/sandbox"
)

func newSandboxCmd(st *state) *cobra.Command {
	def := sandbox.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Serve an in-memory imitation of the scanning platform API",
		Long: "Serve the platform API in memory. Scans advance one step per status request; " +
			"targets containing \"fail\" end failed and targets containing \"clean\" have no findings.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := st.setup(cmd); err != nil {
				return err
			}
			defer st.close()

			fs := cmd.Flags()
			cfg := sandbox.DefaultConfig()
			addr, _ := fs.GetString("addr")
			cfg.Email, _ = fs.GetString("email")
			cfg.Password, _ = fs.GetString("password")
			cfg.Envelope, _ = fs.GetBool("envelope")
			cfg.PendingPolls, _ = fs.GetInt("pending-polls")
			cfg.Progression, _ = fs.GetIntSlice("progression")

			fmt.Fprintf(cmd.OutOrStdout(), "🧪 Sandbox platform on %s (login %s / %s)\n", addr, cfg.Email, cfg.Password)
			srv := sandbox.New(cfg, sandbox.WithLogger(st.log.WithName("sandbox")))
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}

	fs := cmd.Flags()
	fs.String("addr", "127.0.0.1:8787", "Listen address")
	fs.String("email", def.Email, "Accepted login email")
	fs.String("password", def.Password, "Accepted login password")
	fs.Bool("envelope", false, "Wrap responses in {\"data\": ...}")
	fs.Int("pending-polls", def.PendingPolls, "Status requests answered with pending before a scan runs")
	fs.IntSlice("progression", def.Progression, "Progress values reported while running")
	return cmd
}
