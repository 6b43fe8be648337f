package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/suite"
)

func newRunCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run <suite.yaml>",
		Short:   "Run a smoke suite against the platform",
		Example: "yoroprobe run suites/smoke.yaml --base-url http://127.0.0.1:8787",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.setup(cmd); err != nil {
				return err
			}
			defer st.close()

			s, err := suite.LoadFile(args[0])
			if err != nil {
				return err
			}
			pcfg, err := st.cfg.PollerConfig()
			if err != nil {
				return err
			}
			client, err := st.client(cmd.Context(), false)
			if err != nil {
				return err
			}

			opts := []suite.Option{
				suite.WithLogger(st.log.WithName("suite")),
				suite.WithMetrics(st.metrics),
				suite.WithOutput(cmd.OutOrStdout()),
				suite.WithCredentials(st.cfg.API.Email, st.cfg.API.Password),
				suite.WithReports(st.cfg.Output, st.cfg.RenderOptions()),
			}
			if n := st.notifier(); n != nil {
				opts = append(opts, suite.WithNotifier(n))
			}
			if client.Token() != "" && s.Login == nil {
				s.Login = new(bool)
			}

			sum, err := suite.NewRunner(client, pcfg, opts...).Run(cmd.Context(), s)
			if err != nil {
				return err
			}
			if !sum.OK() {
				return fmt.Errorf("suite %s: %d of %d checks failed", sum.Suite, sum.Failed, len(sum.Checks))
			}
			return nil
		},
	}
	addPollFlags(cmd)
	return cmd
}
