package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
)

func newScanCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "scan",
		Short:   "Start a scan on the platform, optionally wait for it and render a report",
		Example: "yoroprobe scan --target https://shop.example --type wordpress --attest 'I am authorized' --wait --report text,pdf",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.setup(cmd); err != nil {
				return err
			}
			defer st.close()

			target, _ := cmd.Flags().GetString("target")
			if target == "" {
				return errors.New("please provide --target")
			}
			attest, _ := cmd.Flags().GetString("attest")
			if strings.TrimSpace(attest) == "" {
				return errors.New("please provide --attest to confirm authorization")
			}
			scanType, _ := cmd.Flags().GetString("type")
			rawParams, _ := cmd.Flags().GetStringArray("param")
			params, err := parseParams(rawParams)
			if err != nil {
				return err
			}
			wait, _ := cmd.Flags().GetBool("wait")
			formats, _ := cmd.Flags().GetString("report")

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			client, err := st.client(ctx, true)
			if err != nil {
				return err
			}

			scan, err := client.CreateScan(ctx, schema.ScanRequest{Target: target, Type: scanType, Parameters: params})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "🚀 Scan %s started for %s (%s)\n", scan.ID, target, scan.Type)
			if !wait && formats == "" {
				fmt.Fprintf(out, "   Follow it with: yoroprobe poll %s\n", scan.ID)
				return nil
			}

			po, err := st.pollAndSave(ctx, out, client, scan.ID, target)
			if err != nil {
				return err
			}
			if formats == "" {
				return nil
			}
			return st.renderReports(ctx, out, po.saved, po.dir, formats, uploadRequested(cmd))
		},
	}

	fs := cmd.Flags()
	fs.String("target", "", "Target to scan (URL or domain)")
	fs.String("type", "generic", "Scan type, e.g. wordpress, ssl, whois")
	fs.String("attest", "", "Authorization statement (e.g., 'I am authorized to test this target')")
	fs.StringArray("param", nil, "Scan parameter as key=value (repeatable)")
	fs.Bool("wait", false, "Poll the scan until it finishes and save results.json")
	fs.String("report", "", "Render these report formats after waiting (implies --wait)")
	addPollFlags(cmd)
	addRenderFlags(cmd)
	return cmd
}

// parseParams turns key=value pairs into scan parameters. Integer, float
// and boolean values are sent typed.
func parseParams(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", kv)
		}
		params[k] = typedValue(strings.TrimSpace(v))
	}
	return params, nil
}

func typedValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
