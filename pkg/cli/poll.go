package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/notify"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/platform"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/poller"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
	"github.com/yorozuya-cybersecurity/yorosec-probe/pkg/utils"
)

func newPollCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "poll <scan-id>",
		Short:   "Poll an existing scan until it finishes and save its results",
		Example: "yoroprobe poll 6f1c2a --interval 10s --max-attempts 30",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.setup(cmd); err != nil {
				return err
			}
			defer st.close()

			client, err := st.client(cmd.Context(), true)
			if err != nil {
				return err
			}
			_, err = st.pollAndSave(cmd.Context(), cmd.OutOrStdout(), client, schema.ScanID(args[0]), "")
			return err
		},
	}
	addPollFlags(cmd)
	return cmd
}

func addPollFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.Duration("interval", 5*time.Second, "Delay between status requests")
	fs.Int("max-attempts", 60, "Maximum number of status requests")
	fs.String("strategy", "constant", "Delay growth: constant, linear or exponential")
	fs.Duration("max-interval", 0, "Upper bound for a single delay (0 = none)")
	fs.Bool("jitter", false, "Randomize each delay by up to 25%")
	bindFlag(fs, "interval", "poll.interval")
	bindFlag(fs, "max-attempts", "poll.max_attempts")
	bindFlag(fs, "strategy", "poll.strategy")
	bindFlag(fs, "max-interval", "poll.max_interval")
	bindFlag(fs, "jitter", "poll.jitter")
}

// pollOutcome is a saved poll run.
type pollOutcome struct {
	result poller.Result
	saved  schema.ScanResult
	dir    string
}

// pollAndSave polls id, prints progress, writes results.json and sends the
// scan notification. A failed or timed out scan is returned as an error
// after its result has been saved.
func (st *state) pollAndSave(ctx context.Context, out io.Writer, client *platform.Client, id schema.ScanID, target string) (pollOutcome, error) {
	pcfg, err := st.cfg.PollerConfig()
	if err != nil {
		return pollOutcome{}, err
	}
	fmt.Fprintf(out, "⏳ Polling scan %s (every %s, up to %d attempts)\n", id, pcfg.Interval, pcfg.MaxAttempts)

	p := poller.New(client, pcfg,
		poller.WithLogger(st.log.WithName("poller")),
		poller.WithMetrics(st.metrics),
		poller.WithObserver(func(u poller.Update) {
			fmt.Fprintf(out, "   [%d] %s %d%%\n", u.Attempt, u.Status, u.Progress)
		}))
	res, err := p.Poll(ctx, id)
	if err != nil {
		return pollOutcome{result: res}, err
	}

	po := pollOutcome{result: res}
	if res.Scan == nil {
		return po, fmt.Errorf("scan %s: no successful status request in %d attempts", id, res.Attempts)
	}
	if target == "" {
		target = res.Scan.Target
	}
	po.saved = schema.ScanResult{
		Target:    target,
		Timestamp: time.Now().UTC(),
		Outcome:   string(res.Outcome),
		Attempts:  res.Attempts,
		Scan:      *res.Scan,
	}
	po.dir, err = utils.SaveResult(po.saved, st.cfg.Output)
	if err != nil {
		return po, err
	}

	if err := st.notifier().Send(ctx, scanPayload(po.saved)); err != nil {
		st.log.Error(err, "scan notification failed", "scanID", string(id))
	}

	switch res.Outcome {
	case poller.Completed:
		fmt.Fprintf(out, "✅ Scan completed after %d attempts. Results saved to %s\n", res.Attempts, po.dir)
		fmt.Fprintf(out, "   Total findings: %d\n", len(res.Scan.Results))
		return po, nil
	case poller.Failed:
		fmt.Fprintf(out, "❌ Scan failed after %d attempts. Results saved to %s\n", res.Attempts, po.dir)
		msg := res.Scan.ErrorMessage
		if msg == "" {
			msg = "no error message"
		}
		return po, fmt.Errorf("scan %s failed: %s", id, msg)
	default:
		fmt.Fprintf(out, "⌛ Scan still %s after %d attempts. Last state saved to %s\n", res.Scan.Status, res.Attempts, po.dir)
		return po, errors.New("scan " + string(id) + " did not finish within the attempt budget")
	}
}

func scanPayload(res schema.ScanResult) notify.Payload {
	summary := map[string]int{}
	for _, f := range res.Scan.Results {
		summary[string(schema.ParseSeverity(string(f.Severity)))]++
	}
	return notify.Payload{
		EventType: notify.EventScanFinished,
		Timestamp: res.Timestamp.UTC().Format(time.RFC3339),
		Target:    res.Target,
		ScanID:    string(res.Scan.ID),
		Outcome:   res.Outcome,
		Summary:   summary,
	}
}
