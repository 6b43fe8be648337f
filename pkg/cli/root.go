package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/config"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/logging"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/metrics"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/notify"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/platform"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/storage"
)

var Version = "0.1.0"

// viperKey is the flag annotation naming the config key a flag overrides.
const viperKey = "viper_key"

// state is shared by the commands of one invocation.
type state struct {
	v       *viper.Viper
	cfg     config.Config
	log     logr.Logger
	metrics *metrics.Collector
	closers []func()
}

// NewRootCmd builds the yoroprobe command tree.
func NewRootCmd() *cobra.Command {
	st := &state{v: config.New(), log: logr.Discard()}

	root := &cobra.Command{
		Use:           "yoroprobe",
		Short:         "Drive a security scanning platform: start scans, poll them and render reports",
		Long:          "Yorozuya probe: start scans on the scanning platform, poll them until they finish, render text/HTML/PDF reports and run smoke suites.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	pf := root.PersistentFlags()
	pf.String("config", "", "Config file (YAML)")
	pf.StringP("output", "o", "./reports", "Output directory")
	pf.String("base-url", "", "Platform API base URL")
	pf.String("token", "", "API token (skips login)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "console", "Log format: console or json")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
	bindFlag(pf, "output", "output")
	bindFlag(pf, "base-url", "api.base_url")
	bindFlag(pf, "token", "api.token")
	bindFlag(pf, "log-level", "log.level")
	bindFlag(pf, "log-format", "log.format")
	bindFlag(pf, "metrics-addr", "metrics.addr")

	// Subcommands
	root.AddCommand(newLoginCmd(st))
	root.AddCommand(newScanCmd(st))
	root.AddCommand(newPollCmd(st))
	root.AddCommand(newReportCmd(st))
	root.AddCommand(newRunCmd(st))
	root.AddCommand(newSandboxCmd(st))
	root.AddCommand(newVersionCmd())
	return root
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		stop()
		os.Exit(1)
	}
}

// bindFlag marks a flag as the override for a config key.
func bindFlag(fs *pflag.FlagSet, name, key string) {
	_ = fs.SetAnnotation(name, viperKey, []string{key})
}

// setup binds the running command's flags, loads the configuration and
// builds the logger. Flags are bound here rather than at construction so
// that commands sharing a key do not shadow each other.
func (st *state) setup(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if keys := f.Annotations[viperKey]; len(keys) == 1 {
			bindErr = errors.Join(bindErr, st.v.BindPFlag(keys[0], f))
		}
	})
	if bindErr != nil {
		return bindErr
	}

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "_CONFIG")
	}
	if err := config.ReadFile(st.v, path); err != nil {
		return err
	}
	cfg, err := config.Load(st.v)
	if err != nil {
		return err
	}
	st.cfg = cfg

	log, sync, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	st.log = log
	st.closers = append(st.closers, sync)
	st.metrics = metrics.New()

	if cfg.Metrics.Addr != "" {
		ctx, cancel := context.WithCancel(cmd.Context())
		st.closers = append(st.closers, cancel)
		go func() {
			if err := st.metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				st.log.Error(err, "metrics server stopped", "addr", cfg.Metrics.Addr)
			}
		}()
		st.log.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}
	return nil
}

func (st *state) close() {
	for i := len(st.closers) - 1; i >= 0; i-- {
		st.closers[i]()
	}
	st.closers = nil
}

// client returns a platform client. When no token is configured and
// credentials are, it logs in first.
func (st *state) client(ctx context.Context, login bool) (*platform.Client, error) {
	c, err := platform.New(st.cfg.ClientConfig(Version),
		platform.WithLogger(st.log.WithName("platform")),
		platform.WithMetrics(st.metrics))
	if err != nil {
		return nil, err
	}
	if login && c.Token() == "" {
		if st.cfg.API.Email == "" {
			return nil, errors.New("no API token: set --token or api.email/api.password")
		}
		if _, err := c.Login(ctx, st.cfg.API.Email, st.cfg.API.Password); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (st *state) notifier() *notify.Webhook {
	if st.cfg.Notify.URL == "" {
		return nil
	}
	return notify.NewWebhook(st.cfg.Notify, st.log.WithName("notify"))
}

// upload publishes files when object storage is configured.
func (st *state) upload(ctx context.Context, out io.Writer, scanID string, files []string) error {
	if !st.cfg.Storage.Enabled() || len(files) == 0 {
		return nil
	}
	store, err := storage.New(ctx, st.cfg.Storage)
	if err != nil {
		return err
	}
	urls, err := store.UploadAll(ctx, scanID, files)
	for _, f := range files {
		if u, ok := urls[f]; ok {
			fmt.Fprintf(out, "☁️  Uploaded %s -> %s\n", f, u)
		}
	}
	return err
}
