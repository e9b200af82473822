// Command puppet-compiler drives a full run: resolve a host selector,
// compile the current and proposed Puppet trees for each resolved host,
// diff the resulting catalogs, and publish the outcome.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wikimedia/puppet-compiler/pkg/compiler/execcompiler"
	"github.com/wikimedia/puppet-compiler/pkg/config"
	"github.com/wikimedia/puppet-compiler/pkg/controller"
	"github.com/wikimedia/puppet-compiler/pkg/facts"
	"github.com/wikimedia/puppet-compiler/pkg/hostdirectory/puppetdb"
	"github.com/wikimedia/puppet-compiler/pkg/hostselector"
	"github.com/wikimedia/puppet-compiler/pkg/reporter"
	"github.com/wikimedia/puppet-compiler/pkg/reporter/githubreporter"
	vcsgithub "github.com/wikimedia/puppet-compiler/pkg/vcs/github"
	"github.com/wikimedia/puppet-compiler/pkg/workspace/gitworkspace"
)

var (
	version = "unreleased"

	configPath   string
	changeRef    string
	privateRef   string
	changeID     string
	jobID        string
	selector     string
	self         string
	puppetdbURL  string
	githubRepo   string
	githubPR     int
	githubToken  string
	metricsAddr  string
	compilerPath string
	debug        bool
)

func main() {
	root := &cobra.Command{
		Use:     "puppet-compiler",
		Short:   "Compile and diff Puppet catalogs across a change under test",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug-level logging")

	root.AddCommand(newRunCmd())
	root.AddCommand(newDebugCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Resolve a host selector and compile every matching host",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(debug)

			cfg, err := loadConfig()
			if err != nil {
				logger.Error(err, "failed to load configuration")
				os.Exit(1)
			}

			ctx, cancel := signalContext()
			defer cancel()

			go serveMetrics(logger)

			ctl, err := buildController(cfg, logger)
			if err != nil {
				logger.Error(err, "failed to wire run dependencies")
				os.Exit(1)
			}

			st, err := ctl.Run(ctx, selector, self, changeID, jobID)
			if err != nil {
				logger.Error(err, "run failed")
				os.Exit(1)
			}

			fmt.Println(st.Summary(false))
			if st.RunFailed() {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&selector, "selector", "", "host selector expression (empty, basic, auto, re:, O:, P:, C:, R:, cumin:, or a literal list)")
	cmd.Flags().StringVar(&self, "self", "", "hostname of the machine running the compiler, used by the basic selector")
	cmd.Flags().StringVar(&changeRef, "change-ref", "", "git ref identifying the change under test")
	cmd.Flags().StringVar(&privateRef, "private-ref", "", "git ref applied to the private overlay in both trees")
	cmd.Flags().StringVar(&changeID, "change-id", "", "identifier of the change under test, used in report links")
	cmd.Flags().StringVar(&jobID, "job-id", "", "identifier of this run, used in report links")
	cmd.Flags().StringVar(&puppetdbURL, "puppetdb-url", "http://localhost:8080", "base URL of the PuppetDB-compatible directory endpoint")
	cmd.Flags().StringVar(&githubRepo, "github-repo", "", "owner/repo to post the run summary comment to")
	cmd.Flags().IntVar(&githubPR, "github-pr", 0, "pull request number to post the run summary comment to")
	cmd.Flags().StringVar(&githubToken, "github-token", os.Getenv("GITHUB_TOKEN"), "GitHub API token (or GITHUB_TOKEN env var)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve Prometheus metrics on")
	cmd.Flags().StringVar(&compilerPath, "compiler-binary", "puppet-catalog-compile", "path to the external catalog-compiling binary")
	return cmd
}

func newDebugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug HOSTNAME",
		Short: "Re-run one host's worker pipeline outside a scheduled batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostname := args[0]
			logger := newLogger(debug)

			cfg, err := loadConfig()
			if err != nil {
				logger.Error(err, "failed to load configuration")
				os.Exit(1)
			}

			ctl, err := buildController(cfg, logger)
			if err != nil {
				logger.Error(err, "failed to wire run dependencies")
				os.Exit(1)
			}

			result := ctl.RunSingleHost(context.Background(), hostname)
			fmt.Printf("%s: %s\n", result.Hostname, result.Outcome)
			if result.Outcome.IsFailure() {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&compilerPath, "compiler-binary", "puppet-catalog-compile", "path to the external catalog-compiling binary")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, config.ApplyEnvOverrides(cfg, envMap())
}

func envMap() map[string]string {
	env := make(map[string]string)
	for _, key := range []string{
		"PUPPET_COMPILER_POOL_SIZE",
		"PUPPET_COMPILER_FAIL_FAST",
		"PUPPET_COMPILER_BASE",
		"PUPPET_COMPILER_HTTP_URL",
	} {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	return env
}

func buildController(cfg *config.Config, logger logr.Logger) (*controller.Controller, error) {
	workRoot := cfg.Base + "/" + jobID
	ws := gitworkspace.New(gitworkspace.Config{
		WorkRoot:         workRoot,
		PuppetSrc:        cfg.PuppetSrc,
		PuppetPrivate:    cfg.PuppetPrivate,
		PuppetNetbox:     cfg.PuppetNetbox,
		ChangeRef:        changeRef,
		PrivateChangeRef: privateRef,
	}, logger)

	comp := execcompiler.New(execcompiler.Config{
		BinaryPath: compilerPath,
		BaseTree:   ws.BaseTree(),
		ChangeTree: ws.ChangeTree(),
	}, logger)

	dir := puppetdb.New(puppetdbURL, cfg.PuppetVar, nil)
	nodeCache := hostselector.NewNodeCache(dir, cfg.PuppetVar, 5*time.Minute)
	resolver := hostselector.New(nodeCache, ws, cfg.CloudSuffix, cfg.SretestHost, logger)

	rep, err := buildReporter(cfg)
	if err != nil {
		return nil, err
	}

	return controller.New(controller.Deps{
		Config:    cfg,
		Resolver:  resolver,
		Workspace: ws,
		Compiler:  comp,
		Facts:     facts.New(),
		Reporter:  rep,
		Logger:    logger,
	}), nil
}

func buildReporter(cfg *config.Config) (reporter.Reporter, error) {
	if githubRepo == "" {
		return stdoutReporter{}, nil
	}
	client, err := vcsgithub.NewClient(githubToken, githubRepo)
	if err != nil {
		return nil, fmt.Errorf("create github client: %w", err)
	}
	return githubreporter.New(context.Background(), client, githubPR, cfg.HTTPURL, jobID), nil
}

// stdoutReporter is the zero-dependency Reporter used when no GitHub
// repo/PR is configured, e.g. for local runs.
type stdoutReporter struct{}

func (stdoutReporter) RenderHost(report reporter.HostReport) error {
	fmt.Printf("%s: %s\n", report.Hostname, report.Outcome)
	return nil
}

func (stdoutReporter) RenderIndex(summary string, partial bool) error {
	fmt.Println(summary)
	return nil
}

func serveMetrics(logger logr.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "metrics server stopped")
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func newLogger(debugLevel bool) logr.Logger {
	zcfg := zap.NewProductionConfig()
	if debugLevel {
		zcfg = zap.NewDevelopmentConfig()
	}
	zl, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return zapr.NewLogger(zl)
}
