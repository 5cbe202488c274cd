// Package cmd defines the repothread command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/repothread/internal/client"
	"github.com/JakeFAU/repothread/internal/config"
	"github.com/JakeFAU/repothread/internal/logging"
	"github.com/JakeFAU/repothread/internal/poller"
	"github.com/JakeFAU/repothread/internal/repothread"
	"github.com/JakeFAU/repothread/internal/server"
)

// Runner is a long-lived service started by the serve command.
type Runner interface {
	Run(ctx context.Context) error
}

// Submitter creates jobs and reports their status.
type Submitter interface {
	SubmitAnalyze(ctx context.Context, repoURL string) (repothread.Submission, error)
	SubmitConvert(ctx context.Context, blog string, numTweets int) (repothread.Submission, error)
	poller.StatusFetcher
}

// factories builds the services commands depend on. Tests replace them.
type factories struct {
	loadConfig   func(path string) (config.Config, error)
	newLogger    func(development bool) (*zap.Logger, error)
	newServer    func(ctx context.Context, cfg *config.Config) (Runner, error)
	newSubmitter func(cfg *config.Config, logger *zap.Logger) (Submitter, error)
}

func defaultFactories() factories {
	return factories{
		loadConfig: config.Load,
		newLogger:  logging.New,
		newServer: func(ctx context.Context, cfg *config.Config) (Runner, error) {
			return server.Build(ctx, cfg)
		},
		newSubmitter: func(cfg *config.Config, logger *zap.Logger) (Submitter, error) {
			c, err := client.New(client.Config{
				BaseURL:       cfg.Client.BaseURL,
				APIKey:        cfg.Client.APIKey,
				DefaultTweets: cfg.Convert.DefaultTweets,
			}, logger)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}
}

// commandContext carries the loaded configuration to subcommands.
type commandContext struct {
	factories
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func (c *commandContext) load() error {
	cfg, err := c.loadConfig(c.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.cfg = &cfg
	return nil
}

// clientLogger builds the logger used by the analyze and convert commands.
func (c *commandContext) clientLogger() (*zap.Logger, error) {
	if c.logger != nil {
		return c.logger, nil
	}
	logger, err := c.newLogger(c.cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	c.logger = logger
	return logger, nil
}

func (c *commandContext) session(logger *zap.Logger) (Submitter, *poller.Session, error) {
	sub, err := c.newSubmitter(c.cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("client init failed: %w", err)
	}
	p := poller.New(sub, poller.Config{
		Interval:    c.cfg.PollInterval(),
		MaxWait:     c.cfg.PollMaxWait(),
		MaxAttempts: c.cfg.Poller.MaxAttempts,
	}, logger)
	return sub, poller.NewSession(p), nil
}

func newRootCmd(f factories) *cobra.Command {
	cc := &commandContext{factories: f}

	cmd := &cobra.Command{
		Use:   "repothread",
		Short: "Turn GitHub repositories into blog posts and threads.",
		Long: `repothread runs the gateway in front of the analysis service and
drives it from the terminal: analyze a repository into a blog post, then
optionally convert the post into a social media thread.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return cc.load()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if cc.logger != nil {
				_ = cc.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cc.configPath, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newServeCmd(cc))
	cmd.AddCommand(newAnalyzeCmd(cc))
	cmd.AddCommand(newConvertCmd(cc))

	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(defaultFactories()).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}
