package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/repothread/internal/repothread"
)

// threadSeparator divides the blog post from its thread on stdout.
const threadSeparator = "\n---\n\n"

func newAnalyzeCmd(cc *commandContext) *cobra.Command {
	var (
		withThread bool
		numTweets  int
	)
	cmd := &cobra.Command{
		Use:   "analyze <repo-url>",
		Short: "Generate a blog post from a GitHub repository",
		Long: `Submits the repository to the gateway, polls the job until it finishes,
and prints the generated markdown to stdout. With --thread the post is then
converted into a thread, printed after a separator line.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoURL := strings.TrimSpace(args[0])
			if repoURL == "" {
				return errors.New("repository URL is required")
			}
			if numTweets < 0 {
				return fmt.Errorf("--tweets must be positive, got %d", numTweets)
			}
			logger, err := cc.clientLogger()
			if err != nil {
				return err
			}
			sub, session, err := cc.session(logger)
			if err != nil {
				return err
			}
			reportProgress(session, cmd.ErrOrStderr())

			blog, err := runJob(cmd.Context(), session, repothread.KindAnalyze,
				func(ctx context.Context) (repothread.Submission, error) {
					return sub.SubmitAnalyze(ctx, repoURL)
				})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), blog)
			if !withThread {
				return nil
			}

			thread, err := runJob(cmd.Context(), session, repothread.KindConvert,
				func(ctx context.Context) (repothread.Submission, error) {
					return sub.SubmitConvert(ctx, blog, numTweets)
				})
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), threadSeparator)
			fmt.Fprintln(cmd.OutOrStdout(), thread)
			return nil
		},
	}
	cmd.Flags().BoolVar(&withThread, "thread", false, "also convert the blog post into a thread")
	cmd.Flags().IntVar(&numTweets, "tweets", 0, "number of tweets in the thread (default from config)")
	return cmd
}
