package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/repothread/internal/repothread"
)

func newConvertCmd(cc *commandContext) *cobra.Command {
	var (
		file      string
		numTweets int
	)
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a markdown blog post into a thread",
		Long: `Reads a blog post from --file ("-" for stdin), submits it for thread
generation, polls the job until it finishes, and prints the thread to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			blog, err := readBlog(cmd, file)
			if err != nil {
				return err
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

			thread, err := runJob(cmd.Context(), session, repothread.KindConvert,
				func(ctx context.Context) (repothread.Submission, error) {
					return sub.SubmitConvert(ctx, blog, numTweets)
				})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), thread)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", `markdown file to convert ("-" reads stdin)`)
	cmd.Flags().IntVar(&numTweets, "tweets", 0, "number of tweets in the thread (default from config)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readBlog(cmd *cobra.Command, file string) (string, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("read blog: %w", err)
	}
	return string(data), nil
}
