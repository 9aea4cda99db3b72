package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lucasew/audiocache"
	"github.com/lucasew/audiocache/internal/errutil"
	"github.com/lucasew/audiocache/internal/httpclient"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var getCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "Downloads the audio behind a link into the media dir",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, err := cmd.Flags().GetString("output")
		if err != nil {
			return err
		}
		servers, err := cmd.Flags().GetStringSlice("server")
		if err != nil {
			return err
		}

		client := audiocache.NewClient(httpclient.NewClient(viper.GetDuration("http-timeout")), servers...)
		if len(client.Servers) > 0 {
			return getRemote(cmd, client, args[0], output)
		}

		c, err := openComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		c.Pipeline.Progress = newProgressBar

		d, err := c.Pipeline.Download(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if output == "" {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), d.Name)
			return err
		}

		reader, _, err := c.Repo.Get(cmd.Context(), d.Name)
		if err != nil {
			return err
		}
		defer errutil.CloseQuietly(reader, "Failed to close artifact")

		out, closeOut, err := openOutput(cmd, output)
		if err != nil {
			return err
		}
		defer closeOut()
		_, err = io.Copy(out, reader)
		return err
	},
}

// getRemote asks audiocache servers instead of the local media dir.
func getRemote(cmd *cobra.Command, client *audiocache.Client, sourceURL, output string) error {
	if output == "" {
		d, err := client.Resolve(cmd.Context(), sourceURL)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), d.URL)
		return err
	}

	out, closeOut, err := openOutput(cmd, output)
	if err != nil {
		return err
	}
	defer closeOut()

	if err := client.Stream(cmd.Context(), sourceURL, io.MultiWriter(out, newProgressBar(-1))); err != nil {
		if output != "-" {
			errutil.LogMsg(os.Remove(output), "Failed to remove output file after failed fetch", "path", output)
		}
		return err
	}
	return nil
}

func openOutput(cmd *cobra.Command, output string) (io.Writer, func(), error) {
	if output == "-" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	file, err := os.Create(output)
	if err != nil {
		return nil, nil, err
	}
	return file, func() {
		errutil.LogMsg(file.Close(), "Failed to close output file")
	}, nil
}

func newProgressBar(size int64) io.Writer {
	if size <= 0 {
		size = -1
	}
	return progressbar.NewOptions64(
		size,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(10),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprint(os.Stderr, "\n"); err != nil {
				errutil.LogMsg(err, "Failed to print newline to stderr")
			}
		}),
	)
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringP("output", "o", "", "Also copy the audio to this file (- for stdout)")
	getCmd.Flags().StringSlice("server", []string{}, "Ask these audiocache servers instead of the local media dir (default $"+audiocache.ServerEnv+")")
}
