package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bytetrade.io/web3os/upload-gateway/cmd/upload-gateway/app"
	"bytetrade.io/web3os/upload-gateway/pkg/client"
	"bytetrade.io/web3os/upload-gateway/pkg/constants"
	"bytetrade.io/web3os/upload-gateway/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	cmd := newRootCommand()
	cmd.AddCommand(newPushCommand(), newFetchCommand())

	if err := cmd.Execute(); err != nil {
		klog.Fatalln(err)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFile string
		uploadDir  string
		listenAddr string
		bodyLimit  int
	)

	cmd := &cobra.Command{
		Use:   "upload-gateway",
		Short: "upload gateway",
		Long:  `The upload gateway stores multipart form uploads in one directory and serves them back`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := app.LoadConfig(configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("upload-dir") {
				config.UploadDir = uploadDir
			}
			if cmd.Flags().Changed("listen") {
				config.ListenAddr = listenAddr
			}
			if cmd.Flags().Changed("body-limit") {
				config.BodyLimit = bodyLimit
			}

			server, err := app.NewServer(config)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				klog.Info("upload gateway shutting down")
				if err := server.Shutdown(); err != nil {
					klog.Errorf("shutdown err:%v", err)
				}
			}()

			klog.Info("upload gateway starting ... ")
			if err := server.ServerRun(); err != nil {
				return err
			}

			klog.Info("upload gateway shutdown ")
			return nil
		},
	}

	cmd.PersistentFlags().AddFlagSet(pflag.CommandLine)
	cmd.Flags().StringVar(&configFile, "config", "", "YAML config file (env "+constants.UploadConfigFile+")")
	cmd.Flags().StringVar(&uploadDir, "upload-dir", "", "existing directory to store uploads in (env "+constants.UploadDir+")")
	cmd.Flags().StringVar(&listenAddr, "listen", app.DefaultListenAddr, "listen address (env "+constants.UploadListenAddr+")")
	cmd.Flags().IntVar(&bodyLimit, "body-limit", app.DefaultBodyLimit, "maximum request body size in bytes (env "+constants.UploadBodyLimit+")")

	return cmd
}

func newPushCommand() *cobra.Command {
	var (
		server  string
		timeout time.Duration
		fields  []string
		files   []string
	)

	cmd := &cobra.Command{
		Use:   "push",
		Short: "upload form fields and files to a gateway",
		Example: `  upload-gateway push --field title=report --file doc=./report.pdf
  upload-gateway push --server http://10.0.0.2:40030 --file a=./a.bin --file b=./b.bin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fieldMap, err := parsePairs(fields)
			if err != nil {
				return err
			}
			fileMap, err := parsePairs(files)
			if err != nil {
				return err
			}

			c := client.New(server, timeout)
			if err := c.Upload(cmd.Context(), fieldMap, fileMap); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), constants.UploadOKBody)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", defaultServerURL(), "gateway base URL (env "+constants.UploadServerURL+")")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "request timeout")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "text field as name=value, repeatable")
	cmd.Flags().StringArrayVar(&files, "file", nil, "file field as name=path, repeatable")
	return cmd
}

func newFetchCommand() *cobra.Command {
	var (
		server  string
		timeout time.Duration
		output  string
	)

	cmd := &cobra.Command{
		Use:   "fetch NAME",
		Short: "download a stored file from a gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(server, timeout)
			return fetch(cmd.Context(), c, args[0], output, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&server, "server", defaultServerURL(), "gateway base URL (env "+constants.UploadServerURL+")")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "request timeout")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this path instead of stdout")
	return cmd
}

// fetch downloads name to output, or to stdout when output is empty or "-".
// A partially written output file is removed.
func fetch(ctx context.Context, c *client.Client, name, output string, stdout io.Writer) (err error) {
	if output == "" || output == "-" {
		_, err = c.Download(ctx, name, stdout)
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(output)
		}
	}()

	n, err := c.Download(ctx, name, f)
	if err != nil {
		return err
	}
	klog.V(2).Infof("fetched %s, %d bytes to %s", name, n, output)
	return nil
}

func defaultServerURL() string {
	return utils.EnvOr(constants.UploadServerURL, "http://127.0.0.1"+app.DefaultListenAddr)
}

// parsePairs splits name=value arguments.
func parsePairs(args []string) (map[string]string, error) {
	pairs := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", arg)
		}
		pairs[name] = value
	}
	return pairs, nil
}
