package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/stubby/pkg/client"
	"github.com/getmockd/stubby/pkg/config"
)

type requestFlags struct {
	host        string
	port        int
	tls         bool
	user        string
	credentials string
	timeout     time.Duration
	include     bool
	fail        bool
	data        string
	dataFile    string
}

func addRequestFlags(cmd *cobra.Command, flags *requestFlags) {
	f := cmd.Flags()
	f.StringVar(&flags.host, "host", client.DefaultHost, "Stub server host")
	f.IntVarP(&flags.port, "port", "p", 0, "Port (default 8882, or 7443 with --tls)")
	f.BoolVar(&flags.tls, "tls", false, "Use HTTPS and accept the stub server's certificate")
	f.StringVarP(&flags.user, "user", "u", "", "Basic credentials as user:password")
	f.StringVar(&flags.credentials, "credentials", "", "Pre-encoded Basic credentials (base64 of user:password)")
	f.DurationVar(&flags.timeout, "timeout", 30*time.Second, "Request timeout, 0 for none")
	f.BoolVarP(&flags.include, "include", "i", false, "Print response headers")
	f.BoolVarP(&flags.fail, "fail", "f", false, "Exit non-zero when the status is not 2xx")
}

func newGetCommand() *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "get <uri>",
		Short: "Send a GET request to a stub server",
		Example: `  stubby get /hello
  stubby get /secure --tls -u user:pass`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, &flags, http.MethodGet, args[0])
		},
	}
	addRequestFlags(cmd, &flags)
	return cmd
}

func newPostCommand() *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "post <uri>",
		Short: "Send a POST request to a stub server",
		Example: `  stubby post /orders -d '{"sku":"A-1"}'
  stubby post /upload --data-file payload.json
  echo hi | stubby post /in --data-file -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, &flags, http.MethodPost, args[0])
		},
	}
	addRequestFlags(cmd, &flags)
	cmd.Flags().StringVarP(&flags.data, "data", "d", "", "Request body")
	cmd.Flags().StringVar(&flags.dataFile, "data-file", "", "Read the request body from a file, - for stdin")
	cmd.MarkFlagsMutuallyExclusive("data", "data-file")
	return cmd
}

func (f *requestFlags) encodedCredentials() (string, error) {
	if f.user != "" && f.credentials != "" {
		return "", errors.New("--user and --credentials cannot be used together")
	}
	if f.user != "" {
		user, pass, ok := strings.Cut(f.user, ":")
		if !ok {
			return "", errors.New("--user must be user:password")
		}
		return client.EncodeCredentials(user, pass), nil
	}
	return f.credentials, nil
}

func (f *requestFlags) body(stdin io.Reader) (string, error) {
	switch f.dataFile {
	case "":
		return f.data, nil
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read body from stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(f.dataFile)
		if err != nil {
			return "", fmt.Errorf("failed to read body: %w", err)
		}
		return string(data), nil
	}
}

func runRequest(cmd *cobra.Command, flags *requestFlags, method, uri string) error {
	creds, err := flags.encodedCredentials()
	if err != nil {
		return err
	}

	scheme, port := client.SchemeHTTP, config.DefaultStubsPort
	var opts []client.Option
	if flags.tls {
		scheme, port = client.SchemeHTTPS, config.DefaultTLSPort
		opts = append(opts, client.WithInsecureStubTLS())
	}
	if flags.port != 0 {
		port = flags.port
	}
	if flags.timeout > 0 {
		opts = append(opts, client.WithTimeout(flags.timeout))
	}

	var req *client.Request
	if method == http.MethodPost {
		body, err := flags.body(cmd.InOrStdin())
		if err != nil {
			return err
		}
		req, err = client.NewRequestWithBody(scheme, method, uri, flags.host, port, creds, body)
		if err != nil {
			return err
		}
	} else {
		req, err = client.NewRequest(scheme, method, uri, flags.host, port, creds)
		if err != nil {
			return err
		}
	}

	resp, err := client.New(opts...).Do(context.Background(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.String())
	if flags.include {
		if err := resp.Headers().Write(out); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}
	if body := resp.Body(); body != "" {
		fmt.Fprint(out, body)
		if !strings.HasSuffix(body, "\n") {
			fmt.Fprintln(out)
		}
	}

	if flags.fail && (resp.StatusCode() < 200 || resp.StatusCode() > 299) {
		return fmt.Errorf("server returned %s", resp)
	}
	return nil
}
