package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-authgate/authclient/config"
	"github.com/go-authgate/authclient/pipeline"
	"github.com/go-authgate/authclient/session"
	"github.com/go-authgate/authclient/token"
	"github.com/go-authgate/authclient/tui"
)

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "authclient",
		Short: "Authenticated API client with automatic token refresh",
		Long: `authclient calls a storefront API with a stored access token. It retries
transient failures, refreshes the token once on a 401 and keeps the
session fresh in the background.

Settings resolve as flag > environment (SERVER_URL, CLIENT_ID, ...) >
config file (./authclient.yaml or --config) > default.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if err := config.BindFlags(root.PersistentFlags(), a.v); err != nil {
		panic(err)
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.statusCmd(),
		a.refreshCmd(),
		a.getCmd(),
		a.requestCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) loginCmd() *cobra.Command {
	var (
		pair token.Pair
		user token.UserInfo
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a token pair issued by the web login",
		Long: `
Usage: authclient login --access-token TOKEN --refresh-token TOKEN [options]

  Stores the pair in every backend, starts the refresh scheduler and tells
  the native shell, when one is configured.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(func(ctx context.Context, s *session.Session, d tui.Displayer) error {
				if err := s.Login(ctx, pair, user); err != nil {
					return err
				}
				d.Done(fmt.Sprintf("Access token expires in %s", token.Remaining(pair.AccessToken, time.Now())))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&pair.AccessToken, "access-token", "", "access token (JWT)")
	cmd.Flags().StringVar(&pair.RefreshToken, "refresh-token", "", "refresh token")
	cmd.Flags().StringVar(&user.Email, "email", "", "user email")
	cmd.Flags().StringVar(&user.UserID, "user-id", "", "user id")
	cmd.Flags().StringVar(&user.Name, "name", "", "user display name")
	_ = cmd.MarkFlagRequired("access-token")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(func(ctx context.Context, s *session.Session, d tui.Displayer) error {
				s.Logout(ctx)
				return nil
			})
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(func(ctx context.Context, s *session.Session, d tui.Displayer) error {
				pair, ok := s.Store().Read(ctx)
				if !ok {
					d.LoginRequired()
					return errNotLoggedIn
				}
				left := token.Remaining(pair.AccessToken, time.Now())
				d.SessionRestored(left)

				user := s.Store().ReadUser(ctx)
				var b strings.Builder
				if user.Email != "" {
					fmt.Fprintf(&b, "User:          %s\n", user.Email)
				}
				fmt.Fprintf(&b, "Access token:  %s\n", pair)
				if exp, ok := token.SystemClock.ExpiresAt(pair.AccessToken); ok {
					fmt.Fprintf(&b, "Expires at:    %s", exp.Format(time.RFC3339))
				} else {
					b.WriteString("Expires at:    unknown")
				}
				fmt.Fprintln(a.stdout, b.String())
				d.Done("")
				return nil
			})
		},
	}
}

func (a *app) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the stored refresh token for a new pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(func(ctx context.Context, s *session.Session, d tui.Displayer) error {
				d.Refreshing()
				if _, err := s.Refresher().Refresh(ctx); err != nil {
					d.RefreshFailed(err)
					return err
				}
				d.Done("")
				return nil
			})
		},
	}
}

func (a *app) getCmd() *cobra.Command {
	var (
		params  []string
		noCache bool
	)
	cmd := &cobra.Command{
		Use:   "get PATH",
		Short: "GET an API path and print the body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseParams(params)
			if err != nil {
				return err
			}
			return a.run(func(ctx context.Context, s *session.Session, d tui.Displayer) error {
				return a.call(ctx, s, d, &pipeline.Request{
					Method:  http.MethodGet,
					Path:    args[0],
					Params:  values,
					NoCache: noCache,
				})
			})
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "query parameter as key=value, repeatable")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the response cache")
	return cmd
}

func (a *app) requestCmd() *cobra.Command {
	var (
		params []string
		data   string
	)
	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send an API request and print the body",
		Long: `
Usage: authclient request METHOD PATH [--data JSON] [--param key=value]

  Sends METHOD PATH with the stored access token. --data is sent verbatim
  as the JSON body.

      $ authclient request POST /orders --data '{"sku":"A-1","qty":2}'
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseParams(params)
			if err != nil {
				return err
			}
			req := &pipeline.Request{
				Method: strings.ToUpper(args[0]),
				Path:   args[1],
				Params: values,
			}
			if data != "" {
				req.Body = data
			}
			return a.run(func(ctx context.Context, s *session.Session, d tui.Displayer) error {
				return a.call(ctx, s, d, req)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "query parameter as key=value, repeatable")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Keep the session fresh and serve the native shell entry points",
		Long: `
Usage: authclient serve [--bridge-listen ADDR --native-bridge-url URL]

  Runs the auto refresh scheduler until interrupted. With a native bridge
  configured it also serves handleAppLogin and handleAppLogout on
  --bridge-listen.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(func(ctx context.Context, s *session.Session, d tui.Displayer) error {
				return a.serve(ctx, s, d)
			})
		},
	}
}

func (a *app) serve(ctx context.Context, s *session.Session, d tui.Displayer) error {
	if _, ok, err := a.restore(ctx, s, d); err != nil {
		return err
	} else if !ok && !s.Bridge().Present() {
		return errNotLoggedIn
	}

	if !s.Bridge().Present() {
		<-ctx.Done()
		d.Done("")
		return nil
	}
	d.BridgeServing(a.v.GetString(config.KeyBridgeListen))
	if err := s.ServeBridge(ctx); err != nil {
		return err
	}
	d.Done("")
	return nil
}

// restore resumes the stored session and reports it.
func (a *app) restore(ctx context.Context, s *session.Session, d tui.Displayer) (token.Pair, bool, error) {
	pair, ok, err := s.Restore(ctx)
	if err != nil {
		return pair, ok, err
	}
	if !ok {
		d.LoginRequired()
		return pair, false, nil
	}
	d.SessionRestored(token.Remaining(pair.AccessToken, time.Now()))
	return pair, true, nil
}

// call sends req through the session client and prints the body on stdout.
func (a *app) call(ctx context.Context, s *session.Session, d tui.Displayer, req *pipeline.Request) error {
	if _, ok, err := a.restore(ctx, s, d); err != nil {
		return err
	} else if !ok {
		return errNotLoggedIn
	}

	d.Requesting(req.Method, req.Path)
	resp, err := s.Client().Do(ctx, req)
	if err != nil {
		d.RequestFailed(err)
		return err
	}
	d.RequestOK(resp.StatusCode, resp.Metadata.RetryCount, resp.Cached)

	if len(resp.Body) > 0 {
		fmt.Fprintln(a.stdout, strings.TrimRight(string(resp.Body), "\n"))
	}
	d.Done(fmt.Sprintf("%s %s: HTTP %d, %d bytes", req.Method, req.Path, resp.StatusCode, len(resp.Body)))
	return nil
}

func parseParams(raw []string) (url.Values, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	values := url.Values{}
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", kv)
		}
		values.Add(k, v)
	}
	return values, nil
}
