package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/chat"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/config"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/orchestrator"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type options struct {
	configFile string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "relay-chat",
		Short:         "Chat with the relay, failing over between backends",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			opts.v = config.New(opts.configFile)
			for key, flag := range map[string]string{
				"client.api_base_url": "api",
				"client.route":        "route",
				"client.timeout_fast": "timeout-fast",
				"client.timeout_slow": "timeout-slow",
				"log_level":           "log-level",
			} {
				if err := opts.v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd())) {
				return runChat(cmd.Context(), opts)
			}
			return runAsk(cmd.Context(), opts, args, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "config file (default ./relay.yaml)")
	pf.String("api", config.DefaultAPIBaseURL, "relay server base URL")
	pf.StringP("route", "r", string(models.RouteAuto), "route: auto, a fast key or a slow key")
	pf.Duration("timeout-fast", config.DefaultTimeoutFast, "attempt timeout for the fast backend")
	pf.Duration("timeout-slow", config.DefaultTimeoutSlow, "attempt timeout for the slow backend")
	pf.String("log-level", "info", "log level")

	root.AddCommand(
		&cobra.Command{
			Use:   "chat",
			Short: "Interactive chat screen",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runChat(cmd.Context(), opts)
			},
		},
		&cobra.Command{
			Use:   "ask [prompt]",
			Short: "Send one prompt and stream the reply to stdout",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAsk(cmd.Context(), opts, args, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			},
		},
	)
	return root
}

// session is the client-side wiring shared by both front-ends
type session struct {
	cfg    *config.Config
	routes models.RouteTable
	route  models.Route
	store  *chat.Store
}

func newSession(ctx context.Context, opts *options, logOut io.Writer) (*session, error) {
	cfg, err := config.Load(opts.v)
	if err != nil {
		return nil, err
	}
	if err := config.ConfigureLogging(cfg.LogLevel, logOut); err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	routes, err := orchestrator.FetchModelsConfig(fetchCtx, cfg.Client.APIBaseURL, nil)
	if err != nil {
		log.WithError(err).Warn("Using local route table")
		routes = cfg.Routes()
	}

	route, err := routes.Parse(cfg.Client.Route)
	if err != nil {
		return nil, fmt.Errorf("invalid route: %w", err)
	}

	return &session{
		cfg:    cfg,
		routes: routes,
		route:  route,
		store:  chat.NewStore(chat.NewState(cfg.Client.TimeoutFast, cfg.Client.TimeoutSlow)),
	}, nil
}

func (s *session) orchestrator(observer orchestrator.Observer) *orchestrator.Orchestrator {
	transport := orchestrator.NewHTTPTransport(s.cfg.Client.APIBaseURL, s.routes, nil)
	return orchestrator.New(transport, s.store, orchestrator.Options{
		Routes:   s.routes,
		Observer: observer,
		Logger:   log.WithField("component", "orchestrator"),
	})
}
