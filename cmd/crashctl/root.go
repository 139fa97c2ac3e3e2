package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jrsteele09/go-auth-gateway/api"
	"github.com/jrsteele09/go-auth-gateway/gateway"
	"github.com/jrsteele09/go-auth-gateway/internal/config"
	"github.com/jrsteele09/go-auth-gateway/sessions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// app holds what every subcommand needs once the root command has connected.
type app struct {
	cfg    config.Config
	client *api.Client
	close  func() error
}

func newRootCmd(cfg config.Config) *cobra.Command {
	a := &app{cfg: cfg}

	root := &cobra.Command{
		Use:           "crashctl",
		Short:         "Command line client for the crash API",
		Long:          `crashctl signs in to the crash API and keeps the session fresh across invocations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			displayAppname(cfg.GetAppName())
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "crashctl" {
				return nil
			}
			return a.connect(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.close == nil {
				return nil
			}
			return a.close()
		},
	}

	root.AddCommand(
		a.loginCmd(),
		a.registerCmd(),
		a.whoamiCmd(),
		a.profileCmd(),
		a.refreshCmd(),
		a.logoutCmd(),
		a.categoriesCmd(),
		a.pendingSolutionsCmd(),
	)
	return root
}

func (a *app) connect(errOut io.Writer) error {
	repo, closer, err := newSessionRepo(a.cfg)
	if err != nil {
		return err
	}
	a.close = closer

	navigator := gateway.NavigatorFunc(func(_ context.Context, cause error) {
		fmt.Fprintf(errOut, "Session ended: %v\nRun `%s login` to sign in again.\n", cause, a.cfg.GetAppName())
	})
	a.client = api.New(a.cfg,
		api.WithStore(sessions.NewStore(repo)),
		api.WithLogger(log.Logger),
		api.WithGatewayOptions(gateway.WithNavigator(navigator)),
	)
	return nil
}

// newSessionRepo selects the session backend named by the configuration.
func newSessionRepo(cfg config.SessionConfig) (sessions.Repo, func() error, error) {
	noop := func() error { return nil }

	switch store := strings.ToLower(cfg.GetSessionStore()); store {
	case "memory":
		return sessions.NewInMemoryRepo(), noop, nil
	case "file":
		return sessions.NewFileRepo(cfg.GetSessionFile()), noop, nil
	case "redis":
		repo := sessions.NewRedisRepo(cfg.GetRedisAddr(), cfg.GetRedisPassword(), cfg.GetRedisDB(),
			sessions.WithKeyPrefix(cfg.GetSessionKeyPrefix()),
			sessions.WithTTL(cfg.GetSessionTTL()),
		)
		return repo, repo.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown session store %q (want memory, file or redis)", store)
	}
}
