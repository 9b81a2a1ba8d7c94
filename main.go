package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"launchpad/api"
	"launchpad/auth"
	"launchpad/cloudflare"
	"launchpad/config"
	"launchpad/fetcher"
	"launchpad/logsink"
	"launchpad/manager"
	"launchpad/orchestrator"
	"launchpad/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "launchpad",
		Short:        "Install, run and stop Node.js projects from git repositories",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a .json or .yaml config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	})
	root.AddCommand(newUserAddCmd(&configPath))
	return root
}

func newUserAddCmd(configPath *string) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "useradd <username>",
		Short: "Create an API user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if password == "" {
				password, err = readPassword(cmd)
				if err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			st, err := store.Open(ctx, cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			svc := auth.NewService(st, cfg.JWTSecret, cfg.TokenTTLDuration(), newLogger(cfg.LogLevel))
			user, err := svc.Register(ctx, args[0], password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d)\n", user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password; read from stdin when empty")
	return cmd
}

func readPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.UsesDefaultSecret() {
		logger.Warn("Using the built-in JWT secret; set LAUNCHPAD_JWT_SECRET before exposing the server")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	sink, err := logsink.New(logger.With("component", "output"), cfg.ErrorLogPath)
	if err != nil {
		return err
	}
	defer sink.Close()

	runner, err := newRunner(cfg, logger)
	if err != nil {
		return err
	}
	supervisor := manager.NewSupervisor(runner, sink,
		manager.WithNPM(cfg.NPMPath),
		manager.WithGracePeriod(cfg.StopGraceDuration()),
		manager.WithLogger(logger.With("component", "supervisor")),
	)

	gitFetcher := fetcher.New(
		fetcher.WithDepth(cfg.CloneDepth),
		fetcher.WithAuthToken(cfg.GitToken),
		fetcher.WithLogger(logger.With("component", "fetcher")),
	)

	domains, err := newDomainManager(cfg, logger.With("component", "cloudflare"))
	if err != nil {
		return err
	}

	orch := orchestrator.New(st, gitFetcher, supervisor, cfg.ProjectsDir,
		orchestrator.WithLogger(logger.With("component", "orchestrator")),
		orchestrator.WithErrorLog(sink),
		orchestrator.WithDomains(domains),
	)

	authSvc := auth.NewService(st, cfg.JWTSecret, cfg.TokenTTLDuration(), logger.With("component", "auth"))
	apiLogger := logger.With("component", "api")
	router := api.Router{
		Projects: api.NewProjectHandler(orch, apiLogger),
		Domains:  api.NewDomainHandler(domains, orch, apiLogger),
		Auth:     api.NewAuthHandler(authSvc, apiLogger),
		Guard:    authSvc.Middleware,
		Logger:   apiLogger,
	}

	server := &http.Server{
		Addr:              cfg.APIServerPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("API server starting", "addr", cfg.APIServerPort, "runtime", cfg.Runtime)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api server shutdown: %w", err))
		}
		if err := orch.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop projects: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Shutdown finished with errors", "error", err)
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

func newRunner(cfg config.Config, logger *slog.Logger) (manager.Runner, error) {
	if cfg.Runtime == config.RuntimeDocker {
		runner, err := manager.NewContainerRunner(cfg.DockerImage, logger.With("component", "docker"))
		if err != nil {
			return nil, fmt.Errorf("init docker runtime: %w", err)
		}
		return runner, nil
	}
	return manager.NewExecRunner(), nil
}

// newDomainManager enables domains when Cloudflare is on, or records them
// locally when only a base domain is configured.
func newDomainManager(cfg config.Config, logger *slog.Logger) (*cloudflare.Manager, error) {
	if !cfg.Cloudflare.Enabled && cfg.Cloudflare.BaseDomain == "" {
		return cloudflare.NewManager(nil, false, logger), nil
	}
	client, err := cloudflare.NewClient(cfg.Cloudflare, cfg.ServerAddress, logger)
	if err != nil {
		return nil, err
	}
	if !cfg.Cloudflare.Enabled {
		logger.Info("Cloudflare disabled, recording project domains locally", "baseDomain", cfg.Cloudflare.BaseDomain)
	}
	return cloudflare.NewManager(client, cfg.Cloudflare.AutoGenerate, logger), nil
}
