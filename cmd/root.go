// Package cmd defines and implements the CLI commands for the newsroom crawler.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsroom-crawler/internal/app"
	"github.com/JakeFAU/newsroom-crawler/internal/config"
	"github.com/JakeFAU/newsroom-crawler/internal/worker"
)

var (
	cfgFile string
	envFile string
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a mock app during tests.
type App interface {
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Config() config.Config
	Execute(ctx context.Context, req worker.Request) (worker.Report, error)
	Handler() http.Handler
	Schedule(ctx context.Context)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(ctx, cfg)
}

// newRootCmd creates and configures the root command. The built App is
// recorded in built so the caller can close it whether or not RunE failed.
func newRootCmd(built *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "newsroom-crawler",
		Short: "An incremental crawler for corporate newsroom listings.",
		Long: `newsroom-crawler drives a headless browser over a paginated news listing,
collecting documents newest first until it reaches the last document stored by
a previous run or the requested batch size.`,
		SilenceUsage: true,

		// Build the application before the subcommand's RunE runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if envFile != "" {
				// Existing environment variables win over the file.
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("load env file: %w", err)
				}
			}
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			*built = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars prefixed NEWSROOM_ override it")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with NEWSROOM_ variables to load first")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Command execution failed:", err)
		os.Exit(1)
	}
}

// run executes the CLI with args and shuts the application down afterwards.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	var built App
	root := newRootCmd(&built)
	root.SetArgs(args)
	root.SetOut(stdout)
	err := root.ExecuteContext(ctx)
	if built != nil {
		if cerr := built.Close(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close application: %w", cerr))
		}
	}
	return err
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
