// Package commands implements the fleetver command line interface.
package commands

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fleetver/fleetver/internal/cache"
	"github.com/fleetver/fleetver/internal/cmdutil"
	"github.com/fleetver/fleetver/internal/config"
	"github.com/fleetver/fleetver/internal/engine"
	"github.com/fleetver/fleetver/internal/inspector"
	"github.com/fleetver/fleetver/internal/registry"
	"github.com/fleetver/fleetver/internal/upstream"
)

// rootOptions carries the flags and lazily built dependencies shared by
// every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "fleetver",
		Short: "Compare tool versions across the local runtime, the registry and the upstream sources",
		Long: "fleetver resolves, for each tool image, the version installed locally, " +
			"the version published in the container registry and the latest version " +
			"available from the tool's original source, and reports whether they agree.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.complete(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path of the configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newCheckCommand(opts),
		newListCommand(opts),
	)

	return cmd
}

func (o *rootOptions) complete(cmd *cobra.Command) error {
	level, err := cmdutil.ParseLogLevel(o.logLevel)
	if err != nil {
		return err
	}
	o.logger = cmdutil.NewLogger(cmd.ErrOrStderr(), level)

	o.cfg, err = config.Load(o.configPath)
	if err != nil {
		return err
	}

	return nil
}

func (o *rootOptions) openCache() (*cache.Store, error) {
	if err := os.MkdirAll(filepath.Dir(o.cfg.Cache.Path), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create cache directory: %w", err)
	}
	return cache.Open(o.cfg.Cache.Path, o.logger)
}

func (o *rootOptions) newRegistryClient() registry.Client {
	return registry.NewClient(http.DefaultTransport, o.logger)
}

// newEngine assembles the resolution engine from the configuration. The
// returned closer owns the cache store.
func (o *rootOptions) newEngine() (*engine.Engine, func() error, error) {
	store, err := o.openCache()
	if err != nil {
		return nil, nil, err
	}

	localInspector, err := inspector.NewDockerInspector(o.logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	providers := upstream.DefaultRegistry(http.DefaultClient, o.cfg.Tokens, o.logger)

	e := engine.New(
		o.newRegistryClient(),
		localInspector,
		store,
		providers,
		engine.Options{
			Namespace:        o.cfg.Namespace,
			VersionVariable:  o.cfg.VersionVariable,
			MetadataFilename: o.cfg.MetadataFilename,
			CacheTTL:         o.cfg.Cache.TTL,
			Timeout:          o.cfg.Timeout,
			MaxWorkers:       o.cfg.MaxWorkers,
		},
		o.logger,
	)

	return e, store.Close, nil
}
