// Package cli provides the cobra command tree for the stridescan port scanner.
// The root command keeps the short form `stridescan [-j threads] <ip>`;
// subcommands add the API server, stored history and config helpers.
package cli

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/stridescan/internal/config"
	"github.com/anstrom/stridescan/internal/errors"
	"github.com/anstrom/stridescan/internal/logging"
	"github.com/anstrom/stridescan/internal/scanning"
)

const envPrefix = "STRIDESCAN"

// createsConfig marks commands that may be pointed at a config file that
// does not exist yet.
const createsConfig = "creates-config"

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// globalOptions are shared by every command.
type globalOptions struct {
	cfgFile string
	verbose bool
	threads int

	v   *viper.Viper
	cfg *config.Config
}

// Execute builds the command tree and runs it against os.Args.
// This is called by main.main().
func Execute() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", userMessage(err))
		os.Exit(1)
	}
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{v: viper.New()}
	scanOpts := &scanFlags{}

	root := &cobra.Command{
		Use:   "stridescan [flags] <ip>",
		Short: "Concurrent TCP connect port scanner",
		Long: `stridescan checks every TCP port (0-65535) of one host for an open
connection. The port space is split across worker threads by stride:
worker i probes ports i, i+N, i+2N and so on, where N is the thread count.

Open ports are printed as a dot while the scan runs and listed in
ascending order once every worker has finished.`,
		Example: `  stridescan 192.168.1.1
  stridescan -j 1000 192.168.1.1
  stridescan scan --format table ::1
  stridescan serve --port 8080`,
		Version:       getVersion(),
		Args:          scanArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts, scanOpts, args[0])
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default is ./config.yaml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	flags.IntVarP(&opts.threads, "threads", "j", scanning.DefaultWorkers, "number of worker threads (1-65535)")

	// Bind flags to viper
	if err := opts.v.BindPFlag("scanning.workers", flags.Lookup("threads")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind threads flag: %v\n", err)
	}

	scanOpts.register(root.Flags())
	root.SetFlagErrorFunc(flagError)

	root.AddCommand(
		newScanCmd(opts),
		newServeCmd(opts),
		newHistoryCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// load reads the config file, applies environment and flag overrides and
// installs the default logger.
func (o *globalOptions) load(cmd *cobra.Command) error {
	if o.cfgFile != "" {
		// An explicitly named file must exist; only the search path may come up empty.
		if _, err := os.Stat(o.cfgFile); os.IsNotExist(err) && cmd.Annotations[createsConfig] == "" {
			return errors.NewConfigFieldError(errors.CodeConfiguration,
				fmt.Sprintf("config file not found: %s", o.cfgFile), "config", o.cfgFile)
		}
		// Use config file from the flag.
		o.v.SetConfigFile(o.cfgFile)
	} else {
		// Search for config in current directory
		o.v.AddConfigPath(".")
		o.v.SetConfigType("yaml")
		o.v.SetConfigName("config")
	}

	// Read in environment variables that match
	o.v.SetEnvPrefix(envPrefix)
	o.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	o.v.AutomaticEnv()

	var notFound viper.ConfigFileNotFoundError
	if err := o.v.ReadInConfig(); err != nil && !stderrors.As(err, &notFound) && o.cfgFile == "" {
		return errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	cfg, err := config.Load(o.configPath())
	if err != nil {
		return err
	}
	applyOverrides(o.v, cfg)
	if o.verbose {
		cfg.Logging.Level = string(logging.LevelDebug)
	}
	// -j gets the scanner's own message rather than a config field error.
	if err := scanning.ValidateWorkers(cfg.Scanning.Workers); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg

	initLogging(cfg, cmd.ErrOrStderr())
	if o.verbose && o.v.ConfigFileUsed() != "" {
		logging.Debug("Using config file", "path", o.v.ConfigFileUsed())
	}
	return nil
}

// configPath returns the file viper resolved, or the default name.
func (o *globalOptions) configPath() string {
	if used := o.v.ConfigFileUsed(); used != "" {
		return used
	}
	if o.cfgFile != "" {
		return o.cfgFile
	}
	return "config.yaml"
}

// applyOverrides copies settings given by flag or STRIDESCAN_* environment
// variable over the file configuration.
func applyOverrides(v *viper.Viper, cfg *config.Config) {
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	setInt("scanning.workers", &cfg.Scanning.Workers)
	setString("scanning.network", &cfg.Scanning.Network)
	setString("logging.level", &cfg.Logging.Level)
	setString("logging.format", &cfg.Logging.Format)
	setString("logging.output", &cfg.Logging.Output)
	setString("api.host", &cfg.API.Host)
	setInt("api.port", &cfg.API.Port)
	setString("database.host", &cfg.Database.Host)
	setInt("database.port", &cfg.Database.Port)
	setString("database.database", &cfg.Database.Database)
	setString("database.username", &cfg.Database.Username)
	setString("database.password", &cfg.Database.Password)
	setString("database.ssl_mode", &cfg.Database.SSLMode)
}

// initLogging installs the configured logger as the default. Console
// output falls back to w so tests can capture it.
func initLogging(cfg *config.Config, w io.Writer) {
	logCfg := cfg.LogConfig()

	var logger *logging.Logger
	if logCfg.Output == "" || logCfg.Output == "stderr" {
		logger = logging.NewWithWriter(logCfg, w)
	} else {
		var err error
		logger, err = logging.New(logCfg)
		if err != nil {
			// Fall back to default if creation fails
			logger = logging.NewWithWriter(logging.DefaultConfig(), w)
			fmt.Fprintf(w, "Warning: failed to initialize logging: %v\n", err)
		}
	}

	logging.SetDefault(logger)
}

// scanArgs requires exactly one target.
func scanArgs(_ *cobra.Command, args []string) error {
	switch {
	case len(args) < 1:
		return errors.NewScanError(errors.CodeValidation, "not enough arguments")
	case len(args) > 1:
		return errors.NewScanError(errors.CodeValidation, "too many arguments")
	}
	return nil
}

// flagError maps pflag's messages for -j onto the scanner's own wording.
func flagError(_ *cobra.Command, err error) error {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "flag needs an argument") &&
		(strings.HasSuffix(msg, "--threads") || (strings.Contains(msg, " in -") && strings.HasSuffix(msg, "j"))):
		return errors.NewScanError(errors.CodeValidation, "invalid number of arguments for -j")
	case strings.Contains(msg, `--threads" flag`):
		return errors.ErrInvalidWorkers(0)
	}
	return err
}

// userMessage returns the text shown after "Error:". Scan errors print
// their message without the code prefix.
func userMessage(err error) string {
	var scanErr *errors.ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Message
	}
	return err.Error()
}
