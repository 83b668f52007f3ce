package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/stridescan/internal/config"
	"github.com/anstrom/stridescan/internal/errors"
)

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after the file, STRIDESCAN_* environment
variables and flags have been applied. The database password is masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfig(cmd, opts.cfg)
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with the defaults",
		Example: `  stridescan config init
  stridescan config init /etc/stridescan/config.yaml --force`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{createsConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath()
			if len(args) == 1 {
				path = args[0]
			}
			return initConfigFile(cmd, path, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}

func showConfig(cmd *cobra.Command, cfg *config.Config) error {
	masked := *cfg
	if masked.Database.Password != "" {
		masked.Database.Password = "********"
	}

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration, "failed to marshal config", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func initConfigFile(cmd *cobra.Command, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.NewConfigFieldError(errors.CodeConflict,
			"config file already exists (use --force to overwrite)", "path", path)
	}

	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}
