package cli

import (
	"context"
	"errors"

	"github.com/absmach/flclient"
	"github.com/absmach/flclient/registry"
	"github.com/spf13/cobra"
)

const (
	serverAddressFlag = "server-address"
	cidFlag           = "cid"
	preTrainValFlag   = "pre-train-val"
)

var errSilent = errors.New("command failed")

// StartFunc runs a client session for a validated configuration.
type StartFunc func(ctx context.Context, cfg flclient.Config) error

// IsSilent reports an error that was already printed to the user.
func IsSilent(err error) bool {
	return errors.Is(err, errSilent)
}

func NewRootCmd(reg *registry.Registry, start StartFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "flclient",
		Short:         "Federated learning client",
		Long:          `Joins a federated learning session: trains and evaluates a local model on local data for every round the coordinator drives.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newStartCmd(reg, start),
		newValidateCmd(reg),
		newComponentsCmd(reg),
	)

	return root
}

func newStartCmd(reg *registry.Registry, start StartFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <config-file>",
		Short: "Start a client session",
		Long:  `Validates the configuration, builds the client and serves coordinator rounds until the coordinator disconnects.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, reg, args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return errors.Join(errSilent, err)
			}

			return start(cmd.Context(), cfg)
		},
	}
	addOverrideFlags(cmd)

	return cmd
}

func newValidateCmd(reg *registry.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a client configuration",
		Long:  `Checks a configuration file against the client schema and the registered components without building anything.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, reg, args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return errors.Join(errSilent, err)
			}

			logJSONCmd(*cmd, cfg)
			logOKCmd(*cmd)

			return nil
		},
	}
	addOverrideFlags(cmd)

	return cmd
}

func newComponentsCmd(reg *registry.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "components",
		Short: "List registered models and data modules",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			logJSONCmd(*cmd, map[string][]string{
				string(registry.KindModel):      reg.Names(registry.KindModel),
				string(registry.KindDataModule): reg.Names(registry.KindDataModule),
			})
		},
	}
}

func addOverrideFlags(cmd *cobra.Command) {
	cmd.Flags().StringP(serverAddressFlag, "s", "", "Coordinator address, overrides server_address")
	cmd.Flags().Int(cidFlag, 0, "Client id, overrides cid")
	cmd.Flags().Bool(preTrainValFlag, false, "Validate before training, overrides pre_train_val")
}

// loadConfig applies only the flags set on the command line.
func loadConfig(cmd *cobra.Command, reg *registry.Registry, path string) (flclient.Config, error) {
	overrides := map[string]any{}
	flags := cmd.Flags()

	if flags.Changed(serverAddressFlag) {
		v, _ := flags.GetString(serverAddressFlag)
		overrides["server_address"] = v
	}
	if flags.Changed(cidFlag) {
		v, _ := flags.GetInt(cidFlag)
		overrides["cid"] = v
	}
	if flags.Changed(preTrainValFlag) {
		v, _ := flags.GetBool(preTrainValFlag)
		overrides["pre_train_val"] = v
	}

	return flclient.LoadConfig(path, reg, overrides)
}
