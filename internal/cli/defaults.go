package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"churnrig/pkg/config"
	"churnrig/pkg/controller"
)

func defaultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Print the built-in configuration",
		Long: `Print the built-in configuration, which every start applies before the
user configuration. With --yaml it is printed as a rig profile.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			asYAML, _ := cmd.Flags().GetBool("yaml")
			if !asYAML {
				fmt.Fprintln(out, strings.TrimSpace(controller.DefaultConfig))
				return nil
			}
			cfg, err := config.LoadString(controller.DefaultConfig)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		},
	}
	cmd.Flags().Bool("yaml", false, "print as a YAML rig profile")
	return cmd
}
