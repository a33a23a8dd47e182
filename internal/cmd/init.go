package cmd

import (
	"github.com/spf13/cobra"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/wizard"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a config file interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			defaults, _ := cmd.Flags().GetBool("defaults")

			p := wizard.StdPrompter()
			p.In = cmd.InOrStdin()
			p.Out = cmd.OutOrStdout()
			w := wizard.New(p)
			if defaults {
				return w.RunDefaults(output)
			}
			return w.Run(output)
		},
	}
	cmd.Flags().StringP("output", "o", "", "output config file path (default: ./autoecho.json)")
	cmd.Flags().Bool("defaults", false, "generate config non-interactively from AUTOECHO_* environment variables")
	return cmd
}
