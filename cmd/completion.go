package cmd

import (
	"github.com/spf13/cobra"
)

// completionCmd wraps Cobra's built-in shell completion generator.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for rookboom.

To load completions in the current shell session:

  # bash
  source <(rookboom completion bash)

  # zsh
  source <(rookboom completion zsh)

  # fish
  rookboom completion fish | source

Site ids complete for --at from the catalogue.`,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := cmd.Root()
		switch args[0] {
		case "bash":
			return root.GenBashCompletion(cmd.OutOrStdout())
		case "zsh":
			return root.GenZshCompletion(cmd.OutOrStdout())
		case "fish":
			return root.GenFishCompletion(cmd.OutOrStdout(), true)
		case "powershell":
			return root.GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
		default:
			return cmd.Help()
		}
	},
}

// completeSites offers the catalogue's site ids.
func completeSites(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	deps, err := buildDeps()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var ids []string
	for _, s := range deps.Config.Sites.Sites {
		ids = append(ids, s.ID+"\t"+s.Name)
	}
	return ids, cobra.ShellCompDirectiveNoFileComp
}

// registerCompletions attaches flag completions once every command's flags
// are defined.
func registerCompletions() {
	for _, c := range []*cobra.Command{fetchCmd, recurrenceCmd, hashEncodeCmd, scoreCmd, gridShowCmd} {
		_ = c.RegisterFlagCompletionFunc("at", completeSites)
	}
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
