package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var completionFlags struct {
	noDescriptions bool
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate a shell completion script for soe.

The script completes subcommands such as "soe plan approve" and
"soe packs sync" along with their flags. Writing the script does not
read the soe configuration, so it works before a config file exists.

Bash (requires bash-completion v2):
  $ source <(soe completion bash)
  $ soe completion bash > /etc/bash_completion.d/soe

Zsh:
  $ soe completion zsh > "${fpath[1]}/_soe"
  $ compinit

Fish:
  $ soe completion fish > ~/.config/fish/completions/soe.fish

PowerShell:
  PS> soe completion powershell | Out-String | Invoke-Expression

Use --no-descriptions for shells or terminals that render completion
descriptions poorly.
`,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	// Completion output must not depend on a loadable configuration.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeCompletion(cmd, args[0], !completionFlags.noDescriptions)
	},
}

func init() {
	completionCmd.Flags().BoolVar(&completionFlags.noDescriptions, "no-descriptions", false, "omit completion descriptions")
	rootCmd.AddCommand(completionCmd)
}

// writeCompletion writes the completion script for shell to cmd's output.
func writeCompletion(cmd *cobra.Command, shell string, descriptions bool) error {
	w := cmd.OutOrStdout()
	switch shell {
	case "bash":
		return rootCmd.GenBashCompletionV2(w, descriptions)
	case "zsh":
		if descriptions {
			return rootCmd.GenZshCompletion(w)
		}
		return rootCmd.GenZshCompletionNoDesc(w)
	case "fish":
		return rootCmd.GenFishCompletion(w, descriptions)
	case "powershell":
		if descriptions {
			return rootCmd.GenPowerShellCompletionWithDesc(w)
		}
		return rootCmd.GenPowerShellCompletion(w)
	default:
		return fmt.Errorf("unsupported shell: %s", shell)
	}
}
