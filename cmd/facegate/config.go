package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// defaultEditor is used when $EDITOR is unset.
const defaultEditor = "/bin/nano"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or edit the configuration",
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the configuration file in $EDITOR",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		editor := editorCommand(os.Getenv)

		c := exec.CommandContext(cmd.Context(), editor, path)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("editor %s failed: %w", editor, err)
		}

		// Report a broken file now rather than at the next login.
		if _, err := loadConfig(); err != nil {
			return fmt.Errorf("configuration saved but invalid: %w", err)
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s\n", configPath())
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configEditCmd, configShowCmd)
}

// editorCommand returns $EDITOR or the default editor.
func editorCommand(lookup func(string) string) string {
	if editor := lookup("EDITOR"); editor != "" {
		return editor
	}
	return defaultEditor
}
