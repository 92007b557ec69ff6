// ABOUTME: init command: writes the commented sample configuration
// ABOUTME: Asks before overwriting an existing config file

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-relay/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeSample(getConfigPath(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// writeSample writes config.Sample to path. An existing file is only replaced
// when the user answers y.
func writeSample(path string, in io.Reader, out io.Writer) error {
	yellow := color.New(color.FgYellow)
	green := color.New(color.FgGreen)

	if _, err := os.Stat(path); err == nil {
		yellow.Fprintf(out, "    Config already exists at %s\n", path)
		fmt.Fprint(out, "    Overwrite? [y/N]: ")
		answer, _ := bufio.NewReader(in).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Fprintln(out, "    Aborted.")
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(config.Sample), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Wrote %s\n", path)
	fmt.Fprintln(out, "      Set RELAY_GATEWAY_URL and a frontend token, then run: coven-relay run")
	return nil
}
