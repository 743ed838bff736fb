package main

import (
	"fmt"
	"strings"

	"mediagate/pkg/config"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets masked",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				fmt.Println(renderConfig(cfg))
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the configuration and exit non-zero if it is unusable",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				if err := cfg.Validate(); err != nil {
					fmt.Println(errorStyle.Render("✗ " + err.Error()))
					return fmt.Errorf("invalid config")
				}
				fmt.Println(okStyle.Render("✓ configuration is valid"))
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the directory searched for config.yaml",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(config.GetConfigDir())
			},
		},
	)

	return cmd
}

func renderConfig(cfg *config.Config) string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(cfg.String()), "\n") {
		label, value, _ := strings.Cut(strings.TrimSpace(line), ": ")
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			labelStyle.Width(22).Render(label),
			valueStyle.Render(value)))
	}

	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		append([]string{titleStyle.Render("mediagate configuration")}, lines...)...))
}
