package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or edit the settings file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, okStyle.Render(s.Path))

		values := s.Values()
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := values[k]
			if strings.HasSuffix(k, "webhook") && v != "" {
				v = "[REDACTED]"
			}
			fmt.Fprintf(out, "  %-28s %v\n", k, v)
		}
		if err := s.Validate(); err != nil {
			fmt.Fprintln(out, warnStyle.Render(err.Error()))
		}
		return nil
	},
}

var setDefaultRegionCmd = &cobra.Command{
	Use:   "set-default-region REGION",
	Short: "Set the region used for API calls",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		if err := s.SetDefaultRegion(args[0]); err != nil {
			return err
		}
		if err := s.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[+] Default region set to %s\n", s.DefaultRegion)
		return nil
	},
}

var addRegionCmd = &cobra.Command{
	Use:   "add-region [REGION...]",
	Short: "Add regions to fetch logs from (interactive without arguments)",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			if args, err = PromptForRegions(s.Regions); err != nil {
				return err
			}
		}
		out := cmd.OutOrStdout()
		for _, r := range args {
			added, err := s.AddRegion(r)
			if err != nil {
				return err
			}
			if added {
				fmt.Fprintf(out, "[+] Added %s\n", r)
			} else {
				fmt.Fprintf(out, "[=] %s already configured\n", r)
			}
		}
		return s.Save()
	},
}

var removeRegionCmd = &cobra.Command{
	Use:   "remove-region REGION...",
	Short: "Stop fetching logs from regions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		for _, r := range args {
			if s.RemoveRegion(r) {
				fmt.Fprintf(cmd.OutOrStdout(), "[-] Removed %s\n", r)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "[=] %s was not configured\n", r)
			}
		}
		return s.Save()
	},
}

var addSnareCmd = &cobra.Command{
	Use:   "add-snare ARN...",
	Short: "Register decoy resource ARNs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		for _, arn := range args {
			added, err := s.AddSnare(arn)
			if err != nil {
				return err
			}
			if added {
				fmt.Fprintf(cmd.OutOrStdout(), "[+] Watching %s\n", arn)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "[=] %s already registered\n", arn)
			}
		}
		return s.Save()
	},
}

var removeSnareCmd = &cobra.Command{
	Use:   "remove-snare ARN...",
	Short: "Unregister decoy resource ARNs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		for _, arn := range args {
			if s.RemoveSnare(arn) {
				fmt.Fprintf(cmd.OutOrStdout(), "[-] No longer watching %s\n", arn)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "[=] %s was not registered\n", arn)
			}
		}
		return s.Save()
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, setDefaultRegionCmd, addRegionCmd, removeRegionCmd, addSnareCmd, removeSnareCmd)
}
