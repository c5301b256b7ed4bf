package commands

import (
	"fmt"
	"os"

	"github.com/awsnare/awsnare/pkg/config"
	"github.com/awsnare/awsnare/pkg/version"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	cfgFile  string
	profile  string
	verbose  bool
	jsonLogs bool

	settings *config.Settings
	loadErr  error
)

var rootCmd = &cobra.Command{
	Use:   version.AppName,
	Short: "CloudTrail tripwire for decoy AWS resources",
	Long: `AWSnare - Decoy Resource Detection

Plant. Watch. Catch.`,
	Version:       version.Current,
	SilenceUsage:  true,
	SilenceErrors: true,
	// Run: nil (Forces help output).
	Run: nil,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("[!] "+err.Error()))
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.awsnare.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "AWS shared config profile")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging, including every AWS API call")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "Emit logs as JSON")

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderHelp(cmd)
	})
}

func initConfig() {
	settings, loadErr = config.Load(cfgFile)
}

// loadSettings returns the settings read at startup.
func loadSettings() (*config.Settings, error) {
	if loadErr != nil {
		return nil, loadErr
	}
	if settings == nil {
		initConfig()
		return settings, loadErr
	}
	return settings, nil
}

func renderHelp(cmd *cobra.Command) {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF5F87")).
		MarginBottom(1)

	flagStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA"))

	fmt.Println(titleStyle.Render(fmt.Sprintf("AWSNARE %s", version.Current)))
	if cmd.Long != "" {
		fmt.Println(cmd.Long)
	} else {
		fmt.Println(cmd.Short)
	}
	fmt.Println("")

	fmt.Println(titleStyle.Render("USAGE"))
	fmt.Printf("  %s\n\n", cmd.UseLine())

	if cmd.HasAvailableSubCommands() {
		fmt.Println(titleStyle.Render("COMMANDS"))
		for _, c := range cmd.Commands() {
			if c.IsAvailableCommand() {
				fmt.Printf("  %-20s %s\n", c.Name(), c.Short)
			}
		}
		fmt.Println("")
	}

	fmt.Println(titleStyle.Render("FLAGS"))
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		output := fmt.Sprintf("  --%-15s %s", f.Name, f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "[]" {
			output += fmt.Sprintf(" (default %s)", f.DefValue)
		}
		fmt.Println(flagStyle.Render(output))
	})
	fmt.Println("")
}
