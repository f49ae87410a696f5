package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/audiostream/cmd/config"
	"github.com/tphakala/audiostream/cmd/info"
	"github.com/tphakala/audiostream/cmd/play"
	"github.com/tphakala/audiostream/cmd/preload"
	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/conf"
)

// globalFlags are the persistent flags shared by every subcommand. They
// override the config file and environment when set.
type globalFlags struct {
	configPath string
	debug      bool
	threads    int
	pageSize   time.Duration
	format     string
}

// RootCommand creates and returns the root command
func RootCommand(ctx *app.Context) *cobra.Command {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:           "audiostream",
		Short:         "Asynchronous audio asset streaming",
		Version:       ctx.Build.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupFlags(rootCmd, &flags)

	subcommands := []*cobra.Command{
		play.Command(ctx),
		preload.Command(ctx),
		info.Command(ctx),
		config.Command(ctx),
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		settings, err := conf.Load(flags.configPath)
		if err != nil {
			return err
		}
		if err := applyFlags(cmd, &flags, settings); err != nil {
			return err
		}
		return ctx.Setup(settings)
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		return ctx.Shutdown()
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, flags *globalFlags) {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML config file")
	pf.BoolVarP(&flags.debug, "debug", "d", false, "Enable debug output")
	pf.IntVarP(&flags.threads, "threads", "t", 0, "Job worker goroutines, -1 one per physical core, 0 runs jobs on the caller")
	pf.DurationVar(&flags.pageSize, "page-size", 0, "Audio decoded per page job")
	pf.StringVarP(&flags.format, "format", "f", "", "Decoded sample format: native, u8, s16, s24, s32, f32")
}

// applyFlags copies explicitly set flags over the loaded settings.
func applyFlags(cmd *cobra.Command, flags *globalFlags, settings *conf.Settings) error {
	f := cmd.Flags()
	if f.Changed("debug") {
		settings.Debug = flags.debug
	}
	if f.Changed("threads") {
		settings.Resource.Threads = flags.threads
	}
	if f.Changed("page-size") {
		settings.Resource.PageSize = flags.pageSize
	}
	if f.Changed("format") {
		settings.Resource.Format = flags.format
	}
	return conf.ValidateSettings(settings)
}
