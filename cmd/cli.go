// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"moodtap/internal/config"
	applog "moodtap/internal/log"
	"moodtap/pkg/build"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Execute runs the command line against os.Args. ctx is canceled on
// interrupt.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	root.SetArgs(os.Args[1:])
	return root.ExecuteContext(ctx)
}

// NewRootCommand builds the command tree. Each call gets its own viper
// instance so commands can be executed repeatedly in tests.
func NewRootCommand() *cobra.Command {
	buildInfo := build.GetBuildFlags()
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         build.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, v)
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().String("config", "",
		"Config file (default searches ./moodtap.yaml, ./config.yaml and the user config dir)")
	rootCmd.PersistentFlags().String("log-level", "",
		"Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newAnalyzeCommand(v),
		newListenCommand(v),
		newDevicesCommand(v),
		newVersionCommand(),
	)
	return rootCmd
}

// bindFlags binds every flag of cmd to v and to a MOODTAP_ environment
// variable, so v.IsSet reports a flag the user set either way.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var lastErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		envName := config.EnvPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if err := v.BindPFlag(f.Name, f); err != nil {
			lastErr = err
		}
		if err := v.BindEnv(f.Name, envName); err != nil {
			lastErr = err
		}
	})
	return lastErr
}

// override copies a flag value into the configuration when it was set.
type override func(v *viper.Viper, cfg *config.Config)

func bind[T any](name string, get func(*viper.Viper, string) T, field func(*config.Config) *T) override {
	return func(v *viper.Viper, cfg *config.Config) {
		if v.IsSet(name) {
			*field(cfg) = get(v, name)
		}
	}
}

func stringFlag(name string, field func(*config.Config) *string) override {
	return bind(name, (*viper.Viper).GetString, field)
}

func intFlag(name string, field func(*config.Config) *int) override {
	return bind(name, (*viper.Viper).GetInt, field)
}

func floatFlag(name string, field func(*config.Config) *float64) override {
	return bind(name, (*viper.Viper).GetFloat64, field)
}

func boolFlag(name string, field func(*config.Config) *bool) override {
	return bind(name, (*viper.Viper).GetBool, field)
}

func durationFlag(name string, field func(*config.Config) *time.Duration) override {
	return bind(name, (*viper.Viper).GetDuration, field)
}

// loadConfig reads the config file, applies flags in precedence order
// (flag, env, file, default), validates and sets the log level.
func loadConfig(v *viper.Viper, overrides ...override) (*config.Config, error) {
	cfg, err := config.LoadConfig(v.GetString("config"))
	if err != nil {
		return nil, err
	}

	overrides = append(overrides, stringFlag("log-level", func(c *config.Config) *string { return &c.LogLevel }))
	for _, apply := range overrides {
		apply(v, cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := applog.ParseLevel(cfg.LogLevel)
	applog.SetLevel(level)
	return cfg, nil
}

func addTransportFlags(flags *pflag.FlagSet) {
	flags.String("websocket", "", "Serve results to WebSocket clients on this address, e.g. :8080")
	flags.String("udp", "", "Send feature packets to this UDP address, e.g. 127.0.0.1:9090")
	flags.Bool("log-events", false, "Log every published result and mood change")
}

var transportOverrides = []override{
	stringFlag("websocket", func(c *config.Config) *string { return &c.Transport.WebSocketAddr }),
	boolFlag("log-events", func(c *config.Config) *bool { return &c.Transport.Logging }),
	func(v *viper.Viper, cfg *config.Config) {
		if v.IsSet("udp") {
			cfg.Transport.UDPEnabled = true
			cfg.Transport.UDPTargetAddress = v.GetString("udp")
		}
	},
}
