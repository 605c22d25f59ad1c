// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"

	"moodtap/internal/audio"
	"moodtap/internal/tui"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newDevicesCommand(v *viper.Viper) *cobra.Command {
	devicesCmd := &cobra.Command{
		Use:     "devices",
		Aliases: []string{"list"},
		Short:   "List available audio devices",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(v); err != nil {
				return err
			}
			if err := audio.Initialize(); err != nil {
				return err
			}
			defer audio.Terminate()

			if !v.GetBool("interactive") {
				return audio.ListDevices(cmd.OutOrStdout())
			}

			choice, err := tui.StartDeviceListUI()
			if err != nil {
				return err
			}
			if choice != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "moodtap listen --device %d --sample-rate %.0f --channels %d\n",
					choice.Device.ID, choice.SampleRate, choice.Channels)
			}
			return nil
		},
	}
	devicesCmd.Flags().BoolP("interactive", "i", false, "Browse input devices and build a listen command")
	return devicesCmd
}
