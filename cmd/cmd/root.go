package cmd

import (
	"github.com/spf13/cobra"
)

const AppName = "fat2ext4"

func Execute() error {
	rootCmd := &cobra.Command{
		Use:   AppName,
		Short: AppName + " - in-place FAT32 to ext4 converter",
	}

	rootCmd.AddCommand(DefineConvertCommand())

	return rootCmd.Execute()
}
