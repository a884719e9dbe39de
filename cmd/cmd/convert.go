// Copyright (c) 2025 Stefano Scafiti
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ostafen/fat2ext4/internal/convert"
	"github.com/ostafen/fat2ext4/internal/logger"
	"github.com/ostafen/fat2ext4/internal/mmap"
)

func DefineConvertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <device>",
		Short: "Convert a FAT32 image file or disk to ext4 in place",
		Long: "Convert rewrites the given FAT32 partition into an ext4 filesystem without moving " +
			"the file data off the device. The target must be unmounted. The conversion cannot be " +
			"interrupted: a failure mid-way leaves the partition unrecoverable, so keep a backup.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         RunConvert,
	}

	cmd.Flags().String("log-level", "INFO", "minimum level of the diagnostic output")
	cmd.Flags().Bool("no-log", false, "disable logging")
	cmd.Flags().Bool("no-progress", false, "disable the progress bar")

	return cmd
}

func RunConvert(cmd *cobra.Command, args []string) error {
	path := mmap.NormalizeVolumePath(args[0])

	logLevel, _ := cmd.Flags().GetString("log-level")
	disableLog, _ := cmd.Flags().GetBool("no-log")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	return convert.Convert(path, convert.Options{
		LogLevel:     logger.ParseLevel(logLevel),
		DisableLog:   disableLog,
		ShowProgress: !noProgress && !disableLog,
	})
}
