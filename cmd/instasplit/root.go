package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "instasplit",
	Short: "Split long videos into ranked short-form clips",
	Long: `instasplit cuts a long video into fixed-length windows, scores a frame
from each window with a vision model and renders the best moments as
vertical, square or widescreen clips.

Commands:
  - serve   run the local agent (HTTP API and tray icon)
  - split   analyze a video from the terminal and optionally export clips
  - plan    print the windows a video would be cut into
  - doctor  check ffmpeg and model credentials`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("instasplit version %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(doctorCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
