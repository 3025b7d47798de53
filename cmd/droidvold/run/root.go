package run

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	droidvold "bocloud.com/cloudnative/droidvold"
)

var config struct {
	blkidContext          string
	blkidUntrustedContext string
	fsckContext           string
	fsckUntrustedContext  string

	configDir     string
	commandSocket string
	httpAddr      string
	debug         bool
}

var rootCmd = &cobra.Command{
	Use:     "droidvold",
	Version: droidvold.Version,
	Short:   "Removable storage volume manager",
	Long: `droidvold watches kernel hot-plug events for removable block
devices, scans their partition tables and mounts, unmounts or formats
the resulting volumes on framework command.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return subMain()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	fs := rootCmd.Flags()
	fs.StringVar(&config.blkidContext, "blkid_context", "", "SELinux context for trusted blkid probes")
	fs.StringVar(&config.blkidUntrustedContext, "blkid_untrusted_context", "", "SELinux context for untrusted blkid probes")
	fs.StringVar(&config.fsckContext, "fsck_context", "", "SELinux context for trusted fsck helpers")
	fs.StringVar(&config.fsckUntrustedContext, "fsck_untrusted_context", "", "SELinux context for untrusted fsck helpers")

	fs.StringVar(&config.configDir, "config-dir", droidvold.DefaultConfigDir, "Directory holding config.json")
	fs.StringVar(&config.commandSocket, "socket", "", "Control socket path, overrides configuration")
	fs.StringVar(&config.httpAddr, "http-addr", "", "Status/metrics listen address, overrides configuration")
	fs.BoolVar(&config.debug, "debug", false, "Verbose device probing")

	_ = rootCmd.MarkFlagRequired("blkid_context")
	_ = rootCmd.MarkFlagRequired("blkid_untrusted_context")
	_ = rootCmd.MarkFlagRequired("fsck_context")
	_ = rootCmd.MarkFlagRequired("fsck_untrusted_context")
}
