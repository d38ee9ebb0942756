package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/nkv/cmd/kv"
	"github.com/ValentinKolb/nkv/cmd/lock"
	"github.com/ValentinKolb/nkv/cmd/serve"
	"github.com/ValentinKolb/nkv/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.4.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "nkv",
		Short: "listing and caching layer for KV-SSD devices",
		Long: fmt.Sprintf(`nKV (v%s)

A key-value library for KV-SSD style devices. nKV spreads a container over
several device paths, answers hierarchical listings from a sharded in-memory
index and keeps small values in a sharded LRU read cache. Devices can be local
(memdev) or served remotely by "nkv serve".`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of nKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nKV v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use for remote paths (binary, json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use for remote paths (tcp, unix, http)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
