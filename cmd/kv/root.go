package kv

import (
	"github.com/ValentinKolb/nkv/cmd/util"
	"github.com/ValentinKolb/nkv/lib/nkv"
	"github.com/spf13/cobra"
)

var (
	instance  *nkv.Instance
	container *nkv.Container

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:   "kv",
		Short: "Perform key-value operations on a container",
		Long: `Open the nKV instance described by --config and operate on one of its containers.
Without a config file the instance has a single container backed by a remote path on --endpoint.`,
		PersistentPreRunE:  openInstance,
		PersistentPostRunE: closeInstance,
	}
)

func init() {
	util.SetupInstanceFlags(KeyValueCommands)
	util.SetupRPCClientFlags(KeyValueCommands)

	KeyValueCommands.AddCommand(putCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(existsCmd)
	KeyValueCommands.AddCommand(listCmd)
	KeyValueCommands.AddCommand(statsCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// openInstance opens the instance and selects the container
func openInstance(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	inst, err := util.OpenInstance()
	if err != nil {
		return err
	}
	c, err := util.SelectContainer(inst)
	if err != nil {
		_ = inst.Close()
		return err
	}

	instance, container = inst, c
	return nil
}

// closeInstance closes the instance, memdev paths with a data file are persisted here
func closeInstance(_ *cobra.Command, _ []string) error {
	if instance == nil {
		return nil
	}
	err := instance.Close()
	instance, container = nil, nil
	return err
}
