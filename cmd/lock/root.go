package lock

import (
	"fmt"

	"github.com/ValentinKolb/nkv/cmd/util"
	"github.com/ValentinKolb/nkv/lib/lockmgr"
	"github.com/ValentinKolb/nkv/lib/nkv"
	"github.com/spf13/cobra"
)

var (
	instance       *nkv.Instance
	container      *nkv.Container
	acquireTimeout int

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:                "lock",
		Short:              "Perform lock operations on keys of a container",
		PersistentPreRunE:  setupLockClient,
		PersistentPostRunE: closeLockClient,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock",
		Long:  "Acquire the lock of a key. The lock record lives on the path responsible for the key and expires after --lock-timeout seconds.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [key] [ownerID]",
		Short: "Release a previously acquired lock",
		Long:  "Release a lock using the key and owner ID. The owner ID is the uuid printed by the acquire command (plain hex is accepted too).",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}
)

func init() {
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)

	util.SetupInstanceFlags(LockCommands)
	util.SetupRPCClientFlags(LockCommands)

	acquireCmd.Flags().IntVar(&acquireTimeout, "lock-timeout", 30, "Lock timeout in seconds (0 for no timeout)")
}

// setupLockClient opens the instance and selects the container
func setupLockClient(cmd *cobra.Command, _ []string) error {
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

func closeLockClient(_ *cobra.Command, _ []string) error {
	if instance == nil {
		return nil
	}
	err := instance.Close()
	instance, container = nil, nil
	return err
}

// runAcquire handles the acquire lock command
func runAcquire(_ *cobra.Command, args []string) error {
	acquired, ownerID, err := container.LockKVP(args[0], util.Seconds(acquireTimeout))
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !acquired {
		fmt.Println("acquired=false")
		return nil
	}
	fmt.Printf("acquired=true owner=%s\n", lockmgr.OwnerString(ownerID))
	return nil
}

// runRelease handles the release lock command
func runRelease(_ *cobra.Command, args []string) error {
	ownerID, err := lockmgr.ParseOwner(args[1])
	if err != nil {
		return fmt.Errorf("invalid owner ID %q: %w", args[1], err)
	}

	released, err := container.UnlockKVP(args[0], ownerID)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	fmt.Printf("released=%v\n", released)
	return nil
}
