package main

import (
	"fmt"

	"github.com/sr-shim/shimrepo/internal/modindex"
	"github.com/spf13/cobra"
)

var moduleCmd = &cobra.Command{
	Use:   "module",
	Short: "Manage installed schema modules",
}

var moduleInstallCmd = &cobra.Command{
	Use:   "install <name>",
	Short: "Install a schema module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, _ := cmd.Flags().GetStringSlice("depends-on")

		ctx := cmd.Context()
		inst, err := openInstance(ctx)
		if err != nil {
			return err
		}
		defer inst.Close(ctx)

		edges := make([]modindex.DependencyEdge, 0, len(deps))
		for _, d := range deps {
			target, err := inst.Module(d)
			if err != nil {
				return fmt.Errorf("resolve dependency %q: %w", d, err)
			}
			edges = append(edges, modindex.DependencyEdge{Tag: modindex.DepDirect, Target: target.Offset})
		}

		m, err := inst.Install(ctx, args[0], edges)
		if err != nil {
			return err
		}
		fmt.Printf("installed %q at offset %d\n", m.Name, m.Offset)
		return nil
	},
}

var moduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed schema modules",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		inst, err := openInstance(ctx)
		if err != nil {
			return err
		}
		defer inst.Close(ctx)

		modules := inst.Modules()
		if len(modules) == 0 {
			fmt.Println("no modules installed")
			return nil
		}
		for _, m := range modules {
			fmt.Printf("%s\toffset=%d\n", m.Name, m.Offset)
		}
		return nil
	},
}

var moduleRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an installed schema module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		inst, err := openInstance(ctx)
		if err != nil {
			return err
		}
		defer inst.Close(ctx)

		if err := inst.RemoveModule(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("removed %q\n", args[0])
		return nil
	},
}

var moduleInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Inspect a module's mod-info and per-datastore lock state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dsName, _ := cmd.Flags().GetString("datastore")
		ds, err := parseDatastore(dsName)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		inst, err := openInstance(ctx)
		if err != nil {
			return err
		}
		defer inst.Close(ctx)

		m, err := inst.Module(args[0])
		if err != nil {
			return err
		}
		status, err := inst.ModuleStatus(args[0], ds)
		if err != nil {
			return err
		}

		fmt.Printf("name=%s offset=%d datastore=%s applying_changes=%t owner=%q\n",
			m.Name, m.Offset, dsName, status.ApplyingChanges, status.Owner)
		return nil
	},
}

var moduleUnlockCmd = &cobra.Command{
	Use:   "unlock <name>",
	Short: "Force-clear a module datastore's applying_changes flag and release its lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dsName, _ := cmd.Flags().GetString("datastore")
		ds, err := parseDatastore(dsName)
		if err != nil {
			return err
		}
		write, _ := cmd.Flags().GetBool("write")

		ctx := cmd.Context()
		inst, err := openInstance(ctx)
		if err != nil {
			return err
		}
		defer inst.Close(ctx)

		if err := inst.ForceUnlock(args[0], ds, write); err != nil {
			return err
		}
		fmt.Printf("unlocked %q datastore=%s\n", args[0], dsName)
		return nil
	},
}

func init() {
	moduleInstallCmd.Flags().StringSlice("depends-on", nil, "comma-separated list of module names this module depends on")
	moduleInfoCmd.Flags().String("datastore", "running", "datastore to inspect (startup, running, candidate, operational)")
	moduleUnlockCmd.Flags().String("datastore", "running", "datastore to unlock (startup, running, candidate, operational)")
	moduleUnlockCmd.Flags().Bool("write", true, "release the write lock instead of a read lock")

	moduleCmd.AddCommand(moduleInstallCmd)
	moduleCmd.AddCommand(moduleListCmd)
	moduleCmd.AddCommand(moduleRemoveCmd)
	moduleCmd.AddCommand(moduleInfoCmd)
	moduleCmd.AddCommand(moduleUnlockCmd)
}
