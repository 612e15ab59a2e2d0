package main

import (
	"fmt"
	"sort"

	"github.com/sr-shim/shimrepo/internal/modindex"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <xpath>",
	Short: "Read a datastore's persisted state by XPath",
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

		values, err := inst.Get(ctx, ds, args[0])
		if err != nil {
			return err
		}
		if len(values) == 0 {
			fmt.Println("no matches")
			return nil
		}

		paths := make([]string, 0, len(values))
		for p := range values {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			fmt.Printf("%s = %v\n", p, values[p].Data)
		}
		return nil
	},
}

func parseDatastore(name string) (modindex.Datastore, error) {
	switch name {
	case "", "running":
		return modindex.Running, nil
	case "startup":
		return modindex.Startup, nil
	case "candidate":
		return modindex.Candidate, nil
	case "operational":
		return modindex.Operational, nil
	default:
		return 0, fmt.Errorf("unknown datastore %q (want startup, running, candidate, or operational)", name)
	}
}

func init() {
	getCmd.Flags().String("datastore", "running", "datastore to read (startup, running, candidate, operational)")
}
