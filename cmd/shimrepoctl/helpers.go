package main

import (
	"context"

	"github.com/sr-shim/shimrepo/pkg/config"
	"github.com/sr-shim/shimrepo/pkg/options"
	"github.com/sr-shim/shimrepo/pkg/shimrepo"
)

// openInstance attaches a shimrepo Instance using the persistent
// --repo-root and --config flags, composing file-based tuning overrides
// with the repo-root flag via the same functional-options mechanism.
func openInstance(ctx context.Context) (*shimrepo.Instance, error) {
	opts := []options.OptionFunc{options.WithRepoRoot(flagRepoRoot)}

	if flagConfigFile != "" {
		fileOpts, err := config.Load(flagConfigFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fileOpts...)
	}

	return shimrepo.NewInstance(ctx, "shimrepoctl", opts...)
}
