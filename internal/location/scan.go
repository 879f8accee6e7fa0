package location

import (
	"context"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/snapferry/internal/snapshot"
)

// ScanAll scans every path concurrently against the same registry and returns
// the locations in the order of paths. The first scan failure cancels the
// rest and is returned.
func ScanAll(ctx context.Context, fsys afero.Fs, reg *snapshot.Registry, paths ...string) ([]*Location, error) {
	locs := make([]*Location, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			loc, err := Scan(fsys, path, reg)
			if err != nil {
				return err
			}
			locs[i] = loc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return locs, nil
}
