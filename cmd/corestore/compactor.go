package main

import (
	"fmt"
	"io"

	"github.com/jpl-au/corestore"
	flag "github.com/spf13/pflag"
)

// cmdCompactorRun runs exactly one compaction pass against --dir,
// either a single incremental shift or a full cycle, then exits — the
// CLI never keeps the Transporter loop running (spec's boundary-only
// CLI scope).
func cmdCompactorRun(out, errOut io.Writer, args []string) int {
	flagSet := flag.NewFlagSet("compactor run", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	dir := flagSet.String("dir", "", "storage directory")
	full := flagSet.Bool("full", false, "run a full compaction cycle")
	incremental := flagSet.Bool("incremental", false, "run one incremental shift")
	mergeSort := flagSet.Bool("merge-sort", false, "use the merge-sort strategy instead of no-op")

	if err := flagSet.Parse(args); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	if *dir == "" {
		fmt.Fprintln(errOut, "error: --dir is required")
		return 2
	}
	if *full == *incremental {
		fmt.Fprintln(errOut, "error: exactly one of --full or --incremental is required")
		return 2
	}

	db, storage, buffer, err := exitDatabase(*dir)
	if err != nil {
		fmt.Fprintln(errOut, "error: opening database:", err)
		return 1
	}
	defer storage.Close()
	defer buffer.Close()

	var strategy corestore.CompactionStrategy = corestore.NoOpCompactor{}
	if *mergeSort {
		strategy = corestore.MergeSortCompactor{}
	}
	cfg := corestore.DefaultConfig()
	compactor := corestore.NewCompactor(db, strategy, *dir, cfg, nil)

	if *full {
		if err := compactor.ExecuteFullCompaction(); err != nil {
			fmt.Fprintln(errOut, "error: full compaction:", err)
			return 1
		}
		fmt.Fprintln(out, "full compaction complete")
		return 0
	}

	compacted, err := compactor.TryIncrementalCompaction()
	if err != nil {
		fmt.Fprintln(errOut, "error: incremental compaction:", err)
		return 1
	}
	if compacted {
		fmt.Fprintln(out, "incremental compaction: ran one shift")
	} else {
		fmt.Fprintln(out, "incremental compaction: nothing to do")
	}
	return 0
}
