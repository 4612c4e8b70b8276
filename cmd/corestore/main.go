// Command corestore is the boundary-only CLI surface the storage core
// exposes directly: user password hashing and compactor runs. Every
// other surface (the wire RPC, HTTP route glue, template rendering,
// plugin hosting) is out of scope and lives elsewhere.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jpl-au/corestore"
)

func main() {
	os.Exit(run(os.Stdout, os.Stderr, os.Args[1:]))
}

func run(out, errOut io.Writer, args []string) int {
	if len(args) == 0 {
		printUsage(out)
		return 2
	}

	switch args[0] {
	case "user":
		return cmdUser(out, errOut, args[1:])
	case "compactor":
		return cmdCompactor(out, errOut, args[1:])
	case "-h", "--help", "help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintln(errOut, "error: unknown command:", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage: corestore <command> [flags]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  user password [USERNAME]        Hash a password read from stdin")
	fmt.Fprintln(out, "  compactor run --full|--incremental --dir DIR   Run one compaction pass")
}

func cmdUser(out, errOut io.Writer, args []string) int {
	if len(args) == 0 || args[0] != "password" {
		fmt.Fprintln(errOut, "error: usage: corestore user password [USERNAME]")
		return 2
	}
	return cmdUserPassword(out, errOut, args[1:])
}

func cmdCompactor(out, errOut io.Writer, args []string) int {
	if len(args) == 0 || args[0] != "run" {
		fmt.Fprintln(errOut, "error: usage: corestore compactor run --full|--incremental --dir DIR")
		return 2
	}
	return cmdCompactorRun(out, errOut, args[1:])
}

// exitDatabase opens a Database rooted at dir for a one-shot CLI
// invocation, since the CLI is a boundary-only surface and never runs
// the Transporter loop itself.
func exitDatabase(dir string) (*corestore.Database, *corestore.SegmentStorage, *corestore.Buffer, error) {
	cfg := corestore.DefaultConfig()
	ts := corestore.NewLocalTimeSource()

	storage, err := corestore.OpenSegmentStorage(dir, cfg.HashAlgorithm, cfg.BloomFalsePositiveRate, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	buffer, err := corestore.NewBuffer(dir, cfg, ts, nil, func(corestore.Text) bool { return false })
	if err != nil {
		return nil, nil, nil, err
	}
	db := corestore.OpenDatabase(storage, buffer, cfg, nil)
	return db, storage, buffer, nil
}
