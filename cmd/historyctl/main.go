// Command historyctl inspects and maintains room version history from the
// shell: listing and exporting versions, pruning, reconciling orphaned
// blobs, and running a local autosave session against a document file.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "historyctl:", err)
		os.Exit(1)
	}
}
