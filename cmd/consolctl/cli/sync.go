package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/odyssey-erp/consolidation/internal/consol"
	"github.com/odyssey-erp/consolidation/internal/consol/syncdiff"
)

// ExitPendingDeletes is returned by sync preview when the apply would
// need confirm_deletes.
const ExitPendingDeletes = 10

// SyncPreviewer computes a dry-run diff of a reference dataset.
type SyncPreviewer interface {
	PreviewSync(ctx context.Context, dataset string, incoming []syncdiff.Record) (consol.SyncPreview, error)
}

// SyncPreviewOptions configures the sync preview command.
type SyncPreviewOptions struct {
	Dataset    string
	Source     string
	JSONOutput bool
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

// SyncPreviewCommand reads a JSON array of records and prints the diff
// against the stored dataset.
func SyncPreviewCommand(ctx context.Context, svc SyncPreviewer, opts SyncPreviewOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	var (
		data []byte
		err  error
	)
	if opts.Source == "" || opts.Source == "-" {
		data, err = io.ReadAll(opts.Stdin)
	} else {
		data, err = os.ReadFile(opts.Source)
	}
	if err != nil {
		fmt.Fprintf(opts.Stderr, "sync preview: read source: %v\n", err)
		return 1
	}
	var records []syncdiff.Record
	if err := json.Unmarshal(data, &records); err != nil {
		fmt.Fprintf(opts.Stderr, "sync preview: decode records: %v\n", err)
		return 1
	}
	preview, err := svc.PreviewSync(ctx, opts.Dataset, records)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "sync preview: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(preview); err != nil {
			fmt.Fprintf(opts.Stderr, "sync preview: encode json: %v\n", err)
			return 1
		}
	} else {
		c := preview.Counts
		fmt.Fprintf(opts.Stdout, "Sync preview for %s at version %d\n", preview.Dataset, preview.Version)
		fmt.Fprintf(opts.Stdout, " added %d, updated %d, deleted %d, unchanged %d, duplicates %d\n",
			c.Added, c.Updated, c.Deleted, c.Unchanged, c.Duplicates)
		for _, change := range preview.Diff.ToDelete {
			fmt.Fprintf(opts.Stdout, " - delete %s\n", change.Key)
		}
	}
	if preview.Counts.Deleted > 0 {
		return ExitPendingDeletes
	}
	return 0
}
