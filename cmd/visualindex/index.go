package main

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/visualindex"
	"github.com/hupe1980/visualindex/pipeline"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

func NewIndexCmd(ix func() *visualindex.Indexer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index <path|url>...",
		Short: "Index images",
		Long: `Index image files, directories of images or http(s) URLs.
Directories are walked recursively. The image ID is its path or URL.`,
		Args:        cobra.MinimumNArgs(1),
		Annotations: needsIndex(),
		RunE:        makeIndexRunner(ix),
	}

	cmd.Flags().Bool("fail-fast", false, "Stop at the first image that cannot be indexed")
	return cmd
}

type indexReport struct {
	ID     string `json:"id"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func makeIndexRunner(ix func() *visualindex.Indexer) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		failFast, _ := cmd.Flags().GetBool("fail-fast")
		asJSON, _ := cmd.Flags().GetBool("json")

		locations, err := collectLocations(args)
		if err != nil {
			return err
		}

		indexer := ix()
		ctx := cmd.Context()
		reports := make([]indexReport, 0, len(locations))
		failed := 0

		take := func() error {
			res, err := indexer.Take(ctx)
			if err != nil {
				return err
			}
			r := indexReport{ID: res.ID}
			if !res.OK() {
				failed++
				r.Error = res.Err.Error()
				if res.Reason != pipeline.ReasonNone {
					r.Reason = res.Reason.String()
				}
				if failFast {
					return fmt.Errorf("index %s: %w", res.ID, res.Err)
				}
			}
			reports = append(reports, r)
			if !asJSON {
				printIndexReport(cmd, r)
			}
			return nil
		}

		pending := 0
		for _, loc := range locations {
			for !indexer.CanAcceptMoreTasks() {
				if err := take(); err != nil {
					return err
				}
				pending--
			}
			if err := indexer.Submit(pipeline.Task{ID: loc, Location: loc}); err != nil {
				return fmt.Errorf("submit %s: %w", loc, err)
			}
			pending++
		}
		for ; pending > 0; pending-- {
			if err := take(); err != nil {
				return err
			}
		}

		if err := indexer.Sync(ctx); err != nil {
			return fmt.Errorf("sync: %w", err)
		}

		if asJSON {
			return outputJSON(cmd, reports)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d of %d images\n", len(reports)-failed, len(reports))
		return nil
	}
}

func printIndexReport(cmd *cobra.Command, r indexReport) {
	switch {
	case r.Error == "":
		fmt.Fprintf(cmd.OutOrStdout(), "ok    %s\n", r.ID)
	case r.Reason != "":
		fmt.Fprintf(cmd.OutOrStdout(), "fail  %s (%s): %s\n", r.ID, r.Reason, r.Error)
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "fail  %s: %s\n", r.ID, r.Error)
	}
}

// collectLocations expands directories into the image files below them.
// URLs and plain files are kept as given.
func collectLocations(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
			out = append(out, arg)
			continue
		}
		files, err := imageFiles(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

func imageFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if path == root || imageExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}
