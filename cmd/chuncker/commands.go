package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"chuncker/internal/indexer"
	"chuncker/internal/obs"
	"chuncker/internal/sysmetrics"
)

func newUploadCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <filePath>",
		Short: "Chunk and upload a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, logger, func(ctx context.Context, a *app) error {
				ctx, corrID := obs.BeginScope(ctx, logger)

				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open %s: %w", args[0], err)
				}
				defer f.Close()

				fileID := uuid.NewString()
				file, err := a.files.Upload(ctx, f, fileID, filepath.Base(args[0]), corrID)
				if err != nil {
					return err
				}
				fmt.Printf("uploaded %s as %s (%d bytes, %d chunks, checksum %s)\n",
					args[0], file.ID, file.Size, file.ChunkCount, file.Checksum)
				return nil
			})
		},
	}
}

func newDownloadCmd(logger *slog.Logger) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download <fileId>",
		Short: "Reassemble a file from its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, logger, func(ctx context.Context, a *app) error {
				ctx, corrID := obs.BeginScope(ctx, logger)

				dest := output
				if dest == "" {
					dest = args[0]
				}
				out, err := os.Create(dest)
				if err != nil {
					return fmt.Errorf("create %s: %w", dest, err)
				}
				defer out.Close()

				if err := a.files.Download(ctx, args[0], out, corrID); err != nil {
					return err
				}
				fmt.Printf("downloaded %s to %s\n", args[0], dest)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "destination path (defaults to <fileId>)")
	return cmd
}

func newListCmd(logger *slog.Logger) *cobra.Command {
	var parentID, fileType, checksum string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexed files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, logger, func(ctx context.Context, a *app) error {
				ctx, corrID := obs.BeginScope(ctx, logger)
				files, err := a.store.Files().List(ctx, fileFilter(parentID, fileType, checksum), corrID)
				if err != nil {
					return err
				}
				for _, f := range files {
					fmt.Printf("%s\t%s\t%d\t%s\t%s\n", f.ID, f.Name, f.Size, f.Status, f.Checksum)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&parentID, "parent", "", "filter by parent id")
	cmd.Flags().StringVar(&fileType, "type", "", "filter by type: file|directory")
	cmd.Flags().StringVar(&checksum, "checksum", "", "filter by checksum")
	return cmd
}

func newDeleteCmd(logger *slog.Logger) *cobra.Command {
	var force bool
	var reason string
	cmd := &cobra.Command{
		Use:   "delete <fileId>",
		Short: "Delete a file and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, logger, func(ctx context.Context, a *app) error {
				ctx, corrID := obs.BeginScope(ctx, logger)
				if !force {
					fmt.Fprintf(os.Stderr, "use --force to confirm deletion of %s\n", args[0])
					return fmt.Errorf("delete %s: confirmation required", args[0])
				}
				if reason != "" {
					logger.Info("delete requested", "fileId", args[0], "reason", reason, "correlationId", corrID)
				}
				ok, err := a.files.Delete(ctx, args[0], corrID)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("delete %s: one or more backends reported a partial failure", args[0])
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm deletion")
	cmd.Flags().StringVar(&reason, "reason", "", "reason for deletion, recorded in the log")
	return cmd
}

func newVerifyCmd(logger *slog.Logger) *cobra.Command {
	var deep, repair bool
	cmd := &cobra.Command{
		Use:   "verify <fileId>",
		Short: "Verify a file's integrity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, logger, func(ctx context.Context, a *app) error {
				ctx, corrID := obs.BeginScope(ctx, logger)
				if repair {
					logger.Warn("verify --repair is not supported: merge never auto-repairs a checksum mismatch")
				}
				_ = deep // deep verification is the only mode this engine performs; flag kept for CLI surface parity
				ok, err := a.files.Verify(ctx, args[0], corrID)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Printf("%s: FAILED\n", args[0])
					return fmt.Errorf("verify %s: checksum mismatch", args[0])
				}
				fmt.Printf("%s: OK\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&deep, "deep", false, "force a full re-hash instead of a cached verdict")
	cmd.Flags().BoolVar(&repair, "repair", false, "attempt to repair a failed verification (unsupported)")
	return cmd
}

func newSeekCmd(logger *slog.Logger) *cobra.Command {
	var path string
	var recursive bool
	cmd := &cobra.Command{
		Use:   "seek",
		Short: "Walk a directory, recording file metadata",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, logger, func(ctx context.Context, a *app) error {
				ctx, corrID := obs.BeginScope(ctx, logger)
				summary, err := a.indexer.Walk(ctx, path, indexer.Options{Recursive: recursive}, corrID)
				if err != nil {
					return err
				}
				fmt.Printf("scanned %s: %d files, %d directories, %d bytes\n",
					path, summary.FileCount, summary.DirectoryCount, summary.TotalSize)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", ".", "directory to walk")
	cmd.Flags().BoolVar(&recursive, "recursive", false, "walk subdirectories")
	return cmd
}

func newSeekPlusCmd(logger *slog.Logger) *cobra.Command {
	var processContent, parallel, checkDuplicates bool
	cmd := &cobra.Command{
		Use:   "seek-plus <path>",
		Short: "Walk a directory with content hashing and duplicate detection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, logger, func(ctx context.Context, a *app) error {
				ctx, corrID := obs.BeginScope(ctx, logger)
				summary, err := a.indexer.Walk(ctx, args[0], indexer.Options{
					Recursive:       true,
					ProcessContent:  processContent,
					Parallel:        parallel,
					CheckDuplicates: checkDuplicates,
				}, corrID)
				if err != nil {
					return err
				}
				fmt.Printf("scanned %s: %d files, %d directories, %d bytes, %d errors\n",
					args[0], summary.FileCount, summary.DirectoryCount, summary.TotalSize, summary.ErrorCount)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&processContent, "process-content", false, "compute a SHA-256 for each file")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "use a bounded worker pool sized to the CPU count")
	cmd.Flags().BoolVar(&checkDuplicates, "check-duplicates", false, "tag duplicate files by content checksum")
	return cmd
}

func newMetricsCmd() *cobra.Command {
	var metricType string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Report process resource usage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch metricType {
			case "cpu":
				fmt.Printf("cpu: %.2f%%\n", sysmetrics.CPUPercent())
			case "memory":
				fmt.Printf("memory: %d bytes\n", sysmetrics.MemoryInuse())
			case "disk", "all":
				fmt.Printf("cpu: %.2f%%\n", sysmetrics.CPUPercent())
				fmt.Printf("memory: %d bytes\n", sysmetrics.MemoryInuse())
				if metricType == "disk" || metricType == "all" {
					fmt.Println("disk: not tracked by this process (no single filesystem root is implied by the pipeline)")
				}
			default:
				return fmt.Errorf("unknown --type %q: expected memory, cpu, disk, or all", metricType)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metricType, "type", "all", "memory|cpu|disk|all")
	return cmd
}
