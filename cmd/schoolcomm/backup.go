package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"schoolcomm/internal/config"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of the gateway data (database + config)",
		Long: `Creates a compressed .tar.gz archive containing the SQLite database
(directory, notifications, delivery log) and the configuration file.
The WAL is checkpointed first so the database file is self-contained.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dbPath := cfg.Store.DBPath

			if _, err := os.Stat(dbPath); err == nil {
				st, err := openStore(cfg)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				if err := st.Checkpoint(ctx); err != nil {
					logger.Warn("wal checkpoint failed, backing up wal files as well", "err", err)
				}
				cancel()
				st.Close()
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("schoolcomm-backup-%s.tar.gz", ts))
			}

			files := backupFiles(dbPath, cfgPath)
			if len(files) == 0 {
				return fmt.Errorf("no files to backup (db: %s, config: %s)", dbPath, cfgPath)
			}

			if err := createTarGz(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backup created: %s\n", outputPath)
			fmt.Fprintf(out, "Files included: %d\n", len(files))
			for _, f := range files {
				size := int64(0)
				if info, err := os.Stat(f); err == nil {
					size = info.Size()
				}
				fmt.Fprintf(out, "  - %s (%s)\n", filepath.Base(f), humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.schoolcomm/backups/schoolcomm-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file.tar.gz]",
		Short: "Restore gateway data from a backup archive",
		Long: `Restores the SQLite database and configuration file from a .tar.gz
archive created by 'schoolcomm backup'. Stop the gateway first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.LoadOrDefaults(cfgPath)
			if err != nil {
				return err
			}
			dbPath := cfg.Store.DBPath

			if !force {
				existing := false
				for _, p := range []string{dbPath, cfgPath} {
					if _, err := os.Stat(p); err == nil {
						existing = true
					}
				}
				if existing {
					fmt.Fprintf(cmd.ErrOrStderr(), "This will overwrite existing data.\n  Database: %s\n  Config:   %s\n", dbPath, cfgPath)
					return fmt.Errorf("restore aborted (use --force to proceed)")
				}
			}

			restored, err := extractTarGz(args[0], dbPath, cfgPath)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Restore completed from: %s\n", args[0])
			fmt.Fprintf(out, "Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Fprintf(out, "  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without asking")
	return cmd
}

// backupFiles lists the database, its WAL/SHM companions and the config
// file, skipping any that do not exist.
func backupFiles(dbPath, cfgPath string) []string {
	var files []string
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm", cfgPath} {
		if info, err := os.Stat(p); err == nil && info.Size() > 0 {
			files = append(files, p)
		}
	}
	return files
}

func createTarGz(outputPath string, files []string) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)

	for _, filePath := range files {
		if err := addFileToTar(tarWriter, filePath); err != nil {
			return fmt.Errorf("add %s: %w", filePath, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	if err := gzWriter.Close(); err != nil {
		return err
	}
	return outFile.Close()
}

func addFileToTar(tw *tar.Writer, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.Base(filePath)

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz writes each archive member to its place: *.json to the
// config path, the database and its WAL/SHM next to dbPath. Unknown members
// are skipped.
func extractTarGz(archivePath, dbPath, cfgPath string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		var targetPath string
		baseName := filepath.Base(header.Name)
		switch {
		case strings.HasSuffix(baseName, ".json"):
			targetPath = cfgPath
		case strings.HasSuffix(baseName, ".db"):
			targetPath = dbPath
		case strings.HasSuffix(baseName, ".db-wal"):
			targetPath = dbPath + "-wal"
		case strings.HasSuffix(baseName, ".db-shm"):
			targetPath = dbPath + "-shm"
		default:
			continue
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, err
		}
		outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", targetPath, err)
		}
		if _, err := io.Copy(outFile, tarReader); err != nil {
			outFile.Close()
			return nil, fmt.Errorf("extract %s: %w", targetPath, err)
		}
		if err := outFile.Close(); err != nil {
			return nil, err
		}
		restored = append(restored, targetPath)
	}

	return restored, nil
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
