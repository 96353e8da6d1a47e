package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"memoryagent/internal/config"

	"github.com/spf13/cobra"
)

// Archive member names.
const (
	backupDBName     = "memoryagent.db"
	backupConfigName = "config.json"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the SQLite database and config file",
		Long: `Creates a compressed .tar.gz archive with a consistent snapshot of the
SQLite database and the configuration file. Postgres stores are not
covered; use pg_dump for those.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if cfg.Store.Driver != "sqlite" {
				return fmt.Errorf("backup supports the sqlite driver only (store.driver=%s)", cfg.Store.Driver)
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("memoryagent-backup-%s.tar.gz", ts))
			}

			tmp, err := os.MkdirTemp("", "memoryagent-backup-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(tmp)

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			snapshot := filepath.Join(tmp, backupDBName)
			err = st.Snapshot(cmd.Context(), snapshot)
			st.Close()
			if err != nil {
				return err
			}

			members := map[string]string{
				backupDBName:     snapshot,
				backupConfigName: cfgPath,
			}
			if err := createTarGz(outputPath, members); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			for _, name := range []string{backupDBName, backupConfigName} {
				var size int64
				if info, err := os.Stat(members[name]); err == nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", name, humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.memoryagent/backups/memoryagent-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore the database and config file from a backup archive",
		Long: `Restores the SQLite database and configuration file from an archive
created by 'memoryagent backup'. The database goes to store.dsn of the
restored config. Stop the server first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				fmt.Printf("WARNING: This will overwrite existing data.\n")
				fmt.Printf("  Config: %s\n", cfgPath)
				fmt.Printf("Use --force to skip this warning.\n")
				return fmt.Errorf("restore aborted (use --force to proceed)")
			}

			tmp, err := os.MkdirTemp("", "memoryagent-restore-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(tmp)

			if err := extractTarGz(args[0], tmp); err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			// The database location comes from the archived config.
			cfg, err := config.Load(filepath.Join(tmp, backupConfigName))
			if err != nil {
				return fmt.Errorf("archived config: %w", err)
			}
			if cfg.Store.Driver != "sqlite" {
				return fmt.Errorf("archived config uses store.driver=%s", cfg.Store.Driver)
			}

			dbPath := cfg.Store.DSN
			for _, suffix := range []string{"-wal", "-shm"} {
				if err := os.Remove(dbPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}
			if err := copyFile(filepath.Join(tmp, backupDBName), dbPath, 0o644); err != nil {
				return err
			}
			if err := copyFile(filepath.Join(tmp, backupConfigName), cfgPath, 0o600); err != nil {
				return err
			}

			fmt.Printf("Restore completed from: %s\n", args[0])
			fmt.Printf("  - %s\n  - %s\n", dbPath, cfgPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// createTarGz writes members (archive name -> file path) to outputPath.
func createTarGz(outputPath string, members map[string]string) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)

	for name, path := range members {
		if err := addFileToTar(tarWriter, name, path); err != nil {
			return fmt.Errorf("add %s: %w", path, err)
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

func addFileToTar(tw *tar.Writer, name, path string) error {
	file, err := os.Open(path)
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
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz unpacks the known members of a backup archive into dir.
func extractTarGz(archivePath, dir string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	found := map[string]bool{}

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		name := filepath.Base(header.Name)
		if name != backupDBName && name != backupConfigName {
			continue
		}

		out, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tarReader); err != nil {
			out.Close()
			return fmt.Errorf("extract %s: %w", name, err)
		}
		if err := out.Close(); err != nil {
			return err
		}
		found[name] = true
	}

	var missing []string
	for _, name := range []string{backupDBName, backupConfigName} {
		if !found[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("archive is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return out.Close()
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
