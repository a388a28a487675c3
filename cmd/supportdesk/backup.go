package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"supportdesk/internal/config"
	"supportdesk/internal/domain"
	"supportdesk/internal/store"

	"github.com/spf13/cobra"
)

// Archive entry names.
const (
	manifestEntry = "manifest.json"
	databaseEntry = "supportdesk.db"
)

// backupManifest describes an archive. It is written first so restore can
// report what it is about to install.
type backupManifest struct {
	AppVersion    string         `json:"app_version"`
	SchemaVersion int            `json:"schema_version"`
	CreatedAt     time.Time      `json:"created_at"`
	Tickets       map[string]int `json:"tickets"`
	ConfigFile    string         `json:"config_file,omitempty"`
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the ticket database and config into an archive",
		Long: `Writes a .tar.gz archive holding a consistent snapshot of the ticket
database (taken with VACUUM INTO, safe while 'supportdesk serve' is running),
the config file and a manifest.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath := resolveDBPath(cfgPath)
			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("no ticket database at %s: %w", dbPath, err)
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("supportdesk-backup-%s.tar.gz", ts))
			}

			st, err := store.NewSQLiteStore(dbPath, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			m, err := createBackup(cmd.Context(), st, cfgPath, outputPath)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			size := int64(0)
			if info, err := os.Stat(outputPath); err == nil {
				size = info.Size()
			}
			fmt.Printf("Backup created: %s (%s)\n", outputPath, humanSize(size))
			fmt.Printf("Schema: v%d\n", m.SchemaVersion)
			fmt.Printf("Tickets: %s\n", formatCounts(m.Tickets))
			if m.ConfigFile != "" {
				fmt.Printf("Config: %s\n", m.ConfigFile)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.supportdesk/backups/supportdesk-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var inputPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the ticket database and config from a backup archive",
		Long: `Restores the ticket database and config file from an archive created by
'supportdesk backup'. The database snapshot is checked before anything is
replaced. Stop 'supportdesk serve' first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" && len(args) > 0 {
				inputPath = args[0]
			}
			if inputPath == "" {
				return fmt.Errorf("specify a backup file: supportdesk restore <file.tar.gz>")
			}

			cfgPath := resolveConfigPath()
			dbPath := resolveDBPath(cfgPath)

			if !force {
				_, dbErr := os.Stat(dbPath)
				_, cfgErr := os.Stat(cfgPath)
				if dbErr == nil || cfgErr == nil {
					fmt.Printf("WARNING: This will overwrite existing data.\n")
					fmt.Printf("  Database: %s\n", dbPath)
					fmt.Printf("  Config:   %s\n", cfgPath)
					fmt.Printf("Use --force to skip this warning.\n")
					return fmt.Errorf("restore aborted (use --force to proceed)")
				}
			}

			res, err := restoreArchive(inputPath, dbPath, cfgPath)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", inputPath)
			if res.Manifest != nil {
				fmt.Printf("Backup taken: %s by supportdesk %s\n",
					res.Manifest.CreatedAt.Format(time.RFC3339), res.Manifest.AppVersion)
				fmt.Printf("Tickets: %s\n", formatCounts(res.Manifest.Tickets))
			}
			if res.SchemaVersion < store.LatestSchemaVersion() {
				fmt.Printf("Schema: v%d (migrates to v%d on next start)\n", res.SchemaVersion, store.LatestSchemaVersion())
			} else {
				fmt.Printf("Schema: v%d\n", res.SchemaVersion)
			}
			for _, f := range res.Files {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "backup file to restore from")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// resolveDBPath reads store.dbPath from the config file, falling back to the
// default location when the config cannot be loaded.
func resolveDBPath(cfgPath string) string {
	if cfg, err := config.Load(cfgPath); err == nil {
		return cfg.Store.DBPath
	}
	return config.ExpandPath(config.Defaults().Store.DBPath)
}

// createBackup snapshots st and writes manifest, database and config (when
// present) to outputPath.
func createBackup(ctx context.Context, st *store.SQLiteStore, cfgPath, outputPath string) (*backupManifest, error) {
	stage, err := os.MkdirTemp("", "supportdesk-backup-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(stage)

	snapshot := filepath.Join(stage, databaseEntry)
	if err := st.Snapshot(ctx, snapshot); err != nil {
		return nil, err
	}
	ver, err := st.SchemaVersion()
	if err != nil {
		return nil, fmt.Errorf("schema version: %w", err)
	}
	counts, err := st.CountTicketsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	m := &backupManifest{
		AppVersion:    version,
		SchemaVersion: ver,
		CreatedAt:     time.Now().UTC(),
		Tickets:       make(map[string]int, len(counts)),
	}
	for status, n := range counts {
		m.Tickets[string(status)] = n
	}
	if _, err := os.Stat(cfgPath); err == nil {
		m.ConfigFile = filepath.Base(cfgPath)
	}

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return nil, err
	}
	defer out.Close()
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	if err := writeTarBytes(tw, manifestEntry, manifest, m.CreatedAt); err != nil {
		return nil, err
	}
	if err := writeTarFile(tw, databaseEntry, snapshot); err != nil {
		return nil, err
	}
	if m.ConfigFile != "" {
		if err := writeTarFile(tw, m.ConfigFile, cfgPath); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return m, out.Close()
}

func writeTarBytes(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o600, Size: int64(len(data)), ModTime: modTime}); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

func writeTarFile(tw *tar.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
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
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	return nil
}

type restoreResult struct {
	Manifest      *backupManifest
	SchemaVersion int
	Files         []string
}

// restoreArchive stages the archive next to its targets, checks the database
// snapshot, then swaps the staged files into place. Nothing is replaced when
// the snapshot is missing or unusable.
func restoreArchive(archivePath, dbPath, cfgPath string) (*restoreResult, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gz.Close()

	for _, p := range []string{dbPath, cfgPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, err
		}
	}
	stagedDB := dbPath + ".restore"
	stagedCfg := cfgPath + ".restore"
	defer os.Remove(stagedDB)
	defer os.Remove(stagedCfg)

	res := &restoreResult{}
	var haveDB, haveCfg bool
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		name := filepath.Base(header.Name)
		switch {
		case name == manifestEntry:
			var m backupManifest
			if err := json.NewDecoder(tr).Decode(&m); err != nil {
				return nil, fmt.Errorf("read manifest: %w", err)
			}
			res.Manifest = &m
		case name == databaseEntry:
			if err := stageFile(tr, stagedDB); err != nil {
				return nil, err
			}
			haveDB = true
		case isConfigName(name, cfgPath):
			if err := stageFile(tr, stagedCfg); err != nil {
				return nil, err
			}
			haveCfg = true
		}
	}
	if !haveDB {
		return nil, fmt.Errorf("archive has no %s", databaseEntry)
	}

	ver, err := store.SnapshotVersion(stagedDB)
	if err != nil {
		return nil, err
	}
	if err := store.CheckRestorable(ver); err != nil {
		return nil, err
	}
	res.SchemaVersion = ver

	// WAL files from the replaced database would be replayed onto the snapshot.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := os.Rename(stagedDB, dbPath); err != nil {
		return nil, err
	}
	res.Files = append(res.Files, dbPath)
	if haveCfg {
		if err := os.Rename(stagedCfg, cfgPath); err != nil {
			return nil, err
		}
		res.Files = append(res.Files, cfgPath)
	}
	return res, nil
}

func isConfigName(name, cfgPath string) bool {
	return name == filepath.Base(cfgPath) || name == "config.json" || name == "config.yaml" || name == "config.yml"
}

func stageFile(r io.Reader, path string) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", path, err)
	}
	return out.Close()
}

func formatCounts(counts map[string]int) string {
	parts := make([]string, 0, len(counts))
	total := 0
	for _, s := range domain.AllStatuses {
		parts = append(parts, fmt.Sprintf("%s=%d", s, counts[string(s)]))
		total += counts[string(s)]
	}
	return fmt.Sprintf("%d (%s)", total, strings.Join(parts, " "))
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
