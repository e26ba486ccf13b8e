package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"time"

	"arxiv-hype/config"
	"arxiv-hype/storage"

	"go.uber.org/zap"
)

const backupPrefix = "backup-"

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("Starte Backup-Prozess...")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Fehler beim Laden der Konfiguration", zap.Error(err))
	}
	if cfg.S3URL == "" || cfg.BackupBucket == "" {
		logger.Fatal("S3_URL und BACKUP_S3_BUCKET müssen gesetzt sein")
	}
	ctx := context.Background()

	// 1. Datenbank-Dump erstellen
	dumpData, err := createDump(ctx, cfg)
	if err != nil {
		logger.Fatal("Fehler beim Erstellen des DB-Dumps", zap.Error(err))
	}

	// 2. S3-Client erstellen
	s3Client, err := storage.NewS3Client(cfg)
	if err != nil {
		logger.Fatal("Fehler beim Erstellen des S3-Clients", zap.Error(err))
	}

	// 3. Backup nach S3 hochladen
	fileName := fmt.Sprintf("%s%s.sql.gz", backupPrefix, time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	if err := storage.UploadFile(ctx, s3Client, cfg.BackupBucket, fileName, dumpData, "application/gzip"); err != nil {
		logger.Fatal("Fehler beim Hochladen nach S3", zap.Error(err))
	}
	logger.Info("Backup hochgeladen", zap.String("bucket", cfg.BackupBucket), zap.String("key", fileName), zap.Int("bytes", len(dumpData)))

	// 4. Alte Backups rotieren
	deleted, err := storage.Rotate(ctx, s3Client, cfg.BackupBucket, backupPrefix, cfg.KeepBackups, logger)
	if err != nil {
		logger.Fatal("Fehler bei der Rotation alter Backups", zap.Error(err))
	}
	logger.Info("Backup-Prozess erfolgreich abgeschlossen.", zap.Int("rotated", deleted))
}

func createDump(ctx context.Context, cfg *config.Config) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "pg_dump",
		"-h", cfg.DBHost,
		"-p", strconv.Itoa(cfg.DBPort),
		"-U", cfg.DBUser,
		"-d", cfg.DBName,
		"-w", // Passwort wird über PGPASSWORD bereitgestellt
	)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", cfg.DBPassword))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	if _, err := io.Copy(gzipWriter, stdout); err != nil {
		return nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
