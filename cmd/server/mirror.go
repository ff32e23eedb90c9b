package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"zoneserver.ai/internal/persistence/r2s3"
)

// buildMirror returns nil unless ZS_MIRROR is set. The second result is the log rotation
// layout to use while mirroring: one-minute segments keep the unmirrored tail short.
func buildMirror(dataDir string, logger *slog.Logger) (*r2s3.Mirror, string, error) {
	if !envBool("ZS_MIRROR", false) {
		return nil, "", nil
	}
	cfg := r2s3.Config{
		Endpoint:        strings.TrimSpace(os.Getenv("ZS_MIRROR_ENDPOINT")),
		Bucket:          strings.TrimSpace(os.Getenv("ZS_MIRROR_BUCKET")),
		Region:          strings.TrimSpace(os.Getenv("ZS_MIRROR_REGION")),
		AccessKeyID:     strings.TrimSpace(os.Getenv("ZS_MIRROR_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("ZS_MIRROR_SECRET_ACCESS_KEY")),
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, "", fmt.Errorf("ZS_MIRROR=true but ZS_MIRROR_ENDPOINT/ZS_MIRROR_BUCKET/ZS_MIRROR_ACCESS_KEY_ID/ZS_MIRROR_SECRET_ACCESS_KEY are not fully set")
	}
	client, err := r2s3.NewClient(cfg)
	if err != nil {
		return nil, "", err
	}
	m := r2s3.NewMirror(client, dataDir, r2s3.MirrorOptions{
		Prefix:           strings.TrimSpace(os.Getenv("ZS_MIRROR_PREFIX")),
		Workers:          envInt("ZS_MIRROR_WORKERS", 2),
		UploadsPerSecond: float64(envInt("ZS_MIRROR_UPLOADS_PER_SEC", 0)),
	}, logger)
	logger.Info("object store mirror enabled", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return m, "2006-01-02-15-04", nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
