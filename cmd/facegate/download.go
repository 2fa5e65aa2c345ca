package main

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/MrCodeEU/facegate/pkg/config"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/recognition"
	"github.com/google/renameio"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// modelBaseURL serves the bzip2-compressed dlib models.
var modelBaseURL = "http://dlib.net/files/"

var downloadCmd = &cobra.Command{
	Use:   "download-models [dir]",
	Short: "Download the dlib models used for recognition",
	Long: `Download the dlib face detection, landmark and recognition models into
the configured model directory, or into dir when given. Models already
present are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().Bool("force", false, "Download models even if they already exist")
}

func runDownload(cmd *cobra.Command, args []string) error {
	modelDir := config.DefaultConfig().Recognition.ModelPath
	if len(args) > 0 {
		modelDir = args[0]
	} else if cfg, err := loadConfig(); err == nil {
		modelDir = cfg.Recognition.ModelPath
	}
	force := mustGetBool(cmd, "force")

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	logging.Infof("Downloading models to: %s", modelDir)

	client := &http.Client{Timeout: 10 * time.Minute}
	out := cmd.OutOrStdout()
	for _, name := range recognition.ModelFiles {
		target := filepath.Join(modelDir, name)
		if _, err := os.Stat(target); err == nil && !force {
			fmt.Fprintf(out, "%s already present, skipping\n", name)
			continue
		}

		if err := downloadModel(cmd.Context(), client, modelBaseURL+name+".bz2", target); err != nil {
			return fmt.Errorf("failed to download %s: %w", name, err)
		}
		fmt.Fprintf(out, "Downloaded %s\n", name)
	}

	return recognition.VerifyModels(modelDir)
}

// downloadModel fetches a bzip2 file and decompresses it into target. The
// target is only replaced once the whole file has been written.
func downloadModel(ctx context.Context, client *http.Client, url, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	pending, err := renameio.TempFile(filepath.Dir(target), target)
	if err != nil {
		return err
	}
	defer func() { _ = pending.Cleanup() }()

	bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(target))
	body := io.TeeReader(resp.Body, bar)
	if _, err := io.Copy(pending, bzip2.NewReader(body)); err != nil {
		return err
	}
	_ = bar.Finish()

	if err := pending.Chmod(0644); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}
