// Package check implements the offline annotate command: it runs the
// detection pipeline on local image files and writes annotated copies. It
// never touches moderation state.
package check

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/nailong-guard/internal/conf"
	"github.com/tphakala/nailong-guard/internal/detection"
	"github.com/tphakala/nailong-guard/internal/guard"
	"github.com/tphakala/nailong-guard/internal/imagecodec"
)

// Command creates the check command.
func Command(settings *conf.Settings) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "check [image...]",
		Short: "Annotate local images",
		Long:  "Run detection on local image files and write <name>-annotated.png next to each input or into --output.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inf, err := guard.NewInferencer(settings)
			if err != nil {
				return err
			}
			det, err := detection.New(inf, guard.DetectorConfig(settings))
			if err != nil {
				_ = inf.Close()
				return err
			}
			defer func() { _ = det.Close() }()

			return Run(cmd.Context(), det, afero.NewOsFs(), args, outDir, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&outDir, "output", "o", "", "Directory for annotated images")
	cmd.Flags().Float32("trigger", 0, "Override the confidence a detection needs to qualify")
	_ = viper.BindPFlag("detector.trigger", cmd.Flags().Lookup("trigger"))

	return cmd
}

// Run annotates each path and reports the highest confidence per file to w.
// Unreadable or undecodable files are reported and skipped; the returned
// error counts them.
func Run(ctx context.Context, det *detection.Detector, fs afero.Fs, paths []string, outDir string, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	failed := 0
	for _, path := range paths {
		out, score, err := annotateFile(ctx, det, fs, path, outDir)
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s: %v\n", path, err)
			continue
		}
		verdict := "clean"
		if det.Qualifies(score) {
			verdict = "nailong"
		}
		fmt.Fprintf(w, "%s: %s %.2f -> %s\n", path, verdict, score, out)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(paths))
	}
	return nil
}

func annotateFile(ctx context.Context, det *detection.Detector, fs afero.Fs, path, outDir string) (string, float32, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", 0, err
	}
	img, _, err := imagecodec.Decode(data)
	if err != nil {
		return "", 0, err
	}
	annotated, confidence, err := det.Annotate(ctx, img)
	if err != nil {
		return "", 0, err
	}

	var buf bytes.Buffer
	if err := imagecodec.EncodePNG(&buf, annotated); err != nil {
		return "", 0, err
	}

	dir := outDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", 0, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(dir, base+"-annotated.png")
	if err := afero.WriteFile(fs, out, buf.Bytes(), 0o644); err != nil {
		return "", 0, err
	}
	return out, confidence, nil
}
