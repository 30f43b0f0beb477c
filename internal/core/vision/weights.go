package vision

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	perr "printguard/internal/platform/errors"
	"printguard/internal/platform/logger"
)

// EnsureWeights downloads the model file from url when path does not exist.
// A no-op when the file is already present or url is empty
func EnsureWeights(ctx context.Context, path, url string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if url == "" {
		return perr.Configf("model %s missing and no download URL configured", path)
	}

	log := logger.Named("vision")
	log.Info().Str("path", path).Str("url", url).Msg("model missing, downloading")

	client := &http.Client{Timeout: 5 * time.Minute}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeConfig, "build weights request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeFetch, "download weights from %s", url)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return perr.Fetchf("download weights from %s: http %d", url, resp.StatusCode)
	}

	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeConfig, "create %s", tmp)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return perr.Wrapf(err, perr.ErrorCodeFetch, "write weights")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return perr.Wrapf(err, perr.ErrorCodeConfig, "close %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeConfig, "move weights into place")
	}

	log.Info().Str("path", path).Msg("model downloaded")
	return nil
}
