package http_client

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/specialistvlad/actortheater/internal/ctxlog"
	"github.com/specialistvlad/actortheater/internal/interp"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// upload(url, path, timeout=None) PUTs a local file to a pre-signed URL such
// as the ones S3 issues. Any non-2xx response is an error.
func (c *client) upload(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		url, path string
		timeout   starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "url", &url, "path", &path, "timeout?", &timeout); err != nil {
		return nil, err
	}
	d, err := timeoutOf(timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	ctx, cancel := context.WithTimeout(interp.Context(th), d)
	defer cancel()
	logger := ctxlog.FromContext(ctx).With("action", "upload")

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open source file '%s': %w", b.Name(), path, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get file stats for '%s': %w", b.Name(), path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, file)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create upload request: %w", b.Name(), err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = stat.Size()

	logger.Info("Uploading file.", "source", path, "size", stat.Size(), "content_type", contentType)

	var resp *http.Response
	interp.Blocking(th, func() {
		resp, err = c.http.Do(req)
		if err == nil {
			resp.Body.Close()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to execute upload request: %w", b.Name(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: upload failed with status: %s", b.Name(), resp.Status)
	}

	logger.Info("Successfully uploaded file.", "status", resp.Status)
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"status_code": starlark.MakeInt(resp.StatusCode),
		"status":      starlark.String(resp.Status),
	}), nil
}
