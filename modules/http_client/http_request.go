package http_client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/specialistvlad/actortheater/internal/ctxlog"
	"github.com/specialistvlad/actortheater/internal/interp"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

var errInvalidTimeout = errors.New("timeout must be a positive number of seconds")

// request(method, url, body=None, headers=None, timeout=None) performs a
// request and returns struct(status_code, status, body, headers).
func (c *client) request(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		method, url string
		body        starlark.Value = starlark.None
		headers     *starlark.Dict
		timeout     starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"method", &method, "url", &url, "body?", &body, "headers?", &headers, "timeout?", &timeout); err != nil {
		return nil, err
	}
	return c.do(th, b, strings.ToUpper(method), url, body, headers, timeout)
}

// get(url, headers=None, timeout=None) is request("GET", ...).
func (c *client) get(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		url     string
		headers *starlark.Dict
		timeout starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "url", &url, "headers?", &headers, "timeout?", &timeout); err != nil {
		return nil, err
	}
	return c.do(th, b, http.MethodGet, url, starlark.None, headers, timeout)
}

func (c *client) do(th *starlark.Thread, b *starlark.Builtin, method, url string, body starlark.Value, headers *starlark.Dict, timeout starlark.Value) (starlark.Value, error) {
	d, err := timeoutOf(timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	var reader io.Reader
	if body != starlark.None {
		s, ok := starlark.AsString(body)
		if !ok {
			return nil, fmt.Errorf("%s: body: got %s, want string", b.Name(), body.Type())
		}
		reader = strings.NewReader(s)
	}

	ctx, cancel := context.WithTimeout(interp.Context(th), d)
	defer cancel()
	logger := ctxlog.FromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", b.Name(), err)
	}
	if err := setHeaders(req, headers); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	logger.Debug("Making HTTP request.", "method", method, "url", url)
	var (
		resp      *http.Response
		bodyBytes []byte
	)
	interp.Blocking(th, func() {
		resp, err = c.http.Do(req)
		if err != nil {
			return
		}
		defer resp.Body.Close()
		bodyBytes, err = io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to execute request: %w", b.Name(), err)
	}
	logger.Debug("Received HTTP response.", "status", resp.Status)

	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"status_code": starlark.MakeInt(resp.StatusCode),
		"status":      starlark.String(resp.Status),
		"body":        starlark.String(bodyBytes),
		"headers":     headerDict(resp.Header),
	}), nil
}

func setHeaders(req *http.Request, headers *starlark.Dict) error {
	if headers == nil {
		return nil
	}
	for _, item := range headers.Items() {
		k, ok1 := starlark.AsString(item[0])
		v, ok2 := starlark.AsString(item[1])
		if !ok1 || !ok2 {
			return fmt.Errorf("headers: got %s: %s, want string: string", item[0].Type(), item[1].Type())
		}
		req.Header.Set(k, v)
	}
	return nil
}

func headerDict(h http.Header) *starlark.Dict {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := starlark.NewDict(len(keys))
	for _, k := range keys {
		_ = d.SetKey(starlark.String(strings.ToLower(k)), starlark.String(strings.Join(h[k], ", ")))
	}
	return d
}
