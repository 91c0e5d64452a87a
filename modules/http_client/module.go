// Package http_client provides the "http" extension: outgoing HTTP requests
// and pre-signed URL uploads for scripts.
package http_client

import (
	"net/http"
	"time"

	"github.com/specialistvlad/actortheater/internal/interp"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultTimeout bounds a request whose script did not pass a timeout.
const DefaultTimeout = 30 * time.Second

// Module implements the app.Module interface. Client is used for every
// request when set; otherwise each interpreter gets its own client.
type Module struct {
	Client *http.Client
}

// Extension returns the "http" extension. The client is the only state and
// it is safe for concurrent use, so the extension is multi-interpreter safe.
func (m *Module) Extension() *interp.Extension {
	return &interp.Extension{
		Name:             "http",
		MultiInterpreter: true,
		Init: func() (starlark.StringDict, error) {
			c := &client{http: m.Client}
			if c.http == nil {
				c.http = &http.Client{}
			}
			return starlark.StringDict{
				"http": starlarkstruct.FromStringDict(starlark.String("http"), starlark.StringDict{
					"request": starlark.NewBuiltin("http.request", c.request),
					"get":     starlark.NewBuiltin("http.get", c.get),
					"upload":  starlark.NewBuiltin("http.upload", c.upload),
				}),
			}, nil
		},
	}
}

type client struct {
	http *http.Client
}

func timeoutOf(v starlark.Value) (time.Duration, error) {
	if v == starlark.None {
		return DefaultTimeout, nil
	}
	f, ok := starlark.AsFloat(v)
	if !ok || f <= 0 {
		return 0, errInvalidTimeout
	}
	return time.Duration(f * float64(time.Second)), nil
}
