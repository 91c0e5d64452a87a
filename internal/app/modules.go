package app

import (
	"github.com/specialistvlad/actortheater/internal/interp"
	"github.com/specialistvlad/actortheater/modules/env_vars"
	"github.com/specialistvlad/actortheater/modules/http_client"
)

// Module contributes an interpreter extension. Scripts reach it with load()
// once their isolation block lists its name.
type Module interface {
	Extension() *interp.Extension
}

// coreModules are registered with every runtime.
var coreModules = []Module{
	&env_vars.Module{},
	&http_client.Module{},
}

func moduleExtensions(modules []Module) []*interp.Extension {
	exts := make([]*interp.Extension, 0, len(modules))
	for _, m := range modules {
		exts = append(exts, m.Extension())
	}
	return exts
}
