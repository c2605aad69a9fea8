//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/plugmesh/plugmesh/internal/core/comm"
	"github.com/plugmesh/plugmesh/internal/core/comm/core"
	"github.com/plugmesh/plugmesh/internal/core/observability/log"
)

func ProvideLogger() *log.Logger {
	wire.Build(log.Provide)
	return log.New(log.LevelDebug)
}

func ProvideCore() (*core.Core, error) {
	wire.Build(
		comm.DefaultConfig,
		wire.Bind(new(log.Log), new(*log.Logger)),
		log.Provide,
		core.New,
	)
	return nil, nil
}
