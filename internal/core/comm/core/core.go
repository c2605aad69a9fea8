// Package core assembles the communication components into one explicitly
// constructed object. Nothing here is a package-level singleton: the host
// builds a Core and hands it to every plugin-facing surface that needs it.
package core

import (
	"context"
	"sync"

	"github.com/plugmesh/plugmesh/internal/core/comm"
	"github.com/plugmesh/plugmesh/internal/core/comm/bus"
	"github.com/plugmesh/plugmesh/internal/core/comm/contract"
	"github.com/plugmesh/plugmesh/internal/core/comm/events"
	"github.com/plugmesh/plugmesh/internal/core/comm/service"
	"github.com/plugmesh/plugmesh/internal/core/observability/log"
)

// Core bundles the message bus, the typed event system, the request/response
// layer and the contract registry behind one lifecycle.
type Core struct {
	cfg comm.Config
	lg  log.Log

	Bus       *bus.Bus
	Events    *events.System
	Services  *service.Registry
	Contracts *contract.Registry
	Journal   *comm.Journal

	startOnce sync.Once
	closeOnce sync.Once
}

// New builds a Core from a config and a logger. The journal is shared by the
// bus and the event system and stays empty unless enabled in the config.
func New(cfg comm.Config, lg log.Log) (*Core, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lg == nil {
		lg = log.Nop()
	}
	journal := comm.NewJournal(cfg.JournalSize, cfg.EnableJournal)
	return &Core{
		cfg:       cfg,
		lg:        lg,
		Bus:       bus.New(cfg, lg, journal),
		Events:    events.New(cfg, lg, journal),
		Services:  service.NewRegistry(cfg, lg),
		Contracts: contract.NewRegistry(lg),
		Journal:   journal,
	}, nil
}

// Start launches the background loops: the bus sweep, the event tick
// coordinator and the request timeout sweep.
func (c *Core) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.Bus.Start(ctx)
		c.Events.Start(ctx)
		c.Services.Start(ctx)
	})
}

// Close shuts the background loops down and waits for in-flight work.
func (c *Core) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.Bus.Close()
		if e := c.Events.Close(); err == nil {
			err = e
		}
		if e := c.Services.Close(); err == nil {
			err = e
		}
	})
	return err
}

// Snapshot is the combined observability surface.
type Snapshot struct {
	Bus    bus.StatsSnapshot    `json:"bus"`
	Events events.StatsSnapshot `json:"events"`
}

// Stats returns a point-in-time snapshot across components.
func (c *Core) Stats() Snapshot {
	return Snapshot{Bus: c.Bus.Stats(), Events: c.Events.Stats()}
}
