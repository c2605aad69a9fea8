package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/plugmesh/plugmesh/internal/core/comm"
	"github.com/plugmesh/plugmesh/internal/core/comm/core"
	"github.com/plugmesh/plugmesh/internal/core/observability/log"
	"github.com/plugmesh/plugmesh/pkg/variant"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg := comm.DefaultConfig()
	if *cfgPath != "" {
		f, err := os.Open(*cfgPath)
		if err != nil {
			fmt.Println("Error opening config:", err)
			os.Exit(1)
		}
		cfg, err = comm.LoadYAML(f)
		_ = f.Close()
		if err != nil {
			fmt.Println("Error loading config:", err)
			os.Exit(1)
		}
	}

	lg := log.New(log.LevelInfo)
	c, err := core.New(cfg, lg)
	if err != nil {
		fmt.Println("Error building core:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	// Built-in echo service so hosts can smoke-test the request path.
	_ = c.Services.Register("core.echo", func(_ context.Context, req variant.Value) (variant.Value, error) {
		return req, nil
	})
	_ = c.Services.Register("core.stats", func(_ context.Context, _ variant.Value) (variant.Value, error) {
		snap := c.Stats()
		return variant.NewObject(map[string]variant.Value{
			"published": variant.NewInt(int64(snap.Bus.MessagesPublished)),
			"delivered": variant.NewInt(int64(snap.Bus.MessagesDelivered)),
			"events":    variant.NewInt(int64(snap.Events.EventsPublished)),
		}), nil
	})

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	lg.Info("communication core started")
	<-stopCh
	cancel()
	if err = c.Close(); err != nil {
		fmt.Println("Error stopping core:", err)
	}
}
