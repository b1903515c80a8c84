package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"nyiyui.ca/hato/shingou/config"
	"nyiyui.ca/hato/shingou/journal"
	"nyiyui.ca/hato/shingou/kujo"
	"nyiyui.ca/hato/shingou/monitor"
	"nyiyui.ca/hato/shingou/panel"
	"nyiyui.ca/hato/shingou/preset"
	"nyiyui.ca/hato/shingou/runtime"
	"nyiyui.ca/hato/shingou/sakuragi"
	"nyiyui.ca/hato/shingou/sim"
)

func main() {
	defer zap.S().Sync()
	level := zap.LevelFlag("log-level", zap.DebugLevel, "set log level")
	confPath := flag.String("config", "shingou.json", "path to config file (optional)")
	presetName := flag.String("preset", "", fmt.Sprintf("preset to run, one of %v", preset.Names()))
	listen := flag.String("listen", "", "address to serve sakuragi and kujo on")
	journalPath := flag.String("journal", "", "path to journal database")
	simEnabled := flag.Bool("sim", false, "run trains in the simulator")
	monitorEnabled := flag.Bool("monitor", false, "show the terminal monitor")
	flag.Parse()
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(*level)
	dev, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(dev)

	conf, err := config.Load(*confPath)
	if err != nil {
		zap.S().Fatalf("config: %s", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "preset":
			conf.Preset = *presetName
		case "listen":
			conf.Listen = *listen
		case "journal":
			conf.Journal = *journalPath
		case "sim":
			conf.Sim.Enabled = *simEnabled
		case "monitor":
			conf.Monitor = *monitorEnabled
		}
	})
	if err = conf.Check(); err != nil {
		zap.S().Fatalf("config: %s", err)
	}
	if conf.Monitor {
		// the monitor owns the terminal
		cfg.OutputPaths = []string{"shingou.log"}
		cfg.ErrorOutputPaths = []string{"shingou.log"}
		dev, err = cfg.Build()
		if err != nil {
			panic(err)
		}
		zap.ReplaceGlobals(dev)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	err = run(ctx, conf)
	if err != nil {
		zap.S().Fatalf("%s", err)
	}
}

func run(ctx context.Context, conf config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pr, err := preset.Lookup(conf.Preset)
	if err != nil {
		return err
	}
	zap.S().Infof("building %s…", conf.Preset)
	p := pr.Build()
	defer p.Close()

	if conf.Journal != "" {
		j, err := journal.Open(conf.Journal)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer j.Close()
		err = j.Restore(p)
		if err != nil {
			return fmt.Errorf("journal restore: %w", err)
		}
		j.Attach(p)
	}

	zap.S().Infof("starting runtime…")
	rt := runtime.NewInstance(conf.Backlog)
	go rt.Run(ctx)
	snapshot := func(ctx context.Context) (panel.Snapshot, error) {
		var s panel.Snapshot
		err := rt.Do(ctx, "snapshot", func() error {
			s = p.Snapshot()
			return nil
		})
		return s, err
	}

	zap.S().Infof("starting kujo…")
	k := kujo.NewServer(p.EventsMux, snapshot, time.Duration(conf.Snapshot))
	go k.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/events", k)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", sakuragi.New(sakuragi.Conf{Panel: p, Runtime: rt}))
	server := &http.Server{
		Addr:    conf.Listen,
		Handler: cors.New(cors.Options{AllowedOrigins: conf.Origins}).Handler(mux),
	}
	go func() {
		zap.S().Infow("serving", "addr", conf.Listen)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Errorw("serve failed", "err", err)
			cancel()
		}
	}()

	if conf.Sim.Enabled {
		zap.S().Infof("starting simulation…")
		s := sim.New(p, pr.SimulationConf(conf.Sim.Length))
		for i := 0; i < conf.Sim.Trains; i++ {
			s.AddTrain(fmt.Sprintf("sim%d", i))
		}
		go func() {
			err := s.Run(ctx, rt, time.Duration(conf.Sim.Step))
			if err != nil && !errors.Is(err, context.Canceled) {
				zap.S().Errorw("simulation failed", "err", err)
			}
		}()
	}

	var monitorErr error
	if conf.Monitor {
		monitorErr = monitor.Run(ctx, monitor.Conf{
			Snapshot: snapshot,
			Interval: time.Duration(conf.Snapshot),
			Stop:     "R",
		})
		cancel()
	}
	<-ctx.Done()

	zap.S().Infof("shutting down…")
	// Shutdown waits on open event streams
	k.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	err = server.Shutdown(shutdownCtx)
	if monitorErr != nil {
		return fmt.Errorf("monitor: %w", monitorErr)
	}
	return err
}
