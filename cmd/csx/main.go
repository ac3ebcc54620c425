// Command csx drives a computational storage device over NVMe vendor admin
// commands: inspect it, run its functions and relay TCP streams through it.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
	"go.uber.org/multierr"

	csx "github.com/ehrlich-b/go-csx"
	"github.com/ehrlich-b/go-csx/internal/logging"
	"github.com/ehrlich-b/go-csx/sim"
)

// env is what every command shares: configuration, logging and metrics
type env struct {
	cfg     config
	logger  *logging.Logger
	metrics *csx.Metrics
	sim     *sim.Device
	server  *http.Server
}

var app = &env{}

func main() {
	a := cli.NewApp()
	a.Name = "csx"
	a.Usage = "computational storage over NVMe vendor admin commands"
	a.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "TOML configuration file",
		},
		cli.StringFlag{
			Name:  "device, d",
			Value: defaultConfig().Device,
			Usage: "device node of the computational storage controller",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "text or json",
		},
		cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "serve Prometheus metrics on this address",
		},
		cli.BoolFlag{
			Name:  "user-space-compute",
			Usage: "run compute requests through the user space path",
		},
		cli.BoolFlag{
			Name:  "simulate",
			Usage: "use an in-memory simulated device",
		},
		cli.BoolFlag{
			Name: "debug",
		},
	}
	a.Before = app.setup
	a.After = app.teardown
	a.Commands = []cli.Command{
		InfoCmd(),
		ChecksumCmd(),
		SleepCmd(),
		RelayCmd(),
		AllocCmd(),
	}
	if err := a.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "csx: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfig layers defaults, the config file and then global flags
func resolveConfig(c *cli.Context) (config, error) {
	cfg := defaultConfig()
	if path := c.GlobalString("config"); path != "" {
		var err error
		if cfg, err = loadConfig(path, cfg); err != nil {
			return config{}, err
		}
	}

	if c.GlobalIsSet("device") {
		cfg.Device = c.GlobalString("device")
	}
	if c.GlobalIsSet("log-level") {
		cfg.LogLevel = c.GlobalString("log-level")
	}
	if c.GlobalBool("debug") {
		cfg.LogLevel = "debug"
	}
	if c.GlobalIsSet("log-format") {
		cfg.LogFormat = c.GlobalString("log-format")
	}
	if c.GlobalIsSet("metrics-addr") {
		cfg.MetricsAddr = c.GlobalString("metrics-addr")
	}
	if c.GlobalIsSet("user-space-compute") {
		cfg.UserSpaceCompute = c.GlobalBool("user-space-compute")
	}
	return cfg, nil
}

func (e *env) setup(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}
	e.cfg = cfg

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	e.logger = logging.NewLogger(&logging.Config{
		Level:  level,
		Format: cfg.LogFormat,
		Output: os.Stderr,
		Sync:   true,
	})
	logging.SetDefault(e.logger)

	e.metrics = csx.NewMetrics()
	if c.GlobalBool("simulate") {
		simCfg := sim.DefaultConfig()
		simCfg.Logger = e.logger
		e.sim = sim.New(simCfg)
		e.logger.Info("using simulated device")
	}

	if cfg.MetricsAddr != "" {
		e.serveMetrics(cfg.MetricsAddr, cfg.Device)
	}
	return nil
}

func (e *env) serveMetrics(addr, device string) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(csx.NewPrometheusCollector(device, e.metrics))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	e.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	e.logger.Info("serving metrics", "addr", addr)
}

func (e *env) teardown(*cli.Context) error {
	var err error
	if e.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = multierr.Append(err, e.server.Shutdown(ctx))
		cancel()
	}
	if e.sim != nil {
		err = multierr.Append(err, e.sim.Close())
	}
	return err
}

// options builds device options for the selected backend
func (e *env) options() *csx.Options {
	o := csx.DefaultOptions()
	o.Channel.UserSpaceCompute = e.cfg.UserSpaceCompute
	o.Logger = e.logger
	o.Observer = csx.NewMetricsObserver(e.metrics)
	if e.sim != nil {
		o.Open = e.sim.Opener()
		o.Mapper = e.sim
	}
	return o
}

// openDevice resolves the configured device and opens it
func (e *env) openDevice(ctx context.Context) (*csx.Device, error) {
	opts := e.options()
	name, err := csx.Resolve(ctx, e.cfg.Device, opts)
	if err != nil {
		return nil, fmt.Errorf("no computational storage device at %s: %w", e.cfg.Device, err)
	}
	dev, err := csx.Open(ctx, name, opts)
	if err != nil {
		return nil, fmt.Errorf("could not access device %s: %w", name, err)
	}
	return dev, nil
}

// closeDevice folds a close failure into err
func closeDevice(dev *csx.Device, err *error) {
	*err = multierr.Append(*err, dev.Close())
}

// freeMem folds an unmap failure into err
func freeMem(ctx context.Context, dev *csx.Device, a *csx.Allocation, err *error) {
	*err = multierr.Append(*err, dev.FreeMem(ctx, a))
}
