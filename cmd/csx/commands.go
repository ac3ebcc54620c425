package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/urfave/cli"

	csx "github.com/ehrlich-b/go-csx"
)

func InfoCmd() cli.Command {
	return cli.Command{
		Name:   "info",
		Usage:  "print device properties and capabilities",
		Action: app.info,
	}
}

func ChecksumCmd() cli.Command {
	return cli.Command{
		Name:  "checksum",
		Usage: "checksum a file on the device",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "file, f",
				Value: "test.bin",
			},
			cli.IntFlag{
				Name:  "iterations, i",
				Value: 1,
			},
		},
		Action: app.checksum,
	}
}

func SleepCmd() cli.Command {
	return cli.Command{
		Name:  "sleep",
		Usage: "run the device sleep function",
		Flags: []cli.Flag{
			cli.UintFlag{
				Name:  "length, l",
				Usage: "sleep length in milliseconds",
			},
		},
		Action: app.sleep,
	}
}

func RelayCmd() cli.Command {
	return cli.Command{
		Name:  "relay",
		Usage: "forward local TCP connections through a device relay",
		Flags: []cli.Flag{
			cli.IntFlag{
				Name:  "port, p",
				Value: csx.DefaultListenPort,
				Usage: "local port to accept on",
			},
			cli.StringFlag{
				Name:  "node, N",
				Value: csx.DefaultRelayNode,
				Usage: "host the device connects to",
			},
			cli.StringFlag{
				Name:  "service, P",
				Value: csx.DefaultRelayService,
				Usage: "port the device connects to",
			},
			cli.BoolTFlag{
				Name:  "once",
				Usage: "stop after the first session",
			},
		},
		Action: app.relay,
	}
}

func AllocCmd() cli.Command {
	return cli.Command{
		Name:  "alloc",
		Usage: "allocate, map and free device memory",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "size",
				Value: "64k",
			},
		},
		Action: app.alloc,
	}
}

func (e *env) info(c *cli.Context) (err error) {
	ctx := context.Background()
	dev, err := e.openDevice(ctx)
	if err != nil {
		return err
	}
	defer closeDevice(dev, &err)

	props, err := dev.QueryProperties(ctx)
	if err != nil && props == nil {
		return fmt.Errorf("could not query device properties: %w", err)
	}
	if err != nil {
		e.logger.Warn("property block truncated", "error", err)
	}
	if err := csx.WriteProperties(os.Stdout, props); err != nil {
		return err
	}
	fmt.Printf("Function data memory : %s\n", units.BytesSize(float64(props.FDMinMB)*units.MiB))
	fmt.Printf("Compute memory : %s\n", units.BytesSize(float64(props.CFMinMB)*units.MiB))

	caps, err := dev.QueryCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("could not query device capabilities: %w", err)
	}
	return csx.WriteCapabilities(os.Stdout, caps)
}

// checkFunctions prints the properties and fails when the first engine has
// no built-in functions.
func (e *env) checkFunctions(ctx context.Context, dev *csx.Device) (csx.Capabilities, error) {
	props, err := dev.QueryProperties(ctx)
	if props == nil {
		return 0, fmt.Errorf("could not query device properties: %w", err)
	}
	if err := csx.WriteProperties(os.Stdout, props); err != nil {
		return 0, err
	}
	if len(props.CSEs) == 0 || props.CSEs[0].NumBuiltinFunctions == 0 {
		return 0, errors.New("device does not have any fixed functions")
	}

	caps, err := dev.QueryCapabilities(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not query device capabilities: %w", err)
	}
	return caps, nil
}

func (e *env) checksum(c *cli.Context) (err error) {
	path := c.String("file")
	iterations := c.Int("iterations")
	if iterations < 1 {
		return fmt.Errorf("iterations must be positive, got %d", iterations)
	}

	ctx := context.Background()
	dev, err := e.openDevice(ctx)
	if err != nil {
		return err
	}
	defer closeDevice(dev, &err)

	caps, err := e.checkFunctions(ctx, dev)
	if err != nil {
		return err
	}
	if !caps.Has(csx.CapDecompression) {
		e.logger.Warn("device does not contain a decompression function")
	}
	if !caps.Has(csx.CapChecksum) {
		return errors.New("device does not contain a checksum function")
	}
	fmt.Println("App found a checksum function !")

	id, err := dev.FunctionID(ctx, "Checksum")
	if err != nil {
		return fmt.Errorf("could not load function Checksum: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	size := st.Size()
	fmt.Printf("File size is %d (%s)\n", size, units.HumanSize(float64(size)))

	aligned := (size + csx.AllocAlignment - 1) &^ (csx.AllocAlignment - 1)
	data, err := dev.AllocMem(ctx, int(aligned), 0, true)
	if err != nil {
		return fmt.Errorf("could not allocate %s of device memory: %w", units.BytesSize(float64(aligned)), err)
	}
	defer freeMem(ctx, dev, data, &err)
	result, err := dev.AllocMem(ctx, csx.AllocAlignment, 0, true)
	if err != nil {
		return fmt.Errorf("could not allocate result buffer: %w", err)
	}
	defer freeMem(ctx, dev, result, &err)

	if _, err := io.ReadFull(f, data.Host[:size]); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	req := csx.NewComputeRequest(dev.OpenCSE(""), id, 3)
	req.Args[0] = csx.MemArg(data.Handle, 0)
	req.Args[1] = csx.Uint32Arg(uint32(size))
	req.Args[2] = csx.MemArg(result.Handle, 0)

	for i := 0; i < iterations; i++ {
		start := time.Now()
		if err := dev.QueueCompute(ctx, req); err != nil {
			return fmt.Errorf("compute exec error: %w", err)
		}
		fmt.Printf("%d [us]\n", time.Since(start).Microseconds())
	}

	sum := binary.LittleEndian.Uint32(result.Host)
	fmt.Printf("Application got checksum with value 0x%08x from CSE\n", sum)
	return nil
}

func (e *env) sleep(c *cli.Context) (err error) {
	ctx := context.Background()
	dev, err := e.openDevice(ctx)
	if err != nil {
		return err
	}
	defer closeDevice(dev, &err)

	if _, err := e.checkFunctions(ctx, dev); err != nil {
		return err
	}

	req := csx.NewComputeRequest(dev.OpenCSE(""), csx.SleepFunctionID, 1)
	req.Args[0] = csx.Uint32Arg(uint32(c.Uint("length")))

	start := time.Now()
	if err := dev.QueueCompute(ctx, req); err != nil {
		return fmt.Errorf("compute exec error: %w", err)
	}
	fmt.Printf("The execution of the compute request took %f seconds\n", time.Since(start).Seconds())
	return nil
}

// relayConfig merges the relay flags over the configured defaults
func (e *env) relayConfig(c *cli.Context) relayConfig {
	rc := e.cfg.Relay
	if c.IsSet("port") {
		rc.ListenPort = c.Int("port")
	}
	if c.IsSet("node") {
		rc.Node = c.String("node")
	}
	if c.IsSet("service") {
		rc.Service = c.String("service")
	}
	if c.IsSet("once") {
		rc.Once = c.BoolT("once")
	}
	return rc
}

func (e *env) relay(c *cli.Context) (err error) {
	rc := e.relayConfig(c)

	ctx := context.Background()
	dev, err := e.openDevice(ctx)
	if err != nil {
		return err
	}
	defer closeDevice(dev, &err)

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(rc.ListenPort)))
	if err != nil {
		return err
	}
	defer ln.Close()
	e.logger.Info("listening for relay clients", "addr", ln.Addr().String(),
		"node", rc.Node, "service", rc.Service)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		if sig, ok := <-sigs; ok {
			e.logger.Info("received signal, closing listener", "signal", sig.String())
			ln.Close()
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if err := e.session(ctx, dev, conn, rc); err != nil {
			return err
		}
		if rc.Once {
			return nil
		}
	}
}

// session relays one accepted connection through a fresh device relay
func (e *env) session(ctx context.Context, dev *csx.Device, conn net.Conn, rc relayConfig) error {
	defer conn.Close()
	log := e.logger.WithSession(uuid.New().String())
	log.Info("client connected", "remote", conn.RemoteAddr().String())

	r, err := dev.OpenRelay(ctx, rc.Node, rc.Service)
	if err != nil {
		return fmt.Errorf("could not open relay: %w", err)
	}
	fmt.Printf("Relay opened with descriptor : %d\n", r.Descriptor())
	r.SetLogger(log)

	st := r.Forward(conn)
	log.Info("client session finished",
		"sent", units.HumanSize(float64(st.OutboundBytes)),
		"received", units.HumanSize(float64(st.InboundBytes)))
	return nil
}

func (e *env) alloc(c *cli.Context) (err error) {
	size, err := units.RAMInBytes(c.String("size"))
	if err != nil {
		return err
	}

	ctx := context.Background()
	dev, err := e.openDevice(ctx)
	if err != nil {
		return err
	}
	defer closeDevice(dev, &err)

	a, err := dev.AllocMem(ctx, int(size), 0, true)
	if err != nil {
		return err
	}
	fmt.Printf("Allocated %s at %s, mapped %d bytes\n", units.BytesSize(float64(a.Size)), a.Handle, len(a.Host))
	return dev.FreeMem(ctx, a)
}
