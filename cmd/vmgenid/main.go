// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
	"github.com/twpayne/go-vfs"

	"github.com/canonical/go-vmgenid"
	"github.com/canonical/go-vmgenid/linux"
)

type options struct {
	Config     string `long:"config" short:"c" description:"Read options from the specified INI file" no-ini:"true"`
	Root       string `long:"root" description:"Root directory for sysfs, procfs and the publish directory" default:"/"`
	PublishDir string `long:"publish-dir" description:"Directory to publish the vmgenid attributes beneath" default:"/run"`
	LogFormat  string `long:"log-format" description:"Log format" default:"text" choice:"text" choice:"json"`
	Verbose    bool   `long:"verbose" short:"v" description:"Enable debug logging"`
}

var opts options

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if opts.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func rootFS() vfs.FS {
	if opts.Root == "" || opts.Root == "/" {
		return vfs.OSFS
	}
	return vfs.NewPathFS(vfs.OSFS, opts.Root)
}

type showCommand struct{}

func (cmd *showCommand) Execute(args []string) error {
	log := newLogger()
	bus := linux.NewACPIBus(rootFS(), log)

	m := vmgenid.NewModule(bus, nil, linux.NewDevMem(), log)
	if err := m.Load(); err != nil {
		return err
	}
	defer m.Unload()

	dev := m.Device()
	h := dev.Handle()
	if h == nil {
		return errors.New("no VM generation ID device found")
	}

	fmt.Printf("device:  %s (%s)\n", h.Name(), h.HardwareID())
	if acpiDev, ok := bus.Device(h.Name()); ok {
		fmt.Printf("path:    %s\n", acpiDev.Path())
	}
	fmt.Printf("address: %v\n", dev.Address())
	fmt.Printf("guid:    %v\n", dev.GUID())

	if dev.State() != vmgenid.BoundResolved {
		return errors.New("cannot resolve the address of the VM generation ID")
	}
	return nil
}

type watchCommand struct{}

func (cmd *watchCommand) Execute(args []string) error {
	log := newLogger()
	fs := rootFS()

	mon, err := linux.NewUeventMonitor(log)
	if err != nil {
		return err
	}
	defer mon.Close()

	m := vmgenid.NewModule(linux.NewACPIBus(fs, log), vmgenid.NewFSPublisher(fs, opts.PublishDir), linux.NewDevMem(), log)
	if err := m.Load(); err != nil {
		return err
	}
	defer func() {
		if err := m.Unload(); err != nil {
			log.WithError(err).Warn("cannot unload VMGENID module")
		}
	}()

	if m.Device().Handle() == nil {
		log.Warn("no VM generation ID device found, waiting for notifications anyway")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := make(chan vmgenid.Event, 16)
	monErr := make(chan error, 1)
	go func() {
		monErr <- mon.Run(ctx, events)
	}()

	runErr := m.Run(ctx, events)
	stop()
	err = <-monErr

	for _, e := range []error{err, runErr} {
		if e != nil && !errors.Is(e, context.Canceled) {
			return e
		}
	}
	return nil
}

// configPath returns the value of the --config option, if any, so that the
// configuration file can be loaded before the command line is parsed.
func configPath(args []string) string {
	var cfg struct {
		Config string `long:"config" short:"c"`
	}
	parser := flags.NewParser(&cfg, flags.IgnoreUnknown)
	parser.ParseArgs(args)
	return cfg.Config
}

func run() error {
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.AddCommand("show", "Show the VM generation ID",
		"Resolve and print the current VM generation ID", &showCommand{}); err != nil {
		return err
	}
	if _, err := parser.AddCommand("watch", "Publish and track the VM generation ID",
		"Publish the VM generation ID and the number of change notifications, and update them on each notification", &watchCommand{}); err != nil {
		return err
	}

	if path := configPath(os.Args[1:]); path != "" {
		if err := flags.NewIniParser(parser).ParseFile(path); err != nil {
			return fmt.Errorf("cannot load configuration: %v", err)
		}
	}

	_, err := parser.Parse()
	return err
}

func main() {
	if err := run(); err != nil {
		switch e := err.(type) {
		case *flags.Error:
			// flags already prints this
			if e.Type != flags.ErrHelp {
				os.Exit(1)
			}
		default:
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}
