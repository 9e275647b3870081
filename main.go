// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The zonesync executable is a daemon that keeps the system timezone
// synchronised with the host's network location. It watches the system
// bus for the wireless station becoming connected, looks up the timezone
// for the host's public IP address and applies it via the
// org.freedesktop.timedate1 service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/gofrs/flock"

	"github.com/kortschak/zonesync/internal/config"
	"github.com/kortschak/zonesync/internal/netwatch"
	"github.com/kortschak/zonesync/internal/slogext"
	"github.com/kortschak/zonesync/internal/tzupdate"
	"github.com/kortschak/zonesync/internal/version"
	"github.com/kortschak/zonesync/internal/xdg"
)

// Exit status codes.
const (
	success       = 0
	internalError = 1 << (iota - 1)
	invocationError
)

func main() { os.Exit(Main()) }

func Main() int {
	cfgPath := flag.String("config", "", "path to the configuration file (default $XDG_CONFIG_HOME/zonesync/config.toml)")
	logging := flag.String("log", "info", "logging level (debug, info, warn or error)")
	lines := flag.Bool("lines", false, "display source line details in logs")
	v := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *v {
		err := version.Print()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		return success
	}

	var level slog.LevelVar
	err := level.UnmarshalText([]byte(*logging))
	if err != nil {
		flag.Usage()
		return invocationError
	}
	addSource := slogext.NewAtomicBool(*lines)

	// log is the root logger.
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	})})
	// mlog is the logger for main.
	mlog := log.With(slog.String("component", "zonesync.main"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		mlog.LogAttrs(ctx, slog.LevelInfo, "terminating")
		cancel()
	}()

	if *cfgPath == "" {
		path, err := xdg.Config(filepath.Join("zonesync", "config.toml"), true)
		switch {
		case err == nil:
			*cfgPath = path
		case errors.Is(err, syscall.ENOENT):
			// Run with the compiled-in defaults.
		default:
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
	}
	cfg := config.Default()
	if *cfgPath != "" {
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return invocationError
		}
		mlog.LogAttrs(ctx, slog.LevelInfo, "loaded config", slog.String("path", *cfgPath))
	}
	if cfg.LogLevel != nil {
		level.Set(*cfg.LogLevel)
	}
	if cfg.AddSource != nil {
		addSource.Store(*cfg.AddSource)
	}

	runtimeDir, err := xdg.Runtime("zonesync")
	if err != nil {
		if err != syscall.ENOENT {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		dir, ok := xdg.RuntimeDir()
		if !ok {
			fmt.Fprintln(os.Stderr, "no xdg runtime directory")
			return internalError
		}
		runtimeDir = filepath.Join(dir, "zonesync")
		err = os.Mkdir(runtimeDir, 0o700)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
	}
	pidFile := filepath.Join(runtimeDir, "pid")
	fl := flock.New(pidFile)
	ok, err := fl.TryLock()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return internalError
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "zonesync is already running")
		return internalError
	}
	defer func() {
		fl.Unlock()
		os.Remove(pidFile)
	}()
	pid := fmt.Sprintln(os.Getpid())
	err = os.WriteFile(pidFile, []byte(pid), 0o600)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return internalError
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		mlog.LogAttrs(ctx, slog.LevelError, "failed to connect to system bus", slog.Any("error", err))
		return internalError
	}
	defer conn.Close()

	wlog := log.With(slog.String("component", "zonesync.watch"))
	sub, err := netwatch.Subscribe(conn, cfg.Sender, wlog)
	if err != nil {
		mlog.LogAttrs(ctx, slog.LevelError, "failed to subscribe", slog.Any("error", err))
		return internalError
	}

	updater := tzupdate.NewUpdater(
		tzupdate.NewHTTPResolver(cfg.LookupURL, &http.Client{Timeout: time.Duration(cfg.LookupTimeout)}),
		tzupdate.NewTimedateApplier(conn, time.Duration(cfg.CallTimeout)),
		log.With(slog.String("component", "zonesync.update")),
	)

	mlog.LogAttrs(ctx, slog.LevelInfo, "start",
		slog.String("sender", cfg.Sender),
		slog.String("lookup_url", cfg.LookupURL))
	err = netwatch.Run(ctx, sub.Events(), updater.Update, wlog)
	cerr := sub.Close()
	if cerr != nil {
		mlog.LogAttrs(ctx, slog.LevelWarn, "failed to release subscription", slog.Any("error", cerr))
	}
	switch {
	case errors.Is(err, context.Canceled):
		mlog.LogAttrs(ctx, slog.LevelInfo, "exit")
		return success
	case errors.Is(err, netwatch.ErrClosed):
		mlog.LogAttrs(ctx, slog.LevelError, "lost connection to system bus")
		return internalError
	default:
		mlog.LogAttrs(ctx, slog.LevelError, err.Error())
		return internalError
	}
}
