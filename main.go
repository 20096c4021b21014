package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sailfishos.org/unblank_daemon/config"
	"sailfishos.org/unblank_daemon/dbusutil"
	"sailfishos.org/unblank_daemon/display_manager"
	"sailfishos.org/unblank_daemon/logger"
	"sailfishos.org/unblank_daemon/mainloop"
	"sailfishos.org/unblank_daemon/restart_manager"
	"sailfishos.org/unblank_daemon/signal_bridge"
)

const banner = "Starting service to restart sensors when display unblanks"

// main is the entry point of the unblank daemon.
func main() {
	os.Exit(run(os.Args[1:], dbusutil.SystemBusDialer(), os.Stdout, os.Stderr))
}

// run sets up the daemon and drives the main loop until a signal stops it.
// The returned value is the process exit status.
func run(args []string, dial dbusutil.Dialer, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("unblank-restart-sensors", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", config.DefaultPath, "path of the TOML configuration file")
	logLevel := flags.String("log-level", "", "override the configured log level")
	if err := flags.Parse(args); err != nil {
		return mainloop.ExitFailure
	}

	fmt.Fprintln(stdout, banner)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "E: %v\n", err)
		return mainloop.ExitFailure
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log := logger.New(cfg.LogLevel, zapcore.AddSync(stderr))
	defer log.Sync()

	// Create a context for managing the lifecycle of the daemon.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := mainloop.NewLoop(ctx, log.Named("mainloop"))

	bridge := signal_bridge.NewBridge(loop, stderr, log.Named("signal"))
	if err := bridge.Init(); err != nil {
		log.Errorf("Failed to install signal handlers: %v", err)
		return mainloop.ExitFailure
	}
	defer bridge.Close()

	bus := dbusutil.NewConnection(dial, log.Named("dbus"))
	defer bus.Disconnect()
	conn, err := bus.Connect()
	if err != nil {
		return mainloop.ExitFailure
	}

	sigServer, _ := start(ctx, loop, conn, bus, cfg, log)
	defer sigServer.StopWorking()

	return loop.Run()
}

// start registers the managers and begins listening for display signals.
func start(ctx context.Context, loop *mainloop.Loop, conn dbusutil.Conn, bus restart_manager.Requester,
	cfg *config.Config, log *zap.SugaredLogger) (*dbusutil.SignalServer, *restart_manager.RestartManager) {
	sigServer := dbusutil.NewSignalServer(ctx, conn, loop, dbusutil.MceSignalSource, log.Named("dbus"))

	displayManager := display_manager.NewDisplayManager(log.Named("display"))
	displayManager.Register(sigServer)

	restartManager := restart_manager.NewRestartManager(ctx, loop, bus, cfg.Restart, log.Named("restart"))
	restartManager.Register(displayManager)

	sigServer.StartWorking()
	return sigServer, restartManager
}
