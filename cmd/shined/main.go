// Command shined runs the mirror-sync daemon: event bus, scheduler,
// task lifecycle engine, control server, and status publishers, wired
// together by internal/daemon. Grounded on
// 88lin-divinesense/cmd/divinesense/main.go's cobra+viper entrypoint
// idiom.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jlulug/shined/internal/daemon"
	"github.com/jlulug/shined/internal/logging"
)

const (
	exitOK             = 0
	exitStartupFailure = 1
)

var rootCmd = &cobra.Command{
	Use:   "shined",
	Short: "Mirror-sync daemon: scheduled upstream synchronization with a local control socket.",
	RunE: func(*cobra.Command, []string) error {
		return run()
	},
}

func init() {
	rootCmd.PersistentFlags().String("socket", "", "control socket path (overrides the default search order)")
	rootCmd.PersistentFlags().String("config", "", "configuration directory")
	rootCmd.PersistentFlags().String("state", "", "state directory")

	for _, name := range []string{"socket", "config", "state"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	bindEnv := func(key, env string) {
		if err := viper.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
	bindEnv("config", "CONFIGURATION_DIRECTORY")
	bindEnv("state", "STATE_DIRECTORY")
	bindEnv("runtime", "RUNTIME_DIRECTORY")
	bindEnv("logs", "LOGS_DIRECTORY")
	bindEnv("debug", "DEBUG")
	bindEnv("quiet", "QUIET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("config", ".")
	viper.SetDefault("state", ".")
	viper.SetDefault("runtime", ".")
	viper.SetDefault("logs", ".")
}

// resolveSocketPath implements spec.md §6's priority order: --socket,
// then /run/shine/shined.sock, then ./shined.sock.
func resolveSocketPath() string {
	if s := viper.GetString("socket"); s != "" {
		return s
	}
	if info, err := os.Stat("/run/shine"); err == nil && info.IsDir() {
		return "/run/shine/shined.sock"
	}
	return "./shined.sock"
}

func run() error {
	log := logging.New(logging.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
	})

	opts := daemon.Options{
		ConfigDir:  viper.GetString("config"),
		StateDir:   viper.GetString("state"),
		RuntimeDir: viper.GetString("runtime"),
		LogsDir:    viper.GetString("logs"),
		SocketPath: resolveSocketPath(),
		Log:        log,
	}

	d := daemon.New(opts)

	if err := d.Start(); err != nil {
		log.Error("startup failed", "error", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	graceful := make(chan os.Signal, 1)
	signal.Notify(graceful, gracefulSignals...)
	immediate := make(chan os.Signal, 1)
	if len(immediateSignals) > 0 {
		signal.Notify(immediate, immediateSignals...)
	}
	reload := make(chan os.Signal, 1)
	if reloadSignal != nil {
		signal.Notify(reload, reloadSignal)
	}

	done := make(chan error, 1)
	go func() { done <- d.Wait(ctx) }()

	for {
		select {
		case <-graceful:
			log.Info("graceful shutdown requested")
			d.Windup()
			cancel()
			<-done
			d.Save()
			return nil
		case <-immediate:
			log.Info("immediate shutdown requested")
			d.KillAll()
			d.Save()
			cancel()
			<-done
			rearmDefaultAndSignalGroup()
			return nil
		case <-d.KillRequested():
			log.Info("KiLL command received on control socket")
			d.KillAll()
			d.Save()
			cancel()
			<-done
			rearmDefaultAndSignalGroup()
			return nil
		case <-reload:
			log.Info("reload requested")
			d.Reload()
		case err := <-done:
			if err != nil {
				log.Error("daemon exited with error", "error", err)
				return err
			}
			return nil
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitStartupFailure)
	}
	os.Exit(exitOK)
}
