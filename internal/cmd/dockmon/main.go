package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"dockmon"
	"dockmon/internal/bridge"
	"dockmon/internal/config"
	"dockmon/internal/logging"
	"dockmon/internal/monitor"

	"github.com/spf13/pflag"
)

// cli options
type cmdOptions struct {
	configPath string // configPath is the path to the YAML config file.
	listen     string // listen overrides the bridge listen address.
	debug      bool   // debug enables debug-level logging.
}

// parse parses the command line flags and populates the config struct.
// It returns true if a subcommand was handled and the program should exit.
func (opts *cmdOptions) parse() bool {
	subcommand := ""
	if len(os.Args) > 1 {
		subcommand = os.Args[1]
	}

	switch subcommand {
	case "-v", "version":
		fmt.Println(dockmon.AppName, dockmon.Version)
		return true
	}

	pflag.StringVarP(&opts.configPath, "config", "c", "dockmon.yml", "Path to the YAML config file")
	pflag.StringVarP(&opts.listen, "listen", "l", "", "Address or port for the bridge to listen on")
	pflag.BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")
	help := pflag.BoolP("help", "h", false, "Show this help message")

	pflag.Usage = func() {
		builder := strings.Builder{}
		builder.WriteString("Usage: ")
		builder.WriteString(os.Args[0])
		builder.WriteString(" [command] [flags]\n")
		builder.WriteString("\nCommands:\n")
		builder.WriteString("  version   Print the version and exit\n")
		builder.WriteString("\nFlags:\n")
		fmt.Print(builder.String())
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help || subcommand == "help" {
		pflag.Usage()
		return true
	}
	return false
}

func main() {
	// Load an optional env file next to the binary before anything reads the environment.
	if exe, err := os.Executable(); err == nil {
		if err := loadEnvFileFromDir(filepath.Dir(exe)); err != nil {
			log.Fatal("Failed to load env file: ", err)
		}
	}

	var opts cmdOptions
	if opts.parse() {
		return
	}

	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	logging.Init(level)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8427"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := monitor.NewManager()
	if err := manager.Start(ctx, cfg); err != nil {
		log.Fatal("Failed to start monitor engines: ", err)
	}
	defer manager.Shutdown()

	slog.Info("dockmon started", "version", dockmon.Version, "daemons", len(cfg.Daemons))
	if err := bridge.New(manager).Serve(ctx, cfg.Listen); err != nil {
		log.Fatal("Bridge server failed: ", err)
	}
}
