package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"github.com/tartfs/tartfs/pkg/common/log"
	"github.com/tartfs/tartfs/pkg/config"
	"github.com/tartfs/tartfs/pkg/device"
	"github.com/tartfs/tartfs/pkg/image"
	"github.com/tartfs/tartfs/pkg/store"
	"github.com/tartfs/tartfs/pkg/telemetry"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".stats"),
	readline.PcItem(".sync"),
	readline.PcItem(".exit"),
	readline.PcItem("CREATE"),
	readline.PcItem("REMOVE"),
	readline.PcItem("WRITE",
		readline.PcItem("APPEND"),
	),
	readline.PcItem("READ"),
	readline.PcItem("INFO"),
	readline.PcItem("DEFRAG"),
	readline.PcItem("LIST"),
	readline.PcItem("EXPORT"),
	readline.PcItem("IMPORT"),
)

const helpText = `
tartfs - A block-indexed file-data store.

Usage:
  tartfs [options] store_path      - Open (or create) the store directory

Options:
  -server                 - Run in server mode, exposing a gRPC API
  -daemon                 - Run in daemon mode (detached from terminal)
  -address string         - Address to listen on in server mode

Commands (interactive mode only):
  .help                   - Show this help message
  .stats                  - Show store statistics
  .sync                   - Flush the store to stable storage
  .exit                   - Exit the program

  CREATE                  - Create an empty file, printing its id
  REMOVE id               - Remove a file and free its blocks
  WRITE id pos text       - Write text at the given position
  WRITE id APPEND text    - Write text at the end of the file
  READ id                 - Read a file's full live content
  READ id pos len         - Read one fragment at a position
  INFO id                 - Show a file's block layout
  DEFRAG id               - Defragment a file
  LIST                    - List all files

  EXPORT path [codec]     - Export the device to an image (none, snappy, zstd)
  IMPORT path             - Restore the device from an image
`

// Config holds the application configuration
type Config struct {
	ServerMode bool
	DaemonMode bool
	ListenAddr string
	StorePath  string

	DeviceBlocks uint32
	MaxFiles     uint32

	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string

	TelemetryEnabled bool
}

func main() {
	appConfig := parseFlags()

	if appConfig.StorePath == "" {
		fmt.Fprintf(os.Stderr, "Error: a store path is required\n")
		flag.Usage()
		os.Exit(1)
	}

	shell, err := openShell(appConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %s\n", err)
		os.Exit(1)
	}

	if appConfig.ServerMode {
		runServer(shell, appConfig)
		return
	}

	runInteractive(shell)
}

// parseFlags parses command line flags and returns a Config
func parseFlags() Config {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "tartfs - A block-indexed file-data store\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: tartfs [options] store_path\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "By default, tartfs runs in interactive mode with a command-line interface.\n")
		fmt.Fprintf(flag.CommandLine.Output(), "If -server flag is provided, tartfs runs as a server exposing a gRPC API.\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nFor interactive command details, start tartfs and type .help\n")
	}

	serverMode := flag.Bool("server", false, "Run in server mode, exposing a gRPC API")
	daemonMode := flag.Bool("daemon", false, "Run in daemon mode (detached from terminal)")
	listenAddr := flag.String("address", "", "Address to listen on in server mode (overrides manifest)")

	deviceBlocks := flag.Uint("blocks", 0, "Device size in blocks when creating a new store (overrides default)")
	maxFiles := flag.Uint("max-files", 0, "Maximum file count when creating a new store (overrides default)")

	tlsEnabled := flag.Bool("tls", false, "Enable TLS for secure connections")
	tlsCertFile := flag.String("cert", "", "TLS certificate file path")
	tlsKeyFile := flag.String("key", "", "TLS private key file path")

	telemetryEnabled := flag.Bool("telemetry", false, "Enable metrics and tracing export")

	flag.Parse()

	var storePath string
	if flag.NArg() > 0 {
		storePath = flag.Arg(0)
	}

	return Config{
		ServerMode:       *serverMode,
		DaemonMode:       *daemonMode,
		ListenAddr:       *listenAddr,
		StorePath:        storePath,
		DeviceBlocks:     uint32(*deviceBlocks),
		MaxFiles:         uint32(*maxFiles),
		TLSEnabled:       *tlsEnabled,
		TLSCertFile:      *tlsCertFile,
		TLSKeyFile:       *tlsKeyFile,
		TelemetryEnabled: *telemetryEnabled,
	}
}

// shell bundles the open store with the device and manifest it came
// from, so commands like IMPORT can swap the store underneath.
type shell struct {
	cfg    *config.Config
	dev    device.Device
	store  *store.Store
	logger log.Logger
	tel    telemetry.Telemetry
}

// openShell loads or creates the store directory's manifest, opens or
// formats the backing image and mounts the store.
func openShell(appConfig Config) (*shell, error) {
	cfg, err := config.LoadConfigFromManifest(appConfig.StorePath)
	if errors.Is(err, config.ErrManifestNotFound) {
		cfg = config.NewDefaultConfig(appConfig.StorePath)
		cfg.Update(func(c *config.Config) {
			if appConfig.DeviceBlocks > 0 {
				c.DeviceBlocks = appConfig.DeviceBlocks
			}
			if appConfig.MaxFiles > 0 {
				c.MaxFiles = appConfig.MaxFiles
			}
			if appConfig.ListenAddr != "" {
				c.ListenAddr = appConfig.ListenAddr
			}
			c.TelemetryEnabled = appConfig.TelemetryEnabled
		})
		if err := cfg.SaveManifest(appConfig.StorePath); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	logger := log.NewStandardLogger(log.WithLevel(parseLogLevel(cfg.LogLevel)))

	var dev *device.FileDevice
	if _, err := os.Stat(cfg.ImagePath); os.IsNotExist(err) {
		dev, err = device.CreateFile(cfg.ImagePath, cfg.DeviceBlocks)
		if err != nil {
			return nil, err
		}
		if err := store.Format(dev, cfg.MaxFiles); err != nil {
			dev.Close()
			return nil, err
		}
		logger.Info("formatted new image at %s (%d blocks)", cfg.ImagePath, cfg.DeviceBlocks)
	} else {
		dev, err = device.OpenFile(cfg.ImagePath)
		if err != nil {
			return nil, err
		}
	}

	telCfg := telemetry.DefaultConfig()
	telCfg.LoadFromEnv()
	telCfg.Enabled = telCfg.Enabled || cfg.TelemetryEnabled || appConfig.TelemetryEnabled
	tel, err := telemetry.New(telCfg)
	if err != nil {
		dev.Close()
		return nil, err
	}

	s, err := store.Open(dev,
		store.WithLogger(logger),
		store.WithMetrics(store.NewMetrics(tel)),
	)
	if err != nil {
		dev.Close()
		return nil, err
	}

	return &shell{cfg: cfg, dev: dev, store: s, logger: logger, tel: tel}, nil
}

func parseLogLevel(s string) log.Level {
	switch strings.ToLower(s) {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}

// close shuts the shell down, flushing the store and telemetry.
func (sh *shell) close() {
	if err := sh.store.Close(); err != nil && !errors.Is(err, store.ErrStoreClosed) {
		fmt.Fprintf(os.Stderr, "Error closing store: %s\n", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sh.tel.Shutdown(ctx)
}

// runServer initializes and runs the tartfs control server
func runServer(sh *shell, appConfig Config) {
	if appConfig.DaemonMode {
		setupDaemonMode()
	}

	addr := appConfig.ListenAddr
	if addr == "" {
		addr = sh.cfg.ListenAddr
	}

	server, err := NewServer(sh, addr, appConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating server: %v\n", err)
		os.Exit(1)
	}

	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting server: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("tartfs server started on %s\n", addr)

	setupGracefulShutdown(server, sh)

	if err := server.Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "Error serving: %v\n", err)
		os.Exit(1)
	}
}

// setupDaemonMode configures process to run as a daemon
func setupDaemonMode() {
	null, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open /dev/null: %v\n", err)
		os.Exit(1)
	}

	if err := syscall.Dup2(int(null.Fd()), int(os.Stdin.Fd())); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to redirect stdin: %v\n", err)
		os.Exit(1)
	}
	if err := syscall.Dup2(int(null.Fd()), int(os.Stdout.Fd())); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to redirect stdout: %v\n", err)
		os.Exit(1)
	}
	if err := syscall.Dup2(int(null.Fd()), int(os.Stderr.Fd())); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to redirect stderr: %v\n", err)
		os.Exit(1)
	}

	if _, err := syscall.Setsid(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create new session: %v\n", err)
		os.Exit(1)
	}
}

// setupGracefulShutdown configures graceful shutdown on signals
func setupGracefulShutdown(server *Server, sh *shell) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error shutting down server: %v\n", err)
		}
		sh.close()

		fmt.Println("Shutdown complete")
		os.Exit(0)
	}()
}

// runInteractive starts the interactive CLI mode
func runInteractive(sh *shell) {
	fmt.Println("tartfs version 1.0.0")
	fmt.Println("Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".tartfs_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("tartfs:%s> ", filepath.Base(sh.cfg.ImagePath)),
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	ctx := context.Background()

	for {
		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if readErr == io.EOF {
				fmt.Println("Goodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToUpper(parts[0])

		if strings.HasPrefix(cmd, ".") {
			switch strings.ToLower(cmd) {
			case ".help":
				fmt.Print(helpText)
			case ".stats":
				printStats(sh.store.GetStats())
			case ".sync":
				if err := sh.store.Sync(); err != nil {
					fmt.Fprintf(os.Stderr, "Error syncing store: %s\n", err)
				} else {
					fmt.Println("Store synced")
				}
			case ".exit":
				sh.close()
				fmt.Println("Goodbye!")
				return
			default:
				fmt.Printf("Unknown command: %s\n", cmd)
			}
			continue
		}

		switch cmd {
		case "CREATE":
			id, err := sh.store.Create(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				continue
			}
			fmt.Printf("Created file %d\n", id)

		case "REMOVE":
			id, ok := parseFileID(parts, 2)
			if !ok {
				continue
			}
			if err := sh.store.Remove(ctx, id); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				continue
			}
			fmt.Printf("Removed file %d\n", id)

		case "WRITE":
			doWrite(ctx, sh, parts)

		case "READ":
			doRead(ctx, sh, parts)

		case "INFO":
			id, ok := parseFileID(parts, 2)
			if !ok {
				continue
			}
			info, err := sh.store.GetInfo(ctx, id)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				continue
			}
			printInfo(info)

		case "DEFRAG":
			id, ok := parseFileID(parts, 2)
			if !ok {
				continue
			}
			result, err := sh.store.Defragment(ctx, id)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				continue
			}
			fmt.Printf("Reclaimed %d blocks, file now spans %d\n",
				result.BlocksReclaimed, result.BlockCount)

		case "LIST":
			files, err := sh.store.List(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				continue
			}
			if len(files) == 0 {
				fmt.Println("No files")
				continue
			}
			for _, m := range files {
				fmt.Printf("%4d  %8d bytes  %4d blocks  modified %s\n",
					m.ID, m.Size, m.BlockCount,
					time.Unix(m.ModifiedAt, 0).Format(time.RFC3339))
			}

		case "EXPORT":
			doExport(sh, parts)

		case "IMPORT":
			doImport(sh, parts)

		default:
			fmt.Printf("Unknown command: %s\n", cmd)
		}
	}

	sh.close()
}

func parseFileID(parts []string, want int) (uint32, bool) {
	if len(parts) < want {
		fmt.Println("Error: Missing file id argument")
		return 0, false
	}
	id, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		fmt.Printf("Error: Invalid file id %q\n", parts[1])
		return 0, false
	}
	return uint32(id), true
}

func doWrite(ctx context.Context, sh *shell, parts []string) {
	if len(parts) < 4 {
		fmt.Println("Usage: WRITE id pos text  |  WRITE id APPEND text")
		return
	}
	id, ok := parseFileID(parts, 4)
	if !ok {
		return
	}

	handle, err := sh.store.OpenFile(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return
	}

	if strings.EqualFold(parts[2], "APPEND") {
		handle.SetAppend(true)
	} else {
		pos, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			fmt.Printf("Error: Invalid position %q\n", parts[2])
			return
		}
		handle.Seek(pos)
	}

	data := []byte(strings.Join(parts[3:], " "))
	n, err := handle.WriteAll(ctx, data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return
	}
	size, _ := handle.Size()
	fmt.Printf("Wrote %d bytes, file size %d\n", n, size)
}

func doRead(ctx context.Context, sh *shell, parts []string) {
	id, ok := parseFileID(parts, 2)
	if !ok {
		return
	}
	handle, err := sh.store.OpenFile(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return
	}

	if len(parts) >= 4 {
		pos, err1 := strconv.ParseUint(parts[2], 10, 64)
		length, err2 := strconv.Atoi(parts[3])
		if err1 != nil || err2 != nil || length <= 0 {
			fmt.Println("Usage: READ id pos len")
			return
		}
		handle.Seek(pos)
		buf := make([]byte, length)
		n, err := handle.Read(ctx, buf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return
		}
		fmt.Printf("%q (%d bytes, position %d)\n", buf[:n], n, handle.Pos())
		return
	}

	data, err := handle.ReadAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return
	}
	fmt.Printf("%q (%d bytes)\n", data, len(data))
}

func doExport(sh *shell, parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: EXPORT path [codec]")
		return
	}
	codec := image.CodecZstd
	if len(parts) >= 3 {
		var err error
		codec, err = image.ParseCodec(parts[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return
		}
	}

	if err := sh.store.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "Error syncing store: %s\n", err)
		return
	}
	if err := image.ExportToFile(sh.dev, parts[1], codec); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return
	}
	fmt.Printf("Exported image to %s (%s)\n", parts[1], codec)
}

func doImport(sh *shell, parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: IMPORT path")
		return
	}

	hdr, err := image.ImportFromFile(parts[1], sh.dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return
	}

	// The old store still holds a cached bitmap for the previous
	// contents; remount on the refreshed device and abandon it.
	s, err := store.Open(sh.dev,
		store.WithLogger(sh.logger),
		store.WithMetrics(store.NewMetrics(sh.tel)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error remounting store: %s\n", err)
		return
	}
	sh.store = s
	fmt.Printf("Imported %d blocks from %s (%s)\n", hdr.Blocks, parts[1], hdr.Codec)
}

// printStats renders store statistics with stable key ordering.
func printStats(stats map[string]interface{}) {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-24s %v\n", k, stats[k])
	}
}

func printInfo(info *store.FileInfo) {
	out, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return
	}
	fmt.Println(string(out))
}
