package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fansqz/debug-engine/config"
	"github.com/fansqz/debug-engine/utils/gosync"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// 定义版本号
const Version = "2.0.0"

var (
	configFile string
	port       int
	hookPort   int
	backendKey string
	target     string
	targetArgs string
	logPath    string
)

func main() {
	rootCommand := &cobra.Command{
		Use:   "debug-engine",
		Short: "Debugger backend engine speaking DAP, driving gdb or lldb.",
	}

	serveCommand := &cobra.Command{
		Use:   "serve",
		Short: "Start the DAP server and the instrumentation hook listener.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err = SetupLogger(cfg.Log); err != nil {
				return err
			}
			defer CloseLogger()
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	serveCommand.Flags().StringVarP(&configFile, "config", "c", "", "Config file, default ./debug-engine.yaml or $HOME/.debug-engine/debug-engine.yaml.")
	serveCommand.Flags().IntVarP(&port, "port", "p", 0, "TCP port of the DAP server.")
	serveCommand.Flags().IntVar(&hookPort, "hook-port", 0, "TCP port of the instrumentation hook listener.")
	serveCommand.Flags().StringVar(&backendKey, "backend", "", "Backend debugger, gdb or lldb.")
	serveCommand.Flags().StringVar(&target, "target", "", "Program to debug when the launch request does not name one.")
	serveCommand.Flags().StringVar(&targetArgs, "args", "", "Command line arguments of the program.")
	serveCommand.Flags().StringVar(&logPath, "log", "", "Log file, default stderr.")
	rootCommand.AddCommand(serveCommand)

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Version: %s\n", Version)
		},
	}
	rootCommand.AddCommand(versionCommand)

	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig 读取配置文件，命令行参数优先
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = port
	}
	if flags.Changed("hook-port") {
		cfg.Server.HookPort = hookPort
	}
	if flags.Changed("backend") {
		cfg.Backend.Kind = backendKey
	}
	if flags.Changed("target") {
		cfg.Backend.Target = target
	}
	if flags.Changed("args") {
		cfg.Backend.Args = targetArgs
	}
	if flags.Changed("log") {
		cfg.Log.Path = logPath
	}
	return cfg, nil
}

// serve 监听DAP端口和钩子端口，直到ctx被取消
func serve(ctx context.Context, cfg *config.Config) error {
	engine := NewEngine(cfg)

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Server.Port))
	if err != nil {
		return err
	}
	logrus.Infof("[Server] started listening at: %s", listener.Addr())

	if cfg.Server.HookPort != 0 {
		hookListener, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Server.HookPort))
		if err != nil {
			_ = listener.Close()
			return err
		}
		logrus.Infof("[Hook] started listening at: %s", hookListener.Addr())
		gosync.Go(ctx, func(ctx context.Context) {
			serveHooks(ctx, hookListener, NewHookHandler(engine))
		})
		defer hookListener.Close()
	}

	gosync.Go(ctx, func(ctx context.Context) {
		<-ctx.Done()
		_ = listener.Close()
	})
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logrus.Infof("[Server] stopped")
				return nil
			}
			logrus.Warnf("[Server] connection failed: %v", err)
			continue
		}
		gosync.Go(ctx, func(ctx context.Context) {
			handleConnection(ctx, conn, engine)
		})
	}
}
