package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	intrnl "studyhub/internal"
	"studyhub/internal/app"
	"studyhub/internal/logging"
	"studyhub/internal/presence"
)

const (
	modeServer  = "server"
	modeWatch   = "watch"
	modeLocal   = "local"
	modeAddUser = "adduser"
	modeVersion = "version"
)

func main() {
	mode, args := parseMode(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode {
	case modeServer:
		err = runServerMode(ctx, args)
	case modeLocal:
		err = runLocalMode(ctx, args)
	case modeAddUser:
		err = runAddUserMode(ctx, args)
	case modeVersion:
		fmt.Println(intrnl.VersionString())
	default:
		err = runWatchMode(args)
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "studyhub: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, args []string) error {
	cfg, err := app.LoadServerConfig(args)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	handle, err := app.RunServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return handle.Wait()
}

func runWatchMode(args []string) error {
	flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	serverURL := flagSet.String("server", envOrDefault("STUDYHUB_SERVER", "ws://localhost:8080/socket"), "websocket URL")
	joinAs := flagSet.String("join", envOrDefault("STUDYHUB_JOIN", ""), "user id to prefill for joining")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	return app.RunClient(app.ClientConfig{ServerURL: *serverURL, JoinAs: *joinAs})
}

// runLocalMode starts a private server on a loopback port and opens the
// dashboard against it. Server logs go to the console at warn level so they
// do not tear the TUI.
func runLocalMode(ctx context.Context, args []string) error {
	cfg, err := app.LoadServerConfig(append([]string{"--addr", "127.0.0.1:0"}, args...))
	if err != nil {
		return err
	}
	logger, err := logging.New("warn", "console")
	if err != nil {
		return err
	}
	handle, err := app.RunServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}
	if err := app.RunClient(app.ClientConfig{ServerURL: buildWebsocketURL(handle.Addr(), cfg.Path)}); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func runAddUserMode(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("adduser", pflag.ContinueOnError)
	flagSet.ParseErrorsWhitelist.UnknownFlags = true
	id := flagSet.String("id", "", "user id (generated for mongo when empty)")
	name := flagSet.String("name", "", "display name")
	email := flagSet.String("email", "", "email address")
	code := flagSet.String("code", "", "student or staff code")
	role := flagSet.String("role", "student", "role")
	avatar := flagSet.String("avatar", "", "avatar URL")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := app.LoadServerConfig(serverArgs(args))
	if err != nil {
		return err
	}
	stored, err := app.AddUser(ctx, cfg, presence.User{
		ID:       *id,
		Name:     *name,
		Email:    *email,
		UserCode: *code,
		Role:     *role,
		Avatar:   *avatar,
	})
	if err != nil {
		return err
	}
	fmt.Println(stored)
	return nil
}

// serverArgs keeps only the flags the server config understands.
func serverArgs(args []string) []string {
	known := pflag.NewFlagSet("server", pflag.ContinueOnError)
	app.ServerFlags(known)
	var out []string
	for i := 0; i < len(args); i++ {
		name := strings.TrimLeft(strings.SplitN(args[i], "=", 2)[0], "-")
		flag := known.Lookup(name)
		if flag == nil || !strings.HasPrefix(args[i], "--") {
			continue
		}
		out = append(out, args[i])
		if !strings.Contains(args[i], "=") && flag.Value.Type() != "bool" && i+1 < len(args) {
			i++
			out = append(out, args[i])
		}
	}
	return out
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildWebsocketURL(addr, path string) string {
	path = app.NormalizeJoinPath(path)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", addr, path)
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), path)
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeWatch, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeWatch, modeLocal, modeAddUser, modeVersion:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeWatch, args
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
