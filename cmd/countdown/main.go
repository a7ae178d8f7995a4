package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"countdown/internal/auth"
	"countdown/internal/clock"
	"countdown/internal/config"
	appLog "countdown/internal/log"
	"countdown/internal/notify"
	"countdown/internal/store"
	"countdown/internal/theme"
	"countdown/internal/transfer"
	"countdown/internal/validator"
	"countdown/internal/web"
)

const (
	version     = "1.0.0"
	stopTimeout = 5 * time.Second
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	testNotify bool
	exportPath string
	importPath string
	hashPass   bool
}

func main() {
	flags := parseFlags()

	if flags.hashPass {
		if err := printPasswordHash(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := config.LoadDotEnv(flags.envFile); err != nil {
		appLog.Warn("failed to load env file", "path", flags.envFile, "err", err)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv()

	// CLI --listen overrides config file and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("countdown starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"database", conf.Database,
		"timezone", conf.Timezone,
		"check_cron", conf.CheckCron,
		"log_level", conf.LogLevel,
		"sink", conf.Notify.Sink,
		"basic_auth", conf.BasicAuth != nil,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, flags, conf); err != nil {
		appLog.Error("countdown failed", err)
		os.Exit(1)
	}
	appLog.Info("countdown exiting")
}

func run(ctx context.Context, flags flagConfig, conf *config.Config) error {
	loc, err := conf.Location()
	if err != nil {
		return err
	}

	valid := validator.MustNew()
	st, err := store.Open(store.Options{Path: conf.Database, Validator: valid})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			appLog.Error("failed to close store", err)
		}
	}()

	sink := notify.DefaultSink(conf.Notify.Sink, conf.Notify.AppName)

	switch {
	case flags.testNotify:
		return notify.SendTest(ctx, sink)
	case flags.exportPath != "":
		return exportFile(ctx, st, flags.exportPath, loc)
	case flags.importPath != "":
		return importFile(ctx, st, flags.importPath, loc)
	}

	schedule, err := notify.ParseSchedule(conf.CheckCron)
	if err != nil {
		return err
	}
	dispatcher, err := notify.New(notify.Options{
		Repo:       st,
		Sink:       sink,
		Clock:      clock.New(),
		Location:   loc,
		Schedule:   schedule,
		Retries:    uint64(conf.Notify.RetryAttempts),
		RetryDelay: conf.Notify.RetryDelay(),
	})
	if err != nil {
		return err
	}

	if flags.once {
		res, err := dispatcher.RunCycle(ctx)
		if err != nil {
			return err
		}
		appLog.Info("single cycle finished", "due", res.Due, "sent", res.Sent, "failed", res.Failed)
		return nil
	}

	srv, err := web.NewServer(web.Options{
		Store:     st,
		Themes:    theme.NewManager(st, valid),
		Sink:      sink,
		Location:  loc,
		BasicAuth: conf.BasicAuth,
	})
	if err != nil {
		return err
	}

	err = config.Watch(ctx, flags.configPath, func(next *config.Config) {
		applyReload(conf, next, dispatcher, srv)
	})
	if err != nil {
		appLog.Warn("config reload disabled", "err", err)
	}

	dispatcher.Start(ctx)
	defer func() {
		if err := dispatcher.Stop(stopTimeout); err != nil {
			appLog.Error("dispatcher stop", err)
		}
	}()

	return srv.ListenAndServe(ctx, conf.Listen)
}

// applyReload pushes the settings that can change at runtime. Listen
// address, database and credentials need a restart.
func applyReload(cur, next *config.Config, d *notify.Dispatcher, srv *web.Server) {
	appLog.SetLevel(appLog.ParseLevel(next.LogLevel))

	if next.CheckCron != cur.CheckCron {
		if s, err := notify.ParseSchedule(next.CheckCron); err == nil {
			d.SetSchedule(s)
			appLog.Info("check schedule changed", "check_cron", next.CheckCron)
		}
	}
	if next.Timezone != cur.Timezone {
		if loc, err := next.Location(); err == nil {
			d.SetLocation(loc)
			srv.SetLocation(loc)
			appLog.Info("timezone changed", "timezone", loc.String())
		}
	}

	if next.Listen != cur.Listen || next.Database != cur.Database {
		appLog.Warn("listen/database changes take effect after restart")
	}

	cur.LogLevel, cur.CheckCron, cur.Timezone = next.LogLevel, next.CheckCron, next.Timezone
}

func exportFile(ctx context.Context, st *store.Store, path string, loc *time.Location) error {
	events, err := st.List(ctx, false)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if isICS(path) {
		err = transfer.ExportICS(f, events, time.Now().In(loc))
	} else {
		err = transfer.ExportJSON(f, events)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	appLog.Info("events exported", "path", path, "count", len(events))
	return nil
}

func importFile(ctx context.Context, st *store.Store, path string, loc *time.Location) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var res transfer.Result
	if isICS(path) {
		res, err = transfer.ImportICS(ctx, f, st, time.Now().In(loc))
	} else {
		res, err = transfer.ImportJSON(ctx, f, st)
	}
	if err != nil {
		return err
	}

	for _, e := range res.Errors {
		appLog.Warn("entry not imported", "index", e.Index, "name", e.Name, "error", e.Error)
	}
	if res.Imported == 0 && res.Failed > 0 {
		return errors.New("no entries imported")
	}
	return nil
}

func isICS(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ics", ".ical", ".ifb":
		return true
	default:
		return false
	}
}

// printPasswordHash prompts for a password twice and prints the hash to
// stdout. Without a terminal a single line is read from stdin.
func printPasswordHash() error {
	var password string

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Enter password:   ")
		first, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		fmt.Fprint(os.Stderr, "Confirm password: ")
		second, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		if string(first) != string(second) {
			return errors.New("passwords do not match")
		}
		password = string(first)
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if password == "" {
		return errors.New("password cannot be empty")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "countdown", "config.yaml")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", defaultConfigPath(), "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Optional KEY=VALUE file applied before COUNTDOWN_* overrides")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one notification check and exit")
	flag.BoolVar(&cfg.testNotify, "test-notify", false, "Send a test notification and exit")
	flag.StringVar(&cfg.exportPath, "export", "", "Write all events to this file (.json or .ics) and exit")
	flag.StringVar(&cfg.importPath, "import", "", "Import events from this file (.json or .ics) and exit")
	flag.BoolVar(&cfg.hashPass, "hash-password", false, "Read a password and print its Argon2id hash for basic_auth.password")

	flag.Parse()

	return cfg
}
