package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/osdodo/lansync/pkg/connection"
	"github.com/osdodo/lansync/pkg/discovery"
	"github.com/osdodo/lansync/pkg/status"
	"github.com/osdodo/lansync/pkg/syncer"
	"github.com/osdodo/lansync/pkg/transport"
	"github.com/osdodo/lansync/pkg/tui"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	serverVar := flag.String("server", "", "base url of the relay, for example http://192.168.1.2:8080")
	discoverVar := flag.Duration("discover", 5*time.Second, "how long to look for a relay over mdns when -server is empty")
	logVar := flag.String("log", filepath.Join(os.TempDir(), "lansync.log"), "log file")
	verboseVar := flag.Bool("v", false, "debug logging")
	flag.Parse()

	// The terminal belongs to the text area, so logs go to a file.
	logFile, err := os.OpenFile(*logVar, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	level := slog.LevelInfo
	if *verboseVar {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: level})))

	base := *serverVar
	if base == "" {
		fmt.Println("Looking for a relay on the local network...")
		ctx, cancel := context.WithTimeout(context.Background(), *discoverVar)
		base, err = discovery.Lookup(ctx)
		cancel()
		if err != nil {
			return err
		}
	}
	address, err := transport.Address(base)
	if err != nil {
		return err
	}

	var p *tea.Program
	var manager *connection.Manager
	var ctrl *syncer.Controller
	model := tui.New(base, tui.Binding{
		Start: func(m *tui.Model) {
			sched := tui.Scheduler(p)
			notifier := status.NewNotifier(sched, status.DefaultClearAfter)
			manager = connection.New(sched, transport.NewWebSocketDialer(sched.Post), address, notifier, nil)
			ctrl = syncer.New(sched, m, manager, notifier, nil)
			manager.OnReceive(ctrl.Receive)
			m.Bind(ctrl, notifier)
			manager.Start()
		},
		Stop: func() {
			if ctrl != nil {
				ctrl.Stop()
			}
			if manager != nil {
				manager.Stop()
			}
		},
	})

	p = tea.NewProgram(model, tea.WithAltScreen(), tea.WithReportFocus())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run ui: %w", err)
	}
	return nil
}
