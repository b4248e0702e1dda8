package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/mdp/qrterminal/v3"

	"github.com/osdodo/lansync/pkg/discovery"
	"github.com/osdodo/lansync/pkg/relay"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "0.0.0.0:8080", "the address to listen on")
	redisVar := flag.String("redis", os.Getenv("LANSYNC_REDIS_ADDR"), "redis address to share the text with other relays, empty for in-process only")
	channelVar := flag.String("channel", "lansync", "redis pub/sub channel")
	rateVar := flag.Float64("rate", 0, "max updates per second accepted from one client, 0 for unlimited")
	maxSizeVar := flag.Int64("max-size", 0, "max update size in bytes, 0 for unlimited")
	mdnsVar := flag.Bool("mdns", true, "advertise the relay over mdns")
	qrVar := flag.Bool("qr", true, "print a qr code of the url")
	verboseVar := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verboseVar {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	_, portRaw, err := net.SplitHostPort(*addrVar)
	if err != nil {
		return fmt.Errorf("failed to parse address: %w", err)
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil {
		return fmt.Errorf("failed to parse port: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var broker relay.Broker = relay.NewMemoryBroker()
	if *redisVar != "" {
		if broker, err = relay.NewRedisBroker(ctx, *redisVar, *channelVar); err != nil {
			return err
		}
	}
	defer broker.Close()

	hub := relay.NewHub(broker, &relay.Options{Rate: *rateVar, MaxMessageSize: *maxSizeVar})
	httpServer := &http.Server{Addr: *addrVar, Handler: relay.NewRouter(hub)}

	wg := new(sync.WaitGroup)
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hub.Run(ctx); err != nil {
			errs <- fmt.Errorf("relay stopped: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("server listen failed: %w", err)
		}
	}()

	url := fmt.Sprintf("http://%s", net.JoinHostPort(discovery.LocalIP().String(), portRaw))
	fmt.Printf("\nConnect with: lansync -server %s\n\n", url)
	if *qrVar {
		qrterminal.GenerateHalfBlock(url, qrterminal.L, os.Stdout)
		fmt.Println()
	}

	if *mdnsVar {
		if server, err := discovery.Register(port); err != nil {
			slog.Error("mdns unavailable", "err", err)
		} else {
			defer server.Shutdown()
		}
	}

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case runErr = <-errs:
	}
	cancel()
	_ = httpServer.Close()

	wg.Wait()
	return runErr
}
