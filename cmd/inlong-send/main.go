package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	logAdapter "github.com/songhahaha66/inlong/internal/adapters/log"
	"github.com/songhahaha66/inlong/internal/app"
	"github.com/songhahaha66/inlong/internal/config"
	"github.com/songhahaha66/inlong/pkg/dataproxy"
	"github.com/songhahaha66/inlong/pkg/log"
)

const longHelp = `Send records to InLong DataProxy.

Each line read from stdin (or from --file) becomes one message for the
given group and stream. Messages are packed, compressed and delivered by
the same client the library exposes; the process exits once every message
has been acknowledged or the close timeout expires.

Configuration is layered: flags override INLONG_* environment variables,
which override the config file. The config file may be the native SDK
JSON document ({"init-param": {...}}), TOML or YAML.`

var exampleUsage = strings.TrimSpace(`
  tail -F app.log | inlong-send --group-ids my_group --stream my_stream --manager-url http://manager:8083/inlong/manager/openapi/dataproxy/getIpList
  inlong-send --config dataproxy.json --stream my_stream --file records.txt
  inlong-send --proxy-addrs 10.0.0.1:46801,10.0.0.2:46801 --group-ids g --stream s --metrics-addr :9100
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

type runOptions struct {
	configPath   string
	group        string
	stream       string
	file         string
	closeTimeout time.Duration
	metricsAddr  string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := config.DefaultConfig()
	var ro runOptions

	root := &cobra.Command{
		Use:          "inlong-send",
		Short:        "Send line-delimited records to InLong DataProxy",
		Long:         longHelp,
		Example:      exampleUsage,
		Version:      fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if err := config.Load(&cfg, ro.configPath, changed); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if ro.group == "" && len(cfg.GroupIDs) > 0 {
				ro.group = cfg.GroupIDs[0]
			}
			if ro.group == "" || ro.stream == "" {
				return errors.New("a group (--group or --group-ids) and --stream are required")
			}
			return run(cmd.Context(), cfg, ro)
		},
	}

	f := root.Flags()
	f.StringVar(&ro.configPath, "config", "", "path to config file (.json, .toml or .yaml)")
	f.StringVar(&ro.group, "group", "", "group ID for sent messages (defaults to the first of --group-ids)")
	f.StringVar(&ro.stream, "stream", "", "stream ID for sent messages")
	f.StringVar(&ro.file, "file", "", "read messages from this file instead of stdin")
	f.DurationVar(&ro.closeTimeout, "close-timeout", 10*time.Second, "how long to wait for in-flight messages on exit")
	f.StringVar(&ro.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9100)")

	f.StringSliceVar(&cfg.GroupIDs, "group-ids", cfg.GroupIDs, "group IDs to resolve proxies for")
	f.StringVar(&cfg.ManagerURL, "manager-url", cfg.ManagerURL, "manager endpoint returning the proxy list")
	f.DurationVar(&cfg.ManagerUpdateInterval, "manager-update-interval", cfg.ManagerUpdateInterval, "proxy list refresh interval")
	f.DurationVar(&cfg.ManagerTimeout, "manager-timeout", cfg.ManagerTimeout, "manager request timeout")
	f.StringSliceVar(&cfg.ProxyAddrs, "proxy-addrs", cfg.ProxyAddrs, "static proxy addresses (host:port)")
	f.StringVar(&cfg.ProxyListFile, "proxy-list-file", cfg.ProxyListFile, "file with one proxy address per line, reloaded on change")
	f.StringVar(&cfg.ProxyCacheFile, "proxy-cache-file", cfg.ProxyCacheFile, "cache of the last manager answer")
	f.IntVar(&cfg.MaxProxyNum, "max-proxy-num", cfg.MaxProxyNum, "maximum proxies kept in the pool")
	f.IntVar(&cfg.NotifyWorkers, "notify-workers", cfg.NotifyWorkers, "callback worker goroutines")
	f.DurationVar(&cfg.DispatchIntervalZip, "dispatch-interval-zip", cfg.DispatchIntervalZip, "accepted for config compatibility; ignored")
	f.DurationVar(&cfg.DispatchInterval, "dispatch-interval", cfg.DispatchInterval, "pack timeout scan interval")
	f.IntVar(&cfg.RecvBufSize, "recv-buf-size", cfg.RecvBufSize, "TCP receive buffer size")
	f.IntVar(&cfg.SendBufSize, "send-buf-size", cfg.SendBufSize, "TCP send buffer size")

	f.BoolVar(&cfg.EnablePack, "enable-pack", cfg.EnablePack, "pack several messages per batch")
	f.IntVar(&cfg.PackSize, "pack-size", cfg.PackSize, "batch size trigger in bytes")
	f.DurationVar(&cfg.PackTimeout, "pack-timeout", cfg.PackTimeout, "maximum age of an open batch")
	f.IntVar(&cfg.ExtPackSize, "ext-pack-size", cfg.ExtPackSize, "largest accepted message in bytes")
	f.IntVar(&cfg.MaxPackCount, "max-pack-count", cfg.MaxPackCount, fmt.Sprintf("batch message count trigger (0 = default %d)", app.DefaultMaxPackCount))
	f.IntVar(&cfg.MaxBufferBytes, "max-buffer-bytes", cfg.MaxBufferBytes, "per-stream memory ceiling (0 = unlimited)")
	f.StringVar(&cfg.BackpressurePolicy, "backpressure", cfg.BackpressurePolicy, "policy at the memory ceiling: reject, block or drop")
	f.DurationVar(&cfg.BlockTimeout, "block-timeout", cfg.BlockTimeout, "wait bound for the block policy")

	f.BoolVar(&cfg.EnableZip, "enable-zip", cfg.EnableZip, "compress batches")
	f.IntVar(&cfg.MinZipLen, "min-zip-len", cfg.MinZipLen, "smallest batch worth compressing")
	f.StringVar(&cfg.ZipCodec, "zip-codec", cfg.ZipCodec, "compression codec: snappy, gzip or zstd")
	f.StringVar(&cfg.Encoding, "encoding", cfg.Encoding, "batch encoding: msgpack or json")

	f.DurationVar(&cfg.TCPDetectionInterval, "detection-interval", cfg.TCPDetectionInterval, "proxy health probe interval")
	f.DurationVar(&cfg.TCPIdleTime, "idle-time", cfg.TCPIdleTime, "idle connection lifetime")
	f.IntVar(&cfg.MaxConnsPerProxy, "max-conns", cfg.MaxConnsPerProxy, "connections per proxy")
	f.StringVar(&cfg.UnhealthyPolicy, "unhealthy-policy", cfg.UnhealthyPolicy, "dialing unhealthy proxies: probe or fail-fast")

	f.DurationVar(&cfg.SendTimeout, "send-timeout", cfg.SendTimeout, "per-attempt send timeout")
	f.IntVar(&cfg.RetryTimes, "retry-times", cfg.RetryTimes, "send attempts per batch")
	f.DurationVar(&cfg.RetryBackoffInitial, "retry-backoff-initial", cfg.RetryBackoffInitial, "first retry delay")
	f.DurationVar(&cfg.RetryBackoffMax, "retry-backoff-max", cfg.RetryBackoffMax, "retry delay cap")
	f.IntVar(&cfg.MaxInflight, "max-inflight", cfg.MaxInflight, "concurrent batch deliveries")

	f.IntVar(&cfg.LogNum, "log-num", cfg.LogNum, "rotated log files kept (file logging only)")
	f.Int64Var(&cfg.LogSize, "log-size", cfg.LogSize, "log file size before rotation (file logging only)")
	f.IntVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "0 error, 1 warn, 2 info, 3 debug, 4 trace")
	f.StringVar(&cfg.LogPath, "log-path", cfg.LogPath, "log directory (file logging only)")

	f.BoolVar(&cfg.EnableHTTPReport, "enable-http-report", cfg.EnableHTTPReport, "report over HTTP instead of TCP")
	f.StringVar(&cfg.HTTPReportURL, "http-report-url", cfg.HTTPReportURL, "DataProxy HTTP report endpoint")
	f.DurationVar(&cfg.HTTPReportTimeout, "http-report-timeout", cfg.HTTPReportTimeout, "HTTP report timeout")

	f.BoolVar(&cfg.NeedAuth, "need-auth", cfg.NeedAuth, "authenticate manager requests")
	f.StringVar(&cfg.AuthID, "auth-id", cfg.AuthID, "manager auth ID")
	f.StringVar(&cfg.AuthKey, "auth-key", cfg.AuthKey, "manager auth key")

	return root
}

func run(parent context.Context, cfg config.Config, ro runOptions) error {
	logger := logAdapter.NewConsoleLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var delivered, failed atomic.Int64
	cb := dataproxy.CallbackFunc(func(r dataproxy.Result) {
		if r.Err != nil {
			failed.Add(1)
			logger.Debug("message failed", log.String("stream", r.StreamID), log.Err(r.Err))
			return
		}
		delivered.Add(1)
	})

	client, err := dataproxy.New(cfg, dataproxy.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	if ro.metricsAddr != "" {
		srv := &http.Server{
			Addr:              ro.metricsAddr,
			Handler:           promhttp.HandlerFor(client.Registry(), promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", log.Err(err))
			}
		}()
		defer srv.Close()
	}

	in := io.Reader(os.Stdin)
	if ro.file != "" {
		fh, err := os.Open(ro.file)
		if err != nil {
			_ = client.Close(ro.closeTimeout)
			return fmt.Errorf("open input: %w", err)
		}
		defer fh.Close()
		in = fh
	}

	sent, rejected := sendLines(ctx, client, in, cfg.ExtPackSize, ro, cb, logger)

	closeErr := client.Close(ro.closeTimeout)
	logger.Info("done",
		log.Int64("sent", sent),
		log.Int64("rejected", rejected),
		log.Int64("delivered", delivered.Load()),
		log.Int64("failed", failed.Load()),
	)
	if closeErr != nil {
		return closeErr
	}
	if rejected > 0 || failed.Load() > 0 {
		return fmt.Errorf("%d message(s) not delivered", rejected+failed.Load())
	}
	return nil
}

// sendLines sends every non-empty line of in until EOF or ctx ends.
func sendLines(ctx context.Context, client *dataproxy.Client, in io.Reader, maxLine int, ro runOptions, cb dataproxy.Callback, logger log.Logger) (sent, rejected int64) {
	lines := make(chan []byte)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64<<10), maxLine+1)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			logger.Error("read input failed", log.Err(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("interrupted, flushing")
			return sent, rejected
		case line, ok := <-lines:
			if !ok {
				return sent, rejected
			}
			if len(line) == 0 {
				continue
			}
			if err := client.Send(ctx, ro.group, ro.stream, line, cb); err != nil {
				rejected++
				logger.Warn("message rejected", log.Err(err))
				continue
			}
			sent++
		}
	}
}
