package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	"github.com/MrEthical07/goAuthClient/authtest"
	promexport "github.com/MrEthical07/goAuthClient/metrics/export/prometheus"
	"github.com/MrEthical07/goAuthClient/storage"
	"github.com/MrEthical07/goAuthClient/transport"
)

const appID = "loadtest"

func main() {
	var (
		devices     = flag.Int("devices", 64, "number of client devices, one engine each")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "authenticated requests to issue")
		expireEvery = flag.Int("expire-every", 5000, "expire every access token after this many requests; 0 disables")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		metricsAddr = flag.String("metrics-addr", "", "serve prometheus metrics of device 0 on this address")
		verbose     = flag.Bool("verbose", false, "log engine warnings")
	)
	flag.Parse()

	if *devices <= 0 || *concurrency <= 0 || *ops <= 0 || *expireEvery < 0 {
		fmt.Fprintln(os.Stderr, "devices, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewProduction()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
			os.Exit(1)
		}
		logger = l
	}
	defer logger.Sync() //nolint:errcheck

	client, cleanup, err := openRedis(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	server := authtest.MustNewServer(authtest.Options{
		AppID:      appID,
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	})

	ctx := context.Background()
	engines := make([]*goAuthClient.Engine, *devices)
	fmt.Printf("logging in %d devices...\n", *devices)
	startLogin := time.Now()
	for i := range engines {
		username := fmt.Sprintf("user-%d@loadtest", i)
		server.RegisterUser(username, "pw")

		cfg := goAuthClient.DefaultConfig()
		cfg.App.ID = appID
		cfg.Storage.Prefix = fmt.Sprintf("device-%d", i)
		cfg.Metrics.EnableLatencyHistograms = true

		engine, err := goAuthClient.New().
			WithConfig(cfg).
			WithTransport(server).
			WithStorage(storage.NewRedis(client, "goauthclient-loadtest", time.Second)).
			WithLogger(logger).
			Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
			os.Exit(1)
		}
		defer engine.Close()

		if _, err := engine.LoginWithCredential(ctx, goAuthClient.UserPasswordCredential{Username: username, Password: "pw"}); err != nil {
			fmt.Fprintf(os.Stderr, "login %s: %v\n", username, err)
			os.Exit(1)
		}
		engines[i] = engine
	}
	fmt.Printf("logged in in %s\n", time.Since(startLogin).Round(time.Millisecond))

	if *metricsAddr != "" {
		exporter := promexport.NewPrometheusExporter(engines[0])
		srv := &http.Server{Addr: *metricsAddr, Handler: exporter.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
		fmt.Printf("serving metrics on %s\n", *metricsAddr)
	}

	stats := runRequestPhase(ctx, server, engines, *ops, *concurrency, *expireEvery)

	fmt.Println("---- results ----")
	printStats("request", stats)
	printCounters(engines)
	fmt.Printf("server: %s\n", server)
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func runRequestPhase(ctx context.Context, server *authtest.Server, engines []*goAuthClient.Engine, ops, concurrency, expireEvery int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				if expireEvery > 0 && i > 0 && i%expireEvery == 0 {
					server.ExpireAccessTokens()
				}

				engine := engines[r.Intn(len(engines))]
				req := &transport.Request{
					Method: http.MethodPost,
					Path:   "/api/items",
					Body:   []byte(fmt.Sprintf(`{"n":%d}`, i)),
				}
				t0 := time.Now()
				_, err := engine.DoAuthenticatedRequest(ctx, req)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func printCounters(engines []*goAuthClient.Engine) {
	var requests, retried, refreshes, coalesced, fatal uint64
	for _, e := range engines {
		c := e.MetricsSnapshot().Counters
		requests += c[goAuthClient.MetricRequestSuccess]
		retried += c[goAuthClient.MetricRequestRetried]
		refreshes += c[goAuthClient.MetricRefreshSuccess]
		coalesced += c[goAuthClient.MetricRefreshCoalesced]
		fatal += c[goAuthClient.MetricRequestFatalAuth]
	}
	fmt.Printf("engines: requests=%d retried=%d refreshes=%d coalesced=%d fatal_auth=%d\n",
		requests, retried, refreshes, coalesced, fatal)
}
