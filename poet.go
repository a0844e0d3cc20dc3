package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jessevdk/go-flags"
	"github.com/minio/sha256-simd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/poet-network/poet/config"
	"github.com/poet-network/poet/enclave"
	"github.com/poet-network/poet/enclave/attested"
	"github.com/poet-network/poet/enclave/simulated"
	"github.com/poet-network/poet/logging"
	"github.com/poet-network/poet/service"
)

// Poet binary version.
// It should be passed during the build with '-ldflags "-X main.version="'.
var version = "unknown"

// poetMain is the true entry point for poet. This function is required since
// defers created in the top-level scope of a main method aren't executed if
// os.Exit() is called.
func poetMain() error {
	var err error
	// Start with a default Config with sane settings
	cfg := config.DefaultConfig()
	// Pre-parse the command line to check for an alternative Config file
	cfg, err = config.ParseFlags(cfg)
	if err != nil {
		return err
	}
	// Load configuration file overwriting defaults with any specified options
	// Parse CLI options and overwrite/add any specified options
	cfg, err = config.ReadConfigFile(cfg)
	if err != nil {
		return err
	}

	cfg, err = config.SetupConfig(cfg)
	if err != nil {
		return err
	}
	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	cfg, err = config.ParseFlags(cfg)
	if err != nil {
		return err
	}

	// Initialize logging
	logLevel := zap.InfoLevel
	if cfg.DebugLog {
		logLevel = zap.DebugLevel
	}
	logger := logging.New(logLevel, config.LogFile(cfg), cfg.JSONLog)
	ctx := logging.NewContext(context.Background(), logger)

	defer func() {
		logger.Info("shutdown complete")
	}()

	// Show version at startup.
	logger.Sugar().Infof("version: %s, dir: %v, datadir: %v, backend: %v", version, cfg.PoetDir, cfg.DataDir, cfg.Backend)

	// Enable http profiling server if requested.
	if cfg.Profile != "" {
		logger.Sugar().Infof("starting HTTP profiling on port %v", cfg.Profile)
		go func() {
			listenAddr := net.JoinHostPort("", cfg.Profile)
			profileRedirect := http.RedirectHandler("/debug/pprof",
				http.StatusSeeOther)
			http.Handle("/", profileRedirect)
			fmt.Println(http.ListenAndServe(listenAddr, nil))
		}()
	} else {
		// Disable go default unbounded memory profiler.
		runtime.MemProfileRate = 0
	}

	if cfg.CPUProfile != "" {
		f, err := os.Create(cfg.CPUProfile)
		if err != nil {
			logger.With(zap.Error(err)).Error("could not create CPU profile")
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			logger.With(zap.Error(err)).Error("could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	boundary := newBoundary(cfg.Backend)
	if err := boundary.Initialize(ctx, enclave.InitOpts{
		DataDir:   cfg.DataDir,
		ConfigDir: cfg.ConfigDir,
	}); err != nil {
		return fmt.Errorf("failed to initialize trust boundary: %w", err)
	}
	defer func() {
		if err := boundary.Terminate(); err != nil {
			logger.With(zap.Error(err)).Warn("terminating trust boundary")
		}
	}()

	svc, err := service.NewService(ctx, cfg.Service, cfg.DataDir, boundary)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.With(zap.Error(err)).Warn("closing service")
		}
	}()

	if cfg.Commitment != "" {
		if _, err := svc.PublicKey(); errors.Is(err, service.ErrNotSignedUp) {
			info, err := svc.Signup(ctx, cfg.Commitment)
			if err != nil {
				return fmt.Errorf("signup failed: %w", err)
			}
			logger.Sugar().Infof("signed up with public key %s", info.PoetPublicKey)
		}
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return nil
	})
	if cfg.MetricsListener != nil {
		eg.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsListener)
		})
	}
	if cfg.Cycle {
		eg.Go(func() error {
			return runCycle(ctx, svc)
		})
	}
	return eg.Wait()
}

func newBoundary(backend string) enclave.TrustBoundary {
	if backend == "attested" {
		return attested.New(clock.New())
	}
	return simulated.New()
}

func serveMetrics(ctx context.Context, listener net.Addr) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: listener.String(), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logging.FromContext(ctx).Sugar().Infof("metrics listening on %s", listener)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// runCycle drives the timer/certificate loop until shutdown. Without a
// consensus engine attached the certified block is synthesized from the
// chain position.
func runCycle(ctx context.Context, svc *service.Service) error {
	logger := logging.FromContext(ctx)
	for {
		timer, err := svc.CreateWaitTimer(ctx)
		if err != nil {
			return fmt.Errorf("creating wait timer: %w", err)
		}

		wait := time.Duration(timer.Timer.Duration * float64(time.Second))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		blockHash := sha256.Sum256([]byte(timer.Timer.PreviousCertID))
		cert, err := svc.CreateWaitCertificate(ctx, hex.EncodeToString(blockHash[:]))
		if err != nil {
			logger.With(zap.Error(err)).Warn("wait certificate rejected")
			continue
		}
		logger.Sugar().Infof("issued certificate %s", cert.Identifier())
	}
}

func main() {
	// Call the "real" main in a nested manner so the defers will properly
	// be executed in the case of a graceful shutdown.
	if err := poetMain(); err != nil {
		// If it's the flag utility error don't print it,
		// because it was already printed.
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
