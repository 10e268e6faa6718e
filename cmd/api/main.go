package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"afiliados.org/internal/app"
	"afiliados.org/internal/config"
	"afiliados.org/internal/httpapi"
	"afiliados.org/internal/janitor"
	"afiliados.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := obs.NewLogger("afiliados-api", cfg.LogLevel, cfg.LogFormat, os.Stdout)

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open backends")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.WithError(err).Warn("close backends")
		}
	}()

	svc, err := app.NewService(cfg, deps, log)
	if err != nil {
		log.WithError(err).Fatal("build auth service")
	}

	probe := httpapi.ReadyProbe{}
	if deps.PG != nil {
		probe.DB = deps.PG
	}
	if deps.Cache != nil {
		probe.Cache = deps.Cache
	}

	api := httpapi.New(svc, probe, version,
		httpapi.WithLogger(log.WithField("component", "http")),
		httpapi.WithCORSOrigins(cfg.CORSOrigins),
		httpapi.WithRateLimit(cfg.HTTPRatePerSecond, cfg.HTTPBurst),
		httpapi.WithTrustedProxies(cfg.TrustedProxies),
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSvc := httpapi.NewGRPCServer(svc, probe, log.WithField("component", "grpc"))
	grpcSrv := grpcSvc.NewServer()
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.WithError(err).Fatal("listen grpc")
	}

	jan := janitor.New(deps.Store, deps.Deny, janitor.WithLogger(log.WithField("component", "janitor")))
	if err := jan.Start(cfg.JanitorSchedule); err != nil {
		log.WithError(err).Fatal("schedule janitor")
	}

	go func() {
		log.WithField("addr", srv.Addr).Infof("starting afiliados-api %s", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen http")
		}
	}()
	go func() {
		log.WithField("addr", cfg.GRPCAddr).Info("starting grpc server")
		if err := grpcSrv.Serve(grpcLis); err != nil {
			log.WithError(err).Error("grpc serve")
		}
	}()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			grpcSvc.RefreshHealth(checkCtx)
			cancel()
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcSvc.Shutdown()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	jan.Stop()
	log.Info("stopped")
}
