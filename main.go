package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"VisionCount/config"
	"VisionCount/engine"
	backend "VisionCount/gRPC"
	"VisionCount/logger"
	"VisionCount/monitor"
	"VisionCount/web"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func GetOutboundIP() (string, error) {
	// 8.8.8.8 只是为了查路由表得到本地出口 IP，不会真正发包
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

func main() {
	cfg, warnings, err := config.Load(config.DefaultPath)
	if err != nil {
		fmt.Println("Failed to read config file:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Log()
	for _, w := range warnings {
		logger.S().Warnf("config: %s", w)
	}

	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
	fmt.Println(" HTTP  Port:", cfg.HTTPPort)
	fmt.Println(" gRPC  Port:", cfg.RPCPort)
	fmt.Println(" Metrics Port:", cfg.MonitorPort)
	fmt.Println(" Backend:", cfg.InferenceBackend, "Model:", cfg.ModelPath)
	fmt.Println(strings.Repeat("#", 64))

	model, err := engine.LoadEngine(cfg.Engine())
	if err != nil {
		log.Fatal("Failed to load model", zap.String("modelPath", cfg.ModelPath), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monDone := make(chan struct{})
	go func() {
		defer close(monDone)
		monitor.StartMon(cfg.MonitorPort, ctx)
	}()

	rpc, _, err := backend.StartGRPCServer(cfg.RPCPort, backend.NewServer(model))
	if err != nil {
		log.Fatal("Failed to start gRPC server", zap.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)
	srv := web.NewServer(model, cfg.OutputPath).HTTPServer(cfg.HTTPPort, cfg.HTTPTimeouts())
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server stopped", zap.Error(err))
			stop()
		}
	}()
	if ip, err := GetOutboundIP(); err == nil {
		log.Info("VisionCount ready", zap.String("url", fmt.Sprintf("http://%s:%d/", ip, cfg.HTTPPort)))
	} else {
		log.Info("VisionCount ready", zap.Int("port", cfg.HTTPPort))
	}

	<-ctx.Done()
	log.Warn("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown", zap.Error(err))
	}
	rpc.GracefulStop()
	<-monDone
	model.Destroy()
	log.Info("Safely exited")
}
