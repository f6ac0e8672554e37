package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/yourusername/blinkd/internal/account"
	"github.com/yourusername/blinkd/internal/api"
	"github.com/yourusername/blinkd/internal/client"
	"github.com/yourusername/blinkd/internal/core"
	"github.com/yourusername/blinkd/internal/metrics"
	"github.com/yourusername/blinkd/pkg/logger"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "configs/config.yaml"
	version           = "0.1.0"
)

func main() {
	// 커맨드라인 플래그 파싱
	configPath := flag.String("config", defaultConfigPath, "설정 파일 경로")
	showVersion := flag.Bool("version", false, "버전 정보 출력")
	pin := flag.String("pin", "", "2단계 인증 PIN")
	flag.Parse()

	// 버전 정보 출력
	if *showVersion {
		fmt.Printf("Blink Camera Daemon v%s\n", version)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	// 설정 로드
	config, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 로거 초기화
	if err := logger.InitLogger(logger.LogConfig{
		Level:      config.Logging.Level,
		Output:     config.Logging.Output,
		FilePath:   config.Logging.FilePath,
		MaxSize:    config.Logging.MaxSize,
		MaxBackups: config.Logging.MaxBackups,
		MaxAge:     config.Logging.MaxAge,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 시작 로그
	logger.Info("Starting Blink Camera Daemon",
		zap.String("version", version),
		zap.String("go_version", runtime.Version()),
		zap.Int("http_port", config.Server.HTTPPort),
		zap.Bool("production", config.Server.Production),
		zap.Bool("local_storage", config.LocalStorage.Enabled),
	)

	if err := run(config, *pin); err != nil {
		logger.Fatal("Daemon failed", zap.Error(err))
	}
}

func run(config *core.Config, pin string) error {
	log := logger.GetLogger()

	// 인증 핸들러 초기화
	auth := client.NewAuth(client.LoginData{
		Email:    config.Blink.Email,
		Password: config.Blink.Password,
		UniqueID: uuid.New().String(),
		DeviceID: "blinkd",
	}, time.Duration(config.Blink.Timeout)*time.Second, log)

	restored := false
	if config.Blink.CredentialsFile != "" {
		if creds, err := loadCredentials(config.Blink.CredentialsFile); err == nil {
			auth.Restore(*creds)
			restored = true
			log.Info("Restored saved credentials",
				zap.String("file", config.Blink.CredentialsFile),
				zap.String("region", creds.RegionID),
			)
		}
	}
	// 저장된 자격 증명이 없으면 설정된 리전으로 초기 지역을 잡습니다.
	// 로그인 응답의 tier가 항상 이 값을 덮어씁니다.
	if !restored && config.Blink.RegionID != "" {
		auth.Restore(client.Credentials{RegionID: config.Blink.RegionID})
	}

	apiClient := client.New(auth, time.Duration(config.Blink.Timeout)*time.Second, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 계정 오케스트레이터 초기화
	acct := account.New(apiClient, log, account.Options{
		RefreshInterval: time.Duration(config.Refresh.IntervalSec) * time.Second,
		MotionInterval:  time.Duration(config.Refresh.MotionIntervalMinutes) * time.Minute,
		ClipRetention:   time.Duration(config.Refresh.ClipRetentionMinutes) * time.Minute,
		LocalStorage:    config.LocalStorage.Enabled,
		ManifestPolicy: client.RetryPolicy{
			MaxAttempts: config.LocalStorage.MaxAttempts,
			BaseDelay:   time.Duration(config.LocalStorage.BaseDelaySec) * time.Second,
			MaxDelay:    time.Duration(config.LocalStorage.MaxDelaySec) * time.Second,
			Jitter:      true,
		},
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	auth.OnRefresh = func() {
		m.AuthRefreshes.Inc()
		if config.Blink.CredentialsFile != "" {
			if err := saveCredentials(config.Blink.CredentialsFile, auth.Export()); err != nil {
				log.Warn("Could not persist credentials", zap.Error(err))
			}
		}
	}

	hub := api.NewEventHub(log)
	acct.OnMotion(func(event account.MotionEvent) {
		log.Info("Motion detected",
			zap.String("camera", event.Camera),
			zap.String("module", event.Module),
		)
		m.MotionEvents.WithLabelValues(event.Camera).Inc()
		hub.Broadcast(event)
	})

	if err := acct.Start(ctx); err != nil {
		if !errors.Is(err, client.ErrTwoFARequired) {
			return fmt.Errorf("startup: %w", err)
		}
		if pin == "" {
			return fmt.Errorf("two-factor verification required, rerun with -pin")
		}
		if err := auth.Send2FAPin(ctx, pin); err != nil {
			return fmt.Errorf("pin verification: %w", err)
		}
		if err := acct.Start(ctx); err != nil {
			return fmt.Errorf("startup after verification: %w", err)
		}
	}

	// API 서버 시작
	server := api.NewServer(api.ServerConfig{
		Port:         config.Server.HTTPPort,
		Production:   config.Server.Production,
		ClientBuffer: config.Liveview.ClientBuffer,
		Logger:       log,
		Account:      acct,
		Client:       apiClient,
		Metrics:      m,
		Registry:     registry,
		Hub:          hub,
	})
	if err := server.Start(); err != nil {
		return fmt.Errorf("api server: %w", err)
	}
	defer server.Stop()

	// 주기적 갱신 루프
	go refreshLoop(ctx, acct, m, config, log)

	// 종료 시그널 대기
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Daemon is running. Press Ctrl+C to stop.")

	sig := <-sigChan
	logger.Info("Received shutdown signal",
		zap.String("signal", sig.String()),
	)

	cancel()
	return nil
}

// refreshLoop은 갱신 주기마다 전체 계정을 갱신합니다
func refreshLoop(ctx context.Context, acct *account.Account, m *metrics.Metrics, config *core.Config, log *zap.Logger) {
	interval := time.Duration(config.Refresh.IntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	refresh := func() {
		if err := acct.Refresh(ctx, false); err != nil {
			m.RefreshErrors.Inc()
			log.Warn("Refresh cycle failed", zap.Error(err))
			return
		}
		m.RefreshCycles.Inc()
		for name, mod := range acct.Modules() {
			up := 0.0
			if mod.Available() {
				up = 1.0
			}
			m.ModuleUp.WithLabelValues(name).Set(up)
			m.ManifestClips.WithLabelValues(name).Set(float64(mod.ManifestSize()))
		}
	}

	refresh()
	for {
		select {
		case <-ticker.C:
			refresh()
		case <-ctx.Done():
			return
		}
	}
}

func loadCredentials(path string) (*client.Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var creds client.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

func saveCredentials(path string, creds client.Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
