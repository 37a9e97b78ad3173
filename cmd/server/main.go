package main

import (
	"flag"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/app/bootstrap"
	cfgpkg "github.com/smartcharger/charging-server/internal/config"
	"github.com/smartcharger/charging-server/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径，空值时读取CHG_CONFIG或configs/example.yaml")
	flag.Parse()

	// .env 仅开发环境存在，缺失不报错
	_ = godotenv.Load()

	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := bootstrap.Run(cfg, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}
