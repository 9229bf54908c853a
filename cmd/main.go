package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/lvdashuaibi/bidfeed/config"
	"github.com/lvdashuaibi/bidfeed/internal/api/graph"
	adminhttp "github.com/lvdashuaibi/bidfeed/internal/api/http"
	"github.com/lvdashuaibi/bidfeed/internal/runtimectx"
)

const tokenSecretEnv = "BIDFEED_TOKEN_SECRET"

var (
	configPath = flag.String("config", "config/config.yaml", "path to the config file")
	instanceID = flag.Int("instance", 1, "instance id, used to offset the listen port for multi-instance runs")
)

func main() {
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}
	log.Info("config loaded", zap.Int("instance", *instanceID))

	secret := os.Getenv(tokenSecretEnv)
	if secret == "" {
		log.Fatal("missing bearer token signing secret", zap.String("env", tokenSecretEnv))
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := runtimectx.New(rootCtx, cfg, secret, log)
	if err != nil {
		log.Fatal("failed to build runtime context", zap.Error(err))
	}
	defer rt.Close()
	log.Info("runtime context ready")

	graphqlServer := graph.NewServer(rt.BidProc, rt.Leaderboard, rt.Monitor, rt.Broadcaster, rt.TokenCache, rt.Issuer)
	adminRouter := adminhttp.NewRouter(rt.Hot, rt.Durable, cfg.Session)

	graphqlPort := cfg.Server.Port + *instanceID - 1
	adminPort := graphqlPort + 1000

	go func() {
		if err := graphqlServer.Start(graphqlPort, cfg.GraphQL); err != nil {
			log.Fatal("graphql server failed", zap.Error(err))
		}
	}()
	go func() {
		if err := adminRouter.Start(adminPort); err != nil {
			log.Fatal("admin server failed", zap.Error(err))
		}
	}()

	log.Info("bidfeed instance up",
		zap.Int("instance", *instanceID),
		zap.String("graphql_addr", "http://localhost:"+strconv.Itoa(graphqlPort)),
		zap.String("admin_addr", "http://localhost:"+strconv.Itoa(adminPort)))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")
}
