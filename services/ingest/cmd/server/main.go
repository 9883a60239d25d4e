package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"meetinggenius/packages/logger"
	"meetinggenius/services/ingest/config"
	"meetinggenius/services/ingest/internal/database"
	"meetinggenius/services/ingest/internal/gemini"
	"meetinggenius/services/ingest/internal/grpc"
	"meetinggenius/services/ingest/internal/job"
	"meetinggenius/services/ingest/internal/route"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 1. 加载配置
	config.MustLoad("config.yaml")
	conf := config.Conf

	// 2. 初始化日志
	logger.Init(logger.Config{Level: conf.Log.Level, Format: conf.Log.Format, Service: "ingest-service"})
	if conf.Server.Mode != "" {
		gin.SetMode(conf.Server.Mode)
	}

	// 3. 初始化存储连接
	if err := database.InitDatabase(); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer database.Close()

	// 4. 构建分块、结果与台账存储
	chunks, err := newChunkStore(conf)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build chunk store")
	}
	results, err := newResultStore(conf)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build result store")
	}
	ledger, err := newLedger(conf)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build job ledger")
	}

	// 5. 推理后端、编排服务与调度器
	client := gemini.NewClient(geminiConfig(conf.Gemini))
	service := job.NewService(client, chunks, results, ledger)
	dispatcher := job.NewDispatcher(service, ledger, conf.Pipeline.MaxConcurrentJobs)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 6. 队列消费（可选）
	var amqpConn *amqp.Connection
	var consumer *job.Consumer
	if conf.AMQP.Enabled {
		amqpConn, err = amqp.Dial(conf.AMQP.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to amqp")
		}
		consumer, err = job.NewConsumer(amqpConn, job.ConsumerConfig{
			Exchange:   conf.AMQP.Exchange,
			RoutingKey: conf.AMQP.RoutingKey,
			Queue:      conf.AMQP.Queue,
			Prefetch:   conf.AMQP.Prefetch,
		}, dispatcher)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start amqp consumer")
		}
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("amqp consumer stopped")
			}
		}()
	}

	// 7. gRPC 健康检查（可选）
	var grpcServer *grpc.Server
	if conf.GRPC.Enabled {
		grpcServer, err = grpc.NewServer(conf.GRPC.Port)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create grpc server")
		}
		go func() {
			log.Info().Str("addr", grpcServer.GetAddr()).Msg("grpc server starting")
			if err := grpcServer.Start(); err != nil {
				log.Error().Err(err).Msg("grpc server stopped")
			}
		}()
		grpcServer.SetServing(true)
	}

	// 8. 启动 HTTP 服务
	router := route.SetupRouter(route.Deps{
		FrontendURL: conf.Server.FrontendURL,
		JWTSecret:   conf.JWT.Secret,
		Chunks:      chunks,
		Service:     service,
		Dispatcher:  dispatcher,
	})
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", conf.Server.Host, conf.Server.Port),
		Handler:      router,
		ReadTimeout:  conf.Server.ReadTimeout,
		WriteTimeout: conf.Server.WriteTimeout,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	// 9. 依次停止入口、等待进行中的任务、释放连接
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if grpcServer != nil {
		grpcServer.SetServing(false)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	if consumer != nil {
		_ = consumer.Close()
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("jobs still running at shutdown")
	}
	if amqpConn != nil {
		_ = amqpConn.Close()
	}
	if grpcServer != nil {
		grpcServer.Stop()
	}
	log.Info().Msg("server exited")
}
