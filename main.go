package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"GotMail/global"
	"GotMail/logger"
	mid "GotMail/middleware"
	midsec "GotMail/middleware/security"
	"GotMail/module/mailbox"
	"GotMail/module/mailbox/event"
	mailboxsvc "GotMail/module/mailbox/service"
	mailstore "GotMail/module/mailbox/store"
	"GotMail/module/user"
	usersvc "GotMail/module/user/service"
	"GotMail/service/broker"
	"GotMail/service/delivery"
	"GotMail/service/gateway"
	"GotMail/service/gateway/handlers"
	"GotMail/service/mailer"
	mgoSrv "GotMail/service/mgo"
	redis "GotMail/service/storage/redis"
	"GotMail/tools"
	"GotMail/tools/safe"
	jwtlib "GotMail/tools/security"
)

// 角色: gateway 只跑 HTTP/WS, worker 只跑投递消费, all 两者都跑。
const (
	roleGateway = "gateway"
	roleWorker  = "worker"
	roleAll     = "all"
)

func main() {
	global.ConfigAll()

	role := strings.ToLower(tools.GetEnv("NODE_ROLE", roleAll))
	nodeID := tools.GetEnv("GATEWAY_ID", "mail_gw-1")

	// 账号与会话都在 Mongo, 起不来就没有可服务的东西
	wctx, wcancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := mgoSrv.WaitReady(wctx, mgoSrv.Manager())
	wcancel()
	if err != nil {
		logger.Errorf("[Boot] mongo not ready: %v last=%v", err, mgoSrv.Err())
		os.Exit(1)
	}
	if err := usersvc.EnsureIndexes(context.Background()); err != nil {
		logger.Warnf("[Boot] ensure indexes: %v", err)
	}
	if !mailstore.Ready() {
		logger.Errorf("[Boot] postgres not ready, check DATABASE_URL")
		os.Exit(1)
	}

	// ===== 事件链路: 序列号 / 重放 / 发布 =====

	brk := buildBroker(nodeID)
	var seq event.Sequencer
	var replay event.ReplayBuffer
	if redis.Ready() {
		seq = event.NewRedisSequencer(redis.GetRedis())
		replay = event.NewRedisReplay(redis.GetRedis(), seq, event.Options{})
	} else {
		// 单进程兜底, 重启即丢重放窗口
		logger.Warnf("[Boot] redis down, sequencer/replay fall back to memory")
		m := event.NewMemorySequencer()
		seq = m
		replay = event.NewMemoryReplay(m, event.Options{})
	}
	pub := event.NewPublisher(seq, replay, brk)

	// ===== 业务服务 =====

	mailboxSvc := mailboxsvc.New(mailboxsvc.Config{Pub: pub})

	userSvc := usersvc.New(usersvc.Config{
		JWT:    jwtlib.DefaultOptions(global.GetJwtSecret()),
		Domain: global.GetMailDomain(),
		Mailer: mailer.NewFromEnv(),
		Pub:    pub,
		Provision: func(ctx context.Context, userID string) error {
			return mailboxSvc.ProvisionUser(ctx, userID)
		},
	})
	mailboxSvc.SetResolver(userSvc)

	// ===== 投递管线 =====

	delivery.LoadFromEnv()
	var idem delivery.IdemStore
	if redis.Ready() {
		idem = delivery.NewRedisIdem(redis.GetRedis())
	}
	worker := delivery.NewWorker(delivery.WorkerConfig{
		Notifier: userSvc,
		Replier:  mailboxSvc,
		Pub:      pub,
		Idem:     idem,
	})

	useKafka := len(delivery.Cfg.Brokers) > 0
	if useKafka {
		// 发信节点也要生产者, gateway 角色同样要连
		if err := delivery.InitKafka(); err != nil {
			logger.Errorf("[Boot] kafka init failed: %v", err)
			os.Exit(1)
		}
	}

	pipeline := delivery.NewPipeline(worker)
	mailboxSvc.SetQueue(pipeline)

	var consumerCancel context.CancelFunc
	if role == roleWorker || role == roleAll {
		if useKafka {
			var cctx context.Context
			cctx, consumerCancel = context.WithCancel(context.Background())
			safe.SafeGoNamed("delivery-consumer", func() {
				if err := delivery.StartConsumerGroup(cctx, worker); err != nil {
					logger.Errorf("[Boot] consumer group exited: %v", err)
				}
			})
		} else if role == roleWorker {
			// inline 管线跟着 API 进程走, 单独的 worker 角色无事可做
			logger.Warnf("[Boot] KAFKA_BROKERS empty, worker role idles with inline pipeline")
		}
	}

	// ===== 网关与 HTTP =====

	var g *gateway.Gateway
	var srv *http.Server
	if role == roleGateway || role == roleAll {
		midsec.SetVerifier(userSvc.Authenticate)

		// 时长类不配就是 0, 走网关内置默认
		g = gateway.NewGateway(gateway.Conf{
			ID:           nodeID,
			PingInterval: tools.GetEnvDuration("WS_PING_INTERVAL", 0),
			PongWait:     tools.GetEnvDuration("WS_PONG_WAIT", 0),
			Manager: gateway.ManagerConf{
				AuthTimeout: tools.GetEnvDuration("WS_AUTH_TIMEOUT", 0),
				MaxPerUser:  tools.GetEnvInt("WS_MAX_PER_USER", 8),
				EvictOldest: tools.GetEnvBool("WS_EVICT_OLDEST", true),
			},
		}, userSvc, brk, replay)
		handlers.RegisterAll(g.Disp())

		r := gin.New()
		r.Use(gin.Recovery())
		r.Use(mid.Manager().Use())
		r.Use(mid.Origin())

		user.Init(userSvc)
		user.RegisterRoutes(r)
		mailbox.Init(mailboxSvc)
		mailbox.RegisterRoutes(r)
		r.GET("/ws", g.HandleWS)

		addr := ":" + tools.GetEnv("HTTP_PORT", "8080")
		srv = &http.Server{Addr: addr, Handler: r}
		safe.SafeGoNamed("http-server", func() {
			logger.Infof("[Boot] node=%s role=%s listening on %s", nodeID, role, addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("[Boot] http server: %v", err)
			}
		})
	} else {
		logger.Infof("[Boot] node=%s role=%s (no http)", nodeID, role)
	}

	// ===== 停机 =====

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("[Boot] shutting down")

	if srv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warnf("[Boot] http shutdown: %v", err)
		}
		scancel()
	}
	if g != nil {
		g.Close()
	}
	if consumerCancel != nil {
		consumerCancel()
	}
	pipeline.Close()
	if useKafka {
		delivery.CloseKafka()
	}
	_ = brk.Close()
	mailstore.Close()
	if redis.Ready() {
		_ = redis.CloseRedis()
	}
	logger.Infof("[Boot] bye")
	logger.Sync()
}

// buildBroker 按 BROKER 选实现。redis 不可用时退化为进程内广播,
// 单节点仍然可用, 多节点会丢跨节点推送。
func buildBroker(nodeID string) broker.Broker {
	switch strings.ToLower(tools.GetEnv("BROKER", "redis")) {
	case "nats":
		servers := tools.GetEnvList("NATS_SERVERS")
		if len(servers) == 0 {
			servers = []string{"nats://127.0.0.1:4222"}
		}
		b, err := broker.NewNatsBroker(broker.NatsConfig{
			Servers: servers,
			Name:    "gotmail-" + nodeID,
		})
		if err != nil {
			logger.Errorf("[Boot] nats broker failed, using memory: %v", err)
			return broker.NewMemoryBroker()
		}
		return b
	case "memory":
		return broker.NewMemoryBroker()
	default:
		if redis.Ready() {
			return broker.NewRedisBroker(redis.GetRedis())
		}
		logger.Warnf("[Boot] redis down, broker falls back to memory")
		return broker.NewMemoryBroker()
	}
}
