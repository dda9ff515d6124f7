// Command hatnserver wires the core's server-side components — C7
// storage, C11 RPC runtime, C12 auth, C13 message queue — into one
// runnable binary, plus the admin HTTP surface (health, metrics, a
// best-effort message tail) that sits alongside the RPC listener.
//
// Grounded on cmd/appserver/main.go's flag-parsed bootstrap/signal/
// graceful-shutdown shape.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evgeniums/hatn-go/internal/authtoken"
	"github.com/evgeniums/hatn-go/internal/cryptosuite"
	"github.com/evgeniums/hatn-go/internal/kvengine"
	"github.com/evgeniums/hatn-go/internal/logging"
	"github.com/evgeniums/hatn-go/internal/mqueue"
	"github.com/evgeniums/hatn-go/internal/rpcserver"
	"github.com/evgeniums/hatn-go/internal/storage"
	"github.com/evgeniums/hatn-go/pkg/configtree"
	"github.com/evgeniums/hatn-go/pkg/version"
)

func main() {
	rpcAddr := flag.String("rpc-addr", "127.0.0.1:9443", "RPC listen address (server.bind_address:bind_port)")
	adminAddr := flag.String("admin-addr", "127.0.0.1:9080", "admin HTTP listen address")
	dbPath := flag.String("db", "hatnserver.db", "storage engine database file")
	ttlSweep := flag.String("ttl-sweep-schedule", "@every 1m", "cron schedule for the TTL sweep")
	showVersion := flag.Bool("version", false, "print hatnserver build information and exit")
	flag.Parse()

	if *showVersion {
		log.Println(version.FullVersion())
		return
	}

	cfg := configtree.New(map[string]any{
		"server": map[string]any{
			"bind_address":                *rpcAddr,
			"listen_backlog":              128,
			"max_connections_per_priority": 64,
		},
		"mq": map[string]any{
			"tolerated_time_offset_s": int(mqueue.DefaultToleratedClockSkew.Seconds()),
		},
	})

	logger := logging.New(logging.LevelInfo)
	logger.AddSink(logging.NewLogrusSink("stdout", "text", os.Stdout))

	kv, err := kvengine.Open(*dbPath, nil)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer kv.Close()

	engine, err := storage.NewEngine(kv, storage.EngineOptions{CacheSize: 4096, TTLSweepSchedule: *ttlSweep})
	if err != nil {
		log.Fatalf("construct storage engine: %v", err)
	}
	defer engine.Close()

	suite := cryptosuite.DefaultSuite()

	authManager := authtoken.NewManager(suite)
	rootKey := make([]byte, 32)
	if _, err := rand.Read(rootKey); err != nil {
		log.Fatalf("generate auth key: %v", err)
	}
	authManager.AddKey("v1", rootKey, true)

	negotiator := authtoken.NewNegotiator(false)
	negotiator.Register(authtoken.ProtocolOffer{Name: authtoken.DefaultProtocolName, Version: authtoken.DefaultProtocolVersion, Priority: 0})
	negotiator.Register(authtoken.ProtocolOffer{Name: authtoken.JWTBearerProtocolName, Version: 1, Priority: 10})

	mqServer := mqueue.NewServer(engine, nil, mqueue.Config{
		ToleratedClockSkew: time.Duration(cfg.GetInt("mq.tolerated_time_offset_s", int(mqueue.DefaultToleratedClockSkew.Seconds()))) * time.Second,
	})

	tail := newTailHub()
	metrics := newAdminMetrics()

	services := rpcserver.NewDispatcher()
	services.Register(ServiceAuth, MethodAuthNegotiate, authNegotiateHandler(negotiator))
	services.Register(ServiceMQ, MethodMQPublish, mqPublishHandler(mqServer, tail, metrics))
	services.Register(ServiceMQ, MethodMQPoll, mqPollHandler(engine))
	services.Register(ServiceMQ, MethodMQAck, mqAckHandler(engine))

	auth := rpcserver.NewAuthDispatcher()
	auth.Register(ServiceAuth, MethodAuthNegotiate, rpcserver.AllowAll)
	auth.RegisterServiceDefault(ServiceMQ, authManager.AuthHandler(authtoken.TokenSession))

	env := &rpcserver.Environment{Storage: engine, Crypto: suite, Logger: logger}

	ln, err := net.Listen("tcp", cfg.GetString("server.bind_address", *rpcAddr))
	if err != nil {
		log.Fatalf("listen on %s: %v", *rpcAddr, err)
	}

	rpc := rpcserver.NewServer(ln, auth, services, env, logger)

	probes := NewProbeManager(5 * time.Second)
	adminRouter := newAdminRouter(probes, metrics, tail)
	adminSrv := runAdminServer(*adminAddr, adminRouter)

	go func() {
		if err := rpc.Serve(); err != nil {
			log.Printf("rpc server stopped: %v", err)
		}
	}()

	probes.SetReady(true)
	log.Printf("hatnserver %s listening: rpc=%s admin=%s", version.Version, *rpcAddr, *adminAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	probes.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rpc.Shutdown(shutdownCtx); err != nil {
		log.Printf("rpc shutdown: %v", err)
	}
	_ = adminSrv.Shutdown(shutdownCtx)
}
