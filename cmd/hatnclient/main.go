// Command hatnclient is an example client binary exercising C10's
// rpcclient pipeline against a running hatnserver: negotiating a
// protocol, then publishing and polling a message-queue topic.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/evgeniums/hatn-go/internal/authtoken"
	"github.com/evgeniums/hatn-go/internal/connpool"
	"github.com/evgeniums/hatn-go/internal/cryptosuite"
	"github.com/evgeniums/hatn-go/internal/logging"
	"github.com/evgeniums/hatn-go/internal/rpcclient"
	"github.com/evgeniums/hatn-go/internal/taskctx"
	"github.com/evgeniums/hatn-go/internal/wire"
	"github.com/evgeniums/hatn-go/pkg/hexutil"
	"github.com/evgeniums/hatn-go/pkg/version"
)

func main() {
	endpoint := flag.String("endpoint", "127.0.0.1:9443", "hatnserver RPC endpoint")
	topic := flag.String("topic", "demo", "message queue topic")
	login := flag.String("login", "demo-user", "login to authenticate as")
	keyHex := flag.String("key", "", "hex-encoded shared auth key, must match the server's \"v1\" key")
	payload := flag.String("payload", "hello", "payload to publish; pass an empty string to only poll")
	showVersion := flag.Bool("version", false, "print hatnclient build information and exit")
	flag.Parse()

	if *showVersion {
		log.Println(version.FullVersion())
		return
	}

	logger := logging.New(logging.LevelInfo)
	logger.AddSink(logging.NewLogrusSink("stdout", "text", os.Stdout))

	pool := connpool.New(connpool.DefaultConfig([]string{*endpoint}), connpool.NewMetrics(nil))
	defer pool.Close()

	session := buildSession(*keyHex, *login)
	client := rpcclient.New(pool, session, rpcclient.DefaultConfig(), logger)

	ctx := taskctx.MakeContext(context.Background(), "hatnclient", nil)

	if err := negotiate(ctx, client); err != nil {
		log.Fatalf("negotiate: %v", err)
	}

	if *payload != "" {
		if err := publish(ctx, client, *topic, []byte(*payload)); err != nil {
			log.Fatalf("publish: %v", err)
		}
	}

	if err := poll(ctx, client, *topic, *login); err != nil {
		log.Fatalf("poll: %v", err)
	}
}

func buildSession(keyHex, login string) rpcclient.AuthSession {
	if keyHex == "" {
		return rpcclient.NoAuthSession{}
	}
	key, err := hexutil.DecodeString(keyHex)
	if err != nil {
		log.Fatalf("decode --key: %v", err)
	}
	manager := authtoken.NewManager(cryptosuite.DefaultSuite())
	manager.AddKey("v1", key, true)
	rec := authtoken.SessionRecord{SessionID: login + "-session", SessionCreatedAt: time.Now(), Login: login}
	return authtoken.NewClientSession(manager, rec, authtoken.TokenSession, time.Hour)
}

func negotiate(ctx *taskctx.Handle, client *rpcclient.Client) error {
	body, err := json.Marshal(struct {
		Offered []authtoken.ProtocolOffer `json:"offered"`
	}{
		Offered: []authtoken.ProtocolOffer{
			{Name: authtoken.DefaultProtocolName, Version: authtoken.DefaultProtocolVersion},
			{Name: authtoken.JWTBearerProtocolName, Version: 1},
		},
	})
	if err != nil {
		return err
	}
	resp, err := client.Call(ctx, rpcclient.Request{
		ServiceID: 1, MethodID: 1, Priority: wire.PriorityHigh, Timeout: 5 * time.Second, Payload: body,
	})
	if err != nil {
		return err
	}
	log.Printf("negotiated: %s", resp.Payload)
	return nil
}

func publish(ctx *taskctx.Handle, client *rpcclient.Client, topic string, payload []byte) error {
	body, err := json.Marshal(struct {
		ProducerID  string `json:"producer_id"`
		ProducerPos uint64 `json:"producer_pos"`
		ObjectType  string `json:"object_type"`
		ObjectID    string `json:"object_id"`
		Operation   string `json:"operation"`
		Payload     []byte `json:"payload"`
	}{
		ProducerID: version.UserAgent(), ProducerPos: uint64(time.Now().UnixNano()),
		ObjectType: "demo_object", ObjectID: "o1", Operation: "create", Payload: payload,
	})
	if err != nil {
		return err
	}
	resp, err := client.Call(ctx, rpcclient.Request{
		ServiceID: 2, MethodID: 1, Topic: topic, Priority: wire.PriorityNormal,
		Timeout: 5 * time.Second, Payload: body, RequiresAuth: true,
	})
	if err != nil {
		return err
	}
	log.Printf("published: %s", resp.Payload)
	return nil
}

func poll(ctx *taskctx.Handle, client *rpcclient.Client, topic, downstreamID string) error {
	body, err := json.Marshal(struct {
		DownstreamID string `json:"downstream_id"`
		Limit        int    `json:"limit"`
	}{DownstreamID: downstreamID, Limit: 50})
	if err != nil {
		return err
	}
	resp, err := client.Call(ctx, rpcclient.Request{
		ServiceID: 2, MethodID: 2, Topic: topic, Priority: wire.PriorityNormal,
		Timeout: 5 * time.Second, Payload: body, RequiresAuth: true,
	})
	if err != nil {
		return err
	}
	log.Printf("pending: %s", resp.Payload)
	return nil
}
