package test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	"github.com/MrEthical07/goAuthClient/authtest"
	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/storage"
)

const appID = "integration"

func newServer(t *testing.T, users ...string) *authtest.Server {
	t.Helper()
	srv, err := authtest.NewServer(authtest.Options{AppID: appID})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	for _, u := range users {
		srv.RegisterUser(u, "pw")
	}
	return srv
}

func newRedisStorage(t *testing.T) (*storage.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return storage.NewRedis(rdb, "it", time.Second), mr
}

func newEngine(t *testing.T, srv *authtest.Server, st session.Storage) *goAuthClient.Engine {
	t.Helper()
	cfg := goAuthClient.DefaultConfig()
	cfg.App.ID = appID
	engine, err := goAuthClient.New().
		WithConfig(cfg).
		WithTransport(srv).
		WithStorage(st).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func userpass(name string) goAuthClient.UserPasswordCredential {
	return goAuthClient.UserPasswordCredential{Username: name, Password: "pw"}
}
