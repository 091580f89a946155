package main

import (
	"flag"
	"fmt"

	"github.com/zeromicro/go-zero/rest"

	"arena-api/internal/cli"
	"arena-api/internal/config"
	"arena-api/internal/handler"
	"arena-api/internal/svc"
)

var configFile = flag.String("f", "etc/arena.yaml", "the config file")

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	cli.LogConfigSummary(cfg)

	server := rest.MustNewServer(cfg.RestConf)
	defer server.Stop()

	ctx := svc.NewServiceContext(*cfg)
	handler.RegisterHandlers(server, ctx)

	fmt.Printf("Starting server at %s:%d...\n", cfg.Host, cfg.Port)
	server.Start()
}
