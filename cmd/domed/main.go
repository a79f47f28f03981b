package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/CerecedaObs/domed/pkg/arbiter"
	"github.com/CerecedaObs/domed/pkg/config"
	"github.com/CerecedaObs/domed/pkg/mqttnotify"
	"github.com/CerecedaObs/domed/pkg/remote"
)

func run(c *cli.Context) error {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	log.Info("Dome Control Core")

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	arb := arbiter.New(cfg, log.WithField("component", "arbiter"))
	surface := remote.New(arb, cfg)
	_ = surface // exposed to the (out-of-scope) RPC layer that wires callers to Surface

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID("domed")
	mqttClient := mqtt.NewClient(opts)

	subscriber := mqttnotify.New(mqttClient, surface, cfg.MQTTTopicRoot, telescopeCallerIP(cfg), log.WithField("component", "mqttnotify"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		arb.Run(ctx)
		log.Info("arbiter stopped")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := subscriber.Run(ctx); err != nil {
			log.Errorf("telescope notification subscriber stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()
	log.Info("stopped")
	return nil
}

// telescopeCallerIP is the identity the MQTT bridge attributes notifications
// to, since the broker link replaces a per-message RPC caller address.
// telescope_ips may list several addresses, but the bridge represents a
// single endpoint, so the first configured telescope IP is its caller
// identity.
func telescopeCallerIP(cfg config.Config) string {
	if len(cfg.TelescopeIPs) == 0 {
		return ""
	}
	return cfg.TelescopeIPs[0]
}

func main() {
	app := cli.App{
		Name:  "domed",
		Usage: "Dome control core: serial motor link, command arbiter, RA/Dec dome tracking",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				Value:   false,
				EnvVars: []string{"DEBUG"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the dome core's JSON configuration file",
				Value:   "/etc/domed/config.json",
				EnvVars: []string{"DOMED_CONFIG"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
