// Command discretd is a standalone host process for one discret-go
// instance: it loads a data-model file and a YAML configuration, opens
// (or creates) the instance, brings up its configured transports and
// discovery, and blocks until interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/discretlib/discret-go/discret"
	"github.com/discretlib/discret-go/setup/config"
)

var (
	flagModel   = flag.String("model", "", "Path to a data-model DSL file declaring the initial schema")
	flagAppKey  = flag.String("app-key", "default", "Scopes this instance's database file")
	flagKeyFile = flag.String("key-file", "", "Path to a file containing the pass-phrase key material")
	flagDataDir = flag.String("data-dir", "", "Overrides config.data_dir when non-empty")
	flagConfig  = flag.String("config", "", "Path to a YAML config file")
)

func main() {
	flag.Parse()

	if *flagModel == "" {
		logrus.Fatal("-model is required")
	}
	model, err := os.ReadFile(*flagModel)
	if err != nil {
		logrus.WithError(err).Fatal("failed to read model file")
	}

	keyMaterial := os.Getenv("DISCRET_KEY_MATERIAL")
	if *flagKeyFile != "" {
		b, err := os.ReadFile(*flagKeyFile)
		if err != nil {
			logrus.WithError(err).Fatal("failed to read key file")
		}
		keyMaterial = string(b)
	}
	if keyMaterial == "" {
		logrus.Fatal("key material must be supplied via -key-file or DISCRET_KEY_MATERIAL")
	}

	cfg := &config.Global{}
	if *flagConfig != "" {
		b, err := os.ReadFile(*flagConfig)
		if err != nil {
			logrus.WithError(err).Fatal("failed to read config file")
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			logrus.WithError(err).Fatal("failed to parse config file")
		}
	}

	host, err := discret.New(string(model), *flagAppKey, keyMaterial, *flagDataDir, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to start discret-go instance")
	}
	defer host.Close()

	logrus.Info("discret-go instance started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logrus.Info("shutting down")
}
