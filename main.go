package main

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"offworker/worker"
)

func main() {
	configPath := pflag.StringP("config", "c", "worker.yaml", "worker config file path")
	listenAddr := pflag.StringP("listenaddr", "l", "", "http listen address override")
	verbose := pflag.BoolP("verbose", "v", false, "Verbose output")
	pflag.Parse()

	c, err := worker.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *listenAddr != "" {
		c.ListenAddr = *listenAddr
	}
	if *verbose {
		c.Verbose = true
	}
	if c.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	w, err := worker.New(c)
	if err != nil {
		log.Fatal(err)
	}
	defer w.Close()

	if err := w.Start(context.Background()); err != nil {
		log.Fatal(err)
	}

	w.ListenAndServe()
}
