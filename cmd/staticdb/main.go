// staticdb builds and serves immutable-response databases: the CLI
// entry point for components D, E, G and the supplemented verify mode.
//
// Grounded on opencoff-go-chd/example/mphdb.go's flag usage
// (github.com/opencoff/pflag, -l/-V style short+long options) and
// extended to the mutually-exclusive -b/-t/-s/-V surface the spec's
// external interface requires.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	flag "github.com/opencoff/pflag"

	"github.com/opencoff/staticdb/internal/config"
	"github.com/opencoff/staticdb/internal/genbuild"
	"github.com/opencoff/staticdb/internal/serve"
	"github.com/opencoff/staticdb/internal/store"
	"github.com/opencoff/staticdb/internal/tilebuild"
)

func main() {
	var buildCfg, tileCfg, serverCfg, verifyCfg string

	usage := fmt.Sprintf("%s [-b build.json | -t tile.json | -s server.json | -V server.json]", os.Args[0])

	flag.StringVarP(&buildCfg, "build", "b", "", "Run the generic manifest `builder`")
	flag.StringVarP(&tileCfg, "tiles", "t", "", "Run the MBTiles `builder`")
	flag.StringVarP(&serverCfg, "serve", "s", "", "Run the `server`")
	flag.StringVarP(&verifyCfg, "verify", "V", "", "Open the db named by a server `config` and report on it")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "staticdb - immutable HTTP response server\nUsage: %s\n", usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	n := 0
	for _, v := range []string{buildCfg, tileCfg, serverCfg, verifyCfg} {
		if v != "" {
			n++
		}
	}
	if n != 1 {
		flag.Usage()
		os.Exit(1)
	}

	var err error
	switch {
	case buildCfg != "":
		err = runBuild(buildCfg)
	case tileCfg != "":
		err = runTiles(tileCfg)
	case serverCfg != "":
		err = runServe(serverCfg)
	case verifyCfg != "":
		err = runVerify(verifyCfg)
	}

	if err != nil {
		slog.Error("staticdb failed", "err", err)
		os.Exit(1)
	}
}

func runBuild(path string) error {
	cfg, err := config.LoadBuild(path)
	if err != nil {
		return err
	}
	return genbuild.Build(genbuild.Config{Src: cfg.Src, DB: cfg.DB, Dedup: cfg.Dedup})
}

func runTiles(path string) error {
	cfg, err := config.LoadBuild(path)
	if err != nil {
		return err
	}
	return tilebuild.Build(tilebuild.Config{Src: cfg.Src, DB: cfg.DB})
}

func runServe(path string) error {
	cfg, err := config.LoadServer(path)
	if err != nil {
		return err
	}
	srv, err := serve.Open(cfg)
	if err != nil {
		return err
	}
	return srv.Run(context.Background())
}

func runVerify(path string) error {
	cfg, err := config.LoadServer(path)
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.WriteVerifyReport(os.Stdout)
}
