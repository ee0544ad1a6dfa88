package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/tow/internal/config"
	"github.com/ZebulonRouseFrantzich/tow/internal/download"
	"github.com/ZebulonRouseFrantzich/tow/internal/logger"
	"github.com/ZebulonRouseFrantzich/tow/internal/platform"
	"github.com/ZebulonRouseFrantzich/tow/internal/service"
)

// app carries what the subcommands share once the config is loaded.
type app struct {
	stdout  io.Writer
	stderr  io.Writer
	cfgFile string

	cfg      config.Config
	log      *logrus.Logger
	host     platform.Info
	detector platform.Detector
}

func newRootCmd(stdout, stderr io.Writer, detector platform.Detector) *cobra.Command {
	a := &app{
		stdout:   stdout,
		stderr:   stderr,
		detector: detector,
	}

	root := &cobra.Command{
		Use:   "tow",
		Short: "Download standalone binaries and keep track of them",
		Long: `tow downloads single-file binaries from a URL into a local bin directory
and records every name/version it installs, so they can be listed and removed later.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/tow/config.yaml)")
	pf.String("binaries-dir", "", "directory binaries are installed into (env TOW_BINARIES_DIR)")
	pf.String("store-dir", "", "directory holding the registry (env TOW_STORE_DIR)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text or json")

	root.AddCommand(
		newInstallCmd(a),
		newListCmd(a),
		newUninstallCmd(a),
		newVersionsCmd(a),
		newVersionCmd(a),
	)

	return root
}

// setup loads the config, builds the logger and detects the host.
func (a *app) setup(cmd *cobra.Command) error {
	loader := config.NewLoader()
	if err := loader.BindFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg, err := loader.Load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	log, err := logger.New(cfg.Log, a.stderr)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.log = log

	host, err := a.detector.Detect(cmd.Context())
	if err != nil {
		return fmt.Errorf("detect platform: %w", err)
	}
	a.host = host

	log.WithFields(logrus.Fields{
		"config":       loader.ConfigFileUsed(),
		"binaries_dir": cfg.BinariesDir,
		"store_dir":    cfg.StoreDir,
		"platform":     host.String(),
	}).Debug("configuration loaded")

	return nil
}

// installer builds the service with an optional progress reporter.
func (a *app) installer(progress download.Progress) *service.Installer {
	d := download.New(download.Options{
		HeaderTimeout: a.cfg.Download.HeaderTimeout,
		UserAgent:     a.cfg.Download.UserAgent,
		Progress:      progress,
		Logger:        logger.Component(a.log, "download"),
	})
	return service.NewInstaller(a.cfg, a.host, d, service.WithLogger(a.log))
}
