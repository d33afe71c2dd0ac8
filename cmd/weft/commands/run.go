package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weftlabs/weft/src/weft"
)

//NewRunCmd returns the command that starts a Weft endpoint
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run endpoint",
		PreRunE: loadConfig,
		RunE:    runWeft,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runWeft(cmd *cobra.Command, args []string) error {
	engine := weft.NewWeft(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	for _, addr := range _config.Join {
		if err := engine.Endpoint.PeerWith(addr); err != nil {
			_config.Logger().WithField("addr", addr).Error("Cannot peer:", err)
		}
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		engine.Shutdown()
	}()

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-dir", _config.LogDir, "Mirror info and debug logs to files under this directory")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for weft endpoint")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for weft endpoint")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().StringSliceP("join", "j", _config.Join, "Address of a peer to connect to; repeatable")

	// Routing
	cmd.Flags().Uint16("ttl", _config.TTL, "Hop budget for published messages")
	cmd.Flags().Bool("no-forward", _config.NoForward, "Do not re-publish inbound messages to other peers")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem backends for master stores")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")

	// Recording
	cmd.Flags().String("recording-dir", _config.RecordingDir, "Record published and forwarded messages under this directory")
	cmd.Flags().Uint64("record-cap", _config.RecordCap, "Max number of recorded messages, 0 for unlimited")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"weft.DataDir":       _config.DataDir,
		"weft.BindAddr":      _config.BindAddr,
		"weft.AdvertiseAddr": _config.AdvertiseAddr,
		"weft.ServiceAddr":   _config.ServiceAddr,
		"weft.NoService":     _config.NoService,
		"weft.TCPTimeout":    _config.TCPTimeout,
		"weft.TTL":           _config.TTL,
		"weft.NoForward":     _config.NoForward,
		"weft.Store":         _config.Store,
		"weft.LogLevel":      _config.LogLevel,
		"weft.Moniker":       _config.Moniker,
		"weft.Join":          _config.Join,
	}

	if _config.Store {
		logFields["weft.DatabaseDir"] = _config.DatabaseDir
	}

	if _config.LogDir != "" {
		logFields["weft.LogDir"] = _config.LogDir
	}

	if _config.RecordingDir != "" {
		logFields["weft.RecordingDir"] = _config.RecordingDir
		logFields["weft.RecordCap"] = _config.RecordCap
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/weft.toml (.json, .yaml also work)
	viper.SetConfigName("weft")          // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
