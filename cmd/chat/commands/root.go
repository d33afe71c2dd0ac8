package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weftlabs/weft/src/core"
	"github.com/weftlabs/weft/src/keys"
	"github.com/weftlabs/weft/src/message"
	"github.com/weftlabs/weft/src/topic"
	"github.com/weftlabs/weft/src/transport"
)

var (
	config = NewDefaultCLIConfig()
	logger *logrus.Logger
)

func init() {
	RootCmd.Flags().String("name", config.Name, "Chat name")
	RootCmd.Flags().String("topic", config.Topic, "Topic to chat on")
	RootCmd.Flags().String("listen", config.Listen, "Listen IP:Port of the chat endpoint")
	RootCmd.Flags().String("join", config.Join, "IP:Port of a peer already in the overlay")
	RootCmd.Flags().Bool("discard", config.Discard, "discard log output to stderr")
	RootCmd.Flags().String("log", config.LogLevel, "debug, info, warn, error, fatal, panic")
}

//RootCmd is the root command for Chat
var RootCmd = &cobra.Command{
	Use:     "chat",
	Short:   "Chat client for Weft",
	PreRunE: loadConfig,
	RunE:    runChat,
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runChat(cmd *cobra.Command, args []string) error {

	key, err := keys.GenerateKey()
	if err != nil {
		return err
	}

	stream, err := transport.NewTCPStreamLayer(config.Listen, "")
	if err != nil {
		return err
	}

	entry := logger.WithField("component", "CHAT")

	conduit := transport.NewTCPConduit(stream, time.Second, entry)

	endpoint, err := core.NewEndpoint(keys.EndpointID(&key.PublicKey),
		conduit, nil, clock.New(), entry)
	if err != nil {
		return err
	}
	defer endpoint.Shutdown()

	fmt.Printf("Listening on %s\n", endpoint.LocalAddr())

	if config.Join != "" {
		if err := endpoint.PeerWith(config.Join); err != nil {
			return err
		}
	}

	sub, err := endpoint.Subscribe(topic.NewFilter(topic.Topic(config.Topic)))
	if err != nil {
		return err
	}
	defer sub.Cancel()

	//Print incoming messages
	go func() {
		for {
			dm, err := sub.Next(time.Hour)
			if err != nil {
				continue
			}
			if text, ok := dm.Value.AsString(); ok {
				fmt.Printf("[%s] %s\n", dm.Topic, text)
			}
		}
	}()

	//Listen for input messages from tty
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := scanner.Text()
		line := fmt.Sprintf("%s: %s", config.Name, text)
		if err := endpoint.Publish(topic.Topic(config.Topic),
			message.StringData(line)); err != nil {
			fmt.Printf("Error in Publish: %v\n", err)
		}
	}

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

func loadConfig(cmd *cobra.Command, args []string) error {

	err := viper.BindPFlags(cmd.Flags())
	if err != nil {
		return err
	}

	config, err = parseConfig()
	if err != nil {
		return err
	}

	logger = newLogger()
	logger.Level = logLevel(config.LogLevel)

	logger.WithFields(logrus.Fields{
		"name":    config.Name,
		"topic":   config.Topic,
		"listen":  config.Listen,
		"join":    config.Join,
		"discard": config.Discard,
		"log":     config.LogLevel,
	}).Debug("RUN")

	return nil
}

//Retrieve the default environment configuration.
func parseConfig() (*CLIConfig, error) {
	conf := NewDefaultCLIConfig()
	err := viper.Unmarshal(conf)
	if err != nil {
		return nil, err
	}
	return conf, err
}

func newLogger() *logrus.Logger {
	logger := logrus.New()

	pathMap := lfshook.PathMap{}

	_, err := os.OpenFile("chat_info.log", os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		logger.Info("Failed to open chat_info.log file, using default stderr")
	} else {
		pathMap[logrus.InfoLevel] = "chat_info.log"
	}

	_, err = os.OpenFile("chat_debug.log", os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		logger.Info("Failed to open chat_debug.log file, using default stderr")
	} else {
		pathMap[logrus.DebugLevel] = "chat_debug.log"
	}

	if err == nil && config.Discard {
		logger.Out = io.Discard
	}

	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))

	return logger
}

func logLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
