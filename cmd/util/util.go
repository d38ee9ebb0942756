package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/lib/nkv"
	"github.com/ValentinKolb/nkv/rpc/client"
	"github.com/ValentinKolb/nkv/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by the cli (e.g. NKV_CONFIG)
	EnvPrefix = "nkv"

	// DefaultContainer is the container used when no config file is given
	DefaultContainer = "default"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Flags
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds the flags used to reach remote paths
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of a single request to a remote path"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per endpoint"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to retry a request"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the write buffer for the transport (in KB, ignored for http)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the read buffer for the transport (in KB, ignored for http)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (tcp only)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval in seconds (tcp only, 0 = OS default)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, -1, WrapString("The linger time in seconds (tcp only, negative = OS default)"))
}

// SetupInstanceFlags adds the flags that select and open an nKV instance
func SetupInstanceFlags(cmd *cobra.Command) {
	key := "config"
	cmd.PersistentFlags().String(key, "", WrapString("Path to the nKV config file (yaml or json). Without a config file a single remote path is used, see --endpoint and --target"))

	key = "container"
	cmd.PersistentFlags().String(key, "", WrapString("The container to operate on (default: the first container of the config)"))

	key = "endpoint"
	cmd.PersistentFlags().String(key, "localhost:8080", WrapString("The address of the nkv server, used when no config file is given"))

	key = "target"
	cmd.PersistentFlags().Uint64(key, 1, WrapString("The target on the nkv server, used when no config file is given"))
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// InitConfig loads .env files and makes viper read NKV_* environment variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// InitLogging configures the loggers with the level of the --log-level flag
func InitLogging() error {
	return common.InitLoggers(viper.GetString("log-level"))
}

// --------------------------------------------------------------------------
// Remote paths
// --------------------------------------------------------------------------

// GetClientConfig reads the client configuration of remote paths from viper.
// The endpoints are taken from the path config and are left empty.
func GetClientConfig() common.ClientConfig {
	return common.ClientConfig{
		TimeoutSecond: viper.GetInt("timeout"),
		Transport: common.ClientTransportConfig{
			RetryCount:             viper.GetInt("transport-retries"),
			ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
			SocketConf: common.SocketConf{
				WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
				ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
			},
			TCPConf: common.TCPConf{
				TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
				TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
				TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			},
		},
	}
}

// RemoteOpener returns a DeviceOpener that opens memdev paths locally and connects remote paths
// with the RPC client. Transport and serializer of a remote path default to fallbackTransport and
// fallbackSerializer when the path config leaves them empty.
func RemoteOpener(base common.ClientConfig, fallbackTransport, fallbackSerializer string) nkv.DeviceOpener {
	return func(cc nkv.ContainerConfig, pc nkv.PathConfig) (device.IDevice, error) {
		if !pc.Remote() {
			return nkv.MemdevOpener(cc, pc)
		}

		transportName := pc.Transport
		if transportName == "" {
			transportName = fallbackTransport
		}
		serializerName := pc.Serializer
		if serializerName == "" {
			serializerName = fallbackSerializer
		}

		t, err := client.NewClientTransport(transportName)
		if err != nil {
			return nil, fmt.Errorf("path %s/%s: %w", cc.Name, pc.Address, err)
		}
		s, err := client.NewSerializer(serializerName)
		if err != nil {
			return nil, fmt.Errorf("path %s/%s: %w", cc.Name, pc.Address, err)
		}

		config := base
		config.Transport.Endpoints = strings.Split(pc.Endpoint, ",")
		dev, err := client.NewRPCDevice(pc.TargetID, config, t, s)
		if err != nil {
			return nil, fmt.Errorf("path %s/%s: connect %s: %w", cc.Name, pc.Address, pc.Endpoint, err)
		}
		return dev, nil
	}
}

// --------------------------------------------------------------------------
// Instance
// --------------------------------------------------------------------------

// LoadInstanceConfig reads the file given by --config. Without a file the config has one
// container with a single remote path pointing at --endpoint / --target.
func LoadInstanceConfig() (nkv.Config, error) {
	var (
		cfg nkv.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = nkv.LoadConfig(path)
		if err != nil {
			return nkv.Config{}, err
		}
	} else {
		cfg = nkv.DefaultConfig()
		cfg.Containers = []nkv.ContainerConfig{{
			Name: DefaultContainer,
			Paths: []nkv.PathConfig{{
				Address:    "remote-0",
				Kind:       nkv.PathKindRemote,
				Endpoint:   viper.GetString("endpoint"),
				Transport:  viper.GetString("transport"),
				Serializer: viper.GetString("serializer"),
				TargetID:   viper.GetUint64("target"),
			}},
		}}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return nkv.Config{}, err
		}
	}

	if viper.IsSet("log-level") {
		cfg.LogLevel = viper.GetString("log-level")
	}
	return cfg, nil
}

// OpenInstance loads the config and opens the instance with remote path support
func OpenInstance() (*nkv.Instance, error) {
	cfg, err := LoadInstanceConfig()
	if err != nil {
		return nil, err
	}
	if err := common.InitLoggers(cfg.LogLevel); err != nil {
		return nil, err
	}
	opener := RemoteOpener(GetClientConfig(), viper.GetString("transport"), viper.GetString("serializer"))
	return nkv.Open(cfg, opener)
}

// SelectContainer returns the container named by --container, or the first one
func SelectContainer(inst *nkv.Instance) (*nkv.Container, error) {
	if name := viper.GetString("container"); name != "" {
		return inst.Container(name)
	}
	containers := inst.Containers()
	if len(containers) == 0 {
		return nil, fmt.Errorf("the config has no containers")
	}
	return containers[0], nil
}

// Seconds converts a flag value in seconds to a duration
func Seconds(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
