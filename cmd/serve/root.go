package serve

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	cmdUtil "github.com/ValentinKolb/nkv/cmd/util"
	"github.com/ValentinKolb/nkv/lib/device/util"
	"github.com/ValentinKolb/nkv/rpc/client"
	"github.com/ValentinKolb/nkv/rpc/common"
	"github.com/ValentinKolb/nkv/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Serve devices to remote nKV instances",
		Long: `Start the nkv device server with the specified configuration. Remote nKV paths (kind "remote")
address a target of this server by its id. The configuration can be set via command line flags or
environment variables. The format of the environment variables is NKV_<flag> (e.g. NKV_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	key := "targets"
	ServeCmd.PersistentFlags().String(key, "1=memdev", cmdUtil.WrapString("Comma-separated list of targets to serve. Format: ID=TYPE where TYPE is one of: memdev, memdev@<data file>, raftdev"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(raftdev) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. \nOther raft configuration parameters (ElectionRTT=value*10, HeartbeatRTT=value*1) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 10000, cmdUtil.WrapString("(raftdev) SnapshotEntries defines how often the state machine should be snapshotted automatically, in applied Raft log entries. 0 disables automatic snapshots (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 5000, cmdUtil.WrapString("(raftdev) CompactionOverhead defines the number of log entries kept after a snapshot. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(raftdev) DataDir is the directory used for the raft log and snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raftdev) ReplicaID is the unique name of this node (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raftdev) ClusterMembers is a comma-separated list of raft addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout of raft proposals and reads in seconds"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the server will listen (e.g. 0.0.0.0:8080, /tmp/nkv.sock, ...)"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 8, cmdUtil.WrapString("Requests handled concurrently per connection (tcp, unix)"))

	key = "buffer-size"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Size of the pooled request buffers in KB (0 = transport default)"))

	key = "transport-write-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the socket write buffer (in KB, ignored for http)"))

	key = "transport-read-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the socket read buffer (in KB, ignored for http)"))

	key = "transport-tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY (tcp only)"))

	key = "transport-tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval in seconds (tcp only, 0 = OS default)"))

	key = "transport-tcp-linger"
	ServeCmd.PersistentFlags().Int(key, -1, cmdUtil.WrapString("The linger time in seconds (tcp only, negative = OS default)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	targets, err := ParseTargets(viper.GetString("targets"))
	if err != nil {
		return err
	}
	serveCmdConfig.Targets = targets

	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Transport = common.ServerTransportConfig{
		Endpoint:       viper.GetString("endpoint"),
		WorkersPerConn: viper.GetInt("workers-per-conn"),
		BufferSize:     viper.GetInt("buffer-size") * 1024,
		SocketConf: common.SocketConf{
			WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
		},
		TCPConf: common.TCPConf{
			TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
		},
	}

	if !serveCmdConfig.HasRaftTarget() {
		return nil
	}

	// replica id and members are only needed for raft targets
	id := viper.GetString("replica-id")
	if id == "" {
		return fmt.Errorf("replica-id is required for raftdev targets")
	}
	serveCmdConfig.ReplicaID = uint64(util.HashString(id, 0))

	members, err := ParseClusterMembers(viper.GetString("cluster-members"))
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return fmt.Errorf("cluster-members is required for raftdev targets")
	}
	serveCmdConfig.ClusterMembers = members

	if _, ok := members[serveCmdConfig.ReplicaID]; !ok {
		return fmt.Errorf("no address found for replica %q in cluster members", id)
	}
	return nil
}

// run starts the server and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(serveCmdConfig.LogLevel); err != nil {
		return err
	}
	defer common.SyncLoggers()

	s, err := client.NewSerializer(viper.GetString("serializer"))
	if err != nil {
		return err
	}
	t, err := client.NewServerTransport(viper.GetString("transport"))
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(*serveCmdConfig, t, s)

	errCh := make(chan error, 1)
	go func() { errCh <- serv.Serve() }()

	sigCh := make(chan struct{})
	go func() {
		server.WaitForSignal()
		close(sigCh)
	}()

	select {
	case err := <-errCh:
		_ = serv.Shutdown()
		return err
	case <-sigCh:
		server.Logger.Infof("shutting down")
		if err := serv.Shutdown(); err != nil {
			return err
		}
		return <-errCh
	}
}

// ParseTargets parses a target list like "1=memdev,2=memdev@/data/two.bin,3=raftdev"
func ParseTargets(s string) ([]common.ServerTarget, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("no targets configured")
	}

	var targets []common.ServerTarget
	for _, entry := range strings.Split(s, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid target format: %s (expected ID=TYPE)", entry)
		}

		id, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid target ID %s: %v", parts[0], err)
		}

		target := common.ServerTarget{TargetID: id}
		kind, dataFile, _ := strings.Cut(strings.TrimSpace(parts[1]), "@")
		switch common.TargetType(kind) {
		case common.TargetTypeMemdev:
			target.Type = common.TargetTypeMemdev
			target.DataFile = dataFile
		case common.TargetTypeRaftdev:
			if dataFile != "" {
				return nil, fmt.Errorf("target %d: raftdev targets take no data file", id)
			}
			target.Type = common.TargetTypeRaftdev
		default:
			return nil, fmt.Errorf("invalid target type: %s (expected one of: memdev, memdev@<file>, raftdev)", kind)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// ParseClusterMembers parses "node-1=host:port,node-2=host:port" into replica id -> address.
// Replica ids are the hashes of the node names.
func ParseClusterMembers(s string) (map[uint64]string, error) {
	members := make(map[uint64]string)
	if strings.TrimSpace(s) == "" {
		return members, nil
	}
	for _, member := range strings.Split(s, ",") {
		parts := strings.SplitN(member, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected NAME=address)", member)
		}
		members[uint64(util.HashString(strings.TrimSpace(parts[0]), 0))] = strings.TrimSpace(parts[1])
	}
	return members, nil
}
