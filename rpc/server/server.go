package server

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/lib/device/engines/memdev"
	"github.com/ValentinKolb/nkv/lib/device/engines/raftdev"
	"github.com/ValentinKolb/nkv/rpc/common"
	"github.com/ValentinKolb/nkv/rpc/serializer"
	"github.com/ValentinKolb/nkv/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverTarget is one device exposed by the server together with the adapter serving it
type serverTarget struct {
	Device  device.IDevice
	Adapter IRPCServerAdapter
}

// RPCServer exposes devices to remote nKV instances.
//
// Thread-safety: Requests are handled concurrently. Serve must be called only once.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	targets    *xsync.MapOf[uint64, serverTarget]
	nodeHost   *dragonboat.NodeHost

	closeOnce sync.Once
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		targets:    xsync.NewMapOf[uint64, serverTarget](),
	}
}

// RegisterTarget exposes dev under targetID. Targets from the config are registered by Serve,
// RegisterTarget adds devices created by the caller.
func (s *RPCServer) RegisterTarget(targetID uint64, dev device.IDevice) error {
	if _, loaded := s.targets.LoadOrStore(targetID, serverTarget{Device: dev, Adapter: NewDeviceServerAdapter()}); loaded {
		return fmt.Errorf("target %d is already registered", targetID)
	}
	return nil
}

// Serve creates the configured targets and serves requests until Shutdown is called
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	Logger.Infof("%s", s.config.String())
	Logger.Infof("serving %d targets on %s (%s serializer)", s.targets.Size(), s.config.Transport.Endpoint, s.serializer.Name())
	return s.transport.Listen(s.config)
}

// Shutdown stops the transport, closes all targets and the raft node host.
func (s *RPCServer) Shutdown() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.transport.Shutdown()
		s.targets.Range(func(id uint64, t serverTarget) bool {
			if cerr := t.Device.Close(); cerr != nil {
				Logger.Errorf("failed to close target %d: %v", id, cerr)
			}
			return true
		})
		if s.nodeHost != nil {
			s.nodeHost.Close()
		}
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *RPCServer) init() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	timeout := time.Duration(s.config.TimeoutSecond) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	// the node host is only needed for replicated targets
	if s.config.HasRaftTarget() {
		nh, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		s.nodeHost = nh
	}

	for _, target := range s.config.Targets {
		var dev device.IDevice
		switch target.Type {
		case common.TargetTypeMemdev:
			opts := memdev.DefaultOptions()
			opts.DataFile = target.DataFile
			d, err := memdev.NewMemDevice(opts)
			if err != nil {
				return fmt.Errorf("failed to create memdev target %d: %w", target.TargetID, err)
			}
			dev = d

		case common.TargetTypeRaftdev:
			factory := func() device.IDevice { return memdev.MustNewMemDevice(nil) }
			err := s.nodeHost.StartConcurrentReplica(
				s.config.ClusterMembers, false,
				raftdev.CreateStateMachineFactory(factory),
				s.config.ToDragonboatConfig(target.TargetID),
			)
			if err != nil {
				return fmt.Errorf("failed to start raft shard %d: %w", target.TargetID, err)
			}
			dev = raftdev.NewRaftDevice(s.nodeHost, target.TargetID, timeout)
		}

		if err := s.RegisterTarget(target.TargetID, dev); err != nil {
			return err
		}
		Logger.Infof("created %s target %d", target.Type, target.TargetID)
	}

	s.transport.RegisterHandler(s.handle)
	return nil
}

// handle is the transport handler: decode, dispatch to the target, encode
func (s *RPCServer) handle(targetID uint64, req []byte) []byte {
	var msg common.Message
	var resp *common.Message

	target, ok := s.targets.Load(targetID)
	switch {
	case !ok:
		resp = common.NewErrorResponse(fmt.Sprintf("target %d not found", targetID))
	default:
		if err := s.serializer.Deserialize(req, &msg); err != nil {
			resp = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			resp = target.Adapter.Handle(&msg, target.Device)
		}
	}

	labels := `target="` + strconv.FormatUint(targetID, 10) + `",type="` + msg.MsgType.String() + `"`
	metrics.GetOrCreateCounter(`nkv_rpc_requests_total{` + labels + `}`).Inc()
	if resp.Err != "" && device.Status(resp.Status) != device.StatusKeyNotFound {
		metrics.GetOrCreateCounter(`nkv_rpc_errors_total{` + labels + `}`).Inc()
	}

	out, err := s.serializer.Serialize(*resp)
	if err != nil {
		Logger.Errorf("failed to serialize response: %v", err)
		out, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return out
}

// WaitForSignal blocks until SIGINT or SIGTERM is received
func WaitForSignal() os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(ch)
	return <-ch
}
