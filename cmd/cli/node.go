package cli

// cmd/cli/node.go — run a storage node daemon: shard server, status API,
// pub/sub overlay and descriptor subscription.  The Kademlia RPC transport
// is a collaborator; standalone runs use the in-process loopback so the
// shard transfer and pub/sub surfaces are fully live.

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	logrus "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	core "github.com/storj-archived/core-sub000/core"
	"github.com/storj-archived/core-sub000/pkg/config"
)

// ---------------------------------------------------------------------------
// Globals & middleware
// ---------------------------------------------------------------------------

var (
	nodeLG    = logrus.New()
	nodeFlags struct {
		configPath string
		loopback   bool
	}
)

func initNodeMiddleware(cmd *cobra.Command, _ []string) {
	_ = godotenv.Load()
	nodeLG = newLogger()
	resolveStringFlag(cmd, "config", &nodeFlags.configPath, os.Getenv("STORD_CONFIG"))
	nodeFlags.loopback, _ = cmd.Flags().GetBool("loopback")
}

// ---------------------------------------------------------------------------
// Controllers
// ---------------------------------------------------------------------------

func loadNodeConfig() (*config.Config, error) {
	if nodeFlags.configPath != "" {
		return config.LoadFile(nodeFlags.configPath)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		def := config.Default()
		nodeLG.Warnf("no config file found, using defaults: %v", err)
		return &def, nil
	}
	return cfg, nil
}

func buildKeys(cfg *config.Config) (*core.KeyRing, error) {
	if cfg.Node.PrivateKey == "" {
		nodeLG.Warn("no node.private_key configured, generating an ephemeral identity")
		return core.NewRandomKeyRing(nodeLG)
	}
	priv, err := core.ParsePrivateKeyHex(cfg.Node.PrivateKey)
	if err != nil {
		return nil, err
	}
	return core.NewKeyRing(priv, cfg.Node.HDKey, cfg.Node.HDIndex, nodeLG)
}

func nodeStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadNodeConfig()
	if err != nil {
		return err
	}
	keys, err := buildKeys(cfg)
	if err != nil {
		return err
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer zlog.Sync()

	adapter, err := core.NewFileAdapter(cfg.Storage.DataDir, zlog.Sugar())
	if err != nil {
		return err
	}
	manager := core.NewStorageManager(adapter, cfg.Storage.MaxSpaceGB<<30, zlog.Sugar())
	manager.SetLowSpaceHook(func(used, capacity int64) {
		nodeLG.Warnf("storage capacity reached (%d/%d bytes), new contracts should be declined", used, capacity)
	})

	server := core.NewShardServer(manager, core.ShardServerOptions{
		TokenTTL: cfg.Shards.TokenTTL,
	}, nodeLG)

	var ps core.PubSub
	if nodeFlags.loopback {
		ps = core.NewLoopbackPubSub()
	} else {
		ps, err = core.NewGossipPubSub(core.GossipOptions{
			ListenAddr:     cfg.Network.ListenAddr,
			BootstrapPeers: cfg.Network.BootstrapPeers,
			DiscoveryTag:   cfg.Network.DiscoveryTag,
		}, nodeLG)
		if err != nil {
			return err
		}
	}

	contact := core.Contact{
		NodeID:  keys.NodeID(),
		Address: cfg.Node.Address,
		Port:    cfg.Node.Port,
		HDKey:   keys.HDKey(),
		HDIndex: keys.HDIndex(),
	}
	transport := core.NewLoopbackNetwork().Join(contact)

	node, err := core.NewNode(core.NodeOptions{
		Keys:             keys,
		Contact:          contact,
		Manager:          manager,
		Transport:        transport,
		PubSub:           ps,
		Server:           server,
		ConsignThreshold: cfg.Contracts.ConsignThreshold,
		MaxOffers:        cfg.Contracts.MaxOffers,
		PaymentAddress:   cfg.Node.PaymentAddress,
		Logger:           nodeLG,
	})
	if err != nil {
		return err
	}
	defer node.Close()

	nodeLG.Infof("storage node %s starting", keys.NodeID())

	// Serve shard transfers.
	go func() {
		if err := server.ListenAndServe(cfg.Shards.ServerAddr); err != nil {
			nodeLG.Warnf("shard server stopped: %v", err)
		}
	}()

	// Status API.
	if cfg.API.Enabled {
		api := core.NewAPINode(node)
		go func() {
			nodeLG.Infof("status api listening on %s", cfg.API.Addr)
			if err := api.Start(cfg.API.Addr); err != nil {
				nodeLG.Warnf("status api stopped: %v", err)
			}
		}()
		defer api.Stop()
	}

	// Watch every descriptor topic and log incoming contracts; acting on
	// them (negotiator policy) is up to the embedding application.
	descriptors, err := node.SubscribeShardDescriptor(core.AllTopicCodes())
	if err != nil {
		return err
	}
	go func() {
		for contract := range descriptors {
			nodeLG.Infof("descriptor %s (%d bytes, topic %s)",
				contract.DataHash(), contract.DataSize(), contract.TopicHex())
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	nodeLG.Info("storage node shutting down")
	return nil
}

func nodeID(cmd *cobra.Command, _ []string) error {
	cfg, err := loadNodeConfig()
	if err != nil {
		return err
	}
	keys, err := buildKeys(cfg)
	if err != nil {
		return err
	}
	fmt.Println(keys.NodeID())
	return nil
}

func nodeInitConfig(cmd *cobra.Command, _ []string) error {
	out, _ := cmd.Flags().GetString("out")
	if err := config.WriteDefault(out); err != nil {
		return err
	}
	fmt.Printf("wrote default configuration to %s\n", out)
	return nil
}

// ---------------------------------------------------------------------------
// CLI definitions
// ---------------------------------------------------------------------------

var nodeCmd = &cobra.Command{
	Use:              "node",
	Short:            "Run and inspect the storage node daemon",
	PersistentPreRun: initNodeMiddleware,
}

var nodeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "start the node daemon",
	RunE:  nodeStart,
}

var nodeIDCmd = &cobra.Command{
	Use:   "id",
	Short: "print the node identity",
	RunE:  nodeID,
}

var nodeInitCmd = &cobra.Command{
	Use:   "init",
	Short: "write the default configuration file",
	RunE:  nodeInitConfig,
}

func init() {
	nodeCmd.PersistentFlags().String("config", "", "path to a config YAML")
	nodeStartCmd.Flags().Bool("loopback", false, "use the in-process overlay instead of libp2p")
	nodeInitCmd.Flags().String("out", "config/default.yaml", "output path")
	nodeCmd.AddCommand(nodeStartCmd, nodeIDCmd, nodeInitCmd)
}

// NodeRoute exports the consolidated node command tree.
func NodeRoute() *cobra.Command { return nodeCmd }
