// Command replica is the minimal process entrypoint: load a replica's
// static configuration, wire the module graph, dial the rest of the
// configuration, and run until terminated. It is not a product CLI —
// spec.md treats fleet bootstrapping/placement as the external
// Orchestrator's job — only local flag/file parsing for a single
// process, grounded on hotstuff.go's New/Start/Close lifecycle and the
// wider relab/hotstuff family's cobra+viper local-config convention
// (4ever9-flow-go's cmd/root.go and internal/cli/.../start.go use the
// same cobra Command + flag-bound Config struct shape).
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/felixge/fgprof"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/backend"
	"github.com/hkey0/HotShot/blockchain"
	"github.com/hkey0/HotShot/certauth"
	"github.com/hkey0/HotShot/config"
	"github.com/hkey0/HotShot/consensus"
	"github.com/hkey0/HotShot/crypto"
	"github.com/hkey0/HotShot/crypto/bls"
	replicaecdsa "github.com/hkey0/HotShot/crypto/ecdsa"
	"github.com/hkey0/HotShot/da"
	"github.com/hkey0/HotShot/eventloop"
	"github.com/hkey0/HotShot/leaderrotation"
	"github.com/hkey0/HotShot/logging"
	"github.com/hkey0/HotShot/metrics"
	"github.com/hkey0/HotShot/modules"
	"github.com/hkey0/HotShot/synchronizer"
)

type replicaSpec struct {
	ID        uint32 `mapstructure:"id"`
	Address   string `mapstructure:"address"`
	PublicKey string `mapstructure:"public_key"`
	BLSPublic string `mapstructure:"bls_public_key"`
	Stake     uint64 `mapstructure:"stake"`
}

type fileConfig struct {
	ID             uint32        `mapstructure:"id"`
	DataDir        string        `mapstructure:"data_dir"`
	PrivateKey     string        `mapstructure:"private_key"`
	UseBLS         bool          `mapstructure:"use_bls"`
	BLSPrivateKey  string        `mapstructure:"bls_private_key"`
	LeaderRotation string        `mapstructure:"leader_rotation"`
	ViewTimeout    time.Duration `mapstructure:"view_timeout"`
	MaxViewTimeout time.Duration `mapstructure:"max_view_timeout"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	PprofAddr      string        `mapstructure:"pprof_addr"`
	Replicas       []replicaSpec `mapstructure:"replicas"`
}

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "replica",
		Short: "Runs one HotShot consensus replica",
		RunE:  run,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the replica's YAML/TOML/JSON config file")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("replica: --config is required")
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("replica: reading config: %w", err)
	}

	var fc fileConfig
	if err := viper.Unmarshal(&fc); err != nil {
		return fmt.Errorf("replica: parsing config: %w", err)
	}
	if fc.ViewTimeout == 0 {
		fc.ViewTimeout = 100 * time.Millisecond
	}
	if fc.MaxViewTimeout == 0 {
		fc.MaxViewTimeout = 2 * time.Second
	}
	if fc.DialTimeout == 0 {
		fc.DialTimeout = 5 * time.Second
	}
	if fc.DataDir == "" {
		fc.DataDir = fmt.Sprintf("hotshot-data-%d", fc.ID)
	}

	replicaConf, err := buildReplicaConfig(fc)
	if err != nil {
		return err
	}

	logger := logging.GetLogger()

	if fc.PprofAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/debug/fgprof", fgprof.Handler())
		go func() {
			if err := http.ListenAndServe(fc.PprofAddr, mux); err != nil {
				logger.Warnf("replica: pprof server stopped: %v", err)
			}
		}()
	}

	stateStore, err := blockchain.NewStateStore(fc.DataDir)
	if err != nil {
		return fmt.Errorf("replica: opening state store: %w", err)
	}
	defer stateStore.Close()

	var cryptoBackend modules.Crypto
	if fc.UseBLS {
		cryptoBackend = crypto.NewCache(bls.New(replicaConf), 100)
	} else {
		cryptoBackend = crypto.NewCache(replicaecdsa.New(replicaConf), 100)
	}

	var leaderRot modules.LeaderRotation
	if fc.LeaderRotation == "weighted" {
		leaderRot = leaderrotation.NewWeighted(replicaConf.Set)
	} else {
		leaderRot = leaderrotation.NewRoundRobin(replicaConf.Set)
	}

	loop := eventloop.New(4096)
	opts := modules.NewOptions(hotshot.ID(fc.ID))
	duration := synchronizer.NewExponentialTimeout(fc.ViewTimeout, fc.MaxViewTimeout)
	syncer := synchronizer.New(duration)
	net := backend.New(replicaConf, fc.DialTimeout)
	dataAvail := da.New()
	demo := newDemoApplication()
	cs := consensus.New(consensus.NewChainedRules(), stateStore)

	core := modules.NewCore()
	core.Register(
		opts,
		loop,
		logger,
		cryptoBackend,
		blockchain.New(),
		certauth.New(),
		leaderRot,
		syncer,
		net,
		dataAvail,
		demo,
		cs,
		metrics.New(),
	)
	core.Build()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := net.Start(ctx); err != nil {
		return fmt.Errorf("replica: starting network: %w", err)
	}
	defer func() {
		if err := net.Close(); err != nil {
			logger.Warnf("replica: closing network: %v", err)
		}
	}()

	if leaderRot.GetLeader(1) == opts.ID() {
		cs.Propose(syncer.SyncInfo())
	}

	logger.Infof("replica: %d running, listening at %s", fc.ID, replicaConf.Self().Address)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("replica: shutting down")
	return nil
}

func buildReplicaConfig(fc fileConfig) (*config.ReplicaConfig, error) {
	priv, err := loadECDSAPrivateKey(fc.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("replica: loading private key: %w", err)
	}

	infos := make([]config.ReplicaInfo, 0, len(fc.Replicas))
	for _, r := range fc.Replicas {
		pub, err := loadECDSAPublicKey(r.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("replica: loading public key for replica %d: %w", r.ID, err)
		}
		var blsPub []byte
		if fc.UseBLS && r.BLSPublic != "" {
			blsPub, err = os.ReadFile(r.BLSPublic)
			if err != nil {
				return nil, fmt.Errorf("replica: loading BLS public key for replica %d: %w", r.ID, err)
			}
		}
		stake := r.Stake
		if stake == 0 {
			stake = 1
		}
		infos = append(infos, config.ReplicaInfo{
			ID:      r.ID,
			Address: r.Address,
			PubKey:  pub,
			BLSPub:  blsPub,
			Stake:   stake,
		})
	}

	var blsPriv []byte
	if fc.UseBLS {
		blsPriv, err = os.ReadFile(fc.BLSPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("replica: loading BLS private key: %w", err)
		}
	}

	return &config.ReplicaConfig{
		ID:         fc.ID,
		Set:        config.NewReplicaSet(infos),
		PrivateKey: priv,
		BLSPriv:    blsPriv,
	}, nil
}

func loadECDSAPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	return x509.ParseECPrivateKey(block.Bytes)
}

func loadECDSAPublicKey(path string) (*ecdsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%s does not hold an ECDSA public key", path)
	}
	return pub, nil
}

// demoApplication is the trivial external-state-machine stand-in this
// entrypoint needs to satisfy modules.CommandQueue/Acceptor/Executor/
// ForkHandler: a monotonic command counter, accept-everything admission,
// and log-only execution/fork notification. Grounded on twins-network.go's
// commandGenerator/commandModule pair, which plays the same role in that
// test harness.
type demoApplication struct {
	mut     sync.Mutex
	counter uint64
}

func newDemoApplication() *demoApplication { return &demoApplication{} }

func (d *demoApplication) Get(ctx context.Context) (hotshot.Command, bool) {
	d.mut.Lock()
	d.counter++
	cmd := hotshot.Command(fmt.Sprintf("cmd-%d", d.counter))
	d.mut.Unlock()
	select {
	case <-ctx.Done():
		return nil, false
	default:
		return cmd, true
	}
}

func (d *demoApplication) Accept(cmd hotshot.Command) bool { return true }
func (d *demoApplication) Proposed(cmd hotshot.Command)    {}
func (d *demoApplication) Exec(b *hotshot.Block)           {}
func (d *demoApplication) Fork(b *hotshot.Block)           {}

var (
	_ modules.CommandQueue = (*demoApplication)(nil)
	_ modules.Acceptor     = (*demoApplication)(nil)
	_ modules.Executor     = (*demoApplication)(nil)
	_ modules.ForkHandler  = (*demoApplication)(nil)
)
