package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"powledger/api"
	"powledger/blockchain"
	"powledger/config"
	"powledger/events"
	"powledger/logger"
	"powledger/node"
	"powledger/p2p"
)

type runOptions struct {
	*rootOptions
	mine bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a full node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if opts.mine {
				cfg.Mining.Enabled = true
			}
			return runNode(cmd.Context(), cfg)
		},
	}
	cmd.Flags().BoolVar(&opts.mine, "mine", false, "mine blocks continuously")
	return cmd
}

func runNode(ctx context.Context, cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return &config.ConfigError{Field: "log.level", Err: config.ErrInvalidLogLevel}
	}
	logger.Init(&logger.Options{Level: level, TimeFormat: time.TimeOnly, NoColor: cfg.Log.NoColor})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rewardAddress := ""
	if cfg.Mining.Enabled {
		if rewardAddress, err = resolveRewardAddress(cfg); err != nil {
			return err
		}
	}

	ncfg := nodeConfig(cfg)
	if len(cfg.P2P.DNSSeeds) > 0 {
		seeds, err := p2p.NewSeedResolver(cfg.P2P.DNSResolver).LookupSeeds(ctx, cfg.P2P.DNSSeeds, cfg.P2P.DNSSeedPort)
		if err != nil {
			logger.Warn("DNS seed lookup failed", "hosts", cfg.P2P.DNSSeeds, "error", err)
		}
		ncfg.P2P.Seeds = append(ncfg.P2P.Seeds, seeds...)
	}

	emitter, err := events.Connect(cfg.Events.NatsURL, cfg.Node.Name, cfg.Events.SubjectPrefix)
	if err != nil {
		return err
	}
	defer emitter.Close()

	n := node.NewFullNode(ncfg)
	publishEvents(n, emitter)
	if err := n.Start(); err != nil {
		return fmt.Errorf("start p2p: %w", err)
	}
	logger.Info("Node ready", "name", n.Name(), "p2p", n.Addr(), "seeds", len(ncfg.P2P.Seeds))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Run(gctx) })
	if cfg.API.Listen != "" {
		srv := api.NewServer(n, cfg.API.Listen)
		g.Go(func() error { return srv.Run(gctx) })
	}
	if cfg.Mining.Enabled {
		g.Go(func() error {
			logger.Info("Mining enabled", "reward_address", rewardAddress)
			n.StartMining(gctx, rewardAddress, cfg.Mining.Pause)
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Node stopped")
	return nil
}

// nodeConfig maps the file configuration onto the node's.
func nodeConfig(cfg *config.Config) node.Config {
	ncfg := node.DefaultConfig()

	ncfg.P2P.Name = cfg.Node.Name
	ncfg.P2P.ListenAddress = cfg.P2P.Listen
	ncfg.P2P.AdvertiseAddress = cfg.P2P.Advertise
	ncfg.P2P.Seeds = append([]string(nil), cfg.P2P.Seeds...)
	ncfg.P2P.TargetNeighbors = cfg.P2P.TargetNeighbors
	ncfg.P2P.MaxNeighbors = cfg.P2P.MaxNeighbors
	ncfg.P2P.HeartbeatTimeout = cfg.P2P.HeartbeatTimeout
	ncfg.P2P.TimerMin = cfg.P2P.TimerMin
	ncfg.P2P.TimerMax = cfg.P2P.TimerMax
	if cfg.P2P.MaxPayloadBytes > 0 {
		ncfg.P2P.MaxPayloadSize = cfg.P2P.MaxPayloadBytes
	}

	ncfg.Chain.MiningReward = cfg.Chain.MiningReward
	ncfg.Chain.MinBlockInterval = cfg.Chain.MinBlockInterval
	if cfg.Chain.OrphanTTL > 0 {
		ncfg.Chain.OrphanTTL = cfg.Chain.OrphanTTL
	}
	if cfg.Chain.InitialDifficulty > 0 {
		ncfg.Chain.InitialDifficulty = cfg.Chain.InitialDifficulty
	}
	return ncfg
}

func publishEvents(n *node.FullNode, emitter events.Emitter) {
	n.OnBlockAccepted(func(block *blockchain.Block) {
		if err := emitter.EmitBlock(block); err != nil {
			logger.Warn("Publish block event failed", "hash", blockchain.Short(block.Hash), "error", err)
		}
	})
	n.OnTransactionAccepted(func(tx *blockchain.Transaction) {
		if err := emitter.EmitTransaction(tx); err != nil {
			logger.Warn("Publish transaction event failed", "id", blockchain.Short(tx.ID), "error", err)
		}
	})
}

// resolveRewardAddress returns the configured reward address or the first
// identity of the wallet, creating the wallet and an identity if needed.
func resolveRewardAddress(cfg *config.Config) (string, error) {
	if cfg.Mining.RewardAddress != "" {
		return cfg.Mining.RewardAddress, nil
	}
	password, err := walletPassword("")
	if err != nil {
		return "", err
	}
	ks, err := openOrCreateWallet(cfg.Wallet.Path, password)
	if err != nil {
		return "", err
	}
	defer ks.Close()

	ids, err := ks.Identities()
	if err != nil {
		return "", err
	}
	if len(ids) > 0 {
		return ids[0].Address(), nil
	}
	id, err := ks.NewIdentity()
	if err != nil {
		return "", err
	}
	logger.Info("Created mining identity", "address", id.Address(), "wallet", cfg.Wallet.Path)
	return id.Address(), nil
}
