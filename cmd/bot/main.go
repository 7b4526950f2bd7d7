// Command bot runs a small in-process network of nodes that mine and pay
// each other at random intervals.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"powledger/blockchain"
	"powledger/logger"
	"powledger/node"
	"powledger/wallet"
)

type botOptions struct {
	bots        int
	host        string
	basePort    int
	minInterval time.Duration
	maxInterval time.Duration
	debug       bool
}

type Bot struct {
	signer *blockchain.KeySigner
	node   *node.FullNode
	peers  []string // payment targets
}

func NewBot(name, listen string, seeds []string) (*Bot, error) {
	signer, err := blockchain.GenerateKeySigner()
	if err != nil {
		return nil, err
	}
	cfg := node.DefaultConfig()
	cfg.P2P.Name = name
	cfg.P2P.ListenAddress = listen
	cfg.P2P.Seeds = seeds
	cfg.Chain.MinBlockInterval = 5 * time.Second
	return &Bot{signer: signer, node: node.NewFullNode(cfg)}, nil
}

// Act mines one block paying the bot, then sends a random share of its
// balance to another bot.
func (b *Bot) Act(ctx context.Context, rng *rand.Rand) {
	block, outcome, err := b.node.Mine(ctx, b.signer.Address())
	if err != nil {
		logger.Warn("Bot mining failed", "bot", b.node.Name(), "error", err)
		return
	}
	logger.Info("Bot mined block", "bot", b.node.Name(), "hash", blockchain.Short(block.Hash), "outcome", outcome.String(), "txs", len(block.Transactions))

	if len(b.peers) == 0 {
		return
	}
	balance, err := b.node.Balance(ctx, b.signer.Address())
	if err != nil || balance.Balance < 2 {
		return
	}
	to := b.peers[rng.IntN(len(b.peers))]
	amount := 1 + rng.Uint64N(balance.Balance/2)
	tx, err := b.node.Send(ctx, b.signer, to, amount)
	switch {
	case errors.Is(err, wallet.ErrInsufficientFunds):
		logger.Debug("Bot has no spendable outputs", "bot", b.node.Name())
	case err != nil:
		logger.Warn("Bot payment failed", "bot", b.node.Name(), "error", err)
	default:
		logger.Info("Bot sent payment", "bot", b.node.Name(), "id", blockchain.Short(tx.ID), "amount", amount)
	}
}

func (b *Bot) Loop(ctx context.Context, lo, hi time.Duration) {
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	for {
		wait := lo + time.Duration(rng.Int64N(int64(hi-lo)+1))
		logger.Debug("Bot sleeping", "bot", b.node.Name(), "for", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		b.Act(ctx, rng)
	}
}

func run(ctx context.Context, opts botOptions) error {
	if opts.bots < 1 {
		return errors.New("need at least one bot")
	}
	if opts.maxInterval < opts.minInterval {
		return errors.New("max interval below min interval")
	}

	seedAddr := fmt.Sprintf("%s:%d", opts.host, opts.basePort)
	bots := make([]*Bot, 0, opts.bots)
	for i := range opts.bots {
		name := fmt.Sprintf("bot-%d", i)
		var seeds []string
		if i > 0 {
			seeds = []string{seedAddr}
		}
		bot, err := NewBot(name, fmt.Sprintf("%s:%d", opts.host, opts.basePort+i), seeds)
		if err != nil {
			return err
		}
		if err := bot.node.Start(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		bots = append(bots, bot)
	}
	for _, bot := range bots {
		for _, other := range bots {
			if other != bot {
				bot.peers = append(bot.peers, other.signer.Address())
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, bot := range bots {
		g.Go(func() error { return bot.node.Run(gctx) })
		g.Go(func() error {
			bot.Loop(gctx, opts.minInterval, opts.maxInterval)
			return nil
		})
	}
	return g.Wait()
}

func main() {
	opts := botOptions{}
	cmd := &cobra.Command{
		Use:          "bot",
		Short:        "Run a local network of mining and paying bots",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelInfo
			if opts.debug {
				level = slog.LevelDebug
			}
			logger.Init(&logger.Options{Level: level})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}
	cmd.Flags().IntVar(&opts.bots, "bots", 4, "number of nodes")
	cmd.Flags().StringVar(&opts.host, "host", "127.0.0.1", "listen host")
	cmd.Flags().IntVar(&opts.basePort, "base-port", 19000, "port of the first node; the rest count up")
	cmd.Flags().DurationVar(&opts.minInterval, "min-interval", 10*time.Second, "shortest pause between bot actions")
	cmd.Flags().DurationVar(&opts.maxInterval, "max-interval", 2*time.Minute, "longest pause between bot actions")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "enable debug logs")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
