package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"powledger/blockchain"
	"powledger/generator"
)

func main() {
	var (
		out  = flag.String("out", "curl", "output directory")
		api  = flag.String("api", "http://localhost:8372", "node API base URL")
		opts = generator.DefaultChainOptions()
	)
	flag.IntVar(&opts.Blocks, "blocks", 3, "blocks to generate on top of genesis")
	flag.IntVar(&opts.Accounts, "accounts", 2, "accounts mining and paying each other")
	flag.IntVar(&opts.TxPerBlock, "txs", 2, "payments per block")
	flag.Uint64Var(&opts.Seed, "seed", 1, "random seed for payments")
	flag.Parse()

	fmt.Println("Generating curl test scripts with real blockchain data...")

	chain, err := generator.GenerateChain(opts)
	if err != nil {
		log.Fatal("Failed to generate chain: ", err)
	}
	scripts, err := writeScripts(*out, *api, chain.Blocks)
	if err != nil {
		log.Fatal(err)
	}
	for _, s := range scripts {
		fmt.Printf("Generated: %s\n", s)
	}

	fmt.Printf("\nGenerated %d test scripts successfully!\n", len(scripts))
	fmt.Println("Accounts:")
	for _, acct := range chain.Accounts {
		fmt.Printf("  %s  balance %d\n", acct.Address(), blockchain.ComputeBalance(chain.Blocks, acct.Address()).Balance)
	}
	fmt.Println("Usage:")
	fmt.Println("  1. Start your node: go run ./cmd/node run")
	fmt.Printf("  2. Run individual tests: ./%s/post_block_1.sh\n", *out)
	fmt.Printf("  3. Run all sequentially: ./%s/post_all_blocks.sh\n", *out)
}

// writeScripts writes one script per non-genesis block and one that posts
// them all in order. It returns the paths written.
func writeScripts(dir, api string, blocks []*blockchain.Block) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	var written []string
	for i, block := range blocks[1:] {
		n := i + 1
		body, err := json.Marshal(block)
		if err != nil {
			return nil, fmt.Errorf("marshal block %d: %w", n, err)
		}
		script := fmt.Sprintf(`#!/bin/bash
echo "=== POST /api/blocks - block %d ==="
echo "Block hash: %s"
echo ""

curl -X POST %s/api/blocks \
  -H "Content-Type: application/json" \
  -d '%s' \
  --max-time 2 \
  --connect-timeout 2 \
  --fail-with-body \
  | jq '.' 2>/dev/null || cat
echo -e "\n"
`, n, block.Hash, api, body)

		path := filepath.Join(dir, fmt.Sprintf("post_block_%d.sh", n))
		if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
			return nil, err
		}
		written = append(written, path)
	}

	var all strings.Builder
	fmt.Fprintf(&all, `#!/bin/bash
echo "=== Sequential block submission ==="

if ! curl -s --connect-timeout 2 --max-time 2 %s/api/chain/height > /dev/null; then
    echo "Node API not responding at %s"
    exit 1
fi

`, api, api)
	for n := 1; n < len(blocks); n++ {
		fmt.Fprintf(&all, "echo \"Submitting block %d...\"\n\"$(dirname \"$0\")/post_block_%d.sh\" || echo \"Block %d failed, continuing...\"\n\n", n, n, n)
	}
	fmt.Fprintf(&all, "echo \"Chain height:\"\ncurl -s %s/api/chain/height | jq '.' 2>/dev/null || cat\necho \"\"\n", api)

	path := filepath.Join(dir, "post_all_blocks.sh")
	if err := os.WriteFile(path, []byte(all.String()), 0o755); err != nil {
		return nil, err
	}
	return append(written, path), nil
}
