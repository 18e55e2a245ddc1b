package main

import (
	"context"
	"crypto/rand"
	"math/big"
	mathrand "math/rand"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/rs/zerolog/log"

	"hop-bridge/pkg/addresses"
	"hop-bridge/pkg/chain"
	"hop-bridge/pkg/hop"
	"hop-bridge/pkg/metrics"
	"hop-bridge/pkg/watcher"
)

const (
	token       = "ETH"
	destination = chain.Optimism
)

// Sends ETH from L1 to an L2 in a loop and reports how long each transfer
// took to land.
func main() {
	privateKeyString := os.Getenv("PRIVATE_KEY")
	if privateKeyString == "" {
		log.Fatal().Msg("PRIVATE_KEY env var is required")
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyString, "0x"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse private key")
	}

	transferAddressString := os.Getenv("ACCOUNT_ADDR")
	if !common.IsHexAddress(transferAddressString) {
		log.Fatal().Msg("ACCOUNT_ADDR must be a valid address")
	}
	transferAddr := common.HexToAddress(transferAddressString)

	l1RPCUrl, l2RPCUrl := os.Getenv("L1_RPC_URL"), os.Getenv("L2_RPC_URL")
	if l1RPCUrl == "" || l2RPCUrl == "" {
		log.Fatal().Msg("L1_RPC_URL and L2_RPC_URL env vars are required")
	}

	ctx := context.Background()
	l1, err := chain.Dial(ctx, chain.Ethereum, l1RPCUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to dial L1")
	}
	l2, err := chain.Dial(ctx, destination, l2RPCUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to dial L2")
	}

	opts := []hop.Option{hop.WithPrivateKey(privateKey)}
	if path := os.Getenv("ADDRESSES_FILE"); path != "" {
		extra, err := addresses.LoadFile(path)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load addresses file")
		}
		opts = append(opts, hop.WithTable(addresses.Default().Merge(extra)))
	}
	h, err := hop.New("mainnet", []chain.Chain{l1, l2}, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up hop")
	}
	bridge := h.Bridge(token)

	reporter := metrics.NewDatadogReporter(os.Getenv("DD_API_KEY"), os.Getenv("DD_APP_KEY"),
		"environment:test", "account_addr:"+transferAddressString)

	for {
		// Random amount in [0.01, 1] ETH
		maxWei := big.NewInt(params.Ether)
		amount, err := rand.Int(rand.Reader, maxWei)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to generate random value")
		}
		if minWei := big.NewInt(params.Ether / 100); amount.Cmp(minWei) < 0 {
			amount = minWei
		}

		started := time.Now()
		receipt, err := bridge.SendAndWait(ctx, hop.SendParams{
			Source:      chain.Ethereum,
			Destination: destination,
			Amount:      amount,
			Recipient:   transferAddr,
			Deadline:    time.Now().Add(time.Hour),
		}, watcher.Options{})
		elapsed := time.Since(started).Seconds()

		metricName := "bridging.success"
		if err != nil || receipt == nil {
			log.Error().Err(err).Msg("transfer did not complete")
			metricName = "bridging.failure"
		}
		tags := []string{"destination:" + l2.String()}
		if err := reporter.Gauge(metricName, elapsed, tags...); err != nil {
			log.Error().Err(err).Msg("failed to post metric to datadog")
		}

		// Sleep for random interval between 0 and 5 seconds
		time.Sleep(time.Duration(mathrand.Intn(6)) * time.Second)
	}
}
