package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"

	"hop-bridge/pkg/addresses"
	"hop-bridge/pkg/chain"
	"hop-bridge/pkg/hop"
	"hop-bridge/pkg/metrics"
	"hop-bridge/pkg/shared"
	"hop-bridge/pkg/tracker"
	"hop-bridge/pkg/watcher"
)

const (
	defaultNetwork = "mainnet"
	rpcBurst       = 5

	cancelPendingTimeout = 2 * time.Minute
)

var (
	optionConfig = &cli.StringFlag{
		Name:    "config",
		Usage:   "path to hop watcher config file",
		EnvVars: []string{"HOP_WATCHER_CONFIG"},
	}
	optionToken = &cli.StringFlag{
		Name:     "token",
		Usage:    "token symbol, e.g. USDC or ETH",
		Required: true,
	}
	optionSource = &cli.StringFlag{
		Name:     "source",
		Usage:    "source chain slug",
		Required: true,
	}
	optionDestination = &cli.StringFlag{
		Name:     "destination",
		Usage:    "destination chain slug",
		Required: true,
	}
)

func main() {
	app := &cli.App{
		Name:  "hop-watcher",
		Usage: "Send and follow token transfers across chains through Hop bridges",
		Commands: []*cli.Command{
			{
				Name:  "watch",
				Usage: "Follow a transfer until it lands on the destination chain",
				Flags: []cli.Flag{
					optionConfig,
					optionToken,
					optionSource,
					optionDestination,
					&cli.StringFlag{
						Name:     "tx-hash",
						Usage:    "hash of the source chain transaction",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "canonical",
						Usage: "follow a native bridge transfer instead of a Hop transfer",
					},
				},
				Action: func(c *cli.Context) error {
					return watch(c)
				},
			},
			{
				Name:  "send",
				Usage: "Submit a Hop transfer from the source chain",
				Flags: []cli.Flag{
					optionConfig,
					optionToken,
					optionSource,
					optionDestination,
					&cli.StringFlag{
						Name:     "amount",
						Usage:    "amount in the token's smallest unit",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "recipient",
						Usage:    "recipient address on the destination chain",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "bonder-fee",
						Usage: "bonder fee in the token's smallest unit, L2 sends only",
					},
					&cli.StringFlag{
						Name:  "amount-out-min",
						Usage: "minimum amount out of the source AMM swap",
					},
					&cli.DurationFlag{
						Name:  "deadline",
						Usage: "swap deadline relative to now",
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "block until the transfer completes",
					},
					&cli.BoolFlag{
						Name:  "cancel-pending",
						Usage: "replace pending transactions of the sender before sending",
					},
				},
				Action: func(c *cli.Context) error {
					return send(c)
				},
			},
			{
				Name:  "track",
				Usage: "Watch every transfer sent to a recipient from the source chain",
				Flags: []cli.Flag{
					optionConfig,
					optionToken,
					optionSource,
					&cli.StringFlag{
						Name:     "recipient",
						Usage:    "recipient address to follow",
						Required: true,
					},
					&cli.Uint64Flag{
						Name:  "from-block",
						Usage: "first source block to scan, defaults to the current head",
					},
					&cli.IntFlag{
						Name:  "max-concurrent",
						Usage: "maximum number of transfers watched at once",
						Value: 16,
					},
				},
				Action: func(c *cli.Context) error {
					return track(c)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.Writer, "exited with error: %v\n", err)
		os.Exit(1)
	}
}

type config struct {
	LogLevel      string            `yaml:"log_level"`
	Network       string            `yaml:"network"`
	RPCUrls       map[string]string `yaml:"rpc_urls"`
	AddressesFile string            `yaml:"addresses_file"`
	PrivKeyFile   string            `yaml:"priv_key_file"`
	PollInterval  time.Duration     `yaml:"poll_interval"`
	Timeout       time.Duration     `yaml:"timeout"`
	RPCRps        float64           `yaml:"rpc_rps"`
	MetricsAddr   string            `yaml:"metrics_addr"`
}

// loadConfigFromEnv reads the scalar settings plus one RPC_URL_<SLUG> per
// supported chain.
func loadConfigFromEnv() config {
	cfg := config{
		LogLevel:      os.Getenv("LOG_LEVEL"),
		Network:       os.Getenv("HOP_NETWORK"),
		AddressesFile: os.Getenv("ADDRESSES_FILE"),
		PrivKeyFile:   os.Getenv("PRIVATE_KEY_FILE_PATH"),
		MetricsAddr:   os.Getenv("METRICS_ADDR"),
		RPCUrls:       make(map[string]string),
	}
	for _, slug := range chain.Supported() {
		if url := os.Getenv("RPC_URL_" + strings.ToUpper(slug)); url != "" {
			cfg.RPCUrls[slug] = url
		}
	}
	return cfg
}

func loadConfigFromFile(cfg *config, filePath string) error {
	buf, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file at: %s, %w", filePath, err)
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config file at: %s, %w", filePath, err)
	}
	return nil
}

func checkConfig(cfg *config) error {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Network == "" {
		cfg.Network = defaultNetwork
	}
	if len(cfg.RPCUrls) == 0 {
		return fmt.Errorf("rpc_urls must name at least one chain")
	}
	for slug, url := range cfg.RPCUrls {
		if _, err := chain.FromSlug(slug); err != nil {
			return fmt.Errorf("rpc_urls: %w", err)
		}
		if url == "" {
			return fmt.Errorf("rpc_urls.%s is empty", slug)
		}
	}
	if cfg.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative")
	}
	if cfg.RPCRps < 0 {
		return fmt.Errorf("rpc_rps must not be negative")
	}
	return nil
}

func setupLogging(logLevel string) error {
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	return nil
}

func loadConfig(c *cli.Context) (config, error) {
	cfg := loadConfigFromEnv()

	configFilePath := c.String(optionConfig.Name)
	if configFilePath == "" {
		log.Info().Msg("env var config will be used")
	} else {
		log.Info().Str("config_file", configFilePath).Msg("overriding env var config with file")
		if err := loadConfigFromFile(&cfg, configFilePath); err != nil {
			return config{}, err
		}
	}

	if err := checkConfig(&cfg); err != nil {
		return config{}, fmt.Errorf("invalid config: %w", err)
	}
	if err := setupLogging(cfg.LogLevel); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func loadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("priv_key_file is required")
	}
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home dir: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	key, err := crypto.LoadECDSA(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	return key, nil
}

// newHop dials every configured chain and wraps each client in a rate
// limiter when rpc_rps is set.
func newHop(ctx context.Context, cfg config, key *ecdsa.PrivateKey) (*hop.Hop, error) {
	var chains []chain.Chain
	for slug, url := range cfg.RPCUrls {
		c, err := chain.Dial(ctx, slug, url)
		if err != nil {
			return nil, err
		}
		if cfg.RPCRps > 0 {
			c = c.WithProvider(chain.NewLimitedProvider(c.Provider, cfg.RPCRps, rpcBurst))
		}
		chains = append(chains, c)
	}

	table := addresses.Default()
	if cfg.AddressesFile != "" {
		extra, err := addresses.LoadFile(cfg.AddressesFile)
		if err != nil {
			return nil, err
		}
		table = table.Merge(extra)
	}

	opts := []hop.Option{hop.WithTable(table)}
	if key != nil {
		opts = append(opts, hop.WithPrivateKey(key))
	}
	return hop.New(cfg.Network, chains, opts...)
}

func watchOptions(cfg config) watcher.Options {
	return watcher.Options{
		PollInterval: cfg.PollInterval,
		Timeout:      cfg.Timeout,
	}
}

func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Info().Str("addr", addr).Msg("serving prometheus metrics")
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}

// datadogReporter is nil unless DD_API_KEY is set.
func datadogReporter(cfg config) *metrics.DatadogReporter {
	apiKey := os.Getenv("DD_API_KEY")
	if apiKey == "" {
		return nil
	}
	return metrics.NewDatadogReporter(apiKey, os.Getenv("DD_APP_KEY"), "network:"+cfg.Network)
}

func parseAmount(name, value string, required bool) (*big.Int, error) {
	if value == "" && !required {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer, got %q", name, value)
	}
	return amount, nil
}

func parseAddress(name, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s must be a valid hex address", name)
	}
	return common.HexToAddress(value), nil
}

func watch(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := newHop(ctx, cfg, nil)
	if err != nil {
		return err
	}
	serveMetrics(cfg.MetricsAddr)

	txHash := common.HexToHash(c.String("tx-hash"))
	started := time.Now()
	stream, err := h.Watch(ctx, txHash, c.String(optionToken.Name), c.String(optionSource.Name),
		c.String(optionDestination.Name), c.Bool("canonical"), watchOptions(cfg))
	if err != nil {
		return err
	}
	defer stream.Cancel()

	for ev := range stream.Events() {
		switch ev.Kind {
		case watcher.SourceTxReceipt:
			fmt.Fprintf(c.App.Writer, "source tx %s included in block %s on %s\n",
				ev.Receipt.TxHash.Hex(), ev.Receipt.BlockNumber, ev.Chain)
		case watcher.DestinationTxReceipt:
			fmt.Fprintf(c.App.Writer, "destination tx %s included in block %s on %s (htoken: %t)\n",
				ev.Receipt.TxHash.Hex(), ev.Receipt.BlockNumber, ev.Chain, ev.IsHTokenTransfer)
		case watcher.Error:
			fmt.Fprintf(c.App.Writer, "watch error: %v\n", ev.Err)
		}
	}

	elapsed := time.Since(started)
	outcome := stream.State().String()
	if reporter := datadogReporter(cfg); reporter != nil {
		if err := reporter.Gauge("hop.watch.elapsed_seconds", elapsed.Seconds(),
			"source:"+c.String(optionSource.Name), "destination:"+c.String(optionDestination.Name),
			"outcome:"+outcome); err != nil {
			log.Error().Err(err).Msg("failed to post watch metric")
		}
	}
	fmt.Fprintf(c.App.Writer, "watch %s after %s\n", outcome, elapsed.Round(time.Second))
	return stream.Err()
}

func send(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	key, err := loadPrivateKey(cfg.PrivKeyFile)
	if err != nil {
		return err
	}

	amount, err := parseAmount("amount", c.String("amount"), true)
	if err != nil {
		return err
	}
	bonderFee, err := parseAmount("bonder-fee", c.String("bonder-fee"), false)
	if err != nil {
		return err
	}
	amountOutMin, err := parseAmount("amount-out-min", c.String("amount-out-min"), false)
	if err != nil {
		return err
	}
	recipient, err := parseAddress("recipient", c.String("recipient"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := newHop(ctx, cfg, key)
	if err != nil {
		return err
	}

	params := hop.SendParams{
		Source:       c.String(optionSource.Name),
		Destination:  c.String(optionDestination.Name),
		Amount:       amount,
		Recipient:    recipient,
		BonderFee:    bonderFee,
		AmountOutMin: amountOutMin,
	}
	if d := c.Duration("deadline"); d > 0 {
		params.Deadline = time.Now().Add(d)
		params.DestinationDeadline = params.Deadline
	}

	if c.Bool("cancel-pending") {
		source, err := h.Chain(params.Source)
		if err != nil {
			return err
		}
		if err := shared.CancelPendingTxes(ctx, key, source.Provider, cancelPendingTimeout); err != nil {
			return err
		}
	}

	bridge := h.Bridge(c.String(optionToken.Name))
	if !c.Bool("wait") {
		tx, err := bridge.Send(ctx, params)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "transfer sent: %s\n", tx.Hash().Hex())
		return nil
	}

	serveMetrics(cfg.MetricsAddr)
	receipt, err := bridge.SendAndWait(ctx, params, watchOptions(cfg))
	if err != nil {
		return err
	}
	if receipt == nil {
		return fmt.Errorf("transfer did not complete")
	}
	fmt.Fprintf(c.App.Writer, "transfer completed: %s\n", receipt.TxHash.Hex())
	return nil
}

func track(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	recipient, err := parseAddress("recipient", c.String("recipient"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	h, err := newHop(ctx, cfg, nil)
	if err != nil {
		return err
	}
	serveMetrics(cfg.MetricsAddr)

	token := c.String(optionToken.Name)
	source, err := h.Chain(c.String(optionSource.Name))
	if err != nil {
		return err
	}
	field := addresses.L2Bridge
	if source.IsL1 {
		field = addresses.L1Bridge
	}
	bridge, err := h.Table.Resolve(h.Network, token, source.Slug, field)
	if err != nil {
		return err
	}

	l := tracker.NewListener(source, bridge, recipient, tracker.ListenerOptions{
		FromBlock:    c.Uint64("from-block"),
		PollInterval: cfg.PollInterval,
	})
	listenerDone, events, err := l.Start(ctx)
	if err != nil {
		return err
	}
	t, err := tracker.NewTracker(tracker.HopWatchFunc(h, token, watchOptions(cfg)), h.ChainByID, events,
		c.Int("max-concurrent"))
	if err != nil {
		return err
	}
	trackerDone, outcomes := t.Start(ctx)

	go func() {
		for o := range outcomes {
			if o.Err != nil {
				fmt.Fprintf(c.App.Writer, "transfer %s failed: %v\n", o.Transfer.TxHash.Hex(), o.Err)
				continue
			}
			if o.Receipt != nil {
				fmt.Fprintf(c.App.Writer, "transfer %s completed in %s\n",
					o.Transfer.TxHash.Hex(), o.Receipt.TxHash.Hex())
			}
		}
	}()

	interruptSigChan := make(chan os.Signal, 1)
	signal.Notify(interruptSigChan, os.Interrupt, syscall.SIGTERM)

	// Block until interrupt signal OR context's Done channel is closed.
	select {
	case <-interruptSigChan:
	case <-c.Done():
	case <-listenerDone:
	}
	fmt.Fprintf(c.App.Writer, "shutting down...\n")
	cancel()

	select {
	case <-trackerDone:
	case <-time.After(5 * time.Second):
		log.Error().Msg("failed to close all in time")
	}
	return nil
}
