package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
)

const (
	Ethereum = "ethereum"
	Gnosis   = "gnosis"
	Polygon  = "polygon"
	Optimism = "optimism"
	Arbitrum = "arbitrum"
	Nova     = "nova"
	Base     = "base"
	Linea    = "linea"
	ZkSync   = "zksync"
	Scroll   = "scroll"
)

var ErrUnsupportedChain = errors.New("unsupported chain")

// UnsupportedChainError is returned when a slug has no metadata entry.
type UnsupportedChainError struct {
	Slug string
}

func (e *UnsupportedChainError) Error() string {
	return fmt.Sprintf("unsupported chain: %q", e.Slug)
}

func (e *UnsupportedChainError) Is(target error) bool {
	return target == ErrUnsupportedChain
}

// Chain identifies a network the bridge runs on. Two chains are equal when
// their normalized slugs are equal; the chain id is not compared.
type Chain struct {
	Name     string
	Slug     string
	ChainID  uint64
	IsL1     bool
	Provider Provider
}

type metadata struct {
	name    string
	chainID uint64
	isL1    bool
}

var chains = map[string]metadata{
	Ethereum: {name: "Ethereum", chainID: 1, isL1: true},
	Gnosis:   {name: "Gnosis", chainID: 100},
	Polygon:  {name: "Polygon", chainID: 137},
	Optimism: {name: "Optimism", chainID: 10},
	Arbitrum: {name: "Arbitrum One", chainID: 42161},
	Nova:     {name: "Arbitrum Nova", chainID: 42170},
	Base:     {name: "Base", chainID: 8453},
	Linea:    {name: "Linea", chainID: 59144},
	ZkSync:   {name: "zkSync", chainID: 324},
	Scroll:   {name: "Scroll", chainID: 534352},
}

// Legacy and testnet names of L1 all collapse onto the ethereum slug.
var aliases = map[string]string{
	"mainnet":       Ethereum,
	"l1":            Ethereum,
	"kovan":         Ethereum,
	"goerli":        Ethereum,
	"sepolia":       Ethereum,
	"ropsten":       Ethereum,
	"rinkeby":       Ethereum,
	"holesky":       Ethereum,
	"xdai":          Gnosis,
	"matic":         Polygon,
	"arbitrum-one":  Arbitrum,
	"arbitrum-nova": Nova,
}

// Supported returns every known slug in sorted order.
func Supported() []string {
	slugs := make([]string, 0, len(chains))
	for slug := range chains {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// NormalizeSlug lower-cases the slug and resolves known aliases.
func NormalizeSlug(slug string) string {
	s := strings.ToLower(strings.TrimSpace(slug))
	if canonical, ok := aliases[s]; ok {
		return canonical
	}
	return s
}

// FromSlug resolves a chain name or slug to its metadata.
func FromSlug(slug string) (Chain, error) {
	s := NormalizeSlug(slug)
	md, ok := chains[s]
	if !ok {
		return Chain{}, &UnsupportedChainError{Slug: slug}
	}
	return Chain{
		Name:    md.name,
		Slug:    s,
		ChainID: md.chainID,
		IsL1:    md.isL1,
	}, nil
}

// MustFromSlug is FromSlug for static slugs; it panics on unknown input.
func MustFromSlug(slug string) Chain {
	c, err := FromSlug(slug)
	if err != nil {
		panic(err)
	}
	return c
}

// FromChainID resolves a mainnet chain id. Testnet ids are not indexed.
func FromChainID(id uint64) (Chain, error) {
	for slug, md := range chains {
		if md.chainID == id {
			return FromSlug(slug)
		}
	}
	return Chain{}, &UnsupportedChainError{Slug: fmt.Sprintf("chain id %d", id)}
}

// Equals compares by normalized slug only. Testnet aliases of L1 therefore
// compare equal to mainnet even though their chain ids differ.
func (c Chain) Equals(other Chain) bool {
	return NormalizeSlug(c.Slug) == NormalizeSlug(other.Slug)
}

// WithProvider returns a copy of c bound to p.
func (c Chain) WithProvider(p Provider) Chain {
	c.Provider = p
	return c
}

func (c Chain) String() string {
	if c.Slug == "" {
		return "unknown"
	}
	return c.Slug
}

// Dial resolves slug and connects to rpcURL. The remote chain id must match the
// table unless the slug is an L1 alias, where testnets are allowed.
func Dial(ctx context.Context, slug, rpcURL string) (Chain, error) {
	c, err := FromSlug(slug)
	if err != nil {
		return Chain{}, err
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return Chain{}, fmt.Errorf("failed to dial %s rpc: %w", c.Slug, err)
	}
	remoteID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return Chain{}, fmt.Errorf("failed to get %s chain id: %w", c.Slug, err)
	}
	if remoteID.Uint64() != c.ChainID {
		if !c.IsL1 {
			client.Close()
			return Chain{}, fmt.Errorf("rpc for %s reports chain id %s, expected %d", c.Slug, remoteID, c.ChainID)
		}
		log.Warn().Str("chain", c.Slug).Str("chain_id", remoteID.String()).Msg("L1 rpc is not mainnet, using remote chain id")
		c.ChainID = remoteID.Uint64()
	}
	log.Debug().Str("chain", c.Slug).Uint64("chain_id", c.ChainID).Msg("connected")
	return c.WithProvider(client), nil
}
