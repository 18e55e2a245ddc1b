package addresses

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"hop-bridge/pkg/chain"
)

type Field string

const (
	L1Bridge              Field = "l1Bridge"
	L1CanonicalToken      Field = "l1CanonicalToken"
	L1CanonicalBridge     Field = "l1CanonicalBridge"
	L1Amb                 Field = "l1Amb"
	L1PosRootChainManager Field = "l1PosRootChainManager"
	L2Bridge              Field = "l2Bridge"
	L2AmmWrapper          Field = "l2AmmWrapper"
	L2SaddleSwap          Field = "l2SaddleSwap"
	L2HopBridgeToken      Field = "l2HopBridgeToken"
	L2CanonicalToken      Field = "l2CanonicalToken"
	L2CanonicalBridge     Field = "l2CanonicalBridge"
	L2Amb                 Field = "l2Amb"
)

var ErrConfigNotFound = errors.New("config not found")

// ConfigNotFoundError reports a missing network/token/chain/field entry.
type ConfigNotFoundError struct {
	Network string
	Token   string
	Chain   string
	Field   Field
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("no %s address for token %s on %s (%s)", e.Field, e.Token, e.Chain, e.Network)
}

func (e *ConfigNotFoundError) Is(target error) bool {
	return target == ErrConfigNotFound
}

// Table is keyed by network, token symbol, chain slug and field.
type Table map[string]map[string]map[string]map[Field]common.Address

// Resolve returns the address recorded for the given coordinates. The chain is
// normalized, so "xdai" and "gnosis" resolve the same entry.
func (t Table) Resolve(network, token, chainSlug string, field Field) (common.Address, error) {
	slug := chain.NormalizeSlug(chainSlug)
	notFound := &ConfigNotFoundError{Network: network, Token: token, Chain: slug, Field: field}

	tokens, ok := t[network]
	if !ok {
		return common.Address{}, notFound
	}
	chains, ok := tokens[token]
	if !ok {
		return common.Address{}, notFound
	}
	fields, ok := chains[slug]
	if !ok {
		return common.Address{}, notFound
	}
	addr, ok := fields[field]
	if !ok || addr == (common.Address{}) {
		return common.Address{}, notFound
	}
	return addr, nil
}

// Set records a single address, creating intermediate levels.
func (t Table) Set(network, token, chainSlug string, field Field, addr common.Address) {
	slug := chain.NormalizeSlug(chainSlug)
	if t[network] == nil {
		t[network] = make(map[string]map[string]map[Field]common.Address)
	}
	if t[network][token] == nil {
		t[network][token] = make(map[string]map[Field]common.Address)
	}
	if t[network][token][slug] == nil {
		t[network][token][slug] = make(map[Field]common.Address)
	}
	t[network][token][slug][field] = addr
}

// Merge overlays other onto a copy of t.
func (t Table) Merge(other Table) Table {
	out := Table{}
	for _, src := range []Table{t, other} {
		for network, tokens := range src {
			for token, chains := range tokens {
				for slug, fields := range chains {
					for field, addr := range fields {
						out.Set(network, token, slug, field, addr)
					}
				}
			}
		}
	}
	return out
}

type rawTable map[string]map[string]map[string]map[string]string

// Load parses a YAML address table.
func Load(r io.Reader) (Table, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read address table: %w", err)
	}
	var raw rawTable
	if err := yaml.Unmarshal(buf, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal address table: %w", err)
	}

	t := Table{}
	for network, tokens := range raw {
		for token, chains := range tokens {
			for slug, fields := range chains {
				if _, err := chain.FromSlug(slug); err != nil {
					return nil, fmt.Errorf("address table %s/%s: %w", network, token, err)
				}
				for field, hex := range fields {
					if !common.IsHexAddress(hex) {
						return nil, fmt.Errorf("address table %s/%s/%s/%s: %q is not a valid hex address",
							network, token, slug, field, hex)
					}
					t.Set(network, token, slug, Field(field), common.HexToAddress(hex))
				}
			}
		}
	}
	return t, nil
}

// LoadFile parses the YAML address table at path.
func LoadFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open address table at: %s, %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

//go:embed default.yaml
var defaultTable []byte

// Default returns the embedded mainnet table. Chains it does not carry are
// supplied through an addresses file and merged on top.
func Default() Table {
	t, err := Load(bytes.NewReader(defaultTable))
	if err != nil {
		panic(err)
	}
	return t
}
