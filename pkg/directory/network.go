package directory

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Network selects which directory the monitor reads membership from.
type Network struct {
	Name    string `yaml:"name"`
	SeedURL string `yaml:"seed_url"`
	Testnet bool   `yaml:"testnet"`
}

var (
	Mainnet = Network{
		Name:    "mainnet",
		SeedURL: "http://public.loki.foundation:22023/json_rpc",
	}
	Testnet = Network{
		Name:    "testnet",
		SeedURL: "http://public.loki.foundation:38157/json_rpc",
		Testnet: true,
	}
)

// Networks are the built-in presets by name.
var Networks = map[string]Network{
	Mainnet.Name: Mainnet,
	Testnet.Name: Testnet,
}

// Lookup resolves a network by name, checking extra before the presets. The
// "net=" prefix accepted by older command lines is stripped.
func Lookup(name string, extra map[string]Network) (Network, error) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "net=")
	if n, ok := extra[name]; ok {
		if n.Name == "" {
			n.Name = name
		}
		return n, nil
	}
	if n, ok := Networks[name]; ok {
		return n, nil
	}
	known := make([]string, 0, len(Networks)+len(extra))
	for k := range Networks {
		known = append(known, k)
	}
	for k := range extra {
		known = append(known, k)
	}
	sort.Strings(known)
	return Network{}, errors.Errorf("unknown network %q (known: %s)", name, strings.Join(known, ", "))
}
