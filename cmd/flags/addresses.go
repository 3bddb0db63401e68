package flags

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
)

var _ pflag.SliceValue = (*Addresses)(nil)

// Addresses is a repeatable, comma separated list of EVM addresses.
type Addresses struct {
	Value *[]string
}

func NewAddresses(addresses string) (*Addresses, error) {
	parsed, err := parse(addresses)
	if err != nil {
		return nil, err
	}
	return &Addresses{Value: &parsed}, nil
}

func (a *Addresses) Set(addresses string) error {
	if addresses == "" {
		*a.Value = make([]string, 0)
		return nil
	}
	parsed, err := parse(addresses)
	if err != nil {
		return err
	}
	*a.Value = append(*a.Value, parsed...)
	return nil
}

func (a *Addresses) String() string {
	return "[" + strings.Join(*a.Value, ",") + "]"
}

func (a *Addresses) Append(address string) error {
	return a.Set(address)
}

// Replace validates every address before overwriting the list.
func (a *Addresses) Replace(addresses []string) error {
	out := make([]string, 0, len(addresses))
	for _, address := range addresses {
		parsed, err := parse(address)
		if err != nil {
			return err
		}
		out = append(out, parsed...)
	}
	*a.Value = out
	return nil
}

func (a *Addresses) GetSlice() []string {
	return append([]string(nil), *a.Value...)
}

func (a Addresses) Type() string {
	return "addressSlice"
}

func parse(addresses string) ([]string, error) {
	clean := splitAndTrimEmpty(addresses, ",", " \t\r\n\b")

	out := make([]string, len(clean))
	for i, addr := range clean {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("%q is not an address", addr)
		}
		out[i] = strings.ToLower(common.HexToAddress(addr).Hex())
	}
	return out, nil
}

// splitAndTrimEmpty slices s into all subslices separated by sep and returns a
// slice of the string s with all leading and trailing Unicode code points
// contained in cutset removed. Empty strings are filtered out.
func splitAndTrimEmpty(s, sep, cutset string) []string {
	if s == "" {
		return []string{}
	}

	spl := strings.Split(s, sep)
	nonEmptyStrings := make([]string, 0, len(spl))

	for i := 0; i < len(spl); i++ {
		element := strings.Trim(spl[i], cutset)
		if element != "" {
			nonEmptyStrings = append(nonEmptyStrings, element)
		}
	}

	return nonEmptyStrings
}
