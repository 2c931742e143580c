package optics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrParse reports a malformed channel specification, most often a
// wavelength code that does not split into three numeric-leading tokens.
var ErrParse = errors.New("optics: malformed channel specification")

// Excitation filters on the scopes we support pass a narrow band around the
// laser line; the recorded excitation range is always the line ±1.5 nm.
const excitationHalfWidth = 1.5

// ChannelSpec is one row of a channel table: fluorophore label, physical
// filter description, and the wavelength code. Codes have the form
// "EXC-EMID-WIDTHu", e.g. "488-525-50m" for 488 nm excitation, 525 nm
// emission midpoint and 50 nm emission full width.
type ChannelSpec struct {
	Label  string `yaml:"label" json:"label"`
	Filter string `yaml:"filter" json:"filter"`
	Code   string `yaml:"code" json:"code"`
}

// Channel is a validated optical channel. Immutable once parsed.
type Channel struct {
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Code             string     `json:"code"`
	ExcitationLambda float64    `json:"excitation_lambda"`
	ExcitationRange  [2]float64 `json:"excitation_range"`
	EmissionLambda   float64    `json:"emission_lambda"`
	EmissionRange    [2]float64 `json:"emission_range"`
}

// ParseChannel validates a single channel spec.
func ParseChannel(spec ChannelSpec) (Channel, error) {
	exc, mid, width, err := parseCode(spec.Code)
	if err != nil {
		return Channel{}, err
	}
	return Channel{
		Name:             spec.Label,
		Description:      spec.Filter,
		Code:             spec.Code,
		ExcitationLambda: exc,
		ExcitationRange:  [2]float64{exc - excitationHalfWidth, exc + excitationHalfWidth},
		EmissionLambda:   mid,
		EmissionRange:    [2]float64{mid - width/2, mid + width/2},
	}, nil
}

// parseCode splits "EXC-EMID-WIDTHu" into its three numeric components. The
// width token carries a trailing unit suffix which is ignored.
func parseCode(code string) (exc, mid, width float64, err error) {
	parts := strings.Split(code, "-")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: code %q does not split into three tokens", ErrParse, code)
	}
	exc, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: excitation token %q in %q", ErrParse, parts[0], code)
	}
	mid, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: emission token %q in %q", ErrParse, parts[1], code)
	}
	num := numericPrefix(parts[2])
	if num == "" {
		return 0, 0, 0, fmt.Errorf("%w: width token %q in %q", ErrParse, parts[2], code)
	}
	width, err = strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: width token %q in %q", ErrParse, parts[2], code)
	}
	return exc, mid, width, nil
}

func numericPrefix(s string) string {
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	return s[:i]
}

// Catalog is an ordered list of optical channels. The order is semantically
// significant: images and channel references address channels by position,
// never by name.
type Catalog struct {
	Channels []Channel
}

// ParseCatalog validates an ordered channel table.
func ParseCatalog(specs []ChannelSpec) (*Catalog, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: empty channel table", ErrParse)
	}
	cat := &Catalog{Channels: make([]Channel, 0, len(specs))}
	for i, spec := range specs {
		ch, err := ParseChannel(spec)
		if err != nil {
			return nil, fmt.Errorf("channel %d (%s): %w", i, spec.Label, err)
		}
		cat.Channels = append(cat.Channels, ch)
	}
	return cat, nil
}

// Len returns the number of channels.
func (c *Catalog) Len() int { return len(c.Channels) }

// Codes returns the wavelength codes in catalog order.
func (c *Catalog) Codes() []string {
	codes := make([]string, len(c.Channels))
	for i, ch := range c.Channels {
		codes[i] = ch.Code
	}
	return codes
}

// Subset returns a new catalog containing the channels at idx, in the given
// order. Used to derive the processed-image catalog from the display subset
// of the structural one.
func (c *Catalog) Subset(idx []int) (*Catalog, error) {
	sub := &Catalog{Channels: make([]Channel, 0, len(idx))}
	for _, i := range idx {
		if i < 0 || i >= len(c.Channels) {
			return nil, fmt.Errorf("%w: channel index %d out of range [0,%d)", ErrParse, i, len(c.Channels))
		}
		sub.Channels = append(sub.Channels, c.Channels[i])
	}
	if len(sub.Channels) == 0 {
		return nil, fmt.Errorf("%w: empty channel subset", ErrParse)
	}
	return sub, nil
}
