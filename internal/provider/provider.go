package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Provider is one of the supported payment providers. The set is closed;
// Parse is the only way to obtain a Provider from user input.
type Provider int

const (
	Unsupported Provider = iota
	Razorpay
	Stripe
	Paytm
	Cashfree
)

var names = map[Provider]string{
	Razorpay: "RAZORPAY",
	Stripe:   "STRIPE",
	Paytm:    "PAYTM",
	Cashfree: "CASHFREE",
}

var ErrUnsupported = errors.New("unsupported payment provider")

func (p Provider) String() string {
	if n, ok := names[p]; ok {
		return n
	}
	return "UNSUPPORTED"
}

// refPrefix is prepended to every order reference the provider issues so
// verification can dispatch on the reference alone.
func (p Provider) refPrefix() string {
	return strings.ToLower(p.String()) + "_"
}

func Parse(name string) (Provider, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for p, n := range names {
		if n == upper {
			return p, nil
		}
	}
	return Unsupported, fmt.Errorf("%w: %q", ErrUnsupported, name)
}

// FromOrderRef returns the provider that issued ref.
func FromOrderRef(ref string) (Provider, bool) {
	for p := range names {
		if strings.HasPrefix(ref, p.refPrefix()) {
			return p, true
		}
	}
	return Unsupported, false
}

// Set is a configured subset of providers.
type Set map[Provider]struct{}

func NewSet(names []string) (Set, error) {
	set := make(Set, len(names))
	for _, n := range names {
		p, err := Parse(n)
		if err != nil {
			return nil, err
		}
		set[p] = struct{}{}
	}
	return set, nil
}

func All() Set {
	set := make(Set, len(names))
	for p := range names {
		set[p] = struct{}{}
	}
	return set
}

// Resolve parses name and rejects providers outside the set.
func (s Set) Resolve(name string) (Provider, error) {
	p, err := Parse(name)
	if err != nil {
		return Unsupported, err
	}
	if _, ok := s[p]; !ok {
		return Unsupported, fmt.Errorf("%w: %s is not enabled", ErrUnsupported, p)
	}
	return p, nil
}
