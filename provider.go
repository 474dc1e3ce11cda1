// Package track_archiver matches user input to downloadable tracks and holds the application configuration.
package track_archiver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/alanbriolat/track-archiver/asset"
	"github.com/alanbriolat/track-archiver/generic"
)

var (
	ErrDuplicateProvider = errors.New("duplicate provider name")
	ErrInvalidProvider   = errors.New("invalid provider")
	ErrNoMatch           = errors.New("no provider matched the input")
	ErrUnknownProvider   = errors.New("unknown provider")
)

var (
	PriorityHighest int16 = math.MinInt16
	PriorityDefault int16 = 0
	PriorityLowest  int16 = math.MaxInt16
)

// Source is something a Provider recognised, which can be resolved into a downloadable asset.
type Source interface {
	String() string
	// Resolve fetches or decodes whatever is needed to describe the asset.
	Resolve(ctx context.Context) (asset.Descriptor, error)
}

type MatchFunc = func(string) (Source, error)

// A Provider matches any input it knows how to handle, giving a Source that can be resolved to a track.
type Provider struct {
	Name  string
	Match MatchFunc
	// Priority of the matcher, lower (including negative) means matching earlier.
	Priority int16
}

func (p Provider) WithPriority(priority int16) Provider {
	p.Priority = priority
	return p
}

// A Match is the result of a Provider successfully matching an input.
type Match struct {
	ProviderName string
	Source       Source
}

// A ProviderRegistry is a collection of Provider instances which can be used to try to match inputs.
type ProviderRegistry struct {
	providers   []*Provider
	providerMap map[string]*Provider
}

// Add registers a Provider with the ProviderRegistry. Provider.Name and Provider.Match must be set, and
// Provider.Name must be unique within the ProviderRegistry.
func (r *ProviderRegistry) Add(p Provider) error {
	if r.providerMap == nil {
		r.providerMap = make(map[string]*Provider)
	}
	if p.Name == "" || p.Match == nil {
		return ErrInvalidProvider
	}
	if _, ok := r.providerMap[p.Name]; ok {
		return fmt.Errorf("%w: %v", ErrDuplicateProvider, p.Name)
	}
	r.providerMap[p.Name] = &p
	r.providers = append(r.providers, r.providerMap[p.Name])
	r.sortByPriority()
	return nil
}

// MustAdd wraps Add but panics if there is an error.
func (r *ProviderRegistry) MustAdd(p Provider) {
	generic.Unwrap_(r.Add(p))
}

// List returns the names of registered providers in priority order.
func (r *ProviderRegistry) List() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name)
	}
	return names
}

// Match an input against each Provider in priority order. The error from a failed match wraps ErrNoMatch and
// includes every provider's reason for rejecting the input.
func (r *ProviderRegistry) Match(s string) (*Match, error) {
	var result error
	for _, p := range r.providers {
		source, err := p.Match(s)
		if err == nil && source != nil {
			return &Match{ProviderName: p.Name, Source: source}, nil
		}
		if err == nil {
			err = ErrNoMatch
		}
		result = multierror.Append(result, multierror.Prefix(err, fmt.Sprintf("[%v]", p.Name)))
	}
	if result == nil {
		return nil, ErrNoMatch
	}
	return nil, fmt.Errorf("%w: %v", ErrNoMatch, result)
}

// MatchWith will attempt to match an input against a specific provider.
func (r *ProviderRegistry) MatchWith(name string, s string) (*Match, error) {
	p, ok := r.providerMap[name]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownProvider, name)
	}
	source, err := p.Match(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoMatch, err)
	} else if source == nil {
		return nil, ErrNoMatch
	}
	return &Match{ProviderName: p.Name, Source: source}, nil
}

// SetPriority adjusts the priority of a named Provider.
func (r *ProviderRegistry) SetPriority(name string, priority int16) error {
	if p, ok := r.providerMap[name]; ok {
		p.Priority = priority
		r.sortByPriority()
		return nil
	}
	return ErrUnknownProvider
}

func (r *ProviderRegistry) sortByPriority() {
	sort.SliceStable(r.providers, func(i, j int) bool {
		return r.providers[i].Priority < r.providers[j].Priority
	})
}

var DefaultProviderRegistry ProviderRegistry
