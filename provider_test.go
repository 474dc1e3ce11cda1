package track_archiver

import (
	"context"
	"errors"
	"strings"
	"testing"

	assert_ "github.com/stretchr/testify/assert"

	"github.com/alanbriolat/track-archiver/asset"
)

type stringSource string

func (s stringSource) String() string {
	return string(s)
}

func (s stringSource) Resolve(ctx context.Context) (asset.Descriptor, error) {
	return asset.Descriptor{ID: string(s)}, nil
}

func prefixMatcher(prefix string) MatchFunc {
	return func(s string) (Source, error) {
		if strings.HasPrefix(s, prefix) {
			return stringSource(s), nil
		}
		return nil, errors.New("wrong prefix")
	}
}

func TestProviderRegistry(t *testing.T) {
	assert := assert_.New(t)
	var r ProviderRegistry

	assert.ErrorIs(r.Add(Provider{Name: "nothing"}), ErrInvalidProvider)
	assert.NoError(r.Add(Provider{Name: "any", Match: prefixMatcher("")}.WithPriority(PriorityLowest)))
	assert.NoError(r.Add(Provider{Name: "a", Match: prefixMatcher("a")}))
	assert.NoError(r.Add(Provider{Name: "ab", Match: prefixMatcher("ab")}.WithPriority(PriorityHighest)))
	assert.ErrorIs(r.Add(Provider{Name: "a", Match: prefixMatcher("a")}), ErrDuplicateProvider)
	assert.Equal([]string{"ab", "a", "any"}, r.List())

	match, err := r.Match("abc")
	assert.NoError(err)
	assert.Equal("ab", match.ProviderName)
	match, err = r.Match("acd")
	assert.NoError(err)
	assert.Equal("a", match.ProviderName)
	match, err = r.Match("xyz")
	assert.NoError(err)
	assert.Equal("any", match.ProviderName)

	assert.NoError(r.SetPriority("any", PriorityHighest))
	match, err = r.Match("abc")
	assert.NoError(err)
	assert.Equal("any", match.ProviderName)
	assert.ErrorIs(r.SetPriority("missing", 0), ErrUnknownProvider)

	match, err = r.MatchWith("a", "abc")
	assert.NoError(err)
	assert.Equal("a", match.ProviderName)
	_, err = r.MatchWith("a", "xyz")
	assert.ErrorIs(err, ErrNoMatch)
	_, err = r.MatchWith("missing", "xyz")
	assert.ErrorIs(err, ErrUnknownProvider)
}

func TestProviderRegistry_NoMatch(t *testing.T) {
	assert := assert_.New(t)
	var r ProviderRegistry

	_, err := r.Match("anything")
	assert.ErrorIs(err, ErrNoMatch)

	r.MustAdd(Provider{Name: "a", Match: prefixMatcher("a")})
	r.MustAdd(Provider{Name: "b", Match: prefixMatcher("b")})
	_, err = r.Match("xyz")
	assert.ErrorIs(err, ErrNoMatch)
	// Every provider's reason is included
	assert.Contains(err.Error(), "[a] wrong prefix")
	assert.Contains(err.Error(), "[b] wrong prefix")
}
