package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMatcher struct {
	exact map[string]bool
	can   map[string]bool
}

func (f *fakeMatcher) Match(ctxName, exten string) MatchResult {
	if f.exact[exten] {
		return MatchExact
	}
	if f.can[exten] {
		return MatchCan
	}
	return MatchNone
}

type fakePBX struct {
	ranPort    *Port
	ranContext string
	ranExten   string
}

func (f *fakePBX) Run(p *Port, ctxName, exten string) error {
	f.ranPort = p
	f.ranContext = ctxName
	f.ranExten = exten
	return nil
}

func digitCollectTestPort(t *testing.T) *Port {
	t.Helper()
	p := newTestPort(t, 1, LawMu)
	p.Context = "default"
	return p
}

func TestCollectFXODispatchesOnExactMatch(t *testing.T) {
	matcher := &fakeMatcher{exact: map[string]bool{"411": true}, can: map[string]bool{"4": true, "41": true}}
	pbx := &fakePBX{}
	c := NewDigitCollector(matcher, pbx, nil, nil, nil)
	p := digitCollectTestPort(t)

	digits := p.StartDigitCollection()
	for _, r := range "411" {
		digits <- r
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.CollectFXO(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "411", pbx.ranExten)
	assert.Equal(t, "default", pbx.ranContext)
}

func TestCollectFXORunsDialPrefixAction(t *testing.T) {
	matcher := &fakeMatcher{}
	pbx := &fakePBX{}
	ran := false
	prefixes := map[string]DialPrefixAction{
		"*78": func(p *Port) (bool, error) {
			ran = true
			return false, nil
		},
	}
	c := NewDigitCollector(matcher, pbx, prefixes, nil, nil)
	p := digitCollectTestPort(t)

	digits := p.StartDigitCollection()
	for _, r := range "*78" {
		digits <- r
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.CollectFXO(ctx, p)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Nil(t, pbx.ranPort)
}

func TestCollectFXONoMatchReturnsErr(t *testing.T) {
	matcher := &fakeMatcher{}
	pbx := &fakePBX{}
	c := NewDigitCollector(matcher, pbx, nil, nil, nil)
	p := digitCollectTestPort(t)

	digits := p.StartDigitCollection()
	digits <- '9'

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.CollectFXO(ctx, p)
	assert.ErrorIs(t, err, errNoMatch)
}

func TestCollectPRIOverlapUsesSeedAndExtraDigits(t *testing.T) {
	matcher := &fakeMatcher{exact: map[string]bool{"5551212": true}, can: map[string]bool{"555": true, "5551": true, "55512": true, "555121": true}}
	pbx := &fakePBX{}
	c := NewDigitCollector(matcher, pbx, nil, nil, nil)
	p := digitCollectTestPort(t)

	digits := p.StartDigitCollection()
	for _, r := range "1212" {
		digits <- r
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.CollectPRIOverlap(ctx, p, "555")
	require.NoError(t, err)
	assert.Equal(t, "5551212", pbx.ranExten)
}

func TestCollectPRIOverlapNoExtensionWhenSeedAlreadyFails(t *testing.T) {
	matcher := &fakeMatcher{}
	pbx := &fakePBX{}
	c := NewDigitCollector(matcher, pbx, nil, nil, nil)
	p := digitCollectTestPort(t)
	p.StartDigitCollection()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.CollectPRIOverlap(ctx, p, "000")
	assert.ErrorIs(t, err, ErrNoExtension)
}

func TestCollectFeatureGroupBReadsUntilHash(t *testing.T) {
	c := NewDigitCollector(nil, nil, nil, nil, nil)
	p := digitCollectTestPort(t)

	digits := p.StartDigitCollection()
	for _, r := range "5551212#" {
		digits <- r
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := c.CollectFeatureGroup(ctx, p, SigFeatB, nil)
	require.NoError(t, err)
	assert.Equal(t, "5551212", result.DNIS)
	assert.Empty(t, result.ANI)
}

func TestCollectFeatureGroupDSplitsANIAndDNIS(t *testing.T) {
	c := NewDigitCollector(nil, nil, nil, nil, nil)
	p := digitCollectTestPort(t)

	digits := p.StartDigitCollection()
	for _, r := range "2065551234*5551212#" {
		digits <- r
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := c.CollectFeatureGroup(ctx, p, SigFeatD, nil)
	require.NoError(t, err)
	assert.Equal(t, "2065551234", result.ANI)
	assert.Equal(t, "5551212", result.DNIS)
	assert.False(t, result.TandemAccess)
}

func TestCollectFeatureGroupE911RewritesAttendantDNIS(t *testing.T) {
	c := NewDigitCollector(nil, nil, nil, nil, nil)
	p := digitCollectTestPort(t)

	digits := p.StartDigitCollection()
	for _, r := range "2065551234**0#" {
		digits <- r
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := c.CollectFeatureGroup(ctx, p, SigE911, nil)
	require.NoError(t, err)
	assert.Equal(t, "0", result.DNIS)
}

func TestCollectFeatureGroupTandemAccessSendsSecondWink(t *testing.T) {
	c := NewDigitCollector(nil, nil, nil, nil, nil)
	p := digitCollectTestPort(t)

	winks := 0
	digits := p.StartDigitCollection()
	for _, r := range "2065551234*5551212#" {
		digits <- r
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := c.CollectFeatureGroup(ctx, p, SigFeatDMFTandemAccess, func() error {
		winks++
		return nil
	})
	require.NoError(t, err)
	assert.True(t, result.TandemAccess)
	assert.Equal(t, 2, winks)
}
