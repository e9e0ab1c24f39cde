package pricing

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/punchamoorthee/marketops/internal/domain"
)

func TestEffectivePrice(t *testing.T) {
	burger := domain.MarketItem{ID: "burger", BasePrice: 25}

	assert.Equal(t, int64(25), EffectivePrice(burger, ""))
	assert.Equal(t, int64(25), EffectivePrice(burger, "water"))
	assert.Equal(t, int64(23), EffectivePrice(burger, "burger"))

	// Pure: same inputs, same answer.
	assert.Equal(t, EffectivePrice(burger, "burger"), EffectivePrice(burger, "burger"))
}

func TestDiscountedFloorsAndNeverExceedsBase(t *testing.T) {
	cases := map[int64]int64{
		0:   0,
		1:   0,
		19:  18,
		20:  19,
		25:  23,
		100: 95,
		250: 237,
		999: 949,
	}
	for base, want := range cases {
		got := Discounted(base)
		assert.Equal(t, want, got, "base %d", base)
		assert.LessOrEqual(t, got, base)
	}
}

func TestPointsEarned(t *testing.T) {
	assert.Equal(t, int64(2), PointsEarned(50))
	assert.Equal(t, int64(0), PointsEarned(19))
	assert.Equal(t, int64(1), PointsEarned(20))
	assert.Equal(t, int64(0), PointsEarned(0))
	assert.Equal(t, int64(0), PointsEarned(-40))
}

func TestRollDiscount(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	assert.Equal(t, "", RollDiscount(rng, nil))

	items := []domain.MarketItem{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[RollDiscount(rng, items)] = true
	}
	assert.Len(t, seen, 3)
}

func TestResolver(t *testing.T) {
	cfg := domain.MarketConfig{Items: []domain.MarketItem{
		{ID: "burger", BasePrice: 25},
		{ID: "water", BasePrice: 5},
	}}
	resolve := NewResolver(cfg, "burger")

	p, ok := resolve("burger")
	assert.True(t, ok)
	assert.Equal(t, int64(23), p)

	p, ok = resolve("water")
	assert.True(t, ok)
	assert.Equal(t, int64(5), p)

	_, ok = resolve("phone")
	assert.False(t, ok)
}
