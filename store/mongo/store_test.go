package mongo

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/lot"
)

func TestCompareLotsPutsNullExpiryLast(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	soon := base.Add(time.Hour)
	later := base.Add(2 * time.Hour)

	mk := func(key string, expires *time.Time, created time.Time) *lot.Lot {
		l := &lot.Lot{ID: id.NewLotID(), SourceKey: key, ExpiresAt: expires}
		l.CreatedAt = created
		return l
	}

	lots := []*lot.Lot{
		mk("never-old", nil, base),
		mk("later", &later, base),
		mk("never-new", nil, base.Add(time.Minute)),
		mk("soon-new", &soon, base.Add(time.Minute)),
		mk("soon-old", &soon, base),
	}
	slices.SortStableFunc(lots, compareLots)

	keys := make([]string, len(lots))
	for i, l := range lots {
		keys[i] = l.SourceKey
	}
	assert.Equal(t, []string{"soon-old", "soon-new", "later", "never-old", "never-new"}, keys)
}

func TestCompareLotsTieBreaksOnID(t *testing.T) {
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	a := &lot.Lot{ID: id.MustParse("lot_01h2xcejqtf2nbrexx3vqjhp41")}
	b := &lot.Lot{ID: id.MustParse("lot_01h2xcejqtf2nbrexx3vqjhp42")}
	a.CreatedAt, b.CreatedAt = at, at

	assert.Equal(t, -1, compareLots(a, b))
	assert.Equal(t, 1, compareLots(b, a))
	assert.Equal(t, 0, compareLots(a, a))
}
