package services

import (
	"fmt"
	"testing"

	"socialfeed/models"

	"github.com/stretchr/testify/require"
)

func TestIsVisibleTable(t *testing.T) {
	type rel struct{ self, following, followed bool }
	expected := map[models.Visibility]func(r rel) bool{
		models.VisibilityPublic:    func(r rel) bool { return r.self || r.following },
		models.VisibilityFollowers: func(r rel) bool { return r.self || r.following },
		models.VisibilityFriends:   func(r rel) bool { return r.self || (r.following && r.followed) },
		models.VisibilityPrivate:   func(r rel) bool { return r.self },
	}
	for _, v := range models.AllVisibilities {
		for mask := 0; mask < 8; mask++ {
			r := rel{mask&1 != 0, mask&2 != 0, mask&4 != 0}
			t.Run(fmt.Sprintf("%s/self=%v/following=%v/followed=%v", v, r.self, r.following, r.followed), func(t *testing.T) {
				require.Equal(t, expected[v](r), IsVisible(v, r.self, r.following, r.followed))
			})
		}
	}
}

func TestUnknownVisibilityHiddenFromOthers(t *testing.T) {
	require.False(t, IsVisible("SECRET", false, true, true))
	require.True(t, IsVisible("SECRET", true, false, false))
}

func TestAllowedVisibilities(t *testing.T) {
	require.Len(t, AllowedVisibilities(true, false, false), 4)
	require.ElementsMatch(t,
		[]models.Visibility{models.VisibilityPublic, models.VisibilityFollowers, models.VisibilityFriends},
		AllowedVisibilities(false, true, true))
	require.ElementsMatch(t,
		[]models.Visibility{models.VisibilityPublic, models.VisibilityFollowers},
		AllowedVisibilities(false, true, false))
	require.Equal(t, []models.Visibility{models.VisibilityPublic}, AllowedVisibilities(false, false, true))
	require.Equal(t, []models.Visibility{models.VisibilityPublic}, AllowedVisibilities(false, false, false))
}

// Any post allowed by the query set of a following viewer must also pass the
// read-time check for the same relationship.
func TestAllowedSetAgreesWithIsVisible(t *testing.T) {
	for mask := 0; mask < 8; mask++ {
		self, following, followed := mask&1 != 0, mask&2 != 0, mask&4 != 0
		if !self && !following {
			continue
		}
		for _, v := range AllowedVisibilities(self, following, followed) {
			require.True(t, IsVisible(v, self, following, followed), "%s mask=%d", v, mask)
		}
	}
}
