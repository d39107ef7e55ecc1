package services

import "socialfeed/models"

// IsVisible decides whether a viewer with the given relationship to the author
// may see a post. The same rule gates fan-out targeting and read-time checks.
func IsVisible(v models.Visibility, isSelf, isFollowing, isFollowed bool) bool {
	if isSelf {
		return true
	}
	if !isFollowing {
		return false
	}
	switch v {
	case models.VisibilityPublic, models.VisibilityFollowers:
		return true
	case models.VisibilityFriends:
		return isFollowed
	}
	return false
}

// AllowedVisibilities returns the visibility set a viewer may query for an
// author, given the same relationship flags as IsVisible.
func AllowedVisibilities(isSelf, isFollowing, isFollowed bool) []models.Visibility {
	switch {
	case isSelf:
		return []models.Visibility{
			models.VisibilityPublic, models.VisibilityFollowers, models.VisibilityFriends, models.VisibilityPrivate,
		}
	case isFollowing && isFollowed:
		return []models.Visibility{models.VisibilityPublic, models.VisibilityFollowers, models.VisibilityFriends}
	case isFollowing:
		return []models.Visibility{models.VisibilityPublic, models.VisibilityFollowers}
	}
	return []models.Visibility{models.VisibilityPublic}
}
