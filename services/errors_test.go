package services

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorKindAndWrapping(t *testing.T) {
	wrapped := fmt.Errorf("like post 7: %w", ErrAlreadyLiked)
	require.ErrorIs(t, wrapped, ErrAlreadyLiked)
	require.NotErrorIs(t, wrapped, ErrNotLiked)
	require.Equal(t, KindConflict, KindOf(wrapped))
	require.Equal(t, KindInternal, KindOf(fmt.Errorf("boom")))
	require.Equal(t, "3001: post not found", ErrPostNotFound.Error())
	require.Equal(t, "forbidden", KindOf(ErrNotPostOwner).String())
}
