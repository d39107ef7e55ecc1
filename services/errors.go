package services

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindConflict
	KindForbidden
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	}
	return "internal"
}

// Error - каталогизированная доменная ошибка.
type Error struct {
	Code    int
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// Is matches catalogue errors by code so wrapped copies still compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newError(code int, kind ErrorKind, msg string) *Error {
	return &Error{Code: code, Kind: kind, Message: msg}
}

var (
	ErrUserNotFound     = newError(1001, KindNotFound, "user not found")
	ErrUserExists       = newError(1003, KindConflict, "username or email already exists")
	ErrInvalidUserInput = newError(1004, KindValidation, "invalid user input")

	ErrPostNotFound      = newError(3001, KindNotFound, "post not found")
	ErrEmptyPost         = newError(3002, KindValidation, "post must have content or images")
	ErrTooManyImages     = newError(3003, KindValidation, "too many images")
	ErrPostTooLong       = newError(3004, KindValidation, "post content too long")
	ErrNotPostOwner      = newError(3005, KindForbidden, "not the owner of the post")
	ErrInvalidVisibility = newError(3006, KindValidation, "invalid visibility")

	ErrFollowSelf       = newError(4001, KindConflict, "cannot follow yourself")
	ErrAlreadyFollowing = newError(4002, KindConflict, "already following")
	ErrNotFollowing     = newError(4003, KindConflict, "not following")

	ErrAlreadyLiked = newError(5001, KindConflict, "post already liked")
	ErrNotLiked     = newError(5002, KindConflict, "post not liked")

	ErrCommentNotFound = newError(6001, KindNotFound, "comment not found")
	ErrNotCommentOwner = newError(6002, KindForbidden, "not the owner of the comment")
	ErrEmptyComment    = newError(6003, KindValidation, "comment is empty")
	ErrCommentTooLong  = newError(6004, KindValidation, "comment too long")

	ErrInvalidNotificationType = newError(7001, KindValidation, "invalid notification type")
)

// KindOf returns the catalogue kind of err, KindInternal for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
