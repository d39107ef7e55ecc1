package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"socialfeed/db"
	"socialfeed/logging"
	"socialfeed/models"

	"golang.org/x/crypto/argon2"
	"gorm.io/gorm"
)

type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

type UserService struct {
	db  *db.Manager
	rel *RelationshipIndex
}

func NewUserService(m *db.Manager, rel *RelationshipIndex) *UserService {
	return &UserService{db: m, rel: rel}
}

func (in *RegisterInput) normalize() error {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Nickname = strings.TrimSpace(in.Nickname)
	if n := utf8.RuneCountInString(in.Username); n < 3 || n > 32 {
		return ErrInvalidUserInput
	}
	if !strings.Contains(in.Email, "@") || len(in.Email) > 255 {
		return ErrInvalidUserInput
	}
	if len(in.Password) < 6 {
		return ErrInvalidUserInput
	}
	if in.Nickname == "" {
		in.Nickname = in.Username
	}
	if utf8.RuneCountInString(in.Nickname) > 60 {
		return ErrInvalidUserInput
	}
	return nil
}

// HashPassword returns hex(salt)$hex(argon2id(password, salt)).
func HashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(hash), nil
}

func CheckPassword(stored, password string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func (us *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	var taken int64
	err := us.db.Read(ctx).Model(&models.User{}).
		Where("username = ? OR email = ?", in.Username, in.Email).
		Count(&taken).Error
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if taken > 0 {
		return nil, ErrUserExists
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{Username: in.Username, Email: in.Email, Password: hash, Nickname: in.Nickname}
	if err := us.db.Write(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	l := logging.Ctx(ctx)
	l.Info().Int64(logging.FieldUserID, user.ID).Str("username", user.Username).Msg("user registered")
	return user, nil
}

// Authenticate checks credentials by username or email.
func (us *UserService) Authenticate(ctx context.Context, login, password string) (*models.User, error) {
	login = strings.TrimSpace(login)
	var user models.User
	err := us.db.Read(ctx).Where("username = ? OR email = ?", login, strings.ToLower(login)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user %q: %w", login, err)
	}
	if !CheckPassword(user.Password, password) {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

// Profile returns userID as seen by viewerID.
func (us *UserService) Profile(ctx context.Context, viewerID, userID int64) (*models.UserProfile, error) {
	var user models.User
	if err := us.db.Read(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	profile := &models.UserProfile{User: user}
	if err := us.db.Read(ctx).Model(&models.Post{}).Where("user_id = ?", userID).Count(&profile.PostCount).Error; err != nil {
		return nil, fmt.Errorf("count posts of %d: %w", userID, err)
	}
	var err error
	if profile.FriendCount, err = us.rel.FriendCount(ctx, userID); err != nil {
		return nil, err
	}
	if profile.Following, profile.Followed, err = us.rel.Relation(ctx, viewerID, userID); err != nil {
		return nil, err
	}
	return profile, nil
}
