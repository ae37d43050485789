package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"taskchat/internal/domain/group"
	"taskchat/internal/domain/user"
)

// SeedConfig controls the development fixtures.
type SeedConfig struct {
	UserCount int
	Password  string
	GroupName string
}

func DefaultSeedConfig() *SeedConfig {
	return &SeedConfig{
		UserCount: 4,
		Password:  "Passw0rd!",
		GroupName: "general",
	}
}

// Seed creates a handful of users and one shared group so a fresh
// environment has something to connect with. Idempotent on username.
func Seed(db *gorm.DB, cfg *SeedConfig) ([]user.User, error) {
	if cfg == nil {
		cfg = DefaultSeedConfig()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	users := make([]user.User, 0, cfg.UserCount)
	for i := 0; i < cfg.UserCount; i++ {
		username := fmt.Sprintf("dev%d", i+1)

		var existing user.User
		err := db.Where("username = ?", username).First(&existing).Error
		if err == nil {
			users = append(users, existing)
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		u := user.User{
			ID:           uuid.New(),
			Username:     username,
			Email:        fmt.Sprintf("%s@taskchat.local", username),
			PasswordHash: string(hash),
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}
		if err := db.Create(&u).Error; err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	if len(users) == 0 {
		return users, nil
	}

	var g group.Group
	err = db.Where("name = ?", cfg.GroupName).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		g = group.Group{
			ID:        uuid.New(),
			Name:      cfg.GroupName,
			CreatorID: users[0].ID,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := db.Create(&g).Error; err != nil {
			return nil, err
		}
		for i, u := range users {
			role := group.RoleMember
			if i == 0 {
				role = group.RoleCreator
			}
			m := group.Member{GroupID: g.ID, UserID: u.ID, Role: role, JoinedAt: time.Now()}
			if err := db.Create(&m).Error; err != nil {
				return nil, err
			}
		}
	} else if err != nil {
		return nil, err
	}

	return users, nil
}
