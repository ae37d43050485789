package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskchat/internal/domain/group"
	"taskchat/internal/repository"
	"taskchat/pkg/apperrors"
)

// GroupNotifier is the dispatcher slice the group flow needs.
type GroupNotifier interface {
	GroupAdded(ctx context.Context, recipientID, actorID, groupID uuid.UUID, groupName string)
}

// GroupService manages chat group membership. Membership drives both
// message fan-out and presence contact resolution, so mutations here
// take effect on the next routed frame without any cache to bust.
type GroupService struct {
	groups   repository.GroupRepository
	notifier GroupNotifier
}

func NewGroupService(groups repository.GroupRepository, notifier GroupNotifier) *GroupService {
	return &GroupService{groups: groups, notifier: notifier}
}

// Create makes a group with the actor as creator plus the given
// initial members.
func (s *GroupService) Create(ctx context.Context, creatorID uuid.UUID, name string, description *string, memberIDs []uuid.UUID) (group.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return group.Group{}, apperrors.ErrInvalidInput
	}

	g := &group.Group{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatorID:   creatorID,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.groups.Create(ctx, g); err != nil {
		return group.Group{}, err
	}

	for _, id := range memberIDs {
		if id == creatorID {
			continue
		}
		if err := s.AddMember(ctx, creatorID, g.ID, id); err != nil {
			return group.Group{}, err
		}
	}
	return *g, nil
}

// AddMember adds a user. Any existing member may invite.
func (s *GroupService) AddMember(ctx context.Context, actorID, groupID, userID uuid.UUID) error {
	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if actorID != g.CreatorID {
		member, err := s.groups.IsMember(ctx, groupID, actorID)
		if err != nil {
			return err
		}
		if !member {
			return apperrors.ErrForbidden
		}
	}

	already, err := s.groups.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if already {
		return apperrors.ErrAlreadyExists
	}

	if err := s.groups.AddMember(ctx, &group.Member{
		GroupID:  groupID,
		UserID:   userID,
		Role:     group.RoleMember,
		JoinedAt: time.Now(),
	}); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.GroupAdded(ctx, userID, actorID, groupID, g.Name)
	}
	return nil
}

// RemoveMember removes a user. The creator may remove anyone but
// themselves; other members may only leave.
func (s *GroupService) RemoveMember(ctx context.Context, actorID, groupID, userID uuid.UUID) error {
	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if userID == g.CreatorID {
		return apperrors.ErrForbidden
	}
	if actorID != userID && actorID != g.CreatorID {
		return apperrors.ErrForbidden
	}
	return s.groups.RemoveMember(ctx, groupID, userID)
}

// MemberIDs exposes membership for routing and call invites.
func (s *GroupService) MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return s.groups.MemberIDs(ctx, groupID)
}
