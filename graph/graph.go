// Package graph maintains the directed follow relationship between users.
//
// The relationship is stored as independent edge records with a uniqueness
// constraint on (follower, target) rather than as mirrored lists on both user
// rows, so establishing or removing an edge is a single atomic write. The
// follower/following counters on the user rows are denormalized views of the
// edge table; a counter write failing after the edge write leaves the
// counters behind the edges, which Recount repairs.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/inkwell-social/inkwell/models"
)

var (
	ErrNoSuchUser       = fmt.Errorf("no such user")
	ErrSelfFollow       = fmt.Errorf("cannot follow yourself")
	ErrAlreadyFollowing = fmt.Errorf("already following this user")

	// ErrPartialWrite reports that the edge write succeeded but a counter
	// update did not. The edge table is still correct; counters lag until
	// the next Recount.
	ErrPartialWrite = fmt.Errorf("follow counters out of sync with edges")
)

type Graph struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewGraph(db *gorm.DB) *Graph {
	return &Graph{
		db:  db,
		log: slog.Default().With("system", "graph"),
	}
}

func (g *Graph) userExists(ctx context.Context, uid uint) error {
	var u models.User
	if err := g.db.WithContext(ctx).First(&u, "id = ?", uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoSuchUser
		}
		return fmt.Errorf("looking up user %d: %w", uid, err)
	}
	return nil
}

// Follow establishes actor -> target. Self-follows are rejected before any
// lookup; both users must exist; following an already-followed user is a
// conflict, not a no-op.
func (g *Graph) Follow(ctx context.Context, actor, target uint) error {
	if actor == target {
		return ErrSelfFollow
	}
	if err := g.userExists(ctx, actor); err != nil {
		return err
	}
	if err := g.userExists(ctx, target); err != nil {
		return err
	}

	following, err := g.IsFollowing(ctx, actor, target)
	if err != nil {
		return err
	}
	if following {
		return ErrAlreadyFollowing
	}

	rec := models.FollowRecord{Follower: actor, Target: target}
	if err := g.db.WithContext(ctx).Create(&rec).Error; err != nil {
		// two racing follows both pass the membership check; the unique
		// index decides, and the loser reports the same conflict
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyFollowing
		}
		return fmt.Errorf("creating follow edge: %w", err)
	}

	if err := g.bumpCounters(ctx, actor, target, +1); err != nil {
		g.log.Error("follow counters not updated", "actor", actor, "target", target, "err", err)
		return fmt.Errorf("%w: %s", ErrPartialWrite, err)
	}

	return nil
}

// Unfollow removes actor -> target. Removing an edge that does not exist
// succeeds silently and changes nothing.
func (g *Graph) Unfollow(ctx context.Context, actor, target uint) error {
	if actor == target {
		return ErrSelfFollow
	}
	if err := g.userExists(ctx, actor); err != nil {
		return err
	}
	if err := g.userExists(ctx, target); err != nil {
		return err
	}

	res := g.db.WithContext(ctx).Where("follower = ? AND target = ?", actor, target).Delete(&models.FollowRecord{})
	if res.Error != nil {
		return fmt.Errorf("deleting follow edge: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	if err := g.bumpCounters(ctx, actor, target, -1); err != nil {
		g.log.Error("follow counters not updated", "actor", actor, "target", target, "err", err)
		return fmt.Errorf("%w: %s", ErrPartialWrite, err)
	}

	return nil
}

func (g *Graph) bumpCounters(ctx context.Context, actor, target uint, delta int) error {
	err := g.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", actor).
		UpdateColumn("following", gorm.Expr("following + ?", delta)).Error
	if err != nil {
		return fmt.Errorf("updating following count: %w", err)
	}
	err = g.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", target).
		UpdateColumn("followers", gorm.Expr("followers + ?", delta)).Error
	if err != nil {
		return fmt.Errorf("updating followers count: %w", err)
	}
	return nil
}

// IsFollowing reads one side of the relationship only: the edge table is the
// single record of the pair, so no cross-check against counters is needed.
func (g *Graph) IsFollowing(ctx context.Context, actor, target uint) (bool, error) {
	var n int64
	err := g.db.WithContext(ctx).Model(&models.FollowRecord{}).
		Where("follower = ? AND target = ?", actor, target).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("checking follow edge: %w", err)
	}
	return n > 0, nil
}

// GetFollowing returns the users that uid follows, newest follow first.
func (g *Graph) GetFollowing(ctx context.Context, uid uint) ([]models.User, error) {
	if err := g.userExists(ctx, uid); err != nil {
		return nil, err
	}

	var users []models.User
	err := g.db.WithContext(ctx).
		Joins("JOIN follow_records ON follow_records.target = users.id").
		Where("follow_records.follower = ?", uid).
		Order("follow_records.created_at DESC").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("listing following: %w", err)
	}
	return users, nil
}

// GetFollowers returns the users that follow uid, newest follow first.
func (g *Graph) GetFollowers(ctx context.Context, uid uint) ([]models.User, error) {
	if err := g.userExists(ctx, uid); err != nil {
		return nil, err
	}

	var users []models.User
	err := g.db.WithContext(ctx).
		Joins("JOIN follow_records ON follow_records.follower = users.id").
		Where("follow_records.target = ?", uid).
		Order("follow_records.created_at DESC").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("listing followers: %w", err)
	}
	return users, nil
}

// Purge removes every edge touching uid (both directions) and recounts the
// counterparties. Called when an account is deleted so no dangling references
// survive on the other side of the graph.
func (g *Graph) Purge(ctx context.Context, uid uint) error {
	var edges []models.FollowRecord
	err := g.db.WithContext(ctx).Find(&edges, "follower = ? OR target = ?", uid, uid).Error
	if err != nil {
		return fmt.Errorf("listing edges for purge: %w", err)
	}

	counterparts := make(map[uint]struct{})
	for _, e := range edges {
		if e.Follower != uid {
			counterparts[e.Follower] = struct{}{}
		}
		if e.Target != uid {
			counterparts[e.Target] = struct{}{}
		}
	}

	err = g.db.WithContext(ctx).Where("follower = ? OR target = ?", uid, uid).Delete(&models.FollowRecord{}).Error
	if err != nil {
		return fmt.Errorf("deleting edges for purge: %w", err)
	}

	for cp := range counterparts {
		if err := g.recountUser(ctx, cp); err != nil {
			return err
		}
	}

	return nil
}

// Recount rebuilds every user's follower/following counters from the edge
// table. This is the reconciliation sweep for partial counter writes.
func (g *Graph) Recount(ctx context.Context) error {
	var ids []uint
	if err := g.db.WithContext(ctx).Model(&models.User{}).Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("listing users for recount: %w", err)
	}

	for _, id := range ids {
		if err := g.recountUser(ctx, id); err != nil {
			return err
		}
	}

	g.log.Info("follow counters recounted", "users", len(ids))
	return nil
}

func (g *Graph) recountUser(ctx context.Context, uid uint) error {
	var following, followers int64
	err := g.db.WithContext(ctx).Model(&models.FollowRecord{}).Where("follower = ?", uid).Count(&following).Error
	if err != nil {
		return fmt.Errorf("counting following for %d: %w", uid, err)
	}
	err = g.db.WithContext(ctx).Model(&models.FollowRecord{}).Where("target = ?", uid).Count(&followers).Error
	if err != nil {
		return fmt.Errorf("counting followers for %d: %w", uid, err)
	}

	err = g.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", uid).
		UpdateColumns(map[string]any{"following": following, "followers": followers}).Error
	if err != nil {
		return fmt.Errorf("storing recount for %d: %w", uid, err)
	}
	return nil
}
