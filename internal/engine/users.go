package engine

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"labelflow/internal/domain"
	"labelflow/internal/events"
	"labelflow/internal/lifecycle"
)

// UserFields are the editable profile fields. Nil leaves a field unchanged on
// update.
type UserFields struct {
	Username    *string
	UserType    *string
	Email       *string
	Picture     *string
	Preferences *domain.UserPreferences
	Socials     *domain.UserSocials
}

func (f UserFields) apply(u *domain.User) {
	if f.Username != nil {
		u.Username = strings.TrimSpace(*f.Username)
	}
	if f.UserType != nil {
		u.UserType = strings.TrimSpace(*f.UserType)
	}
	if f.Email != nil {
		u.Email = strings.TrimSpace(*f.Email)
	}
	if f.Picture != nil {
		u.Picture = *f.Picture
	}
	if f.Preferences != nil {
		u.Preferences = *f.Preferences
	}
	if f.Socials != nil {
		u.Socials = *f.Socials
	}
}

// CreateUser registers a profile for a wallet address. Wallets are unique.
func (e Engine) CreateUser(ctx context.Context, actorID, wallet string, f UserFields) (domain.User, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	now := e.now().UTC().Format(time.RFC3339)
	u := domain.User{
		ID:            uuid.NewString(),
		WalletAddress: strings.TrimSpace(wallet),
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
	f.apply(&u)
	if err := e.validateStruct(u); err != nil {
		return domain.User{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	if actorID == "" {
		actorID = u.ID
	}
	evt, err := e.writer().Append(ctx, tx, "user.create", "", "user", u.ID, actorID, events.EventPayload{
		"user_type": u.UserType,
	})
	if err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	e.publish(ctx, evt)
	return u, nil
}

// UpdateUser edits the actor's own profile.
func (e Engine) UpdateUser(ctx context.Context, userID, actorID string, expectedVersion int64, f UserFields) (domain.User, error) {
	if userID != actorID {
		return domain.User{}, lifecycle.RoleError{ActorID: actorID, Role: "profile owner"}
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	current, err := e.Repo.GetUserTx(ctx, tx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if err := checkVersion("user", userID, expectedVersion, current.Version); err != nil {
		return domain.User{}, err
	}
	next := current
	f.apply(&next)
	next.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.validateStruct(next); err != nil {
		return domain.User{}, err
	}
	if next.Version, err = e.Repo.UpdateUser(ctx, tx, next, current.Version); err != nil {
		return domain.User{}, err
	}
	evt, err := e.writer().Append(ctx, tx, "user.update", "", "user", userID, actorID, events.EventPayload{
		"version": next.Version,
	})
	if err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	if e.Names != nil && next.Username != current.Username {
		if err := e.Names.Invalidate(ctx, userID); err != nil {
			e.logger().Warn("username cache invalidate failed", slog.String("user_id", userID), slog.String("error", err.Error()))
		}
	}
	e.publish(ctx, evt)
	return next, nil
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	return e.Repo.GetUser(ctx, id)
}

func (e Engine) GetUserByWallet(ctx context.Context, wallet string) (domain.User, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	return e.Repo.GetUserByWallet(ctx, strings.TrimSpace(wallet))
}

// Usernames resolves ids to usernames, consulting the cache first when one is
// configured. Unknown ids are omitted. Cache errors fall back to the store.
func (e Engine) Usernames(ctx context.Context, ids []string) (map[string]string, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	ids = uniqueIDs(ids)
	out := make(map[string]string, len(ids))
	missing := ids
	if e.Names != nil {
		found, miss, err := e.Names.Get(ctx, ids)
		if err != nil {
			e.logger().Warn("username cache read failed", slog.String("error", err.Error()))
		} else {
			for id, name := range found {
				out[id] = name
			}
			missing = miss
		}
	}
	if len(missing) == 0 {
		return out, nil
	}
	loaded, err := e.Repo.Usernames(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, name := range loaded {
		out[id] = name
	}
	if e.Names != nil && len(loaded) > 0 {
		if err := e.Names.Set(ctx, loaded); err != nil {
			e.logger().Warn("username cache write failed", slog.String("error", err.Error()))
		}
	}
	return out, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
