package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"labelflow/internal/domain"
)

const userColumns = `id,username,wallet_address,user_type,COALESCE(email,''),COALESCE(picture,''),preferences_json,socials_json,created_at,updated_at,version`

func scanUser(row scanner) (domain.User, error) {
	var (
		u             domain.User
		prefs, social string
	)
	err := row.Scan(&u.ID, &u.Username, &u.WalletAddress, &u.UserType, &u.Email, &u.Picture, &prefs, &social, &u.CreatedAt, &u.UpdatedAt, &u.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if err := json.Unmarshal([]byte(prefs), &u.Preferences); err != nil {
		return u, fmt.Errorf("user %s preferences: %w", u.ID, err)
	}
	if err := json.Unmarshal([]byte(social), &u.Socials); err != nil {
		return u, fmt.Errorf("user %s socials: %w", u.ID, err)
	}
	return u, nil
}

func userJSON(u domain.User) (string, string, error) {
	prefs, err := json.Marshal(u.Preferences)
	if err != nil {
		return "", "", err
	}
	social, err := json.Marshal(u.Socials)
	if err != nil {
		return "", "", err
	}
	return string(prefs), string(social), nil
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	var existing string
	err := r.q(tx).QueryRowContext(ctx, `SELECT id FROM users WHERE wallet_address=?`, u.WalletAddress).Scan(&existing)
	if err == nil {
		return fmt.Errorf("%w: wallet %s is registered to user %s", ErrAlreadyExists, u.WalletAddress, existing)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	prefs, social, err := userJSON(u)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO users(id,username,wallet_address,user_type,email,picture,preferences_json,socials_json,created_at,updated_at,version)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Username, u.WalletAddress, u.UserType, nullable(u.Email), nullable(u.Picture), prefs, social, u.CreatedAt, u.UpdatedAt, u.Version)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return r.GetUserTx(ctx, nil, id)
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return scanUser(r.q(tx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByWallet(ctx context.Context, wallet string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE wallet_address=?`, wallet))
}

func (r Repo) UpdateUser(ctx context.Context, tx *sql.Tx, u domain.User, expected int64) (int64, error) {
	prefs, social, err := userJSON(u)
	if err != nil {
		return 0, err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE users SET username=?,user_type=?,email=?,picture=?,preferences_json=?,socials_json=?,updated_at=?,version=version+1
WHERE id=? AND version=?`,
		u.Username, u.UserType, nullable(u.Email), nullable(u.Picture), prefs, social, u.UpdatedAt, u.ID, expected)
	if err != nil {
		return 0, fmt.Errorf("update user: %w", err)
	}
	if err := r.checkCAS(ctx, tx, res, "users", u.ID); err != nil {
		return 0, err
	}
	return expected + 1, nil
}

// Usernames maps the known ids to usernames; unknown ids are omitted.
func (r Repo) Usernames(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,username FROM users WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}
