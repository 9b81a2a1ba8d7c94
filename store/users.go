package store

import (
	"context"
	"database/sql"
	"errors"

	"launchpad/types"
)

// User is a credential record. PasswordHash is a bcrypt hash.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
}

// CreateUser inserts a user. Fails with ALREADY_EXISTS on a taken username.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (User, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, s.now().UTC().UnixMilli())
	if err != nil {
		if isConstraintViolation(err) {
			return User{}, types.Errorf(types.CodeAlreadyExists, "create user", "", "username %q is taken", username)
		}
		return User{}, dbError("create user", "", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, dbError("create user", "", err)
	}
	return User{ID: id, Username: username, PasswordHash: passwordHash}, nil
}

// UserByName looks a user up by username.
func (s *Store) UserByName(ctx context.Context, username string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, types.Errorf(types.CodeNotFound, "get user", "", "user %q not found", username)
	}
	if err != nil {
		return User{}, dbError("get user", "", err)
	}
	return u, nil
}
