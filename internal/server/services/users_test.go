package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/webmail/internal/common"
	"github.com/dmitrijs2005/webmail/internal/server/auth"
)

func TestRegister(t *testing.T) {
	env := newMailboxEnv(t)
	ctx := context.Background()

	user, err := env.userSvc.Register(ctx, &RegisterRequest{
		Email:     "alice@example.com",
		Password:  "s3cret",
		FirstName: "Alice",
		LastName:  "Archer",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.True(t, user.Active)
	assert.NotEqual(t, "s3cret", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("s3cret")))

	_, err = env.userSvc.Register(ctx, &RegisterRequest{Email: "alice@example.com", Password: "other"})
	assert.ErrorIs(t, err, common.ErrorEmailExists)
}

func TestLogin(t *testing.T) {
	env := newMailboxEnv(t)
	ctx := context.Background()

	registered, err := env.userSvc.Register(ctx, &RegisterRequest{
		Email:    "alice@example.com",
		Password: "s3cret",
	})
	require.NoError(t, err)

	token, user, err := env.userSvc.Login(ctx, "alice@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)

	userID, err := auth.GetUserIDFromToken(token, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, registered.ID, userID)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "alice@example.com", "nope"},
		{"unknown user", "nobody@example.com", "s3cret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.userSvc.Login(ctx, tt.email, tt.password)
			assert.ErrorIs(t, err, common.ErrorUnauthorized)
		})
	}
}

func TestLoginInactiveUser(t *testing.T) {
	env := newMailboxEnv(t)
	ctx := context.Background()

	user, err := env.userSvc.Register(ctx, &RegisterRequest{Email: "alice@example.com", Password: "s3cret"})
	require.NoError(t, err)

	user.Active = false
	require.NoError(t, env.users.Update(ctx, user))

	_, _, err = env.userSvc.Login(ctx, "alice@example.com", "s3cret")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestUpdateProfile(t *testing.T) {
	env := newMailboxEnv(t)
	ctx := context.Background()

	user, err := env.userSvc.Register(ctx, &RegisterRequest{
		Email:    "alice@example.com",
		Password: "s3cret",
	})
	require.NoError(t, err)
	_, err = env.userSvc.Register(ctx, &RegisterRequest{Email: "bob@example.com", Password: "x"})
	require.NoError(t, err)

	updated, err := env.userSvc.UpdateProfile(ctx, user.ID, &RegisterRequest{
		Email:     "alice2@example.com",
		FirstName: "Alice",
		LastName:  "Archer",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice2@example.com", updated.Email)
	assert.Equal(t, "Alice Archer", updated.DisplayName())

	// empty password leaves the hash alone
	_, _, err = env.userSvc.Login(ctx, "alice2@example.com", "s3cret")
	assert.NoError(t, err)

	_, err = env.userSvc.UpdateProfile(ctx, user.ID, &RegisterRequest{Email: "bob@example.com"})
	assert.ErrorIs(t, err, common.ErrorEmailExists)

	_, err = env.userSvc.UpdateProfile(ctx, user.ID, &RegisterRequest{
		Email:    "alice2@example.com",
		Password: "newpass",
	})
	require.NoError(t, err)

	_, _, err = env.userSvc.Login(ctx, "alice2@example.com", "newpass")
	assert.NoError(t, err)
}
