package auth_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-session-auth"
)

func TestRegisterCreatesUnconfirmedBasicUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.registry.Register(ctx, auth.RegistrationRequest{
		Email:          "  Jane@Example.com ",
		Password:       testPassword,
		Username:       "Jane_Doe",
		FirstName:      "jane",
		LastName:       "doe",
		Phone:          "(650) 253-0000",
		CountryTelCode: "+1",
	})
	require.NoError(t, err)

	assert.NotZero(t, user.ID)
	assert.Equal(t, "jane@example.com", user.Email)
	assert.Equal(t, "jane_doe", user.Username)
	assert.Equal(t, "Jane", user.FirstName)
	assert.Equal(t, "6502530000", user.Phone)
	assert.Equal(t, "+1", user.CountryTelCode)
	assert.Equal(t, auth.RoleBasic, user.Role)
	assert.False(t, user.Confirmed)
	assert.Nil(t, user.ConfirmedAt)
	assert.True(t, user.CreatedAt.Equal(baseTime))
	assert.NotEqual(t, testPassword, user.PasswordHash)

	ok, err := env.creds.Verify(ctx, testPassword, user.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := env.registry.GetByEmail(ctx, "JANE@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   auth.RegistrationRequest
		field string
	}{
		{name: "missing email", req: auth.RegistrationRequest{Password: testPassword}, field: "email"},
		{name: "bad email", req: auth.RegistrationRequest{Email: "nope", Password: testPassword}, field: "email"},
		{name: "weak password", req: auth.RegistrationRequest{Email: "a@example.com", Password: "password"}, field: "password"},
		{name: "bad username", req: auth.RegistrationRequest{Email: "a@example.com", Password: testPassword, Username: "no spaces!"}, field: "username"},
		{name: "bad phone", req: auth.RegistrationRequest{Email: "a@example.com", Password: testPassword, Phone: "123"}, field: "phone_number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.registry.Register(ctx, tt.req)
			require.True(t, auth.IsValidationError(err), "got %v", err)
			assert.Equal(t, tt.field, auth.AsRichError(err).Metadata["field"])
		})
	}
}

func TestRegisterDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.registry.Register(ctx, auth.RegistrationRequest{
		Email:          "first@example.com",
		Password:       testPassword,
		Username:       "first",
		Phone:          "650 253 0000",
		CountryTelCode: "+1",
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		req   auth.RegistrationRequest
		field string
	}{
		{
			name:  "email",
			req:   auth.RegistrationRequest{Email: "FIRST@example.com", Password: testPassword},
			field: "email",
		},
		{
			name:  "username",
			req:   auth.RegistrationRequest{Email: "second@example.com", Password: testPassword, Username: "First"},
			field: "username",
		},
		{
			name:  "phone",
			req:   auth.RegistrationRequest{Email: "third@example.com", Password: testPassword, Phone: "+1 (650) 253-0000"},
			field: "phone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.registry.Register(ctx, tt.req)
			require.True(t, auth.IsDuplicateIdentityError(err), "got %v", err)
			assert.Equal(t, tt.field, auth.DuplicateField(err))
		})
	}
}

func TestRegisterConcurrentDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const attempts = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.registry.Register(ctx, auth.RegistrationRequest{
				Email:    "race@example.com",
				Password: testPassword,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case auth.IsDuplicateIdentityError(err):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicts)
}

func TestUniqueIndexBackstop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "taken@example.com")

	_, err := env.repo.Users().CreateTx(ctx, env.db, &auth.User{
		Email:        "taken@example.com",
		PasswordHash: "x",
	})
	require.True(t, auth.IsDuplicateIdentityError(err), "got %v", err)
	assert.Equal(t, "email", auth.DuplicateField(err))
}

func TestConfirmIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sink := &recordingSink{}
	registry := auth.NewRegistry(env.repo, env.creds,
		auth.WithRegistryClock(env.clock.Now),
		auth.WithRegistryActivitySink(sink),
	)

	user, err := registry.Register(ctx, auth.RegistrationRequest{Email: "c@example.com", Password: testPassword})
	require.NoError(t, err)

	confirmed, err := registry.Confirm(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, confirmed.Confirmed)
	require.NotNil(t, confirmed.ConfirmedAt)
	assert.True(t, confirmed.ConfirmedAt.Equal(baseTime))

	env.clock.Advance(time.Hour)
	again, err := registry.Confirm(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, again.Confirmed)
	assert.True(t, again.ConfirmedAt.Equal(baseTime), "second confirm does not move the timestamp")

	assert.Equal(t, []auth.ActivityEventType{
		auth.ActivityEventUserRegistered,
		auth.ActivityEventUserConfirmed,
	}, sink.types())

	_, err = registry.Confirm(ctx, 999)
	assert.True(t, auth.IsNotFoundError(err))
}

func TestLookups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "look@example.com")

	got, err := env.registry.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "look@example.com", got.Email)

	_, err = env.registry.GetByID(ctx, user.ID+100)
	assert.True(t, auth.IsNotFoundError(err))

	missing, err := env.registry.LookupByID(ctx, user.ID+100)
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = env.registry.GetByEmail(ctx, "nobody@example.com")
	assert.True(t, auth.IsNotFoundError(err))
}

func TestListAndUsernameLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.register(t, "first@example.com")
	second, err := env.registry.Register(ctx, auth.RegistrationRequest{
		Email:    "second@example.com",
		Password: testPassword,
		Username: "Second",
	})
	require.NoError(t, err)
	_, err = env.registry.SetRole(ctx, second.ID, auth.RoleAdmin)
	require.NoError(t, err)

	all, err := env.registry.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)

	admin := auth.RoleAdmin
	admins, err := env.registry.List(ctx, &admin)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "second@example.com", admins[0].Email)

	bogus := auth.UserRole("owner")
	_, err = env.registry.List(ctx, &bogus)
	assert.True(t, auth.IsValidationError(err))

	found, err := env.registry.GetByUsername(ctx, "SECOND")
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)

	_, err = env.registry.GetByUsername(ctx, "nobody")
	assert.True(t, auth.IsNotFoundError(err))
}

func strPtr(s string) *string { return &s }

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "profile@example.com")
	other, err := env.registry.Register(ctx, auth.RegistrationRequest{
		Email:    "other@example.com",
		Password: testPassword,
		Username: "other",
	})
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	updated, err := env.registry.UpdateProfile(ctx, user.ID, auth.ProfileUpdate{
		FirstName: strPtr("  ada  "),
		Username:  strPtr("Ada"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada", updated.FirstName)
	assert.Equal(t, "ada", updated.Username)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	reloaded, err := env.registry.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", reloaded.Username)
	assert.Equal(t, user.PasswordHash, reloaded.PasswordHash)

	_, err = env.registry.UpdateProfile(ctx, user.ID, auth.ProfileUpdate{Username: strPtr(other.Username)})
	require.True(t, auth.IsDuplicateIdentityError(err), "got %v", err)
	assert.Equal(t, "username", auth.DuplicateField(err))

	_, err = env.registry.UpdateProfile(ctx, user.ID, auth.ProfileUpdate{Phone: strPtr("123")})
	assert.True(t, auth.IsValidationError(err))

	unchanged, err := env.registry.UpdateProfile(ctx, user.ID, auth.ProfileUpdate{})
	require.NoError(t, err)
	assert.Equal(t, "ada", unchanged.Username)

	_, err = env.registry.UpdateProfile(ctx, 999, auth.ProfileUpdate{FirstName: strPtr("x")})
	assert.True(t, auth.IsNotFoundError(err))
}

func TestSetRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "role@example.com")

	updated, err := env.registry.SetRole(ctx, user.ID, auth.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, updated.Role)

	reloaded, err := env.registry.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, reloaded.Role)

	_, err = env.registry.SetRole(ctx, user.ID, auth.UserRole("owner"))
	require.True(t, auth.IsValidationError(err))
	assert.Equal(t, "type_of_user", auth.AsRichError(err).Metadata["field"])

	_, err = env.registry.SetRole(ctx, 999, auth.RoleAdmin)
	assert.True(t, auth.IsNotFoundError(err))
}

func TestRegistryErrorsKeepTheirKind(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "kind@example.com")

	tests := []struct {
		name string
		call func() error
		code string
	}{
		{
			name: "confirm missing user",
			call: func() error { _, err := env.registry.Confirm(ctx, 999); return err },
			code: auth.TextCodeNotFound,
		},
		{
			name: "set role on missing user",
			call: func() error { _, err := env.registry.SetRole(ctx, 999, auth.RoleAdmin); return err },
			code: auth.TextCodeNotFound,
		},
		{
			name: "update profile on missing user",
			call: func() error {
				_, err := env.registry.UpdateProfile(ctx, 999, auth.ProfileUpdate{FirstName: strPtr("x")})
				return err
			},
			code: auth.TextCodeNotFound,
		},
		{
			name: "update profile with short username",
			call: func() error {
				_, err := env.registry.UpdateProfile(ctx, user.ID, auth.ProfileUpdate{Username: strPtr("x")})
				return err
			},
			code: auth.TextCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.code, auth.AsRichError(err).TextCode)
			assert.False(t, auth.IsStorageError(err))
		})
	}
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sink := &recordingSink{}
	registry := auth.NewRegistry(env.repo, env.creds, auth.WithRegistryActivitySink(sink))
	user := env.register(t, "gone@example.com")

	require.NoError(t, registry.Delete(ctx, user.ID))

	missing, err := registry.LookupByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = registry.Delete(ctx, user.ID)
	assert.True(t, auth.IsNotFoundError(err))

	require.Len(t, sink.events, 1)
	assert.Equal(t, auth.ActivityEventUserDeleted, sink.events[0].EventType)
	assert.Equal(t, fmt.Sprint(user.ID), sink.events[0].UserID)
}
