package jwt

import (
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-access-secret-key-for-testing-purposes"

func TestGenerateAndValidateAccessToken(t *testing.T) {
	service := NewService(testSecret, time.Hour)
	userID := uuid.New()

	token, err := service.GenerateAccessToken(userID, "aline@example.rw", []string{"customer"})
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := service.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "aline@example.rw", claims.Email)
	assert.Equal(t, []string{"customer"}, claims.Roles)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.True(t, claims.HasRole("customer"))
	assert.False(t, claims.HasRole("admin"))
}

func TestValidateAccessToken_Rejects(t *testing.T) {
	service := NewService(testSecret, time.Hour)
	userID := uuid.New()

	t.Run("Wrong Secret", func(t *testing.T) {
		other := NewService("another-secret", time.Hour)
		token, err := other.GenerateAccessToken(userID, "", nil)
		require.NoError(t, err)

		_, err = service.ValidateAccessToken(token)
		assert.Error(t, err)
		assert.False(t, IsExpired(err))
	})

	t.Run("Expired", func(t *testing.T) {
		expired := NewService(testSecret, -time.Minute)
		token, err := expired.GenerateAccessToken(userID, "", nil)
		require.NoError(t, err)

		_, err = service.ValidateAccessToken(token)
		assert.Error(t, err)
		assert.True(t, IsExpired(err))
	})

	t.Run("Foreign Issuer", func(t *testing.T) {
		claims := Claims{
			UserID: userID,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "someone-else",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = service.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("Unsigned", func(t *testing.T) {
		claims := Claims{UserID: userID, RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = service.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := service.ValidateAccessToken("not.a.token")
		assert.Error(t, err)
	})
}

func TestGetTokenExpiry(t *testing.T) {
	service := NewService(testSecret, 2*time.Hour)
	token, err := service.GenerateAccessToken(uuid.New(), "", []string{"admin"})
	require.NoError(t, err)

	expiry, err := service.GetTokenExpiry(token)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), expiry, 5*time.Second)
}

func TestConcurrentTokenGeneration(t *testing.T) {
	service := NewService(testSecret, time.Hour)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := service.GenerateAccessToken(uuid.New(), "", []string{"customer"})
			if err != nil {
				errs <- err
				return
			}
			_, err = service.ValidateAccessToken(token)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
