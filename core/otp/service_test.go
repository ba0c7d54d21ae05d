package otp_test

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/otp"
	"github.com/trezcool/shule/storage/database/inmem"
)

const email = "awe@test.cd"

func setup(t *testing.T) (*otp.Issuer, otp.Repository) {
	t.Cleanup(func() { core.NowFunc = time.Now })
	repo := inmemdb.NewOTPRepository(inmemdb.Open())
	return otp.NewIssuer(repo, 5*time.Minute), repo
}

func freezeAt(t time.Time) { core.NowFunc = func() time.Time { return t } }

func TestGenerateCodeFunc(t *testing.T) {
	re := regexp.MustCompile(`^[0-9]{6}$`)
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := otp.GenerateCodeFunc()
		require.NoError(t, err)
		assert.Regexp(t, re, code)
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)
}

func TestIssuer_Issue(t *testing.T) {
	iss, repo := setup(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 29, 10, 0, 0, 0, time.UTC)
	freezeAt(now)

	code, err := iss.Issue(ctx, " AWE@test.cd ")
	require.NoError(t, err)
	assert.Len(t, code, 6)

	ch, err := repo.GetLatestUnverified(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, email, ch.Email)
	assert.Equal(t, now.Add(5*time.Minute), ch.ExpiresAt)
	assert.False(t, ch.IsVerified)
	assert.NotEqual(t, code, ch.CodeHash)
	assert.True(t, ch.Matches(code))
}

func TestIssuer_Verify(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 1, 29, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		verifAt time.Duration
		code    func(issued string) string
		wantErr error
	}{
		{name: "match", verifAt: time.Minute, code: func(c string) string { return c }},
		{name: "match at expiry", verifAt: 5 * time.Minute, code: func(c string) string { return c }},
		{name: "expired", verifAt: 5*time.Minute + time.Second, code: func(c string) string { return c }, wantErr: otp.ErrExpired},
		{name: "invalid code", verifAt: time.Minute, code: func(c string) string { return wrongCode(c) }, wantErr: otp.ErrInvalidCode},
		{name: "expired and invalid", verifAt: 6 * time.Minute, code: func(c string) string { return wrongCode(c) }, wantErr: otp.ErrExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iss, repo := setup(t)
			freezeAt(start)
			code, err := iss.Issue(ctx, email)
			require.NoError(t, err)

			freezeAt(start.Add(tt.verifAt))
			err = iss.Verify(ctx, email, tt.code(code))
			assert.Equal(t, tt.wantErr, err)

			_, latestErr := repo.GetLatestUnverified(ctx, email)
			if tt.wantErr == nil {
				assert.Equal(t, otp.ErrNotFound, latestErr, "challenge must be consumed")
			} else {
				assert.NoError(t, latestErr, "challenge must be left as is")
			}
		})
	}
}

func TestIssuer_Verify_singleUse(t *testing.T) {
	iss, _ := setup(t)
	ctx := context.Background()

	code, err := iss.Issue(ctx, email)
	require.NoError(t, err)

	require.NoError(t, iss.Verify(ctx, email, code))
	assert.Equal(t, otp.ErrNotFound, iss.Verify(ctx, email, code))
	assert.Equal(t, otp.ErrNotFound, iss.Verify(ctx, "nobody@test.cd", code))
}

func TestIssuer_Verify_retryAfterInvalid(t *testing.T) {
	iss, _ := setup(t)
	ctx := context.Background()

	code, err := iss.Issue(ctx, email)
	require.NoError(t, err)

	assert.Equal(t, otp.ErrInvalidCode, iss.Verify(ctx, email, wrongCode(code)))
	assert.NoError(t, iss.Verify(ctx, email, code))
}

func TestIssuer_Verify_latestWins(t *testing.T) {
	iss, _ := setup(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 29, 10, 0, 0, 0, time.UTC)

	freezeAt(start)
	first, err := iss.Issue(ctx, email)
	require.NoError(t, err)
	freezeAt(start.Add(time.Second))
	second, err := iss.Issue(ctx, email)
	require.NoError(t, err)

	if first != second {
		assert.Equal(t, otp.ErrInvalidCode, iss.Verify(ctx, email, first))
	}
	assert.NoError(t, iss.Verify(ctx, email, second))
}

func TestIssuer_Resend(t *testing.T) {
	iss, _ := setup(t)
	ctx := context.Background()

	old, err := iss.Issue(ctx, email)
	require.NoError(t, err)

	// force a different code
	otp.GenerateCodeFunc = func() (string, error) { return wrongCode(old), nil }
	t.Cleanup(func() { otp.GenerateCodeFunc = defaultGenerate })

	fresh, err := iss.Resend(ctx, email)
	require.NoError(t, err)
	require.NotEqual(t, old, fresh)

	assert.Equal(t, otp.ErrInvalidCode, iss.Verify(ctx, email, old))
	assert.NoError(t, iss.Verify(ctx, email, fresh))

	// resend after a successful verify deletes the consumed row too
	again, err := iss.Resend(ctx, email)
	require.NoError(t, err)
	assert.NoError(t, iss.Verify(ctx, email, again))
}

func TestIssuer_Verify_concurrent(t *testing.T) {
	iss, _ := setup(t)
	ctx := context.Background()

	code, err := iss.Issue(ctx, email)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		verified int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := iss.Verify(ctx, email, code); err == nil {
				mu.Lock()
				verified++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, verified)
}

var defaultGenerate = otp.GenerateCodeFunc

func wrongCode(code string) string {
	if code == "000000" {
		return "000001"
	}
	return "000000"
}
