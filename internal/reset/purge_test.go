package reset

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gatekeeper/internal/audit"
	"gatekeeper/internal/models"
	"gatekeeper/internal/store/storetest"
)

func TestNewPurgerRejectsBadSpec(t *testing.T) {
	_, err := NewPurger(&Service{}, "every now and then", zap.NewNop().Sugar())
	assert.Error(t, err)
}

func TestPurgerRun(t *testing.T) {
	s, db := storetest.Open(t)
	u := storetest.SeedUser(t, s, "ann", "ann@example.com", "x")
	svc := NewService(s, audit.NewRecorder(s), nil, nil, zap.NewNop().Sugar(), Config{})
	require.NoError(t, s.CreateResetToken(context.Background(), &models.PasswordResetToken{
		UserID: u.ID, TokenHash: HashToken("old"), ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}))

	p, err := NewPurger(svc, "@every 1h", zap.NewNop().Sugar())
	require.NoError(t, err)
	p.Start()
	p.run()
	p.Stop(context.Background())

	var n int64
	require.NoError(t, db.Model(&models.PasswordResetToken{}).Count(&n).Error)
	assert.Zero(t, n)
}
