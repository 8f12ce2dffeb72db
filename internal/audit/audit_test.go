package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/audit"
	"gatekeeper/internal/models"
	"gatekeeper/internal/store"
	"gatekeeper/internal/store/storetest"
)

func TestRecordStoresSnapshots(t *testing.T) {
	s, _ := storetest.Open(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := audit.NewRecorder(s).WithClock(func() time.Time { return fixed })
	ctx := context.Background()
	actor := int64(3)

	err := rec.Record(ctx, s, audit.Entry{
		ActorID:    &actor,
		Action:     audit.ActionRoleUpdate,
		EntityType: audit.EntityRole,
		EntityID:   audit.ID(9),
		Old:        map[string]string{"name": "Viewer"},
		New:        map[string]string{"name": "Reader"},
	})
	require.NoError(t, err)

	entries, err := rec.List(ctx, audit.Filter{EntityType: audit.EntityRole, EntityID: "9"})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, audit.ActionRoleUpdate, got.Action)
	require.NotNil(t, got.ActorID)
	assert.Equal(t, actor, *got.ActorID)
	assert.True(t, fixed.Equal(got.CreatedAt))

	var oldVal, newVal map[string]string
	require.NoError(t, json.Unmarshal(got.OldValue, &oldVal))
	require.NoError(t, json.Unmarshal(got.NewValue, &newVal))
	assert.Equal(t, "Viewer", oldVal["name"])
	assert.Equal(t, "Reader", newVal["name"])
}

func TestRecordWithoutSnapshots(t *testing.T) {
	s, _ := storetest.Open(t)
	rec := audit.NewRecorder(s)
	ctx := context.Background()

	require.NoError(t, rec.Record(ctx, s, audit.Entry{
		Action:     audit.ActionUserRoleRevoke,
		EntityType: audit.EntityUserRole,
		EntityID:   audit.PairID(4, 2),
	}))

	entries, err := rec.List(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "4:2", entries[0].EntityID)
	assert.Nil(t, entries[0].ActorID)
	assert.Empty(t, entries[0].OldValue)
}

func TestRecordRejectsIncompleteEntry(t *testing.T) {
	s, _ := storetest.Open(t)
	err := audit.NewRecorder(s).Record(context.Background(), s, audit.Entry{Action: audit.ActionRoleCreate})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestRecordRollsBackWithTransaction(t *testing.T) {
	s, _ := storetest.Open(t)
	rec := audit.NewRecorder(s)
	ctx := context.Background()

	err := s.Atomic(ctx, func(tx store.Store) error {
		if err := rec.Record(ctx, tx, audit.Entry{
			Action: audit.ActionRoleDelete, EntityType: audit.EntityRole, EntityID: "1",
		}); err != nil {
			return err
		}
		return errors.New("later step failed")
	})
	require.Error(t, err)

	entries, err := rec.List(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListClampsLimit(t *testing.T) {
	s, _ := storetest.Open(t)
	rec := audit.NewRecorder(s)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 210; i++ {
		require.NoError(t, s.AppendAudit(ctx, &models.AuditLog{
			Action: audit.ActionPermissionCreate, EntityType: audit.EntityPermission,
			EntityID: audit.ID(int64(i)), CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := rec.List(ctx, audit.Filter{Limit: 500})
	require.NoError(t, err)
	assert.Len(t, entries, 200)
	assert.Equal(t, "209", entries[0].EntityID)

	entries, err = rec.List(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 50)
}
