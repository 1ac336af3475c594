package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises behaviour every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("ensure creates once", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		first, created, err := store.Ensure(ctx, "sess-1")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, StageCollecting, first.Stage)
		assert.NotEmpty(t, first.Epoch)
		assert.Empty(t, first.History)
		assert.Nil(t, first.Result)

		second, created, err := store.Ensure(ctx, "sess-1")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.Epoch, second.Epoch)

		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("get missing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(context.Background(), "nope")
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

		_, err = store.Update(context.Background(), "nope", func(*Session) error { return nil })
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})

	t.Run("update persists fields", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		_, _, err := store.Ensure(ctx, "sess-2")
		require.NoError(t, err)

		updated, err := store.Update(ctx, "sess-2", func(s *Session) error {
			s.Append(0, Message{Role: RoleUser, Content: "hospitals in CA"})
			s.MergeInputs(map[string]any{"analysisType": "market", "targetEntities": []any{"hospitals"}})
			s.Profile = &Profile{Role: "Sales Executive"}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), updated.Revision)

		loaded, err := store.Get(ctx, "sess-2")
		require.NoError(t, err)
		assert.Equal(t, "market", loaded.Inputs["analysisType"])
		assert.Equal(t, []any{"hospitals"}, loaded.Inputs["targetEntities"])
		require.Len(t, loaded.History, 1)
		assert.Equal(t, "hospitals in CA", loaded.History[0].Content)
		require.NotNil(t, loaded.Profile)
		assert.Equal(t, "Sales Executive", loaded.Profile.Role)
	})

	t.Run("stage moves forward with result", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		_, _, err := store.Ensure(ctx, "sess-3")
		require.NoError(t, err)

		_, err = store.Update(ctx, "sess-3", func(s *Session) error {
			s.Stage = StageAnalyzing
			return nil
		})
		require.NoError(t, err)

		_, err = store.Update(ctx, "sess-3", func(s *Session) error {
			s.Stage = StageComplete
			return nil
		})
		assert.True(t, errors.Is(err, ErrInvalidTransition), "complete without result: %v", err)

		_, err = store.Update(ctx, "sess-3", func(s *Session) error {
			s.Stage = StageComplete
			s.Result = &Analysis{Summary: "done", ConfidenceScore: Confidence{Value: 85, Valid: true}}
			return nil
		})
		require.NoError(t, err)

		_, err = store.Update(ctx, "sess-3", func(s *Session) error {
			s.Stage = StageCollecting
			s.Result = nil
			return nil
		})
		assert.True(t, errors.Is(err, ErrInvalidTransition), "backwards transition: %v", err)

		loaded, err := store.Get(ctx, "sess-3")
		require.NoError(t, err)
		assert.Equal(t, StageComplete, loaded.Stage)
		require.NotNil(t, loaded.Result)
		assert.Equal(t, "done", loaded.Result.Summary)
		assert.Equal(t, "85", loaded.Result.ConfidenceScore.String())
	})

	t.Run("update error discards change", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		_, _, err := store.Ensure(ctx, "sess-4")
		require.NoError(t, err)

		boom := errors.New("boom")
		_, err = store.Update(ctx, "sess-4", func(s *Session) error {
			s.AnalysisError = "should not stick"
			return boom
		})
		assert.ErrorIs(t, err, boom)

		loaded, err := store.Get(ctx, "sess-4")
		require.NoError(t, err)
		assert.Empty(t, loaded.AnalysisError)
	})

	t.Run("delete and idle expiry", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			_, _, err := store.Ensure(ctx, id)
			require.NoError(t, err)
		}
		require.NoError(t, store.Delete(ctx, "a"))
		require.NoError(t, store.Delete(ctx, "a"), "deleting a missing session is not an error")

		expired, err := store.DeleteIdleBefore(ctx, time.Now().UTC().Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, expired)

		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("returned values are copies", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		sess, _, err := store.Ensure(ctx, "sess-5")
		require.NoError(t, err)
		sess.Inputs["analysisType"] = "leaked"

		loaded, err := store.Get(ctx, "sess-5")
		require.NoError(t, err)
		assert.NotContains(t, loaded.Inputs, "analysisType")
	})
}
