package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/debateflow/types"
)

func testState(t *testing.T, turn int) *types.ConversationState {
	t.Helper()
	roster, err := types.NewRoster([]types.AgentID{"sato", "suzuki"})
	require.NoError(t, err)

	state := types.NewConversationState("run-1", "topic", roster, 24)
	state.CurrentTurn = turn
	state.Transcript = append(state.Transcript, types.Utterance{
		Turn: turn, Agent: "sato", Text: "statement",
	})
	state.AddQuestion("what about cost?")
	return state
}

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SaveAndLoadLatest(t *testing.T) {
	store := newSQLite(t)
	ctx := context.Background()

	for turn := 1; turn <= 3; turn++ {
		require.NoError(t, store.Save(ctx, &Checkpoint{
			RunID: "run-1",
			Turn:  turn,
			State: testState(t, turn),
		}))
	}

	cp, err := store.LoadLatest(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, cp.Turn)
	assert.Equal(t, 3, cp.State.CurrentTurn)
	assert.Equal(t, []string{"what about cost?"}, cp.State.PendingQuestions)
	assert.Len(t, cp.State.Transcript, 1)
}

func TestSQLiteStore_LoadLatestMissingRun(t *testing.T) {
	store := newSQLite(t)

	_, err := store.LoadLatest(context.Background(), "no-such-run")
	require.Error(t, err)
	assert.Equal(t, types.ErrCheckpointNotFound, types.GetErrorCode(err))
}

func TestSQLiteStore_ListNewestFirst(t *testing.T) {
	store := newSQLite(t)
	ctx := context.Background()

	for turn := 1; turn <= 5; turn++ {
		require.NoError(t, store.Save(ctx, &Checkpoint{
			RunID: "run-1", Turn: turn, State: testState(t, turn),
		}))
	}

	cps, err := store.List(ctx, "run-1", 3)
	require.NoError(t, err)
	require.Len(t, cps, 3)
	assert.Equal(t, 5, cps[0].Turn)
	assert.Equal(t, 3, cps[2].Turn)
}

func TestSQLiteStore_DeleteRun(t *testing.T) {
	store := newSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Checkpoint{
		RunID: "run-1", Turn: 1, State: testState(t, 1),
	}))
	require.NoError(t, store.Save(ctx, &Checkpoint{
		RunID: "run-2", Turn: 1, State: testState(t, 1),
	}))

	require.NoError(t, store.DeleteRun(ctx, "run-1"))

	_, err := store.LoadLatest(ctx, "run-1")
	assert.Equal(t, types.ErrCheckpointNotFound, types.GetErrorCode(err))

	cp, err := store.LoadLatest(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Turn)
}
