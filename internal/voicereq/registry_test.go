package voicereq

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateStartsPending(t *testing.T) {
	r := NewRegistry()
	id := r.Create("en")
	require.Len(t, id, 16, "id should be an 8-byte hex token")

	snap, err := r.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusPending, snap.Status)
	require.Nil(t, snap.Transcript)
	require.Nil(t, snap.Err)
}

func TestLifecycleViaClaim(t *testing.T) {
	r := NewRegistry()
	id := r.Create("fr")

	require.NoError(t, r.Claim(id))
	lang, err := r.Submit(id)
	require.NoError(t, err)
	require.Equal(t, "fr", lang)

	require.NoError(t, r.Complete(id, "bonjour"))
	snap, err := r.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, snap.Status)
	require.NotNil(t, snap.Transcript)
	require.Equal(t, "bonjour", *snap.Transcript)
	require.Nil(t, snap.Err)
}

func TestSubmitDirectlyFromPending(t *testing.T) {
	r := NewRegistry()
	id := r.Create("en")

	_, err := r.Submit(id)
	require.NoError(t, err)

	// Empty transcript is a legal completion: silence, not an error.
	require.NoError(t, r.Complete(id, ""))
	snap, err := r.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, snap.Status)
	require.NotNil(t, snap.Transcript)
	require.Empty(t, *snap.Transcript)
}

func TestFailRecordsError(t *testing.T) {
	r := NewRegistry()
	id := r.Create("en")
	_, err := r.Submit(id)
	require.NoError(t, err)

	require.NoError(t, r.Fail(id, "engine unreachable"))
	snap, err := r.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusError, snap.Status)
	require.Nil(t, snap.Transcript)
	require.NotNil(t, snap.Err)
	require.Equal(t, "engine unreachable", *snap.Err)
}

func TestUnknownIDsReportNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nonexistent-id")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, r.Claim("nonexistent-id"), ErrNotFound)
	_, err = r.Submit("nonexistent-id")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, r.Complete("nonexistent-id", "x"), ErrNotFound)
	require.ErrorIs(t, r.Fail("nonexistent-id", "x"), ErrNotFound)
}

func TestDoubleClaimLeavesStateUnchanged(t *testing.T) {
	r := NewRegistry()
	id := r.Create("en")

	require.NoError(t, r.Claim(id))
	err := r.Claim(id)
	require.ErrorIs(t, err, ErrInvalidTransition)

	snap, getErr := r.Get(id)
	require.NoError(t, getErr)
	require.Equal(t, StatusRecording, snap.Status)
}

func TestIllegalTransitionsRejected(t *testing.T) {
	r := NewRegistry()

	// complete/fail require processing
	id := r.Create("en")
	require.ErrorIs(t, r.Complete(id, "x"), ErrInvalidTransition)
	require.ErrorIs(t, r.Fail(id, "x"), ErrInvalidTransition)

	// terminal states accept nothing further
	_, err := r.Submit(id)
	require.NoError(t, err)
	require.NoError(t, r.Complete(id, "done"))
	require.ErrorIs(t, r.Claim(id), ErrInvalidTransition)
	_, err = r.Submit(id)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.ErrorIs(t, r.Complete(id, "again"), ErrInvalidTransition)
	require.ErrorIs(t, r.Fail(id, "late"), ErrInvalidTransition)

	snap, err := r.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, snap.Status)
	require.Equal(t, "done", *snap.Transcript)
}

func TestListPendingOnlyReportsPending(t *testing.T) {
	r := NewRegistry()
	a := r.Create("en")
	b := r.Create("fr")
	c := r.Create("de")
	require.NoError(t, r.Claim(b))
	_, err := r.Submit(c)
	require.NoError(t, err)

	pending := r.ListPending()
	require.Len(t, pending, 1)
	require.Equal(t, a, pending[0].ID)
	require.Equal(t, "en", pending[0].Language)
}

func TestConcurrentTransitionsAreLinearized(t *testing.T) {
	r := NewRegistry()
	id := r.Create("en")

	const workers = 16
	var wg sync.WaitGroup
	claims := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claims <- r.Claim(id)
		}()
	}
	wg.Wait()
	close(claims)

	succeeded := 0
	for err := range claims {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ErrInvalidTransition)
		}
	}
	require.Equal(t, 1, succeeded, "exactly one claim may win")
}
