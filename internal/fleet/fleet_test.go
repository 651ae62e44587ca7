package fleet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexigate/mcp-gateway/internal/upstream"
)

func TestGetListFailures(t *testing.T) {
	f := New()
	f.entries[entryKey{peer: "a", sessionID: "s1"}] = entry{session: &upstream.Session{PeerName: "a"}}
	f.entries[entryKey{peer: "b", sessionID: "s1"}] = entry{failure: &FailureRecord{Reason: "Connection failed"}}
	f.entries[entryKey{peer: "c", sessionID: "s2"}] = entry{session: &upstream.Session{PeerName: "c"}}

	sess, err := f.Get("a", "s1")
	require.NoError(t, err)
	assert.Equal(t, "a", sess.PeerName)

	_, err = f.Get("b", "s1")
	assert.Error(t, err, "a failure-only entry must not be returned as a live session")

	list := f.List("s1")
	assert.Len(t, list, 1)
	assert.Contains(t, list, "a")

	fails := f.Failures("s1")
	assert.Equal(t, map[string]string{"b": "Connection failed"}, fails)
}

func TestCloseSessionOnlyAffectsThatSession(t *testing.T) {
	f := New()
	f.entries[entryKey{peer: "a", sessionID: "s1"}] = entry{session: &upstream.Session{PeerName: "a"}}
	f.entries[entryKey{peer: "c", sessionID: "s2"}] = entry{session: &upstream.Session{PeerName: "c"}}

	f.CloseSession("s1")

	assert.Empty(t, f.List("s1"))
	assert.Len(t, f.List("s2"), 1)
}

func TestCloseAll(t *testing.T) {
	f := New()
	f.entries[entryKey{peer: "a", sessionID: "s1"}] = entry{session: &upstream.Session{PeerName: "a"}}
	f.entries[entryKey{peer: "c", sessionID: "s2"}] = entry{session: &upstream.Session{PeerName: "c"}}

	f.CloseAll()

	assert.Empty(t, f.entries)
}

func TestListChangeDispatch(t *testing.T) {
	f := New()
	var gotKind upstream.ListChangeKind
	var gotSession, gotPeer string
	f.OnResourcesListChanged(func(kind upstream.ListChangeKind, sessionID, peer string) {
		gotKind, gotSession, gotPeer = kind, sessionID, peer
	})

	f.dispatchListChange(upstream.ResourcesChanged, "s1", "peer-a")

	assert.Equal(t, upstream.ResourcesChanged, gotKind)
	assert.Equal(t, "s1", gotSession)
	assert.Equal(t, "peer-a", gotPeer)
}

func TestReverseHandlersForNilCapsMeansNoHandlers(t *testing.T) {
	f := New()
	assert.Nil(t, f.reverseHandlersFor("s1", nil))
}

func TestReverseHandlersForSelectsOnlyAdvertisedCaps(t *testing.T) {
	f := New()
	rh := f.reverseHandlersFor("s1", &Caps{Sampling: true})
	require.NotNil(t, rh)
	assert.NotNil(t, rh.Sampling)
	assert.Nil(t, rh.Elicitation)
}

func TestReverseHandlersForRouteToTheSessionIDTheyWereBuiltWith(t *testing.T) {
	f := New()
	fw := &fakeForwarder{}
	f.SetForwarder(fw)

	rh := f.reverseHandlersFor("sess-7", &Caps{Sampling: true, Elicitation: true})
	require.NotNil(t, rh)

	_, err := rh.Sampling(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "sess-7", fw.sessionID)

	_, err = rh.Elicitation(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "sess-7", fw.sessionID)
}

type fakeForwarder struct {
	sessionID string
}

func (f *fakeForwarder) ForwardSampling(ctx context.Context, sessionID string, params any) (any, error) {
	f.sessionID = sessionID
	return "sampled", nil
}

func (f *fakeForwarder) ForwardElicitation(ctx context.Context, sessionID string, params any) (any, error) {
	f.sessionID = sessionID
	return "elicited", nil
}

func TestForwardSamplingWithoutForwarderFailsClosed(t *testing.T) {
	f := New()
	_, err := f.forwardSampling(context.Background(), "s1", nil)
	assert.Error(t, err)
}

func TestForwardSamplingRoutesThroughForwarderWithSessionID(t *testing.T) {
	f := New()
	fw := &fakeForwarder{}
	f.SetForwarder(fw)

	result, err := f.forwardSampling(context.Background(), "sess-42", nil)

	require.NoError(t, err)
	assert.Equal(t, "sampled", result)
	assert.Equal(t, "sess-42", fw.sessionID)
}
