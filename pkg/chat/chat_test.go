package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/buildcoprojects/signalhub/pkg/artifacts"
	"github.com/buildcoprojects/signalhub/pkg/contracts"
	"github.com/buildcoprojects/signalhub/pkg/llm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// streamClient produces deltas from a goroutine the way a provider does.
type streamClient struct {
	deltas  []string
	failAt  int // index at which to send an error instead; -1 for never
	openErr error
	got     []llm.Message
}

func (c *streamClient) Chat(context.Context, []llm.Message, *llm.Options) (*llm.Response, error) {
	return nil, errors.New("not used")
}

func (c *streamClient) Stream(ctx context.Context, msgs []llm.Message, _ *llm.Options) (<-chan llm.Chunk, error) {
	c.got = msgs
	if c.openErr != nil {
		return nil, c.openErr
	}
	out := make(chan llm.Chunk, 2)
	go func() {
		defer close(out)
		for i, d := range c.deltas {
			chunk := llm.Chunk{Delta: d}
			if i == c.failAt {
				chunk = llm.Chunk{Err: errors.New("stream reset")}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if chunk.Err != nil {
				return
			}
		}
	}()
	return out, nil
}

func (c *streamClient) Ping(context.Context) error { return nil }

var fixed = time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

func newService(c llm.Client) (*Service, *artifacts.MemoryStore) {
	store := artifacts.NewMemoryStore()
	return NewService(store, c, nil, WithClock(func() time.Time { return fixed })), store
}

func TestStream_RelaysAndPersistsAfterClose(t *testing.T) {
	client := &streamClient{deltas: []string{"Hel", "lo", " there"}, failAt: -1}
	svc, _ := newService(client)

	var relayed []string
	reply, err := svc.Stream(context.Background(), "s-1", "  hi  ", func(d string) error {
		relayed = append(relayed, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo", " there"}, relayed)
	assert.Equal(t, "Hello there", reply.Content)

	history, err := svc.History(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, []Message{
		{Role: llm.RoleUser, Content: "hi", Timestamp: fixed},
		{Role: llm.RoleAssistant, Content: "Hello there", Timestamp: fixed},
	}, history)

	// The next turn carries the earlier ones.
	_, err = svc.Stream(context.Background(), "s-1", "again", func(string) error { return nil })
	require.NoError(t, err)
	require.Len(t, client.got, 4)
	assert.Equal(t, llm.RoleSystem, client.got[0].Role)
	assert.Equal(t, "again", client.got[3].Content)
}

func TestStream_RelayErrorCancelsProducer(t *testing.T) {
	deltas := make([]string, 100)
	for i := range deltas {
		deltas[i] = "x"
	}
	svc, _ := newService(&streamClient{deltas: deltas, failAt: -1})

	n := 0
	reply, err := svc.Stream(context.Background(), "s-2", "hi", func(string) error {
		n++
		if n == 3 {
			return errors.New("client went away")
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "xxx", reply.Content)

	history, err := svc.History(context.Background(), "s-2")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "xxx", history[1].Content)
}

func TestStream_ProviderErrors(t *testing.T) {
	svc, _ := newService(&streamClient{deltas: []string{"a", "b", "c"}, failAt: 2})
	reply, err := svc.Stream(context.Background(), "s-3", "hi", func(string) error { return nil })
	var de *contracts.DependencyError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "ab", reply.Content)

	svc, _ = newService(&streamClient{openErr: errors.New("401")})
	_, err = svc.Stream(context.Background(), "s-4", "hi", func(string) error { return nil })
	require.ErrorAs(t, err, &de)

	history, err := svc.History(context.Background(), "s-4")
	require.NoError(t, err)
	assert.Len(t, history, 1, "the user turn is kept")
}

func TestStream_Validation(t *testing.T) {
	svc, store := newService(&streamClient{failAt: -1})
	var ve *contracts.ValidationError

	_, err := svc.Stream(context.Background(), "../etc", "hi", func(string) error { return nil })
	require.ErrorAs(t, err, &ve)
	_, err = svc.Stream(context.Background(), "ok", "   ", func(string) error { return nil })
	require.ErrorAs(t, err, &ve)
	assert.Zero(t, store.Len())

	history, err := svc.History(context.Background(), "never-used")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.NotNil(t, history)
}
