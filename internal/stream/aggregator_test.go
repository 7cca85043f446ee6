package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavinyap/bigseek/internal/llm"
	"github.com/gavinyap/bigseek/internal/sink"
	"github.com/gavinyap/bigseek/internal/telegram"
)

var (
	running  = []telegram.Button{{Text: "Stop", Data: "FORCESTOP"}, {Text: "Clear", Data: "CLEARHISTORY"}}
	terminal = []telegram.Button{{Text: "Clear", Data: "CLEARHISTORY"}}
)

type update struct {
	In   sink.Handle
	Out  sink.Handle
	Text string
	Opts sink.WriteOptions
}

// fakeSink records what the aggregator asks for, in order.
type fakeSink struct {
	mu      sync.Mutex
	next    sink.Handle
	events  []string
	updates []update
	deleted [][]sink.Handle
	notices []string
	err     error
}

func newFakeSink() *fakeSink {
	return &fakeSink{next: 100}
}

func (f *fakeSink) Update(_ context.Context, h sink.Handle, text string, opts sink.WriteOptions) (sink.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return h, f.err
	}
	if text == "" {
		return h, nil
	}
	out := h
	if h == sink.NoHandle {
		out = f.next
		f.next++
	}
	f.updates = append(f.updates, update{In: h, Out: out, Text: text, Opts: opts})
	f.events = append(f.events, fmt.Sprintf("update %d %s", h, text))
	return out, nil
}

func (f *fakeSink) DeleteMany(_ context.Context, handles []sink.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, append([]sink.Handle(nil), handles...))
	f.events = append(f.events, fmt.Sprintf("delete %v", handles))
	return nil
}

func (f *fakeSink) Notice(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, text)
	f.events = append(f.events, "notice "+text)
	return nil
}

func (f *fakeSink) Updates() []update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]update(nil), f.updates...)
}

func (f *fakeSink) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func newAggregator(s Sink, maxLen int) *Aggregator {
	return New(s, Options{
		MaxLength:    maxLen,
		ThinkingDone: "Thought and it's:",
		Restart:      "Hold on, starting over...",
		Controls:     running,
		Logger:       zerolog.Nop(),
	})
}

func reasoning(s string) llm.Delta { return llm.Delta{Reasoning: s} }
func content(s string) llm.Delta   { return llm.Delta{Content: s} }

func TestProcess_ReasoningAppends(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 100)

	require.NoError(t, a.Process(context.Background(), reasoning("Hello")))

	st := a.Stats()
	assert.Equal(t, 5, st.ReasoningBytes)
	assert.Zero(t, st.ContentBytes)
	assert.Zero(t, st.FinalBytes)
	assert.Empty(t, fs.Updates())
}

func TestProcess_ContentAppendsToBufferAndFinal(t *testing.T) {
	a := newAggregator(newFakeSink(), 100)

	require.NoError(t, a.Process(context.Background(), content("Hello")))

	st := a.Stats()
	assert.Equal(t, 5, st.ContentBytes)
	assert.Equal(t, 5, st.FinalBytes)
	assert.Zero(t, st.ReasoningBytes)
}

func TestProcess_ReasoningWinsWhenBothPresent(t *testing.T) {
	a := newAggregator(newFakeSink(), 100)

	require.NoError(t, a.Process(context.Background(), llm.Delta{Reasoning: "R", Content: "C"}))

	st := a.Stats()
	assert.Equal(t, 1, st.ReasoningBytes)
	assert.Zero(t, st.ContentBytes)
	assert.Zero(t, st.FinalBytes)
}

func TestProcess_EmptyDeltaIgnored(t *testing.T) {
	a := newAggregator(newFakeSink(), 100)

	require.NoError(t, a.Process(context.Background(), llm.Delta{}))
	assert.Zero(t, a.Stats().Deltas)
}

func TestProcess_ReasoningOverflowRetiresHandle(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 5)
	ctx := context.Background()

	require.NoError(t, a.Process(ctx, reasoning("123456")))

	ups := fs.Updates()
	require.Len(t, ups, 1)
	assert.Equal(t, sink.NoHandle, ups[0].In)
	assert.Equal(t, "123456", ups[0].Text)
	assert.Equal(t, sink.Plain, ups[0].Opts.Format)
	assert.Equal(t, running, ups[0].Opts.Controls)
	assert.Zero(t, a.Stats().ReasoningBytes)

	require.NoError(t, a.Process(ctx, reasoning("ab")))
	require.NoError(t, a.Tick(ctx, running))

	ups = fs.Updates()
	require.Len(t, ups, 2)
	assert.Equal(t, sink.NoHandle, ups[1].In, "reasoning after overflow starts a new message")
	assert.Equal(t, "ab", ups[1].Text)
}

func TestProcess_ReasoningOverflowEditsActiveMessage(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 5)
	ctx := context.Background()

	require.NoError(t, a.Process(ctx, reasoning("abc")))
	require.NoError(t, a.Tick(ctx, running))
	require.NoError(t, a.Process(ctx, reasoning("def")))

	ups := fs.Updates()
	require.Len(t, ups, 2)
	assert.Equal(t, ups[0].Out, ups[1].In)
	assert.Equal(t, "abcdef", ups[1].Text)
}

func TestProcess_ContentOverflow(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 5)

	require.NoError(t, a.Process(context.Background(), content("123456")))

	ups := fs.Updates()
	require.Len(t, ups, 1)
	assert.Equal(t, sink.NoHandle, ups[0].In)
	assert.Equal(t, "123456", ups[0].Text)
	assert.Equal(t, sink.Markdown, ups[0].Opts.Format)
	assert.Zero(t, a.Stats().ContentBytes)
	assert.Equal(t, 6, a.Stats().FinalBytes)
}

func TestProcess_ContentOverflowSplitsMessages(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 5)
	ctx := context.Background()

	require.NoError(t, a.Process(ctx, content("123")))
	require.NoError(t, a.Tick(ctx, running))
	require.NoError(t, a.Process(ctx, content("456")))

	ups := fs.Updates()
	require.Len(t, ups, 2)
	assert.Equal(t, ups[0].Out, ups[1].In, "overflow flushes into the shown message")
	assert.Equal(t, "123456", ups[1].Text)

	require.NoError(t, a.Process(ctx, content("7")))
	require.NoError(t, a.Tick(ctx, running))

	ups = fs.Updates()
	require.Len(t, ups, 3)
	assert.Equal(t, sink.NoHandle, ups[2].In)
	assert.Equal(t, "7", ups[2].Text)
}

func TestProcess_OverflowCountsCharactersNotBytes(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 5)

	require.NoError(t, a.Process(context.Background(), content("Приве")))
	assert.Empty(t, fs.Updates(), "five Cyrillic letters fit")

	require.NoError(t, a.Process(context.Background(), content("т")))
	assert.Len(t, fs.Updates(), 1)
}

func TestTick_ContentReplacesUnsentReasoning(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 100)
	ctx := context.Background()

	require.NoError(t, a.Process(ctx, reasoning("ab")))
	require.NoError(t, a.Process(ctx, reasoning("cd")))
	require.NoError(t, a.Process(ctx, content("hello")))
	require.NoError(t, a.Tick(ctx, running))

	assert.Equal(t, []string{"update 0 hello"}, fs.Events())
	assert.Zero(t, a.Stats().ReasoningBytes)
}

func TestTick_TransitionDeletesReasoningOnce(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 100)
	ctx := context.Background()

	require.NoError(t, a.Process(ctx, reasoning("think")))
	require.NoError(t, a.Tick(ctx, running))
	require.NoError(t, a.Process(ctx, reasoning(" more")))
	require.NoError(t, a.Tick(ctx, running))
	require.NoError(t, a.Process(ctx, content("answer")))
	require.NoError(t, a.Tick(ctx, running))
	require.NoError(t, a.Process(ctx, content(" continued")))
	require.NoError(t, a.Tick(ctx, running))

	assert.Equal(t, []string{
		"update 0 think",
		"update 100 think more",
		"delete [100]",
		"notice Thought and it's:",
		"update 0 answer",
		"update 101 answer continued",
	}, fs.Events())
}

func TestTick_TransitionDeletesOverflowedReasoning(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 5)
	ctx := context.Background()

	require.NoError(t, a.Process(ctx, reasoning("123456")))
	require.NoError(t, a.Process(ctx, reasoning("ab")))
	require.NoError(t, a.Tick(ctx, running))
	require.NoError(t, a.Process(ctx, content("x")))
	require.NoError(t, a.Tick(ctx, running))

	require.Len(t, fs.deleted, 1)
	assert.Equal(t, []sink.Handle{100, 101}, fs.deleted[0])
}

func TestTick_NothingBuffered(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 100)

	require.NoError(t, a.Tick(context.Background(), running))
	assert.Empty(t, fs.Events())
}

func TestTick_SinkErrorPropagates(t *testing.T) {
	fs := newFakeSink()
	boom := errors.New("boom")
	fs.err = boom
	a := newAggregator(fs, 100)
	ctx := context.Background()

	require.NoError(t, a.Process(ctx, content("x")))
	assert.ErrorIs(t, a.Tick(ctx, running), boom)
}

func TestFinish_FlushesWithTerminalControls(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 100)
	ctx := context.Background()

	require.NoError(t, a.Process(ctx, content("Hello")))
	require.NoError(t, a.Tick(ctx, running))
	require.NoError(t, a.Process(ctx, content(" world")))

	final, err := a.Finish(ctx, terminal)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", final)

	ups := fs.Updates()
	last := ups[len(ups)-1]
	assert.Equal(t, ups[0].Out, last.In)
	assert.Equal(t, "Hello world", last.Text)
	assert.Equal(t, terminal, last.Opts.Controls)
	assert.True(t, last.Opts.Final)
}

func TestFinish_ReasoningOnly(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 100)
	ctx := context.Background()

	require.NoError(t, a.Process(ctx, reasoning("hmm")))

	final, err := a.Finish(ctx, terminal)
	require.NoError(t, err)
	assert.Empty(t, final)
	require.Len(t, fs.Updates(), 1)
	assert.Equal(t, sink.Plain, fs.Updates()[0].Opts.Format)
}

func TestFinish_SwapsControlsOnOverflowedAnswer(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 5)
	ctx := context.Background()

	require.NoError(t, a.Process(ctx, content("123456")))

	_, err := a.Finish(ctx, terminal)
	require.NoError(t, err)

	ups := fs.Updates()
	require.Len(t, ups, 2)
	assert.Equal(t, ups[0].Out, ups[1].In)
	assert.Equal(t, "123456", ups[1].Text)
	assert.Equal(t, terminal, ups[1].Opts.Controls)
}

func TestFinish_SwapsControlsOnOverflowedReasoning(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 5)
	ctx := context.Background()

	require.NoError(t, a.Process(ctx, reasoning("123456")))

	final, err := a.Finish(ctx, terminal)
	require.NoError(t, err)
	assert.Empty(t, final)

	ups := fs.Updates()
	require.Len(t, ups, 2)
	assert.Equal(t, ups[0].Out, ups[1].In)
	assert.Equal(t, "123456", ups[1].Text)
	assert.Equal(t, sink.Plain, ups[1].Opts.Format)
	assert.Equal(t, terminal, ups[1].Opts.Controls)
}

func TestFinish_DeletedReasoningNotRefreshed(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 5)
	ctx := context.Background()

	require.NoError(t, a.Process(ctx, reasoning("123456")))
	require.NoError(t, a.Process(ctx, content("hi")))
	require.NoError(t, a.Tick(ctx, running))

	_, err := a.Finish(ctx, terminal)
	require.NoError(t, err)

	ups := fs.Updates()
	last := ups[len(ups)-1]
	assert.Equal(t, "hi", last.Text)
	assert.Equal(t, terminal, last.Opts.Controls)
}

func TestFinish_EmptyResponse(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 100)

	_, err := a.Finish(context.Background(), terminal)
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Empty(t, fs.Events())
}

func TestDeleteAllReasoningMessages(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 100)
	ctx := context.Background()

	require.NoError(t, a.Process(ctx, reasoning("a")))
	require.NoError(t, a.Tick(ctx, running))

	require.NoError(t, a.DeleteAllReasoningMessages(ctx))
	require.NoError(t, a.DeleteAllReasoningMessages(ctx))

	assert.Equal(t, []string{
		"update 0 a",
		"delete [100]",
		"notice Hold on, starting over...",
	}, fs.Events())
}

func TestClear(t *testing.T) {
	fs := newFakeSink()
	a := newAggregator(fs, 100)
	ctx := context.Background()

	require.NoError(t, a.Process(ctx, reasoning("r")))
	require.NoError(t, a.Tick(ctx, running))
	require.NoError(t, a.Process(ctx, content("c")))

	a.Clear()
	assert.Equal(t, Stats{}, a.Stats())

	require.NoError(t, a.Process(ctx, content("new")))
	require.NoError(t, a.Tick(ctx, running))

	ups := fs.Updates()
	last := ups[len(ups)-1]
	assert.Equal(t, sink.NoHandle, last.In)
	assert.Equal(t, "new", last.Text)
	assert.Len(t, fs.deleted, 0, "cleared handles are forgotten, not deleted")
}

// The assistant text is every content fragment in arrival order,
// whatever the interleaving of reasoning, ticks and overflows.
func TestFinalTextPreservesOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("final text is the concatenation of content fragments", prop.ForAll(
		func(frags []string, kinds []int, maxLen int) bool {
			a := newAggregator(newFakeSink(), maxLen)
			ctx := context.Background()

			var want strings.Builder
			for i, frag := range frags {
				kind := 1
				if len(kinds) > 0 {
					kind = kinds[i%len(kinds)]
				}
				switch kind {
				case 0:
					_ = a.Process(ctx, reasoning(frag))
				case 1:
					_ = a.Process(ctx, content(frag))
					want.WriteString(frag)
				case 2:
					_ = a.Process(ctx, llm.Delta{Reasoning: frag, Content: frag})
					if frag == "" {
						want.WriteString(frag)
					}
				case 3:
					_ = a.Tick(ctx, running)
					_ = a.Process(ctx, content(frag))
					want.WriteString(frag)
				}
			}

			final, err := a.Finish(ctx, terminal)
			if errors.Is(err, ErrEmptyResponse) {
				return want.Len() == 0
			}
			return err == nil && final == want.String()
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.IntRange(0, 3)),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
