// ABOUTME: Tests for the command router with a recording transport and scripted gateway
// ABOUTME: Walks provider selection, chat creation, history paging, prompts, bans and duplicates

package bot

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/dedupe"
	"github.com/2389/coven-relay/internal/gateway"
	"github.com/2389/coven-relay/internal/locale"
	"github.com/2389/coven-relay/internal/render"
	"github.com/2389/coven-relay/internal/store"
)

type recordingTransport struct {
	mu    sync.Mutex
	texts []string
	n     int
}

func (t *recordingTransport) Send(ctx context.Context, target render.Target, text string, mode render.ParseMode) (render.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n++
	t.texts = append(t.texts, text)
	return render.Handle{ChatID: target.ChatID, MessageID: strconv.Itoa(t.n)}, nil
}

func (t *recordingTransport) Edit(ctx context.Context, h render.Handle, text string, mode render.ParseMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.texts = append(t.texts, text)
	return nil
}

func (t *recordingTransport) last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.texts) == 0 {
		return ""
	}
	return t.texts[len(t.texts)-1]
}

// gate blocks streams until released
type gateStreamer struct {
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	models  []string
}

func (g *gateStreamer) Stream(ctx context.Context, req gateway.Request, h gateway.Handler) error {
	if g.started != nil {
		g.started <- struct{}{}
		<-g.release
	}
	if err := h.HandleDelta(ctx, gateway.TextDelta("pong")); err != nil {
		return err
	}
	return h.HandleDelta(ctx, gateway.TerminalDelta())
}

type routerFixture struct {
	router    *Router
	store     *store.MockStore
	transport *recordingTransport
	streamer  *gateStreamer
	bundle    *locale.Bundle
	seq       int
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	st := store.NewMockStore()
	bundle := locale.Default()
	tr := &recordingTransport{}
	streamer := &gateStreamer{}

	var providers []gateway.Provider
	for _, spec := range gateway.DefaultProviderSpecs() {
		p, err := gateway.NewProvider(spec)
		require.NoError(t, err)
		providers = append(providers, p)
	}

	svc := conversation.NewService(conversation.ServiceConfig{
		History:     st,
		Streamer:    streamer,
		Locale:      bundle,
		LimitWindow: time.Millisecond,
	})
	cache := dedupe.New(time.Minute, 100)
	t.Cleanup(cache.Close)

	r := NewRouter(Config{
		Store:     st,
		Service:   svc,
		Providers: providers,
		Renderers: map[string]*render.Renderer{"telegram": render.New(tr, st, render.Options{Locale: bundle})},
		Locale:    bundle,
		Dedupe:    cache,
	})
	return &routerFixture{router: r, store: st, transport: tr, streamer: streamer, bundle: bundle}
}

func (f *routerFixture) say(t *testing.T, text string) string {
	t.Helper()
	f.seq++
	require.NoError(t, f.router.Handle(context.Background(), f.inbound(text)))
	return f.transport.last()
}

func (f *routerFixture) inbound(text string) Inbound {
	return Inbound{
		Frontend:  "telegram",
		MessageID: strconv.Itoa(f.seq),
		ChatID:    "100",
		User:      store.User{ID: "telegram:42", FirstName: "Ada", FullName: "Ada L", LanguageCode: "en"},
		Text:      text,
	}
}

func (f *routerFixture) msg(key string, vars map[string]string) string {
	all := map[string]string{"commands": "/gpt /deepseek /doubao /scnet /claude"}
	for k, v := range vars {
		all[k] = v
	}
	return f.bundle.Format(key, "en", all)
}

func TestParseCommand(t *testing.T) {
	cmd, args := parseCommand("/new_chat@relay_bot work gpt-4o")
	assert.Equal(t, "new_chat", cmd)
	assert.Equal(t, []string{"work", "gpt-4o"}, args)

	cmd, args = parseCommand("/HELP")
	assert.Equal(t, "help", cmd)
	assert.Empty(t, args)
}

func TestValidateChatName(t *testing.T) {
	assert.Equal(t, "", ValidateChatName("work_2024"))
	assert.Equal(t, "chat_name_invalid_reply", ValidateChatName("no spaces"))
	assert.Equal(t, "chat_name_invalid_reply", ValidateChatName("名字"))
	assert.Equal(t, "chat_name_too_long_reply", ValidateChatName(strings.Repeat("a", 50)))
	assert.Equal(t, "", ValidateChatName(strings.Repeat("a", 49)))
}

func TestRouter_StartAndHelp(t *testing.T) {
	f := newRouterFixture(t)

	assert.Equal(t, f.msg("welcome_reply", map[string]string{"name": "Ada L"}), f.say(t, "/start"))
	assert.Contains(t, f.say(t, "/help"), "/new_chat <name> [model]")
}

func TestRouter_RequiresProvider(t *testing.T) {
	f := newRouterFixture(t)

	assert.Equal(t, f.msg("no_provider_reply", nil), f.say(t, "hello"))
	assert.Equal(t, f.msg("no_provider_reply", nil), f.say(t, "/new_chat work"))
}

func TestRouter_FullConversation(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	reply := f.say(t, "/gpt")
	assert.Contains(t, reply, "ChatGPT")
	_, err := f.store.GetUser(ctx, "telegram:42")
	require.NoError(t, err, "provider selection records the user")

	assert.Equal(t, f.msg("no_session_reply", nil), f.say(t, "hello"))

	assert.Equal(t,
		f.msg("create_prompt_reply", map[string]string{"name": "work", "model": "gpt-4o"}),
		f.say(t, "/new_chat work"))

	f.say(t, "ping")
	f.say(t, "ping again")

	sessions, err := f.store.ListSessions(ctx, store.SessionFilter{UserID: "telegram:42"})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "openai", sessions[0].Factory)

	questions, err := f.store.BatchGetQuestionsInSessions(ctx, []int64{sessions[0].ID})
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, questions[0].ID, questions[1].ParentID)

	answers, err := f.store.BatchGetAnswersInSessions(ctx, []int64{sessions[0].ID})
	require.NoError(t, err)
	assert.Len(t, answers, 2)
	assert.Equal(t, "pong", answers[0].Content)
}

func TestRouter_NewChatValidation(t *testing.T) {
	f := newRouterFixture(t)
	f.say(t, "/gpt")

	assert.Equal(t, f.msg("new_chat_usage_reply", nil), f.say(t, "/new_chat"))
	assert.Equal(t, f.msg("chat_name_invalid_reply", nil), f.say(t, "/new_chat bad-name"))
	assert.Equal(t,
		f.msg("no_model_found_reply", map[string]string{"model": "gpt-9", "models": "gpt-4o, gpt-4o-mini, o3-mini"}),
		f.say(t, "/new_chat work gpt-9"))

	f.say(t, "/new_chat work o3-mini")
	assert.Equal(t, f.msg("chat_name_exists_reply", map[string]string{"name": "work"}), f.say(t, "/new_chat work"))

	// names are scoped per provider
	f.say(t, "/deepseek")
	assert.Equal(t,
		f.msg("create_prompt_reply", map[string]string{"name": "work", "model": "deepseek-chat"}),
		f.say(t, "/new_chat work"))
}

func TestRouter_ContinueAndUse(t *testing.T) {
	f := newRouterFixture(t)
	f.say(t, "/gpt")

	assert.Equal(t, f.msg("no_last_session_reply", nil), f.say(t, "/continue"))

	f.say(t, "/new_chat first")
	f.say(t, "question one")
	f.say(t, "/new_chat second")

	assert.Equal(t, f.msg("continue_reply", map[string]string{"name": "second", "model": "gpt-4o"}), f.say(t, "/continue"))
	assert.Equal(t, f.msg("session_selected_reply", map[string]string{"name": "first", "model": "gpt-4o"}), f.say(t, "/use first"))
	assert.Equal(t, f.msg("session_not_found_reply", map[string]string{"name": "nope"}), f.say(t, "/nope"))

	// resuming continues the thread after the latest question
	f.say(t, "question two")
	ctx := context.Background()
	first, err := f.store.GetSessionByName(ctx, "telegram:42", "openai", "first")
	require.NoError(t, err)
	questions, err := f.store.BatchGetQuestionsInSessions(ctx, []int64{first.ID})
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, questions[0].ID, questions[1].ParentID)

	// /cancel starts a fresh thread
	f.say(t, "/cancel")
	f.say(t, "question three")
	questions, err = f.store.BatchGetQuestionsInSessions(ctx, []int64{first.ID})
	require.NoError(t, err)
	require.Len(t, questions, 3)
	assert.Equal(t, int64(0), questions[2].ParentID)
}

func TestRouter_HistoryPaging(t *testing.T) {
	f := newRouterFixture(t)
	f.say(t, "/gpt")

	assert.Equal(t, f.msg("history_empty_reply", nil), f.say(t, "/history"))

	for i := 0; i < 6; i++ {
		f.say(t, "/new_chat chat_"+strconv.Itoa(i))
	}

	page := f.say(t, "/history")
	assert.True(t, strings.HasPrefix(page, f.msg("history_header_reply", map[string]string{"count": "6"})))
	assert.Contains(t, page, "/chat_5")
	assert.NotContains(t, page, "/chat_1")
	assert.Contains(t, page, f.msg("history_more_reply", map[string]string{"remaining": "2"}))

	page = f.say(t, "/more")
	assert.Contains(t, page, "/chat_1")
	assert.Contains(t, page, "/chat_0")
	assert.NotContains(t, page, "more, send /more")

	page = f.say(t, "/history _5")
	assert.True(t, strings.HasPrefix(page, f.msg("history_header_reply", map[string]string{"count": "1"})))
	assert.Contains(t, page, "/chat_5")
}

func TestRouter_Banned(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	f.say(t, "/gpt")
	require.NoError(t, f.store.SetUserBan(ctx, "telegram:42", true, "abuse"))

	assert.Equal(t, f.msg("banned_reply", nil), f.say(t, "/gpt"))
	assert.Equal(t, f.msg("banned_reply", nil), f.say(t, "hello"))
}

func TestRouter_DropsDuplicates(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	in := f.inbound("/start")
	in.MessageID = "dup-1"
	require.NoError(t, f.router.Handle(ctx, in))
	require.NoError(t, f.router.Handle(ctx, in))

	f.transport.mu.Lock()
	defer f.transport.mu.Unlock()
	assert.Len(t, f.transport.texts, 1)
}

func TestRouter_BusyWhileAnswering(t *testing.T) {
	f := newRouterFixture(t)
	f.say(t, "/gpt")
	f.say(t, "/new_chat work")

	f.streamer.started = make(chan struct{})
	f.streamer.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		in := f.inbound("slow question")
		in.MessageID = "slow"
		done <- f.router.Handle(context.Background(), in)
	}()
	<-f.streamer.started

	assert.Equal(t, f.msg("busy_reply", nil), f.say(t, "impatient follow-up"))

	close(f.streamer.release)
	require.NoError(t, <-done)
}

func TestRouter_UnknownFrontend(t *testing.T) {
	f := newRouterFixture(t)
	in := f.inbound("/start")
	in.Frontend = "irc"
	assert.Error(t, f.router.Handle(context.Background(), in))
}
