// ABOUTME: Frontend-neutral command router: provider selection, chat management and prompts
// ABOUTME: Dedupes redelivered messages and keeps one in-flight turn per chat and user

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/dedupe"
	"github.com/2389/coven-relay/internal/gateway"
	"github.com/2389/coven-relay/internal/locale"
	"github.com/2389/coven-relay/internal/render"
	"github.com/2389/coven-relay/internal/store"
)

// HistoryPageSize is the number of chats listed per /history page
const HistoryPageSize = 4

const maxChatNameLength = 50

var chatNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Inbound is one text message from a frontend
type Inbound struct {
	Frontend  string
	MessageID string
	ChatID    string
	// User.ID is namespaced by frontend ("telegram:42")
	User store.User
	Text string
}

// Config holds the Router dependencies
type Config struct {
	Store     store.Store
	Service   *conversation.Service
	Providers []gateway.Provider
	// Renderers maps a frontend name to the renderer writing into it
	Renderers map[string]*render.Renderer
	Locale    *locale.Bundle
	Dedupe    *dedupe.Cache // optional
	Logger    *slog.Logger
}

// Router dispatches inbound messages.
type Router struct {
	store     store.Store
	svc       *conversation.Service
	contexts  *conversation.Contexts
	providers []gateway.Provider
	byCommand map[string]gateway.Provider
	renderers map[string]*render.Renderer
	locale    *locale.Bundle
	dedupe    *dedupe.Cache
	logger    *slog.Logger

	// in-flight turns by frontend:chat:user
	processing sync.Map
}

// NewRouter creates a router.
func NewRouter(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	byCommand := make(map[string]gateway.Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		byCommand[p.Command()] = p
	}
	return &Router{
		store:     cfg.Store,
		svc:       cfg.Service,
		contexts:  cfg.Service.Contexts(),
		providers: cfg.Providers,
		byCommand: byCommand,
		renderers: cfg.Renderers,
		locale:    cfg.Locale,
		dedupe:    cfg.Dedupe,
		logger:    logger.With("component", "router"),
	}
}

// request is one inbound message being handled
type request struct {
	in       Inbound
	lang     string
	renderer *render.Renderer
}

func (q *request) target() render.Target {
	return render.Target{ChatID: q.in.ChatID, ReplyTo: q.in.MessageID}
}

// Handle processes one message. Prompts block until the answer is rendered.
func (r *Router) Handle(ctx context.Context, in Inbound) error {
	if r.dedupe != nil && in.MessageID != "" && r.dedupe.Seen(dedupe.Key(in.Frontend, in.MessageID)) {
		r.logger.Debug("dropping duplicate message", "frontend", in.Frontend, "message_id", in.MessageID)
		return nil
	}

	renderer, ok := r.renderers[in.Frontend]
	if !ok {
		return fmt.Errorf("no renderer for frontend %q", in.Frontend)
	}
	q := &request{in: in, lang: in.User.LanguageCode, renderer: renderer}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil
	}

	banned, err := r.isBanned(ctx, in.User.ID)
	if err != nil {
		return err
	}
	if banned {
		return r.reply(ctx, q, r.text("banned_reply", q, nil))
	}

	if !strings.HasPrefix(text, "/") {
		return r.prompt(ctx, q, text)
	}

	cmd, args := parseCommand(text)
	r.logger.Debug("command", "frontend", in.Frontend, "user_id", in.User.ID, "command", cmd)

	switch cmd {
	case "start":
		return r.reply(ctx, q, r.text("welcome_reply", q, map[string]string{"name": displayName(in.User)}))
	case "help":
		return r.reply(ctx, q, r.text("help_reply", q, nil))
	case "new_chat":
		return r.newChat(ctx, q, args)
	case "continue":
		return r.continueLast(ctx, q)
	case "history":
		return r.history(ctx, q, strings.Join(args, " "), false)
	case "more":
		return r.history(ctx, q, "", true)
	case "use":
		if len(args) == 0 {
			return r.reply(ctx, q, r.text("use_usage_reply", q, nil))
		}
		return r.use(ctx, q, args[0])
	case "cancel":
		if p, ok := r.selected(q); ok {
			r.contexts.Reset(r.key(q, p))
		}
		return r.reply(ctx, q, r.text("cancel_reply", q, nil))
	}

	if p, ok := r.byCommand[cmd]; ok {
		return r.selectProvider(ctx, q, p)
	}
	// history lists chats as /<name>
	return r.use(ctx, q, cmd)
}

// parseCommand splits "/cmd@bot a b" into "cmd" and its arguments.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(fields) == 0 {
		return "", nil
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd), fields[1:]
}

func (r *Router) isBanned(ctx context.Context, userID string) (bool, error) {
	u, err := r.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading user: %w", err)
	}
	return u.IsBan, nil
}

func (r *Router) selectProvider(ctx context.Context, q *request, p gateway.Provider) error {
	user := q.in.User
	if err := r.store.UpsertUser(ctx, &user); err != nil {
		return fmt.Errorf("saving user: %w", err)
	}
	r.contexts.Select(q.in.Frontend, user.ID, p.Command())
	r.contexts.Update(r.key(q, p), func(c *conversation.Context) {
		c.SearchOffset = 0
		c.Search = ""
	})

	r.logger.Info("provider selected", "frontend", q.in.Frontend, "user_id", user.ID, "provider", p.Command())
	return r.reply(ctx, q, r.text("chat_start_reply", q, map[string]string{
		"provider": p.Name(),
		"models":   strings.Join(p.Models(), ", "),
	}))
}

// ValidateChatName reports the locale key of the problem with name, or "".
func ValidateChatName(name string) string {
	switch {
	case utf8.RuneCountInString(name) >= maxChatNameLength:
		return "chat_name_too_long_reply"
	case !chatNamePattern.MatchString(name):
		return "chat_name_invalid_reply"
	default:
		return ""
	}
}

func (r *Router) newChat(ctx context.Context, q *request, args []string) error {
	p, ok := r.selected(q)
	if !ok {
		return r.reply(ctx, q, r.text("no_provider_reply", q, nil))
	}
	if len(args) == 0 {
		return r.reply(ctx, q, r.text("new_chat_usage_reply", q, nil))
	}

	name := args[0]
	if problem := ValidateChatName(name); problem != "" {
		return r.reply(ctx, q, r.text(problem, q, nil))
	}

	models := p.Models()
	model := models[0]
	if len(args) > 1 {
		model = args[1]
		if !slices.Contains(models, model) {
			return r.reply(ctx, q, r.text("no_model_found_reply", q, map[string]string{
				"model":  model,
				"models": strings.Join(models, ", "),
			}))
		}
	}

	session := &store.Session{UserID: q.in.User.ID, Name: name, Factory: p.Factory(), Model: model}
	if err := r.store.CreateSession(ctx, session); err != nil {
		if errors.Is(err, store.ErrDuplicateSession) {
			return r.reply(ctx, q, r.text("chat_name_exists_reply", q, map[string]string{"name": name}))
		}
		return fmt.Errorf("creating session: %w", err)
	}

	r.contexts.Update(r.key(q, p), func(c *conversation.Context) {
		c.SessionID = session.ID
		c.SessionName = session.Name
		c.Model = session.Model
		c.ParentID = 0
	})
	return r.reply(ctx, q, r.text("create_prompt_reply", q, map[string]string{"name": name, "model": model}))
}

func (r *Router) continueLast(ctx context.Context, q *request) error {
	p, ok := r.selected(q)
	if !ok {
		return r.reply(ctx, q, r.text("no_provider_reply", q, nil))
	}
	session, err := store.LastSession(ctx, r.store, store.SessionFilter{UserID: q.in.User.ID, Factory: p.Factory()})
	if errors.Is(err, store.ErrNotFound) {
		return r.reply(ctx, q, r.text("no_last_session_reply", q, nil))
	}
	if err != nil {
		return fmt.Errorf("loading last session: %w", err)
	}
	if _, err := r.svc.Resume(ctx, r.key(q, p), session); err != nil {
		return err
	}
	return r.reply(ctx, q, r.text("continue_reply", q, map[string]string{"name": session.Name, "model": session.Model}))
}

func (r *Router) use(ctx context.Context, q *request, name string) error {
	p, ok := r.selected(q)
	if !ok {
		return r.reply(ctx, q, r.text("no_provider_reply", q, nil))
	}
	session, err := r.store.GetSessionByName(ctx, q.in.User.ID, p.Factory(), name)
	if errors.Is(err, store.ErrNotFound) {
		return r.reply(ctx, q, r.text("session_not_found_reply", q, map[string]string{"name": name}))
	}
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if _, err := r.svc.Resume(ctx, r.key(q, p), session); err != nil {
		return err
	}
	return r.reply(ctx, q, r.text("session_selected_reply", q, map[string]string{"name": session.Name, "model": session.Model}))
}

// history lists one page of chats. more advances the page of the previous search.
func (r *Router) history(ctx context.Context, q *request, search string, more bool) error {
	p, ok := r.selected(q)
	if !ok {
		return r.reply(ctx, q, r.text("no_provider_reply", q, nil))
	}

	cur := r.contexts.Update(r.key(q, p), func(c *conversation.Context) {
		if more {
			c.SearchOffset += HistoryPageSize
			return
		}
		c.SearchOffset = 0
		c.Search = search
	})

	filter := store.SessionFilter{
		UserID:  q.in.User.ID,
		Factory: p.Factory(),
		Search:  cur.Search,
		Limit:   HistoryPageSize,
		Offset:  cur.SearchOffset,
	}
	total, err := r.store.CountSessions(ctx, filter)
	if err != nil {
		return fmt.Errorf("counting sessions: %w", err)
	}
	sessions, err := r.store.ListSessions(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		return r.reply(ctx, q, r.text("history_empty_reply", q, nil))
	}

	var b strings.Builder
	b.WriteString(r.text("history_header_reply", q, map[string]string{"count": strconv.Itoa(total)}))
	for _, s := range sessions {
		b.WriteString("\n")
		b.WriteString(r.text("history_item", q, map[string]string{"name": "/" + s.Name, "model": s.Model}))
	}
	if remaining := total - cur.SearchOffset - len(sessions); remaining > 0 {
		b.WriteString("\n")
		b.WriteString(r.text("history_more_reply", q, map[string]string{"remaining": strconv.Itoa(remaining)}))
	}
	return r.reply(ctx, q, b.String())
}

func (r *Router) prompt(ctx context.Context, q *request, text string) error {
	p, ok := r.selected(q)
	if !ok {
		return r.reply(ctx, q, r.text("no_provider_reply", q, nil))
	}

	busyKey := q.in.Frontend + ":" + q.in.ChatID + ":" + q.in.User.ID
	if _, loaded := r.processing.LoadOrStore(busyKey, true); loaded {
		r.logger.Debug("turn in progress, rejecting prompt", "chat_id", q.in.ChatID, "user_id", q.in.User.ID)
		return r.reply(ctx, q, r.text("busy_reply", q, nil))
	}
	defer r.processing.Delete(busyKey)

	err := r.svc.SendPrompt(ctx, conversation.PromptRequest{
		Key:      r.key(q, p),
		Target:   q.target(),
		Lang:     q.lang,
		Prompt:   text,
		Provider: p,
		Renderer: q.renderer,
	})
	if errors.Is(err, conversation.ErrNoSession) {
		return r.reply(ctx, q, r.text("no_session_reply", q, nil))
	}
	return err
}

func (r *Router) selected(q *request) (gateway.Provider, bool) {
	cmd, ok := r.contexts.Selected(q.in.Frontend, q.in.User.ID)
	if !ok {
		return nil, false
	}
	p, ok := r.byCommand[cmd]
	return p, ok
}

func (r *Router) key(q *request, p gateway.Provider) conversation.Key {
	return conversation.Key{Frontend: q.in.Frontend, UserID: q.in.User.ID, Provider: p.Command()}
}

// text renders a localized reply; $commands always lists the provider commands.
func (r *Router) text(key string, q *request, vars map[string]string) string {
	all := map[string]string{"commands": r.commandList()}
	for k, v := range vars {
		all[k] = v
	}
	return r.locale.Format(key, q.lang, all)
}

func (r *Router) commandList() string {
	cmds := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		cmds = append(cmds, "/"+p.Command())
	}
	return strings.Join(cmds, " ")
}

func (r *Router) reply(ctx context.Context, q *request, text string) error {
	if _, err := q.renderer.Transport().Send(ctx, render.Target{ChatID: q.in.ChatID}, text, render.ModePlain); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}

func displayName(u store.User) string {
	if u.FullName != "" {
		return u.FullName
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.ID
}
