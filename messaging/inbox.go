package messaging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/klipach/contractmatch/auth"
	"github.com/klipach/contractmatch/contract"
	"github.com/klipach/contractmatch/log"
	"github.com/klipach/contractmatch/profile"
	"github.com/klipach/contractmatch/store"
	"github.com/samber/lo"
)

var (
	ErrSignedOut    = errors.New("signed out")
	ErrNoSelection  = errors.New("no conversation selected")
	ErrSendInFlight = errors.New("a message is already being sent")
)

type EventKind int

const (
	// EventConversations carries a freshly rendered conversation index.
	EventConversations EventKind = iota + 1
	// EventIndexStale reports that the index subscription failed; the last
	// good entries are kept.
	EventIndexStale
	// EventMessages carries the messages appended to the open thread.
	EventMessages
	EventStreamError
	EventComposer
	EventSignedOut
)

func (k EventKind) String() string {
	switch k {
	case EventConversations:
		return "conversations"
	case EventIndexStale:
		return "stale"
	case EventMessages:
		return "messages"
	case EventStreamError:
		return "stream_error"
	case EventComposer:
		return "composer"
	case EventSignedOut:
		return "signed_out"
	}
	return "unknown"
}

type ComposerState int

const (
	ComposerIdle ComposerState = iota
	ComposerSending
	ComposerSent
	ComposerFailed
)

func (s ComposerState) String() string {
	return [...]string{"idle", "sending", "sent", "failed"}[s]
}

// Entry is one rendered row of the conversation index.
type Entry struct {
	Conversation contract.Conversation
	Counterpart  contract.Profile
	Unread       int
}

type Event struct {
	Kind           EventKind
	Conversations  []Entry
	ConversationID string
	Messages       []contract.Message
	State          ComposerState
	Err            error
}

type InboxOption func(*Inbox)

// WithObserver sets the function every Event is passed to. It is called
// with the inbox locked and must not call back into the Inbox.
func WithObserver(fn func(Event)) InboxOption {
	return func(in *Inbox) { in.observer = fn }
}

func WithResolveConcurrency(n int) InboxOption {
	return func(in *Inbox) { in.concurrency = n }
}

type thread struct {
	draft string
	state ComposerState
	err   error
}

// Inbox owns the conversation index and the open thread of one signed-in
// participant. Subscription callbacks are tagged with the epoch they were
// opened in; callbacks from a replaced subscription are dropped.
//
// The HTTP stream opens one thread per connection and sends through
// Composer directly. Switching threads, drafts and Send are for clients
// that embed this package and keep an Inbox for the whole session.
type Inbox struct {
	store         store.DocumentStore
	conversations *Conversations
	composer      *Composer
	resolver      *profile.Resolver
	observer      func(Event)
	concurrency   int

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	viewer *auth.Principal

	indexEpoch uint64
	stopIndex  store.Unsubscribe
	convs      []contract.Conversation
	entries    []Entry
	stale      bool

	streamEpoch uint64
	stopStream  store.Unsubscribe
	selected    string
	primed      bool
	messages    []contract.Message
	seen        map[string]struct{}

	threads map[string]*thread
}

func NewInbox(st store.DocumentStore, profiles *profile.Repository, opts ...InboxOption) *Inbox {
	in := &Inbox{
		store:   st,
		ctx:     context.Background(),
		threads: make(map[string]*thread),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.conversations = NewConversations(st)
	in.composer = NewComposer(st, in.conversations)
	in.resolver = profile.NewResolver(profiles, in.concurrency)
	return in
}

// Watch follows session: the inbox opens for every signed-in identity and
// closes on sign-out. The returned func stops watching.
func (in *Inbox) Watch(ctx context.Context, session *auth.Session) (dispose func()) {
	return session.OnIdentityChange(func(p *auth.Principal) {
		if p == nil {
			in.Close()
			return
		}
		in.Open(ctx, *p)
	})
}

// Open subscribes to p's conversation index. Opening for the identity that
// is already open only refreshes the principal.
func (in *Inbox) Open(ctx context.Context, p auth.Principal) {
	in.mu.Lock()
	if in.viewer != nil && in.viewer.UID == p.UID {
		in.viewer = &p
		in.mu.Unlock()
		return
	}
	switched := in.viewer != nil
	release := in.resetLocked()
	in.viewer = &p
	in.ctx, in.cancel = context.WithCancel(ctx)
	epoch := in.indexEpoch
	in.mu.Unlock()

	release()
	if switched {
		in.resolver.Invalidate()
	}
	log.LoggerFromContext(ctx).Debug("inbox opened", slog.String("userID", p.UID))
	in.subscribeIndex(epoch, p.UID)
}

// Close releases both subscriptions and forgets everything the signed-in
// participant could see.
func (in *Inbox) Close() {
	in.mu.Lock()
	if in.viewer == nil {
		in.mu.Unlock()
		return
	}
	release := in.resetLocked()
	in.emitLocked(Event{Kind: EventSignedOut})
	in.mu.Unlock()

	release()
	in.resolver.Invalidate()
}

// resetLocked drops all per-viewer state and returns the func that tears
// down the old subscriptions; it must run after the lock is released.
func (in *Inbox) resetLocked() func() {
	stopIndex, stopStream, cancel := in.stopIndex, in.stopStream, in.cancel
	in.indexEpoch++
	in.streamEpoch++
	in.stopIndex, in.stopStream, in.cancel = nil, nil, nil
	in.viewer = nil
	in.ctx = context.Background()
	in.convs, in.entries, in.stale = nil, nil, false
	in.selected, in.primed, in.messages, in.seen = "", false, nil, nil
	in.threads = make(map[string]*thread)

	return func() {
		if cancel != nil {
			cancel()
		}
		if stopIndex != nil {
			stopIndex()
		}
		if stopStream != nil {
			stopStream()
		}
	}
}

// Retry resubscribes the conversation index after it went stale.
func (in *Inbox) Retry() {
	in.mu.Lock()
	if in.viewer == nil || !in.stale {
		in.mu.Unlock()
		return
	}
	old := in.stopIndex
	in.stopIndex = nil
	in.indexEpoch++
	epoch, uid := in.indexEpoch, in.viewer.UID
	in.mu.Unlock()

	if old != nil {
		old()
	}
	in.subscribeIndex(epoch, uid)
}

func (in *Inbox) subscribeIndex(epoch uint64, uid string) {
	unsubscribe := in.store.Query(IndexQuery(uid)).Subscribe(
		func(docs []store.Document) { in.onIndex(epoch, uid, docs) },
		func(err error) { in.onIndexError(epoch, err) },
	)
	in.mu.Lock()
	if epoch == in.indexEpoch {
		in.stopIndex = unsubscribe
		in.mu.Unlock()
		return
	}
	in.mu.Unlock()
	unsubscribe()
}

func (in *Inbox) onIndex(epoch uint64, uid string, docs []store.Document) {
	in.mu.Lock()
	if epoch != in.indexEpoch {
		in.mu.Unlock()
		return
	}
	ctx := in.ctx
	in.mu.Unlock()

	logger := log.LoggerFromContext(ctx)
	convs := make([]contract.Conversation, 0, len(docs))
	for _, doc := range docs {
		conv, err := decodeConversation(doc)
		if err != nil {
			logger.Warn("skipping undecodable conversation", slog.String(log.ErrorMsgLogField, err.Error()))
			continue
		}
		convs = append(convs, conv)
	}

	refs := lo.FilterMap(convs, func(conv contract.Conversation, _ int) (profile.Ref, bool) {
		return counterpartRef(conv, uid)
	})
	if err := in.resolver.Resolve(ctx, refs); err != nil {
		logger.Warn("some participants could not be resolved", slog.String(log.ErrorMsgLogField, err.Error()))
	}

	in.mu.Lock()
	if epoch != in.indexEpoch {
		in.mu.Unlock()
		return
	}
	in.convs = convs
	in.stale = false
	in.entries = in.render(uid)
	in.emitLocked(Event{Kind: EventConversations, Conversations: slices.Clone(in.entries)})

	// the open thread is being read, so counterpart messages never count
	selected := in.selected
	unread := lo.ContainsBy(convs, func(conv contract.Conversation) bool {
		return conv.ID == selected && conv.UnreadCount[uid] > 0
	})
	in.mu.Unlock()

	in.recordKinds(ctx, convs, uid)
	if unread {
		in.markRead(ctx, selected, uid)
	}
}

// recordKinds writes back the counterpart kinds that had to be found by
// probing the profile collections.
func (in *Inbox) recordKinds(ctx context.Context, convs []contract.Conversation, uid string) {
	for _, conv := range convs {
		ref, ok := counterpartRef(conv, uid)
		if !ok || ref.Kind.Valid() {
			continue
		}
		kind, ok := in.resolver.KindOf(ref.UID)
		if !ok {
			continue
		}
		if err := in.conversations.RecordKind(ctx, conv.ID, ref.UID, kind); err != nil {
			log.LoggerFromContext(ctx).Warn("record participant kind failed",
				slog.String(conversationIDLogField, conv.ID),
				slog.String(log.ErrorMsgLogField, err.Error()),
			)
		}
	}
}

// render orders convs newest first, keeps the first occurrence of every id
// and leaves out conversations whose counterpart is unresolved or unknown.
func (in *Inbox) render(uid string) []Entry {
	ordered := slices.Clone(in.convs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].LastMessage.Timestamp.After(ordered[j].LastMessage.Timestamp)
	})
	ordered = lo.UniqBy(ordered, func(conv contract.Conversation) string { return conv.ID })

	entries := make([]Entry, 0, len(ordered))
	for _, conv := range ordered {
		ref, ok := counterpartRef(conv, uid)
		if !ok {
			continue
		}
		p, known, resolved := in.resolver.Lookup(ref.UID)
		if !resolved || !known {
			continue
		}
		entries = append(entries, Entry{Conversation: conv, Counterpart: p, Unread: conv.UnreadCount[uid]})
	}
	return entries
}

func (in *Inbox) onIndexError(epoch uint64, err error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if epoch != in.indexEpoch {
		return
	}
	in.stale = true
	log.LoggerFromContext(in.ctx).Error("conversation index subscription failed", slog.String(log.ErrorMsgLogField, err.Error()))
	in.emitLocked(Event{Kind: EventIndexStale, Conversations: slices.Clone(in.entries), Err: err})
}

// Select opens the message stream of conversationID, cancelling the stream
// of the previously selected conversation first.
func (in *Inbox) Select(ctx context.Context, conversationID string) error {
	in.mu.Lock()
	if in.viewer == nil {
		in.mu.Unlock()
		return ErrSignedOut
	}
	uid := in.viewer.UID
	if in.selected == conversationID && in.stopStream != nil {
		in.mu.Unlock()
		return nil
	}
	old := in.stopStream
	in.stopStream = nil
	in.streamEpoch++
	epoch := in.streamEpoch
	in.selected, in.primed, in.messages, in.seen = conversationID, false, nil, make(map[string]struct{})
	in.mu.Unlock()

	if old != nil {
		old()
	}

	if _, err := in.conversations.GetFor(ctx, conversationID, uid); err != nil {
		in.mu.Lock()
		if epoch == in.streamEpoch {
			in.selected = ""
		}
		in.mu.Unlock()
		return err
	}

	unsubscribe := in.store.Query(ThreadQuery(conversationID)).Subscribe(
		func(docs []store.Document) { in.onThread(epoch, conversationID, docs) },
		func(err error) { in.onThreadError(epoch, conversationID, err) },
	)
	in.mu.Lock()
	if epoch != in.streamEpoch {
		in.mu.Unlock()
		unsubscribe()
		return nil
	}
	in.stopStream = unsubscribe
	in.mu.Unlock()

	in.markRead(ctx, conversationID, uid)
	return nil
}

// Deselect closes the open message stream.
func (in *Inbox) Deselect() {
	in.mu.Lock()
	old := in.stopStream
	in.stopStream = nil
	in.streamEpoch++
	in.selected, in.primed, in.messages, in.seen = "", false, nil, nil
	in.mu.Unlock()

	if old != nil {
		old()
	}
}

// onThread appends the messages not delivered before. Messages already
// shown never move.
func (in *Inbox) onThread(epoch uint64, conversationID string, docs []store.Document) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if epoch != in.streamEpoch {
		return
	}

	var appended []contract.Message
	for _, doc := range docs {
		if _, ok := in.seen[doc.ID()]; ok {
			continue
		}
		m, err := decodeMessage(doc)
		if err != nil {
			log.LoggerFromContext(in.ctx).Warn("skipping undecodable message",
				slog.String(conversationIDLogField, conversationID),
				slog.String(log.ErrorMsgLogField, err.Error()),
			)
			continue
		}
		in.seen[m.ID] = struct{}{}
		appended = append(appended, m)
	}
	in.messages = append(in.messages, appended...)

	if len(appended) == 0 && in.primed {
		return
	}
	in.primed = true
	in.emitLocked(Event{Kind: EventMessages, ConversationID: conversationID, Messages: appended})
}

func (in *Inbox) onThreadError(epoch uint64, conversationID string, err error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if epoch != in.streamEpoch {
		return
	}
	in.stopStream = nil
	log.LoggerFromContext(in.ctx).Error("message stream failed",
		slog.String(conversationIDLogField, conversationID),
		slog.String(log.ErrorMsgLogField, err.Error()),
	)
	in.emitLocked(Event{Kind: EventStreamError, ConversationID: conversationID, Err: err})
}

func (in *Inbox) markRead(ctx context.Context, conversationID, uid string) {
	if err := in.conversations.MarkRead(ctx, conversationID, uid); err != nil {
		log.LoggerFromContext(ctx).Warn("mark read failed",
			slog.String(conversationIDLogField, conversationID),
			slog.String(log.ErrorMsgLogField, err.Error()),
		)
	}
}

// SetDraft replaces the draft of the selected conversation.
func (in *Inbox) SetDraft(text string) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	th, err := in.threadLocked()
	if err != nil {
		return err
	}
	th.draft = text
	if th.state != ComposerSending {
		th.state, th.err = ComposerIdle, nil
	}
	return nil
}

// Send sends the draft of the selected conversation. A blank draft is a
// no-op. On failure the draft is kept so the user can retry.
func (in *Inbox) Send(ctx context.Context) (Receipt, error) {
	in.mu.Lock()
	th, err := in.threadLocked()
	if err != nil {
		in.mu.Unlock()
		return Receipt{}, err
	}
	if th.state == ComposerSending {
		in.mu.Unlock()
		return Receipt{}, ErrSendInFlight
	}
	text := th.draft
	if strings.TrimSpace(text) == "" {
		in.mu.Unlock()
		return Receipt{}, nil
	}
	conversationID, uid := in.selected, in.viewer.UID
	th.state, th.err = ComposerSending, nil
	in.emitLocked(Event{Kind: EventComposer, ConversationID: conversationID, State: ComposerSending})
	in.mu.Unlock()

	receipt, err := in.composer.Send(ctx, conversationID, uid, text)

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.threads[conversationID] != th {
		// signed out meanwhile
		return receipt, err
	}
	if err != nil {
		th.state, th.err = ComposerFailed, err
		in.emitLocked(Event{Kind: EventComposer, ConversationID: conversationID, State: ComposerFailed, Err: err})
		return Receipt{}, err
	}
	if th.draft == text {
		th.draft = ""
	}
	th.state = ComposerSent
	in.emitLocked(Event{Kind: EventComposer, ConversationID: conversationID, State: ComposerSent})
	return receipt, nil
}

func (in *Inbox) threadLocked() (*thread, error) {
	if in.viewer == nil {
		return nil, ErrSignedOut
	}
	if in.selected == "" {
		return nil, ErrNoSelection
	}
	th, ok := in.threads[in.selected]
	if !ok {
		th = &thread{}
		in.threads[in.selected] = th
	}
	return th, nil
}

func (in *Inbox) emitLocked(ev Event) {
	if in.observer != nil {
		in.observer(ev)
	}
}

func (in *Inbox) Conversations() []Entry {
	in.mu.Lock()
	defer in.mu.Unlock()
	return slices.Clone(in.entries)
}

// Stale reports whether the index stopped receiving updates.
func (in *Inbox) Stale() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.stale
}

func (in *Inbox) Selected() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.selected
}

func (in *Inbox) Messages() []contract.Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	return slices.Clone(in.messages)
}

func (in *Inbox) Draft() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	if th, ok := in.threads[in.selected]; ok {
		return th.draft
	}
	return ""
}

// ComposerState reports the composer state of the selected conversation
// and the error of the last failed send.
func (in *Inbox) ComposerState() (ComposerState, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if th, ok := in.threads[in.selected]; ok {
		return th.state, th.err
	}
	return ComposerIdle, nil
}
