package contractmatch

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/klipach/contractmatch/auth"
	"github.com/klipach/contractmatch/contract"
	"github.com/klipach/contractmatch/log"
	"github.com/klipach/contractmatch/messaging"
	"github.com/samber/lo"
)

// eventQueue hands inbox events to the stream writer without blocking the
// inbox, which calls push with its lock held.
type eventQueue struct {
	mu     sync.Mutex
	events []messaging.Event
	ready  chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev messaging.Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []messaging.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}

// stream serves the caller's conversation index, and the message log of
// ?conversation= when given, as Server-Sent Events until the client goes
// away or the ID token expires.
func (a *App) stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.LoggerFromContext(ctx)
	p := principal(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("streaming unsupported")
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	queue := newEventQueue()
	inbox := messaging.NewInbox(a.store, a.profiles,
		messaging.WithObserver(queue.push),
		messaging.WithResolveConcurrency(a.cfg.ResolveConcurrency),
	)
	session := auth.NewSession()
	dispose := inbox.Watch(ctx, session)
	defer dispose()
	defer inbox.Close()

	session.SignIn(p)
	if !p.Expires.IsZero() {
		expiry := time.AfterFunc(time.Until(p.Expires), session.SignOut)
		defer expiry.Stop()
	}

	if id := r.URL.Query().Get("conversation"); id != "" {
		logger = logger.With(slog.String(conversationIDLogField, id))
		if err := inbox.Select(ctx, id); err != nil {
			writeError(w, r, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	logger.Info("stream opened")

	heartbeat := time.NewTicker(a.cfg.StreamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("stream closed by client")
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-queue.ready:
			for _, ev := range queue.drain() {
				name, payload, ok := streamEvent(ev)
				if !ok {
					continue
				}
				if err := writeEvent(w, name, payload); err != nil {
					logger.Warn("error while writing event", slog.String(log.ErrorMsgLogField, err.Error()))
					return
				}
				if ev.Kind == messaging.EventSignedOut {
					flusher.Flush()
					logger.Info("stream closed on sign-out")
					return
				}
			}
			flusher.Flush()
		}
	}
}

func streamEvent(ev messaging.Event) (string, contract.StreamEvent, bool) {
	payload := contract.StreamEvent{At: time.Now().UTC()}
	switch ev.Kind {
	case messaging.EventConversations, messaging.EventIndexStale:
		payload.Conversations = lo.Map(ev.Conversations, func(e messaging.Entry, _ int) contract.ConversationEntry {
			return contract.ConversationEntry{Conversation: e.Conversation, Counterpart: e.Counterpart, Unread: e.Unread}
		})
	case messaging.EventMessages:
		payload.ConversationID = ev.ConversationID
		payload.Messages = ev.Messages
	case messaging.EventStreamError:
		payload.ConversationID = ev.ConversationID
	case messaging.EventSignedOut:
	default:
		return "", payload, false
	}
	if ev.Err != nil {
		payload.Error = ev.Err.Error()
	}
	return ev.Kind.String(), payload, true
}

func writeEvent(w io.Writer, name string, payload contract.StreamEvent) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
