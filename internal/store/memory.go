package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helpdeskhq/support-chat/internal/model"
	"github.com/helpdeskhq/support-chat/pkg/logger"
	"github.com/helpdeskhq/support-chat/pkg/metrics"
)

// defaultNickname is used when the guest does not supply one.
const defaultNickname = "Guest"

// sessionState bundles a session with its ledger under one lock. Sessions
// are independent units of concurrency; no operation takes two session locks.
type sessionState struct {
	mu       sync.Mutex
	session  model.GuestSession
	messages []model.GuestMessage
}

// persistQueueSize bounds the write-behind queue. A full queue drops the
// snapshot rather than blocking a mutation.
const persistQueueSize = 1024

// persistJob is one queued write-behind save: a session snapshot or a
// message, never both.
type persistJob struct {
	session *model.GuestSession
	message *model.GuestMessage
}

// Memory is the in-memory session store and message ledger.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState // by sessionID
	byToken  map[string]string        // secretToken -> sessionID

	sessionSeq atomic.Uint64
	messageSeq atomic.Uint64

	persister   Persister
	persistCh   chan persistJob
	persistDone chan struct{}
	logger      *logger.Logger
}

// NewMemory creates an empty store. persister may be nil.
func NewMemory(persister Persister, log *logger.Logger) *Memory {
	m := &Memory{
		sessions:  make(map[string]*sessionState),
		byToken:   make(map[string]string),
		persister: persister,
		logger:    log,
	}
	if persister != nil {
		m.persistCh = make(chan persistJob, persistQueueSize)
		m.persistDone = make(chan struct{})
		go m.persistLoop()
	}
	return m
}

// Stop drains the write-behind queue and waits for the writer to finish.
// Mutations after Stop are not persisted.
func (m *Memory) Stop() {
	if m.persistCh == nil {
		return
	}
	close(m.persistCh)
	<-m.persistDone
}

// Rehydrate loads persisted sessions and messages into an empty store.
// Messages are reordered by their append sequence, which is authoritative.
func (m *Memory) Rehydrate(ctx context.Context) error {
	if m.persister == nil {
		return nil
	}

	sessions, messages, err := m.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load persisted state: %w", err)
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].Seq < messages[j].Seq })

	m.mu.Lock()
	defer m.mu.Unlock()

	var maxSessionSeq, maxMessageSeq uint64
	for _, s := range sessions {
		st := &sessionState{session: s}
		m.sessions[s.SessionID] = st
		m.byToken[s.SecretToken] = s.SessionID
		if s.Seq > maxSessionSeq {
			maxSessionSeq = s.Seq
		}
	}
	for _, msg := range messages {
		st, ok := m.sessions[msg.SessionID]
		if !ok {
			m.logger.Warn("orphan persisted message", zap.Uint64("seq", msg.Seq), zap.String("session_id", msg.SessionID))
			continue
		}
		st.messages = append(st.messages, msg)
		if msg.Seq > maxMessageSeq {
			maxMessageSeq = msg.Seq
		}
	}

	m.sessionSeq.Store(maxSessionSeq)
	m.messageSeq.Store(maxMessageSeq)

	m.logger.Info("store rehydrated",
		zap.Int("sessions", len(sessions)),
		zap.Int("messages", len(messages)),
	)
	return nil
}

// CreateSession generates a new pending session with a fresh session ID and
// secret token. Both are assigned exactly once and never regenerated.
func (m *Memory) CreateSession(ctx context.Context, req *model.InitSessionRequest) (model.GuestSession, error) {
	now := time.Now()

	nickname := req.Nickname
	if nickname == "" {
		nickname = defaultNickname
	}

	session := model.GuestSession{
		Seq:         m.sessionSeq.Add(1),
		SessionID:   newOpaqueID(),
		SecretToken: newOpaqueID(),
		AppID:       req.AppID,
		VisitorID:   req.VisitorID,
		Nickname:    nickname,
		Contact:     req.Contact,
		SourceURL:   req.SourceURL,
		UserAgent:   req.UserAgent,
		Status:      model.StatusPending,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	m.sessions[session.SessionID] = &sessionState{session: session}
	m.byToken[session.SecretToken] = session.SessionID
	// Enqueued before the session becomes reachable, so no later mutation
	// can get its snapshot queued ahead of this one.
	m.persistSession(session)
	m.mu.Unlock()

	return session, nil
}

// GetSession returns a session by its public handle.
func (m *Memory) GetSession(ctx context.Context, sessionID string) (model.GuestSession, error) {
	st, err := m.state(sessionID)
	if err != nil {
		return model.GuestSession{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return cloneSession(&st.session), nil
}

// GetSessionByToken returns the session owning the given secret token.
// Possession of the token equals guest-side authorization.
func (m *Memory) GetSessionByToken(ctx context.Context, secretToken string) (model.GuestSession, error) {
	m.mu.RLock()
	sessionID, ok := m.byToken[secretToken]
	m.mu.RUnlock()
	if !ok {
		return model.GuestSession{}, model.ErrNotFound
	}
	return m.GetSession(ctx, sessionID)
}

// ListSessions returns sessions matching the filter, most-recent-first by
// last message time, then by update time.
func (m *Memory) ListSessions(ctx context.Context, filter ListFilter) ([]model.GuestSession, int, error) {
	m.mu.RLock()
	states := make([]*sessionState, 0, len(m.sessions))
	for _, st := range m.sessions {
		states = append(states, st)
	}
	m.mu.RUnlock()

	var out []model.GuestSession
	for _, st := range states {
		st.mu.Lock()
		s := cloneSession(&st.session)
		st.mu.Unlock()

		if filter.AppID != "" && s.AppID != filter.AppID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.AssignedAgent != "" && s.AssignedAgent != filter.AssignedAgent {
			continue
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := activityTime(&out[i]), activityTime(&out[j])
		if ti.Equal(tj) {
			return out[i].Seq > out[j].Seq
		}
		return ti.After(tj)
	})

	total := len(out)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}

	return out[start:end], total, nil
}

// Claim assigns the session to an agent, moving pending to active. Claiming
// a session already assigned to the same agent is a no-op; a claim by a
// different agent reassigns and reports the previous holder.
func (m *Memory) Claim(ctx context.Context, sessionID, agentID string) (ClaimResult, error) {
	st, err := m.state(sessionID)
	if err != nil {
		return ClaimResult{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	s := &st.session
	if s.Status == model.StatusClosed {
		return ClaimResult{}, model.ErrSessionClosed
	}

	result := ClaimResult{PreviousAgent: s.AssignedAgent}
	if s.AssignedAgent == agentID && s.Status == model.StatusActive {
		result.Session = cloneSession(s)
		return result, nil
	}
	result.Reassigned = s.AssignedAgent != "" && s.AssignedAgent != agentID

	s.AssignedAgent = agentID
	s.Status = model.StatusActive
	s.UpdatedAt = time.Now()

	snapshot := cloneSession(s)
	result.Session = snapshot
	m.persistSession(snapshot)
	return result, nil
}

// Release clears the assigned agent and returns the session to pending,
// leaving its ledger untouched. Releasing an unassigned pending session is a
// no-op.
func (m *Memory) Release(ctx context.Context, sessionID string) (model.GuestSession, error) {
	st, err := m.state(sessionID)
	if err != nil {
		return model.GuestSession{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	s := &st.session
	if s.Status == model.StatusClosed {
		return model.GuestSession{}, model.ErrSessionClosed
	}
	if s.Status == model.StatusPending && s.AssignedAgent == "" {
		return cloneSession(s), nil
	}

	s.AssignedAgent = ""
	s.Status = model.StatusPending
	s.UpdatedAt = time.Now()

	snapshot := cloneSession(s)
	m.persistSession(snapshot)
	return snapshot, nil
}

// Close moves the session to its terminal state. Closing an already-closed
// session is a no-op.
func (m *Memory) Close(ctx context.Context, sessionID string) (model.GuestSession, error) {
	st, err := m.state(sessionID)
	if err != nil {
		return model.GuestSession{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	s := &st.session
	if s.Status == model.StatusClosed {
		return cloneSession(s), nil
	}

	s.Status = model.StatusClosed
	s.AssignedAgent = ""
	s.UpdatedAt = time.Now()

	snapshot := cloneSession(s)
	m.persistSession(snapshot)
	return snapshot, nil
}

// TouchActivity records presence-style activity that is not a message: it
// bumps the session's update time without touching the ledger or the
// last-message summary. The idle scan treats it as activity.
func (m *Memory) TouchActivity(ctx context.Context, sessionID string, at time.Time) error {
	st, err := m.state(sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if at.After(st.session.UpdatedAt) {
		st.session.UpdatedAt = at
	}

	m.persistSession(cloneSession(&st.session))
	return nil
}

// Append adds a message to the session's ledger and updates the session
// summary in the same critical section: both commit or neither does.
func (m *Memory) Append(ctx context.Context, sessionID string, req AppendRequest) (model.GuestMessage, error) {
	st, err := m.state(sessionID)
	if err != nil {
		return model.GuestMessage{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session.Status == model.StatusClosed {
		return model.GuestMessage{}, model.ErrSessionClosed
	}

	now := time.Now()
	msgType := req.Type
	if msgType == "" {
		msgType = model.MessageText
	}

	msg := model.GuestMessage{
		Seq:        m.messageSeq.Add(1),
		SessionID:  sessionID,
		SenderType: req.SenderType,
		Sender:     req.Sender,
		Content:    req.Content,
		Type:       msgType,
		Metadata:   req.Metadata,
		CreatedAt:  now,
	}

	st.messages = append(st.messages, msg)

	t := now
	st.session.LastMessage = req.Content
	st.session.LastMessageAt = &t
	st.session.UpdatedAt = now

	m.persistSession(cloneSession(&st.session))
	m.persistMessage(msg)
	return msg, nil
}

// ListMessages returns the session's ledger in strict append order.
func (m *Memory) ListMessages(ctx context.Context, sessionID string) ([]model.GuestMessage, error) {
	st, err := m.state(sessionID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]model.GuestMessage, len(st.messages))
	copy(out, st.messages)
	return out, nil
}

// MarkRead marks all messages addressed to readerType with append sequence
// at or below upToSeq as read. Re-marking already-read messages is a no-op;
// the returned count covers newly marked messages only.
func (m *Memory) MarkRead(ctx context.Context, sessionID string, upToSeq uint64, readerType model.SenderType) (int, error) {
	st, err := m.state(sessionID)
	if err != nil {
		return 0, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	marked := 0
	for i := range st.messages {
		msg := &st.messages[i]
		if msg.Seq > upToSeq {
			break
		}
		if msg.IsRead || !addressedTo(msg.SenderType, readerType) {
			continue
		}
		msg.IsRead = true
		marked++
		m.persistMessage(*msg)
	}
	return marked, nil
}

// UnreadCount counts unread messages addressed to forType.
func (m *Memory) UnreadCount(ctx context.Context, sessionID string, forType model.SenderType) (int, error) {
	st, err := m.state(sessionID)
	if err != nil {
		return 0, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	count := 0
	for i := range st.messages {
		msg := &st.messages[i]
		if !msg.IsRead && addressedTo(msg.SenderType, forType) {
			count++
		}
	}
	return count, nil
}

// ListIdle returns the IDs of open sessions with no activity since cutoff.
// Used by the idle sweeper; closing them goes through the normal Close path.
func (m *Memory) ListIdle(ctx context.Context, cutoff time.Time) ([]string, error) {
	m.mu.RLock()
	states := make([]*sessionState, 0, len(m.sessions))
	for _, st := range m.sessions {
		states = append(states, st)
	}
	m.mu.RUnlock()

	var idle []string
	for _, st := range states {
		st.mu.Lock()
		if st.session.Status != model.StatusClosed && isIdleBefore(&st.session, cutoff) {
			idle = append(idle, st.session.SessionID)
		}
		st.mu.Unlock()
	}
	return idle, nil
}

func (m *Memory) state(sessionID string) (*sessionState, error) {
	m.mu.RLock()
	st, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, model.ErrNotFound
	}
	return st, nil
}

// persistSession and persistMessage enqueue committed state for the
// write-behind writer. Callers invoke them while still holding the session
// lock, so queue order equals commit order: a single consumer then replays
// mutations in order and the newest snapshot really is the last one saved.
// A full queue drops the snapshot rather than blocking the mutation.
func (m *Memory) persistSession(s model.GuestSession) {
	if m.persister == nil {
		return
	}
	select {
	case m.persistCh <- persistJob{session: &s}:
	default:
		metrics.PersistFailures.Inc()
		m.logger.Warn("persist queue full, session snapshot dropped", zap.String("session_id", s.SessionID))
	}
}

func (m *Memory) persistMessage(msg model.GuestMessage) {
	if m.persister == nil {
		return
	}
	select {
	case m.persistCh <- persistJob{message: &msg}:
	default:
		metrics.PersistFailures.Inc()
		m.logger.Warn("persist queue full, message dropped", zap.Uint64("seq", msg.Seq))
	}
}

// persistLoop is the single write-behind writer.
func (m *Memory) persistLoop() {
	defer close(m.persistDone)
	for job := range m.persistCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		switch {
		case job.session != nil:
			if err = m.persister.SaveSession(ctx, *job.session); err != nil {
				m.logger.Error("persist session failed", zap.String("session_id", job.session.SessionID), zap.Error(err))
			}
		case job.message != nil:
			if err = m.persister.SaveMessage(ctx, *job.message); err != nil {
				m.logger.Error("persist message failed", zap.Uint64("seq", job.message.Seq), zap.Error(err))
			}
		}
		cancel()
		if err != nil {
			metrics.PersistFailures.Inc()
		}
	}
}

func cloneSession(s *model.GuestSession) model.GuestSession {
	out := *s
	if s.LastMessageAt != nil {
		t := *s.LastMessageAt
		out.LastMessageAt = &t
	}
	if s.Metadata != nil {
		md := make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			md[k] = v
		}
		out.Metadata = md
	}
	return out
}

func activityTime(s *model.GuestSession) time.Time {
	if s.LastMessageAt != nil {
		return *s.LastMessageAt
	}
	return s.UpdatedAt
}

// newOpaqueID generates a 32-character hex identifier.
func newOpaqueID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
