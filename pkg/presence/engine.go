package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"presencedb/pkg/commands"
	"presencedb/pkg/ledger"
	"presencedb/pkg/logger"
	"presencedb/pkg/migrate"
	"presencedb/pkg/models"
	"presencedb/pkg/presence/queue"
	"presencedb/pkg/reconcile"
	"presencedb/pkg/roster"
	"presencedb/pkg/store"
	"presencedb/pkg/telemetry"
)

// ErrDisabledNoGroup reports a group-dependent operation on a
// conversation with no roster binding. Most paths treat it as a silent
// no-op rather than a failure.
var ErrDisabledNoGroup = errors.New("conversation has no group binding")

const defaultPersistDebounce = 500 * time.Millisecond

// Options configures a new Engine.
type Options struct {
	QueueCapacity   int
	PersistDebounce time.Duration
	// Settings seeds the engine when the store has none persisted.
	Settings models.Settings
}

// Engine owns the in-memory conversation state and runs every ledger and
// reconciler operation on one worker goroutine fed by a serialized event
// queue. Handlers run to completion, so the reconciler always observes
// the ledger as of the most recently completed mutation. Persistence is
// debounced and fire-and-forget; the store is treated as eventually
// durable.
type Engine struct {
	q        *queue.Queue
	settings models.Settings
	convs    map[string]*conversation
	debounce time.Duration

	stop chan struct{}
	done chan struct{}
}

// conversation is one loaded message sequence plus its metadata and the
// current turn pairing. Only the worker goroutine touches it.
type conversation struct {
	id    string
	msgs  []*models.Message
	meta  models.ConvMeta
	led   *ledger.Ledger
	turn  *reconcile.Turn
	dirty bool
	timer *time.Timer
}

// New builds an Engine; Start must be called before use.
func New(opts Options) *Engine {
	debounce := opts.PersistDebounce
	if debounce <= 0 {
		debounce = defaultPersistDebounce
	}
	settings := opts.Settings
	if stored, ok, err := store.GetSettings(); err == nil && ok {
		settings = stored
	}
	return &Engine{
		q:        queue.NewQueue(opts.QueueCapacity),
		settings: settings,
		convs:    make(map[string]*conversation),
		debounce: debounce,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the single worker goroutine.
func (e *Engine) Start() {
	go func() {
		defer close(e.done)
		e.q.RunWorker(e.stop, e.handle)
	}()
}

// Close stops intake, waits for the worker to drain the queue, then
// flushes whatever is still dirty. Only the worker touches convs, so
// flushing after <-e.done is race free.
func (e *Engine) Close() {
	e.q.Close()
	<-e.done
	for _, conv := range e.convs {
		if conv.timer != nil {
			conv.timer.Stop()
		}
		if conv.dirty {
			e.flush(conv)
		}
	}
}

// call enqueues an event and waits for the worker's reply.
func (e *Engine) call(ctx context.Context, kind queue.Kind, convID string, payload any) (any, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	replyTo := make(chan queue.Reply, 1)
	ev := &queue.Event{Kind: kind, Conversation: convID, Payload: body, ReplyTo: replyTo}
	if err := e.q.Enqueue(ctx, ev); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			telemetry.QueueDropped.Inc()
		}
		return nil, err
	}
	select {
	case rep := <-replyTo:
		return rep.Value, rep.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FinalizeMessage appends a finalized turn: the roster resolver computes
// the active set, the ledger stamps it, and (for participant turns) the
// whole sequence is revealed again.
func (e *Engine) FinalizeMessage(ctx context.Context, convID string, msg models.Message) (models.Message, error) {
	v, err := e.call(ctx, queue.KindMessageFinalized, convID, msg)
	if err != nil {
		return models.Message{}, err
	}
	return v.(models.Message), nil
}

// StartTurn runs the turn-start reconciliation for a participant.
func (e *Engine) StartTurn(ctx context.Context, convID, participant, action string) (TurnResult, error) {
	v, err := e.call(ctx, queue.KindTurnStart, convID, turnPayload{Participant: participant, Action: action})
	if err != nil {
		return TurnResult{}, err
	}
	return v.(TurnResult), nil
}

// AbortTurn unconditionally reveals the sequence and resolves any armed
// turn pairing.
func (e *Engine) AbortTurn(ctx context.Context, convID string) (TurnResult, error) {
	v, err := e.call(ctx, queue.KindTurnAborted, convID, nil)
	if err != nil {
		return TurnResult{}, err
	}
	return v.(TurnResult), nil
}

// RunCommand executes a named bulk operation against the conversation.
func (e *Engine) RunCommand(ctx context.Context, convID string, req commands.Request) (commands.Result, error) {
	v, err := e.call(ctx, queue.KindCommand, convID, req)
	if err != nil {
		return commands.Result{}, err
	}
	return v.(commands.Result), nil
}

// TogglePresence flips one participant on one message (the UI icon click).
func (e *Engine) TogglePresence(ctx context.Context, convID string, index int, id models.ParticipantID, present bool) error {
	_, err := e.call(ctx, queue.KindPresenceToggle, convID, togglePayload{Index: index, Participant: id, Present: present})
	return err
}

// ToggleIgnore adds or removes a participant on the conversation's ignore
// list and returns the new state.
func (e *Engine) ToggleIgnore(ctx context.Context, convID string, id models.ParticipantID) (bool, error) {
	v, err := e.call(ctx, queue.KindIgnoreToggle, convID, ignorePayload{Participant: id})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// BindGroup attaches a roster group to a conversation.
func (e *Engine) BindGroup(ctx context.Context, convID, groupID string) error {
	_, err := e.call(ctx, queue.KindBindGroup, convID, bindPayload{GroupID: groupID})
	return err
}

// Prune handles a store deletion notification: messages [start,end] are
// gone and the remaining indices have shifted.
func (e *Engine) Prune(ctx context.Context, convID string, start, end int) (int, error) {
	v, err := e.call(ctx, queue.KindPrune, convID, prunePayload{Start: start, End: end})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Messages returns a snapshot of the conversation's message sequence.
func (e *Engine) Messages(ctx context.Context, convID string) ([]models.Message, error) {
	v, err := e.call(ctx, queue.KindRead, convID, nil)
	if err != nil {
		return nil, err
	}
	return v.([]models.Message), nil
}

// Tracker returns the per-message presence view for rendering.
func (e *Engine) Tracker(ctx context.Context, convID string) ([]TrackerEntry, error) {
	v, err := e.call(ctx, queue.KindRead, convID, json.RawMessage(`"tracker"`))
	if err != nil {
		return nil, err
	}
	return v.([]TrackerEntry), nil
}

// Settings returns the current engine settings.
func (e *Engine) Settings(ctx context.Context) (models.Settings, error) {
	v, err := e.call(ctx, queue.KindSettingsGet, "", nil)
	if err != nil {
		return models.Settings{}, err
	}
	return v.(models.Settings), nil
}

// UpdateSettings replaces the engine settings and persists them.
func (e *Engine) UpdateSettings(ctx context.Context, s models.Settings) error {
	_, err := e.call(ctx, queue.KindSettingsPut, "", s)
	return err
}

// handle is the worker's dispatch loop body.
func (e *Engine) handle(ev *queue.Event) {
	var (
		value any
		err   error
	)
	switch ev.Kind {
	case queue.KindMessageFinalized:
		value, err = e.onMessageFinalized(ev)
	case queue.KindTurnStart:
		value, err = e.onTurnStart(ev)
	case queue.KindTurnAborted:
		value, err = e.onTurnAborted(ev)
	case queue.KindCommand:
		value, err = e.onCommand(ev)
	case queue.KindPresenceToggle:
		err = e.onPresenceToggle(ev)
	case queue.KindIgnoreToggle:
		value, err = e.onIgnoreToggle(ev)
	case queue.KindBindGroup:
		err = e.onBindGroup(ev)
	case queue.KindPrune:
		value, err = e.onPrune(ev)
	case queue.KindRead:
		value, err = e.onRead(ev)
	case queue.KindSettingsGet:
		value = e.settings
	case queue.KindSettingsPut:
		err = e.onSettingsPut(ev)
	case queue.KindPersist:
		e.onPersist(ev.Conversation)
	default:
		err = fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	telemetry.EventsTotal.WithLabelValues(string(ev.Kind), outcome).Inc()

	if ev.ReplyTo != nil {
		ev.ReplyTo <- queue.Reply{Value: value, Err: err}
	} else if err != nil {
		logger.Error("event_failed", "kind", string(ev.Kind), "conversation", ev.Conversation, "seq", ev.EnqSeq, "error", err)
	}
}

// load returns the in-memory conversation, reading it from the store on
// first touch and running the one-shot legacy migration when a legacy
// record is present.
func (e *Engine) load(convID string) (*conversation, error) {
	if conv, ok := e.convs[convID]; ok {
		return conv, nil
	}
	stored, err := store.ListMessages(convID)
	if err != nil {
		return nil, err
	}
	meta, err := store.GetMeta(convID)
	if err != nil {
		return nil, err
	}
	msgs := make([]*models.Message, len(stored))
	for i := range stored {
		m := stored[i]
		m.Index = i
		msgs[i] = &m
	}
	conv := &conversation{id: convID, msgs: msgs, meta: meta, led: ledger.New(msgs)}
	e.convs[convID] = conv

	if len(meta.Legacy) > 0 && e.settings.Enabled {
		if g, gerr := e.group(conv); gerr == nil {
			migrate.Run(&conv.meta, conv.led, g)
			e.markDirty(conv)
		}
	}
	logger.Info("conversation_loaded", "conversation", convID, "messages", len(msgs))
	return conv, nil
}

func (e *Engine) group(conv *conversation) (models.Group, error) {
	if conv.meta.GroupID == "" {
		return models.Group{}, ErrDisabledNoGroup
	}
	return store.GetGroup(conv.meta.GroupID)
}

// active reports whether automatic presence tracking applies to this
// conversation: engine enabled and a group bound.
func (e *Engine) active(conv *conversation) bool {
	return e.settings.Enabled && conv.meta.GroupID != ""
}

func (e *Engine) onMessageFinalized(ev *queue.Event) (any, error) {
	conv, err := e.load(ev.Conversation)
	if err != nil {
		return nil, err
	}
	var msg models.Message
	if err := json.Unmarshal(ev.Payload, &msg); err != nil {
		return nil, fmt.Errorf("invalid message payload: %w", err)
	}
	msg.Conversation = conv.id
	msg.Index = len(conv.msgs)
	if msg.TS == 0 {
		msg.TS = time.Now().UTC().UnixNano()
	}
	m := msg
	conv.msgs = append(conv.msgs, &m)
	*conv.led = *ledger.New(conv.msgs)

	if e.active(conv) {
		g, err := e.group(conv)
		if err != nil {
			return nil, err
		}
		act := roster.ComputeActive(g, conv.meta.IgnorePresence, e.settings)
		if err := conv.led.StampNewMessage(m.Index, act.Active, e.settings); err != nil {
			return nil, err
		}
		telemetry.MessagesStamped.Inc()
		// the turn is over: nothing stays hidden outside an active draft,
		// but an operator message alone does not re-reveal history
		if !m.FromOperator {
			reconcile.Apply(reconcile.RevealAll(conv.msgs), conv.msgs)
		}
	}
	e.markDirty(conv)
	logger.Info("message_finalized", "conversation", conv.id, "index", m.Index, "speaker", m.Speaker, "present", len(m.Present))
	return *conv.msgs[m.Index], nil
}

func (e *Engine) onTurnStart(ev *queue.Event) (any, error) {
	conv, err := e.load(ev.Conversation)
	if err != nil {
		return nil, err
	}
	var p turnPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid turn payload: %w", err)
	}
	action, err := reconcile.ParseAction(p.Action)
	if err != nil {
		return nil, err
	}
	if !e.active(conv) {
		return TurnResult{Skipped: true}, nil
	}
	g, err := e.group(conv)
	if err != nil {
		return nil, err
	}
	actor, err := roster.Resolve(g, p.Participant)
	if err != nil {
		// no partial hide/reveal on resolution failure
		return nil, err
	}

	turn := reconcile.BeginTurn(action)
	conv.turn = turn

	plan, err := reconcile.PlanForTurn(conv.msgs, actor, action, g, conv.meta, e.settings)
	if err != nil {
		conv.turn = nil
		return nil, err
	}
	// drafted and aborted share one pairing; the draft path consumes it
	if !turn.Resolve() {
		return TurnResult{Skipped: true}, nil
	}
	reconcile.Apply(plan, conv.msgs)
	e.markDirty(conv)
	telemetry.ObservePlan(len(plan.Reveal), len(plan.Hide))
	full := len(plan.Hide) == 0
	logger.Info("turn_reconciled", "conversation", conv.id, "actor", actor, "action", action.String(), "reveal_ranges", len(plan.Reveal), "hide_ranges", len(plan.Hide))
	return TurnResult{Plan: plan, FullReveal: full}, nil
}

func (e *Engine) onTurnAborted(ev *queue.Event) (any, error) {
	conv, err := e.load(ev.Conversation)
	if err != nil {
		return nil, err
	}
	// resolving deregisters the paired draft handler; the abort reveal
	// itself is unconditional
	if conv.turn.Resolve() {
		logger.Debug("turn_pairing_aborted", "conversation", conv.id)
	}
	conv.turn = nil
	if !e.settings.Enabled {
		return TurnResult{Skipped: true}, nil
	}
	plan := reconcile.RevealAll(conv.msgs)
	reconcile.Apply(plan, conv.msgs)
	e.markDirty(conv)
	return TurnResult{Plan: plan, FullReveal: true}, nil
}

func (e *Engine) onCommand(ev *queue.Event) (any, error) {
	conv, err := e.load(ev.Conversation)
	if err != nil {
		return nil, err
	}
	var req commands.Request
	if err := json.Unmarshal(ev.Payload, &req); err != nil {
		return nil, fmt.Errorf("invalid command payload: %w", err)
	}
	env := commands.Env{Ledger: conv.led, Settings: e.settings}
	if g, gerr := e.group(conv); gerr == nil {
		env.Group = g
		env.Active = roster.ComputeActive(g, conv.meta.IgnorePresence, e.settings)
	} else if !errors.Is(gerr, ErrDisabledNoGroup) {
		return nil, gerr
	} else {
		// no group bound: commands are inert, mirroring a disabled engine
		env.Settings.Enabled = false
	}
	res := commands.Execute(env, req)
	outcome := "ok"
	if res.Warning != "" {
		outcome = "warning"
	}
	telemetry.CommandsTotal.WithLabelValues(req.Name, outcome).Inc()
	if res.Mutated {
		e.markDirty(conv)
	}
	return res, nil
}

func (e *Engine) onPresenceToggle(ev *queue.Event) error {
	conv, err := e.load(ev.Conversation)
	if err != nil {
		return err
	}
	var p togglePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return fmt.Errorf("invalid toggle payload: %w", err)
	}
	if err := conv.led.SetPresence(p.Index, p.Participant, p.Present); err != nil {
		return err
	}
	e.markDirty(conv)
	return nil
}

func (e *Engine) onIgnoreToggle(ev *queue.Event) (any, error) {
	conv, err := e.load(ev.Conversation)
	if err != nil {
		return nil, err
	}
	var p ignorePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid ignore payload: %w", err)
	}
	if conv.meta.Ignored(p.Participant) {
		kept := conv.meta.IgnorePresence[:0]
		for _, id := range conv.meta.IgnorePresence {
			if id != p.Participant {
				kept = append(kept, id)
			}
		}
		conv.meta.IgnorePresence = kept
		e.markDirty(conv)
		return false, nil
	}
	conv.meta.IgnorePresence = append(conv.meta.IgnorePresence, p.Participant)
	e.markDirty(conv)
	return true, nil
}

func (e *Engine) onBindGroup(ev *queue.Event) error {
	conv, err := e.load(ev.Conversation)
	if err != nil {
		return err
	}
	var p bindPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return fmt.Errorf("invalid bind payload: %w", err)
	}
	if _, err := store.GetGroup(p.GroupID); err != nil {
		return err
	}
	conv.meta.GroupID = p.GroupID
	e.markDirty(conv)

	if len(conv.meta.Legacy) > 0 && e.settings.Enabled {
		if g, gerr := e.group(conv); gerr == nil {
			migrate.Run(&conv.meta, conv.led, g)
		}
	}
	return nil
}

func (e *Engine) onPrune(ev *queue.Event) (any, error) {
	conv, err := e.load(ev.Conversation)
	if err != nil {
		return nil, err
	}
	var p prunePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid prune payload: %w", err)
	}
	if p.Start < 0 || p.End >= len(conv.msgs) || p.Start > p.End {
		return nil, fmt.Errorf("%w: %d-%d", ledger.ErrInvalidRange, p.Start, p.End)
	}
	// the store must be current before the compaction and reload below
	if conv.dirty {
		if conv.timer != nil {
			conv.timer.Stop()
		}
		e.flush(conv)
	}
	removed, err := store.DeleteMessageRange(conv.id, p.Start, p.End)
	if err != nil {
		return nil, err
	}
	// rebuild the in-memory sequence from the compacted store state
	stored, err := store.ListMessages(conv.id)
	if err != nil {
		return nil, err
	}
	msgs := make([]*models.Message, len(stored))
	for i := range stored {
		m := stored[i]
		m.Index = i
		msgs[i] = &m
	}
	conv.msgs = msgs
	*conv.led = *ledger.New(msgs)
	logger.Info("messages_pruned", "conversation", conv.id, "start", p.Start, "end", p.End, "removed", removed)
	return removed, nil
}

func (e *Engine) onRead(ev *queue.Event) (any, error) {
	conv, err := e.load(ev.Conversation)
	if err != nil {
		return nil, err
	}
	if string(ev.Payload) == `"tracker"` {
		return e.trackerView(conv)
	}
	out := make([]models.Message, len(conv.msgs))
	for i, m := range conv.msgs {
		out[i] = *m
	}
	return out, nil
}

// trackerView merges roster membership with any extra recorded ids per
// message, sorted, with a present flag each. This is pure data for the
// rendering collaborator; the engine owns no presentation.
func (e *Engine) trackerView(conv *conversation) ([]TrackerEntry, error) {
	var members []models.ParticipantID
	if g, err := e.group(conv); err == nil {
		members = g.MemberIDs()
	} else if !errors.Is(err, ErrDisabledNoGroup) {
		return nil, err
	}
	out := make([]TrackerEntry, len(conv.msgs))
	for i, m := range conv.msgs {
		ids := append([]models.ParticipantID(nil), members...)
		for _, p := range m.Present {
			found := false
			for _, id := range ids {
				if id == p {
					found = true
					break
				}
			}
			if !found {
				ids = append(ids, p)
			}
		}
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		entry := TrackerEntry{Index: i, Hidden: m.Hidden, Locked: m.Locked}
		for _, id := range ids {
			entry.Members = append(entry.Members, TrackerMember{ID: id, Present: m.HasPresent(id)})
		}
		out[i] = entry
	}
	return out, nil
}

func (e *Engine) onSettingsPut(ev *queue.Event) error {
	var s models.Settings
	if err := json.Unmarshal(ev.Payload, &s); err != nil {
		return fmt.Errorf("invalid settings payload: %w", err)
	}
	e.settings = s
	if err := store.SaveSettings(s); err != nil {
		logger.Error("settings_persist_failed", "error", err)
		return err
	}
	logger.Info("settings_updated", "enabled", s.Enabled, "see_last", s.SeeLast, "include_muted", s.IncludeMuted, "universal_tracker", s.UniversalTracker)
	return nil
}

// markDirty schedules a debounced persist for the conversation.
func (e *Engine) markDirty(conv *conversation) {
	conv.dirty = true
	if conv.timer != nil {
		conv.timer.Stop()
	}
	id := conv.id
	conv.timer = time.AfterFunc(e.debounce, func() {
		// re-enter through the queue so the write observes settled state
		_ = e.q.TryEnqueue(&queue.Event{Kind: queue.KindPersist, Conversation: id})
	})
}

// onPersist writes the conversation back to the store. Fire-and-forget:
// failures are logged, not retried.
func (e *Engine) onPersist(convID string) {
	conv, ok := e.convs[convID]
	if !ok || !conv.dirty {
		return
	}
	e.flush(conv)
}

func (e *Engine) flush(conv *conversation) {
	msgs := make([]models.Message, len(conv.msgs))
	for i, m := range conv.msgs {
		msgs[i] = *m
	}
	if err := store.SaveMessages(conv.id, msgs); err != nil {
		logger.Error("persist_messages_failed", "conversation", conv.id, "error", err)
		return
	}
	if err := store.SaveMeta(conv.id, conv.meta); err != nil {
		logger.Error("persist_meta_failed", "conversation", conv.id, "error", err)
		return
	}
	conv.dirty = false
	telemetry.PersistFlushes.Inc()
	logger.Debug("conversation_persisted", "conversation", conv.id, "messages", len(msgs))
}
