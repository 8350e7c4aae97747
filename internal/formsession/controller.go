// Package formsession drives the edit/submit/confirm lifecycle of one
// mounted intake form: field seeding from the draft cache tiers, debounced
// write-back, completeness gating, and the prefill negotiation.
package formsession

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"filings/api/internal/catalog"
	"filings/api/internal/draft"
	"filings/api/internal/limits"
	"filings/api/internal/store"
	"filings/api/internal/util"
)

// State is the explicit lifecycle state of a form session. Read-only and
// confirm-mode framing derive from it, so illegal combinations such as
// "completed but editable" are unrepresentable.
type State string

const (
	StateUnselected State = "unselected"
	StateEditing    State = "editing"
	StateReviewing  State = "reviewing"
	StateConfirmed  State = "confirmed"
)

var (
	// ErrWrongState rejects a transition not permitted from the current state.
	ErrWrongState = errors.New("operation not permitted in current state")
	// ErrSaveInFlight prevents duplicate concurrent saves.
	ErrSaveInFlight = errors.New("save already in progress")
	// ErrSaveStalled reports a save that exceeded the watchdog without
	// resolving. The underlying request is not cancelled.
	ErrSaveStalled = errors.New("save taking longer than usual")
	// ErrUnauthenticated rejects operations without a resolved user.
	ErrUnauthenticated = errors.New("no authenticated user")
	// ErrUnknownField rejects an edit whose title is not in the bound form
	// type's field set. Values only ever hold catalog keys.
	ErrUnknownField = errors.New("field does not belong to this form")
)

// IncompleteError carries the core fields still blank when Submit was
// rejected.
type IncompleteError struct {
	Missing []string
}

func (e *IncompleteError) Error() string {
	return "required fields incomplete: " + strings.Join(e.Missing, ", ")
}

// DraftStore is the remote, authoritative draft store.
type DraftStore interface {
	GetDraft(ctx context.Context, userID, orderID, formType string) (store.DraftRecord, error)
	GetMostRecentDraft(ctx context.Context, userID, formType string) (store.DraftRecord, error)
	GetMostRecentDraftAnyType(ctx context.Context, userID string) (store.DraftRecord, error)
	UpsertDraft(ctx context.Context, rec store.DraftRecord) error
}

// LocalCache is the fast local tier seeded before the remote read.
type LocalCache interface {
	Seed(ctx context.Context, key draft.Key) (draft.Values, bool, error)
	Put(ctx context.Context, key draft.Key, values draft.Values) error
	Purge(ctx context.Context, key draft.Key) error
}

// Notifier is the optional side-channel for user-visible feedback. The
// session works without one.
type Notifier interface {
	Notify(level, message string)
}

// Config enumerates the session knobs explicitly instead of reading ambient
// flags.
type Config struct {
	DebounceInterval time.Duration
	SaveTimeout      time.Duration
}

// Controller owns the draft record and attachment references for one mounted
// form. No other component mutates them while the session is open.
type Controller struct {
	cfg    Config
	remote DraftStore
	cache  LocalCache
	notify Notifier

	mu          sync.Mutex
	key         draft.Key
	fields      []catalog.FieldDefinition
	state       State
	values      draft.Values
	nameLists   map[string][]string
	prefill     draft.Values
	generation  int
	saving      bool
	stalled     bool
	closed      bool
	debounce    *draft.Debouncer
	onConfirmed func(values draft.Values)
}

// New creates an unbound controller in the Unselected state.
func New(cfg Config, remote DraftStore, cache LocalCache, notify Notifier) *Controller {
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = 350 * time.Millisecond
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 15 * time.Second
	}
	return &Controller{
		cfg:       cfg,
		remote:    remote,
		cache:     cache,
		notify:    notify,
		state:     StateUnselected,
		values:    draft.Values{},
		nameLists: map[string][]string{},
		debounce:  draft.NewDebouncer(cfg.DebounceInterval),
	}
}

// Bind resolves the form type for this session and seeds values: local cache
// first, then the authoritative remote read chain. Seeding is skipped
// entirely when the in-memory values already hold user input. A remote exact
// hit marked completed while an order is bound puts the session straight into
// the Confirmed state.
func (c *Controller) Bind(ctx context.Context, userID, orderID string, formType catalog.FormType) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUnauthenticated
	}

	c.mu.Lock()
	c.generation++
	c.key = draft.Key{UserID: userID, OrderID: orderID, FormType: formType}
	c.fields = catalog.FieldsFor(formType)
	c.state = StateEditing
	c.prefill = nil
	hasInput := !c.values.AllBlank()
	c.mu.Unlock()

	if hasInput {
		return nil
	}

	seeded := draft.Values{}
	if c.cache != nil {
		if cached, ok, err := c.cache.Seed(ctx, c.draftKey()); err != nil {
			log.Printf("formsession: local seed: %v", err)
		} else if ok {
			seeded = cached.FilterKeys(c.fieldTitles())
		}
	}

	remoteRec, remoteHit, err := c.loadRemote(ctx, userID, orderID, formType)
	if err != nil {
		return err
	}
	if remoteHit {
		// The remote row is the arbiter of truth over anything the local
		// tier seeded.
		seeded = draft.Values(remoteRec.Values).FilterKeys(c.fieldTitles())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if !c.values.AllBlank() {
		// User typed while the load was in flight; discard the seed.
		return nil
	}
	c.values = seeded
	c.rebuildNameLists()
	if remoteHit && remoteRec.Completed && orderID != "" {
		c.state = StateConfirmed
	}
	if !remoteHit && seeded.AllBlank() {
		c.loadPrefillCandidateLocked(ctx, userID, orderID, formType)
	}
	return nil
}

// loadRemote walks the remote read chain: exact row, then (only without an
// order) the freshest row for the form type.
func (c *Controller) loadRemote(ctx context.Context, userID, orderID string, formType catalog.FormType) (store.DraftRecord, bool, error) {
	rec, err := c.remote.GetDraft(ctx, userID, orderID, string(formType))
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.DraftRecord{}, false, fmt.Errorf("load draft: %w", err)
	}
	if orderID != "" {
		return store.DraftRecord{}, false, nil
	}
	rec, err = c.remote.GetMostRecentDraft(ctx, userID, string(formType))
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.DraftRecord{}, false, fmt.Errorf("load fallback draft: %w", err)
	}
	return store.DraftRecord{}, false, nil
}

// loadPrefillCandidateLocked fetches the user's freshest row across all form
// types and keeps the overlap with the current field set as an opt-in
// prefill candidate. Never auto-applied.
func (c *Controller) loadPrefillCandidateLocked(ctx context.Context, userID, orderID string, formType catalog.FormType) {
	rec, err := c.remote.GetMostRecentDraftAnyType(ctx, userID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("formsession: prefill lookup: %v", err)
		}
		return
	}
	if rec.FormType == string(formType) && rec.OrderID == orderID {
		return
	}
	candidate := draft.Values(rec.Values).FilterKeys(c.fieldTitlesLocked())
	if len(candidate) == 0 || candidate.AllBlank() {
		return
	}
	c.prefill = candidate
}

// OnConfirmed registers a hook invoked once a confirming save lands in the
// authoritative store, including saves that outlived the watchdog. Set it
// before the first Confirm.
func (c *Controller) OnConfirmed(fn func(values draft.Values)) {
	c.mu.Lock()
	c.onConfirmed = fn
	c.mu.Unlock()
}

// SetField applies one edit in Editing state, enforcing the field's text
// budget and scheduling a debounced cache write-back. Titles outside the
// bound field set are rejected, matching the seed-path filter.
func (c *Controller) SetField(title, raw string) error {
	c.mu.Lock()
	if c.state != StateEditing {
		c.mu.Unlock()
		return ErrWrongState
	}
	if !c.knownFieldLocked(title) {
		c.mu.Unlock()
		return ErrUnknownField
	}
	enforced := limits.Enforce(title, raw)
	c.values[title] = enforced
	if catalog.IsNameList(title) {
		c.nameLists[title] = draft.SplitNames(enforced)
	}
	c.mu.Unlock()

	c.scheduleWriteBack()
	return nil
}

// NameRows returns the ordered name list for a multi-author field, always at
// least one row.
func (c *Controller) NameRows(title string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := c.nameLists[title]
	if len(rows) == 0 {
		return []string{""}
	}
	out := make([]string, len(rows))
	copy(out, rows)
	return out
}

// SetNameRow edits one position of a multi-author list and re-serializes the
// backing value as newline-joined non-blank entries.
func (c *Controller) SetNameRow(title string, index int, value string) error {
	c.mu.Lock()
	if c.state != StateEditing {
		c.mu.Unlock()
		return ErrWrongState
	}
	if !c.knownFieldLocked(title) {
		c.mu.Unlock()
		return ErrUnknownField
	}
	rows := c.nameLists[title]
	if len(rows) == 0 {
		rows = []string{""}
	}
	if index < 0 || index >= len(rows) {
		c.mu.Unlock()
		return fmt.Errorf("name row %d out of range", index)
	}
	rows[index] = value
	c.nameLists[title] = rows
	c.values[title] = draft.JoinNames(rows)
	c.mu.Unlock()

	c.scheduleWriteBack()
	return nil
}

// AddNameRow appends a blank row for display.
func (c *Controller) AddNameRow(title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateEditing {
		return ErrWrongState
	}
	if !c.knownFieldLocked(title) {
		return ErrUnknownField
	}
	c.nameLists[title] = append(c.nameLists[title], "")
	return nil
}

// RemoveNameRow deletes one row, keeping at least one for display, and
// re-serializes.
func (c *Controller) RemoveNameRow(title string, index int) error {
	c.mu.Lock()
	if c.state != StateEditing {
		c.mu.Unlock()
		return ErrWrongState
	}
	if !c.knownFieldLocked(title) {
		c.mu.Unlock()
		return ErrUnknownField
	}
	rows := c.nameLists[title]
	if index < 0 || index >= len(rows) {
		c.mu.Unlock()
		return fmt.Errorf("name row %d out of range", index)
	}
	rows = append(rows[:index], rows[index+1:]...)
	if len(rows) == 0 {
		rows = []string{""}
	}
	c.nameLists[title] = rows
	c.values[title] = draft.JoinNames(rows)
	c.mu.Unlock()

	c.scheduleWriteBack()
	return nil
}

// Submit moves Editing to Reviewing, gated on every core field being
// non-blank. Rejection leaves the state unchanged.
func (c *Controller) Submit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateEditing {
		return ErrWrongState
	}
	if missing := c.missingCoreLocked(); len(missing) > 0 {
		return &IncompleteError{Missing: missing}
	}
	c.state = StateReviewing
	return nil
}

// Confirm persists the reviewed values with completed=true. On success the
// exact-key local cache entry is purged so finalized answers cannot come back
// as a draft. A watchdog surfaces a stalled save without cancelling it.
func (c *Controller) Confirm(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateReviewing {
		c.mu.Unlock()
		return ErrWrongState
	}
	if missing := c.missingCoreLocked(); len(missing) > 0 {
		// Inconsistent confirm framing; fall back to editing.
		c.state = StateEditing
		c.mu.Unlock()
		return &IncompleteError{Missing: missing}
	}
	c.mu.Unlock()
	return c.persist(true)
}

// Save persists the current values as an in-progress draft, explicitly
// completed=false so a later refill cannot leave a stale completed flag
// standing.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateEditing {
		c.mu.Unlock()
		return ErrWrongState
	}
	c.mu.Unlock()
	return c.persist(false)
}

// Edit discards confirm framing and returns to the editable state without
// touching field values.
func (c *Controller) Edit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateReviewing, StateConfirmed:
		c.state = StateEditing
		return nil
	}
	return ErrWrongState
}

// Refill clears every field value and resets multi-author lists to a single
// blank row. The form type and order binding are untouched. If the session
// was in confirm or review framing, the now-blank core fields force it back
// to Editing.
func (c *Controller) Refill() error {
	c.mu.Lock()
	if c.state == StateUnselected {
		c.mu.Unlock()
		return ErrWrongState
	}
	c.values = draft.Values{}
	for title := range c.nameLists {
		c.nameLists[title] = []string{""}
	}
	c.reconcileLocked()
	c.mu.Unlock()

	// All-blank values are never written to the cache, so no write-back.
	return nil
}

// PrefillAvailable reports whether a prior submission from a different
// context can be offered. It stays false whenever the current values hold
// any user input.
func (c *Controller) PrefillAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefill != nil && !c.prefill.AllBlank() && c.values.AllBlank()
}

// ApplyPrefill merges the candidate under existing values (existing wins on
// collision) and clears the candidate so it cannot be reapplied. Strictly
// user-initiated.
func (c *Controller) ApplyPrefill() error {
	c.mu.Lock()
	if c.state != StateEditing {
		c.mu.Unlock()
		return ErrWrongState
	}
	if c.prefill == nil || !c.values.AllBlank() {
		c.mu.Unlock()
		return ErrWrongState
	}
	for k, v := range c.prefill {
		if existing, ok := c.values[k]; ok && strings.TrimSpace(existing) != "" {
			continue
		}
		c.values[k] = v
	}
	c.prefill = nil
	c.rebuildNameLists()
	c.mu.Unlock()

	c.scheduleWriteBack()
	return nil
}

// Snapshot is the render-facing view of the session.
type Snapshot struct {
	Key         draft.Key
	State       State
	ReadOnly    bool
	ConfirmMode bool
	Completed   bool
	Values      draft.Values
	Missing     []string
	Prefill     bool
	SaveStalled bool
}

// View returns a consistent snapshot of the session state.
func (c *Controller) View() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Key:         c.key,
		State:       c.state,
		ReadOnly:    c.state == StateReviewing || c.state == StateConfirmed,
		ConfirmMode: c.state == StateReviewing || c.state == StateConfirmed,
		Completed:   c.state == StateConfirmed,
		Values:      c.values.Clone(),
		Missing:     c.missingCoreLocked(),
		Prefill:     c.prefill != nil && !c.prefill.AllBlank() && c.values.AllBlank(),
		SaveStalled: c.stalled,
	}
}

// Fields returns the resolved field definitions for the bound form type.
func (c *Controller) Fields() []catalog.FieldDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]catalog.FieldDefinition, len(c.fields))
	copy(out, c.fields)
	return out
}

// Close stops applying state updates from any in-flight work for this
// session. Already-issued writes are left to finish; losing a debounced
// draft write is acceptable.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.generation++
	c.mu.Unlock()
	c.debounce.Stop()
}

// persist runs the remote upsert with the save watchdog. The save itself
// runs detached so navigating away cannot abort a user-triggered confirm.
func (c *Controller) persist(completed bool) error {
	c.mu.Lock()
	if c.saving {
		c.mu.Unlock()
		return ErrSaveInFlight
	}
	c.saving = true
	c.stalled = false
	gen := c.generation
	rec := store.DraftRecord{
		ID:        util.NewID("draft"),
		UserID:    c.key.UserID,
		OrderID:   c.key.OrderID,
		FormType:  string(c.key.FormType),
		Values:    c.values.Clone(),
		Completed: completed,
	}
	key := c.key
	c.mu.Unlock()

	// A pending debounced write must not land after the authoritative save.
	c.debounce.Cancel()

	done := make(chan error, 1)
	go func() {
		saveCtx, cancel := context.WithTimeout(context.Background(), 4*c.cfg.SaveTimeout)
		defer cancel()
		err := c.remote.UpsertDraft(saveCtx, rec)
		c.finishSave(gen, key, completed, rec.Values, err)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(c.cfg.SaveTimeout):
		c.mu.Lock()
		c.stalled = true
		c.mu.Unlock()
		c.notifyf("warning", "Save taking longer than usual")
		return ErrSaveStalled
	}
}

// finishSave applies the save outcome unless the session has moved on to a
// different context; stale results are discarded silently. The confirm hook
// still fires for a stale confirming save: the row is completed in the
// store either way.
func (c *Controller) finishSave(gen int, key draft.Key, completed bool, values draft.Values, err error) {
	c.mu.Lock()
	c.saving = false
	c.stalled = false
	current := gen == c.generation && !c.closed
	hook := c.onConfirmed
	if err == nil && completed && current {
		c.state = StateConfirmed
	}
	c.mu.Unlock()

	if err != nil {
		log.Printf("formsession: save %s: %v", key.String(), err)
		if current {
			c.notifyf("error", "Save failed, please retry")
		}
		return
	}
	if completed && c.cache != nil {
		purgeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if purgeErr := c.cache.Purge(purgeCtx, key); purgeErr != nil {
			log.Printf("formsession: purge draft cache %s: %v", key.String(), purgeErr)
		}
	}
	if completed {
		if hook != nil {
			hook(values)
		}
		if current {
			c.notifyf("success", "Answers submitted")
		}
	}
}

// scheduleWriteBack restarts the debounce window for the local cache write.
// The fired write checks the session generation so a write scheduled before
// a rebind or close cannot land on the new context.
func (c *Controller) scheduleWriteBack() {
	c.mu.Lock()
	gen := c.generation
	key := c.key
	values := c.values.Clone()
	c.mu.Unlock()

	if c.cache == nil || values.AllBlank() {
		return
	}
	c.debounce.Trigger(func() {
		c.mu.Lock()
		stale := gen != c.generation || c.closed
		c.mu.Unlock()
		if stale {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.cache.Put(ctx, key, values); err != nil {
			log.Printf("formsession: cache write-back %s: %v", key.String(), err)
		}
	})
}

// reconcileLocked drops an inconsistent confirm/review framing once core
// fields are no longer complete.
func (c *Controller) reconcileLocked() {
	if c.state != StateReviewing && c.state != StateConfirmed {
		return
	}
	if len(c.missingCoreLocked()) > 0 {
		c.state = StateEditing
	}
}

func (c *Controller) missingCoreLocked() []string {
	var missing []string
	for _, def := range c.fields {
		if !catalog.IsCore(def.Title) {
			continue
		}
		if strings.TrimSpace(c.values[def.Title]) == "" {
			missing = append(missing, def.Title)
		}
	}
	return missing
}

func (c *Controller) rebuildNameLists() {
	for _, def := range c.fields {
		if !catalog.IsNameList(def.Title) {
			continue
		}
		c.nameLists[def.Title] = draft.SplitNames(c.values[def.Title])
	}
}

func (c *Controller) fieldTitles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fieldTitlesLocked()
}

func (c *Controller) knownFieldLocked(title string) bool {
	for _, def := range c.fields {
		if def.Title == title {
			return true
		}
	}
	return false
}

func (c *Controller) fieldTitlesLocked() []string {
	titles := make([]string, 0, len(c.fields))
	for _, def := range c.fields {
		titles = append(titles, def.Title)
	}
	return titles
}

func (c *Controller) draftKey() draft.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

func (c *Controller) notifyf(level, message string) {
	if c.notify == nil {
		return
	}
	c.notify.Notify(level, message)
}
