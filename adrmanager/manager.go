package adrmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"codeintel.dev/codeerr"
	"codeintel.dev/knowledgebase"
)

// legalTransitions is the state machine §4.6 draws as a diagram.
var legalTransitions = map[Status]map[Status]bool{
	StatusProposed:    {StatusAccepted: true, StatusDeprecated: true},
	StatusAccepted:    {StatusImplemented: true, StatusDeprecated: true},
	StatusImplemented: {StatusDeprecated: true, StatusSuperseded: true},
	StatusDeprecated:  {StatusSuperseded: true},
	StatusSuperseded:  {},
}

// Manager is C6.
type Manager struct {
	dir string
	kb  *knowledgebase.KnowledgeBase
	log *logrus.Logger

	// numberMu serializes number allocation per §5's "C6 ADR number
	// allocation: serialized through a single allocator mutex."
	numberMu sync.Mutex

	mu      sync.RWMutex
	byID    map[string]ADR
	byNumber map[int]string // number -> id
}

// New constructs a Manager. dir is adr_dir; kb is where ADRs are indexed.
func New(dir string, kb *knowledgebase.KnowledgeBase, log *logrus.Logger) *Manager {
	return &Manager{
		dir:      dir,
		kb:       kb,
		log:      log,
		byID:     make(map[string]ADR),
		byNumber: make(map[int]string),
	}
}

// Initialize scans dir, assigns monotone numbers to any file missing one,
// indexes every ADR into the KnowledgeBase, and runs the superseded-record
// reconciliation §4.6 describes.
func (m *Manager) Initialize(ctx context.Context) error {
	files, err := listFiles(m.dir)
	if err != nil {
		return codeerr.Wrap(codeerr.InternalError, "scanning adr_dir", err)
	}

	maxNumber := 0
	var loaded []ADR
	for _, f := range files {
		a, err := parseFile(m.dir + "/" + f)
		if err != nil {
			m.log.WithError(err).WithField("file", f).Warn("adrmanager: skipping unreadable ADR file")
			continue
		}
		if a.Number > maxNumber {
			maxNumber = a.Number
		}
		loaded = append(loaded, a)
	}

	m.numberMu.Lock()
	nextNumber := maxNumber + 1
	m.numberMu.Unlock()

	for _, a := range loaded {
		if a.Number == 0 {
			m.numberMu.Lock()
			a.Number = nextNumber
			nextNumber++
			m.numberMu.Unlock()
			if err := writeFile(m.dir, a); err != nil {
				m.log.WithError(err).Warn("adrmanager: failed to rewrite ADR with assigned number")
				continue
			}
		}
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		m.mu.Lock()
		m.byID[a.ID] = a
		m.byNumber[a.Number] = a.ID
		m.mu.Unlock()

		if _, err := m.kb.Index(ctx, toPattern(a)); err != nil {
			m.log.WithError(err).WithField("adr_id", a.ID).Warn("adrmanager: failed to index ADR at startup")
		}
	}

	m.reconcile()
	return nil
}

func (m *Manager) Cleanup(ctx context.Context) error { return nil }

func (m *Manager) Status(ctx context.Context) error { return nil }

// reconcile logs (never fails) when a superseded record's successor does
// not cite it back, per §4.6's crash-recovery note.
func (m *Manager) reconcile() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.byID {
		if a.Status != StatusSuperseded {
			continue
		}
		found := false
		for _, other := range m.byID {
			if other.Supersedes == a.ID {
				found = true
				break
			}
		}
		if !found {
			m.log.WithField("adr_id", a.ID).Warn("adrmanager: superseded ADR has no successor citing it; possible crash between the two writes")
		}
	}
}

func toPattern(a ADR) knowledgebase.Pattern {
	return knowledgebase.Pattern{
		ID:        a.ID,
		Kind:      knowledgebase.KindADR,
		Title:     a.Title,
		Body:      a.PatternBody(),
		Tags:      append(append([]string{}, a.Tags...), "status:"+string(a.Status)),
		CreatedAt: a.Date,
		UpdatedAt: time.Now(),
	}
}

// Create allocates the next dense ADR number, writes the file, and indexes
// it into the KnowledgeBase.
func (m *Manager) Create(ctx context.Context, title, decision, adrContext string, tags []string) (ADR, error) {
	if title == "" || decision == "" {
		return ADR{}, codeerr.New(codeerr.ValidationFailed, "title and decision are required")
	}

	m.numberMu.Lock()
	m.mu.RLock()
	number := len(m.byNumber) + 1
	m.mu.RUnlock()
	m.numberMu.Unlock()

	a := ADR{
		ID:       uuid.NewString(),
		Number:   number,
		Slug:     Slugify(title),
		Title:    title,
		Status:   StatusProposed,
		Date:     time.Now(),
		Tags:     tags,
		Context:  adrContext,
		Decision: decision,
	}

	if err := writeFile(m.dir, a); err != nil {
		return ADR{}, codeerr.Wrap(codeerr.InternalError, "writing ADR file", err)
	}
	if _, err := m.kb.Index(ctx, toPattern(a)); err != nil {
		_ = removeFile(m.dir, a.Filename())
		return ADR{}, err
	}

	m.mu.Lock()
	m.byID[a.ID] = a
	m.byNumber[a.Number] = a.ID
	m.mu.Unlock()
	return a, nil
}

// Get returns the ADR by id.
func (m *Manager) Get(id string) (ADR, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return ADR{}, codeerr.New(codeerr.NotFound, "adr not found")
	}
	return a, nil
}

// List returns every ADR ordered by number.
func (m *Manager) List() []ADR {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ADR, 0, len(m.byID))
	for _, a := range m.byID {
		out = append(out, a)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Number < out[i].Number {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// Transition applies a status change, enforcing the legal-transition graph
// of §4.6. A superseded transition requires supersededBy naming the
// successor ADR id, and rewrites the successor first then the predecessor
// so a crash between the two leaves a reconcile-detectable record rather
// than a lost link.
func (m *Manager) Transition(ctx context.Context, id string, newStatus Status, supersededBy string) (ADR, error) {
	m.mu.Lock()
	a, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return ADR{}, codeerr.New(codeerr.NotFound, "adr not found")
	}
	if !legalTransitions[a.Status][newStatus] {
		m.mu.Unlock()
		return ADR{}, codeerr.New(codeerr.ADRIllegalTransition,
			fmt.Sprintf("cannot transition adr from %s to %s", a.Status, newStatus))
	}
	var successor ADR
	if newStatus == StatusSuperseded {
		if supersededBy == "" {
			m.mu.Unlock()
			return ADR{}, codeerr.New(codeerr.ValidationFailed, "superseded transition requires supersededBy")
		}
		var sOK bool
		successor, sOK = m.byID[supersededBy]
		if !sOK {
			m.mu.Unlock()
			return ADR{}, codeerr.New(codeerr.ValidationFailed, "supersededBy references an unknown adr")
		}
	}
	m.mu.Unlock()

	if newStatus == StatusSuperseded {
		successor.Supersedes = id
		if err := writeFile(m.dir, successor); err != nil {
			return ADR{}, codeerr.Wrap(codeerr.InternalError, "rewriting successor ADR", err)
		}
		if _, err := m.kb.Index(ctx, toPattern(successor)); err != nil {
			m.log.WithError(err).Warn("adrmanager: failed to re-index successor after supersede")
		}
		m.mu.Lock()
		m.byID[successor.ID] = successor
		m.mu.Unlock()
	}

	a.Status = newStatus
	if err := writeFile(m.dir, a); err != nil {
		return ADR{}, codeerr.Wrap(codeerr.InternalError, "rewriting ADR file", err)
	}

	// Per the specification's Open Question decision: a status-only change
	// does not alter title/body, so KnowledgeBase.Update receives only the
	// status-tagged metadata. Update then reuses the cached embedding of the
	// unchanged text; it embeds again only if that cache entry is gone.
	statusTags := append(append([]string{}, a.Tags...), "status:"+string(a.Status))
	if _, err := m.kb.Update(ctx, a.ID, map[string]interface{}{"tags": statusTags}); err != nil {
		m.log.WithError(err).Warn("adrmanager: failed to refresh knowledge base metadata after status change")
	}

	m.mu.Lock()
	m.byID[a.ID] = a
	m.mu.Unlock()
	return a, nil
}
