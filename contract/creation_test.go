package contract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func newCreationFixture(t *testing.T) (*CreationService, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	svc := NewCreationService(&fakeCreationPool{}, store, passthroughSanitizer{})
	svc.now = func() time.Time { return testNow }
	return svc, store
}

func testParties(t *testing.T) (PartyInfo, PartyInfo) {
	t.Helper()
	first, err := NewPartyInfo("Alice First", "alice@example.com", "")
	if err != nil {
		t.Fatalf("first party: %v", err)
	}
	second, err := NewPartyInfo("Bob Second", "bob@example.com", "")
	if err != nil {
		t.Fatalf("second party: %v", err)
	}
	return first, second
}

func TestCreationService_Create(t *testing.T) {
	svc, store := newCreationFixture(t)
	first, second := testParties(t)

	ct, err := svc.Create(context.Background(), CreateParams{
		CreatorID:   "creator-1",
		Title:       "Consulting Agreement",
		Content:     "<p>Dear {{clientName}}, scope: {{scope}}</p>",
		Variables:   map[string]string{"clientName": "Bob", "scope": "audit"},
		FirstParty:  first,
		SecondParty: second,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if ct.Status != StatusDraft {
		t.Fatalf("expected DRAFT, got %s", ct.Status)
	}
	if !strings.Contains(ct.Content, "Dear Bob") || !strings.Contains(ct.Content, "scope: audit") {
		t.Fatalf("expected rendered variables, got %q", ct.Content)
	}
	if _, err := store.GetByID(context.Background(), ct.ID); err != nil {
		t.Fatalf("expected persisted draft: %v", err)
	}
}

func TestCreationService_CreateSanitizes(t *testing.T) {
	store := newFakeStore()
	svc := NewCreationService(&fakeCreationPool{}, store, strippingSanitizer{})
	svc.now = func() time.Time { return testNow }
	first, second := testParties(t)

	ct, err := svc.Create(context.Background(), CreateParams{
		CreatorID:   "creator-1",
		Title:       "T",
		Content:     `<p>ok</p><script>alert(1)</script>`,
		FirstParty:  first,
		SecondParty: second,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if strings.Contains(ct.Content, "script") {
		t.Fatalf("expected script stripped, got %q", ct.Content)
	}
}

func TestCreationService_UpdateOwnerOnly(t *testing.T) {
	svc, _ := newCreationFixture(t)
	first, second := testParties(t)

	ct, err := svc.Create(context.Background(), CreateParams{
		CreatorID: "creator-1", Title: "T", Content: "b",
		FirstParty: first, SecondParty: second,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	title := "Renamed"
	if _, err := svc.Update(context.Background(), ct.ID, "intruder", UpdateParams{Title: &title}); !IsAuthorization(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	updated, err := svc.Update(context.Background(), ct.ID, "creator-1", UpdateParams{Title: &title})
	if err != nil {
		t.Fatalf("owner update: %v", err)
	}
	if updated.Title != "Renamed" {
		t.Fatalf("expected title updated, got %q", updated.Title)
	}
}

func TestCreationService_DeleteDraftOnly(t *testing.T) {
	svc, store := newCreationFixture(t)
	first, second := testParties(t)

	ct, err := svc.Create(context.Background(), CreateParams{
		CreatorID: "creator-1", Title: "T", Content: "b",
		FirstParty: first, SecondParty: second,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Delete(context.Background(), ct.ID, "intruder"); !IsAuthorization(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	store.contracts[ct.ID].Status = StatusPending
	if err := svc.Delete(context.Background(), ct.ID, "creator-1"); !IsValidation(err) {
		t.Fatalf("expected validation error for non-draft, got %v", err)
	}

	store.contracts[ct.ID].Status = StatusDraft
	if err := svc.Delete(context.Background(), ct.ID, "creator-1"); err != nil {
		t.Fatalf("delete draft: %v", err)
	}
	if _, err := store.GetByID(context.Background(), ct.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(rawHTML string) string { return rawHTML }

type strippingSanitizer struct{}

func (strippingSanitizer) Sanitize(rawHTML string) string {
	if i := strings.Index(rawHTML, "<script"); i >= 0 {
		return rawHTML[:i]
	}
	return rawHTML
}

type fakeStore struct {
	contracts map[string]*Contract
}

func newFakeStore() *fakeStore {
	return &fakeStore{contracts: make(map[string]*Contract)}
}

func (f *fakeStore) Create(ctx context.Context, c *Contract) error {
	f.contracts[c.ID] = c
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*Contract, error) {
	c, ok := f.contracts[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (f *fakeStore) Save(ctx context.Context, tx pgx.Tx, c *Contract) error {
	stored, ok := f.contracts[c.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != c.Version {
		return ErrVersionConflict
	}
	c.Version++
	copied := *c
	f.contracts[c.ID] = &copied
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	delete(f.contracts, id)
	return nil
}

type fakeCreationPool struct{}

func (f *fakeCreationPool) Begin(ctx context.Context) (pgx.Tx, error) {
	return &creationTx{}, nil
}

type creationTx struct{}

func (creationTx) Begin(context.Context) (pgx.Tx, error) { return nil, errors.New("nested tx") }
func (creationTx) Commit(context.Context) error          { return nil }
func (creationTx) Rollback(context.Context) error        { return nil }
func (creationTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (creationTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { panic("not implemented") }
func (creationTx) LargeObjects() pgx.LargeObjects                         { panic("not implemented") }
func (creationTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (creationTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (creationTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (creationTx) QueryRow(context.Context, string, ...any) pgx.Row { panic("not implemented") }
func (creationTx) Conn() *pgx.Conn                                  { return nil }
