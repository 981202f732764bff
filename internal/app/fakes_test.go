package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"access_grant_service/internal/app/constraint"
	"access_grant_service/internal/domain/campaign"
	"access_grant_service/internal/domain/grant"
	"access_grant_service/internal/domain/push"
	"access_grant_service/internal/domain/user"
	"access_grant_service/internal/infra/clock"
	"access_grant_service/internal/infra/metrics"
)

// memGrants is an in-memory grant.Repository. Transitions check their
// guard and write under one lock, like the conditional UPDATEs do.
type memGrants struct {
	mu     sync.Mutex
	grants map[string]*grant.Grant
	events []*grant.Event
}

func newMemGrants() *memGrants {
	return &memGrants{grants: map[string]*grant.Grant{}}
}

func cloneGrant(g *grant.Grant) *grant.Grant {
	c := *g
	return &c
}

func (r *memGrants) Create(_ context.Context, g *grant.Grant, ev *grant.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.grants[g.ID]; ok {
		return fmt.Errorf("duplicate grant %s", g.ID)
	}
	r.grants[g.ID] = cloneGrant(g)
	r.events = append(r.events, ev)
	return nil
}

func (r *memGrants) GetByID(_ context.Context, id string) (*grant.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.grants[id]
	if !ok {
		return nil, grant.ErrGrantNotFound
	}
	return cloneGrant(g), nil
}

func (r *memGrants) update(id string, ev *grant.Event, guard func(*grant.Grant) bool, apply func(*grant.Grant)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.grants[id]
	if !ok || !guard(g) {
		return false, nil
	}
	apply(g)
	r.events = append(r.events, ev)
	return true, nil
}

func (r *memGrants) SetRecipient(_ context.Context, id, recipientUserID string, at time.Time, ev *grant.Event) (bool, error) {
	return r.update(id, ev,
		func(g *grant.Grant) bool {
			return (!g.RecipientUserID.Valid || g.RecipientUserID.String != recipientUserID) && !g.IsTerminal()
		},
		func(g *grant.Grant) {
			g.RecipientUserID = sql.NullString{String: recipientUserID, Valid: true}
			g.UpdatedAt = at
		})
}

func (r *memGrants) Revoke(_ context.Context, id string, at time.Time, ev *grant.Event) (bool, error) {
	return r.update(id, ev,
		func(g *grant.Grant) bool { return !g.RevokedAt.Valid && !g.InvalidatedAt.Valid },
		func(g *grant.Grant) {
			g.RevokedAt = sql.NullTime{Time: at, Valid: true}
			g.UpdatedAt = at
		})
}

func (r *memGrants) Invalidate(_ context.Context, id string, at time.Time, ev *grant.Event) (bool, error) {
	return r.update(id, ev,
		func(g *grant.Grant) bool { return !g.InvalidatedAt.Valid },
		func(g *grant.Grant) {
			g.InvalidatedAt = sql.NullTime{Time: at, Valid: true}
			g.UpdatedAt = at
		})
}

func (r *memGrants) MarkFollowedUp(_ context.Context, id string, at time.Time, ev *grant.Event) (bool, error) {
	return r.update(id, ev,
		func(g *grant.Grant) bool { return !g.FollowupAt.Valid && g.InvalidatedAt.Valid },
		func(g *grant.Grant) {
			g.FollowupAt = sql.NullTime{Time: at, Valid: true}
			g.UpdatedAt = at
		})
}

func (r *memGrants) find(match func(*grant.Grant) bool) []*grant.Grant {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*grant.Grant
	for _, g := range r.grants {
		if match(g) {
			out = append(out, cloneGrant(g))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func inWindow(g *grant.Grant, now time.Time) bool {
	return !now.Before(g.BeginAt) && now.Before(g.EndAt)
}

func (r *memGrants) FindUnassigned(_ context.Context, now time.Time) ([]*grant.Grant, error) {
	return r.find(func(g *grant.Grant) bool {
		return !g.RecipientUserID.Valid && inWindow(g, now) && !g.IsTerminal()
	}), nil
}

func (r *memGrants) FindUnassignedByEmail(_ context.Context, email string, now time.Time) ([]*grant.Grant, error) {
	return r.find(func(g *grant.Grant) bool {
		return g.Email == email && !g.RecipientUserID.Valid && inWindow(g, now) && !g.IsTerminal()
	}), nil
}

func (r *memGrants) FindByGrantee(_ context.Context, granteeUserID, campaignID string, filter grant.GranteeFilter, now time.Time) ([]*grant.Grant, error) {
	return r.find(func(g *grant.Grant) bool {
		return g.GranteeUserID == granteeUserID && g.CampaignID == campaignID && filter.Matches(g, now)
	}), nil
}

func (r *memGrants) FindByRecipient(_ context.Context, recipientUserID string, withPast bool, now time.Time) ([]*grant.Grant, error) {
	return r.find(func(g *grant.Grant) bool {
		return g.RecipientUserID.Valid && g.RecipientUserID.String == recipientUserID &&
			!now.Before(g.BeginAt) && (withPast || now.Before(g.EndAt)) && !g.InvalidatedAt.Valid
	}), nil
}

func (r *memGrants) FindActiveByEmail(_ context.Context, campaignID, email string, now time.Time) ([]*grant.Grant, error) {
	return r.find(func(g *grant.Grant) bool {
		return g.CampaignID == campaignID && g.Email == email && g.IsActive(now)
	}), nil
}

func (r *memGrants) FindExpired(_ context.Context, now time.Time) ([]*grant.Grant, error) {
	return r.find(func(g *grant.Grant) bool { return g.EndAt.Before(now) && !g.InvalidatedAt.Valid }), nil
}

func (r *memGrants) FindRevokedNotInvalidated(context.Context) ([]*grant.Grant, error) {
	return r.find(func(g *grant.Grant) bool { return g.RevokedAt.Valid && !g.InvalidatedAt.Valid }), nil
}

func (r *memGrants) FindFollowupDue(_ context.Context, campaignID string, invalidatedBefore time.Time) ([]*grant.Grant, error) {
	return r.find(func(g *grant.Grant) bool {
		return g.CampaignID == campaignID && g.InvalidatedAt.Valid && g.InvalidatedAt.Time.Before(invalidatedBefore) && !g.FollowupAt.Valid
	}), nil
}

func (r *memGrants) ListEvents(_ context.Context, grantID string) ([]*grant.Event, error) {
	return r.eventsOf(grantID), nil
}

func (r *memGrants) eventsOf(grantID string) []*grant.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*grant.Event
	for _, ev := range r.events {
		if ev.GrantID == grantID {
			out = append(out, ev)
		}
	}
	return out
}

func (r *memGrants) countEvents(grantID string, t grant.EventType) int {
	n := 0
	for _, ev := range r.eventsOf(grantID) {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *memGrants) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.grants)
}

// put stores g directly, bypassing Create.
func (r *memGrants) put(g *grant.Grant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants[g.ID] = cloneGrant(g)
}

type memCampaigns map[string]*campaign.Campaign

func (m memCampaigns) GetByID(_ context.Context, id string) (*campaign.Campaign, error) {
	c, ok := m[id]
	if !ok {
		return nil, campaign.ErrCampaignNotFound
	}
	return c, nil
}

func (m memCampaigns) ListWithFollowup(context.Context) ([]*campaign.Campaign, error) {
	var out []*campaign.Campaign
	for _, c := range m {
		if !c.EmailFollowup.IsZero() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memUsers struct {
	mu    sync.Mutex
	users map[string]*user.User
}

func newMemUsers(users ...*user.User) *memUsers {
	m := &memUsers{users: map[string]*user.User{}}
	for _, u := range users {
		m.add(u)
	}
	return m
}

func (m *memUsers) add(u *user.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *memUsers) GetByID(_ context.Context, id string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, user.ErrUserNotFound
}

func (m *memUsers) GetByTelegramChatID(_ context.Context, chatID int64) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.TelegramChatID.Valid && u.TelegramChatID.Int64 == chatID {
			return u, nil
		}
	}
	return nil, user.ErrUserNotFound
}

// fakeRoles tracks the member role per user id. Paid memberships are
// configured directly; grant-based access is read from the grant store.
type fakeRoles struct {
	mu      sync.Mutex
	members map[string]bool
	paid    map[string]bool
	grants  *memGrants
	clock   clock.Clock
	added   int
	removed int
}

func newFakeRoles(grants *memGrants, clk clock.Clock) *fakeRoles {
	return &fakeRoles{members: map[string]bool{}, paid: map[string]bool{}, grants: grants, clock: clk}
}

func (f *fakeRoles) AddMemberRole(_ context.Context, _ *grant.Grant, u *user.User) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[u.ID] {
		return false, nil
	}
	f.members[u.ID] = true
	f.added++
	return true, nil
}

func (f *fakeRoles) RemoveMemberRole(ctx context.Context, g *grant.Grant, u *user.User, lookup grant.RecipientLookup) (bool, error) {
	others, err := lookup(ctx, u.ID, false)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paid[u.ID] {
		return false, nil
	}
	for _, o := range others {
		if o.ID != g.ID && o.IsActive(f.clock.Now()) {
			return false, nil
		}
	}
	if !f.members[u.ID] {
		return false, nil
	}
	delete(f.members, u.ID)
	f.removed++
	return true, nil
}

func (f *fakeRoles) HasActiveMembership(ctx context.Context, u *user.User) (bool, error) {
	f.mu.Lock()
	paid := f.paid[u.ID]
	f.mu.Unlock()
	if paid {
		return true, nil
	}
	now := f.clock.Now()
	grants, _ := f.grants.FindByRecipient(ctx, u.ID, false, now)
	for _, g := range grants {
		if g.IsActive(now) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRoles) isMember(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[userID]
}

type sentMail struct {
	kind        string
	granteeID   string
	recipientID string
	grantID     string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) record(s sentMail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, s)
	return nil
}

func (m *fakeMailer) SendRecipientOnboarding(_ context.Context, grantee *user.User, _ *campaign.Campaign, g *grant.Grant) error {
	return m.record(sentMail{kind: "onboarding", granteeID: grantee.ID, grantID: g.ID})
}

func (m *fakeMailer) SendRecipientExpired(_ context.Context, grantee *user.User, _ *campaign.Campaign, recipient *user.User, g *grant.Grant) error {
	return m.record(sentMail{kind: "expired", granteeID: grantee.ID, recipientID: recipient.ID, grantID: g.ID})
}

func (m *fakeMailer) SendRecipientFollowup(_ context.Context, grantee *user.User, _ *campaign.Campaign, recipient *user.User, g *grant.Grant) error {
	return m.record(sentMail{kind: "followup", granteeID: grantee.ID, recipientID: recipient.ID, grantID: g.ID})
}

func (m *fakeMailer) EnforceSubscriptions(_ context.Context, userID string) error {
	return m.record(sentMail{kind: "subscriptions", recipientID: userID})
}

func (m *fakeMailer) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.kind == kind {
			n++
		}
	}
	return n
}

type fakePush struct {
	mu   sync.Mutex
	msgs []push.Message
}

func (p *fakePush) Publish(_ context.Context, msg push.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

type fakeEvents struct {
	mu   sync.Mutex
	sent []grant.EventType
	err  error
}

func (p *fakeEvents) Publish(_ context.Context, _ *grant.Grant, ev *grant.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, ev.Type)
	return nil
}

// echoTranslator renders the key and the sorted params.
type echoTranslator struct{}

func (echoTranslator) T(key string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := key
	for _, k := range keys {
		out += fmt.Sprintf(" %s=%v", k, params[k])
	}
	return out
}

var (
	t0         = time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)
	day        = 24 * time.Hour
	errBoom    = errors.New("boom")
	oneYear    = campaign.Interval{{Unit: campaign.UnitYears, Count: 1}}
	oneMonth   = campaign.Interval{{Unit: campaign.UnitMonths, Count: 1}}
	sevenDays  = campaign.Interval{{Unit: campaign.UnitDays, Count: 7}}
	memberRole = []campaign.ConstraintSpec{{Name: constraint.NameRequireRole, Settings: map[string]any{"role": user.RoleMember}}}
)

type harness struct {
	clock     *clock.Fake
	grants    *memGrants
	users     *memUsers
	campaigns memCampaigns
	roles     *fakeRoles
	mailer    *fakeMailer
	push      *fakePush
	events    *fakeEvents
	metrics   *metrics.Metrics
	svc       *GrantService
	queries   *GrantQueries
	sweeps    *SweepService

	grantee   *user.User
	recipient *user.User
	admin     *user.User
	stranger  *user.User
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:  clock.NewFake(t0),
		grants: newMemGrants(),
		campaigns: memCampaigns{
			"open": {ID: "open", Name: "open", PeriodInterval: oneYear},
			"members": {
				ID: "members", Name: "members", PeriodInterval: oneMonth,
				Constraints: memberRole, EmailFollowup: sevenDays,
			},
		},
		mailer:  &fakeMailer{},
		push:    &fakePush{},
		events:  &fakeEvents{},
		metrics: metrics.New(prometheus.NewRegistry()),

		grantee:   &user.User{ID: "u-grantee", Email: "grantee@example.com", FirstName: "Grace", Roles: []string{user.RoleMember}},
		recipient: &user.User{ID: "u-recipient", Email: "friend@example.com", FirstName: "Fred", TelegramChatID: sql.NullInt64{Int64: 42, Valid: true}},
		admin:     &user.User{ID: "u-admin", Email: "admin@example.com", Roles: []string{user.RoleAdmin}},
		stranger:  &user.User{ID: "u-stranger", Email: "stranger@example.com", Roles: []string{user.RoleMember}},
	}
	h.users = newMemUsers(h.grantee, h.admin, h.stranger)
	h.roles = newFakeRoles(h.grants, h.clock)

	registry, err := constraint.NewDefaultRegistry()
	if err != nil {
		t.Fatal(err)
	}
	h.svc = NewGrantService(GrantServiceDeps{
		Grants:     h.grants,
		Campaigns:  h.campaigns,
		Users:      h.users,
		Roles:      h.roles,
		Mailer:     h.mailer,
		Push:       h.push,
		Events:     h.events,
		Evaluator:  constraint.NewEvaluator(registry, h.grants, testLogger()),
		Translator: echoTranslator{},
		Clock:      h.clock,
		Metrics:    h.metrics,
		Logger:     testLogger(),
	})
	h.queries = NewGrantQueries(h.grants, h.clock)
	h.sweeps = NewSweepService(h.svc, h.queries, h.campaigns, 4, h.metrics, testLogger())
	return h
}

// signUp registers the recipient account.
func (h *harness) signUp() {
	h.users.add(h.recipient)
}

func (h *harness) create(t *testing.T, campaignID, email string) *grant.Grant {
	t.Helper()
	g, err := h.svc.Create(context.Background(), h.grantee, campaignID, email, echoTranslator{})
	if err != nil {
		t.Fatalf("Create(%s, %s) error = %v", campaignID, email, err)
	}
	return g
}

func (h *harness) reload(t *testing.T, id string) *grant.Grant {
	t.Helper()
	g, err := h.grants.GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return g
}
