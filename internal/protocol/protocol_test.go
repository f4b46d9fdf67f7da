package protocol

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"math/big"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/push-protocol/push-vnode-sub003/internal/did"
	"github.com/push-protocol/push-vnode-sub003/internal/fanout"
	"github.com/push-protocol/push-vnode-sub003/internal/models"
	"github.com/push-protocol/push-vnode-sub003/internal/proof"
	"github.com/push-protocol/push-vnode-sub003/internal/rules"
)

// memStore is an in-memory DataStore for protocol tests.
type memStore struct {
	mu       sync.Mutex
	profiles map[string]models.Profile
	chats    map[string]models.Chat
	members  map[string]map[string]models.ChatMember
	messages map[string]models.Message
	keys     map[string]models.SessionKey
	proofs   []models.ProofAudit
	deltas   []models.MemberDeltaAudit
}

func newMemStore() *memStore {
	return &memStore{
		profiles: make(map[string]models.Profile),
		chats:    make(map[string]models.Chat),
		members:  make(map[string]map[string]models.ChatMember),
		messages: make(map[string]models.Message),
		keys:     make(map[string]models.SessionKey),
	}
}

func (m *memStore) Close() {}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) GetProfile(_ context.Context, didStr string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[didStr]; ok {
		cp := p
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) UpsertProfile(_ context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.DID] = *p
	return nil
}

func (m *memStore) CreateChat(_ context.Context, c *models.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.chats[c.ChatID] = *c
	return nil
}

func (m *memStore) GetChat(_ context.Context, chatID string) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.chats[chatID]; ok {
		cp := c
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) GetChatByCombinedDID(_ context.Context, combined string) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chats {
		if !c.IsGroup && c.CombinedDID == combined {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpdateChat(_ context.Context, c *models.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.UpdatedAt = time.Now()
	m.chats[c.ChatID] = *c
	return nil
}

func (m *memStore) DeleteChat(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, chatID)
	delete(m.members, chatID)
	return nil
}

func (m *memStore) ListMembers(_ context.Context, chatID string) ([]models.ChatMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ChatMember, 0, len(m.members[chatID]))
	for _, mm := range m.members[chatID] {
		out = append(out, mm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (m *memStore) UpsertMembers(_ context.Context, chatID string, members []models.ChatMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[chatID] == nil {
		m.members[chatID] = make(map[string]models.ChatMember)
	}
	for _, mm := range members {
		mm.UpdatedAt = time.Now()
		m.members[chatID][mm.Address] = mm
	}
	return nil
}

func (m *memStore) RemoveMembers(_ context.Context, chatID string, addresses []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range addresses {
		delete(m.members[chatID], a)
	}
	return nil
}

func (m *memStore) ListExpiredSpaces(_ context.Context, cutoff time.Time) ([]models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Chat
	for _, c := range m.chats {
		if c.GroupType == models.GroupTypeSpaces && c.ScheduleEnd != nil && c.ScheduleEnd.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) PutMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[msg.Reference]; ok {
		return nil
	}
	msg.PersistedAt = time.Now()
	m.messages[msg.Reference] = *msg
	return nil
}

func (m *memStore) GetMessage(_ context.Context, reference string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[reference]; ok {
		cp := msg
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) ListMessages(_ context.Context, chatID string, limit int, before time.Time) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, msg := range m.messages {
		if msg.ChatID == chatID && msg.Timestamp.Before(before) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) DeleteChatMessages(_ context.Context, chatID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var refs []string
	for ref, msg := range m.messages {
		if msg.ChatID == chatID {
			refs = append(refs, ref)
			delete(m.messages, ref)
		}
	}
	return refs, nil
}

func (m *memStore) PutSessionKey(_ context.Context, k *models.SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k.CreatedAt = time.Now()
	m.keys[k.Reference] = *k
	return nil
}

func (m *memStore) GetSessionKey(_ context.Context, reference string) (*models.SessionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[reference]; ok {
		cp := k
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) AppendProofAudit(_ context.Context, a *models.ProofAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proofs = append(m.proofs, *a)
	return nil
}

func (m *memStore) AppendMemberDelta(_ context.Context, a *models.MemberDeltaAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deltas = append(m.deltas, *a)
	return nil
}

// stubChain answers balance queries from a fixed table keyed by holder.
type stubChain struct {
	balances map[string]int64
}

func (c *stubChain) BalanceOf(_ context.Context, _ int64, _, holder string) (*big.Int, error) {
	return big.NewInt(c.balances[holder]), nil
}

func (c *stubChain) OwnerOf(context.Context, int64, string, string) (string, error) {
	return "", nil
}

type testEnv struct {
	store *memStore
	chain *stubChain
	svc   *Service
	keys  map[string]ed25519.PrivateKey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := newMemStore()
	chain := &stubChain{balances: make(map[string]int64)}
	verifier := proof.NewVerifier(ProfileKeyResolver{Profiles: ms}, zerolog.Nop())
	engine := rules.NewEngine(chain, nil, nil, time.Second, zerolog.Nop())
	svc := NewService(ms, nil, nil, verifier, engine, nil,
		fanout.NewDispatcher(nil, zerolog.Nop()), nil, DefaultLimits(), zerolog.Nop())
	return &testEnv{store: ms, chain: chain, svc: svc, keys: make(map[string]ed25519.PrivateKey)}
}

func (e *testEnv) register(t *testing.T, didStr string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	e.keys[didStr] = priv
	e.store.profiles[didStr] = models.Profile{
		DID:       didStr,
		PublicKey: base64.StdEncoding.EncodeToString(pub),
	}
}

func (e *testEnv) sign(t *testing.T, scheme proof.Scheme, signer string, payload proof.Payload) string {
	t.Helper()
	raw, err := proof.SignMessaging(scheme, e.keys[signer], payload, signer)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

const (
	alice = "eip155:0xF0030495802f8f90Ace6d869aBd653f2062fD1De"
	bob   = "eip155:0xDAB141eFC7Df3f3d1a97C06568140b2859F9BaC0"
	carol = "eip155:0x52908400098527886E0F7030069857D2E4169EE7"
	dave  = "eip155:0x8617E340B3D01FA5F11F306F4090FD50E238070D"
)

func (e *testEnv) createIntent(t *testing.T, from, to string) (*models.Chat, *models.Message, *Error) {
	t.Helper()
	req := IntentRequest{
		FromDID:   from,
		ToDID:     to,
		Type:      models.MessageTypeText,
		Content:   []byte("ciphertext"),
		Timestamp: time.Now().Truncate(time.Millisecond),
	}
	req.Proof = e.sign(t, proof.SchemeMsgV2, from, proof.MessagePayload{
		FromDID: req.FromDID, ToDID: req.ToDID, Type: string(req.Type),
		Content: req.Content, Timestamp: req.Timestamp,
	})
	return e.svc.CreateIntent(context.Background(), req)
}

func (e *testEnv) approve(t *testing.T, from, to, chatID, secret string) (*models.Chat, *Error) {
	t.Helper()
	req := ApprovalRequest{FromDID: from, ToDID: to, ChatID: chatID, EncryptedSecret: secret}
	req.Proof = e.sign(t, proof.SchemeGroupV2, from, proof.ApprovalPayload{
		FromDID: from, ToDID: to, Status: "Approved", EncryptedSecret: secret,
	})
	return e.svc.ApproveIntent(context.Background(), req)
}

func (e *testEnv) createGroup(t *testing.T, req GroupCreateRequest) (*models.Chat, *Error) {
	t.Helper()
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().Truncate(time.Millisecond)
	}
	req.Proof = e.sign(t, proof.SchemeGroupV2, req.Creator, proof.GroupCreatePayload{
		GroupName: req.GroupName, Members: req.Members, Admins: req.Admins,
		IsPublic: req.IsPublic, GroupType: string(req.GroupType), Timestamp: req.Timestamp,
	})
	return e.svc.CreateGroup(context.Background(), req)
}

func (e *testEnv) applyDelta(t *testing.T, d MemberDelta) (*models.Chat, *Error) {
	t.Helper()
	d.Proof = e.sign(t, proof.SchemeGroupV2, d.Signer, proof.MemberDeltaPayload{
		ChatID: d.ChatID, UpsertAdmins: d.UpsertAdmins, UpsertMembers: d.UpsertMembers,
		Remove: d.Remove, EncryptedSecret: d.EncryptedSecret,
	})
	return e.svc.ApplyMemberDelta(context.Background(), d)
}

func TestDirectChatRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, alice)
	e.register(t, bob)

	chat, msg, perr := e.createIntent(t, alice, bob)
	if perr != nil {
		t.Fatalf("create intent: %v", perr)
	}
	if chat.IntentSentBy != alice || chat.Intent != alice {
		t.Fatalf("intent projection wrong: %+v", chat)
	}
	if msg.Reference == "" || chat.Threadhash != msg.Reference {
		t.Fatal("thread not anchored to the founding message")
	}

	// Sender cannot message before approval.
	send := SendRequest{
		ChatID: chat.ChatID, FromDID: alice, ToDID: bob,
		Type: models.MessageTypeText, Content: []byte("more"),
		Timestamp: time.Now().Truncate(time.Millisecond),
	}
	send.Proof = e.sign(t, proof.SchemeMsgV2, alice, proof.MessagePayload{
		FromDID: alice, ToDID: bob, Type: "Text", Content: send.Content, Timestamp: send.Timestamp,
	})
	if _, perr := e.svc.SendMessage(context.Background(), send); perr == nil || perr.Code != "intent_pending" {
		t.Fatalf("pre-approval send = %v, want intent_pending", perr)
	}

	if _, perr := e.approve(t, bob, alice, "", ""); perr != nil {
		t.Fatalf("approve: %v", perr)
	}

	got, perr := e.svc.SendMessage(context.Background(), send)
	if perr != nil {
		t.Fatalf("post-approval send: %v", perr)
	}
	if got.Link != msg.Reference {
		t.Fatalf("message link = %q, want the prior thread reference", got.Link)
	}

	history, perr := e.svc.ListMessages(context.Background(), chat.ChatID, 10, time.Time{})
	if perr != nil {
		t.Fatal(perr)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
}

func TestDuplicateIntentRejected(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, alice)
	e.register(t, bob)

	if _, _, perr := e.createIntent(t, alice, bob); perr != nil {
		t.Fatal(perr)
	}
	if _, _, perr := e.createIntent(t, alice, bob); perr == nil || perr.Kind != KindConflict {
		t.Fatalf("duplicate intent = %v, want conflict", perr)
	}
	// Symmetry: the reverse direction collides with the same projection.
	if _, _, perr := e.createIntent(t, bob, alice); perr == nil || perr.Kind != KindConflict {
		t.Fatalf("reverse intent = %v, want conflict", perr)
	}
}

func TestSelfIntentAndOversizedPayload(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, alice)

	if _, _, perr := e.createIntent(t, alice, alice); perr == nil || perr.Code != "self_intent" {
		t.Fatalf("self intent = %v", perr)
	}

	req := IntentRequest{
		FromDID: alice, ToDID: bob, Type: models.MessageTypeText,
		Content:   make([]byte, (1<<20)+1),
		Timestamp: time.Now(),
	}
	if _, _, perr := e.svc.CreateIntent(context.Background(), req); perr == nil || perr.Code != "content_too_large" {
		t.Fatalf("oversized payload = %v", perr)
	}
}

func TestBlockListBothDirections(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, alice)
	e.register(t, bob)

	p := e.store.profiles[bob]
	p.BlockedDIDs = []string{alice}
	e.store.profiles[bob] = p

	if _, _, perr := e.createIntent(t, alice, bob); perr == nil || perr.Code != "blocked" {
		t.Fatalf("blocked recipient = %v", perr)
	}

	p = e.store.profiles[bob]
	p.BlockedDIDs = nil
	e.store.profiles[bob] = p
	p = e.store.profiles[alice]
	p.BlockedDIDs = []string{bob}
	e.store.profiles[alice] = p

	if _, _, perr := e.createIntent(t, alice, bob); perr == nil || perr.Code != "blocked" {
		t.Fatalf("blocking sender = %v", perr)
	}
}

func TestRejectIntentReturnsToNone(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, alice)
	e.register(t, bob)

	chat, _, perr := e.createIntent(t, alice, bob)
	if perr != nil {
		t.Fatal(perr)
	}

	req := ApprovalRequest{FromDID: bob, ToDID: alice}
	req.Proof = e.sign(t, proof.SchemeGroupV2, bob, proof.ApprovalPayload{
		FromDID: bob, ToDID: alice, Status: "Rejected",
	})
	if _, perr := e.svc.RejectIntent(context.Background(), req); perr != nil {
		t.Fatalf("reject: %v", perr)
	}

	if got, _ := e.store.GetChat(context.Background(), chat.ChatID); got != nil {
		t.Fatal("rejected chat still exists")
	}
	// Back to NONE: a fresh intent may open the pair again.
	if _, _, perr := e.createIntent(t, bob, alice); perr != nil {
		t.Fatalf("re-intent after rejection: %v", perr)
	}
}

func TestApproveTamperedStatusRejected(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, alice)
	e.register(t, bob)

	if _, _, perr := e.createIntent(t, alice, bob); perr != nil {
		t.Fatal(perr)
	}

	// Proof signs "Rejected" but the operation claims approval.
	req := ApprovalRequest{FromDID: bob, ToDID: alice}
	req.Proof = e.sign(t, proof.SchemeGroupV2, bob, proof.ApprovalPayload{
		FromDID: bob, ToDID: alice, Status: "Rejected",
	})
	if _, perr := e.svc.ApproveIntent(context.Background(), req); perr == nil || perr.Code != "proof_rejected" {
		t.Fatalf("tampered approval = %v", perr)
	}
}

func TestCreateGroupProjection(t *testing.T) {
	e := newTestEnv(t)
	for _, d := range []string{alice, bob, carol} {
		e.register(t, d)
	}

	chat, perr := e.createGroup(t, GroupCreateRequest{
		Creator: alice, GroupName: "research", IsPublic: true,
		Members: []string{bob}, Admins: []string{carol},
	})
	if perr != nil {
		t.Fatalf("create group: %v", perr)
	}

	if chat.CombinedDID != models.CombineDIDs(alice, bob, carol) {
		t.Fatalf("combinedDID = %q", chat.CombinedDID)
	}
	if chat.Admins != models.CombineDIDs(alice, carol) {
		t.Fatalf("admins = %q", chat.Admins)
	}
	if chat.Intent != alice {
		t.Fatalf("intent = %q, only the creator starts approved", chat.Intent)
	}
}

func TestCreateGroupValidation(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, alice)

	cases := []struct {
		name string
		req  GroupCreateRequest
		code string
	}{
		{"creator listed", GroupCreateRequest{Creator: alice, GroupName: "g", Members: []string{alice}}, "creator_listed"},
		{"overlap", GroupCreateRequest{Creator: alice, GroupName: "g", Members: []string{bob}, Admins: []string{bob}}, "overlapping_sets"},
		{"duplicate", GroupCreateRequest{Creator: alice, GroupName: "g", Members: []string{bob, bob}}, "duplicate_did"},
		{"no name", GroupCreateRequest{Creator: alice, Members: []string{bob}}, "bad_group_name"},
		{"bad did", GroupCreateRequest{Creator: alice, GroupName: "g", Members: []string{"nonsense"}}, "bad_did"},
	}
	for _, tc := range cases {
		_, perr := e.svc.CreateGroup(context.Background(), tc.req)
		if perr == nil || perr.Code != tc.code {
			t.Errorf("%s: got %v, want code %s", tc.name, perr, tc.code)
		}
	}
}

func TestAutoJoinShapeExactness(t *testing.T) {
	e := newTestEnv(t)
	for _, d := range []string{alice, bob, carol} {
		e.register(t, d)
	}
	chat, perr := e.createGroup(t, GroupCreateRequest{
		Creator: alice, GroupName: "open", IsPublic: true,
	})
	if perr != nil {
		t.Fatal(perr)
	}

	// Exact auto-join shape: sole subject is the signer.
	updated, perr := e.applyDelta(t, MemberDelta{
		ChatID: chat.ChatID, Signer: bob, UpsertMembers: []string{bob},
	})
	if perr != nil {
		t.Fatalf("auto-join: %v", perr)
	}
	if !models.HasIntent(updated.Intent, bob) {
		t.Fatal("auto-joined member lacks approved intent")
	}

	// One extra DID makes it an admin delta, and bob is not an admin.
	_, perr = e.applyDelta(t, MemberDelta{
		ChatID: chat.ChatID, Signer: bob, UpsertMembers: []string{bob, carol},
	})
	if perr == nil || perr.Code != "admin_required" {
		t.Fatalf("near-miss auto-join = %v, want admin_required", perr)
	}

	// Auto-leave: sole removal of the signer.
	updated, perr = e.applyDelta(t, MemberDelta{
		ChatID: chat.ChatID, Signer: bob, Remove: []string{bob},
	})
	if perr != nil {
		t.Fatalf("auto-leave: %v", perr)
	}
	if strings.Contains(updated.CombinedDID, bob) {
		t.Fatal("auto-left member still in the projection")
	}
}

func TestProjectionConsistencyAfterDeltas(t *testing.T) {
	e := newTestEnv(t)
	for _, d := range []string{alice, bob, carol, dave} {
		e.register(t, d)
	}
	chat, perr := e.createGroup(t, GroupCreateRequest{
		Creator: alice, GroupName: "team", IsPublic: true, Members: []string{bob},
	})
	if perr != nil {
		t.Fatal(perr)
	}

	if _, perr := e.applyDelta(t, MemberDelta{
		ChatID: chat.ChatID, Signer: alice,
		UpsertAdmins: []string{carol}, UpsertMembers: []string{dave}, Remove: []string{bob},
	}); perr != nil {
		t.Fatalf("admin delta: %v", perr)
	}

	got, _ := e.store.GetChat(context.Background(), chat.ChatID)
	members, _ := e.store.ListMembers(context.Background(), chat.ChatID)

	addrs := make([]string, 0, len(members))
	admins := make([]string, 0, 2)
	for _, m := range members {
		addrs = append(addrs, m.Address)
		if m.Role == models.RoleAdmin {
			admins = append(admins, m.Address)
		}
	}
	if got.CombinedDID != models.CombineDIDs(addrs...) {
		t.Fatalf("combinedDID %q diverges from member table %q", got.CombinedDID, models.CombineDIDs(addrs...))
	}
	if got.Admins != models.CombineDIDs(admins...) {
		t.Fatalf("admins %q diverges from member table %q", got.Admins, models.CombineDIDs(admins...))
	}
}

func TestRoleReassignmentPreservesIntent(t *testing.T) {
	e := newTestEnv(t)
	for _, d := range []string{alice, bob} {
		e.register(t, d)
	}
	chat, perr := e.createGroup(t, GroupCreateRequest{
		Creator: alice, GroupName: "team", IsPublic: true, Members: []string{bob},
	})
	if perr != nil {
		t.Fatal(perr)
	}
	if _, perr := e.approve(t, bob, "", chat.ChatID, ""); perr != nil {
		t.Fatalf("bob approve: %v", perr)
	}

	if _, perr := e.applyDelta(t, MemberDelta{
		ChatID: chat.ChatID, Signer: alice, UpsertAdmins: []string{bob},
	}); perr != nil {
		t.Fatalf("promote: %v", perr)
	}

	members, _ := e.store.ListMembers(context.Background(), chat.ChatID)
	for _, m := range members {
		if m.Address == bob {
			if m.Role != models.RoleAdmin || !m.Intent {
				t.Fatalf("promotion lost state: %+v", m)
			}
			return
		}
	}
	t.Fatal("bob missing after promotion")
}

func TestPrivateGroupRotation(t *testing.T) {
	e := newTestEnv(t)
	for _, d := range []string{alice, bob, carol} {
		e.register(t, d)
	}
	chat, perr := e.createGroup(t, GroupCreateRequest{
		Creator: alice, GroupName: "sealed", IsPublic: false,
		Members: []string{bob, carol},
	})
	if perr != nil {
		t.Fatal(perr)
	}

	// Bob approves and seeds the session key.
	updated, perr := e.approve(t, bob, "", chat.ChatID, "enc-secret-1")
	if perr != nil {
		t.Fatal(perr)
	}
	firstKey := updated.SessionKey
	if firstKey == "" {
		t.Fatal("approval with secret did not set a session key")
	}

	// Removing an approved member without a fresh secret must fail.
	_, perr = e.applyDelta(t, MemberDelta{
		ChatID: chat.ChatID, Signer: alice, Remove: []string{bob},
	})
	if perr == nil || perr.Code != "rotation_required" {
		t.Fatalf("removal without secret = %v, want rotation_required", perr)
	}

	// Removing a pending member does not touch the key.
	updated, perr = e.applyDelta(t, MemberDelta{
		ChatID: chat.ChatID, Signer: alice, Remove: []string{carol},
	})
	if perr != nil {
		t.Fatalf("pending removal: %v", perr)
	}
	if updated.SessionKey != firstKey {
		t.Fatal("pending removal rotated the key")
	}

	// Removing the approved member with a secret rotates.
	updated, perr = e.applyDelta(t, MemberDelta{
		ChatID: chat.ChatID, Signer: alice, Remove: []string{bob}, EncryptedSecret: "enc-secret-2",
	})
	if perr != nil {
		t.Fatalf("keyed removal: %v", perr)
	}
	if updated.SessionKey == firstKey || updated.SessionKey == "" {
		t.Fatalf("session key not rotated: %q", updated.SessionKey)
	}
	key, _ := e.store.GetSessionKey(context.Background(), updated.SessionKey)
	if key == nil || key.EncryptedSecret != "enc-secret-2" {
		t.Fatalf("rotated key row wrong: %+v", key)
	}
}

func TestGatedEntryDenialListsAddresses(t *testing.T) {
	e := newTestEnv(t)
	for _, d := range []string{alice, bob, carol} {
		e.register(t, d)
	}
	aliceAddr, _ := did.WalletAddress(alice)
	bobAddr, _ := did.WalletAddress(bob)
	e.chain.balances[aliceAddr] = 100
	e.chain.balances[bobAddr] = 100
	// carol holds nothing

	gate := &rules.RuleSet{
		Entry: &rules.Node{Leaf: &rules.Leaf{
			Category: rules.CategoryERC721,
			Type:     rules.TypeToken,
			Data: rules.LeafData{
				Contract: "eip155:1:0x52908400098527886E0F7030069857D2E4169EE7",
				Amount:   1,
			},
		}},
	}

	_, perr := e.createGroup(t, GroupCreateRequest{
		Creator: alice, GroupName: "gated", IsPublic: true,
		Members: []string{bob, carol}, Rules: gate,
	})
	if perr == nil || perr.Code != "entry_denied" {
		t.Fatalf("gated create = %v, want entry_denied", perr)
	}
	denied, ok := perr.Detail.([]string)
	if !ok || len(denied) != 1 || denied[0] != carol {
		t.Fatalf("denied list = %v, want [%s]", perr.Detail, carol)
	}

	// With only qualifying members the create succeeds, and the gate also
	// blocks an unqualified auto-join.
	chat, perr := e.createGroup(t, GroupCreateRequest{
		Creator: alice, GroupName: "gated", IsPublic: true,
		Members: []string{bob}, Rules: gate,
	})
	if perr != nil {
		t.Fatalf("qualifying create: %v", perr)
	}
	_, perr = e.applyDelta(t, MemberDelta{
		ChatID: chat.ChatID, Signer: carol, UpsertMembers: []string{carol},
	})
	if perr == nil || perr.Code != "entry_denied" {
		t.Fatalf("gated auto-join = %v, want entry_denied", perr)
	}
}

func TestSpaceLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, alice)

	start := time.Now().Add(5 * time.Minute)
	end := start.Add(time.Hour)
	chat, perr := e.createGroup(t, GroupCreateRequest{
		Creator: alice, GroupName: "live", IsPublic: true,
		GroupType: models.GroupTypeSpaces, ScheduleAt: &start, ScheduleEnd: &end,
	})
	if perr != nil {
		t.Fatal(perr)
	}
	if !strings.HasPrefix(chat.ChatID, "spaces:") || chat.Status != models.StatusPending {
		t.Fatalf("space created wrong: %q %q", chat.ChatID, chat.Status)
	}

	config := func(status models.ChatStatus) (*models.Chat, *Error) {
		req := GroupConfigRequest{ChatID: chat.ChatID, Signer: alice, Status: status}
		req.Proof = e.sign(t, proof.SchemeGroupV2, alice, proof.GroupConfigPayload{
			ChatID: chat.ChatID, Status: string(status),
		})
		return e.svc.UpdateGroupConfig(context.Background(), req)
	}

	// Within the grace window the space may go live.
	updated, perr := config(models.StatusActive)
	if perr != nil {
		t.Fatalf("activate: %v", perr)
	}
	if updated.Status != models.StatusActive {
		t.Fatalf("status = %q", updated.Status)
	}

	if _, perr := config(models.StatusEnded); perr != nil {
		t.Fatalf("end: %v", perr)
	}
	if _, perr := config(models.StatusActive); perr == nil || perr.Code != "space_ended" {
		t.Fatalf("resurrect ended space = %v", perr)
	}
}

func TestSpaceActivationTooEarly(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, alice)

	start := time.Now().Add(2 * time.Hour)
	chat, perr := e.createGroup(t, GroupCreateRequest{
		Creator: alice, GroupName: "later", IsPublic: true,
		GroupType: models.GroupTypeSpaces, ScheduleAt: &start,
	})
	if perr != nil {
		t.Fatal(perr)
	}

	req := GroupConfigRequest{ChatID: chat.ChatID, Signer: alice, Status: models.StatusActive}
	req.Proof = e.sign(t, proof.SchemeGroupV2, alice, proof.GroupConfigPayload{
		ChatID: chat.ChatID, Status: string(models.StatusActive),
	})
	if _, perr := e.svc.UpdateGroupConfig(context.Background(), req); perr == nil || perr.Code != "too_early" {
		t.Fatalf("early activation = %v, want too_early", perr)
	}
}

func TestSweepExpiredSpaces(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, alice)

	start := time.Now().Add(time.Minute)
	chat, perr := e.createGroup(t, GroupCreateRequest{
		Creator: alice, GroupName: "over", IsPublic: true,
		GroupType: models.GroupTypeSpaces, ScheduleAt: &start,
	})
	if perr != nil {
		t.Fatal(perr)
	}

	// Backdate the schedule end past the retention window.
	stored := e.store.chats[chat.ChatID]
	old := time.Now().Add(-15 * 24 * time.Hour)
	stored.ScheduleEnd = &old
	e.store.chats[chat.ChatID] = stored

	swept, err := e.svc.SweepExpiredSpaces(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}
	if got, _ := e.store.GetChat(context.Background(), chat.ChatID); got != nil {
		t.Fatal("expired space still present")
	}
}

func TestGroupAccessAnnotation(t *testing.T) {
	e := newTestEnv(t)
	for _, d := range []string{alice, bob} {
		e.register(t, d)
	}
	bobAddr, _ := did.WalletAddress(bob)
	aliceAddr, _ := did.WalletAddress(alice)
	e.chain.balances[bobAddr] = 100
	e.chain.balances[aliceAddr] = 100

	gate := &rules.RuleSet{
		Entry: &rules.Node{Any: []*rules.Node{
			{Leaf: &rules.Leaf{
				Category: rules.CategoryERC721, Type: rules.TypeToken,
				Data: rules.LeafData{Contract: "eip155:1:0x52908400098527886E0F7030069857D2E4169EE7", Amount: 1},
			}},
			{Leaf: &rules.Leaf{
				Category: rules.CategoryERC721, Type: rules.TypeToken,
				Data: rules.LeafData{Contract: "eip155:1:0x8617E340B3D01FA5F11F306F4090FD50E238070D", Amount: 1000},
			}},
		}},
	}
	chat, perr := e.createGroup(t, GroupCreateRequest{
		Creator: alice, GroupName: "annotated", IsPublic: true, Rules: gate,
	})
	if perr != nil {
		t.Fatal(perr)
	}

	access, perr := e.svc.GroupAccess(context.Background(), chat.ChatID, bob)
	if perr != nil {
		t.Fatal(perr)
	}
	if !access.EntryAllow {
		t.Fatal("qualified subject denied")
	}
	// Annotation mode evaluates every branch, including the one an any-node
	// would have skipped.
	if len(access.Entry.Any) != 2 {
		t.Fatalf("annotated branches = %d", len(access.Entry.Any))
	}
	if !access.Entry.Any[0].Access || access.Entry.Any[1].Access {
		t.Fatalf("branch outcomes wrong: %v %v", access.Entry.Any[0].Access, access.Entry.Any[1].Access)
	}
}

func TestIntentRequiresRecipientProfile(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, alice)

	if _, _, perr := e.createIntent(t, alice, bob); perr == nil || perr.Code != "no_recipient_profile" {
		t.Fatalf("unregistered recipient = %v, want no_recipient_profile", perr)
	}
}

func TestResolveChecksProfilesAndBlocks(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, alice)
	e.register(t, bob)

	if _, _, perr := e.createIntent(t, alice, bob); perr != nil {
		t.Fatal(perr)
	}

	// Bob blocked alice after the intent landed; resolution must refuse.
	p := e.store.profiles[bob]
	p.BlockedDIDs = []string{alice}
	e.store.profiles[bob] = p
	if _, perr := e.approve(t, bob, alice, "", ""); perr == nil || perr.Code != "blocked" {
		t.Fatalf("approval across a block = %v, want blocked", perr)
	}

	// The initiator's profile vanishing leaves nothing to resolve against.
	p = e.store.profiles[bob]
	p.BlockedDIDs = nil
	e.store.profiles[bob] = p
	delete(e.store.profiles, alice)
	if _, perr := e.approve(t, bob, alice, "", ""); perr == nil || perr.Kind != KindNotFound {
		t.Fatalf("approval with missing initiator profile = %v, want not found", perr)
	}
}

func TestPendingAdminCannotAdminister(t *testing.T) {
	e := newTestEnv(t)
	for _, d := range []string{alice, bob, carol} {
		e.register(t, d)
	}
	chat, perr := e.createGroup(t, GroupCreateRequest{
		Creator: alice, GroupName: "team", IsPublic: true,
		Members: []string{bob}, Admins: []string{carol},
	})
	if perr != nil {
		t.Fatal(perr)
	}

	// Carol holds the admin role but has not approved her invite.
	if _, perr := e.applyDelta(t, MemberDelta{
		ChatID: chat.ChatID, Signer: carol, Remove: []string{bob},
	}); perr == nil || perr.Code != "intent_pending" {
		t.Fatalf("pending-admin delta = %v, want intent_pending", perr)
	}

	rename := func() (*models.Chat, *Error) {
		req := GroupProfileRequest{ChatID: chat.ChatID, Signer: carol, GroupName: "renamed"}
		req.Proof = e.sign(t, proof.SchemeGroupV2, carol, proof.GroupProfilePayload{
			ChatID: chat.ChatID, GroupName: "renamed",
		})
		return e.svc.UpdateGroupProfile(context.Background(), req)
	}
	if _, perr := rename(); perr == nil || perr.Code != "intent_pending" {
		t.Fatalf("pending-admin profile update = %v, want intent_pending", perr)
	}

	// Once approved, the same operations go through.
	if _, perr := e.approve(t, carol, "", chat.ChatID, ""); perr != nil {
		t.Fatalf("carol approve: %v", perr)
	}
	if _, perr := e.applyDelta(t, MemberDelta{
		ChatID: chat.ChatID, Signer: carol, Remove: []string{bob},
	}); perr != nil {
		t.Fatalf("approved-admin delta: %v", perr)
	}
	if _, perr := rename(); perr != nil {
		t.Fatalf("approved-admin profile update: %v", perr)
	}
}

func TestGroupChatIDIncludesName(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, alice)

	ts := time.Now().Truncate(time.Millisecond)
	first, perr := e.createGroup(t, GroupCreateRequest{
		Creator: alice, GroupName: "alpha", IsPublic: true, Timestamp: ts,
	})
	if perr != nil {
		t.Fatal(perr)
	}
	second, perr := e.createGroup(t, GroupCreateRequest{
		Creator: alice, GroupName: "beta", IsPublic: true, Timestamp: ts,
	})
	if perr != nil {
		t.Fatal(perr)
	}
	if first.ChatID == second.ChatID {
		t.Fatal("groups with the same roster and timestamp collide across names")
	}
}

func TestConfigStatusUpdatePreservesMeta(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, alice)

	start := time.Now().Add(5 * time.Minute)
	chat, perr := e.createGroup(t, GroupCreateRequest{
		Creator: alice, GroupName: "live", IsPublic: true,
		GroupType: models.GroupTypeSpaces, ScheduleAt: &start, Meta: "cohort-1",
	})
	if perr != nil {
		t.Fatal(perr)
	}

	req := GroupConfigRequest{ChatID: chat.ChatID, Signer: alice, Status: models.StatusActive}
	req.Proof = e.sign(t, proof.SchemeGroupV2, alice, proof.GroupConfigPayload{
		ChatID: chat.ChatID, Status: string(models.StatusActive),
	})
	updated, perr := e.svc.UpdateGroupConfig(context.Background(), req)
	if perr != nil {
		t.Fatal(perr)
	}
	if updated.Meta != "cohort-1" {
		t.Fatalf("status-only update cleared meta: %q", updated.Meta)
	}

	// An explicit empty meta does clear it.
	empty := ""
	req = GroupConfigRequest{ChatID: chat.ChatID, Signer: alice, Meta: &empty}
	req.Proof = e.sign(t, proof.SchemeGroupV2, alice, proof.GroupConfigPayload{ChatID: chat.ChatID})
	updated, perr = e.svc.UpdateGroupConfig(context.Background(), req)
	if perr != nil {
		t.Fatal(perr)
	}
	if updated.Meta != "" {
		t.Fatalf("explicit clear kept meta: %q", updated.Meta)
	}
}

func TestRegisterProfileRequiresWalletScheme(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, alice)

	pub, _, _ := ed25519.GenerateKey(rand.Reader)
	req := ProfileRequest{
		DID:       alice,
		PublicKey: base64.StdEncoding.EncodeToString(pub),
		Timestamp: time.Now(),
	}
	req.Proof = e.sign(t, proof.SchemeGroupV2, alice, proof.WalletLinkPayload{
		DID: alice, PublicKey: req.PublicKey, Timestamp: req.Timestamp,
	})
	if _, perr := e.svc.RegisterProfile(context.Background(), req); perr == nil || perr.Code != "bad_proof_scheme" {
		t.Fatalf("messaging-scheme link = %v, want bad_proof_scheme", perr)
	}
}
