package protocol

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/push-protocol/push-vnode-sub003/internal/fanout"
	"github.com/push-protocol/push-vnode-sub003/internal/metrics"
	"github.com/push-protocol/push-vnode-sub003/internal/models"
	"github.com/push-protocol/push-vnode-sub003/internal/proof"
	"github.com/push-protocol/push-vnode-sub003/internal/rules"
)

const (
	maxGroupNameLen = 256
	maxGroupDescLen = 1024

	// A pending space may go live this long before its scheduled start.
	spaceStartGrace = 15 * time.Minute
)

// GroupCreateRequest creates a group or a space with its initial invites.
type GroupCreateRequest struct {
	Creator     string
	GroupName   string
	Description string
	Image       string
	Members     []string
	Admins      []string
	IsPublic    bool
	GroupType   models.GroupType
	Rules       *rules.RuleSet
	Meta        string
	ScheduleAt  *time.Time
	ScheduleEnd *time.Time
	Timestamp   time.Time
	Proof       string
}

// CreateGroup validates the participant sets, evaluates entry rules for every
// invitee, and persists the group with its founding membership.
func (s *Service) CreateGroup(ctx context.Context, req GroupCreateRequest) (*models.Chat, *Error) {
	if perr := s.validateGroupCreate(&req); perr != nil {
		return nil, perr
	}

	payload := proof.GroupCreatePayload{
		GroupName: req.GroupName,
		Members:   req.Members,
		Admins:    req.Admins,
		IsPublic:  req.IsPublic,
		GroupType: string(req.GroupType),
		Timestamp: req.Timestamp,
	}
	parsed, perr := s.verifyGroupProof(ctx, req.Proof, payload, req.Creator)
	if perr != nil {
		return nil, perr
	}

	// The creator invites everyone; their provenance is OWNER.
	if denied := s.deniedByEntryRules(ctx, req.Rules, append(req.Members, req.Admins...), rules.InviterRoleOwner); len(denied) > 0 {
		return nil, &Error{
			Kind:    KindAuthorization,
			Code:    "entry_denied",
			Message: "entry conditions not met for some invitees",
			Detail:  denied,
		}
	}

	participants := append([]string{req.Creator}, req.Members...)
	participants = append(participants, req.Admins...)
	combined := models.CombineDIDs(participants...)

	chat := &models.Chat{
		ChatID:           deriveChatID(combined, req.GroupName, req.Timestamp),
		IsGroup:          true,
		GroupType:        req.GroupType,
		IntentSentBy:     req.Creator,
		Rules:            req.Rules,
		GroupName:        req.GroupName,
		GroupDescription: req.Description,
		GroupImage:       req.Image,
		IsPublic:         req.IsPublic,
		Meta:             req.Meta,
		ScheduleAt:       req.ScheduleAt,
		ScheduleEnd:      req.ScheduleEnd,
	}
	if req.GroupType == models.GroupTypeSpaces {
		chat.ChatID = "spaces:" + chat.ChatID
		chat.Status = models.StatusPending
	}

	unlock := s.locks.Lock(chat.ChatID)
	defer unlock()

	if err := s.store.CreateChat(ctx, chat); err != nil {
		return nil, internalError(s.log, err, "create_group")
	}

	rows := make([]models.ChatMember, 0, len(participants))
	rows = append(rows, models.ChatMember{ChatID: chat.ChatID, Address: req.Creator, Role: models.RoleAdmin, Intent: true})
	for _, a := range req.Admins {
		rows = append(rows, models.ChatMember{ChatID: chat.ChatID, Address: a, Role: models.RoleAdmin})
	}
	for _, m := range req.Members {
		rows = append(rows, models.ChatMember{ChatID: chat.ChatID, Address: m, Role: models.RoleMember})
	}
	if err := s.store.UpsertMembers(ctx, chat.ChatID, rows); err != nil {
		return nil, internalError(s.log, err, "create_group")
	}
	if err := s.reconcile(ctx, chat); err != nil {
		return nil, internalError(s.log, err, "create_group")
	}

	s.auditProof(ctx, chat.ChatID, req.Creator, req.Proof, parsed.Scheme, payload)
	s.deliver(ctx, fanout.EventRequest, chat, req.Creator, chat, append(req.Members, req.Admins...))
	return chat, nil
}

func (s *Service) validateGroupCreate(req *GroupCreateRequest) *Error {
	if req.GroupName == "" || len(req.GroupName) > maxGroupNameLen {
		return validationf("bad_group_name", "group name must be 1-%d characters", maxGroupNameLen)
	}
	if len(req.Description) > maxGroupDescLen {
		return validationf("bad_group_description", "description exceeds %d characters", maxGroupDescLen)
	}
	if req.GroupType == "" {
		req.GroupType = models.GroupTypeDefault
	}
	if req.GroupType != models.GroupTypeDefault && req.GroupType != models.GroupTypeSpaces {
		return validationf("bad_group_type", "unknown group type %q", req.GroupType)
	}

	if perr := validDIDs(append([]string{req.Creator}, append(req.Members, req.Admins...)...)); perr != nil {
		return perr
	}
	memberSet, perr := dedupeCheck(req.Members)
	if perr != nil {
		return perr
	}
	adminSet, perr := dedupeCheck(req.Admins)
	if perr != nil {
		return perr
	}
	for a := range adminSet {
		if _, ok := memberSet[a]; ok {
			return validationf("overlapping_sets", "DID %q appears as both member and admin", a)
		}
	}
	if _, ok := memberSet[req.Creator]; ok {
		return validationf("creator_listed", "the creator is implicit and must not be listed")
	}
	if _, ok := adminSet[req.Creator]; ok {
		return validationf("creator_listed", "the creator is implicit and must not be listed")
	}

	if total := 1 + len(req.Members) + len(req.Admins); total > s.memberCap(req.IsPublic) {
		return validationf("too_many_members", "group exceeds the %d participant ceiling", s.memberCap(req.IsPublic))
	}

	if req.Rules != nil {
		if err := rules.ValidateRuleSet(req.Rules); err != nil {
			return validationf("bad_rules", "%s", err.Error())
		}
	}

	if req.GroupType == models.GroupTypeSpaces {
		if req.ScheduleAt == nil {
			return validationf("missing_schedule", "spaces require a scheduled start")
		}
		if !req.ScheduleAt.After(time.Now()) {
			return validationf("schedule_in_past", "scheduled start must be in the future")
		}
		if req.ScheduleEnd != nil && !req.ScheduleEnd.After(*req.ScheduleAt) {
			return validationf("bad_schedule_window", "scheduled end must follow the start")
		}
	}
	return nil
}

// deniedByEntryRules evaluates the entry tree for each invitee and returns
// the addresses that fail.
func (s *Service) deniedByEntryRules(ctx context.Context, rs *rules.RuleSet, invitees []string, inviterRole string) []string {
	if rs == nil || rs.Entry == nil {
		return nil
	}
	var denied []string
	for _, invitee := range invitees {
		subject := s.subjectFor(ctx, invitee, false, inviterRole)
		if s.engine.Evaluate(ctx, rs.Entry, subject) {
			metrics.RuleEvaluations.WithLabelValues("allow").Inc()
		} else {
			metrics.RuleEvaluations.WithLabelValues("deny").Inc()
			denied = append(denied, invitee)
		}
	}
	return denied
}

// GroupProfileRequest updates the display profile and rules of a group.
type GroupProfileRequest struct {
	ChatID      string
	Signer      string
	GroupName   string
	Description string
	Image       string
	Rules       *rules.RuleSet
	Proof       string
}

// UpdateGroupProfile replaces the group's profile fields. Admin only.
func (s *Service) UpdateGroupProfile(ctx context.Context, req GroupProfileRequest) (*models.Chat, *Error) {
	if req.GroupName == "" || len(req.GroupName) > maxGroupNameLen {
		return nil, validationf("bad_group_name", "group name must be 1-%d characters", maxGroupNameLen)
	}
	if len(req.Description) > maxGroupDescLen {
		return nil, validationf("bad_group_description", "description exceeds %d characters", maxGroupDescLen)
	}
	if req.Rules != nil {
		if err := rules.ValidateRuleSet(req.Rules); err != nil {
			return nil, validationf("bad_rules", "%s", err.Error())
		}
	}

	unlock := s.locks.Lock(req.ChatID)
	defer unlock()

	chat, perr := s.loadGroup(ctx, req.ChatID, "update_group_profile")
	if perr != nil {
		return nil, perr
	}
	if perr := s.requireAdmin(chat, req.Signer); perr != nil {
		return nil, perr
	}

	var rulesJSON json.RawMessage
	if req.Rules != nil {
		encoded, err := json.Marshal(req.Rules)
		if err != nil {
			return nil, internalError(s.log, err, "update_group_profile")
		}
		rulesJSON = encoded
	}
	payload := proof.GroupProfilePayload{
		ChatID:           req.ChatID,
		GroupName:        req.GroupName,
		GroupDescription: req.Description,
		GroupImage:       req.Image,
		Rules:            rulesJSON,
	}
	parsed, perr := s.verifyGroupProof(ctx, req.Proof, payload, req.Signer)
	if perr != nil {
		return nil, perr
	}

	chat.GroupName = req.GroupName
	chat.GroupDescription = req.Description
	chat.GroupImage = req.Image
	chat.Rules = req.Rules
	if err := s.store.UpdateChat(ctx, chat); err != nil {
		return nil, internalError(s.log, err, "update_group_profile")
	}
	s.auditProof(ctx, chat.ChatID, req.Signer, req.Proof, parsed.Scheme, payload)
	return chat, nil
}

// GroupConfigRequest updates meta, the schedule window, or the space status.
// A nil Meta leaves the stored value untouched.
type GroupConfigRequest struct {
	ChatID      string
	Signer      string
	Meta        *string
	ScheduleAt  *time.Time
	ScheduleEnd *time.Time
	Status      models.ChatStatus
	Proof       string
}

// UpdateGroupConfig applies config changes with the space lifecycle rules:
// PENDING to ACTIVE only near the scheduled start, ENDED terminal.
func (s *Service) UpdateGroupConfig(ctx context.Context, req GroupConfigRequest) (*models.Chat, *Error) {
	unlock := s.locks.Lock(req.ChatID)
	defer unlock()

	chat, perr := s.loadGroup(ctx, req.ChatID, "update_group_config")
	if perr != nil {
		return nil, perr
	}
	if perr := s.requireAdmin(chat, req.Signer); perr != nil {
		return nil, perr
	}

	payload := proof.GroupConfigPayload{
		ChatID:      req.ChatID,
		ScheduleAt:  req.ScheduleAt,
		ScheduleEnd: req.ScheduleEnd,
		Status:      string(req.Status),
	}
	if req.Meta != nil {
		payload.Meta = *req.Meta
	}
	parsed, perr := s.verifyGroupProof(ctx, req.Proof, payload, req.Signer)
	if perr != nil {
		return nil, perr
	}

	if req.Status != "" {
		if perr := applyStatusTransition(chat, req.Status); perr != nil {
			return nil, perr
		}
	}
	if req.ScheduleAt != nil || req.ScheduleEnd != nil {
		if chat.GroupType != models.GroupTypeSpaces {
			return nil, validationf("not_a_space", "only spaces carry a schedule")
		}
		if chat.Status != models.StatusPending {
			return nil, conflictf("space_started", "the schedule is frozen once the space leaves PENDING")
		}
		if req.ScheduleAt != nil {
			if !req.ScheduleAt.After(time.Now()) {
				return nil, validationf("schedule_in_past", "scheduled start must be in the future")
			}
			chat.ScheduleAt = req.ScheduleAt
		}
		if req.ScheduleEnd != nil {
			if chat.ScheduleAt == nil || !req.ScheduleEnd.After(*chat.ScheduleAt) {
				return nil, validationf("bad_schedule_window", "scheduled end must follow the start")
			}
			chat.ScheduleEnd = req.ScheduleEnd
		}
	}
	if req.Meta != nil {
		chat.Meta = *req.Meta
	}

	if err := s.store.UpdateChat(ctx, chat); err != nil {
		return nil, internalError(s.log, err, "update_group_config")
	}
	s.auditProof(ctx, chat.ChatID, req.Signer, req.Proof, parsed.Scheme, payload)
	return chat, nil
}

func applyStatusTransition(chat *models.Chat, next models.ChatStatus) *Error {
	if chat.GroupType != models.GroupTypeSpaces {
		return validationf("not_a_space", "only spaces carry a lifecycle status")
	}
	switch {
	case chat.Status == next:
		return nil
	case chat.Status == models.StatusEnded:
		return conflictf("space_ended", "ENDED is terminal")
	case next == models.StatusActive:
		if chat.Status != models.StatusPending {
			return conflictf("bad_transition", "only PENDING spaces can go live")
		}
		if chat.ScheduleAt != nil && time.Until(*chat.ScheduleAt) > spaceStartGrace {
			return conflictf("too_early", "the space cannot go live this far before its start")
		}
		chat.Status = models.StatusActive
		return nil
	case next == models.StatusEnded:
		chat.Status = models.StatusEnded
		return nil
	default:
		return validationf("bad_status", "unknown status %q", next)
	}
}

// MemberDelta is an incremental membership change.
type MemberDelta struct {
	ChatID          string
	Signer          string
	UpsertAdmins    []string
	UpsertMembers   []string
	Remove          []string
	EncryptedSecret string
	Proof           string
}

// deltaShape classifies a delta for the self-service inference.
type deltaShape int

const (
	shapeAdmin deltaShape = iota
	shapeAutoJoin
	shapeAutoLeave
)

// inferShape applies the exact-shape inference: a delta is an auto-join or
// auto-leave only when the signer is its sole subject and the other two sets
// are empty. Anything else is an admin delta.
func inferShape(d MemberDelta) deltaShape {
	switch {
	case len(d.UpsertAdmins) == 0 && len(d.Remove) == 0 &&
		len(d.UpsertMembers) == 1 && d.UpsertMembers[0] == d.Signer:
		return shapeAutoJoin
	case len(d.UpsertAdmins) == 0 && len(d.UpsertMembers) == 0 &&
		len(d.Remove) == 1 && d.Remove[0] == d.Signer:
		return shapeAutoLeave
	default:
		return shapeAdmin
	}
}

// ApplyMemberDelta runs the full membership state machine under the chat's
// critical section: shape inference, authorization, entry rules, rotation,
// the member-table mutation, projection reconciliation, audit, and fan-out.
func (s *Service) ApplyMemberDelta(ctx context.Context, d MemberDelta) (*models.Chat, *Error) {
	if perr := validateDelta(d); perr != nil {
		return nil, perr
	}

	unlock := s.locks.Lock(d.ChatID)
	defer unlock()

	chat, perr := s.loadGroup(ctx, d.ChatID, "apply_member_delta")
	if perr != nil {
		return nil, perr
	}
	members, err := s.store.ListMembers(ctx, d.ChatID)
	if err != nil {
		return nil, internalError(s.log, err, "apply_member_delta")
	}
	byAddr := make(map[string]models.ChatMember, len(members))
	for _, m := range members {
		byAddr[m.Address] = m
	}

	payload := proof.MemberDeltaPayload{
		ChatID:          d.ChatID,
		UpsertAdmins:    d.UpsertAdmins,
		UpsertMembers:   d.UpsertMembers,
		Remove:          d.Remove,
		EncryptedSecret: d.EncryptedSecret,
	}
	parsed, perr := s.verifyGroupProof(ctx, d.Proof, payload, d.Signer)
	if perr != nil {
		return nil, perr
	}

	shape := inferShape(d)
	signerRow, signerKnown := byAddr[d.Signer]

	switch shape {
	case shapeAutoJoin:
		if signerKnown && signerRow.Intent {
			return nil, conflictf("already_member", "already an approved member")
		}
		subject := s.subjectFor(ctx, d.Signer, true, "")
		if chat.Rules != nil && chat.Rules.Entry != nil && !s.engine.Evaluate(ctx, chat.Rules.Entry, subject) {
			metrics.RuleEvaluations.WithLabelValues("deny").Inc()
			return nil, &Error{Kind: KindAuthorization, Code: "entry_denied",
				Message: "entry conditions not met", Detail: []string{d.Signer}}
		}
		metrics.RuleEvaluations.WithLabelValues("allow").Inc()
		if !chat.IsPublic && !signerKnown {
			return nil, authorizationf("private_group", "a private group requires an invite")
		}

	case shapeAutoLeave:
		if !signerKnown {
			return nil, notFoundf("not_a_member", "not a member of this group")
		}

	case shapeAdmin:
		if !signerKnown || signerRow.Role != models.RoleAdmin {
			return nil, authorizationf("admin_required", "only admins may modify other members")
		}
		if !signerRow.Intent {
			return nil, authorizationf("intent_pending", "approve the group invite before administering it")
		}
		inviterRole := rules.InviterRoleAdmin
		if chat.IntentSentBy == d.Signer {
			inviterRole = rules.InviterRoleOwner
		}
		invitees := make([]string, 0, len(d.UpsertAdmins)+len(d.UpsertMembers))
		for _, a := range append(append([]string{}, d.UpsertAdmins...), d.UpsertMembers...) {
			if _, ok := byAddr[a]; !ok {
				invitees = append(invitees, a)
			}
		}
		if denied := s.deniedByEntryRules(ctx, chat.Rules, invitees, inviterRole); len(denied) > 0 {
			return nil, &Error{Kind: KindAuthorization, Code: "entry_denied",
				Message: "entry conditions not met for some invitees", Detail: denied}
		}
		for _, r := range d.Remove {
			if _, ok := byAddr[r]; !ok {
				return nil, notFoundf("not_a_member", "cannot remove %q, not a member", r)
			}
		}
	}

	if total := len(byAddr) + countNew(byAddr, d) - len(d.Remove); total > s.memberCap(chat.IsPublic) {
		return nil, validationf("too_many_members", "group exceeds the %d participant ceiling", s.memberCap(chat.IsPublic))
	}

	// A membership-sensitive change to a private keyed group forfeits the old
	// session key: someone entered on their own, or an approved member left
	// the roster.
	rotationNeeded := !chat.IsPublic && chat.SessionKey != "" &&
		(shape == shapeAutoJoin || removedApproved(byAddr, d.Remove))
	if rotationNeeded && d.EncryptedSecret == "" {
		return nil, validationf("rotation_required", "this change invalidates the session key, supply encryptedSecret")
	}

	// Apply the mutation.
	var upserts []models.ChatMember
	var joined, invited, roleChanged []string
	addUpsert := func(addr string, role models.MemberRole, intent bool) {
		upserts = append(upserts, models.ChatMember{ChatID: d.ChatID, Address: addr, Role: role, Intent: intent})
	}
	switch shape {
	case shapeAutoJoin:
		addUpsert(d.Signer, models.RoleMember, true)
		joined = append(joined, d.Signer)
	case shapeAutoLeave:
		// handled below as a removal
	case shapeAdmin:
		for _, a := range d.UpsertAdmins {
			if prev, ok := byAddr[a]; ok {
				if prev.Role != models.RoleAdmin {
					roleChanged = append(roleChanged, a)
				}
				addUpsert(a, models.RoleAdmin, prev.Intent) // reassignment preserves intent
			} else {
				addUpsert(a, models.RoleAdmin, false)
				invited = append(invited, a)
			}
		}
		for _, m := range d.UpsertMembers {
			if prev, ok := byAddr[m]; ok {
				if prev.Role != models.RoleMember {
					roleChanged = append(roleChanged, m)
				}
				addUpsert(m, models.RoleMember, prev.Intent)
			} else {
				addUpsert(m, models.RoleMember, false)
				invited = append(invited, m)
			}
		}
	}
	removals := d.Remove
	if shape == shapeAutoLeave {
		removals = []string{d.Signer}
	}

	if err := s.store.UpsertMembers(ctx, d.ChatID, upserts); err != nil {
		return nil, internalError(s.log, err, "apply_member_delta")
	}
	if err := s.store.RemoveMembers(ctx, d.ChatID, removals); err != nil {
		return nil, internalError(s.log, err, "apply_member_delta")
	}

	if rotationNeeded || (d.EncryptedSecret != "" && !chat.IsPublic) {
		key := &models.SessionKey{
			Reference:       newSessionKeyRef(),
			ChatID:          d.ChatID,
			EncryptedSecret: d.EncryptedSecret,
		}
		if err := s.store.PutSessionKey(ctx, key); err != nil {
			return nil, internalError(s.log, err, "apply_member_delta")
		}
		chat.SessionKey = key.Reference
	}

	if err := s.reconcile(ctx, chat); err != nil {
		return nil, internalError(s.log, err, "apply_member_delta")
	}

	s.auditProof(ctx, d.ChatID, d.Signer, d.Proof, parsed.Scheme, payload)
	s.auditDelta(ctx, d)
	metrics.MemberDeltas.WithLabelValues(shapeLabel(shape)).Inc()

	// Differentiated fan-out. Removed addresses are notified even though they
	// are no longer in the projection.
	roster := models.SplitCombined(chat.CombinedDID)
	switch shape {
	case shapeAutoJoin:
		s.deliver(ctx, fanout.EventJoinGroup, chat, d.Signer, map[string]any{"joined": joined}, roster)
	case shapeAutoLeave:
		s.deliver(ctx, fanout.EventLeaveGroup, chat, d.Signer, map[string]any{"left": removals}, roster)
	default:
		if len(invited) > 0 {
			s.deliver(ctx, fanout.EventRequest, chat, d.Signer, chat, invited)
		}
		if len(removals) > 0 {
			s.deliver(ctx, fanout.EventRemove, chat, d.Signer, map[string]any{"removed": removals}, removals)
			s.deliver(ctx, fanout.EventLeaveGroup, chat, d.Signer, map[string]any{"left": removals}, roster)
		}
		if len(roleChanged) > 0 {
			s.deliver(ctx, fanout.EventRoleChange, chat, d.Signer, map[string]any{"changed": roleChanged}, roster)
		}
	}
	return chat, nil
}

func validateDelta(d MemberDelta) *Error {
	if d.ChatID == "" {
		return validationf("missing_chat", "chatId is required")
	}
	if len(d.UpsertAdmins)+len(d.UpsertMembers)+len(d.Remove) == 0 {
		return validationf("empty_delta", "the delta names no members")
	}
	all := append(append(append([]string{d.Signer}, d.UpsertAdmins...), d.UpsertMembers...), d.Remove...)
	if perr := validDIDs(all); perr != nil {
		return perr
	}
	adminSet, perr := dedupeCheck(d.UpsertAdmins)
	if perr != nil {
		return perr
	}
	memberSet, perr := dedupeCheck(d.UpsertMembers)
	if perr != nil {
		return perr
	}
	removeSet, perr := dedupeCheck(d.Remove)
	if perr != nil {
		return perr
	}
	for a := range adminSet {
		if _, ok := memberSet[a]; ok {
			return validationf("overlapping_sets", "DID %q upserted with two roles", a)
		}
	}
	for r := range removeSet {
		if _, ok := adminSet[r]; ok {
			return validationf("overlapping_sets", "DID %q both upserted and removed", r)
		}
		if _, ok := memberSet[r]; ok {
			return validationf("overlapping_sets", "DID %q both upserted and removed", r)
		}
	}
	return nil
}

func countNew(existing map[string]models.ChatMember, d MemberDelta) int {
	n := 0
	for _, a := range append(append([]string{}, d.UpsertAdmins...), d.UpsertMembers...) {
		if _, ok := existing[a]; !ok {
			n++
		}
	}
	return n
}

// removedApproved reports whether any removal targets a member whose intent
// was approved.
func removedApproved(existing map[string]models.ChatMember, removals []string) bool {
	for _, r := range removals {
		if m, ok := existing[r]; ok && m.Intent {
			return true
		}
	}
	return false
}

func shapeLabel(s deltaShape) string {
	switch s {
	case shapeAutoJoin:
		return "auto_join"
	case shapeAutoLeave:
		return "auto_leave"
	default:
		return "admin"
	}
}

func (s *Service) auditDelta(ctx context.Context, d MemberDelta) {
	raw, err := json.Marshal(map[string]any{
		"upsertAdmins":  d.UpsertAdmins,
		"upsertMembers": d.UpsertMembers,
		"remove":        d.Remove,
	})
	if err != nil {
		return
	}
	audit := &models.MemberDeltaAudit{
		ID:     ulid.Make().String(),
		ChatID: d.ChatID,
		Signer: d.Signer,
		Proof:  d.Proof,
		Delta:  raw,
	}
	if err := s.store.AppendMemberDelta(ctx, audit); err != nil {
		s.log.Warn().Err(err).Str("chat", d.ChatID).Msg("delta audit append failed")
	}
}

// loadGroup fetches a chat and requires it to be a group.
func (s *Service) loadGroup(ctx context.Context, chatID, op string) (*models.Chat, *Error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, internalError(s.log, err, op)
	}
	if chat == nil {
		return nil, notFoundf("no_chat", "chat %q not found", chatID)
	}
	if !chat.IsGroup {
		return nil, validationf("not_a_group", "chat %q is not a group", chatID)
	}
	return chat, nil
}

// requireAdmin checks the signer against the admins projection. The role
// alone is not enough: admin powers activate only once the signer's own
// intent is approved.
func (s *Service) requireAdmin(chat *models.Chat, signer string) *Error {
	for _, a := range models.SplitCombined(chat.Admins) {
		if a == signer {
			if !models.HasIntent(chat.Intent, signer) {
				return authorizationf("intent_pending", "approve the group invite before administering it")
			}
			return nil
		}
	}
	return authorizationf("admin_required", "only admins may perform this operation")
}
