package rules

import (
	"context"
	"math"
	"math/big"
	"time"

	"github.com/rs/zerolog"
)

// ChainQuerier looks up token holdings through an external chain RPC.
type ChainQuerier interface {
	BalanceOf(ctx context.Context, chainID int64, contract, holder string) (*big.Int, error)
	OwnerOf(ctx context.Context, chainID int64, contract, tokenID string) (string, error)
}

// Role is one role membership returned by the external role service.
type Role struct {
	ID     string `json:"id"`
	Access bool   `json:"access"`
}

// RoleQuerier looks up role membership for an address in an external group.
type RoleQuerier interface {
	RolesOf(ctx context.Context, groupID, address string) ([]Role, error)
}

// EndpointChecker performs the GET-only custom endpoint probe.
type EndpointChecker interface {
	Check(ctx context.Context, urlTemplate, address string) (bool, error)
}

// Subject is the address a tree is evaluated for, plus the invite provenance
// context needed by INVITE leaves.
type Subject struct {
	Address     string
	AutoJoin    bool
	InviterRole string // ADMIN or OWNER when admin-invited, empty otherwise
}

// Engine evaluates condition trees. Any leaf lookup failure evaluates that
// leaf to false; a misconfigured or unreachable condition denies, it never
// crashes the calling mutation or defaults to allow.
type Engine struct {
	chain    ChainQuerier
	roles    RoleQuerier
	endpoint EndpointChecker
	timeout  time.Duration
	log      zerolog.Logger
}

// NewEngine wires the engine's leaf capabilities. Any of them may be nil, in
// which case the corresponding leaves evaluate to false.
func NewEngine(chain ChainQuerier, roles RoleQuerier, endpoint EndpointChecker, timeout time.Duration, log zerolog.Logger) *Engine {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Engine{chain: chain, roles: roles, endpoint: endpoint, timeout: timeout, log: log}
}

// Evaluate walks the tree depth-first with short-circuiting combinators.
func (e *Engine) Evaluate(ctx context.Context, n *Node, s Subject) bool {
	switch {
	case n == nil:
		return true
	case n.Any != nil:
		for _, child := range n.Any {
			if e.Evaluate(ctx, child, s) {
				return true
			}
		}
		return false
	case n.All != nil:
		for _, child := range n.All {
			if !e.Evaluate(ctx, child, s) {
				return false
			}
		}
		return true
	case n.Leaf != nil:
		return e.evaluateLeaf(ctx, n.Leaf, s)
	default:
		return false
	}
}

// Annotate evaluates every node eagerly (no short-circuit) and returns the
// fully annotated tree for introspection responses.
func (e *Engine) Annotate(ctx context.Context, n *Node, s Subject) *Annotated {
	switch {
	case n == nil:
		return nil
	case n.Any != nil:
		out := &Annotated{Any: make([]*Annotated, 0, len(n.Any))}
		for _, child := range n.Any {
			ac := e.Annotate(ctx, child, s)
			out.Access = out.Access || ac.Access
			out.Any = append(out.Any, ac)
		}
		return out
	case n.All != nil:
		out := &Annotated{All: make([]*Annotated, 0, len(n.All)), Access: true}
		for _, child := range n.All {
			ac := e.Annotate(ctx, child, s)
			out.Access = out.Access && ac.Access
			out.All = append(out.All, ac)
		}
		return out
	default:
		return &Annotated{Leaf: n.Leaf, Access: e.evaluateLeaf(ctx, n.Leaf, s)}
	}
}

func (e *Engine) evaluateLeaf(ctx context.Context, l *Leaf, s Subject) bool {
	if l == nil {
		return false
	}
	switch l.Category {
	case CategoryERC20, CategoryERC721:
		return e.evaluateHolding(ctx, l, s)
	case CategoryGuild:
		return e.evaluateRole(ctx, l, s)
	case CategoryEndpoint:
		return e.evaluateEndpoint(ctx, l, s)
	case CategoryInvite:
		return evaluateInvite(l, s)
	default:
		e.log.Debug().Str("category", l.Category).Msg("unknown rule category, denying")
		return false
	}
}

func (e *Engine) evaluateHolding(ctx context.Context, l *Leaf, s Subject) bool {
	if e.chain == nil {
		return false
	}
	chainID, contract, err := ParseContractRef(l.Data.Contract)
	if err != nil {
		e.log.Debug().Err(err).Msg("holding rule with bad contract, denying")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	balance, err := e.chain.BalanceOf(ctx, chainID, contract, s.Address)
	if err != nil {
		e.log.Debug().Err(err).Str("contract", contract).Msg("balance lookup failed, denying")
		return false
	}

	required := requiredUnits(l)
	return compare(l.Data.Comparison, balance, required)
}

// requiredUnits converts the configured amount to raw token units. ERC-20
// amounts are scaled by the configured decimals; ERC-721 amounts are whole
// token counts.
func requiredUnits(l *Leaf) *big.Int {
	if l.Category == CategoryERC721 {
		return big.NewInt(int64(math.Round(l.Data.Amount)))
	}
	f := new(big.Float).SetFloat64(l.Data.Amount)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(l.Data.Decimals)), nil))
	f.Mul(f, scale)
	units, _ := f.Int(nil)
	return units
}

func compare(op string, have, want *big.Int) bool {
	cmp := have.Cmp(want)
	switch op {
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	default: // ">=" and the documented default
		return cmp >= 0
	}
}

func (e *Engine) evaluateRole(ctx context.Context, l *Leaf, s Subject) bool {
	if e.roles == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	roles, err := e.roles.RolesOf(ctx, l.Data.GroupID, s.Address)
	if err != nil {
		e.log.Debug().Err(err).Str("group", l.Data.GroupID).Msg("role lookup failed, denying")
		return false
	}
	for _, r := range roles {
		if !r.Access {
			continue
		}
		if l.Data.RoleID == "" || l.Data.RoleID == r.ID {
			return true
		}
	}
	return false
}

func (e *Engine) evaluateEndpoint(ctx context.Context, l *Leaf, s Subject) bool {
	if e.endpoint == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ok, err := e.endpoint.Check(ctx, l.Data.URL, s.Address)
	if err != nil {
		e.log.Debug().Err(err).Msg("endpoint check failed, denying")
		return false
	}
	return ok
}

// evaluateInvite is pure: auto-joins bypass the invite gate entirely, explicit
// invites pass only when the inviter held one of the configured roles.
func evaluateInvite(l *Leaf, s Subject) bool {
	if s.AutoJoin {
		return true
	}
	for _, role := range l.Data.InviterRoles {
		if role == s.InviterRole {
			return true
		}
	}
	return false
}
