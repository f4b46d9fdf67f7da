package rules

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	maxEndpointURLLen = 256
	maxGroupIDLen     = 64
	maxTreeDepth      = 8
)

var validComparisons = map[string]struct{}{
	"": {}, ">": {}, "<": {}, ">=": {}, "<=": {}, "==": {}, "!=": {},
}

// ValidateRuleSet structurally validates entry and chat rules before they are
// persisted. Evaluation never runs here; this catches misconfigured trees at
// save time so a broken condition cannot silently deny everyone later.
func ValidateRuleSet(rs *RuleSet) error {
	if rs == nil {
		return nil
	}
	if rs.Entry != nil {
		if err := validateNode(rs.Entry, true, 0); err != nil {
			return fmt.Errorf("entry rules: %w", err)
		}
	}
	if rs.Chat != nil {
		if err := validateNode(rs.Chat, false, 0); err != nil {
			return fmt.Errorf("chat rules: %w", err)
		}
	}
	return nil
}

func validateNode(n *Node, entryRules bool, depth int) error {
	if depth > maxTreeDepth {
		return fmt.Errorf("%w: tree deeper than %d", ErrMalformedCondition, maxTreeDepth)
	}
	switch {
	case n.Any != nil:
		if len(n.Any) == 0 {
			return fmt.Errorf("%w: empty any combinator", ErrMalformedCondition)
		}
		for _, child := range n.Any {
			if err := validateNode(child, entryRules, depth+1); err != nil {
				return err
			}
		}
		return nil
	case n.All != nil:
		if len(n.All) == 0 {
			return fmt.Errorf("%w: empty all combinator", ErrMalformedCondition)
		}
		for _, child := range n.All {
			if err := validateNode(child, entryRules, depth+1); err != nil {
				return err
			}
		}
		return nil
	case n.Leaf != nil:
		return validateLeaf(n.Leaf, entryRules)
	default:
		return fmt.Errorf("%w: empty node", ErrMalformedCondition)
	}
}

func validateLeaf(l *Leaf, entryRules bool) error {
	if _, ok := validComparisons[l.Data.Comparison]; !ok {
		return fmt.Errorf("%w: unknown comparison %q", ErrMalformedCondition, l.Data.Comparison)
	}

	switch l.Category {
	case CategoryERC20:
		if err := validateContractRef(l.Data.Contract); err != nil {
			return err
		}
		if l.Data.Amount <= 0 {
			return fmt.Errorf("%w: ERC20 amount must be positive", ErrMalformedCondition)
		}
		if l.Data.Decimals <= 0 || l.Data.Decimals > 36 {
			return fmt.Errorf("%w: ERC20 decimals required (1-36)", ErrMalformedCondition)
		}
		return nil

	case CategoryERC721:
		if err := validateContractRef(l.Data.Contract); err != nil {
			return err
		}
		if l.Data.Amount <= 0 {
			return fmt.Errorf("%w: ERC721 amount must be positive", ErrMalformedCondition)
		}
		return nil

	case CategoryGuild:
		id := strings.TrimSpace(l.Data.GroupID)
		if id == "" || len(id) > maxGroupIDLen {
			return fmt.Errorf("%w: GUILD groupId required (max %d chars)", ErrMalformedCondition, maxGroupIDLen)
		}
		return nil

	case CategoryEndpoint:
		return validateEndpointURL(l.Data.URL)

	case CategoryInvite:
		if !entryRules {
			return fmt.Errorf("%w: INVITE conditions are only valid in entry rules", ErrMalformedCondition)
		}
		if len(l.Data.InviterRoles) == 0 {
			return fmt.Errorf("%w: INVITE requires inviterRoles", ErrMalformedCondition)
		}
		for _, role := range l.Data.InviterRoles {
			if role != InviterRoleAdmin && role != InviterRoleOwner {
				return fmt.Errorf("%w: unknown inviter role %q", ErrMalformedCondition, role)
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown condition category %q", ErrMalformedCondition, l.Category)
	}
}

func validateContractRef(ref string) error {
	_, _, err := ParseContractRef(ref)
	return err
}

// ParseContractRef splits an eip155:<chainId>:<address> contract reference.
func ParseContractRef(ref string) (chainID int64, address string, err error) {
	parts := strings.Split(ref, ":")
	if len(parts) != 3 || parts[0] != "eip155" {
		return 0, "", fmt.Errorf("%w: bad contract reference %q", ErrMalformedCondition, ref)
	}
	chainID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil || chainID <= 0 {
		return 0, "", fmt.Errorf("%w: bad chain id in %q", ErrMalformedCondition, ref)
	}
	if !common.IsHexAddress(parts[2]) {
		return 0, "", fmt.Errorf("%w: bad contract address in %q", ErrMalformedCondition, ref)
	}
	return chainID, common.HexToAddress(parts[2]).Hex(), nil
}

func validateEndpointURL(raw string) error {
	if raw == "" || len(raw) > maxEndpointURLLen {
		return fmt.Errorf("%w: endpoint url required (max %d chars)", ErrMalformedCondition, maxEndpointURLLen)
	}
	if strings.Count(raw, "{{address}}") != 1 {
		return fmt.Errorf("%w: endpoint url needs exactly one {{address}} placeholder", ErrMalformedCondition)
	}
	u, err := url.Parse(strings.ReplaceAll(raw, "{{address}}", "0x0"))
	if err != nil {
		return fmt.Errorf("%w: endpoint url unparseable", ErrMalformedCondition)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: endpoint url must be http(s)", ErrMalformedCondition)
	}
	return nil
}
