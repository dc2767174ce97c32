package idgen

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// Transaction reference
// ============================================================================
//
// Format: {group}-[{payer}-]{epoch-seconds}
//
//   soprano-2020/241781-1700000000   group "soprano", payer "2020/241781"
//   dont-1700000000                  donation, no payer
//
// The group segment selects the external ledger sheet, so the layout is part
// of the contract with the reconciler. Two references for the same payer and
// group inside one second collide; callers treat that as retryable.
// ============================================================================

// DonationGroup replaces the group segment for donations.
const DonationGroup = "dont"

var (
	ErrInvalidGroup = errors.New("group must be non-empty and must not contain '-'")
	ErrInvalidTxRef = errors.New("malformed tx_ref")
)

// TxRef is a parsed transaction reference.
type TxRef struct {
	Group string
	Payer string
	Epoch int64
}

// IsDonation reports whether the reference was issued for a donation.
func (r TxRef) IsDonation() bool {
	return r.Group == DonationGroup
}

func (r TxRef) String() string {
	if r.Payer == "" {
		return fmt.Sprintf("%s-%d", r.Group, r.Epoch)
	}
	return fmt.Sprintf("%s-%s-%d", r.Group, r.Payer, r.Epoch)
}

// NormalizeGroup lowercases and trims a group tag.
func NormalizeGroup(group string) string {
	return strings.ToLower(strings.TrimSpace(group))
}

// NewTxRef builds a reference for group and payer at now. payer may be empty.
func NewTxRef(group, payer string, donation bool, now time.Time) (string, error) {
	g := NormalizeGroup(group)
	if donation {
		g = DonationGroup
	}
	if g == "" || strings.Contains(g, "-") {
		return "", ErrInvalidGroup
	}
	ref := TxRef{Group: g, Payer: strings.TrimSpace(payer), Epoch: now.Unix()}
	return ref.String(), nil
}

// ParseTxRef splits a reference. The group ends at the first '-', the epoch
// starts after the last '-', and whatever lies between is the payer.
func ParseTxRef(s string) (TxRef, error) {
	s = strings.TrimSpace(s)
	first := strings.Index(s, "-")
	last := strings.LastIndex(s, "-")
	if first <= 0 || last == len(s)-1 {
		return TxRef{}, fmt.Errorf("%w: %q", ErrInvalidTxRef, s)
	}

	epoch, err := strconv.ParseInt(s[last+1:], 10, 64)
	if err != nil || epoch <= 0 {
		return TxRef{}, fmt.Errorf("%w: %q", ErrInvalidTxRef, s)
	}

	ref := TxRef{Group: s[:first], Epoch: epoch}
	if last > first {
		ref.Payer = s[first+1 : last]
		if ref.Payer == "" {
			return TxRef{}, fmt.Errorf("%w: %q", ErrInvalidTxRef, s)
		}
	}
	return ref, nil
}
