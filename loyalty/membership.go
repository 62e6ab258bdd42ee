/*
membership.go - Registration and member activation

PURPOSE:
  The account lifecycle. Registration creates the account, grants the
  flat welcome bonus and, when a referral code was supplied, records the
  pending referral. Activation (Join) marks the account as a paying
  member, which is the milestone referral settlement waits for.

REFERRAL FAILURES AT REGISTRATION ARE NON-FATAL:
  A bad code must not block signup. Register logs the problem and
  returns the account anyway; callers that need the outcome surfaced use
  ReferralSettlement.Register directly.
*/
package loyalty

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clubpoints/loyalty-engine/ledger"
)

// RegisterInput is the signup request.
type RegisterInput struct {
	Name  string
	Email string
	Plan  string

	// ReferralCode is the optional code of the member who referred this
	// signup.
	ReferralCode string
}

// =============================================================================
// MEMBERSHIP SERVICE
// =============================================================================

// MembershipService handles registration and activation.
type MembershipService struct {
	Store     Store
	Earning   *EarningEngine
	Referrals *ReferralSettlement
	Log       logrus.FieldLogger
	Now       func() time.Time
}

func NewMembershipService(store Store, earning *EarningEngine, referrals *ReferralSettlement, log logrus.FieldLogger) *MembershipService {
	return &MembershipService{
		Store:     store,
		Earning:   earning,
		Referrals: referrals,
		Log:       log,
		Now:       time.Now,
	}
}

// Register creates a new account, grants the welcome bonus and records the
// referral when a code was supplied.
func (m *MembershipService) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, &ledger.ValidationError{Field: "name", Message: "name required"}
	}
	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, &ledger.ValidationError{Field: "email", Message: "valid email required"}
	}
	plan, err := ParsePlanTier(in.Plan)
	if err != nil {
		return nil, err
	}

	acct := Account{
		ID:           ledger.AccountID("acct-" + uuid.NewString()),
		Name:         name,
		Email:        email,
		Plan:         plan,
		ReferralCode: NewReferralCode(),
		CreatedAt:    m.Now(),
	}
	if err := m.Store.SaveAccount(ctx, acct); err != nil {
		return nil, err
	}

	if _, err := m.Earning.Earn(ctx, acct.ID, EarnInput{
		Action:         ActionWelcome,
		Description:    "Welcome to the club",
		IdempotencyKey: "welcome:" + string(acct.ID),
	}); err != nil {
		return nil, err
	}

	if code := strings.TrimSpace(in.ReferralCode); code != "" {
		if _, err := m.Referrals.Register(ctx, code, acct.ID); err != nil {
			// Bad codes must not block signup.
			m.Log.WithError(err).WithFields(logrus.Fields{
				"account": acct.ID,
				"code":    code,
			}).Warn("referral registration skipped")
		}
	}

	return m.Store.Account(ctx, acct.ID)
}

// Join activates an account as a paying member. Fails with ErrAlreadyMember
// if the account is already active.
func (m *MembershipService) Join(ctx context.Context, id ledger.AccountID) (*Account, error) {
	acct, err := m.Store.Account(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct.IsMember {
		return nil, ledger.ErrAlreadyMember
	}

	acct.IsMember = true
	acct.MemberSince = m.Now()
	if err := m.Store.SaveAccount(ctx, *acct); err != nil {
		return nil, err
	}
	return acct, nil
}
