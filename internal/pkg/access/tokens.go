package access

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/seranking/paygate/app/models"
)

// IssueOrReuseToken returns the latest issued token for an order, creating
// one when none exists. Used by fulfillment so webhook redelivery before the
// dedup row landed cannot mint extra tokens.
func IssueOrReuseToken(repo Repository, orderID string) (*models.AccessToken, error) {
	token, err := repo.GetLatestIssuedToken(orderID)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	token = &models.AccessToken{OrderID: orderID, Status: models.TokenStatusIssued}
	if err := repo.CreateAccessToken(token); err != nil {
		return nil, err
	}
	return token, nil
}

// RotateToken revokes every issued token of an order and issues a fresh one.
// Keeps the at-most-one-issued invariant inside the caller's transaction.
func RotateToken(repo Repository, orderID, reason string, now time.Time) (*models.AccessToken, error) {
	if err := repo.RevokeIssuedTokens(orderID, reason, now); err != nil {
		return nil, err
	}
	token := &models.AccessToken{OrderID: orderID, Status: models.TokenStatusIssued}
	if err := repo.CreateAccessToken(token); err != nil {
		return nil, err
	}
	return token, nil
}
