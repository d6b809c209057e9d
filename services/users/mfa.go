package users

import (
	"context"
	"errors"

	"jelly/internal/database"
	"jelly/models"
)

var ErrFactorNotFound = errors.New("mfa factor not found")

// Factors lists the second factors enrolled on a profile.
func (s *Service) Factors(ctx context.Context, userID string) ([]models.MFAFactor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, factor_type, friendly_name, status, created_at
		FROM mfa_factors WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	factors := []models.MFAFactor{}
	for rows.Next() {
		var (
			f         models.MFAFactor
			createdAt string
		)
		if err := rows.Scan(&f.ID, &f.UserID, &f.FactorType, &f.FriendlyName, &f.Status, &createdAt); err != nil {
			return nil, err
		}
		f.CreatedAt = database.ParseTime(createdAt)
		factors = append(factors, f)
	}
	return factors, rows.Err()
}

// Unenroll removes a factor from userID's profile.
func (s *Service) Unenroll(ctx context.Context, userID, factorID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mfa_factors WHERE id = ? AND user_id = ?`, factorID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrFactorNotFound
	}
	return nil
}
