package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/protocollm/seat-licensing/internal/license"
	"github.com/protocollm/seat-licensing/internal/model"
)

// SeatRepo provides data access to the `seats` table and implements
// license.SeatStore.  The UNCLAIMED->CLAIMED and CLAIMED->UNCLAIMED
// transitions are single conditional UPDATEs judged by RowsAffected so
// at most one concurrent caller can win a given transition; there is no
// read-then-write anywhere on those paths.  All timestamps are UTC.
//
// Table layout:
//   id                 BIGINT UNSIGNED PK AUTO_INCREMENT
//   purchaser_user_id  BIGINT UNSIGNED, indexed
//   status             ENUM('UNCLAIMED','CLAIMED','REVOKED')
//   invite_code        VARCHAR(16) NULL UNIQUE  -- live code, UNCLAIMED only
//   spent_invite_code  VARCHAR(16) NULL         -- last redeemed code
//   claimer_user_id    BIGINT UNSIGNED NULL
//   device_fingerprint CHAR(64) NULL, indexed
//   created_at         DATETIME DEFAULT UTC now
//   claimed_at         DATETIME NULL
//   revoked_at         DATETIME NULL
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo returns a SeatRepo bound to the provided database.
func NewSeatRepo(db *sql.DB) *SeatRepo { return &SeatRepo{db: db} }

var _ license.SeatStore = (*SeatRepo)(nil)

const seatColumns = `id, purchaser_user_id, status, invite_code, claimer_user_id, device_fingerprint, created_at, claimed_at, revoked_at`

// scanSeat reads one seats row from a Row or Rows scanner.
func scanSeat(scan func(dest ...any) error) (model.Seat, error) {
	var (
		s           model.Seat
		status      string
		inviteCode  sql.NullString
		claimerID   sql.NullInt64
		fingerprint sql.NullString
		claimedAt   sql.NullTime
		revokedAt   sql.NullTime
	)
	err := scan(&s.ID, &s.PurchaserID, &status, &inviteCode, &claimerID, &fingerprint, &s.CreatedAt, &claimedAt, &revokedAt)
	if err != nil {
		return model.Seat{}, err
	}
	s.Status = model.SeatStatus(status)
	if inviteCode.Valid {
		v := inviteCode.String
		s.InviteCode = &v
	}
	if claimerID.Valid {
		v := uint64(claimerID.Int64)
		s.ClaimerID = &v
	}
	if fingerprint.Valid {
		v := fingerprint.String
		s.DeviceFingerprint = &v
	}
	if claimedAt.Valid {
		v := claimedAt.Time
		s.ClaimedAt = &v
	}
	if revokedAt.Valid {
		v := revokedAt.Time
		s.RevokedAt = &v
	}
	return s, nil
}

// CountByPurchaser counts the purchaser's live (non-retired) seats.
// Retired rows stay terminal but are invisible to inventory
// reconciliation, so a purchaser who cancels and later re-subscribes
// gets fresh seats instead of being starved by their own tombstones.
func (r *SeatRepo) CountByPurchaser(ctx context.Context, purchaserID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seats WHERE purchaser_user_id = ? AND status <> 'REVOKED'`,
		purchaserID).Scan(&n)
	return n, err
}

// CreateUnclaimed inserts a fresh UNCLAIMED seat.  A collision with a
// live invite code trips the unique index and is reported as
// license.ErrDuplicateCode so the caller can mint another code.
func (r *SeatRepo) CreateUnclaimed(ctx context.Context, purchaserID uint64, inviteCode string) (model.Seat, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO seats (purchaser_user_id, status, invite_code) VALUES (?, 'UNCLAIMED', ?)`,
		purchaserID, inviteCode)
	if err != nil {
		if isDuplicateKey(err) {
			return model.Seat{}, license.ErrDuplicateCode
		}
		return model.Seat{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Seat{}, err
	}
	return r.GetByID(ctx, uint64(id))
}

// GetByID loads a single seat row.
func (r *SeatRepo) GetByID(ctx context.Context, seatID uint64) (model.Seat, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+seatColumns+` FROM seats WHERE id = ? LIMIT 1`, seatID)
	seat, err := scanSeat(row.Scan)
	if err == sql.ErrNoRows {
		return model.Seat{}, license.ErrSeatNotFound
	}
	return seat, err
}

// FindByInviteCode resolves a code against live and spent codes.  The
// live match wins when both somehow exist.
func (r *SeatRepo) FindByInviteCode(ctx context.Context, code string) (model.Seat, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+seatColumns+`
         FROM seats
         WHERE invite_code = ? OR spent_invite_code = ?
         ORDER BY (invite_code = ?) DESC
         LIMIT 1`,
		code, code, code)
	seat, err := scanSeat(row.Scan)
	if err == sql.ErrNoRows {
		return model.Seat{}, false, license.ErrInviteNotFound
	}
	if err != nil {
		return model.Seat{}, false, err
	}
	spent := seat.InviteCode == nil || *seat.InviteCode != code
	return seat, spent, nil
}

// ListByPurchaser returns all seats for the purchaser, most recently
// created first.
func (r *SeatRepo) ListByPurchaser(ctx context.Context, purchaserID uint64) ([]model.Seat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+seatColumns+` FROM seats WHERE purchaser_user_id = ? ORDER BY created_at DESC, id DESC`,
		purchaserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var seats []model.Seat
	for rows.Next() {
		s, err := scanSeat(rows.Scan)
		if err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return seats, nil
}

// Claim performs the UNCLAIMED->CLAIMED transition as a single
// conditional UPDATE.  The redeemed code moves to spent_invite_code so
// a losing racer (or a later retry with the same code) can be answered
// with ErrAlreadyClaimed instead of an enumeration-friendly not-found.
func (r *SeatRepo) Claim(ctx context.Context, inviteCode string, claimerID uint64, fingerprint string) (model.Seat, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE seats
         SET status = 'CLAIMED',
             claimer_user_id = ?,
             device_fingerprint = ?,
             claimed_at = UTC_TIMESTAMP(),
             spent_invite_code = invite_code,
             invite_code = NULL
         WHERE invite_code = ? AND status = 'UNCLAIMED'`,
		claimerID, fingerprint, inviteCode)
	if err != nil {
		return model.Seat{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race or the code never existed; disambiguate for the
		// caller without ever succeeding twice.
		if _, _, err := r.FindByInviteCode(ctx, inviteCode); err != nil {
			return model.Seat{}, err
		}
		return model.Seat{}, license.ErrAlreadyClaimed
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+seatColumns+` FROM seats WHERE spent_invite_code = ? AND claimer_user_id = ? LIMIT 1`,
		inviteCode, claimerID)
	seat, err := scanSeat(row.Scan)
	if err == sql.ErrNoRows {
		// We won the claim but the row was retired before the read-back
		// (subscription cancelled mid-flight, which nulls the spent
		// code).  The binding did not survive, so report it as such
		// rather than as a persistence failure.
		return model.Seat{}, license.ErrSeatRetired
	}
	if err != nil {
		return model.Seat{}, fmt.Errorf("read back claimed seat: %w", err)
	}
	return seat, nil
}

// Release performs the CLAIMED->UNCLAIMED transition, installing a new
// invite code and clearing the device binding.  The old code stays
// spent forever.
func (r *SeatRepo) Release(ctx context.Context, seatID uint64, newCode string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE seats
         SET status = 'UNCLAIMED',
             invite_code = ?,
             claimer_user_id = NULL,
             device_fingerprint = NULL,
             revoked_at = UTC_TIMESTAMP()
         WHERE id = ? AND status = 'CLAIMED'`,
		newCode, seatID)
	if err != nil {
		if isDuplicateKey(err) {
			return license.ErrDuplicateCode
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return license.ErrSeatNotClaimed
	}
	return nil
}

// ClaimedCountByFingerprint counts active seats bound to a device.
func (r *SeatRepo) ClaimedCountByFingerprint(ctx context.Context, fingerprint string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seats WHERE device_fingerprint = ? AND status = 'CLAIMED'`,
		fingerprint).Scan(&n)
	return n, err
}

// RetireByPurchaser retires every non-retired seat of the purchaser,
// wiping codes and bindings so no retired seat can ever be claimed.
func (r *SeatRepo) RetireByPurchaser(ctx context.Context, purchaserID uint64) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE seats
         SET status = 'REVOKED',
             invite_code = NULL,
             spent_invite_code = NULL,
             claimer_user_id = NULL,
             device_fingerprint = NULL,
             revoked_at = UTC_TIMESTAMP()
         WHERE purchaser_user_id = ? AND status <> 'REVOKED'`,
		purchaserID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
