package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sayooj2275/ecotrace/common"
	"github.com/Sayooj2275/ecotrace/models"
)

const requestColumns = "id, requester_ref, assignee_ref, status, category, estimated_weight, collected_weight, description, evidence_ref, quality_rating, created_at, updated_at, expires_at"

var _ models.RequestRepository = &RequestDatabase{}
var _ models.ProfileRepository = &RequestDatabase{}

// errNotApplied rolls back a transaction whose conditions did not hold
var errNotApplied = errors.New("db: conditions not met")

type RequestDatabase struct {
	pool   *pgxpool.Pool
	logger models.Logger
}

type RequestDbOpts struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

func NewRequestDb(ctx context.Context, logger models.Logger, opts RequestDbOpts) (*RequestDatabase, error) {
	connUrl := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		opts.User,
		opts.Password,
		opts.Host,
		opts.Port,
		opts.Name,
	)
	dbCtx, dbCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer dbCancel()

	pool, err := pgxpool.New(dbCtx, connUrl)
	if err != nil {
		logger.Errorf("db: error connecting to db: %v", err)
		return nil, err
	}
	for _, stmt := range schema {
		if _, err = pool.Exec(dbCtx, stmt); err != nil {
			pool.Close()
			logger.Errorf("db: error applying schema: %v", err)
			return nil, err
		}
	}
	return &RequestDatabase{pool, logger}, nil
}

func (rdb *RequestDatabase) Close() {
	rdb.pool.Close()
}

func (rdb *RequestDatabase) CreateRequest(ctx context.Context, req *models.PickupRequest, code *models.VerificationCode) error {
	dbCtx, dbCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer dbCancel()

	return pgx.BeginFunc(dbCtx, rdb.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(
			dbCtx,
			"INSERT INTO pickup_request ("+requestColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)",
			req.Id,
			req.RequesterRef,
			req.AssigneeRef,
			string(req.Status),
			req.Category,
			req.EstimatedWeight,
			req.CollectedWeight,
			req.Description,
			req.EvidenceRef,
			req.QualityRating,
			req.CreatedAt,
			req.UpdatedAt,
			req.ExpiresAt,
		); err != nil {
			rdb.logger.Errorf("db: error inserting request %s: %v", req.Id, err)
			return err
		}
		_, err := tx.Exec(
			dbCtx,
			"INSERT INTO verification_code (request_id, code, consumed, created_at) VALUES ($1, $2, $3, $4)",
			code.RequestId,
			code.Code,
			code.Consumed,
			code.CreatedAt,
		)
		return err
	})
}

func (rdb *RequestDatabase) GetRequest(ctx context.Context, id uuid.UUID) (*models.PickupRequest, error) {
	reqs, err := rdb.query(ctx, "SELECT "+requestColumns+" FROM pickup_request WHERE id = $1", id)
	if err != nil {
		return nil, err
	} else if len(reqs) == 0 {
		return nil, models.ErrNotFound
	}
	return reqs[0], nil
}

func (rdb *RequestDatabase) ReadCode(ctx context.Context, id uuid.UUID) (*models.VerificationCode, error) {
	dbCtx, dbCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer dbCancel()

	code := models.VerificationCode{}
	err := rdb.pool.QueryRow(
		dbCtx,
		"SELECT request_id, code, consumed, created_at, consumed_at FROM verification_code WHERE request_id = $1",
		id,
	).Scan(&code.RequestId, &code.Code, &code.Consumed, &code.CreatedAt, &code.ConsumedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &code, nil
}

func (rdb *RequestDatabase) GetProfile(ctx context.Context, ref string) (*models.Profile, error) {
	dbCtx, dbCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer dbCancel()

	profile := models.Profile{}
	var role string
	err := rdb.pool.QueryRow(
		dbCtx,
		"SELECT ref, role, display_name, organization, city, contact FROM profile WHERE ref = $1",
		ref,
	).Scan(&profile.Ref, &role, &profile.DisplayName, &profile.Organization, &profile.City, &profile.Contact)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	profile.Role = models.Role(role)
	return &profile, nil
}

func (rdb *RequestDatabase) PutProfile(ctx context.Context, profile *models.Profile) error {
	dbCtx, dbCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer dbCancel()

	_, err := rdb.pool.Exec(
		dbCtx,
		`INSERT INTO profile (ref, role, display_name, organization, city, contact) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ref) DO UPDATE SET role = $2, display_name = $3, organization = $4, city = $5, contact = $6`,
		profile.Ref,
		string(profile.Role),
		profile.DisplayName,
		profile.Organization,
		profile.City,
		profile.Contact,
	)
	return err
}

func (rdb *RequestDatabase) ListOpen(ctx context.Context, filter models.OpenFilter, now time.Time) ([]*models.PickupRequest, error) {
	query := "SELECT " + requestColumns + " FROM pickup_request WHERE status = $1 AND assignee_ref IS NULL AND (expires_at IS NULL OR expires_at >= $2)"
	args := []any{string(models.RequestStatus_Open), now}
	if len(filter.Category) > 0 {
		args = append(args, filter.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return rdb.query(ctx, query, args...)
}

func (rdb *RequestDatabase) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.PickupRequest, error) {
	return rdb.query(
		ctx,
		"SELECT "+requestColumns+" FROM pickup_request WHERE status = $1 AND expires_at < $2 ORDER BY created_at LIMIT $3",
		string(models.RequestStatus_Open),
		now,
		limit,
	)
}

func (rdb *RequestDatabase) ListByRequester(ctx context.Context, requesterRef string) ([]*models.PickupRequest, error) {
	return rdb.query(ctx, "SELECT "+requestColumns+" FROM pickup_request WHERE requester_ref = $1 ORDER BY created_at DESC", requesterRef)
}

func (rdb *RequestDatabase) ListByAssignee(ctx context.Context, handlerRef string) ([]*models.PickupRequest, error) {
	return rdb.query(ctx, "SELECT "+requestColumns+" FROM pickup_request WHERE assignee_ref = $1 ORDER BY created_at DESC", handlerRef)
}

func (rdb *RequestDatabase) SealedStats(ctx context.Context, requesterRef string) (int, *float64, error) {
	dbCtx, dbCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer dbCancel()

	var count int
	var avgRating *float64
	err := rdb.pool.QueryRow(
		dbCtx,
		"SELECT COUNT(*), AVG(quality_rating)::float8 FROM pickup_request WHERE requester_ref = $1 AND status = $2",
		requesterRef,
		string(models.RequestStatus_Sealed),
	).Scan(&count, &avgRating)
	if err != nil {
		return 0, nil, err
	}
	return count, avgRating, nil
}

func (rdb *RequestDatabase) ConditionalClaim(ctx context.Context, id uuid.UUID, handlerRef string, now time.Time) (bool, error) {
	return rdb.conditionalExec(
		ctx,
		`UPDATE pickup_request SET status = $1, assignee_ref = $2, updated_at = $3
		WHERE id = $4 AND status = $5 AND assignee_ref IS NULL AND (expires_at IS NULL OR expires_at >= $3)`,
		string(models.RequestStatus_Claimed),
		handlerRef,
		now,
		id,
		string(models.RequestStatus_Open),
	)
}

func (rdb *RequestDatabase) ConditionalRelease(ctx context.Context, id uuid.UUID, handlerRef string, now time.Time) (bool, error) {
	return rdb.conditionalExec(
		ctx,
		"UPDATE pickup_request SET status = $1, assignee_ref = NULL, updated_at = $2 WHERE id = $3 AND status = $4 AND assignee_ref = $5",
		string(models.RequestStatus_Open),
		now,
		id,
		string(models.RequestStatus_Claimed),
		handlerRef,
	)
}

func (rdb *RequestDatabase) ConditionalExpire(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return rdb.conditionalExec(
		ctx,
		"UPDATE pickup_request SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4 AND expires_at < $2",
		string(models.RequestStatus_Expired),
		now,
		id,
		string(models.RequestStatus_Open),
	)
}

// ConditionalSeal seals the request and consumes its code in one transaction. The request row is locked by the first
// update, so a concurrent release or seal cannot interleave with the code check.
func (rdb *RequestDatabase) ConditionalSeal(ctx context.Context, in models.SealInput) (bool, error) {
	dbCtx, dbCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer dbCancel()

	err := pgx.BeginFunc(dbCtx, rdb.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(
			dbCtx,
			`UPDATE pickup_request SET status = $1, collected_weight = $2, quality_rating = $3, updated_at = $4
			WHERE id = $5 AND status = $6 AND assignee_ref = $7`,
			string(models.RequestStatus_Sealed),
			in.Weight,
			in.Rating,
			in.Now,
			in.Id,
			string(models.RequestStatus_Claimed),
			in.HandlerRef,
		)
		if err != nil {
			return err
		} else if tag.RowsAffected() == 0 {
			return errNotApplied
		}
		if tag, err = tx.Exec(
			dbCtx,
			"UPDATE verification_code SET consumed = TRUE, consumed_at = $1 WHERE request_id = $2 AND code = $3 AND NOT consumed",
			in.Now,
			in.Id,
			in.Code,
		); err != nil {
			return err
		} else if tag.RowsAffected() == 0 {
			return errNotApplied
		}
		return nil
	})
	if errors.Is(err, errNotApplied) {
		return false, nil
	} else if err != nil {
		rdb.logger.Errorf("db: error sealing %s: %v", in.Id, err)
		return false, err
	}
	return true, nil
}

func (rdb *RequestDatabase) conditionalExec(ctx context.Context, sql string, args ...any) (bool, error) {
	dbCtx, dbCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer dbCancel()

	tag, err := rdb.pool.Exec(dbCtx, sql, args...)
	if err != nil {
		rdb.logger.Errorf("db: error updating db: %v", err)
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (rdb *RequestDatabase) query(ctx context.Context, sql string, args ...any) ([]*models.PickupRequest, error) {
	dbCtx, dbCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer dbCancel()

	rows, err := rdb.pool.Query(dbCtx, sql, args...)
	if err != nil {
		rdb.logger.Errorf("db: error querying db: %v", err)
		return nil, err
	}
	defer rows.Close()

	reqs := make([]*models.PickupRequest, 0)
	for rows.Next() {
		req := new(models.PickupRequest)
		var status string
		if err = rows.Scan(
			&req.Id,
			&req.RequesterRef,
			&req.AssigneeRef,
			&status,
			&req.Category,
			&req.EstimatedWeight,
			&req.CollectedWeight,
			&req.Description,
			&req.EvidenceRef,
			&req.QualityRating,
			&req.CreatedAt,
			&req.UpdatedAt,
			&req.ExpiresAt,
		); err != nil {
			return nil, err
		}
		req.Status = models.RequestStatus(status)
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}
