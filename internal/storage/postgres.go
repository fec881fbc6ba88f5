package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"cabshare/internal/model"
)

const uniqueViolation = "23505"

// Postgres is the pgx-backed Store. The pool is owned by pkg/db.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ---- users ----

const userCols = `id,name,email,phone,gender,password_hash,created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Gender, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *Postgres) CreateUser(ctx context.Context, u *model.User) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO users (id,name,email,phone,gender,password_hash,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.Name, u.Email, u.Phone, u.Gender, u.PasswordHash, u.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *Postgres) UserByID(ctx context.Context, id string) (*model.User, error) {
	return scanUser(p.db.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
}

func (p *Postgres) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(p.db.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE lower(email)=lower($1)`, email))
}

func (p *Postgres) UsersByIDs(ctx context.Context, ids []string) (map[string]*model.User, error) {
	out := make(map[string]*model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := p.db.Query(ctx, `SELECT `+userCols+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

func (p *Postgres) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	tag, err := p.db.Exec(ctx, `UPDATE users SET password_hash=$1 WHERE id=$2`, hash, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- rides ----

const rideCols = `id,source,destination,ride_date,ride_time,max_capacity,total_fare,
	is_female_only,created_by,email,passengers,created_at`

func scanRide(row pgx.Row) (*model.Ride, error) {
	var r model.Ride
	err := row.Scan(&r.ID, &r.Source, &r.Destination, &r.Date, &r.Time,
		&r.MaxCapacity, &r.TotalFare, &r.IsFemaleOnly, &r.CreatedBy, &r.Email,
		&r.Passengers, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.Passengers == nil {
		r.Passengers = []string{}
	}
	return &r, nil
}

func collectRides(rows pgx.Rows) ([]model.Ride, error) {
	defer rows.Close()
	out := []model.Ride{}
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateRide(ctx context.Context, r *model.Ride) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO rides (id,source,destination,ride_date,ride_time,max_capacity,total_fare,
		                    is_female_only,created_by,email,passengers,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.Source, r.Destination, r.Date, r.Time, r.MaxCapacity, r.TotalFare,
		r.IsFemaleOnly, r.CreatedBy, r.Email, r.Passengers, r.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *Postgres) RideByID(ctx context.Context, id string) (*model.Ride, error) {
	return scanRide(p.db.QueryRow(ctx, `SELECT `+rideCols+` FROM rides WHERE id=$1`, id))
}

func (p *Postgres) RidesByIDs(ctx context.Context, ids []string) (map[string]*model.Ride, error) {
	out := make(map[string]*model.Ride, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := p.db.Query(ctx, `SELECT `+rideCols+` FROM rides WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	rides, err := collectRides(rows)
	if err != nil {
		return nil, err
	}
	for i := range rides {
		out[rides[i].ID] = &rides[i]
	}
	return out, nil
}

func (p *Postgres) RidesForUser(ctx context.Context, email, userID string) ([]model.Ride, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+rideCols+` FROM rides
		 WHERE lower(email)=lower($1) OR ($2 <> '' AND $2 = ANY(passengers))
		 ORDER BY created_at DESC`, email, userID)
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

func (p *Postgres) SearchRides(ctx context.Context, f model.RideFilter) ([]model.Ride, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+rideCols+` FROM rides
		 WHERE ($1 = '' OR lower(source) = lower($1))
		   AND ($2 = '' OR lower(destination) = lower($2))
		   AND ($3::date IS NULL OR ride_date = $3::date)
		   AND max_capacity - cardinality(passengers) >= $4
		   AND ($5::boolean IS NULL OR is_female_only = $5::boolean)
		 ORDER BY created_at DESC
		 LIMIT $6`,
		strings.TrimSpace(f.Source), strings.TrimSpace(f.Destination), f.Date, f.MinSeats, f.FemaleOnly, limitOr(f.Limit))
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

// AppendPassengers appends userID seats times in one guarded UPDATE, so two
// concurrent callers can never both pass the capacity check.
func (p *Postgres) AppendPassengers(ctx context.Context, rideID, userID string, seats int) (*model.Ride, error) {
	r, err := scanRide(p.db.QueryRow(ctx,
		`UPDATE rides
		 SET passengers = passengers || array_fill($2::text, ARRAY[$3::int])
		 WHERE id=$1 AND cardinality(passengers) + $3::int <= max_capacity
		 RETURNING `+rideCols, rideID, userID, seats))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := p.RideByID(ctx, rideID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrCapacity
	}
	return r, err
}

func (p *Postgres) RemovePassenger(ctx context.Context, rideID, userID string) (*model.Ride, error) {
	return scanRide(p.db.QueryRow(ctx,
		`UPDATE rides SET passengers = array_remove(passengers, $2::text)
		 WHERE id=$1 RETURNING `+rideCols, rideID, userID))
}

// ---- requests ----

const requestCols = `id,ride_id,requester,status,seats,created_at,decided_at`

func scanRequest(row pgx.Row) (*model.Request, error) {
	var (
		r      model.Request
		status string
	)
	err := row.Scan(&r.ID, &r.RideID, &r.Requester, &status, &r.Seats, &r.CreatedAt, &r.DecidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = model.RequestStatus(status)
	return &r, nil
}

func (p *Postgres) CreateRequest(ctx context.Context, req *model.Request) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO requests (id,ride_id,requester,status,seats,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		req.ID, req.RideID, req.Requester, string(req.Status), req.Seats, req.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *Postgres) RequestByID(ctx context.Context, id string) (*model.Request, error) {
	return scanRequest(p.db.QueryRow(ctx, `SELECT `+requestCols+` FROM requests WHERE id=$1`, id))
}

func (p *Postgres) RequestFor(ctx context.Context, rideID, requesterID string) (*model.Request, error) {
	return scanRequest(p.db.QueryRow(ctx,
		`SELECT `+requestCols+` FROM requests WHERE ride_id=$1 AND requester=$2`, rideID, requesterID))
}

func (p *Postgres) SetRequestStatus(ctx context.Context, id string, from []model.RequestStatus, to model.RequestStatus, at *time.Time) (*model.Request, error) {
	r, err := scanRequest(p.db.QueryRow(ctx,
		`UPDATE requests SET status=$2, decided_at=COALESCE($3::timestamptz, decided_at)
		 WHERE id=$1 AND status = ANY($4::text[])
		 RETURNING `+requestCols, id, string(to), at, statusStrings(from)))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := p.RequestByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrConflict
	}
	return r, err
}

func (p *Postgres) ListRequests(ctx context.Context, f model.RequestFilter) ([]model.Request, error) {
	var (
		where []string
		args  []any
	)
	if len(f.RideIDs) > 0 {
		args = append(args, f.RideIDs)
		where = append(where, fmt.Sprintf("ride_id = ANY($%d)", len(args)))
	}
	if f.RequesterID != "" {
		args = append(args, f.RequesterID)
		where = append(where, fmt.Sprintf("requester = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	q := `SELECT ` + requestCols + ` FROM requests`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`

	rows, err := p.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Request{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ---- messages ----

func (p *Postgres) CreateMessage(ctx context.Context, m *model.Message) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO messages (id,ride_id,sender_id,sender_name,body,system,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.RideID, m.SenderID, m.SenderName, m.Body, m.System, m.CreatedAt)
	return err
}

func (p *Postgres) MessagesByRide(ctx context.Context, rideID string, since time.Time, limit int) ([]model.Message, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id,ride_id,sender_id,sender_name,body,system,created_at
		 FROM messages WHERE ride_id=$1 AND created_at > $2
		 ORDER BY created_at ASC LIMIT $3`, rideID, since, limitOr(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Message{}
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.RideID, &m.SenderID, &m.SenderName, &m.Body, &m.System, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close is a no-op; pkg/db closes the pool.
func (p *Postgres) Close(context.Context) error { return nil }

var _ Store = (*Postgres)(nil)
