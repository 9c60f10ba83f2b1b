package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/taxi-dispatch/internal/errs"
	"github.com/example/taxi-dispatch/internal/models"
)

const uniqueViolation = "23505"

// PostgresStore implements OrderStore and DriverStore on database/sql with lib/pq.
// All conditional transitions are single UPDATE statements guarded by the expected status.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	// quick ping
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db, now: time.Now}, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

const orderColumns = `id, client_id, kind, pickup_lat, pickup_lon, pickup_address, dest_lat, dest_lon, dest_address,
	description, weight_kg, urgent, distance_km, price, status, driver_id, cancel_reason, rating,
	created_at, updated_at, started_at, completed_at, cancelled_at`

func (p *PostgresStore) CreateOrder(ctx context.Context, o *models.Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = p.now()
	}
	o.UpdatedAt = o.CreatedAt
	var destLat, destLon sql.NullFloat64
	if o.Destination != nil {
		destLat = sql.NullFloat64{Float64: o.Destination.Lat, Valid: true}
		destLon = sql.NullFloat64{Float64: o.Destination.Lon, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO orders (id, client_id, kind, pickup_lat, pickup_lon, pickup_address,
		dest_lat, dest_lon, dest_address, description, weight_kg, urgent, distance_km, price, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)`,
		o.ID, o.ClientID, o.Kind, o.Pickup.Lat, o.Pickup.Lon, o.PickupAddress,
		destLat, destLon, o.DestinationAddress, o.Description, o.WeightKg, o.Urgent, o.DistanceKm, o.Price, o.Status, o.CreatedAt)
	if isUniqueViolation(err) {
		return errs.NewValueIsInvalidError("order id already exists")
	}
	return wrapDB("create order", err)
}

func (p *PostgresStore) GetOrder(ctx context.Context, id string) (models.Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, errs.NewNotFoundError("order", id)
	}
	if err != nil {
		return models.Order{}, wrapDB("get order", err)
	}
	return o, nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, from, to models.Status, reason models.CancelReason) (bool, error) {
	now := p.now()
	var q string
	args := []any{id, from, to, now}
	switch to {
	case models.StatusInProgress:
		q = `UPDATE orders SET status = $3, updated_at = $4, started_at = $4 WHERE id = $1 AND status = $2`
	case models.StatusCompleted:
		q = `UPDATE orders SET status = $3, updated_at = $4, completed_at = $4 WHERE id = $1 AND status = $2`
	case models.StatusCancelled:
		q = `UPDATE orders SET status = $3, updated_at = $4, cancelled_at = $4, cancel_reason = $5 WHERE id = $1 AND status = $2`
		args = append(args, string(reason))
	default:
		q = `UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	}
	res, err := p.db.ExecContext(ctx, q, args...)
	return applied(res, err, "update order status")
}

func (p *PostgresStore) AssignDriver(ctx context.Context, id, driverID string, from models.Status) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET status = $4, driver_id = $2, updated_at = $5
		WHERE id = $1 AND status = $3 AND driver_id IS NULL`,
		id, driverID, from, models.StatusDriverAssigned, p.now())
	return applied(res, err, "assign driver")
}

func (p *PostgresStore) SetRating(ctx context.Context, id string, rating int) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET rating = $2, updated_at = $3
		WHERE id = $1 AND status = 'completed' AND rating IS NULL`, id, rating, p.now())
	return applied(res, err, "set rating")
}

func (p *PostgresStore) ListByClient(ctx context.Context, clientID int64, limit int) ([]models.Order, error) {
	return p.queryOrders(ctx, "list client orders",
		`SELECT `+orderColumns+` FROM orders WHERE client_id = $1 ORDER BY created_at DESC, id LIMIT $2`, clientID, listLimit(limit))
}

func (p *PostgresStore) ListByDriver(ctx context.Context, driverID string, limit int) ([]models.Order, error) {
	return p.queryOrders(ctx, "list driver orders",
		`SELECT `+orderColumns+` FROM orders WHERE driver_id = $1 ORDER BY created_at DESC, id LIMIT $2`, driverID, listLimit(limit))
}

func (p *PostgresStore) ListStale(ctx context.Context, status models.Status, olderThan time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	return p.queryOrders(ctx, "list stale orders",
		`SELECT `+orderColumns+` FROM orders WHERE status = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`, status, olderThan, limit)
}

func (p *PostgresStore) Stats(ctx context.Context) (models.OrderStats, error) {
	var s models.OrderStats
	err := p.db.QueryRowContext(ctx, `SELECT
		count(*),
		count(*) FILTER (WHERE status IN ('driver_assigned', 'in_progress')),
		count(*) FILTER (WHERE status IN ('new', 'searching')),
		count(*) FILTER (WHERE status = 'completed'),
		count(*) FILTER (WHERE status = 'cancelled')
		FROM orders`).Scan(&s.Total, &s.Active, &s.Pending, &s.Completed, &s.Cancelled)
	if err != nil {
		return models.OrderStats{}, wrapDB("order stats", err)
	}
	return s, nil
}

func (p *PostgresStore) queryOrders(ctx context.Context, op, q string, args ...any) ([]models.Order, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapDB(op, err)
	}
	defer rows.Close()
	out := make([]models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, wrapDB(op, err)
		}
		out = append(out, o)
	}
	return out, wrapDB(op, rows.Err())
}

const driverColumns = `id, account_id, car_model, car_number, license_number, is_available, lat, lon, loc_updated_at,
	rating, rating_count, total_trips, total_earnings, created_at`

func (p *PostgresStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = p.now()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO drivers (id, account_id, car_model, car_number, license_number, is_available, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		d.ID, d.AccountID, d.CarModel, d.CarNumber, d.LicenseNumber, d.Available, d.CreatedAt)
	if isUniqueViolation(err) {
		return errs.NewValueIsInvalidError("account already registered as driver")
	}
	return wrapDB("create driver", err)
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (models.Driver, error) {
	d, err := scanDriver(p.db.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Driver{}, errs.NewNotFoundError("driver", id)
	}
	return d, wrapDB("get driver", err)
}

func (p *PostgresStore) GetDriverByAccount(ctx context.Context, accountID int64) (models.Driver, error) {
	d, err := scanDriver(p.db.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE account_id = $1`, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Driver{}, errs.NewNotFoundError("driver account", formatInt(accountID))
	}
	return d, wrapDB("get driver by account", err)
}

func (p *PostgresStore) ListAvailable(ctx context.Context) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE is_available ORDER BY id`)
	if err != nil {
		return nil, wrapDB("list available drivers", err)
	}
	defer rows.Close()
	out := make([]models.Driver, 0)
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, wrapDB("list available drivers", err)
		}
		out = append(out, d)
	}
	return out, wrapDB("list available drivers", rows.Err())
}

func (p *PostgresStore) SetAvailability(ctx context.Context, id string, available bool) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET is_available = $2 WHERE id = $1`, id, available)
	return applied(res, err, "set availability")
}

func (p *PostgresStore) ClaimDriver(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET is_available = FALSE WHERE id = $1 AND is_available`, id)
	return applied(res, err, "claim driver")
}

func (p *PostgresStore) UpdateLocation(ctx context.Context, id string, loc models.Coord, at time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET lat = $2, lon = $3, loc_updated_at = $4
		WHERE id = $1 AND (loc_updated_at IS NULL OR loc_updated_at <= $4)`, id, loc.Lat, loc.Lon, at)
	return applied(res, err, "update location")
}

func (p *PostgresStore) RecordTrip(ctx context.Context, id string, fare int64) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET total_trips = total_trips + 1, total_earnings = total_earnings + $2,
		is_available = TRUE WHERE id = $1`, id, fare)
	return applied(res, err, "record trip")
}

func (p *PostgresStore) AddRating(ctx context.Context, id string, rating int) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET rating = (rating * rating_count + $2) / (rating_count + 1),
		rating_count = rating_count + 1 WHERE id = $1`, id, rating)
	return applied(res, err, "add rating")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (models.Order, error) {
	var (
		o                                 models.Order
		destLat, destLon                  sql.NullFloat64
		driverID, reason                  sql.NullString
		rating                            sql.NullInt32
		startedAt, completedAt, cancelled sql.NullTime
	)
	err := s.Scan(&o.ID, &o.ClientID, &o.Kind, &o.Pickup.Lat, &o.Pickup.Lon, &o.PickupAddress, &destLat, &destLon, &o.DestinationAddress,
		&o.Description, &o.WeightKg, &o.Urgent, &o.DistanceKm, &o.Price, &o.Status, &driverID, &reason, &rating,
		&o.CreatedAt, &o.UpdatedAt, &startedAt, &completedAt, &cancelled)
	if err != nil {
		return models.Order{}, err
	}
	if destLat.Valid && destLon.Valid {
		o.Destination = &models.Coord{Lat: destLat.Float64, Lon: destLon.Float64}
	}
	o.DriverID = driverID.String
	o.CancelReason = models.CancelReason(reason.String)
	o.Rating = int(rating.Int32)
	o.StartedAt = timePtr(startedAt)
	o.CompletedAt = timePtr(completedAt)
	o.CancelledAt = timePtr(cancelled)
	return o, nil
}

func scanDriver(s scanner) (models.Driver, error) {
	var (
		d          models.Driver
		lat, lon   sql.NullFloat64
		locUpdated sql.NullTime
	)
	err := s.Scan(&d.ID, &d.AccountID, &d.CarModel, &d.CarNumber, &d.LicenseNumber, &d.Available, &lat, &lon, &locUpdated,
		&d.Rating, &d.RatingCount, &d.TotalTrips, &d.TotalEarnings, &d.CreatedAt)
	if err != nil {
		return models.Driver{}, err
	}
	if lat.Valid && lon.Valid {
		d.Loc = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
	}
	d.LocUpdated = locUpdated.Time
	return d, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func applied(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, wrapDB(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDB(op, err)
	}
	return n == 1, nil
}

func wrapDB(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return errs.NewUnavailableError(op, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
