package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// PostgresStore is the durable implementation of every store interface.
// Acceptance arbitration relies on SELECT ... FOR UPDATE: the row lock is
// the critical section, held only across an in-memory callback and one
// UPDATE.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const rideColumns = `id, rider_id, driver_id, pickup_lat, pickup_lng, pickup_address,
	dest_lat, dest_lng, dest_address, status, payment_status,
	requested_at, accepted_at, arrived_at_pickup_at, trip_started_at, completed_at, cancelled_at,
	distance_km, duration_seconds,
	estimated_fare, base_fare, distance_fare, duration_fare, total_fare,
	cancellation_fee, cancellation_reason`

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(`+rideColumns+`) VALUES
		($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)`,
		r.ID, r.RiderID, r.DriverID, r.Pickup.Lat, r.Pickup.Lng, r.PickupAddress,
		r.Destination.Lat, r.Destination.Lng, r.DestinationAddress, string(r.Status), string(r.PaymentStatus),
		r.RequestedAt, r.AcceptedAt, r.ArrivedAtPickupAt, r.TripStartedAt, r.CompletedAt, r.CancelledAt,
		r.DistanceKm, r.DurationSeconds,
		r.EstimatedFare, r.BaseFare, r.DistanceFare, r.DurationFare, r.TotalFare,
		r.CancellationFee, nullIfEmpty(r.CancellationReason))
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	return scanRide(row)
}

func (p *PostgresStore) Mutate(ctx context.Context, id string, fn func(*models.Ride) error) (*models.Ride, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1 FOR UPDATE`, id)
	r, err := scanRide(row)
	if err != nil {
		return nil, err
	}
	if err := fn(r); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `UPDATE rides SET
		driver_id=$2, status=$3, payment_status=$4,
		accepted_at=$5, arrived_at_pickup_at=$6, trip_started_at=$7, completed_at=$8, cancelled_at=$9,
		distance_km=$10, duration_seconds=$11,
		estimated_fare=$12, base_fare=$13, distance_fare=$14, duration_fare=$15, total_fare=$16,
		cancellation_fee=$17, cancellation_reason=$18
		WHERE id=$1`,
		r.ID, r.DriverID, string(r.Status), string(r.PaymentStatus),
		r.AcceptedAt, r.ArrivedAtPickupAt, r.TripStartedAt, r.CompletedAt, r.CancelledAt,
		r.DistanceKm, r.DurationSeconds,
		r.EstimatedFare, r.BaseFare, r.DistanceFare, r.DurationFare, r.TotalFare,
		r.CancellationFee, nullIfEmpty(r.CancellationReason))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresStore) ListExpiredRequests(ctx context.Context, cutoff time.Time, limit int) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE status = $1 AND driver_id IS NULL AND requested_at < $2
		ORDER BY requested_at LIMIT $3`,
		string(models.StatusRequested), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE driver_id = $1 AND status = ANY($2)
		ORDER BY accepted_at DESC LIMIT 1`,
		driverID, pq.Array([]string{
			string(models.StatusAccepted), string(models.StatusOnRouteToPickup),
			string(models.StatusArrivedAtPickup), string(models.StatusOnTrip),
		}))
	return scanRide(row)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRide(row scannable) (*models.Ride, error) {
	var (
		r          models.Ride
		status     string
		payStatus  string
		cancReason sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.RiderID, &r.DriverID, &r.Pickup.Lat, &r.Pickup.Lng, &r.PickupAddress,
		&r.Destination.Lat, &r.Destination.Lng, &r.DestinationAddress, &status, &payStatus,
		&r.RequestedAt, &r.AcceptedAt, &r.ArrivedAtPickupAt, &r.TripStartedAt, &r.CompletedAt, &r.CancelledAt,
		&r.DistanceKm, &r.DurationSeconds,
		&r.EstimatedFare, &r.BaseFare, &r.DistanceFare, &r.DurationFare, &r.TotalFare,
		&r.CancellationFee, &cancReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = models.RideStatus(status)
	r.PaymentStatus = models.PaymentStatus(payStatus)
	r.CancellationReason = cancReason.String
	return &r, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// --- driver availability ---

func (p *PostgresStore) GetAvailability(ctx context.Context, driverID string) (*models.DriverAvailability, error) {
	row := p.db.QueryRowContext(ctx, `SELECT driver_id, status, location_lat, location_lng, location_address,
		location_updated_at, service_area, max_pickup_km,
		route_dest_lat, route_dest_lng, route_depart_by, route_arrive_by,
		rating, completed_rides
		FROM driver_availability WHERE driver_id = $1`, driverID)

	var (
		a                  models.DriverAvailability
		status             string
		lat, lng           sql.NullFloat64
		rdLat, rdLng       sql.NullFloat64
		departBy, arriveBy sql.NullTime
		addr, area         sql.NullString
	)
	err := row.Scan(&a.DriverID, &status, &lat, &lng, &addr,
		&a.LocationUpdatedAt, &area, &a.MaxPickupKm,
		&rdLat, &rdLng, &departBy, &arriveBy,
		&a.Rating, &a.CompletedRides)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Status = models.AvailabilityStatus(status)
	a.LocationAddress = addr.String
	a.ServiceArea = area.String
	if lat.Valid && lng.Valid {
		a.Location = &models.Coord{Lat: lat.Float64, Lng: lng.Float64}
	}
	if rdLat.Valid && rdLng.Valid && departBy.Valid && arriveBy.Valid {
		a.PlannedRoute = &models.PlannedRoute{
			Destination: models.Coord{Lat: rdLat.Float64, Lng: rdLng.Float64},
			DepartBy:    departBy.Time,
			ArriveBy:    arriveBy.Time,
		}
	}
	return &a, nil
}

func (p *PostgresStore) UpsertAvailability(ctx context.Context, a *models.DriverAvailability) error {
	var lat, lng any
	if a.Location != nil {
		lat, lng = a.Location.Lat, a.Location.Lng
	}
	var rdLat, rdLng, departBy, arriveBy any
	if a.PlannedRoute != nil {
		rdLat, rdLng = a.PlannedRoute.Destination.Lat, a.PlannedRoute.Destination.Lng
		departBy, arriveBy = a.PlannedRoute.DepartBy, a.PlannedRoute.ArriveBy
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO driver_availability
		(driver_id, status, location_lat, location_lng, location_address, location_updated_at,
		 service_area, max_pickup_km, route_dest_lat, route_dest_lng, route_depart_by, route_arrive_by,
		 rating, completed_rides)
		VALUES ($1,$2,$3,$4,$5,now(),$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (driver_id) DO UPDATE SET
		 status=EXCLUDED.status, location_lat=EXCLUDED.location_lat, location_lng=EXCLUDED.location_lng,
		 location_address=EXCLUDED.location_address, location_updated_at=now(),
		 service_area=EXCLUDED.service_area, max_pickup_km=EXCLUDED.max_pickup_km,
		 route_dest_lat=EXCLUDED.route_dest_lat, route_dest_lng=EXCLUDED.route_dest_lng,
		 route_depart_by=EXCLUDED.route_depart_by, route_arrive_by=EXCLUDED.route_arrive_by`,
		a.DriverID, string(a.Status), lat, lng, nullIfEmpty(a.LocationAddress),
		nullIfEmpty(a.ServiceArea), a.MaxPickupKm, rdLat, rdLng, departBy, arriveBy,
		a.Rating, a.CompletedRides)
	return err
}

func (p *PostgresStore) SetStatus(ctx context.Context, driverID string, status models.AvailabilityStatus) error {
	res, err := p.db.ExecContext(ctx, `UPDATE driver_availability SET status=$2 WHERE driver_id=$1`,
		driverID, string(status))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) RecordCompletedRide(ctx context.Context, driverID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE driver_availability SET completed_rides = completed_rides + 1 WHERE driver_id=$1`, driverID)
	return err
}

func (p *PostgresStore) ApplyRating(ctx context.Context, driverID string, rating float64, _ int) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE driver_availability SET rating = $2 WHERE driver_id=$1`, driverID, rating)
	return err
}

// --- push tokens ---

func (p *PostgresStore) PushToken(ctx context.Context, userID string) (string, error) {
	var token string
	err := p.db.QueryRowContext(ctx, `SELECT token FROM push_tokens WHERE user_id=$1`, userID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return token, err
}

func (p *PostgresStore) SetPushToken(ctx context.Context, userID, token string) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO push_tokens(user_id, token) VALUES ($1,$2)
		ON CONFLICT (user_id) DO UPDATE SET token=EXCLUDED.token`, userID, token)
	return err
}

func (p *PostgresStore) ClearPushToken(ctx context.Context, userID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM push_tokens WHERE user_id=$1`, userID)
	return err
}

// --- ratings ---

func (p *PostgresStore) SaveRating(ctx context.Context, r *models.RideRating) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_ratings
		(id, ride_id, rater_id, rated_user_id, rating, comment, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		r.ID, r.RideID, r.RaterID, r.RatedUserID, r.Rating, nullIfEmpty(r.Comment), r.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateRating
	}
	return err
}

func (p *PostgresStore) RatingStats(ctx context.Context, userID string) (float64, int, error) {
	var (
		avg   sql.NullFloat64
		count int
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT AVG(rating), COUNT(*) FROM ride_ratings WHERE rated_user_id=$1`, userID).Scan(&avg, &count)
	if err != nil {
		return 0, 0, err
	}
	return avg.Float64, count, nil
}

func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	// lib/pq predates SQLState on older versions; fall back to the message
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}
