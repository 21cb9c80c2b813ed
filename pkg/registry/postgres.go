package registry

import (
	"database/sql"
	"log"
	"time"

	"github.com/cellsentry/cell-sentry/pkg/models"
	_ "github.com/lib/pq"
)

// PostgresRegistry stores tower records in a cell_towers table. The
// sticky-verification and block-flag merge rules are expressed in the
// upsert statement itself so concurrent writers cannot demote a tower.
type PostgresRegistry struct {
	db *sql.DB
}

const towersSchema = `
CREATE TABLE IF NOT EXISTS cell_towers (
	cell_id        TEXT PRIMARY KEY,
	mcc            TEXT NOT NULL DEFAULT '',
	mnc            TEXT NOT NULL DEFAULT '',
	lac            INTEGER NOT NULL DEFAULT 0,
	rat            TEXT NOT NULL DEFAULT '',
	first_seen     TIMESTAMPTZ NOT NULL,
	last_seen      TIMESTAMPTZ NOT NULL,
	latitude       DOUBLE PRECISION,
	longitude      DOUBLE PRECISION,
	range_m        DOUBLE PRECISION,
	samples        INTEGER,
	changeable     BOOLEAN,
	pci            INTEGER,
	ta             INTEGER,
	dbm            INTEGER,
	is_verified    BOOLEAN NOT NULL DEFAULT FALSE,
	is_missing     BOOLEAN NOT NULL DEFAULT FALSE,
	is_blocked     BOOLEAN NOT NULL DEFAULT FALSE,
	source         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_cell_towers_last_seen ON cell_towers (last_seen);
`

// NewPostgresRegistry connects and ensures the schema exists.
func NewPostgresRegistry(databaseURL string) (*PostgresRegistry, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(towersSchema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[registry] connected to PostgreSQL")
	return &PostgresRegistry{db: db}, nil
}

// Close releases the connection pool.
func (r *PostgresRegistry) Close() error { return r.db.Close() }

const selectColumns = `cell_id, mcc, mnc, lac, rat, first_seen, last_seen,
	latitude, longitude, range_m, samples, changeable, pci, ta, dbm,
	is_verified, is_missing, is_blocked, source`

func scanRecord(row interface{ Scan(...interface{}) error }) (models.TowerRecord, error) {
	var rec models.TowerRecord
	err := row.Scan(
		&rec.CellID, &rec.MCC, &rec.MNC, &rec.LAC, &rec.RAT,
		&rec.FirstSeen, &rec.LastSeen,
		&rec.Latitude, &rec.Longitude, &rec.Range, &rec.Samples, &rec.Changeable,
		&rec.PCI, &rec.TA, &rec.DBM,
		&rec.IsVerified, &rec.IsMissingInDb, &rec.IsBlocked, &rec.Source,
	)
	return rec, err
}

func (r *PostgresRegistry) Get(cellID string) (models.TowerRecord, bool, error) {
	row := r.db.QueryRow(`SELECT `+selectColumns+` FROM cell_towers WHERE cell_id = $1`, cellID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return models.TowerRecord{}, false, nil
	}
	if err != nil {
		return models.TowerRecord{}, false, err
	}
	return rec, true, nil
}

func (r *PostgresRegistry) Upsert(record models.TowerRecord) error {
	now := time.Now()
	if record.FirstSeen.IsZero() {
		record.FirstSeen = now
	}
	if record.LastSeen.IsZero() {
		record.LastSeen = now
	}

	_, err := r.db.Exec(`
		INSERT INTO cell_towers (`+selectColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (cell_id) DO UPDATE SET
			mcc        = CASE WHEN EXCLUDED.mcc <> '' THEN EXCLUDED.mcc ELSE cell_towers.mcc END,
			mnc        = CASE WHEN EXCLUDED.mnc <> '' THEN EXCLUDED.mnc ELSE cell_towers.mnc END,
			lac        = CASE WHEN EXCLUDED.lac <> 0 THEN EXCLUDED.lac ELSE cell_towers.lac END,
			rat        = CASE WHEN EXCLUDED.rat <> '' THEN EXCLUDED.rat ELSE cell_towers.rat END,
			last_seen  = EXCLUDED.last_seen,
			latitude   = COALESCE(EXCLUDED.latitude, cell_towers.latitude),
			longitude  = COALESCE(EXCLUDED.longitude, cell_towers.longitude),
			range_m    = COALESCE(EXCLUDED.range_m, cell_towers.range_m),
			samples    = COALESCE(EXCLUDED.samples, cell_towers.samples),
			changeable = COALESCE(EXCLUDED.changeable, cell_towers.changeable),
			pci        = COALESCE(EXCLUDED.pci, cell_towers.pci),
			ta         = COALESCE(EXCLUDED.ta, cell_towers.ta),
			dbm        = COALESCE(EXCLUDED.dbm, cell_towers.dbm),
			is_verified = cell_towers.is_verified OR EXCLUDED.is_verified,
			is_missing  = EXCLUDED.is_missing,
			source      = CASE WHEN EXCLUDED.source <> '' THEN EXCLUDED.source ELSE cell_towers.source END
	`,
		record.CellID, record.MCC, record.MNC, record.LAC, record.RAT,
		record.FirstSeen, record.LastSeen,
		record.Latitude, record.Longitude, record.Range, record.Samples, record.Changeable,
		record.PCI, record.TA, record.DBM,
		record.IsVerified, record.IsMissingInDb, record.IsBlocked, record.Source,
	)
	return err
}

func (r *PostgresRegistry) Refresh(cellID string, at time.Time, obs Observed) error {
	_, err := r.db.Exec(`
		UPDATE cell_towers SET
			last_seen = $2,
			pci = COALESCE($3, pci),
			ta  = COALESCE($4, ta),
			dbm = COALESCE($5, dbm)
		WHERE cell_id = $1
	`, cellID, at, obs.PCI, obs.TA, obs.DBM)
	return err
}

func (r *PostgresRegistry) SetBlocked(cellID string, blocked bool) error {
	res, err := r.db.Exec(`UPDATE cell_towers SET is_blocked = $2 WHERE cell_id = $1`, cellID, blocked)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		now := time.Now()
		_, err = r.db.Exec(`
			INSERT INTO cell_towers (cell_id, first_seen, last_seen, is_blocked)
			VALUES ($1, $2, $2, $3)
			ON CONFLICT (cell_id) DO UPDATE SET is_blocked = EXCLUDED.is_blocked
		`, cellID, now, blocked)
	}
	return err
}

func (r *PostgresRegistry) Demote(cellID string) error {
	_, err := r.db.Exec(`UPDATE cell_towers SET is_verified = FALSE WHERE cell_id = $1`, cellID)
	return err
}

func (r *PostgresRegistry) Blocked() ([]models.TowerRecord, error) {
	return r.queryRecords(`SELECT ` + selectColumns + ` FROM cell_towers WHERE is_blocked`)
}

func (r *PostgresRegistry) InArea(box models.BoundingBox) ([]models.TowerRecord, error) {
	return r.queryRecords(`
		SELECT `+selectColumns+` FROM cell_towers
		WHERE latitude BETWEEN $1 AND $2 AND longitude BETWEEN $3 AND $4
	`, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon)
}

func (r *PostgresRegistry) DeleteOlderThan(cutoff time.Time) (int, error) {
	res, err := r.db.Exec(`
		DELETE FROM cell_towers
		WHERE NOT is_verified AND NOT is_blocked AND last_seen < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *PostgresRegistry) queryRecords(query string, args ...interface{}) ([]models.TowerRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TowerRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
