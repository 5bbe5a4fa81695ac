package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
)

// samplesPerInsert keeps a batch insert below SQLite's default limit of 999
// bound parameters
const samplesPerInsert = 999 / sampleColumns

// SqliteStore gives access to recorded sweep sessions in a SQLite database
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store for the database at dbPath. Connections are
// opened lazily; the schema is created on first write.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func (s *SqliteStore) open(params string) (*sql.DB, error) {
	return sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, params))
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := s.open("_journal_mode=WAL&_synchronous=NORMAL")
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}
		s.writeDB = db
	})
	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := s.open("mode=ro")
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})
	return s.readDB, s.readDBErr
}

// CreateSession registers a new recording session and returns its ID. config
// is stored as is when it is a string or bytes, and as JSON otherwise.
func (s *SqliteStore) CreateSession(ctx context.Context, deviceType, deviceID string, config any) (int64, error) {
	configData, err := encodeConfig(config)
	if err != nil {
		return 0, err
	}

	db, err := s.getWriteDB()
	if err != nil {
		return 0, fmt.Errorf("getting write connection: %w", err)
	}

	result, err := db.ExecContext(ctx, insertSessionSQL, time.Now().UTC(), deviceType, deviceID, configData)
	if err != nil {
		return 0, fmt.Errorf("inserting session: %w", err)
	}

	sessionID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting session ID: %w", err)
	}
	return sessionID, nil
}

func encodeConfig(config any) (sql.NullString, error) {
	switch c := config.(type) {
	case nil:
		return sql.NullString{}, nil
	case string:
		return sql.NullString{String: c, Valid: true}, nil
	case []byte:
		return sql.NullString{String: string(c), Valid: true}, nil
	}

	p, err := json.Marshal(config)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshaling config: %w", err)
	}
	return sql.NullString{String: string(p), Valid: true}, nil
}

// Session returns the metadata of a recorded session
func (s *SqliteStore) Session(ctx context.Context, id int64) (*spectrum.ScanSession, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	sess, err := scanSession(db.QueryRowContext(ctx, selectSessionSQL, id))
	if err != nil {
		return nil, fmt.Errorf("scanning session %d: %w", id, err)
	}
	return sess, nil
}

// Sessions lists all recorded sessions, oldest first
func (s *SqliteStore) Sessions(ctx context.Context) (sessions []*spectrum.ScanSession, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// StoreRow records a spectrum row as one sample per bin in a single
// transaction. Non-finite readings are stored as NULL.
func (s *SqliteStore) StoreRow(ctx context.Context, sessionID int64, row *spectrum.Row, numSamples int) (err error) {
	if row == nil || len(row.Values) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			rollbackWithError(tx, &err)
		}
	}()

	for first := 0; first < len(row.Values); first += samplesPerInsert {
		last := min(first+samplesPerInsert, len(row.Values))
		if err = insertSamples(ctx, tx, sessionID, row, first, last, numSamples); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// insertSamples writes bins [first, last) of row with one statement
func insertSamples(ctx context.Context, tx *sql.Tx, sessionID int64, row *spectrum.Row, first, last, numSamples int) error {
	var sb strings.Builder
	sb.WriteString(insertSampleSQL)

	args := make([]any, 0, (last-first)*sampleColumns)
	for i := first; i < last; i++ {
		if i > first {
			sb.WriteString(", ")
		}
		sb.WriteString(samplePlaceholders)
		args = append(args, toSampleData(sessionID, row, i, numSamples).args()...)
	}

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("inserting bins %d-%d: %w", first, last-1, err)
	}
	return nil
}

// ReadRows opens a reader assembling the samples of a session back into
// spectrum rows. The reader must be closed after use.
func (s *SqliteStore) ReadRows(ctx context.Context, sessionID int64, opts ...ReaderOption) (*SqliteRowReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newSqliteRowReader(ctx, db, sessionID, opts...)
}

// Close closes both connections. The indexes used by the reader are created
// before the write connection goes away.
func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var errs []error

		if s.writeDB != nil {
			if _, err := s.writeDB.Exec(initIndexesSQL); err != nil {
				errs = append(errs, fmt.Errorf("creating indexes: %w", err))
			}
			errs = append(errs, s.writeDB.Close())
			s.writeDB = nil
		}

		if s.readDB != nil {
			errs = append(errs, s.readDB.Close())
			s.readDB = nil
		}

		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
