package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/classlane/lessond/internal/domain/lesson/lifecycle"
	"github.com/classlane/lessond/internal/domain/lesson/model"
	"github.com/classlane/lessond/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore implements Store on SQLite.
type SqliteStore struct {
	DB *sql.DB
}

func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("lesson store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) Close() error { return s.DB.Close() }

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS lessons (
		lesson_id TEXT PRIMARY KEY,
		tutor_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		starts_at_ns INTEGER NOT NULL,
		ends_at_ns INTEGER NOT NULL,
		status TEXT NOT NULL,
		meeting_started_at_ns INTEGER,
		meeting_ended_at_ns INTEGER,
		room_notified INTEGER NOT NULL DEFAULT 0,
		status_updated_at_ns INTEGER,
		created_at_ns INTEGER NOT NULL,
		updated_at_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lessons_status_starts ON lessons(status, starts_at_ns);
	CREATE INDEX IF NOT EXISTS idx_lessons_status_meeting ON lessons(status, meeting_started_at_ns);

	CREATE TABLE IF NOT EXISTS lesson_status_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lesson_id TEXT NOT NULL REFERENCES lessons(lesson_id),
		status TEXT NOT NULL,
		previous_status TEXT,
		reason TEXT NOT NULL DEFAULT '',
		changed_by_role TEXT NOT NULL,
		changed_by_user_id TEXT,
		created_at_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_lesson_created ON lesson_status_history(lesson_id, created_at_ns);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Lesson CRUD ---

const lessonColumns = `lesson_id, tutor_id, student_id, starts_at_ns, ends_at_ns, status,
	meeting_started_at_ns, meeting_ended_at_ns, room_notified, status_updated_at_ns,
	created_at_ns, updated_at_ns`

func (s *SqliteStore) Create(ctx context.Context, rec *model.Lesson, entry *model.HistoryEntry) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return wrapStorage("begin create", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO lessons (`+lessonColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, lessonArgs(rec)...)
	if err != nil {
		return wrapStorage("create lesson", err)
	}
	if entry != nil {
		if err := insertEntry(ctx, tx, entry, entry.CreatedAt.UnixNano()); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapStorage("commit create", err)
	}
	return nil
}

func (s *SqliteStore) Put(ctx context.Context, rec *model.Lesson) error {
	query := `
	INSERT INTO lessons (` + lessonColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(lesson_id) DO UPDATE SET
		tutor_id = excluded.tutor_id,
		student_id = excluded.student_id,
		starts_at_ns = excluded.starts_at_ns,
		ends_at_ns = excluded.ends_at_ns,
		status = excluded.status,
		meeting_started_at_ns = excluded.meeting_started_at_ns,
		meeting_ended_at_ns = excluded.meeting_ended_at_ns,
		room_notified = excluded.room_notified,
		status_updated_at_ns = excluded.status_updated_at_ns,
		updated_at_ns = excluded.updated_at_ns
	`
	_, err := s.DB.ExecContext(ctx, query, lessonArgs(rec)...)
	if err != nil {
		return wrapStorage("put lesson", err)
	}
	return nil
}

func (s *SqliteStore) Get(ctx context.Context, id string) (*model.Lesson, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE lesson_id = ?`, id)
	return scanLesson(row)
}

func (s *SqliteStore) Query(ctx context.Context, f Filter) ([]*model.Lesson, error) {
	query := `SELECT ` + lessonColumns + ` FROM lessons WHERE 1=1`
	var args []interface{}

	if len(f.Statuses) > 0 {
		query += " AND status IN (?" + strings.Repeat(",?", len(f.Statuses)-1) + ")"
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if !f.StartsBefore.IsZero() {
		query += " AND starts_at_ns <= ?"
		args = append(args, f.StartsBefore.UnixNano())
	}
	if !f.StartsAfter.IsZero() {
		query += " AND starts_at_ns > ?"
		args = append(args, f.StartsAfter.UnixNano())
	}
	if !f.MeetingStartedBefore.IsZero() {
		query += " AND meeting_started_at_ns IS NOT NULL AND meeting_started_at_ns < ?"
		args = append(args, f.MeetingStartedBefore.UnixNano())
	}
	if f.RoomNotified != nil {
		query += " AND room_notified = ?"
		args = append(args, boolToInt(*f.RoomNotified))
	}
	query += " ORDER BY starts_at_ns, lesson_id"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage("query lessons", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Lesson
	for rows.Next() {
		rec, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SqliteStore) Scan(ctx context.Context, fn func(*model.Lesson) error) error {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+lessonColumns+` FROM lessons ORDER BY lesson_id`)
	if err != nil {
		return wrapStorage("scan lessons", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		rec, err := scanLesson(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SqliteStore) Apply(ctx context.Context, id string, expected model.Status, fn func(*model.Lesson) (*model.HistoryEntry, error)) (*model.Lesson, error) {
	// The pool opens transactions with _txlock=immediate, so concurrent
	// Apply calls on the same lesson serialize here: the loser begins after
	// the winner commits, reads the new status, and fails the expected
	// check with ErrStaleState instead of hitting a snapshot conflict.
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapStorage("begin transition", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanLesson(tx.QueryRowContext(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE lesson_id = ?`, id))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, lifecycle.Reject(lifecycle.ErrNotFound, id, "", "", "")
	}
	if expected != "" && rec.Status != expected {
		return nil, lifecycle.Reject(lifecycle.ErrStaleState, id, expected, rec.Status, "status changed since read")
	}

	entry, err := fn(rec)
	if err != nil {
		return nil, err
	}

	updateQuery := `
	UPDATE lessons SET
		tutor_id = ?, student_id = ?, starts_at_ns = ?, ends_at_ns = ?, status = ?,
		meeting_started_at_ns = ?, meeting_ended_at_ns = ?, room_notified = ?,
		status_updated_at_ns = ?, updated_at_ns = ?
	WHERE lesson_id = ?
	`
	_, err = tx.ExecContext(ctx, updateQuery,
		rec.TutorID, rec.StudentID, rec.StartsAt.UnixNano(), rec.EndsAt.UnixNano(), string(rec.Status),
		t2ns(rec.MeetingStartedAt), t2ns(rec.MeetingEndedAt), boolToInt(rec.RoomNotified),
		t2ns(rec.StatusUpdatedAt), rec.UpdatedAt.UnixNano(), rec.ID,
	)
	if err != nil {
		return nil, wrapStorage("update lesson", err)
	}

	if entry != nil {
		// Transactional clock: the ledger must stay strictly monotonic per
		// lesson, so clamp against the latest entry inside the same tx.
		var latestNS sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(created_at_ns) FROM lesson_status_history WHERE lesson_id = ?`, id,
		).Scan(&latestNS); err != nil {
			return nil, wrapStorage("read ledger clock", err)
		}
		createdNS := entry.CreatedAt.UnixNano()
		if latestNS.Valid && createdNS <= latestNS.Int64 {
			createdNS = latestNS.Int64 + int64(time.Microsecond)
			entry.CreatedAt = time.Unix(0, createdNS)
		}
		if err := insertEntry(ctx, tx, entry, createdNS); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapStorage("commit transition", err)
	}
	return rec, nil
}

func (s *SqliteStore) MarkRoomNotified(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE lessons SET room_notified = 1, updated_at_ns = ? WHERE lesson_id = ? AND room_notified = 0`,
		time.Now().UnixNano(), id)
	if err != nil {
		return false, wrapStorage("mark room notified", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapStorage("mark room notified", err)
	}
	return n > 0, nil
}

// --- Ledger ---

const entryColumns = `id, lesson_id, status, previous_status, reason, changed_by_role, changed_by_user_id, created_at_ns`

func (s *SqliteStore) Append(ctx context.Context, e *model.HistoryEntry) error {
	return insertEntry(ctx, s.DB, e, e.CreatedAt.UnixNano())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertEntry(ctx context.Context, db execer, e *model.HistoryEntry, createdNS int64) error {
	res, err := db.ExecContext(ctx, `
	INSERT INTO lesson_status_history (lesson_id, status, previous_status, reason, changed_by_role, changed_by_user_id, created_at_ns)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.LessonID, string(e.Status), nullString(string(e.PreviousStatus)), e.Reason,
		string(e.ChangedByRole), nullString(e.ChangedByUserID), createdNS,
	)
	if err != nil {
		return wrapStorage("append ledger entry", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (s *SqliteStore) Latest(ctx context.Context, lessonID string) (*model.HistoryEntry, error) {
	row := s.DB.QueryRowContext(ctx, `
	SELECT `+entryColumns+` FROM lesson_status_history
	WHERE lesson_id = ? ORDER BY created_at_ns DESC, id DESC LIMIT 1`, lessonID)
	return scanEntry(row)
}

func (s *SqliteStore) All(ctx context.Context, lessonID string) ([]model.HistoryEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
	SELECT `+entryColumns+` FROM lesson_status_history
	WHERE lesson_id = ? ORDER BY created_at_ns ASC, id ASC`, lessonID)
	if err != nil {
		return nil, wrapStorage("list ledger entries", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.HistoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *SqliteStore) HasEntry(ctx context.Context, lessonID string, status model.Status) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lesson_status_history WHERE lesson_id = ? AND status = ?`,
		lessonID, string(status)).Scan(&n)
	if err != nil {
		return false, wrapStorage("check ledger entry", err)
	}
	return n > 0, nil
}

func (s *SqliteStore) HasInitialEntry(ctx context.Context, lessonID string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lesson_status_history WHERE lesson_id = ? AND previous_status IS NULL AND status = ?`,
		lessonID, string(model.StatusScheduled)).Scan(&n)
	if err != nil {
		return false, wrapStorage("check initial ledger entry", err)
	}
	return n > 0, nil
}

// --- Helpers ---

func lessonArgs(rec *model.Lesson) []interface{} {
	return []interface{}{
		rec.ID, rec.TutorID, rec.StudentID, rec.StartsAt.UnixNano(), rec.EndsAt.UnixNano(), string(rec.Status),
		t2ns(rec.MeetingStartedAt), t2ns(rec.MeetingEndedAt), boolToInt(rec.RoomNotified),
		t2ns(rec.StatusUpdatedAt), rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
	}
}

func scanLesson(scanner interface{ Scan(dest ...interface{}) error }) (*model.Lesson, error) {
	var rec model.Lesson
	var status string
	var meetingStart, meetingEnd, statusUpdated sql.NullInt64
	var startsNS, endsNS, createdNS, updatedNS int64
	var roomNotified int

	err := scanner.Scan(
		&rec.ID, &rec.TutorID, &rec.StudentID, &startsNS, &endsNS, &status,
		&meetingStart, &meetingEnd, &roomNotified, &statusUpdated, &createdNS, &updatedNS,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapStorage("scan lesson", err)
	}

	rec.Status = model.Status(status)
	rec.StartsAt = time.Unix(0, startsNS)
	rec.EndsAt = time.Unix(0, endsNS)
	rec.MeetingStartedAt = ns2t(meetingStart)
	rec.MeetingEndedAt = ns2t(meetingEnd)
	rec.RoomNotified = roomNotified != 0
	rec.StatusUpdatedAt = ns2t(statusUpdated)
	rec.CreatedAt = time.Unix(0, createdNS)
	rec.UpdatedAt = time.Unix(0, updatedNS)
	return &rec, nil
}

func scanEntry(scanner interface{ Scan(dest ...interface{}) error }) (*model.HistoryEntry, error) {
	var e model.HistoryEntry
	var status, role string
	var prev, userID sql.NullString
	var createdNS int64

	err := scanner.Scan(&e.ID, &e.LessonID, &status, &prev, &e.Reason, &role, &userID, &createdNS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapStorage("scan ledger entry", err)
	}

	e.Status = model.Status(status)
	if prev.Valid {
		e.PreviousStatus = model.Status(prev.String)
	}
	e.ChangedByRole = model.Role(role)
	if userID.Valid {
		e.ChangedByUserID = userID.String
	}
	e.CreatedAt = time.Unix(0, createdNS)
	return &e, nil
}

func wrapStorage(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, lifecycle.ErrStorage, err)
}

func t2ns(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func ns2t(ns sql.NullInt64) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	return time.Unix(0, ns.Int64)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
