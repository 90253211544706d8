package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dzbrowse/dzbrowse/internal/dayz"
)

var (
	ErrNotFound   = errors.New("server not found")
	ErrQuery      = errors.New("failed to query servers")
	ErrBatchWrite = errors.New("failed to write server batch")
)

const serverColumns = `name, address, game_port, query_port, map_name, country, perspective,
	server_type, players, max_players, queue_length, ping, online, mods, last_seen, last_updated`

// Servers is the repository over the servers table. Concurrent writers are
// serialized by sqlite itself; callers never mutate shared state directly.
type Servers struct {
	db *sql.DB
}

func NewServers(db *sql.DB) *Servers {
	return &Servers{db: db}
}

// Stats is the aggregate view exposed to consumers.
type Stats struct {
	Total  int
	Online int
	ByType map[dayz.ServerType]int
}

// UpsertBatch inserts or refreshes one row per record inside a single
// transaction, keyed by (address, query_port). Descriptive fields are
// overwritten on conflict; ping is deliberately left alone so a measured
// value never regresses to the unmeasured sentinel. Rows that fail to
// encode or write are skipped and counted, never aborting the batch.
func (s *Servers) UpsertBatch(ctx context.Context, records []dayz.Server) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	transaction, errTx := s.db.BeginTx(ctx, nil)
	if errTx != nil {
		return 0, errors.Join(errTx, ErrBatchWrite)
	}

	stmt, errPrepare := transaction.PrepareContext(ctx, `
		INSERT INTO servers (`+serverColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address, query_port) DO UPDATE SET
			name = excluded.name,
			game_port = excluded.game_port,
			map_name = excluded.map_name,
			country = excluded.country,
			perspective = excluded.perspective,
			server_type = excluded.server_type,
			players = excluded.players,
			max_players = excluded.max_players,
			queue_length = excluded.queue_length,
			online = excluded.online,
			mods = excluded.mods,
			last_seen = excluded.last_seen,
			last_updated = excluded.last_updated`)
	if errPrepare != nil {
		transaction.Rollback()

		return 0, errors.Join(errPrepare, ErrBatchWrite)
	}

	var written int
	for _, record := range records {
		mods, errMods := json.Marshal(record.Mods)
		if errMods != nil {
			slog.Warn("Skipping server with unencodable mods",
				slog.String("address", record.Addr()), slog.String("error", errMods.Error()))

			continue
		}

		if _, errExec := stmt.ExecContext(ctx,
			record.Name, record.Address, record.GamePort, record.QueryPort,
			record.MapName, record.Country, record.Perspective, string(record.Type),
			record.Players, record.MaxPlayers, record.QueueLength, record.Ping,
			record.Online, string(mods), record.LastSeen.Unix(), record.LastUpdated.Unix(),
		); errExec != nil {
			slog.Warn("Skipping server row write",
				slog.String("address", record.Addr()), slog.String("error", errExec.Error()))

			continue
		}
		written++
	}

	if errClose := stmt.Close(); errClose != nil {
		slog.Error("Failed to close upsert statement", slog.String("error", errClose.Error()))
	}

	if errCommit := transaction.Commit(); errCommit != nil {
		return 0, errors.Join(errCommit, ErrBatchWrite)
	}

	return written, nil
}

// UpdateLiveStatus performs a point update of the live fields only and
// returns the full refreshed row for event emission. Descriptive fields
// are never touched here.
func (s *Servers) UpdateLiveStatus(ctx context.Context, address string, queryPort int,
	ping int, players int, maxPlayers int,
) (dayz.Server, error) {
	result, errExec := s.db.ExecContext(ctx, `
		UPDATE servers
		SET ping = ?, players = ?, max_players = ?, last_updated = ?, online = 1
		WHERE address = ? AND query_port = ?`,
		ping, players, maxPlayers, time.Now().Unix(), address, queryPort)
	if errExec != nil {
		return dayz.Server{}, errors.Join(errExec, ErrQuery)
	}

	if affected, errAffected := result.RowsAffected(); errAffected == nil && affected == 0 {
		return dayz.Server{}, ErrNotFound
	}

	return s.Get(ctx, address, queryPort)
}

// MarkOffline flips the online flag, records the offline ping sentinel and
// bumps last_updated, leaving the descriptive fields untouched.
func (s *Servers) MarkOffline(ctx context.Context, address string, queryPort int) error {
	if _, errExec := s.db.ExecContext(ctx, `
		UPDATE servers
		SET online = 0, ping = ?, last_updated = ?
		WHERE address = ? AND query_port = ?`,
		dayz.PingOffline, time.Now().Unix(), address, queryPort); errExec != nil {
		return errors.Join(errExec, ErrQuery)
	}

	return nil
}

// SweepStale is the two-phase cleanup: servers not rediscovered within the
// offline window are flagged offline, and servers beyond the deletion
// window are removed outright.
func (s *Servers) SweepStale(ctx context.Context, offlineAfter time.Duration, deleteAfter time.Duration) (int64, int64, error) {
	now := time.Now()

	marked, errMark := s.db.ExecContext(ctx, `
		UPDATE servers SET online = 0, ping = ?
		WHERE last_seen < ? AND online = 1`,
		dayz.PingOffline, now.Add(-offlineAfter).Unix())
	if errMark != nil {
		return 0, 0, errors.Join(errMark, ErrQuery)
	}

	deleted, errDelete := s.db.ExecContext(ctx, `
		DELETE FROM servers WHERE last_seen < ?`,
		now.Add(-deleteAfter).Unix())
	if errDelete != nil {
		return 0, 0, errors.Join(errDelete, ErrQuery)
	}

	markedCount, _ := marked.RowsAffected()
	deletedCount, _ := deleted.RowsAffected()

	return markedCount, deletedCount, nil
}

func (s *Servers) Get(ctx context.Context, address string, queryPort int) (dayz.Server, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+serverColumns+` FROM servers
		WHERE address = ? AND query_port = ?`, address, queryPort)

	record, errScan := scanServer(row)
	if errScan != nil {
		if errors.Is(errScan, sql.ErrNoRows) {
			return dayz.Server{}, ErrNotFound
		}

		return dayz.Server{}, errors.Join(errScan, ErrQuery)
	}

	return record, nil
}

// Search matches online servers by name or map substring, case
// insensitive, optionally narrowed to one server type. Results come back
// ping ascending, then name.
func (s *Servers) Search(ctx context.Context, query string, serverType dayz.ServerType) ([]dayz.Server, error) {
	pattern := "%" + strings.ToLower(query) + "%"

	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + serverColumns + ` FROM servers
		WHERE online = 1 AND (LOWER(name) LIKE ? OR LOWER(map_name) LIKE ?)`)
	args := []any{pattern, pattern}

	if serverType != "" {
		builder.WriteString(" AND server_type = ?")
		args = append(args, string(serverType))
	}

	builder.WriteString(" ORDER BY ping ASC, name ASC")

	return s.queryServers(ctx, builder.String(), args...)
}

// Top returns online servers ordered by player count.
func (s *Servers) Top(ctx context.Context, limit int, offset int) ([]dayz.Server, error) {
	return s.queryServers(ctx, `
		SELECT `+serverColumns+` FROM servers
		WHERE online = 1
		ORDER BY players DESC, ping ASC, name ASC
		LIMIT ? OFFSET ?`, limit, offset)
}

func (s *Servers) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByType: map[dayz.ServerType]int{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM servers`).Scan(&stats.Total); err != nil {
		return Stats{}, errors.Join(err, ErrQuery)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM servers WHERE online = 1`).Scan(&stats.Online); err != nil {
		return Stats{}, errors.Join(err, ErrQuery)
	}

	rows, errRows := s.db.QueryContext(ctx, `
		SELECT server_type, COUNT(*) FROM servers
		WHERE online = 1 GROUP BY server_type`)
	if errRows != nil {
		return Stats{}, errors.Join(errRows, ErrQuery)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			serverType string
			count      int
		)
		if errScan := rows.Scan(&serverType, &count); errScan != nil {
			return Stats{}, errors.Join(errScan, ErrQuery)
		}
		stats.ByType[dayz.ServerType(serverType)] = count
	}

	if errRows := rows.Err(); errRows != nil {
		return Stats{}, errors.Join(errRows, ErrQuery)
	}

	return stats, nil
}

// LastRefreshed reports the most recent discovery time across all rows,
// used to decide whether an automatic refresh can be skipped.
func (s *Servers) LastRefreshed(ctx context.Context) (time.Time, error) {
	var lastSeen sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(last_seen) FROM servers`).Scan(&lastSeen); err != nil {
		return time.Time{}, errors.Join(err, ErrQuery)
	}

	if !lastSeen.Valid {
		return time.Time{}, nil
	}

	return time.Unix(lastSeen.Int64, 0), nil
}

func (s *Servers) queryServers(ctx context.Context, query string, args ...any) ([]dayz.Server, error) {
	rows, errRows := s.db.QueryContext(ctx, query, args...)
	if errRows != nil {
		return nil, errors.Join(errRows, ErrQuery)
	}
	defer rows.Close()

	var records []dayz.Server
	for rows.Next() {
		record, errScan := scanServer(rows)
		if errScan != nil {
			// A single undecodable row never fails the whole query.
			slog.Warn("Skipping unreadable server row", slog.String("error", errScan.Error()))

			continue
		}
		records = append(records, record)
	}

	if errRows := rows.Err(); errRows != nil {
		return nil, errors.Join(errRows, ErrQuery)
	}

	return records, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanServer(row scannable) (dayz.Server, error) {
	var (
		record      dayz.Server
		serverType  string
		mods        string
		lastSeen    int64
		lastUpdated int64
	)

	if errScan := row.Scan(&record.Name, &record.Address, &record.GamePort, &record.QueryPort,
		&record.MapName, &record.Country, &record.Perspective, &serverType,
		&record.Players, &record.MaxPlayers, &record.QueueLength, &record.Ping,
		&record.Online, &mods, &lastSeen, &lastUpdated); errScan != nil {
		return dayz.Server{}, errScan
	}

	record.Type = dayz.ServerType(serverType)
	record.LastSeen = time.Unix(lastSeen, 0)
	record.LastUpdated = time.Unix(lastUpdated, 0)

	if errMods := json.Unmarshal([]byte(mods), &record.Mods); errMods != nil {
		return dayz.Server{}, errMods
	}

	return record, nil
}
