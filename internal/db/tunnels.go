// ABOUTME: Tunnel session history.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Tunnel is one Relay lifetime, from Start to Stop.
type Tunnel struct {
	ID         int64      `json:"id"`
	Target     string     `json:"target"`
	LocalPort  int        `json:"local_port"`
	RemotePort int        `json:"remote_port"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// RecordTunnel inserts an open tunnel and returns its id.
func (s *Store) RecordTunnel(ctx context.Context, tunnel Tunnel) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	tunnel.Target = strings.TrimSpace(tunnel.Target)
	if tunnel.Target == "" {
		return 0, errors.New("tunnel target is required")
	}
	if tunnel.LocalPort <= 0 || tunnel.LocalPort > 65535 {
		return 0, errors.New("tunnel local port must be between 1 and 65535")
	}
	if tunnel.RemotePort <= 0 || tunnel.RemotePort > 65535 {
		return 0, errors.New("tunnel remote port must be between 1 and 65535")
	}
	if tunnel.StartedAt.IsZero() {
		tunnel.StartedAt = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `INSERT INTO tunnels (target, local_port, remote_port, started_at)
		VALUES (?, ?, ?, ?)`,
		tunnel.Target, tunnel.LocalPort, tunnel.RemotePort, formatTime(tunnel.StartedAt))
	if err != nil {
		return 0, fmt.Errorf("insert tunnel: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("tunnel id: %w", err)
	}
	return id, nil
}

// CloseTunnel marks a tunnel stopped. Closing an already closed tunnel
// returns ErrNotFound.
func (s *Store) CloseTunnel(ctx context.Context, id int64, reason string, stoppedAt time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	if stoppedAt.IsZero() {
		stoppedAt = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE tunnels SET stopped_at = ?, reason = ? WHERE id = ? AND stopped_at IS NULL`,
		formatTime(stoppedAt), nullIfEmpty(reason), id)
	if err != nil {
		return fmt.Errorf("close tunnel %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close tunnel %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("open tunnel %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListTunnels returns recent tunnels, newest first.
func (s *Store) ListTunnels(ctx context.Context, limit int) ([]Tunnel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, target, local_port, remote_port, started_at, stopped_at, reason
		FROM tunnels ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tunnels: %w", err)
	}
	defer rows.Close()
	var out []Tunnel
	for rows.Next() {
		var tunnel Tunnel
		var startedAt string
		var stoppedAt, reason sql.NullString
		if err := rows.Scan(&tunnel.ID, &tunnel.Target, &tunnel.LocalPort, &tunnel.RemotePort, &startedAt, &stoppedAt, &reason); err != nil {
			return nil, fmt.Errorf("scan tunnel: %w", err)
		}
		if tunnel.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parse tunnel started_at: %w", err)
		}
		if stoppedAt.Valid && stoppedAt.String != "" {
			parsed, err := parseTime(stoppedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse tunnel stopped_at: %w", err)
			}
			tunnel.StoppedAt = &parsed
		}
		tunnel.Reason = reason.String
		out = append(out, tunnel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tunnels: %w", err)
	}
	return out, nil
}
