package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"opsdec/internal/models"
)

const serverColumns = `id, name, kind, url, credential, enabled, origin, created_at, updated_at`

func scanServer(scanner interface{ Scan(...any) error }) (models.Server, error) {
	var srv models.Server
	err := scanner.Scan(&srv.ID, &srv.Name, &srv.Kind, &srv.URL, &srv.Credential, &srv.Enabled, &srv.Origin, &srv.CreatedAt, &srv.UpdatedAt)
	return srv, err
}

// sealCredential encrypts the upstream credential when an encryptor is
// configured. Plaintext storage is allowed only for keyless dev setups.
func (s *Store) sealCredential(plaintext string) (string, error) {
	if s.encryptor == nil {
		return plaintext, nil
	}
	return s.encryptor.Encrypt(plaintext)
}

func (s *Store) openCredential(stored string) (string, error) {
	if s.encryptor == nil {
		return stored, nil
	}
	return s.encryptor.Decrypt(stored)
}

func (s *Store) CreateServer(srv *models.Server) error {
	cred, err := s.sealCredential(srv.Credential)
	if err != nil {
		return fmt.Errorf("sealing credential: %w", err)
	}
	if srv.Origin == "" {
		srv.Origin = models.OriginUser
	}
	created, err := scanServer(s.db.QueryRow(
		`INSERT INTO servers (name, kind, url, credential, enabled, origin) VALUES (?, ?, ?, ?, ?, ?) RETURNING `+serverColumns,
		srv.Name, srv.Kind, srv.URL, cred, srv.Enabled, srv.Origin,
	))
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	created.Credential = srv.Credential
	*srv = created
	return nil
}

// GetServer returns the server with its credential decrypted.
func (s *Store) GetServer(id int64) (*models.Server, error) {
	srv, err := scanServer(s.db.QueryRow(
		`SELECT `+serverColumns+` FROM servers WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("server %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting server: %w", err)
	}
	if srv.Credential, err = s.openCredential(srv.Credential); err != nil {
		return nil, fmt.Errorf("opening credential for server %d: %w", id, err)
	}
	return &srv, nil
}

func (s *Store) ListServers() ([]models.Server, error) {
	rows, err := s.db.Query(`SELECT ` + serverColumns + ` FROM servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	defer rows.Close()

	servers := []models.Server{}
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		if srv.Credential, err = s.openCredential(srv.Credential); err != nil {
			return nil, fmt.Errorf("opening credential for server %d: %w", srv.ID, err)
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

func (s *Store) UpdateServer(srv *models.Server) error {
	cred, err := s.sealCredential(srv.Credential)
	if err != nil {
		return fmt.Errorf("sealing credential: %w", err)
	}
	updated, err := scanServer(s.db.QueryRow(
		`UPDATE servers SET name = ?, kind = ?, url = ?, credential = ?, enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? RETURNING `+serverColumns,
		srv.Name, srv.Kind, srv.URL, cred, srv.Enabled, srv.ID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("server %d: %w", srv.ID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("updating server: %w", err)
	}
	updated.Credential = srv.Credential
	*srv = updated
	return nil
}

// DeleteServer removes the server row. Its session rows are retained as
// history evidence; any still live are closed out first, since no poll will
// ever observe their stop.
func (s *Store) DeleteServer(id int64) error {
	return s.WithTx(func(tx *Tx) error {
		now := time.Now().UTC().Unix()
		_, err := tx.db.Exec(
			`UPDATE play_sessions SET state = ?, stopped_at = ?, updated_at = ? WHERE server_id = ? AND state != ?`,
			models.StateStopped, now, now, id, models.StateStopped,
		)
		if err != nil {
			return fmt.Errorf("closing server sessions: %w", err)
		}

		result, err := tx.db.Exec(`DELETE FROM servers WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting server: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("server %d: %w", id, models.ErrNotFound)
		}
		return nil
	})
}

// UpsertEnvironmentServer reconciles one bootstrap server definition from the
// environment. Matching is by (kind, url); rows it creates carry
// origin=environment and are read-only through the public API.
func (s *Store) UpsertEnvironmentServer(srv *models.Server) error {
	cred, err := s.sealCredential(srv.Credential)
	if err != nil {
		return fmt.Errorf("sealing credential: %w", err)
	}
	existing, err := scanServer(s.db.QueryRow(
		`SELECT `+serverColumns+` FROM servers WHERE kind = ? AND url = ?`, srv.Kind, srv.URL,
	))
	if errors.Is(err, sql.ErrNoRows) {
		srv.Origin = models.OriginEnvironment
		created, err := scanServer(s.db.QueryRow(
			`INSERT INTO servers (name, kind, url, credential, enabled, origin) VALUES (?, ?, ?, ?, ?, ?) RETURNING `+serverColumns,
			srv.Name, srv.Kind, srv.URL, cred, srv.Enabled, models.OriginEnvironment,
		))
		if err != nil {
			return fmt.Errorf("creating environment server: %w", err)
		}
		created.Credential = srv.Credential
		*srv = created
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up environment server: %w", err)
	}

	updated, err := scanServer(s.db.QueryRow(
		`UPDATE servers SET name = ?, credential = ?, enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? RETURNING `+serverColumns,
		srv.Name, cred, srv.Enabled, existing.ID,
	))
	if err != nil {
		return fmt.Errorf("updating environment server: %w", err)
	}
	updated.Credential = srv.Credential
	*srv = updated
	return nil
}
