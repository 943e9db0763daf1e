package store

import (
	"database/sql"
	"strconv"

	"github.com/crewhall/skilltest/internal/model"
)

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// GetImportedFileHash returns the recorded content hash for a template file
// path, or empty string if the file was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	return s.GetMetadata("import:" + path)
}

// SetImportedFileHash records the content hash of an imported template file.
func (s *Store) SetImportedFileHash(path, hash string) error {
	return s.SetMetadata("import:"+path, hash)
}

// SetEventInfo stores all EventInfo fields as metadata rows.
func (s *Store) SetEventInfo(info model.EventInfo) error {
	pairs := []struct{ k, v string }{
		{"event_id", info.EventID},
		{"station", info.Station},
		{"date", info.Date},
		{"num_tests", strconv.Itoa(info.NumTests)},
	}
	for _, p := range pairs {
		if err := s.SetMetadata(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// GetEventInfo reads all EventInfo fields from metadata.
func (s *Store) GetEventInfo() (model.EventInfo, error) {
	var info model.EventInfo
	var err error

	if info.EventID, err = s.GetMetadata("event_id"); err != nil {
		return info, err
	}
	if info.Station, err = s.GetMetadata("station"); err != nil {
		return info, err
	}
	if info.Date, err = s.GetMetadata("date"); err != nil {
		return info, err
	}
	num, err := s.GetMetadata("num_tests")
	if err != nil {
		return info, err
	}
	if num != "" {
		if info.NumTests, err = strconv.Atoi(num); err != nil {
			return info, err
		}
	}
	return info, nil
}
