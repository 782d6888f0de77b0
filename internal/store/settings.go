package store

// Settings returns the persisted key/value configuration (model name and
// prompt variants).
func (db *DB) Settings() (map[string]string, error) {
	rows, err := db.Query(`SELECT key, COALESCE(value,'') FROM settings`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// PutSetting upserts one setting.
func (db *DB) PutSetting(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
