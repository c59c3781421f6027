package database

import "context"

// ConfigValue reads one key from the config table. Reads are cached unless
// bypassCache is set; a missing key reports ok=false.
func (d *DB) ConfigValue(ctx context.Context, name string, bypassCache bool) (string, bool, error) {
	if !bypassCache {
		d.cacheMu.Lock()
		v, ok := d.configCache[name]
		d.cacheMu.Unlock()
		if ok {
			return v, true, nil
		}
	}

	q := "SELECT " + d.quote("value") + " FROM " + d.quoteTable(ConfigTable) + " WHERE " + d.quote("name") + " = ?"
	values, err := d.queryStrings(ctx, q, name)
	if err != nil {
		return "", false, wrap("read config", ConfigTable, err)
	}
	if len(values) == 0 {
		d.cacheMu.Lock()
		delete(d.configCache, name)
		d.cacheMu.Unlock()
		return "", false, nil
	}

	d.cacheMu.Lock()
	d.configCache[name] = values[0]
	d.cacheMu.Unlock()
	return values[0], true, nil
}

// SetConfigValue writes one key to the config table, inserting it if absent.
func (d *DB) SetConfigValue(ctx context.Context, name, value string) error {
	_, exists, err := d.ConfigValue(ctx, name, true)
	if err != nil {
		return err
	}

	table := d.quoteTable(ConfigTable)
	stmt := "INSERT INTO " + table + " (" + d.quote("value") + ", " + d.quote("name") + ") VALUES (?, ?)"
	if exists {
		stmt = "UPDATE " + table + " SET " + d.quote("value") + " = ? WHERE " + d.quote("name") + " = ?"
	}
	if err := d.GormDB.WithContext(ctx).Exec(stmt, value, name).Error; err != nil {
		return wrap("write config", ConfigTable, err)
	}

	d.cacheMu.Lock()
	d.configCache[name] = value
	d.cacheMu.Unlock()
	return nil
}

// PurgeConfigCache drops every cached config read.
func (d *DB) PurgeConfigCache() {
	d.cacheMu.Lock()
	d.configCache = make(map[string]string)
	d.cacheMu.Unlock()
}
