package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/syn2much/mantis/internal/apperrors"
	"github.com/syn2much/mantis/internal/model"
)

// SaveGeo upserts g, keyed by IP.
func (s *Store) SaveGeo(ctx context.Context, g *model.GeoInfo) error {
	err := s.submitWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO geo_cache (ip, country, country_code, region, city, lat, lon, isp, org, as_number, cached_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(ip) DO UPDATE SET
				country = excluded.country,
				country_code = excluded.country_code,
				region = excluded.region,
				city = excluded.city,
				lat = excluded.lat,
				lon = excluded.lon,
				isp = excluded.isp,
				org = excluded.org,
				as_number = excluded.as_number,
				cached_at = excluded.cached_at
		`, g.IP, g.Country, g.CountryCode, g.Region, g.City, g.Lat, g.Lon, g.ISP, g.Org, g.AS, g.CachedAt)
		return err
	})
	if err != nil {
		return apperrors.NewStorageError("save_geo", err)
	}
	return nil
}

// GetGeo returns the cached GeoInfo for ip, or apperrors.ErrNotFound.
func (s *Store) GetGeo(ctx context.Context, ip string) (*model.GeoInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ip, country, country_code, region, city, lat, lon, isp, org, as_number, cached_at
		FROM geo_cache WHERE ip = ?
	`, ip)
	var g model.GeoInfo
	err := row.Scan(&g.IP, &g.Country, &g.CountryCode, &g.Region, &g.City, &g.Lat, &g.Lon, &g.ISP, &g.Org, &g.AS, &g.CachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.NewStorageError("get_geo", err)
	}
	return &g, nil
}
