package storage

import (
	"context"
	"time"

	"github.com/syn2much/mantis/internal/apperrors"
)

// Stats is the shape returned by GetStats: headline totals plus the
// breakdowns the dashboard's overview panel renders.
type Stats struct {
	TotalSessions    int            `json:"total_sessions"`
	TotalEvents      int            `json:"total_events"`
	TotalAlerts      int            `json:"total_alerts"`
	EventsByService  map[string]int `json:"events_by_service"`
	EventsByType     map[string]int `json:"events_by_type"`
	TopIPs           []IPCount      `json:"top_ips"`
}

// IPCount pairs a source IP with an event count.
type IPCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// GetStats computes totals, per-service and per-kind event breakdowns,
// and the top 10 most active source IPs.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		EventsByService: make(map[string]int),
		EventsByType:    make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&st.TotalSessions); err != nil {
		return nil, apperrors.NewStorageError("get_stats: sessions", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&st.TotalEvents); err != nil {
		return nil, apperrors.NewStorageError("get_stats: events", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&st.TotalAlerts); err != nil {
		return nil, apperrors.NewStorageError("get_stats: alerts", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT service, COUNT(*) FROM events GROUP BY service`)
	if err != nil {
		return nil, apperrors.NewStorageError("get_stats: events_by_service", err)
	}
	for rows.Next() {
		var svc string
		var n int
		if err := rows.Scan(&svc, &n); err != nil {
			rows.Close()
			return nil, apperrors.NewStorageError("get_stats: events_by_service scan", err)
		}
		st.EventsByService[svc] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("get_stats: events_by_service iterate", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, apperrors.NewStorageError("get_stats: events_by_type", err)
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return nil, apperrors.NewStorageError("get_stats: events_by_type scan", err)
		}
		st.EventsByType[kind] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("get_stats: events_by_type iterate", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT src_ip, COUNT(*) AS c FROM events GROUP BY src_ip ORDER BY c DESC LIMIT 10
	`)
	if err != nil {
		return nil, apperrors.NewStorageError("get_stats: top_ips", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ipc IPCount
		if err := rows.Scan(&ipc.IP, &ipc.Count); err != nil {
			return nil, apperrors.NewStorageError("get_stats: top_ips scan", err)
		}
		st.TopIPs = append(st.TopIPs, ipc)
	}
	return st, rows.Err()
}

// MapPoint is one aggregated row of GetMapData.
type MapPoint struct {
	IP           string  `json:"ip"`
	Country      string  `json:"country"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	EventCount   int     `json:"event_count"`
	SessionCount int     `json:"session_count"`
	Services     string  `json:"services"`
}

// GetMapData joins geo_cache against events, grouped by IP, for the
// dashboard's world map. Rows whose geo resolution is (0,0) (unresolved
// or private-network placeholder) are excluded.
func (s *Store) GetMapData(ctx context.Context) ([]*MapPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			e.src_ip,
			g.country,
			g.lat,
			g.lon,
			COUNT(*) AS event_count,
			COUNT(DISTINCT e.session_id) AS session_count,
			GROUP_CONCAT(DISTINCT e.service) AS services
		FROM events e
		JOIN geo_cache g ON g.ip = e.src_ip
		WHERE NOT (g.lat = 0 AND g.lon = 0)
		GROUP BY e.src_ip, g.country, g.lat, g.lon
	`)
	if err != nil {
		return nil, apperrors.NewStorageError("get_map_data", err)
	}
	defer rows.Close()

	var out []*MapPoint
	for rows.Next() {
		var p MapPoint
		if err := rows.Scan(&p.IP, &p.Country, &p.Lat, &p.Lon, &p.EventCount, &p.SessionCount, &p.Services); err != nil {
			return nil, apperrors.NewStorageError("get_map_data: scan", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// Attacker is one aggregated row of GetAttackers.
type Attacker struct {
	IP            string    `json:"ip"`
	EventCount    int       `json:"event_count"`
	SessionCount  int       `json:"session_count"`
	ServiceCount  int       `json:"service_count"`
	AuthAttempts  int       `json:"auth_attempts"`
	Commands      int       `json:"commands"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	Country       string    `json:"country"`
	CountryCode   string    `json:"country_code"`
	City          string    `json:"city"`
	ISP           string    `json:"isp"`
}

// GetAttackers returns the per-IP aggregation behind the dashboard's
// attackers table, ordered by most recently seen.
func (s *Store) GetAttackers(ctx context.Context, limit, offset int) ([]*Attacker, error) {
	query := `
		SELECT
			e.src_ip,
			COUNT(*) AS event_count,
			COUNT(DISTINCT e.session_id) AS session_count,
			COUNT(DISTINCT e.service) AS service_count,
			SUM(CASE WHEN e.kind = 'auth_attempt' THEN 1 ELSE 0 END) AS auth_attempts,
			SUM(CASE WHEN e.kind = 'command' THEN 1 ELSE 0 END) AS commands,
			MIN(e.timestamp) AS first_seen,
			MAX(e.timestamp) AS last_seen,
			g.country, g.country_code, g.city, g.isp
		FROM events e
		LEFT JOIN geo_cache g ON g.ip = e.src_ip
		GROUP BY e.src_ip, g.country, g.country_code, g.city, g.isp
		ORDER BY last_seen DESC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStorageError("get_attackers", err)
	}
	defer rows.Close()

	var out []*Attacker
	for rows.Next() {
		var a Attacker
		var country, countryCode, city, isp *string
		if err := rows.Scan(&a.IP, &a.EventCount, &a.SessionCount, &a.ServiceCount,
			&a.AuthAttempts, &a.Commands, &a.FirstSeen, &a.LastSeen,
			&country, &countryCode, &city, &isp); err != nil {
			return nil, apperrors.NewStorageError("get_attackers: scan", err)
		}
		if country != nil {
			a.Country = *country
		}
		if countryCode != nil {
			a.CountryCode = *countryCode
		}
		if city != nil {
			a.City = *city
		}
		if isp != nil {
			a.ISP = *isp
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
