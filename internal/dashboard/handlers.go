package dashboard

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/syn2much/mantis/internal/apperrors"
	"github.com/syn2much/mantis/internal/model"
	"github.com/syn2much/mantis/internal/storage"
)

func (s *Server) indexHandler(c *echo.Context) error {
	b, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "index asset missing")
	}
	return c.Blob(http.StatusOK, "text/html; charset=utf-8", b)
}

func (s *Server) loginHandler(c *echo.Context) error {
	b, err := staticFS.ReadFile("static/login.html")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "login asset missing")
	}
	return c.Blob(http.StatusOK, "text/html; charset=utf-8", b)
}

// authRequest is the POST /api/auth body: a single shared token, not a
// username/password pair, matching spec §4.7's single-operator posture.
type authRequest struct {
	Token string `json:"token"`
}

func (s *Server) authHandler(c *echo.Context) error {
	var req authRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if s.authToken == "" || req.Token != s.authToken {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	c.SetCookie(&http.Cookie{
		Name:     authCookieName,
		Value:    req.Token,
		Path:     "/",
		MaxAge:   int((7 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) statsHandler(c *echo.Context) error {
	stats, err := s.store.GetStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) eventsHandler(c *echo.Context) error {
	f := storage.GetEventsFilter{
		Limit:     queryInt(c, "limit", 100),
		Offset:    queryInt(c, "offset", 0),
		Service:   c.QueryParam("service"),
		Type:      model.EventKind(c.QueryParam("type")),
		SrcIP:     c.QueryParam("src_ip"),
		Search:    c.QueryParam("search"),
		Paginated: c.QueryParam("paginated") != "false",
	}
	if raw := c.QueryParam("services"); raw != "" {
		f.Services = strings.Split(raw, ",")
	}
	if raw := c.QueryParam("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			f.Types = append(f.Types, model.EventKind(t))
		}
	}
	if from, err := time.Parse(time.RFC3339, c.QueryParam("time_from")); err == nil {
		f.TimeFrom = &from
	}
	if to, err := time.Parse(time.RFC3339, c.QueryParam("time_to")); err == nil {
		f.TimeTo = &to
	}
	res, err := s.store.GetEvents(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) sessionsHandler(c *echo.Context) error {
	f := storage.GetSessionsFilter{
		Limit:   queryInt(c, "limit", 100),
		Offset:  queryInt(c, "offset", 0),
		Service: c.QueryParam("service"),
		SrcIP:   c.QueryParam("src_ip"),
	}
	sessions, err := s.store.GetSessions(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) sessionEventsHandler(c *echo.Context) error {
	events, err := s.store.GetEventsForSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) alertsHandler(c *echo.Context) error {
	f := storage.GetAlertsFilter{
		Limit:              queryInt(c, "limit", 100),
		UnacknowledgedOnly: c.QueryParam("unacknowledged") == "true",
	}
	alerts, err := s.store.GetAlerts(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, alerts)
}

func (s *Server) ackAlertHandler(c *echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid alert id")
	}
	if err := s.store.AcknowledgeAlert(c.Request().Context(), id); err != nil {
		if apperrors.IsNotFound(err) {
			return echo.NewHTTPError(http.StatusNotFound, "alert not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) geoHandler(c *echo.Context) error {
	info, err := s.geoLocator.Resolve(c.Request().Context(), c.Param("ip"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) mapHandler(c *echo.Context) error {
	points, err := s.store.GetMapData(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, points)
}

func (s *Server) ipsHandler(c *echo.Context) error {
	ips, err := s.store.GetUniqueIPs(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ips)
}

func (s *Server) attackersHandler(c *echo.Context) error {
	attackers, err := s.store.GetAttackers(c.Request().Context(), queryInt(c, "limit", 100), queryInt(c, "offset", 0))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, attackers)
}

func (s *Server) exportHandler(c *echo.Context) error {
	table := c.QueryParam("table")
	if !storage.IsExportable(table) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown or non-exportable table")
	}
	rows, err := s.store.ExportTable(c.Request().Context(), table)
	if err != nil {
		return err
	}

	format := c.QueryParam("format")
	if format == "csv" {
		return writeCSV(c, table, rows)
	}
	return c.JSON(http.StatusOK, rows)
}

// writeCSV renders rows as a downloadable CSV using encoding/csv: no
// third-party CSV library appears anywhere in the example pack, so this
// one corner of the dashboard is justified as a standard-library piece.
func writeCSV(c *echo.Context, table string, rows []map[string]any) error {
	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, table))
	c.Response().WriteHeader(http.StatusOK)

	w := csv.NewWriter(c.Response())
	if len(rows) == 0 {
		return w.Error()
	}

	header := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		header = append(header, k)
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := make([]string, len(header))
		for i, k := range header {
			record[i] = fmt.Sprint(row[k])
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (s *Server) getConfigHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.Config())
}

func (s *Server) putConfigHandler(c *echo.Context) error {
	name := c.Param("name")
	var patch struct {
		Enabled bool           `json:"enabled"`
		Port    int            `json:"port"`
		Banner  string         `json:"banner"`
		Extra   map[string]any `json:"extra"`
	}
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cfg := s.orch.Config()
	svcCfg, ok := cfg.Services[name]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown service")
	}
	svcCfg.Enabled = patch.Enabled
	if patch.Port != 0 {
		svcCfg.Port = patch.Port
	}
	if patch.Banner != "" {
		svcCfg.Banner = patch.Banner
	}
	if patch.Extra != nil {
		svcCfg.Extra = patch.Extra
	}

	if err := s.orch.UpdateServiceConfig(c.Request().Context(), name, svcCfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, svcCfg)
}

func (s *Server) resetHandler(c *echo.Context) error {
	if err := s.store.ResetDatabase(c.Request().Context()); err != nil {
		return err
	}
	if s.orch != nil {
		s.orch.ResetStatefulRules()
	}
	s.Broadcast("database_reset", map[string]string{"at": time.Now().UTC().Format(time.RFC3339)})
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func queryInt(c *echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
