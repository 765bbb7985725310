package dashboard

import (
	"net"
	"net/http"
	"os/exec"

	echo "github.com/labstack/echo/v5"
)

// iptablesChain is the chain MANTIS installs its DROP rules into. It must
// already be referenced by the host's INPUT chain (operator setup, not
// MANTIS's job) for blocking to take effect.
const iptablesChain = "MANTIS-BLOCK"

// blockRequest is the body of both POST /api/firewall/block and /unblock.
type blockRequest struct {
	IP string `json:"ip"`
}

func (s *Server) firewallBlockedHandler(c *echo.Context) error {
	s.fwMu.Lock()
	ips := make([]string, 0, len(s.blocked))
	for ip := range s.blocked {
		ips = append(ips, ip)
	}
	s.fwMu.Unlock()
	return c.JSON(http.StatusOK, map[string]any{
		"blocked":            ips,
		"iptables_available": iptablesAvailable(),
	})
}

func (s *Server) firewallBlockHandler(c *echo.Context) error {
	var req blockRequest
	if err := c.Bind(&req); err != nil || net.ParseIP(req.IP) == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid ip")
	}

	if err := runIPTables("-I", iptablesChain, "-s", req.IP, "-j", "DROP"); err != nil {
		s.logger.Warn("firewall block failed, recording anyway", "ip", req.IP, "error", err)
	}

	s.fwMu.Lock()
	s.blocked[req.IP] = struct{}{}
	s.fwMu.Unlock()

	s.Broadcast("ip_blocked", map[string]string{"ip": req.IP})
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) firewallUnblockHandler(c *echo.Context) error {
	var req blockRequest
	if err := c.Bind(&req); err != nil || net.ParseIP(req.IP) == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid ip")
	}

	if err := runIPTables("-D", iptablesChain, "-s", req.IP, "-j", "DROP"); err != nil {
		s.logger.Warn("firewall unblock failed, recording anyway", "ip", req.IP, "error", err)
	}

	s.fwMu.Lock()
	delete(s.blocked, req.IP)
	s.fwMu.Unlock()

	s.Broadcast("ip_unblocked", map[string]string{"ip": req.IP})
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// runIPTables is a best-effort shell-out: a honeypot host may not run
// iptables at all (container deployments often rely on an external
// firewall), so failures here are logged, not fatal.
func runIPTables(args ...string) error {
	path, err := exec.LookPath("iptables")
	if err != nil {
		return err
	}
	return exec.Command(path, append([]string{"-w"}, args...)...).Run()
}

func iptablesAvailable() bool {
	_, err := exec.LookPath("iptables")
	return err == nil
}
