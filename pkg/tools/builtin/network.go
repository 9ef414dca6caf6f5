package builtin

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/homelab-ops/warden/pkg/tools"
)

// probeBodyLimit caps how much of a response body a probe reports. The
// registry clips tool output again before it reaches the LLM.
const probeBodyLimit = 2048

// HTTPProbe reports status, latency, and a body excerpt for an HTTP(S)
// endpoint. Homelab targets are routinely on private addresses, so unlike a
// public fetcher it applies no address filtering.
func HTTPProbe(client *http.Client) *tools.Tool {
	return &tools.Tool{
		Name:        "http_probe",
		Description: "Probe an HTTP or HTTPS endpoint and report status code, latency, and a short body excerpt.",
		Params: []tools.Param{
			{Name: "url", Type: tools.TypeString, Required: true, Description: "Absolute http:// or https:// URL to probe"},
			{Name: "method", Type: tools.TypeString, Description: "HTTP method, GET or HEAD (default GET)"},
			{Name: "expect_status", Type: tools.TypeNumber, Description: "Fail the probe unless the response carries this status code"},
		},
		Risk:    tools.RiskRead,
		Family:  tools.FamilyNetwork,
		Handler: httpProbeHandler(client),
	}
}

func httpProbeHandler(client *http.Client) tools.Handler {
	return func(ctx context.Context, _ *tools.ExecContext, args map[string]any) (string, error) {
		raw := stringArg(args, "url")
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return "", fmt.Errorf("url must be an absolute http or https URL, got %q", raw)
		}

		method := http.MethodGet
		if m := strings.ToUpper(stringArg(args, "method")); m != "" {
			if m != http.MethodGet && m != http.MethodHead {
				return "", fmt.Errorf("method must be GET or HEAD, got %q", m)
			}
			method = m
		}

		req, err := http.NewRequestWithContext(ctx, method, parsed.String(), nil)
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("probe %s: %w", parsed.Redacted(), err)
		}
		defer resp.Body.Close()

		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, probeBodyLimit))
		elapsed := time.Since(start).Round(time.Millisecond)

		if want, ok := intArg(args, "expect_status"); ok && resp.StatusCode != want {
			return "", fmt.Errorf("%s %s returned %s, expected %d", method, parsed.Redacted(), resp.Status, want)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%s %s -> %s in %s", method, parsed.Redacted(), resp.Status, elapsed)
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			fmt.Fprintf(&b, " (%s)", ct)
		}
		if body := strings.TrimSpace(string(excerpt)); body != "" {
			b.WriteString("\n")
			b.WriteString(body)
		}
		return b.String(), nil
	}
}

// TCPCheck reports whether a TCP port accepts connections.
func TCPCheck() *tools.Tool {
	return &tools.Tool{
		Name:        "tcp_check",
		Description: "Check whether a TCP port accepts connections and measure connect latency.",
		Params: []tools.Param{
			{Name: "host", Type: tools.TypeString, Required: true, Description: "Hostname or IP address to connect to"},
			{Name: "port", Type: tools.TypeNumber, Required: true, Description: "TCP port between 1 and 65535"},
		},
		Risk:    tools.RiskRead,
		Family:  tools.FamilyNetwork,
		Handler: tcpCheckHandler,
	}
}

func tcpCheckHandler(ctx context.Context, _ *tools.ExecContext, args map[string]any) (string, error) {
	host := stringArg(args, "host")
	if host == "" {
		return "", fmt.Errorf("host must not be empty")
	}
	port, ok := intArg(args, "port")
	if !ok || port < 1 || port > 65535 {
		return "", fmt.Errorf("port must be an integer between 1 and 65535")
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var dialer net.Dialer
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("tcp %s: %w", addr, err)
	}
	defer conn.Close()

	return fmt.Sprintf("tcp %s open (connected in %s)", addr, time.Since(start).Round(time.Millisecond)), nil
}

// resolver is the slice of net.Resolver dns_lookup uses.
type resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// DNSLookup resolves names through the given resolver, normally
// net.DefaultResolver.
func DNSLookup(r resolver) *tools.Tool {
	return &tools.Tool{
		Name:        "dns_lookup",
		Description: "Resolve a hostname and report its records.",
		Params: []tools.Param{
			{Name: "host", Type: tools.TypeString, Required: true, Description: "Hostname to resolve"},
			{Name: "type", Type: tools.TypeString, Description: "Record type: ip (default), cname, txt, or mx"},
		},
		Risk:    tools.RiskRead,
		Family:  tools.FamilyNetwork,
		Handler: dnsLookupHandler(r),
	}
}

func dnsLookupHandler(r resolver) tools.Handler {
	return func(ctx context.Context, _ *tools.ExecContext, args map[string]any) (string, error) {
		host := stringArg(args, "host")
		if host == "" {
			return "", fmt.Errorf("host must not be empty")
		}

		kind := strings.ToLower(stringArg(args, "type"))
		if kind == "" {
			kind = "ip"
		}

		switch kind {
		case "ip":
			ips, err := r.LookupIP(ctx, "ip", host)
			if err != nil {
				return "", fmt.Errorf("lookup %s: %w", host, err)
			}
			addrs := make([]string, len(ips))
			for i, ip := range ips {
				addrs[i] = ip.String()
			}
			return fmt.Sprintf("%s resolves to %s", host, strings.Join(addrs, ", ")), nil

		case "cname":
			cname, err := r.LookupCNAME(ctx, host)
			if err != nil {
				return "", fmt.Errorf("lookup cname %s: %w", host, err)
			}
			return fmt.Sprintf("%s is an alias for %s", host, cname), nil

		case "txt":
			records, err := r.LookupTXT(ctx, host)
			if err != nil {
				return "", fmt.Errorf("lookup txt %s: %w", host, err)
			}
			return fmt.Sprintf("TXT records for %s:\n%s", host, strings.Join(records, "\n")), nil

		case "mx":
			records, err := r.LookupMX(ctx, host)
			if err != nil {
				return "", fmt.Errorf("lookup mx %s: %w", host, err)
			}
			lines := make([]string, len(records))
			for i, mx := range records {
				lines[i] = fmt.Sprintf("%d %s", mx.Pref, mx.Host)
			}
			return fmt.Sprintf("MX records for %s:\n%s", host, strings.Join(lines, "\n")), nil

		default:
			return "", fmt.Errorf("type must be one of ip, cname, txt, or mx, got %q", kind)
		}
	}
}
