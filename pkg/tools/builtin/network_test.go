package builtin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-ops/warden/pkg/tools"
)

func TestHTTPProbeReportsStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(HTTPProbe(srv.Client())))

	res := reg.Invoke(context.Background(), testExecContext(), "http_probe",
		map[string]any{"url": srv.URL})

	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, "GET "+srv.URL)
	assert.Contains(t, res.Content, "200 OK")
	assert.Contains(t, res.Content, "application/json")
	assert.Contains(t, res.Content, `{"status":"ok"}`)
}

func TestHTTPProbeHeadSendsNoBodyRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
	}))
	defer srv.Close()

	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(HTTPProbe(srv.Client())))

	res := reg.Invoke(context.Background(), testExecContext(), "http_probe",
		map[string]any{"url": srv.URL, "method": "head"})

	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, "HEAD")
}

func TestHTTPProbeExpectStatusMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(HTTPProbe(srv.Client())))

	res := reg.Invoke(context.Background(), testExecContext(), "http_probe",
		map[string]any{"url": srv.URL, "expect_status": float64(200)})

	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "503")
	assert.Contains(t, res.Content, "expected 200")
}

func TestHTTPProbeRejectsRelativeURL(t *testing.T) {
	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(HTTPProbe(http.DefaultClient)))

	res := reg.Invoke(context.Background(), testExecContext(), "http_probe",
		map[string]any{"url": "nas.local/health"})

	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "absolute http or https URL")
}

func TestHTTPProbeRejectsMutatingMethod(t *testing.T) {
	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(HTTPProbe(http.DefaultClient)))

	res := reg.Invoke(context.Background(), testExecContext(), "http_probe",
		map[string]any{"url": "http://nas.local/health", "method": "DELETE"})

	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "GET or HEAD")
}

func TestHTTPProbeConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(HTTPProbe(http.DefaultClient)))

	res := reg.Invoke(context.Background(), testExecContext(), "http_probe",
		map[string]any{"url": url})

	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "probe")
}

func TestTCPCheckOpenPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(TCPCheck()))

	res := reg.Invoke(context.Background(), testExecContext(), "tcp_check",
		map[string]any{"host": "127.0.0.1", "port": float64(port)})

	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, "open")
	assert.Contains(t, res.Content, "127.0.0.1")
}

func TestTCPCheckClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(TCPCheck()))

	res := reg.Invoke(context.Background(), testExecContext(), "tcp_check",
		map[string]any{"host": "127.0.0.1", "port": float64(port)})

	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "tcp")
}

func TestTCPCheckRejectsBadPort(t *testing.T) {
	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(TCPCheck()))

	for _, port := range []float64{0, -1, 70000} {
		res := reg.Invoke(context.Background(), testExecContext(), "tcp_check",
			map[string]any{"host": "127.0.0.1", "port": port})
		require.True(t, res.IsError)
		assert.Contains(t, res.Content, "between 1 and 65535")
	}
}

type fakeResolver struct {
	ips   []net.IP
	cname string
	txt   []string
	mx    []*net.MX
	err   error
}

func (f *fakeResolver) LookupIP(context.Context, string, string) ([]net.IP, error) {
	return f.ips, f.err
}

func (f *fakeResolver) LookupCNAME(context.Context, string) (string, error) {
	return f.cname, f.err
}

func (f *fakeResolver) LookupTXT(context.Context, string) ([]string, error) {
	return f.txt, f.err
}

func (f *fakeResolver) LookupMX(context.Context, string) ([]*net.MX, error) {
	return f.mx, f.err
}

func TestDNSLookupDefaultsToIP(t *testing.T) {
	r := &fakeResolver{ips: []net.IP{net.ParseIP("192.168.1.10"), net.ParseIP("fd00::10")}}
	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(DNSLookup(r)))

	res := reg.Invoke(context.Background(), testExecContext(), "dns_lookup",
		map[string]any{"host": "nas.local"})

	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, "nas.local resolves to 192.168.1.10, fd00::10")
}

func TestDNSLookupRecordTypes(t *testing.T) {
	r := &fakeResolver{
		cname: "monitoring.local.",
		txt:   []string{"v=spf1 -all"},
		mx:    []*net.MX{{Host: "mail.local.", Pref: 10}},
	}
	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(DNSLookup(r)))

	tests := []struct {
		kind string
		want string
	}{
		{"cname", "alias for monitoring.local."},
		{"txt", "v=spf1 -all"},
		{"mx", "10 mail.local."},
	}
	for _, tc := range tests {
		t.Run(tc.kind, func(t *testing.T) {
			res := reg.Invoke(context.Background(), testExecContext(), "dns_lookup",
				map[string]any{"host": "grafana.local", "type": tc.kind})
			require.False(t, res.IsError, res.Content)
			assert.Contains(t, res.Content, tc.want)
		})
	}
}

func TestDNSLookupRejectsUnknownType(t *testing.T) {
	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(DNSLookup(&fakeResolver{})))

	res := reg.Invoke(context.Background(), testExecContext(), "dns_lookup",
		map[string]any{"host": "nas.local", "type": "srv"})

	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "ip, cname, txt, or mx")
}

func TestDNSLookupResolverError(t *testing.T) {
	r := &fakeResolver{err: errors.New("no such host")}
	reg := tools.NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Register(DNSLookup(r)))

	res := reg.Invoke(context.Background(), testExecContext(), "dns_lookup",
		map[string]any{"host": "gone.local"})

	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "no such host")
}
